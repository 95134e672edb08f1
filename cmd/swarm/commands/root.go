// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands is the command tree of the swarm CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/cmd/swarm/cli"
	"github.com/bureau-foundation/swarm/lib/config"
	"github.com/bureau-foundation/swarm/lib/fleetapi"
)

// Root returns the swarm command tree writing results to stdout.
func Root(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "swarm",
		Summary: "Operate a worker fleet",
		Description: "Operate a worker fleet: map the hosts reachable from the root node, size\n" +
			"workers to host capacity, schedule timed batches, and inspect the fleet daemon.",
		Subcommands: []*cli.Command{
			discoverCommand(stdout),
			sizeCommand(stdout),
			batchCommand(stdout),
			statusCommand(stdout),
			hostsCommand(stdout),
			deploymentsCommand(stdout),
			versionCommand(stdout),
		},
	}
}

// configFlag is the --config flag shared by every command that reads
// the fleet configuration.
type configFlag struct {
	path string
}

func (f *configFlag) bind(flags *pflag.FlagSet) {
	flags.StringVar(&f.path, "config", "", "path to swarm.yaml (default: $"+config.EnvVar+")")
}

// load reads and validates the configuration. With fallback, a missing
// $SWARM_CONFIG yields the defaults instead of an error.
func (f *configFlag) load(fallback bool) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.path != "" {
		cfg, err = config.LoadFile(f.path)
	} else {
		cfg, err = config.Load()
		if fallback && errors.Is(err, config.ErrNoConfig) {
			return config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// daemonFlags select and bound the connection to swarm-fleetd.
type daemonFlags struct {
	configFlag
	socket  string
	timeout time.Duration
}

func (f *daemonFlags) bind(flags *pflag.FlagSet) {
	f.configFlag.bind(flags)
	flags.StringVar(&f.socket, "socket", "", "fleet daemon socket (default: the configured socket)")
	flags.DurationVar(&f.timeout, "timeout", 30*time.Second, "how long to wait for the daemon")
}

func (f *daemonFlags) client() (*fleetapi.Client, error) {
	if f.socket != "" {
		return fleetapi.NewClient(f.socket), nil
	}
	cfg, err := f.load(true)
	if err != nil {
		return nil, err
	}
	return fleetapi.NewClient(cfg.Socket), nil
}

func (f *daemonFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.timeout)
}

// noArguments rejects positional arguments for commands that take none.
func noArguments(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument %q", args[0])
	}
	return nil
}
