// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/cmd/swarm/cli"
	"github.com/bureau-foundation/swarm/lib/fleetapi"
	"github.com/bureau-foundation/swarm/lib/sizing"
)

type sizeResult struct {
	Host       string  `json:"host,omitempty"`
	Max        float64 `json:"max_capacity"`
	Reserve    float64 `json:"reserve"`
	Available  float64 `json:"available"`
	ThreadCost float64 `json:"thread_cost"`
	Threads    int     `json:"threads"`
	Waste      float64 `json:"waste"`
}

func sizeCommand(stdout io.Writer) *cli.Command {
	var (
		daemon     daemonFlags
		host       string
		program    string
		threadCost float64
		reserve    float64
		capacity   float64
		asJSON     bool
	)
	return &cli.Command{
		Name:    "size",
		Summary: "Compute how many worker threads fit on a host",
		Description: "Compute floor((capacity - reserve) / thread cost). With --capacity the\n" +
			"numbers are given directly; with --host the daemon reads the host's\n" +
			"current maximum capacity.",
		Examples: []cli.Example{
			{Description: "Offline arithmetic", Command: "swarm size --capacity 64 --reserve 8 --thread-cost 1.75"},
			{Description: "Ask the daemon about a live host", Command: "swarm size --host rented-0 --program swarm-worker"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("size", pflag.ContinueOnError)
			daemon.bind(flags)
			flags.StringVar(&host, "host", "", "host to size through the daemon")
			flags.StringVar(&program, "program", "", "take the thread cost from fleet.thread_costs")
			flags.Float64Var(&threadCost, "thread-cost", 0, "capacity consumed per thread")
			flags.Float64Var(&reserve, "reserve", 0, "capacity to leave unused")
			flags.Float64Var(&capacity, "capacity", 0, "maximum capacity (offline mode)")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if err := noArguments(args); err != nil {
				return err
			}
			if (host == "") == (capacity == 0) {
				return errors.New("exactly one of --host or --capacity is required")
			}
			if threadCost == 0 && program != "" {
				cfg, err := daemon.load(false)
				if err != nil {
					return err
				}
				threadCost = cfg.Fleet.ThreadCosts[program]
				if threadCost == 0 {
					return fmt.Errorf("fleet.thread_costs has no entry for %q", program)
				}
			}
			if threadCost <= 0 {
				return errors.New("--thread-cost (or --program) is required and must be positive")
			}

			result := sizeResult{Max: capacity, Reserve: reserve, ThreadCost: threadCost}
			if host != "" {
				client, err := daemon.client()
				if err != nil {
					return err
				}
				ctx, cancel := daemon.context()
				defer cancel()
				response, err := client.Size(ctx, fleetapi.SizeRequest{Host: host, ThreadCost: threadCost, Reserve: reserve})
				if err != nil {
					return err
				}
				result.Host = response.Host
				result.Max = response.Capacity.Max
				result.Available = response.Available
				result.Threads = response.Threads
				result.Waste = response.Waste
			} else {
				result.Available = sizing.Available(capacity, reserve)
				result.Threads = sizing.Threads(result.Available, threadCost)
				result.Waste = sizing.Waste(result.Available, threadCost)
			}

			if asJSON {
				return cli.WriteJSON(stdout, result)
			}
			label := result.Host
			if label == "" {
				label = "capacity " + formatCapacity(result.Max)
			}
			_, err := fmt.Fprintf(stdout, "%s: %d threads at %s each (available %s of %s, waste %s)\n",
				label, result.Threads, formatCapacity(threadCost),
				formatCapacity(result.Available), formatCapacity(result.Max), formatCapacity(result.Waste))
			return err
		},
	}
}
