// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/cmd/swarm/cli"
	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/discovery"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/fleetenv"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

const discoverTimeout = time.Minute

// discoveredHost is one row of "swarm discover".
type discoveredHost struct {
	Host      string   `json:"host"`
	Pool      string   `json:"pool"`
	Class     string   `json:"class"`
	Max       float64  `json:"max_capacity"`
	Used      float64  `json:"used_capacity"`
	Root      bool     `json:"root_access"`
	Route     []string `json:"route"`
	ReadError string   `json:"read_error,omitempty"`
}

func discoverCommand(stdout io.Writer) *cli.Command {
	var (
		configuration configFlag
		root          string
		asJSON        bool
		verbose       bool
	)
	return &cli.Command{
		Name:    "discover",
		Summary: "List every host reachable from the root and its pool",
		Description: "Walk the reachability graph from the root node using the configured\n" +
			"backend and topology, read each host's capacity and root access, and\n" +
			"classify it into the home, rented, unowned, or ineligible pool.",
		Examples: []cli.Example{
			{Description: "Map the simulated fleet in swarm.yaml", Command: "swarm discover --config swarm.yaml"},
			{Description: "Start from another node", Command: "swarm discover --root n00dles --json"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("discover", pflag.ContinueOnError)
			configuration.bind(flags)
			flags.StringVar(&root, "root", "", "node to start from (default: fleet.root)")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			flags.BoolVarP(&verbose, "verbose", "v", false, "log backend activity to stderr")
			return flags
		},
		Run: func(args []string) error {
			if err := noArguments(args); err != nil {
				return err
			}
			cfg, err := configuration.load(false)
			if err != nil {
				return err
			}
			if root == "" {
				root = cfg.Fleet.Root
			}
			logger := cli.NewCommandLogger(verbose).With("command", "discover")
			backend, err := fleetenv.Build(cfg, clock.Real(), logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
			defer cancel()
			hosts, err := discoverHosts(ctx, backend.Env, root, cfg.Home(), classify.Rules{MinCapacity: cfg.Fleet.MinCapacity})
			if err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(stdout, hosts)
			}
			return renderHosts(stdout, hosts)
		},
	}
}

// discoverHosts snapshots the graph reachable from root and observes
// every host in it. A host whose attributes cannot be read is listed
// as ineligible with its error.
func discoverHosts(ctx context.Context, env environment.Environment, root, home string, rules classify.Rules) ([]discoveredHost, error) {
	graph, err := discovery.Snapshot(ctx, env, root)
	if err != nil {
		return nil, err
	}
	rented, err := env.RentedHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rented hosts: %w", err)
	}

	var hosts []discoveredHost
	for _, id := range graph.Nodes(root) {
		node := fleet.Node{ID: id, Class: classify.Ownership(id, home, rented)}
		route, _ := discovery.Path(root, id, graph.Neighbors)
		host := discoveredHost{Host: id, Class: node.Class.String(), Route: route}

		capacity, err := env.Capacity(ctx, id)
		if err == nil {
			node.RootAccess, err = env.HasRootAccess(ctx, id)
		}
		if err != nil {
			host.Pool = classify.Ineligible.String()
			host.ReadError = err.Error()
			hosts = append(hosts, host)
			continue
		}
		node.Capacity = capacity
		host.Pool = classify.Classify(node, rules).String()
		host.Max = capacity.Max
		host.Used = capacity.Used
		host.Root = node.RootAccess
		hosts = append(hosts, host)
	}
	return hosts, nil
}

func renderHosts(w io.Writer, hosts []discoveredHost) error {
	table := cli.NewTable(w, "HOST", "POOL", "MAX", "USED", "ROOT", "ROUTE")
	for _, host := range hosts {
		if host.ReadError != "" {
			table.Row(host.Host, table.Color(host.Pool, cli.ColorDimmed), "", "", "", table.Color(host.ReadError, cli.ColorBad))
			continue
		}
		table.Row(
			host.Host,
			colorPool(table, host.Pool),
			formatCapacity(host.Max),
			formatCapacity(host.Used),
			strconv.FormatBool(host.Root),
			strings.Join(host.Route, " > "),
		)
	}
	return table.Render(w)
}

func colorPool(table *cli.Table, pool string) string {
	switch pool {
	case classify.Home.String():
		return table.Color(pool, cli.ColorGood)
	case classify.Rented.String():
		return table.Color(pool, cli.ColorInfo)
	case classify.Unowned.String():
		return table.Color(pool, cli.ColorWarn)
	default:
		return table.Color(pool, cli.ColorDimmed)
	}
}

func formatCapacity(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
