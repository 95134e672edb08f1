// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/cmd/swarm/cli"
	"github.com/bureau-foundation/swarm/lib/fleetapi"
	"github.com/bureau-foundation/swarm/lib/reconcile"
)

type reconcilerRow struct {
	Name        string        `json:"name"`
	Scope       string        `json:"scope"`
	Program     string        `json:"program"`
	Target      string        `json:"target"`
	Mode        string        `json:"mode"`
	Deployments int           `json:"deployments"`
	LastTick    uint64        `json:"last_tick"`
	Finished    time.Time     `json:"finished,omitzero"`
	Took        time.Duration `json:"took_ns"`
	Launches    int           `json:"launches"`
	Kills       int           `json:"kills"`
	Failed      int           `json:"failed"`
	FailedHosts []string      `json:"failed_hosts,omitempty"`
}

type statusResult struct {
	Backend     string          `json:"backend"`
	Uptime      time.Duration   `json:"uptime_ns"`
	Reconcilers []reconcilerRow `json:"reconcilers"`
}

func statusCommand(stdout io.Writer) *cli.Command {
	var (
		daemon daemonFlags
		asJSON bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show the fleet daemon's reconcilers and their last tick",
		Description: "Show each reconciler variant and the outcome of its last tick. Exits 2\n" +
			"when any reconciler's last tick had host failures.",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
			daemon.bind(flags)
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if err := noArguments(args); err != nil {
				return err
			}
			client, err := daemon.client()
			if err != nil {
				return err
			}
			ctx, cancel := daemon.context()
			defer cancel()
			response, err := client.Status(ctx)
			if err != nil {
				return err
			}

			result := statusResult{Backend: response.Backend, Uptime: response.Uptime}
			failing := false
			for _, r := range response.Reconcilers {
				result.Reconcilers = append(result.Reconcilers, reconcilerStatusRow(r))
				failing = failing || r.LastTick.Failed > 0
			}
			if asJSON {
				err = cli.WriteJSON(stdout, result)
			} else {
				err = renderStatus(stdout, result)
			}
			if err != nil {
				return err
			}
			if failing {
				return &cli.ExitError{Code: 2}
			}
			return nil
		},
	}
}

func reconcilerStatusRow(r fleetapi.ReconcilerStatus) reconcilerRow {
	tick := r.LastTick
	return reconcilerRow{
		Name:        r.Name,
		Scope:       r.Scope,
		Program:     r.Program,
		Target:      r.Target,
		Mode:        r.Mode,
		Deployments: r.Deployments,
		LastTick:    tick.Sequence,
		Finished:    tick.Finished,
		Took:        tick.Finished.Sub(tick.Started),
		Launches:    tick.Launches,
		Kills:       tick.Kills,
		Failed:      tick.Failed,
		FailedHosts: failedHosts(tick),
	}
}

func renderStatus(w io.Writer, result statusResult) error {
	if _, err := fmt.Fprintf(w, "backend %s, up %s\n\n", result.Backend, result.Uptime.Round(time.Second)); err != nil {
		return err
	}
	table := cli.NewTable(w, "RECONCILER", "SCOPE", "TARGET", "MODE", "DEPLOYED", "TICK", "LAUNCHED", "KILLED", "FAILED")
	for _, row := range result.Reconcilers {
		tick, failed := "-", strconv.Itoa(row.Failed)
		if row.LastTick > 0 {
			tick = fmt.Sprintf("#%d (%s)", row.LastTick, row.Took.Round(time.Millisecond))
		}
		if row.Failed > 0 {
			failed = table.Color(failed, cli.ColorBad)
		}
		table.Row(
			row.Name,
			row.Scope,
			row.Target,
			row.Mode,
			strconv.Itoa(row.Deployments),
			tick,
			strconv.Itoa(row.Launches),
			strconv.Itoa(row.Kills),
			failed,
		)
	}
	if err := table.Render(w); err != nil {
		return err
	}
	for _, row := range result.Reconcilers {
		if len(row.FailedHosts) > 0 {
			if _, err := fmt.Fprintf(w, "%s failed on: %s\n", row.Name, strings.Join(row.FailedHosts, ", ")); err != nil {
				return err
			}
		}
	}
	return nil
}

type hostRow struct {
	Host      string  `json:"host"`
	Pool      string  `json:"pool"`
	Max       float64 `json:"max_capacity"`
	Used      float64 `json:"used_capacity"`
	Root      bool    `json:"root_access"`
	ManagedBy string  `json:"managed_by,omitempty"`
	ReadError string  `json:"read_error,omitempty"`
}

func hostsCommand(stdout io.Writer) *cli.Command {
	var (
		daemon daemonFlags
		asJSON bool
	)
	return &cli.Command{
		Name:    "hosts",
		Summary: "List the hosts the daemon discovered and who manages them",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("hosts", pflag.ContinueOnError)
			daemon.bind(flags)
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if err := noArguments(args); err != nil {
				return err
			}
			client, err := daemon.client()
			if err != nil {
				return err
			}
			ctx, cancel := daemon.context()
			defer cancel()
			response, err := client.Hosts(ctx)
			if err != nil {
				return err
			}

			rows := make([]hostRow, 0, len(response.Hosts))
			for _, host := range response.Hosts {
				rows = append(rows, hostRow{
					Host:      host.Node.ID,
					Pool:      host.Pool.String(),
					Max:       host.Node.Capacity.Max,
					Used:      host.Node.Capacity.Used,
					Root:      host.Node.RootAccess,
					ManagedBy: host.ManagedBy,
					ReadError: host.ReadError,
				})
			}
			if asJSON {
				return cli.WriteJSON(stdout, rows)
			}
			table := cli.NewTable(stdout, "HOST", "POOL", "MAX", "USED", "ROOT", "MANAGED BY")
			for _, row := range rows {
				managed := row.ManagedBy
				if row.ReadError != "" {
					managed = table.Color(row.ReadError, cli.ColorBad)
				}
				table.Row(row.Host, colorPool(table, row.Pool), formatCapacity(row.Max),
					formatCapacity(row.Used), strconv.FormatBool(row.Root), managed)
			}
			return table.Render(stdout)
		},
	}
}

type deploymentRow struct {
	Reconciler string    `json:"reconciler"`
	Host       string    `json:"host"`
	Program    string    `json:"program"`
	Target     string    `json:"target"`
	Mode       string    `json:"mode"`
	Threads    int       `json:"threads"`
	Process    string    `json:"process,omitempty"`
	DeployedAt time.Time `json:"deployed_at"`
}

func deploymentsCommand(stdout io.Writer) *cli.Command {
	var (
		daemon     daemonFlags
		reconciler string
		asJSON     bool
	)
	return &cli.Command{
		Name:    "deployments",
		Summary: "List the deployment records of the daemon's reconcilers",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("deployments", pflag.ContinueOnError)
			daemon.bind(flags)
			flags.StringVar(&reconciler, "reconciler", "", "only this reconciler's records")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			if err := noArguments(args); err != nil {
				return err
			}
			client, err := daemon.client()
			if err != nil {
				return err
			}
			ctx, cancel := daemon.context()
			defer cancel()
			response, err := client.Deployments(ctx, reconciler)
			if err != nil {
				return err
			}

			rows := make([]deploymentRow, 0, len(response.Deployments))
			for _, entry := range response.Deployments {
				record := entry.Deployment
				rows = append(rows, deploymentRow{
					Reconciler: entry.Reconciler,
					Host:       record.Host,
					Program:    record.Program,
					Target:     record.Target,
					Mode:       record.Mode,
					Threads:    record.Threads,
					Process:    string(record.Process),
					DeployedAt: record.DeployedAt,
				})
			}
			if asJSON {
				return cli.WriteJSON(stdout, rows)
			}
			table := cli.NewTable(stdout, "RECONCILER", "HOST", "THREADS", "TARGET", "MODE", "PROCESS", "DEPLOYED")
			for _, row := range rows {
				table.Row(row.Reconciler, row.Host, strconv.Itoa(row.Threads), row.Target, row.Mode,
					row.Process, row.DeployedAt.UTC().Format(time.RFC3339))
			}
			return table.Render(stdout)
		},
	}
}

// failedHosts lists the hosts whose outcome in report was a failure.
func failedHosts(report reconcile.TickReport) []string {
	var hosts []string
	for _, outcome := range report.Hosts {
		if outcome.Action == reconcile.ActionFail {
			hosts = append(hosts, outcome.Host)
		}
	}
	return hosts
}
