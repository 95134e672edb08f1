// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/cmd/swarm/cli"
	"github.com/bureau-foundation/swarm/lib/batch"
	"github.com/bureau-foundation/swarm/lib/fleetapi"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// scheduledStep is one row of a printed batch schedule.
type scheduledStep struct {
	Rank       int           `json:"rank"`
	Step       string        `json:"step"`
	Kind       string        `json:"kind"`
	Threads    int           `json:"threads,omitempty"`
	StartDelay time.Duration `json:"start_delay_ns"`
	Duration   time.Duration `json:"duration_ns"`
	Completion time.Duration `json:"completion_ns"`
}

type dispatchResult struct {
	Host      string            `json:"host"`
	Schedule  []scheduledStep   `json:"schedule"`
	Processes []fleet.ProcessID `json:"processes"`
}

func batchCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "batch",
		Summary: "Schedule and dispatch timed operation batches",
		Description: "A batch is a set of operations against one target that must complete in\n" +
			"a chosen order. Batches are written as JSONC plan files.",
		Subcommands: []*cli.Command{
			batchPlanCommand(stdout),
			batchRunCommand(stdout),
		},
	}
}

func batchPlanCommand(stdout io.Writer) *cli.Command {
	var (
		daemon daemonFlags
		remote bool
		asJSON bool
	)
	return &cli.Command{
		Name:    "plan",
		Summary: "Print the start delays of a plan file",
		Usage:   "swarm batch plan <plan.jsonc> [flags]",
		Examples: []cli.Example{
			{Command: "swarm batch plan hwgw.jsonc"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("plan", pflag.ContinueOnError)
			daemon.bind(flags)
			flags.BoolVar(&remote, "remote", false, "schedule through the fleet daemon instead of locally")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			plan, err := loadPlanArgument(args)
			if err != nil {
				return err
			}
			var schedule []batch.Scheduled
			if remote {
				client, err := daemon.client()
				if err != nil {
					return err
				}
				ctx, cancel := daemon.context()
				defer cancel()
				response, err := client.Plan(ctx, fleetapi.NewPlanRequest(plan))
				if err != nil {
					return err
				}
				schedule = response.Schedule
			} else {
				schedule, err = plan.Schedule()
				if err != nil {
					return err
				}
			}

			rows := scheduleRows(schedule)
			if asJSON {
				return cli.WriteJSON(stdout, rows)
			}
			if _, err := fmt.Fprintf(stdout, "target %s, spacing %v\n", plan.Target, plan.Spacing); err != nil {
				return err
			}
			return renderSchedule(stdout, rows)
		},
	}
}

func batchRunCommand(stdout io.Writer) *cli.Command {
	var (
		daemon  daemonFlags
		host    string
		program string
		threads int
		asJSON  bool
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Dispatch a plan file as one-shot workers through the fleet daemon",
		Description: "Launch one one-shot worker per step on the plan's host. The daemon\n" +
			"refuses hosts that a reconciler manages.",
		Usage: "swarm batch run <plan.jsonc> [flags]",
		Examples: []cli.Example{
			{Description: "Run on a host outside every reconciler's scope", Command: "swarm batch run hwgw.jsonc --host home --threads 8"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			daemon.bind(flags)
			flags.StringVar(&host, "host", "", "override the plan's host")
			flags.StringVar(&program, "program", "", "override the plan's worker program")
			flags.IntVar(&threads, "threads", 0, "override the plan's default threads per step")
			flags.BoolVar(&asJSON, "json", false, "output as JSON")
			return flags
		},
		Run: func(args []string) error {
			plan, err := loadPlanArgument(args)
			if err != nil {
				return err
			}
			if host != "" {
				plan.Host = host
			}
			if program != "" {
				plan.Program = program
			}
			if threads != 0 {
				plan.Threads = threads
			}

			client, err := daemon.client()
			if err != nil {
				return err
			}
			ctx, cancel := daemon.context()
			defer cancel()
			response, err := client.Dispatch(ctx, fleetapi.NewDispatchRequest(plan))
			if err != nil {
				return err
			}

			result := dispatchResult{Host: plan.Host, Schedule: scheduleRows(response.Schedule), Processes: response.Processes}
			if asJSON {
				return cli.WriteJSON(stdout, result)
			}
			if _, err := fmt.Fprintf(stdout, "dispatched %d workers on %s against %s\n",
				len(result.Processes), plan.Host, plan.Target); err != nil {
				return err
			}
			return renderSchedule(stdout, result.Schedule)
		},
	}
}

func loadPlanArgument(args []string) (*batch.PlanFile, error) {
	if len(args) != 1 {
		return nil, errors.New("exactly one plan file argument is required")
	}
	return batch.LoadPlanFile(args[0])
}

func scheduleRows(schedule []batch.Scheduled) []scheduledStep {
	rows := make([]scheduledStep, 0, len(schedule))
	for _, entry := range schedule {
		rows = append(rows, scheduledStep{
			Rank:       entry.Rank,
			Step:       entry.Step.Name,
			Kind:       entry.Step.Kind.String(),
			Threads:    entry.Step.Threads,
			StartDelay: entry.StartDelay,
			Duration:   entry.Step.Duration,
			Completion: entry.CompletionOffset,
		})
	}
	return rows
}

func renderSchedule(w io.Writer, rows []scheduledStep) error {
	table := cli.NewTable(w, "RANK", "STEP", "KIND", "THREADS", "START", "DURATION", "COMPLETES")
	for _, row := range rows {
		threads := ""
		if row.Threads > 0 {
			threads = strconv.Itoa(row.Threads)
		}
		table.Row(
			strconv.Itoa(row.Rank),
			row.Step,
			row.Kind,
			threads,
			"+"+row.StartDelay.String(),
			row.Duration.String(),
			"+"+row.Completion.String(),
		)
	}
	return table.Render(w)
}
