// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/worker"
)

// Launcher is the launch capability of an environment.
type Launcher interface {
	Launch(ctx context.Context, host, program string, threads int, args []string) (fleet.ProcessID, error)
}

// Dispatch launches one one-shot worker per scheduled step on host, in
// rank order, back to back. Step.Threads overrides threads when set.
//
// Start delays are relative to the launch instant, so the steps should
// be dispatched as close together as the environment allows. On the
// first failed launch Dispatch stops and returns the processes already
// started alongside the error; the caller decides whether to kill them.
func Dispatch(ctx context.Context, launcher Launcher, host, program string, threads int, scheduled []Scheduled) ([]fleet.ProcessID, error) {
	var launched []fleet.ProcessID
	for _, entry := range scheduled {
		count := threads
		if entry.Step.Threads > 0 {
			count = entry.Step.Threads
		}
		if count < 1 {
			return launched, fmt.Errorf("step %q: thread count %d below 1", entry.Step.Name, count)
		}
		args := worker.OneShotArgs(entry.Request).Encode()
		id, err := launcher.Launch(ctx, host, program, count, args)
		if err == nil && id == "" {
			err = environment.ErrLaunchFailed
		}
		if err != nil {
			return launched, fmt.Errorf("launching step %q on %s: %w", entry.Step.Name, host, err)
		}
		launched = append(launched, id)
	}
	return launched, nil
}

// ErrPlanIncomplete is returned by PlanFile.Validate when a field
// needed for dispatch is missing.
var ErrPlanIncomplete = errors.New("batch plan is incomplete")

// Validate checks the dispatch fields of a plan file.
func (p *PlanFile) Validate() error {
	switch {
	case p.Target == "":
		return fmt.Errorf("%w: no target", ErrPlanIncomplete)
	case p.Host == "":
		return fmt.Errorf("%w: no host", ErrPlanIncomplete)
	case p.Threads < 1:
		for _, step := range p.Steps {
			if step.Threads < 1 {
				return fmt.Errorf("%w: step %q has no thread count and the plan has no default", ErrPlanIncomplete, step.Name)
			}
		}
	}
	_, err := p.Schedule()
	return err
}
