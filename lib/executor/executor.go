// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs one timed remote operation with post-hoc drift
// compensation.
//
// A caller that wants an operation to complete at dispatch+D hands the
// executor a request with StartDelay+ExpectedDuration = D. The executor
// sleeps StartDelay, performs the operation once, and if the operation
// finished earlier than ExpectedDuration, sleeps the difference so the
// executor itself returns on schedule. Operations that ran long are not
// corrected: there is nothing to give back.
//
// An Executor holds no per-run state. Any number of Run calls may be in
// flight on the same Executor concurrently.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// DefaultTolerance is the drift below which no compensating sleep is
// taken.
const DefaultTolerance = time.Millisecond

// Executor performs timed operations through Operator.
type Executor struct {
	// Operator performs the remote operation. Required.
	Operator environment.Operator

	// Clock provides every suspension. Nil means the real clock.
	Clock clock.Clock

	// Logger receives one debug line per run. Nil discards.
	Logger *slog.Logger

	// Tolerance is the largest drift absorbed without compensating.
	// Zero means DefaultTolerance.
	Tolerance time.Duration
}

// Result describes one completed run.
type Result struct {
	Request fleet.OperationRequest

	// Skipped is set when the request had no target. Nothing else is
	// populated in that case.
	Skipped bool

	// Started and Ended bracket the remote operation itself.
	Started time.Time
	Ended   time.Time

	// Drift is ExpectedDuration minus the measured operation time.
	// Negative when the operation ran long.
	Drift time.Duration

	// Compensated is the length of the compensating sleep, zero when
	// drift was within tolerance.
	Compensated time.Duration
}

// Elapsed returns the measured duration of the remote operation.
func (r Result) Elapsed() time.Duration {
	return r.Ended.Sub(r.Started)
}

// Run executes request. A request without a target returns a skipped
// result and no error, with no side effects. Cancelling ctx aborts a
// pending suspension with ctx.Err(); once the operation has been
// issued it is never retried.
func (e *Executor) Run(ctx context.Context, request fleet.OperationRequest) (Result, error) {
	result := Result{Request: request}
	if err := request.Validate(); err != nil {
		if errors.Is(err, fleet.ErrNoTarget) {
			result.Skipped = true
			return result, nil
		}
		return result, err
	}
	if e.Operator == nil {
		return result, errors.New("executor has no operator")
	}

	c := e.clock()
	if err := clock.SleepContext(ctx, c, request.StartDelay); err != nil {
		return result, err
	}

	result.Started = c.Now()
	err := e.Operator.Perform(ctx, request.Kind, request.Target)
	result.Ended = c.Now()
	if err != nil {
		return result, fmt.Errorf("%s %s: %w", request.Kind, request.Target, err)
	}

	result.Drift = request.ExpectedDuration - result.Elapsed()
	if result.Drift > e.tolerance() {
		if err := clock.SleepContext(ctx, c, result.Drift); err != nil {
			return result, err
		}
		result.Compensated = result.Drift
	}

	e.logger().Debug("operation completed",
		"kind", request.Kind.String(),
		"target", request.Target,
		"start_delay", request.StartDelay,
		"elapsed", result.Elapsed(),
		"drift", result.Drift,
		"compensated", result.Compensated,
	)
	return result, nil
}

func (e *Executor) clock() clock.Clock {
	if e.Clock == nil {
		return clock.Real()
	}
	return e.Clock
}

func (e *Executor) tolerance() time.Duration {
	if e.Tolerance <= 0 {
		return DefaultTolerance
	}
	return e.Tolerance
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}
