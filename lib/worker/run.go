// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/executor"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// FailurePause is how long a loop worker waits after a failed
// operation before issuing the next one.
const FailurePause = time.Second

// Run executes the worker described by args until it finishes (one
// shot) or ctx is cancelled (loop). Cancellation is the normal end of
// a loop worker and returns nil.
func Run(ctx context.Context, args Args, operator environment.Operator, c clock.Clock, logger *slog.Logger) error {
	if err := args.Validate(); err != nil {
		return err
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	exec := &executor.Executor{Operator: operator, Clock: c, Logger: logger}

	if args.OneShot {
		result, err := exec.Run(ctx, args.Request())
		if err != nil {
			return err
		}
		logger.Info("timed operation finished",
			"kind", args.Kind.String(),
			"target", args.Target,
			"elapsed", result.Elapsed(),
			"drift", result.Drift,
		)
		return nil
	}

	kinds, _ := ModeKinds(args.Mode)
	for index := 0; ; index++ {
		kind := kinds[index%len(kinds)]
		_, err := exec.Run(ctx, fleet.OperationRequest{Target: args.Target, Kind: kind})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Warn("operation failed",
				"kind", kind.String(),
				"target", args.Target,
				"error", err,
			)
			if clock.SleepContext(ctx, c, FailurePause) != nil {
				return nil
			}
		}
	}
}
