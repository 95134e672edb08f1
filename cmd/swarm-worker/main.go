// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// swarm-worker is the program deployed to fleet members. It runs one
// worker (a loop over its mode, or a single timed operation) and sends
// every operation to the operator socket named by $SWARM_OPERATOR.
//
// The command line is exactly what launchers produce with
// worker.Args.Encode:
//
//	swarm-worker --target n00dles --mode cycle
//	swarm-worker --target n00dles --one-shot --kind grow --delay 22ms --duration 40ms
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/operator"
	"github.com/bureau-foundation/swarm/lib/process"
	"github.com/bureau-foundation/swarm/lib/version"
	"github.com/bureau-foundation/swarm/lib/worker"
)

const (
	operatorEnv = "SWARM_OPERATOR"
	logLevelEnv = "SWARM_LOG_LEVEL"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Getenv, os.Stderr); err != nil {
		process.Fatal(err)
	}
}

func run(ctx context.Context, arguments []string, getenv func(string) string, stderr io.Writer) error {
	if len(arguments) == 1 && arguments[0] == "--version" {
		version.Print("swarm-worker")
		return nil
	}
	args, err := worker.Parse(arguments)
	if err != nil {
		return err
	}
	address := getenv(operatorEnv)
	if address == "" {
		return errors.New("$" + operatorEnv + " is not set")
	}
	level := getenv(logLevelEnv)
	if level == "" {
		level = "info"
	}
	logger, err := process.NewLogger(stderr, "json", level)
	if err != nil {
		return err
	}
	logger = logger.With("target", args.Target, "pid", os.Getpid())
	if args.OneShot {
		logger.Info("one-shot worker starting", "kind", args.Kind.String(), "delay", args.Delay)
	} else {
		logger.Info("loop worker starting", "mode", args.Mode)
	}
	return worker.Run(ctx, args, operator.NewClient(address), clock.Real(), logger)
}
