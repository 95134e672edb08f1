// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the program launched on fleet members: its argument
// encoding, shared by everything that launches workers, and its run
// loop.
//
// A worker runs in one of two shapes. A loop worker, deployed by the
// reconciler, repeats the operations of its mode against a target
// until killed. A one-shot worker, dispatched by the batch coordinator,
// performs a single timed operation through the executor and exits.
//
// Launchers compare a running worker's arguments with [Args.Encode]
// output to decide whether it is current, so encoding is canonical:
// the same Args always produce the same argument list.
package worker

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// ModeCycle rotates through weaken, grow, and exploit.
const ModeCycle = "cycle"

// Args is the parsed command line of a worker.
type Args struct {
	// Target is the node operated on.
	Target string

	// Mode selects the loop worker's operations: an operation kind
	// name or ModeCycle. Unused for one-shot workers.
	Mode string

	// OneShot selects a single timed operation of Kind.
	OneShot  bool
	Kind     fleet.OperationKind
	Delay    time.Duration
	Duration time.Duration
}

// LoopArgs returns the arguments of a loop worker.
func LoopArgs(target, mode string) Args {
	return Args{Target: target, Mode: mode}
}

// OneShotArgs returns the arguments of a one-shot worker performing
// request.
func OneShotArgs(request fleet.OperationRequest) Args {
	return Args{
		Target:   request.Target,
		OneShot:  true,
		Kind:     request.Kind,
		Delay:    request.StartDelay,
		Duration: request.ExpectedDuration,
	}
}

// Request returns the timed operation a one-shot worker performs.
func (a Args) Request() fleet.OperationRequest {
	return fleet.OperationRequest{
		Target:           a.Target,
		Kind:             a.Kind,
		StartDelay:       a.Delay,
		ExpectedDuration: a.Duration,
	}
}

// Encode renders the canonical argument list.
func (a Args) Encode() []string {
	if a.OneShot {
		return []string{
			"--target", a.Target,
			"--one-shot",
			"--kind", a.Kind.String(),
			"--delay", a.Delay.String(),
			"--duration", a.Duration.String(),
		}
	}
	return []string{"--target", a.Target, "--mode", a.Mode}
}

// Validate checks that Args describe a runnable worker.
func (a Args) Validate() error {
	if a.Target == "" {
		return errors.New("worker needs --target")
	}
	if a.OneShot {
		return a.Request().Validate()
	}
	_, err := ModeKinds(a.Mode)
	return err
}

// ModeKinds returns the operations a loop worker in mode repeats, in
// order.
func ModeKinds(mode string) ([]fleet.OperationKind, error) {
	if strings.EqualFold(mode, ModeCycle) {
		return []fleet.OperationKind{fleet.Weaken, fleet.Grow, fleet.Exploit}, nil
	}
	kind, err := fleet.ParseOperationKind(mode)
	if err != nil {
		return nil, fmt.Errorf("mode %q: want %s or an operation kind", mode, ModeCycle)
	}
	return []fleet.OperationKind{kind}, nil
}

// Parse reads a worker command line (without the program name).
func Parse(arguments []string) (Args, error) {
	var (
		args     Args
		kindName string
	)
	flags := pflag.NewFlagSet("swarm-worker", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.StringVar(&args.Target, "target", "", "node to operate on")
	flags.StringVar(&args.Mode, "mode", "", "loop mode: weaken, grow, exploit, or cycle")
	flags.BoolVar(&args.OneShot, "one-shot", false, "perform one timed operation and exit")
	flags.StringVar(&kindName, "kind", "", "operation kind of a one-shot worker")
	flags.DurationVar(&args.Delay, "delay", 0, "start delay of a one-shot worker")
	flags.DurationVar(&args.Duration, "duration", 0, "expected duration of a one-shot worker's operation")
	if err := flags.Parse(arguments); err != nil {
		return Args{}, err
	}
	if flags.NArg() > 0 {
		return Args{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	if args.OneShot {
		kind, err := fleet.ParseOperationKind(kindName)
		if err != nil {
			return Args{}, err
		}
		args.Kind = kind
		args.Mode = ""
	}
	if err := args.Validate(); err != nil {
		return Args{}, err
	}
	return args, nil
}
