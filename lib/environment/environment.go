// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package environment defines the capabilities swarm consumes from the
// world it operates in: the reachability graph, host inventory,
// process control, and the remote operation itself.
//
// Every method is a live read or a side effect against the
// environment. Nothing is cached here; callers that need a consistent
// view capture it once per tick. Backends live in subpackages: sim (an
// in-memory fleet), docker (Docker engines as fleet members), and
// etcdtopology (a topology registry).
package environment

import (
	"context"
	"errors"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// ErrUnknownHost is returned (possibly wrapped) when a host id does not
// name a node of the environment.
var ErrUnknownHost = errors.New("unknown host")

// ErrLaunchFailed is returned when the environment declined to start a
// process without a more specific cause.
var ErrLaunchFailed = errors.New("launch failed")

// Topology enumerates the direct neighbors of a host.
type Topology interface {
	Neighbors(ctx context.Context, host string) ([]string, error)
}

// Inventory reads per-host attributes.
type Inventory interface {
	Capacity(ctx context.Context, host string) (fleet.Capacity, error)
	HasRootAccess(ctx context.Context, host string) (bool, error)
	// RentedHosts lists the fleet members provisioned for this fleet.
	RentedHosts(ctx context.Context) ([]string, error)
}

// Processes controls programs running on hosts.
type Processes interface {
	ListProcesses(ctx context.Context, host string) ([]fleet.Process, error)
	BinaryExists(ctx context.Context, host, program string) (bool, error)
	// TransferBinary copies program from one host to another,
	// overwriting any existing copy on the destination.
	TransferBinary(ctx context.Context, program, from, to string) error
	// Launch starts program on host with the given thread count and
	// arguments. A successful launch returns a non-empty ProcessID.
	Launch(ctx context.Context, host, program string, threads int, args []string) (fleet.ProcessID, error)
	// KillAll hard-kills every process on host.
	KillAll(ctx context.Context, host string) error
	// KillProcess hard-kills one process. Killing a process that has
	// already exited is not an error.
	KillProcess(ctx context.Context, host string, id fleet.ProcessID) error
}

// Operator performs one remote operation against a target and returns
// once it has completed.
type Operator interface {
	Perform(ctx context.Context, kind fleet.OperationKind, target string) error
}

// OperatorFunc adapts a function to the Operator interface.
type OperatorFunc func(ctx context.Context, kind fleet.OperationKind, target string) error

// Perform calls f.
func (f OperatorFunc) Perform(ctx context.Context, kind fleet.OperationKind, target string) error {
	return f(ctx, kind, target)
}

// Environment is everything the reconciler consumes.
type Environment interface {
	Topology
	Inventory
	Processes
}

type composed struct {
	Topology
	Inventory
	Processes
}

// Compose assembles an Environment from independent parts, so a
// topology registry can be paired with a different process backend.
func Compose(topology Topology, inventory Inventory, processes Processes) Environment {
	return composed{Topology: topology, Inventory: inventory, Processes: processes}
}
