// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// State is the deployment state of a managed host at the start of a
// tick.
type State uint8

const (
	// Absent: no recorded deployment, or the recorded worker is gone.
	Absent State = iota
	// Stale: a worker runs but no longer matches what the host should
	// run.
	Stale
	// Current: the recorded worker runs with the desired shape.
	Current
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Stale:
		return "stale"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Action is what a tick did to a host.
type Action uint8

const (
	// ActionNone: the host was current.
	ActionNone Action = iota
	// ActionRedeploy: everything was killed and a fresh worker
	// launched.
	ActionRedeploy
	// ActionAdopt: an unrecorded worker with the desired shape was
	// found running and recorded.
	ActionAdopt
	// ActionSkip: the host cannot fit one thread this tick.
	ActionSkip
	// ActionFail: an environment call failed; retried next tick.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRedeploy:
		return "redeploy"
	case ActionAdopt:
		return "adopt"
	case ActionSkip:
		return "skip"
	case ActionFail:
		return "fail"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// HostOutcome is the result of one tick for one managed host.
type HostOutcome struct {
	Host    string        `cbor:"host"`
	Pool    classify.Pool `cbor:"pool"`
	State   State         `cbor:"state"`
	Action  Action        `cbor:"action"`
	Threads int           `cbor:"threads"`
	Reason  string        `cbor:"reason,omitempty"`
	Error   string        `cbor:"error,omitempty"`
	Node    fleet.Node    `cbor:"node"`
}

// TickReport summarizes one reconciliation tick.
type TickReport struct {
	Reconciler string        `cbor:"reconciler"`
	Sequence   uint64        `cbor:"sequence"`
	Started    time.Time     `cbor:"started"`
	Finished   time.Time     `cbor:"finished"`
	Discovered int           `cbor:"discovered"`
	Hosts      []HostOutcome `cbor:"hosts"`

	Kills     int `cbor:"kills"`
	Launches  int `cbor:"launches"`
	Transfers int `cbor:"transfers"`
	Adopted   int `cbor:"adopted"`
	Skipped   int `cbor:"skipped"`
	Failed    int `cbor:"failed"`
	Dropped   int `cbor:"dropped"`
}

// Outcome returns the outcome for host, if the host was managed this
// tick.
func (r TickReport) Outcome(host string) (HostOutcome, bool) {
	for _, outcome := range r.Hosts {
		if outcome.Host == host {
			return outcome, true
		}
	}
	return HostOutcome{}, false
}

// HostView is one discovered host as seen by the last tick.
type HostView struct {
	Node    fleet.Node    `cbor:"node"`
	Pool    classify.Pool `cbor:"pool"`
	Managed bool          `cbor:"managed"`
	// ReadError is set when the host's attributes could not be read.
	ReadError string `cbor:"read_error,omitempty"`
}
