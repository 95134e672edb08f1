// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleet

import "fmt"

// Capacity is an instantaneous memory reading for one node, in the
// environment's capacity unit (GB for every shipped backend).
type Capacity struct {
	Max  float64 `cbor:"max"`
	Used float64 `cbor:"used"`
}

// Free returns Max - Used, never negative.
func (c Capacity) Free() float64 {
	if c.Used >= c.Max {
		return 0
	}
	return c.Max - c.Used
}

// HostClass is the ownership class of a node.
type HostClass uint8

const (
	// Unowned nodes were found by discovery and are not fleet members.
	Unowned HostClass = iota
	// Rented nodes are fleet members provisioned for this fleet.
	Rented
	// Home is the root node the fleet is operated from.
	Home
)

func (c HostClass) String() string {
	switch c {
	case Unowned:
		return "unowned"
	case Rented:
		return "rented"
	case Home:
		return "home"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Node is one addressable host as read during a reconciliation tick.
// Attribute values are live reads and are not cached across ticks.
type Node struct {
	ID         string    `cbor:"id"`
	Capacity   Capacity  `cbor:"capacity"`
	RootAccess bool      `cbor:"root_access"`
	Class      HostClass `cbor:"class"`
}

// ProcessID identifies a running worker within an environment. The
// zero value means "no process".
type ProcessID string

// Process is one entry of a host's running process list.
type Process struct {
	ID      ProcessID `cbor:"id"`
	Program string    `cbor:"program"`
	Args    []string  `cbor:"args"`
	Threads int       `cbor:"threads"`
}
