// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package classify partitions discovered hosts into pools and decides
// which pools a reconciler variant manages.
//
// Classification is pure: it reads only the node attributes captured
// for the current tick. Each pool is managed by at most one reconciler
// so that every host has exactly one deployment authority.
package classify

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// Pool is the partition a host falls into for one tick.
type Pool uint8

const (
	// Ineligible hosts lack root access or enough capacity. No
	// reconciler touches them.
	Ineligible Pool = iota
	// Home is the root node.
	Home
	// Rented is a fleet member provisioned for this fleet.
	Rented
	// Unowned is a discovered node with root access.
	Unowned
)

var poolNames = map[Pool]string{
	Ineligible: "ineligible",
	Home:       "home",
	Rented:     "rented",
	Unowned:    "unowned",
}

func (p Pool) String() string {
	if name, ok := poolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("pool(%d)", uint8(p))
}

// Rules are the eligibility thresholds shared by every pool.
type Rules struct {
	// MinCapacity is the smallest maximum capacity a host must have.
	// Hosts with zero capacity are always ineligible.
	MinCapacity float64
}

// Ownership derives the class of a host from the configured home node
// and the environment's rented member list.
func Ownership(host, home string, rented []string) fleet.HostClass {
	switch {
	case host == home:
		return fleet.Home
	case slices.Contains(rented, host):
		return fleet.Rented
	default:
		return fleet.Unowned
	}
}

// Classify places node in a pool. Root access and the capacity
// threshold apply to every class, home included.
func Classify(node fleet.Node, rules Rules) Pool {
	if !node.RootAccess {
		return Ineligible
	}
	if node.Capacity.Max <= 0 || node.Capacity.Max < rules.MinCapacity {
		return Ineligible
	}
	switch node.Class {
	case fleet.Home:
		return Home
	case fleet.Rented:
		return Rented
	default:
		return Unowned
	}
}

// Partition groups nodes by pool. Input order is preserved within each
// pool.
func Partition(nodes []fleet.Node, rules Rules) map[Pool][]fleet.Node {
	pools := make(map[Pool][]fleet.Node)
	for _, node := range nodes {
		pool := Classify(node, rules)
		pools[pool] = append(pools[pool], node)
	}
	return pools
}

// Scope is the set of pools a reconciler variant manages.
type Scope uint8

func scopeBit(p Pool) Scope { return 1 << p }

// NewScope builds a scope from pools. Ineligible is ignored.
func NewScope(pools ...Pool) Scope {
	var scope Scope
	for _, pool := range pools {
		if pool != Ineligible {
			scope |= scopeBit(pool)
		}
	}
	return scope
}

// ParseScope parses a comma-separated pool list such as
// "rented,unowned". "all" selects every manageable pool.
func ParseScope(text string) (Scope, error) {
	var scope Scope
	for _, field := range strings.Split(text, ",") {
		name := strings.ToLower(strings.TrimSpace(field))
		switch name {
		case "":
			continue
		case "all":
			scope |= NewScope(Home, Rented, Unowned)
		case "home":
			scope |= scopeBit(Home)
		case "rented":
			scope |= scopeBit(Rented)
		case "unowned":
			scope |= scopeBit(Unowned)
		default:
			return 0, fmt.Errorf("unknown pool %q in scope %q", field, text)
		}
	}
	if scope == 0 {
		return 0, fmt.Errorf("scope %q selects no pools", text)
	}
	return scope, nil
}

// Contains reports whether pool is inside the scope.
func (s Scope) Contains(pool Pool) bool {
	return pool != Ineligible && s&scopeBit(pool) != 0
}

// Eligible reports whether node is classified into a pool this scope
// manages.
func (s Scope) Eligible(node fleet.Node, rules Rules) bool {
	return s.Contains(Classify(node, rules))
}

// Pools lists the pools in the scope in declaration order.
func (s Scope) Pools() []Pool {
	var pools []Pool
	for _, pool := range []Pool{Home, Rented, Unowned} {
		if s.Contains(pool) {
			pools = append(pools, pool)
		}
	}
	return pools
}

func (s Scope) String() string {
	pools := s.Pools()
	names := make([]string, len(pools))
	for i, pool := range pools {
		names[i] = pool.String()
	}
	return strings.Join(names, ",")
}

// Overlaps reports whether two scopes share a pool.
func Overlaps(a, b Scope) bool {
	return a&b != 0
}
