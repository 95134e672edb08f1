// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sim

import (
	"fmt"
	"slices"
)

// Completions returns every recorded operation completion in order.
func (n *Network) Completions() []Completion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.completions)
}

// CompletionNotify receives a value (coalesced) after each completion.
func (n *Network) CompletionNotify() <-chan struct{} {
	return n.completionNotify
}

// Hosts lists every node id, sorted.
func (n *Network) Hosts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	hosts := make([]string, 0, len(n.nodes))
	for id := range n.nodes {
		hosts = append(hosts, id)
	}
	slices.Sort(hosts)
	return hosts
}

// Counters reports how many launches, KillAll calls, and transfers
// the host has seen.
type Counters struct {
	Launches  int
	Kills     int
	Transfers int
}

// Counters returns the operation counters of host.
func (n *Network) Counters(host string) Counters {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Counters{
		Launches:  n.launchCount[host],
		Kills:     n.killCount[host],
		Transfers: n.transferCount[host],
	}
}

// SetCapacity changes the maximum capacity of host, as when a rented
// member is upgraded.
func (n *Network) SetCapacity(host string, max float64) error {
	return n.update(host, func(found *node) { found.spec.MaxCapacity = max })
}

// SetRoot grants or revokes root access on host.
func (n *Network) SetRoot(host string, root bool) error {
	return n.update(host, func(found *node) { found.spec.Root = root })
}

// SetRented marks host as a rented fleet member or releases it.
func (n *Network) SetRented(host string, rented bool) error {
	return n.update(host, func(found *node) { found.spec.Rented = rented })
}

// RemoveBinary deletes program from host.
func (n *Network) RemoveBinary(host, program string) error {
	return n.update(host, func(found *node) { delete(found.binaries, program) })
}

// FailNextLaunch makes the next count launches on host fail.
func (n *Network) FailNextLaunch(host string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failLaunch[host] += count
}

// FailNextTransfer makes the next count transfers to host fail.
func (n *Network) FailNextTransfer(host string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failTransfer[host] += count
}

func (n *Network) update(host string, change func(*node)) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	found, ok := n.nodes[host]
	if !ok {
		return fmt.Errorf("simulated host %s does not exist", host)
	}
	change(found)
	return nil
}
