// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// Deployments returns the current deployment records, ordered by host.
func (r *Reconciler) Deployments() []fleet.Deployment {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]fleet.Deployment, 0, len(r.deployments))
	for _, deployment := range r.deployments {
		deployment.Args = slices.Clone(deployment.Args)
		result = append(result, deployment)
	}
	slices.SortFunc(result, func(a, b fleet.Deployment) int { return strings.Compare(a.Host, b.Host) })
	return result
}

// Hosts returns every host discovered by the last tick.
func (r *Reconciler) Hosts() []HostView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.hosts)
}

// LastReport returns the report of the most recent tick. The zero
// report (Sequence 0) means no tick has run.
func (r *Reconciler) LastReport() TickReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReport
}

// Manages reports whether host was in this reconciler's scope at the
// last tick.
func (r *Reconciler) Manages(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, view := range r.hosts {
		if view.Node.ID == host {
			return view.Managed
		}
	}
	return false
}

// Claims reads host live and reports whether it falls inside this
// reconciler's scope now, whether or not a tick has seen it yet. A host
// whose attributes cannot be read is reported as claimed along with
// the read error.
func (r *Reconciler) Claims(ctx context.Context, host string) (bool, error) {
	rented, err := r.env.RentedHosts(ctx)
	if err != nil {
		return true, fmt.Errorf("listing rented hosts: %w", err)
	}
	view := r.observeHost(ctx, host, rented)
	if view.ReadError != "" {
		return true, fmt.Errorf("reading %s: %s", host, view.ReadError)
	}
	return view.Managed, nil
}

// Scope returns the pools this reconciler manages.
func (r *Reconciler) Scope() classify.Scope {
	return r.config.Scope
}

// Drain kills every worker this reconciler recorded, one process at a
// time, and forgets the records. Other processes on the hosts are left
// alone. Errors are collected; a host whose kill failed keeps its
// record.
func (r *Reconciler) Drain(ctx context.Context) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()
	if err := r.loadLedger(ctx); err != nil {
		return err
	}

	var problems []error
	for _, deployment := range r.Deployments() {
		if deployment.Process != "" {
			if err := r.env.KillProcess(ctx, deployment.Host, deployment.Process); err != nil {
				problems = append(problems, fmt.Errorf("draining %s: %w", deployment.Host, err))
				continue
			}
		}
		r.clearRecord(ctx, deployment.Host)
		r.logger.Info("worker drained", "host", deployment.Host, "process", string(deployment.Process))
	}
	return errors.Join(problems...)
}
