// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger persists the deployment records of reconcilers.
//
// Records are partitioned by reconciler name and keyed by host: each
// reconciler owns its partition exclusively, and a host holds at most
// one record per reconciler. The reconciler keeps its working copy in
// memory and writes through to the store on every change, so that a
// restarted daemon still knows the capacity each worker was sized for.
package ledger

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// Store persists deployment records.
type Store interface {
	// Load returns every record of reconciler, ordered by host.
	Load(ctx context.Context, reconciler string) ([]fleet.Deployment, error)
	// Save inserts or replaces the record for deployment.Host.
	Save(ctx context.Context, reconciler string, deployment fleet.Deployment) error
	// Delete removes the record for host. Deleting a missing record is
	// not an error.
	Delete(ctx context.Context, reconciler, host string) error
}

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu      sync.Mutex
	records map[string]map[string]fleet.Deployment
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]fleet.Deployment)}
}

func (m *Memory) Load(_ context.Context, reconciler string) ([]fleet.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []fleet.Deployment
	for _, deployment := range m.records[reconciler] {
		deployment.Args = slices.Clone(deployment.Args)
		result = append(result, deployment)
	}
	slices.SortFunc(result, func(a, b fleet.Deployment) int {
		return strings.Compare(a.Host, b.Host)
	})
	return result, nil
}

func (m *Memory) Save(_ context.Context, reconciler string, deployment fleet.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	partition, ok := m.records[reconciler]
	if !ok {
		partition = make(map[string]fleet.Deployment)
		m.records[reconciler] = partition
	}
	deployment.Args = slices.Clone(deployment.Args)
	partition[deployment.Host] = deployment
	return nil
}

func (m *Memory) Delete(_ context.Context, reconciler, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records[reconciler], host)
	return nil
}
