// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"context"
	"fmt"
	"slices"
)

// StaticTopology is a fixed adjacency list, typically loaded from the
// configuration file. Edges are treated as given; list both directions
// for an undirected link, or use [StaticTopology.Undirected].
type StaticTopology map[string][]string

// Neighbors returns a copy of the host's adjacency list. A host that
// appears only as a neighbor of another host has no neighbors of its
// own; a host that appears nowhere is unknown.
func (s StaticTopology) Neighbors(_ context.Context, host string) ([]string, error) {
	if neighbors, ok := s[host]; ok {
		return slices.Clone(neighbors), nil
	}
	for _, neighbors := range s {
		if slices.Contains(neighbors, host) {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownHost, host)
}

// Undirected returns a copy of s with every edge mirrored.
func (s StaticTopology) Undirected() StaticTopology {
	result := make(StaticTopology, len(s))
	add := func(from, to string) {
		if !slices.Contains(result[from], to) {
			result[from] = append(result[from], to)
		}
	}
	for host, neighbors := range s {
		if _, ok := result[host]; !ok {
			result[host] = nil
		}
		for _, neighbor := range neighbors {
			add(host, neighbor)
			add(neighbor, host)
		}
	}
	for host := range result {
		slices.Sort(result[host])
	}
	return result
}
