// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery enumerates the nodes reachable from a root in a
// reachability graph.
//
// [Discover] is pure and synchronous: it only calls the neighbor
// function it is given. Environments whose neighbor lookup can fail
// (a registry behind a network call) are read once per tick with
// [Snapshot], and the resulting [Graph] is then traversed purely.
package discovery

import (
	"context"
	"fmt"
	"slices"
)

// Neighbors returns the nodes directly reachable from a node. It may
// return nodes already visited; the traversal deduplicates.
type Neighbors func(node string) []string

// Discover returns every node reachable from root, root included, each
// exactly once. The traversal is depth-first over an explicit stack, so
// arbitrarily deep graphs cannot exhaust the goroutine stack. Nodes are
// marked visited when first pushed, so cycles and diamonds never
// re-enqueue a node. Output order is traversal order and carries no
// meaning. An empty root returns nil.
func Discover(root string, neighbors Neighbors) []string {
	if root == "" {
		return nil
	}
	var result []string
	walk(root, neighbors, func(node, _ string) bool {
		result = append(result, node)
		return true
	})
	return result
}

// Path returns a route from root to target, both ends included, using
// the parent links recorded during the same depth-first traversal as
// [Discover]. The route is a valid walk through the graph but is not
// necessarily the shortest. found is false when target is unreachable.
func Path(root, target string, neighbors Neighbors) (path []string, found bool) {
	if root == "" || target == "" {
		return nil, false
	}
	parents := make(map[string]string)
	walk(root, neighbors, func(node, parent string) bool {
		parents[node] = parent
		if node == target {
			found = true
			return false
		}
		return true
	})
	if !found {
		return nil, false
	}
	for node := target; node != ""; node = parents[node] {
		path = append(path, node)
	}
	slices.Reverse(path)
	return path, true
}

// walk drives the traversal. visit is called once per node with the
// node that first reached it (empty for root); returning false stops
// the walk.
func walk(root string, neighbors Neighbors, visit func(node, parent string) bool) {
	type frame struct{ node, parent string }

	visited := map[string]bool{root: true}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(top.node, top.parent) {
			return
		}
		for _, next := range neighbors(top.node) {
			if next == "" || visited[next] {
				continue
			}
			visited[next] = true
			stack = append(stack, frame{node: next, parent: top.node})
		}
	}
}

// Topology is the context-aware neighbor source read by [Snapshot].
type Topology interface {
	Neighbors(ctx context.Context, host string) ([]string, error)
}

// Graph is an adjacency list captured at one instant.
type Graph map[string][]string

// Neighbors returns the recorded neighbors of node. Unknown nodes have
// none.
func (g Graph) Neighbors(node string) []string {
	return g[node]
}

// Nodes returns every node of the graph reachable from root.
func (g Graph) Nodes(root string) []string {
	return Discover(root, g.Neighbors)
}

// Snapshot reads the neighbor list of every node reachable from root
// exactly once and returns the captured graph. A failed lookup aborts
// the snapshot: a partial graph would make the reconciler drop ledger
// entries for hosts that are merely unread.
func Snapshot(ctx context.Context, topology Topology, root string) (Graph, error) {
	graph := make(Graph)
	if root == "" {
		return graph, nil
	}
	var lookupErr error
	walk(root, func(node string) []string {
		if lookupErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			lookupErr = err
			return nil
		}
		neighbors, err := topology.Neighbors(ctx, node)
		if err != nil {
			lookupErr = fmt.Errorf("reading neighbors of %s: %w", node, err)
			return nil
		}
		graph[node] = neighbors
		return neighbors
	}, func(string, string) bool { return lookupErr == nil })
	if lookupErr != nil {
		return nil, lookupErr
	}
	return graph, nil
}
