// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"testing"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

func node(id string, max float64, root bool, class fleet.HostClass) fleet.Node {
	return fleet.Node{ID: id, Capacity: fleet.Capacity{Max: max}, RootAccess: root, Class: class}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	rules := Rules{MinCapacity: 4}
	tests := []struct {
		name string
		node fleet.Node
		want Pool
	}{
		{"home", node("home", 64, true, fleet.Home), Home},
		{"rented", node("rented-0", 32, true, fleet.Rented), Rented},
		{"unowned with root", node("n00dles", 4, true, fleet.Unowned), Unowned},
		{"unowned without root", node("sigma", 32, false, fleet.Unowned), Ineligible},
		{"below minimum", node("tiny", 2, true, fleet.Unowned), Ineligible},
		{"zero capacity", node("CSEC", 0, true, fleet.Unowned), Ineligible},
		{"small rented", node("rented-1", 2, true, fleet.Rented), Ineligible},
		{"rented without root", node("rented-2", 32, false, fleet.Rented), Ineligible},
		{"home without root", node("home", 64, false, fleet.Home), Ineligible},
	}
	for _, test := range tests {
		if got := Classify(test.node, rules); got != test.want {
			t.Errorf("%s: Classify = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestOwnership(t *testing.T) {
	t.Parallel()
	rented := []string{"rented-0", "rented-1"}
	if got := Ownership("home", "home", rented); got != fleet.Home {
		t.Errorf("Ownership(home) = %v", got)
	}
	if got := Ownership("rented-1", "home", rented); got != fleet.Rented {
		t.Errorf("Ownership(rented-1) = %v", got)
	}
	if got := Ownership("n00dles", "home", rented); got != fleet.Unowned {
		t.Errorf("Ownership(n00dles) = %v", got)
	}
}

func TestPartition(t *testing.T) {
	t.Parallel()
	nodes := []fleet.Node{
		node("home", 64, true, fleet.Home),
		node("a", 8, true, fleet.Unowned),
		node("b", 8, false, fleet.Unowned),
		node("c", 16, true, fleet.Unowned),
		node("r", 32, true, fleet.Rented),
	}
	pools := Partition(nodes, Rules{MinCapacity: 1})
	if len(pools[Home]) != 1 || len(pools[Rented]) != 1 || len(pools[Ineligible]) != 1 {
		t.Fatalf("Partition = %v", pools)
	}
	unowned := pools[Unowned]
	if len(unowned) != 2 || unowned[0].ID != "a" || unowned[1].ID != "c" {
		t.Errorf("unowned pool = %v, want [a c] in input order", unowned)
	}
}

func TestParseScope(t *testing.T) {
	t.Parallel()
	scope, err := ParseScope("rented, unowned")
	if err != nil {
		t.Fatalf("ParseScope: %v", err)
	}
	if scope.Contains(Home) || !scope.Contains(Rented) || !scope.Contains(Unowned) {
		t.Errorf("scope %v has wrong pools", scope)
	}
	if scope.String() != "rented,unowned" {
		t.Errorf("String() = %q", scope.String())
	}

	all, err := ParseScope("all")
	if err != nil {
		t.Fatalf("ParseScope(all): %v", err)
	}
	if len(all.Pools()) != 3 {
		t.Errorf("all scope pools = %v", all.Pools())
	}
	if all.Contains(Ineligible) {
		t.Error("no scope may contain the ineligible pool")
	}

	for _, bad := range []string{"", "ineligible", "home,bogus"} {
		if _, err := ParseScope(bad); err == nil {
			t.Errorf("ParseScope(%q) should fail", bad)
		}
	}
}

func TestScopeEligible(t *testing.T) {
	t.Parallel()
	scope := NewScope(Unowned)
	rules := Rules{MinCapacity: 2}
	if !scope.Eligible(node("a", 8, true, fleet.Unowned), rules) {
		t.Error("rooted unowned node should be eligible for an unowned scope")
	}
	if scope.Eligible(node("home", 64, true, fleet.Home), rules) {
		t.Error("home node must be excluded from an unowned scope")
	}
	if scope.Eligible(node("r", 64, true, fleet.Rented), rules) {
		t.Error("rented node must be excluded from an unowned scope")
	}
}

func TestOverlaps(t *testing.T) {
	t.Parallel()
	if Overlaps(NewScope(Home), NewScope(Rented, Unowned)) {
		t.Error("disjoint scopes reported as overlapping")
	}
	if !Overlaps(NewScope(Home, Rented), NewScope(Rented)) {
		t.Error("scopes sharing rented not reported as overlapping")
	}
}
