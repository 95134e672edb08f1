// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleetenv

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/config"
	"github.com/bureau-foundation/swarm/lib/environment/sim"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/testutil"
)

const simFleet = `
fleet:
  root: home
  thread_costs:
    swarm-worker: 2
simulation:
  durations:
    grow: 3s
  nodes:
    - id: home
      max_capacity: 32
      root: true
      binaries: [swarm-worker]
    - id: n00dles
      neighbors: [home]
      max_capacity: 4
      root: true
    - id: rented-0
      max_capacity: 8
      root: true
      rented: true
`

func build(t *testing.T, text string) *Backend {
	t.Helper()
	cfg, err := config.Parse([]byte(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	backend, err := Build(cfg, clock.Fake(time.Unix(0, 0)), testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(backend.Close)
	return backend
}

func TestBuildSim(t *testing.T) {
	backend := build(t, simFleet)
	ctx := context.Background()
	if backend.Name != "sim" {
		t.Errorf("Name = %q", backend.Name)
	}
	if _, ok := backend.Operator.(*sim.Network); !ok {
		t.Errorf("Operator = %T, want the simulated network", backend.Operator)
	}

	neighbors, err := backend.Env.Neighbors(ctx, "n00dles")
	if err != nil || !slices.Equal(neighbors, []string{"home"}) {
		t.Errorf("Neighbors(n00dles) = %v, %v", neighbors, err)
	}
	rented, err := backend.Env.RentedHosts(ctx)
	if err != nil || !slices.Equal(rented, []string{"rented-0"}) {
		t.Errorf("RentedHosts = %v, %v", rented, err)
	}

	id, err := backend.Env.Launch(ctx, "home", "swarm-worker", 16, []string{"--target", "n00dles", "--mode", "grow"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { backend.Env.KillProcess(context.Background(), "home", id) })
	capacity, err := backend.Env.Capacity(ctx, "home")
	if err != nil || capacity.Used != 32 {
		t.Errorf("Capacity(home) = %+v, %v; want the configured thread cost applied", capacity, err)
	}
}

func TestBuildSimDuration(t *testing.T) {
	cfg, err := config.Parse([]byte(simFleet))
	if err != nil {
		t.Fatal(err)
	}
	fakeClock := clock.Fake(time.Unix(0, 0))
	backend, err := Build(cfg, fakeClock, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer backend.Close()

	done := make(chan error, 1)
	go func() { done <- backend.Operator.Perform(context.Background(), fleet.Grow, "n00dles") }()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(2 * time.Second)
	select {
	case err := <-done:
		t.Fatalf("Perform returned %v before the configured grow duration elapsed", err)
	default:
	}
	fakeClock.Advance(time.Second)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "grow completion"); err != nil {
		t.Errorf("Perform: %v", err)
	}
}

func TestStaticTopologyOverridesBackend(t *testing.T) {
	backend := build(t, simFleet+`
topology:
  source: static
  static:
    home: [rented-0]
  undirected: true
`)
	ctx := context.Background()
	neighbors, err := backend.Env.Neighbors(ctx, "home")
	if err != nil || !slices.Equal(neighbors, []string{"rented-0"}) {
		t.Errorf("Neighbors(home) = %v, %v", neighbors, err)
	}
	neighbors, err = backend.Env.Neighbors(ctx, "rented-0")
	if err != nil || !slices.Equal(neighbors, []string{"home"}) {
		t.Errorf("Neighbors(rented-0) = %v, %v; want the reverse edge", neighbors, err)
	}
}

func TestBuildErrors(t *testing.T) {
	cfg, err := config.Parse([]byte(simFleet))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Simulation.Durations["sing"] = time.Second
	if _, err := Build(cfg, clock.Fake(time.Unix(0, 0)), nil); err == nil || !strings.Contains(err.Error(), "sing") {
		t.Errorf("Build with unknown duration kind = %v", err)
	}

	cfg, err = config.Parse([]byte(simFleet))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Backend = "vm"
	if _, err := Build(cfg, clock.Fake(time.Unix(0, 0)), nil); err == nil {
		t.Error("Build accepted an unknown backend")
	}
}
