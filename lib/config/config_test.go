// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const simConfig = `
fleet:
  root: home
  min_capacity: 2
  thread_costs:
    swarm-worker: 4
backend: sim
simulation:
  nodes:
    - id: home
      neighbors: [n00dles]
      max_capacity: 64
      binaries: [swarm-worker]
    - id: n00dles
      max_capacity: 8
      root: true
  durations:
    weaken: 40ms
    hack: 10ms
reconcilers:
  - name: grind
    scope: unowned,rented
    program: swarm-worker
    target: n00dles
    mode: cycle
    interval: 250ms
ledger:
  path: ${SWARM_TEST_STATE:-/var/lib/swarm}/ledger.db
socket: /tmp/swarm-test/fleetd.sock
`

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend != BackendSim {
		t.Errorf("Backend = %q, want sim", cfg.Backend)
	}
	if cfg.Topology.Source != TopologyStatic {
		t.Errorf("Topology.Source = %q, want static", cfg.Topology.Source)
	}
	if cfg.Etcd.DialTimeout != 5*time.Second {
		t.Errorf("Etcd.DialTimeout = %v", cfg.Etcd.DialTimeout)
	}
	if cfg.Simulation.WorkerProgram != "swarm-worker" {
		t.Errorf("WorkerProgram = %q", cfg.Simulation.WorkerProgram)
	}
}

func TestParseSimulation(t *testing.T) {
	t.Setenv("SWARM_TEST_STATE", "/state")
	cfg, err := Parse([]byte(simConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Fleet.Root != "home" || cfg.Home() != "home" {
		t.Errorf("root/home = %q/%q", cfg.Fleet.Root, cfg.Home())
	}
	if len(cfg.Simulation.Nodes) != 2 || cfg.Simulation.Nodes[1].MaxCapacity != 8 || !cfg.Simulation.Nodes[1].Root {
		t.Errorf("nodes = %+v", cfg.Simulation.Nodes)
	}
	if cfg.Simulation.Durations["weaken"] != 40*time.Millisecond {
		t.Errorf("weaken duration = %v", cfg.Simulation.Durations["weaken"])
	}

	r := cfg.Reconcilers[0]
	if r.Interval != 250*time.Millisecond {
		t.Errorf("interval = %v", r.Interval)
	}
	if cost := cfg.ThreadCost(r); cost != 4 {
		t.Errorf("ThreadCost = %v, want inherited 4", cost)
	}
	if cfg.Ledger.Path != "/state/ledger.db" {
		t.Errorf("ledger path = %q", cfg.Ledger.Path)
	}
	if cfg.Socket != "/tmp/swarm-test/fleetd.sock" {
		t.Errorf("socket = %q", cfg.Socket)
	}
}

func TestExpandDefault(t *testing.T) {
	t.Setenv("SWARM_TEST_STATE", "")
	cfg, err := Parse([]byte(simConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Ledger.Path != "/var/lib/swarm/ledger.db" {
		t.Errorf("ledger path = %q", cfg.Ledger.Path)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("fleet:\n  roots: home\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseEmptyIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Backend != BackendSim {
		t.Errorf("Backend = %q", cfg.Backend)
	}
}

func TestLoadRequiresEnv(t *testing.T) {
	t.Setenv(EnvVar, "")
	if _, err := Load(); !errors.Is(err, ErrNoConfig) {
		t.Errorf("Load = %v, want ErrNoConfig", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	if err := os.WriteFile(path, []byte(simConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reconcilers[0].Name != "grind" {
		t.Errorf("reconciler = %+v", cfg.Reconcilers[0])
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing root", func(c *Config) { c.Fleet.Root = "" }, "fleet.root is required"},
		{"unknown backend", func(c *Config) { c.Backend = "vm" }, "backend must be sim or docker"},
		{"bad scope", func(c *Config) { c.Reconcilers[0].Scope = "moon" }, `reconciler "grind"`},
		{"overlapping scopes", func(c *Config) {
			c.Reconcilers = append(c.Reconcilers, ReconcilerConfig{
				Name: "share", Scope: "rented", Program: "swarm-worker", Target: "x",
			})
		}, "overlaps"},
		{"duplicate name", func(c *Config) {
			c.Reconcilers = append(c.Reconcilers, ReconcilerConfig{
				Name: "grind", Scope: "home", Program: "swarm-worker", Target: "x",
			})
		}, "duplicate name"},
		{"no thread cost", func(c *Config) { c.Fleet.ThreadCosts = nil }, "thread_cost is required"},
		{"bad duration kind", func(c *Config) {
			c.Simulation.Durations = map[string]time.Duration{"smash": time.Second}
		}, "simulation.durations"},
		{"docker without hosts", func(c *Config) { c.Backend = BackendDocker }, "docker.hosts is required"},
		{"etcd without endpoints", func(c *Config) { c.Topology.Source = TopologyEtcd }, "etcd.endpoints"},
		{"bad mode", func(c *Config) { c.Reconcilers[0].Mode = "smash" }, "mode"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(simConfig))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateDocker(t *testing.T) {
	cfg, err := Parse([]byte(`
fleet:
  root: home
  thread_costs: {swarm-worker: 0.5}
backend: docker
topology:
  static:
    home: [edge-1]
  undirected: true
docker:
  image_cache: /var/cache/swarm
  compression: lz4
  hosts:
    - id: home
      endpoint: unix:///var/run/docker.sock
    - id: edge-1
      endpoint: tcp://10.0.0.5:2375
      root: true
      rented: true
reconcilers:
  - name: fleet
    scope: rented
    program: swarm-worker
    target: n00dles
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.Docker.Hosts[1].Rented || cfg.Docker.Compression != "lz4" {
		t.Errorf("docker = %+v", cfg.Docker)
	}
}
