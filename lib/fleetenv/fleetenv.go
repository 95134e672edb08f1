// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetenv assembles the environment a fleet configuration
// describes: a process backend (simulated or Docker) composed with a
// topology source (the backend itself, a static map, or etcd).
package fleetenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/config"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/environment/docker"
	"github.com/bureau-foundation/swarm/lib/environment/etcdtopology"
	"github.com/bureau-foundation/swarm/lib/environment/sim"
	"github.com/bureau-foundation/swarm/lib/imagecache"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// Backend is the assembled environment plus what shutdown must close.
type Backend struct {
	Name string
	Env  environment.Environment
	// Operator performs operations for an operator socket. Nil when
	// the backend has no in-process operator.
	Operator environment.Operator

	closers []func() error
	logger  *slog.Logger
}

// Close releases backend connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Error("closing backend", "backend", b.Name, "error", err)
		}
	}
}

// registryInventory takes rented membership from the etcd registry
// and everything else from the backend.
type registryInventory struct {
	environment.Inventory
	registry *etcdtopology.Registry
}

func (i registryInventory) RentedHosts(ctx context.Context) ([]string, error) {
	return i.registry.RentedHosts(ctx)
}

// Build connects the backend and topology source cfg names. cfg must
// already be validated.
func Build(cfg *config.Config, c clock.Clock, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	result := &Backend{Name: string(cfg.Backend), logger: logger}

	var inventory environment.Inventory
	var processes environment.Processes
	var native environment.Topology
	switch cfg.Backend {
	case config.BackendSim:
		network, err := buildSim(cfg, c, logger)
		if err != nil {
			return nil, err
		}
		inventory, processes, native = network, network, network
		result.Operator = network
	case config.BackendDocker:
		engines, err := buildDocker(cfg, logger)
		if err != nil {
			return nil, err
		}
		inventory, processes = engines, engines
		result.closers = append(result.closers, engines.Close)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	var topology environment.Topology
	switch cfg.Topology.Source {
	case config.TopologyEtcd:
		client, err := etcdtopology.Connect(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			result.Close()
			return nil, err
		}
		result.closers = append(result.closers, client.Close)
		registry := etcdtopology.New(client, cfg.Etcd.Prefix)
		topology = registry
		inventory = registryInventory{Inventory: inventory, registry: registry}
	default:
		if len(cfg.Topology.Static) > 0 {
			static := environment.StaticTopology(cfg.Topology.Static)
			if cfg.Topology.Undirected {
				static = static.Undirected()
			}
			topology = static
		} else if native != nil {
			topology = native
		} else {
			result.Close()
			return nil, errors.New("no topology configured")
		}
	}

	result.Env = environment.Compose(topology, inventory, processes)
	return result, nil
}

func buildSim(cfg *config.Config, c clock.Clock, logger *slog.Logger) (*sim.Network, error) {
	options := []sim.Option{
		sim.WithClock(c),
		sim.WithLogger(logger.With("backend", "sim")),
		sim.WithWorkerProgram(cfg.Simulation.WorkerProgram),
	}
	for program, cost := range cfg.Fleet.ThreadCosts {
		options = append(options, sim.WithThreadCost(program, cost))
	}
	for name, duration := range cfg.Simulation.Durations {
		kind, err := fleet.ParseOperationKind(name)
		if err != nil {
			return nil, err
		}
		options = append(options, sim.WithDuration(kind, duration))
	}

	specs := make([]sim.NodeSpec, 0, len(cfg.Simulation.Nodes))
	for _, node := range cfg.Simulation.Nodes {
		specs = append(specs, sim.NodeSpec{
			ID:          node.ID,
			Neighbors:   node.Neighbors,
			MaxCapacity: node.MaxCapacity,
			BaseUsage:   node.BaseUsage,
			Root:        node.Root,
			Rented:      node.Rented,
			Binaries:    node.Binaries,
		})
	}
	network, err := sim.New(specs, options...)
	if err != nil {
		return nil, fmt.Errorf("building simulated fleet: %w", err)
	}
	return network, nil
}

func buildDocker(cfg *config.Config, logger *slog.Logger) (*docker.Fleet, error) {
	compression, err := imagecache.ParseCompression(cfg.Docker.Compression)
	if err != nil {
		return nil, err
	}
	cache, err := imagecache.New(cfg.Docker.ImageCache, compression)
	if err != nil {
		return nil, err
	}

	hosts := make([]docker.Host, 0, len(cfg.Docker.Hosts))
	closeAll := func() {
		for _, host := range hosts {
			host.Engine.Close()
		}
	}
	for _, host := range cfg.Docker.Hosts {
		engine, err := docker.Connect(host.Endpoint)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("docker host %s: %w", host.ID, err)
		}
		hosts = append(hosts, docker.Host{ID: host.ID, Engine: engine, Root: host.Root, Rented: host.Rented})
	}

	options := []docker.Option{
		docker.WithLogger(logger.With("backend", "docker")),
		docker.WithOperatorAddress(cfg.Docker.OperatorAddress),
		docker.WithNetwork(cfg.Docker.Network),
	}
	for program, cost := range cfg.Fleet.ThreadCosts {
		options = append(options, docker.WithThreadCost(program, cost))
	}
	engines, err := docker.New(hosts, cache, options...)
	if err != nil {
		closeAll()
		return nil, err
	}
	return engines, nil
}
