// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package docker runs a fleet whose members are Docker engines.
//
// Each host is one engine. A program is an image reference; a worker
// process is a container started from it and labeled as managed by
// swarm. Capacity is memory: a host's maximum is the engine's physical
// memory and its usage is the sum of managed containers' memory
// limits, both in units of MemoryUnit bytes. Each launch reserves
// threads × thread cost units as the container's memory limit.
//
// Transferring a program exports the image from the source engine
// (through an imagecache.Cache, so each image build is saved once)
// and loads it into the destination.
//
// Topology is not the engines' concern; pair a Fleet with a static or
// etcd topology through environment.Compose.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/imagecache"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// Labels placed on every managed container.
const (
	LabelManaged = "dev.swarm.managed"
	LabelProgram = "dev.swarm.program"
	LabelThreads = "dev.swarm.threads"
)

// MemoryUnit is the number of bytes in one unit of capacity.
const MemoryUnit = 1 << 30

// ErrNoThreadCost is returned by Launch for a program with no
// configured thread cost.
var ErrNoThreadCost = errors.New("no thread cost configured for program")

// Host is one fleet member.
type Host struct {
	ID     string
	Engine Engine
	Root   bool
	Rented bool
}

// Fleet implements environment.Inventory and environment.Processes
// over a set of engines.
type Fleet struct {
	hosts       map[string]Host
	order       []string
	cache       *imagecache.Cache
	threadCosts map[string]float64
	operator    string
	network     string
	logger      *slog.Logger

	transferMu sync.Mutex
}

// Option configures a Fleet.
type Option func(*Fleet)

// WithThreadCost sets the capacity units one thread of program uses.
func WithThreadCost(program string, cost float64) Option {
	return func(f *Fleet) { f.threadCosts[program] = cost }
}

// WithOperatorAddress passes address to workers in SWARM_OPERATOR.
func WithOperatorAddress(address string) Option {
	return func(f *Fleet) { f.operator = address }
}

// WithNetwork attaches workers to a Docker network.
func WithNetwork(network string) Option {
	return func(f *Fleet) { f.network = network }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fleet) { f.logger = logger }
}

// New builds a fleet over hosts. The cache holds exported images.
func New(hosts []Host, cache *imagecache.Cache, options ...Option) (*Fleet, error) {
	f := &Fleet{
		hosts:       make(map[string]Host, len(hosts)),
		cache:       cache,
		threadCosts: make(map[string]float64),
	}
	for _, host := range hosts {
		if host.ID == "" || host.Engine == nil {
			return nil, fmt.Errorf("docker host needs an id and an engine")
		}
		if strings.Contains(host.ID, "/") {
			return nil, fmt.Errorf("docker host id %q must not contain '/'", host.ID)
		}
		if _, dup := f.hosts[host.ID]; dup {
			return nil, fmt.Errorf("duplicate docker host %q", host.ID)
		}
		f.hosts[host.ID] = host
		f.order = append(f.order, host.ID)
	}
	for _, option := range options {
		option(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return f, nil
}

// Close closes every engine connection.
func (f *Fleet) Close() error {
	var errs []error
	for _, id := range f.order {
		errs = append(errs, f.hosts[id].Engine.Close())
	}
	return errors.Join(errs...)
}

func (f *Fleet) host(id string) (Host, error) {
	host, ok := f.hosts[id]
	if !ok {
		return Host{}, fmt.Errorf("%w: %s", environment.ErrUnknownHost, id)
	}
	return host, nil
}

func (f *Fleet) managed(ctx context.Context, host Host) ([]Container, error) {
	containers, err := host.Engine.ListContainers(ctx, LabelManaged, "true")
	if err != nil {
		return nil, fmt.Errorf("listing containers on %s: %w", host.ID, err)
	}
	return containers, nil
}

// Capacity reports memory in units of MemoryUnit.
func (f *Fleet) Capacity(ctx context.Context, id string) (fleet.Capacity, error) {
	host, err := f.host(id)
	if err != nil {
		return fleet.Capacity{}, err
	}
	total, err := host.Engine.MemoryTotal(ctx)
	if err != nil {
		return fleet.Capacity{}, fmt.Errorf("reading memory of %s: %w", id, err)
	}
	containers, err := f.managed(ctx, host)
	if err != nil {
		return fleet.Capacity{}, err
	}
	var used int64
	for _, c := range containers {
		used += c.MemoryLimit
	}
	return fleet.Capacity{
		Max:  float64(total) / MemoryUnit,
		Used: float64(used) / MemoryUnit,
	}, nil
}

// HasRootAccess reports the configured root flag.
func (f *Fleet) HasRootAccess(_ context.Context, id string) (bool, error) {
	host, err := f.host(id)
	if err != nil {
		return false, err
	}
	return host.Root, nil
}

// RentedHosts lists hosts configured as rented, in configuration
// order.
func (f *Fleet) RentedHosts(context.Context) ([]string, error) {
	var rented []string
	for _, id := range f.order {
		if f.hosts[id].Rented {
			rented = append(rented, id)
		}
	}
	return rented, nil
}

// ListProcesses returns the managed containers on a host.
func (f *Fleet) ListProcesses(ctx context.Context, id string) ([]fleet.Process, error) {
	host, err := f.host(id)
	if err != nil {
		return nil, err
	}
	containers, err := f.managed(ctx, host)
	if err != nil {
		return nil, err
	}
	processes := make([]fleet.Process, 0, len(containers))
	for _, c := range containers {
		program := c.Labels[LabelProgram]
		if program == "" {
			program = c.Image
		}
		threads, _ := strconv.Atoi(c.Labels[LabelThreads])
		processes = append(processes, fleet.Process{
			ID:      processID(id, c.ID),
			Program: program,
			Args:    slices.Clone(c.Command),
			Threads: threads,
		})
	}
	return processes, nil
}

// BinaryExists reports whether the engine has the program's image.
func (f *Fleet) BinaryExists(ctx context.Context, id, program string) (bool, error) {
	host, err := f.host(id)
	if err != nil {
		return false, err
	}
	_, found, err := host.Engine.ImageID(ctx, program)
	if err != nil {
		return false, fmt.Errorf("inspecting %s on %s: %w", program, id, err)
	}
	return found, nil
}

// TransferBinary exports program's image from one engine and loads it
// into another.
func (f *Fleet) TransferBinary(ctx context.Context, program, from, to string) error {
	source, err := f.host(from)
	if err != nil {
		return err
	}
	destination, err := f.host(to)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}

	f.transferMu.Lock()
	defer f.transferMu.Unlock()

	imageID, found, err := source.Engine.ImageID(ctx, program)
	if err != nil {
		return fmt.Errorf("inspecting %s on %s: %w", program, from, err)
	}
	if !found {
		return fmt.Errorf("image %s not present on %s", program, from)
	}

	entry, cached, err := f.cache.Lookup(program, imageID)
	if err != nil {
		return err
	}
	if !cached {
		entry, err = f.export(ctx, source, program, imageID)
		if err != nil {
			return err
		}
	}

	archive, err := f.cache.Open(entry)
	if err != nil {
		return err
	}
	defer archive.Close()
	if err := destination.Engine.LoadImage(ctx, archive); err != nil {
		if errors.Is(err, imagecache.ErrCorrupt) {
			f.cache.Remove(program)
		}
		return fmt.Errorf("loading %s into %s: %w", program, to, err)
	}
	f.logger.Info("image transferred",
		"program", program,
		"from", from,
		"to", to,
		"digest", entry.Digest.Short(),
		"cached", cached,
	)
	return nil
}

func (f *Fleet) export(ctx context.Context, source Host, program, imageID string) (imagecache.Entry, error) {
	saved, err := source.Engine.SaveImage(ctx, program)
	if err != nil {
		return imagecache.Entry{}, fmt.Errorf("saving %s from %s: %w", program, source.ID, err)
	}
	defer saved.Close()
	entry, err := f.cache.Store(program, imageID, saved)
	if err != nil {
		return imagecache.Entry{}, fmt.Errorf("caching %s: %w", program, err)
	}
	f.logger.Debug("image exported",
		"program", program,
		"size", entry.Size,
		"stored", entry.Stored,
		"compression", entry.Compression,
	)
	return entry, nil
}

// Launch starts a managed container of program with a memory limit
// covering threads.
func (f *Fleet) Launch(ctx context.Context, id, program string, threads int, args []string) (fleet.ProcessID, error) {
	host, err := f.host(id)
	if err != nil {
		return "", err
	}
	if threads <= 0 {
		return "", fmt.Errorf("launching %s on %s: thread count %d", program, id, threads)
	}
	cost, ok := f.threadCosts[program]
	if !ok || cost <= 0 {
		return "", fmt.Errorf("%w: %s", ErrNoThreadCost, program)
	}

	spec := ContainerSpec{
		Image:   program,
		Command: slices.Clone(args),
		Env:     []string{"SWARM_THREADS=" + strconv.Itoa(threads)},
		Labels: map[string]string{
			LabelManaged: "true",
			LabelProgram: program,
			LabelThreads: strconv.Itoa(threads),
		},
		MemoryLimit: int64(float64(threads) * cost * MemoryUnit),
		Network:     f.network,
	}
	if f.operator != "" {
		spec.Env = append(spec.Env, "SWARM_OPERATOR="+f.operator)
	}
	containerID, err := host.Engine.RunContainer(ctx, spec)
	if err != nil {
		return "", fmt.Errorf("starting %s on %s: %w", program, id, err)
	}
	if containerID == "" {
		return "", environment.ErrLaunchFailed
	}
	return processID(id, containerID), nil
}

// KillAll removes every managed container on a host.
func (f *Fleet) KillAll(ctx context.Context, id string) error {
	host, err := f.host(id)
	if err != nil {
		return err
	}
	containers, err := f.managed(ctx, host)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range containers {
		if err := host.Engine.RemoveContainer(ctx, c.ID); err != nil {
			errs = append(errs, fmt.Errorf("removing %s on %s: %w", c.ID, id, err))
		}
	}
	return errors.Join(errs...)
}

// KillProcess removes one managed container.
func (f *Fleet) KillProcess(ctx context.Context, id string, process fleet.ProcessID) error {
	host, err := f.host(id)
	if err != nil {
		return err
	}
	owner, containerID, ok := strings.Cut(string(process), "/")
	if !ok || owner != id || containerID == "" {
		return fmt.Errorf("process %q does not belong to host %s", process, id)
	}
	if err := host.Engine.RemoveContainer(ctx, containerID); err != nil {
		return fmt.Errorf("removing %s on %s: %w", containerID, id, err)
	}
	return nil
}

func processID(host, containerID string) fleet.ProcessID {
	return fleet.ProcessID(host + "/" + containerID)
}

var (
	_ environment.Inventory = (*Fleet)(nil)
	_ environment.Processes = (*Fleet)(nil)
)
