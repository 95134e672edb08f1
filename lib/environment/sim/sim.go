// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sim is an in-memory fleet implementing every environment
// capability. It backs the reconciler and executor tests and the
// daemon's demo backend.
//
// Workers launched with the configured worker program run in-process:
// the network parses their arguments with lib/worker and runs them
// against itself as the operator, so a simulated deployment really
// performs operations and a kill really stops them. Operations take
// the configured per-kind duration on the network's clock and are
// recorded as completions.
//
// A Network is safe for concurrent use.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/swarm/lib/binhash"
	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/worker"
)

// ErrInsufficientCapacity is returned by Launch when the host cannot
// fit the requested threads.
var ErrInsufficientCapacity = errors.New("insufficient capacity")

// ErrInjected marks failures injected by FailNextLaunch and
// FailNextTransfer.
var ErrInjected = errors.New("injected failure")

// NodeSpec describes one simulated host.
type NodeSpec struct {
	ID          string
	Neighbors   []string
	MaxCapacity float64
	// BaseUsage is capacity consumed by things other than launched
	// processes.
	BaseUsage float64
	Root      bool
	Rented    bool
	Binaries  []string
}

// DefaultDurations are the operation durations of a network built
// without WithDuration. The ratios follow a weaken-dominated cycle:
// grow takes 80% and exploit 25% of a weaken.
var DefaultDurations = map[fleet.OperationKind]time.Duration{
	fleet.Weaken:  4 * time.Second,
	fleet.Grow:    3200 * time.Millisecond,
	fleet.Exploit: time.Second,
}

// Completion records one finished remote operation.
type Completion struct {
	Kind   fleet.OperationKind
	Target string
	At     time.Time
}

type node struct {
	spec     NodeSpec
	binaries map[string]binhash.Digest
}

type process struct {
	fleet.Process
	host   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Network is a simulated fleet.
type Network struct {
	clock         clock.Clock
	logger        *slog.Logger
	durations     map[fleet.OperationKind]time.Duration
	threadCost    map[string]float64
	workerProgram string

	mu               sync.Mutex
	nodes            map[string]*node
	processes        map[fleet.ProcessID]*process
	nextID           int
	completions      []Completion
	failLaunch       map[string]int
	failTransfer     map[string]int
	launchCount      map[string]int
	killCount        map[string]int
	transferCount    map[string]int
	completionNotify chan struct{}
}

// Option configures a Network.
type Option func(*Network)

// WithClock sets the clock used for operation durations.
func WithClock(c clock.Clock) Option {
	return func(n *Network) { n.clock = c }
}

// WithLogger sets the logger handed to in-process workers.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Network) { n.logger = logger }
}

// WithDuration sets how long operations of kind take.
func WithDuration(kind fleet.OperationKind, d time.Duration) Option {
	return func(n *Network) { n.durations[kind] = d }
}

// WithThreadCost sets the per-thread capacity cost of program. Programs
// without a cost consume nothing.
func WithThreadCost(program string, cost float64) Option {
	return func(n *Network) { n.threadCost[program] = cost }
}

// WithWorkerProgram names the program whose launches run lib/worker
// in-process.
func WithWorkerProgram(program string) Option {
	return func(n *Network) { n.workerProgram = program }
}

// New builds a network from node specs.
func New(specs []NodeSpec, options ...Option) (*Network, error) {
	network := &Network{
		clock:            clock.Real(),
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		durations:        make(map[fleet.OperationKind]time.Duration),
		threadCost:       make(map[string]float64),
		nodes:            make(map[string]*node),
		processes:        make(map[fleet.ProcessID]*process),
		failLaunch:       make(map[string]int),
		failTransfer:     make(map[string]int),
		launchCount:      make(map[string]int),
		killCount:        make(map[string]int),
		transferCount:    make(map[string]int),
		completionNotify: make(chan struct{}, 1),
	}
	for kind, duration := range DefaultDurations {
		network.durations[kind] = duration
	}
	for _, option := range options {
		option(network)
	}
	for _, spec := range specs {
		if err := network.AddNode(spec); err != nil {
			return nil, err
		}
	}
	return network, nil
}

// AddNode adds a host. Neighbor links are made symmetric.
func (n *Network) AddNode(spec NodeSpec) error {
	if spec.ID == "" {
		return errors.New("simulated node has no id")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.nodes[spec.ID]; exists {
		return fmt.Errorf("simulated node %s defined twice", spec.ID)
	}
	created := &node{spec: spec, binaries: make(map[string]binhash.Digest)}
	created.spec.Neighbors = slices.Clone(spec.Neighbors)
	for _, program := range spec.Binaries {
		created.binaries[program] = binhash.HashBytes([]byte(program))
	}
	n.nodes[spec.ID] = created
	for _, neighbor := range spec.Neighbors {
		if other, ok := n.nodes[neighbor]; ok && !slices.Contains(other.spec.Neighbors, spec.ID) {
			other.spec.Neighbors = append(other.spec.Neighbors, spec.ID)
		}
	}
	for id, other := range n.nodes {
		if slices.Contains(other.spec.Neighbors, spec.ID) && !slices.Contains(created.spec.Neighbors, id) {
			created.spec.Neighbors = append(created.spec.Neighbors, id)
		}
	}
	return nil
}

func (n *Network) lookup(host string) (*node, error) {
	found, ok := n.nodes[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", environment.ErrUnknownHost, host)
	}
	return found, nil
}

// Neighbors implements environment.Topology.
func (n *Network) Neighbors(_ context.Context, host string) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	found, err := n.lookup(host)
	if err != nil {
		return nil, err
	}
	return slices.Clone(found.spec.Neighbors), nil
}

// Capacity implements environment.Inventory. Used capacity includes
// the cost of every running process on the host.
func (n *Network) Capacity(_ context.Context, host string) (fleet.Capacity, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	found, err := n.lookup(host)
	if err != nil {
		return fleet.Capacity{}, err
	}
	return fleet.Capacity{Max: found.spec.MaxCapacity, Used: n.usedLocked(found)}, nil
}

func (n *Network) usedLocked(found *node) float64 {
	used := found.spec.BaseUsage
	for _, running := range n.processes {
		if running.host == found.spec.ID {
			used += float64(running.Threads) * n.threadCost[running.Program]
		}
	}
	return used
}

// HasRootAccess implements environment.Inventory.
func (n *Network) HasRootAccess(_ context.Context, host string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	found, err := n.lookup(host)
	if err != nil {
		return false, err
	}
	return found.spec.Root, nil
}

// RentedHosts implements environment.Inventory.
func (n *Network) RentedHosts(context.Context) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var rented []string
	for id, found := range n.nodes {
		if found.spec.Rented {
			rented = append(rented, id)
		}
	}
	sort.Strings(rented)
	return rented, nil
}

// ListProcesses implements environment.Processes, ordered by id.
func (n *Network) ListProcesses(_ context.Context, host string) ([]fleet.Process, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := n.lookup(host); err != nil {
		return nil, err
	}
	var list []fleet.Process
	for _, running := range n.processes {
		if running.host == host {
			entry := running.Process
			entry.Args = slices.Clone(entry.Args)
			list = append(list, entry)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// BinaryExists implements environment.Processes.
func (n *Network) BinaryExists(_ context.Context, host, program string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	found, err := n.lookup(host)
	if err != nil {
		return false, err
	}
	_, ok := found.binaries[program]
	return ok, nil
}

// TransferBinary implements environment.Processes.
func (n *Network) TransferBinary(_ context.Context, program, from, to string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	source, err := n.lookup(from)
	if err != nil {
		return err
	}
	destination, err := n.lookup(to)
	if err != nil {
		return err
	}
	if n.failTransfer[to] > 0 {
		n.failTransfer[to]--
		return fmt.Errorf("transferring %s to %s: %w", program, to, ErrInjected)
	}
	digest, ok := source.binaries[program]
	if !ok {
		return fmt.Errorf("transferring %s: not present on %s", program, from)
	}
	destination.binaries[program] = digest
	n.transferCount[to]++
	return nil
}

// Launch implements environment.Processes.
func (n *Network) Launch(_ context.Context, host, program string, threads int, args []string) (fleet.ProcessID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	found, err := n.lookup(host)
	if err != nil {
		return "", err
	}
	if threads < 1 {
		return "", fmt.Errorf("launching %s on %s: %d threads", program, host, threads)
	}
	if _, ok := found.binaries[program]; !ok {
		return "", fmt.Errorf("launching %s on %s: binary not present", program, host)
	}
	if n.failLaunch[host] > 0 {
		n.failLaunch[host]--
		return "", fmt.Errorf("launching %s on %s: %w", program, host, ErrInjected)
	}
	need := float64(threads) * n.threadCost[program]
	if free := found.spec.MaxCapacity - n.usedLocked(found); need > free+1e-9 {
		return "", fmt.Errorf("launching %s on %s: %w: need %.2f, free %.2f", program, host, ErrInsufficientCapacity, need, free)
	}

	var parsed worker.Args
	if program == n.workerProgram && n.workerProgram != "" {
		parsed, err = worker.Parse(args)
		if err != nil {
			return "", fmt.Errorf("launching %s on %s: %w", program, host, err)
		}
	}

	n.nextID++
	id := fleet.ProcessID(fmt.Sprintf("sim-%d", n.nextID))
	ctx, cancel := context.WithCancel(context.Background())
	running := &process{
		Process: fleet.Process{ID: id, Program: program, Args: slices.Clone(args), Threads: threads},
		host:    host,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	n.processes[id] = running
	n.launchCount[host]++

	if program == n.workerProgram && n.workerProgram != "" {
		logger := n.logger.With("host", host, "process", string(id))
		go func() {
			defer close(running.done)
			if err := worker.Run(ctx, parsed, n, n.clock, logger); err != nil {
				logger.Warn("simulated worker failed", "error", err)
			}
			n.mu.Lock()
			delete(n.processes, id)
			n.mu.Unlock()
		}()
	} else {
		close(running.done)
	}
	return id, nil
}

// KillAll implements environment.Processes.
func (n *Network) KillAll(_ context.Context, host string) error {
	n.mu.Lock()
	if _, err := n.lookup(host); err != nil {
		n.mu.Unlock()
		return err
	}
	var killed []*process
	for id, running := range n.processes {
		if running.host == host {
			killed = append(killed, running)
			delete(n.processes, id)
		}
	}
	n.killCount[host]++
	n.mu.Unlock()

	for _, running := range killed {
		running.cancel()
		<-running.done
	}
	return nil
}

// KillProcess implements environment.Processes.
func (n *Network) KillProcess(_ context.Context, host string, id fleet.ProcessID) error {
	n.mu.Lock()
	if _, err := n.lookup(host); err != nil {
		n.mu.Unlock()
		return err
	}
	running, ok := n.processes[id]
	if !ok || running.host != host {
		n.mu.Unlock()
		return nil
	}
	delete(n.processes, id)
	n.mu.Unlock()

	running.cancel()
	<-running.done
	return nil
}

// Perform implements environment.Operator: it takes the configured
// duration of kind on the network clock and records a completion.
func (n *Network) Perform(ctx context.Context, kind fleet.OperationKind, target string) error {
	n.mu.Lock()
	_, err := n.lookup(target)
	duration := n.durations[kind]
	n.mu.Unlock()
	if err != nil {
		return err
	}
	if err := clock.SleepContext(ctx, n.clock, duration); err != nil {
		return err
	}

	n.mu.Lock()
	n.completions = append(n.completions, Completion{Kind: kind, Target: target, At: n.clock.Now()})
	n.mu.Unlock()
	select {
	case n.completionNotify <- struct{}{}:
	default:
	}
	return nil
}
