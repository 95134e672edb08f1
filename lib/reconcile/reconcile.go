// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile keeps every managed host running one worker sized
// to its capacity.
//
// A Reconciler owns the hosts of the pools in its scope. Each tick it
// discovers the reachability graph, reads every host live, classifies
// it, and drives each managed host toward the desired deployment:
//
//	desired threads = floor((max capacity - reserve) / thread cost)
//
// A host whose recorded worker is running with the desired shape is
// current and left alone. A host with no worker, or whose worker is
// stale (capacity grew past what it was sized for, the thread count or
// arguments differ, or the binary is gone), is redeployed: everything
// on it is killed, the binary is copied from the home node, and a
// fresh worker is launched. A failed transfer or launch leaves the
// host absent and it is retried on the next tick, with no backoff.
//
// Several reconcilers may run against the same environment provided
// their scopes do not overlap. They share nothing; each host has
// exactly one deployment authority.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/discovery"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/ledger"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/sizing"
	"github.com/bureau-foundation/swarm/lib/worker"
)

// ErrNoCanonicalBinary is reported for hosts that need a redeploy
// while the home node lacks the worker binary. It is a configuration
// error: the host is abandoned for the tick and the rest continue.
var ErrNoCanonicalBinary = errors.New("worker binary missing on home node")

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock used for tick timestamps and the tick loop.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithLedger persists deployment records in store. Without it records
// live only in memory.
func WithLedger(store ledger.Store) Option {
	return func(r *Reconciler) { r.ledger = store }
}

// WithTickObserver calls observe with the report of every tick,
// successful or not, after it is published.
func WithTickObserver(observe func(TickReport)) Option {
	return func(r *Reconciler) { r.observe = observe }
}

// Reconciler is one reconciler variant.
type Reconciler struct {
	config  Config
	env     environment.Environment
	clock   clock.Clock
	logger  *slog.Logger
	ledger  ledger.Store
	observe func(TickReport)

	// tickMu serializes ticks and Drain.
	tickMu sync.Mutex
	loaded bool

	mu          sync.Mutex
	deployments map[string]fleet.Deployment
	hosts       []HostView
	lastReport  TickReport
	sequence    uint64
}

// New validates cfg and builds a reconciler. Nothing touches the
// environment until the first tick.
func New(cfg Config, env environment.Environment, options ...Option) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, errors.New("reconciler needs an environment")
	}
	r := &Reconciler{
		config:      cfg,
		env:         env,
		clock:       clock.Real(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		ledger:      ledger.NewMemory(),
		deployments: make(map[string]fleet.Deployment),
	}
	for _, option := range options {
		option(r)
	}
	r.logger = r.logger.With("reconciler", cfg.Name)
	return r, nil
}

// Config returns the reconciler's configuration.
func (r *Reconciler) Config() Config { return r.config }

// Run ticks immediately and then every Interval until ctx is done. A
// failed tick is logged and the loop waits for the next interval.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.config.interval()
	r.logger.Info("reconciler started",
		"target", r.config.Target,
		"mode", r.config.Mode,
		"scope", r.config.Scope.String(),
		"interval", interval,
	)
	r.runTick(ctx)

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			r.runTick(ctx)
		}
	}
}

func (r *Reconciler) runTick(ctx context.Context) {
	if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn("reconciliation tick failed", "error", err)
	}
}

// Tick performs one reconciliation pass. The returned error covers
// only failures that prevent the tick as a whole (loading the ledger,
// reading the graph); per-host failures are reported in the
// TickReport and never returned.
func (r *Reconciler) Tick(ctx context.Context) (TickReport, error) {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.mu.Lock()
	r.sequence++
	report := TickReport{Reconciler: r.config.Name, Sequence: r.sequence, Started: r.clock.Now()}
	r.mu.Unlock()

	err := r.tick(ctx, &report)
	report.Finished = r.clock.Now()

	r.mu.Lock()
	r.lastReport = report
	r.mu.Unlock()
	if r.observe != nil {
		r.observe(report)
	}
	if err != nil {
		return report, err
	}

	level := slog.LevelDebug
	if report.Kills+report.Launches+report.Adopted+report.Failed+report.Dropped > 0 {
		level = slog.LevelInfo
	}
	r.logger.Log(ctx, level, "reconciliation tick",
		"sequence", report.Sequence,
		"discovered", report.Discovered,
		"managed", len(report.Hosts),
		"kills", report.Kills,
		"launches", report.Launches,
		"transfers", report.Transfers,
		"adopted", report.Adopted,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"dropped", report.Dropped,
	)
	return report, nil
}

func (r *Reconciler) tick(ctx context.Context, report *TickReport) error {
	if err := r.loadLedger(ctx); err != nil {
		return err
	}

	graph, err := discovery.Snapshot(ctx, r.env, r.config.Root)
	if err != nil {
		return fmt.Errorf("discovering from %s: %w", r.config.Root, err)
	}
	ids := graph.Nodes(r.config.Root)
	slices.Sort(ids)
	report.Discovered = len(ids)

	rented, err := r.env.RentedHosts(ctx)
	if err != nil {
		return fmt.Errorf("listing rented hosts: %w", err)
	}

	views := make([]HostView, 0, len(ids))
	keep := make(map[string]bool)
	var managed []fleet.Node
	for _, id := range ids {
		view := r.observeHost(ctx, id, rented)
		views = append(views, view)
		if view.ReadError != "" {
			// Unknown state: neither manage nor relinquish.
			keep[id] = true
			report.Failed++
			report.Hosts = append(report.Hosts, HostOutcome{
				Host:   id,
				Action: ActionFail,
				Error:  view.ReadError,
				Node:   view.Node,
			})
			continue
		}
		if view.Managed {
			keep[id] = true
			managed = append(managed, view.Node)
		}
	}

	r.mu.Lock()
	r.hosts = views
	r.mu.Unlock()

	r.dropUnmanaged(ctx, keep, report)

	canonical := canonicalCheck{}
	for _, node := range managed {
		outcome := r.reconcileHost(ctx, node, &canonical, report)
		report.Hosts = append(report.Hosts, outcome)
	}
	slices.SortFunc(report.Hosts, func(a, b HostOutcome) int { return strings.Compare(a.Host, b.Host) })
	return nil
}

// loadLedger reads the persisted records once. Caller holds tickMu.
func (r *Reconciler) loadLedger(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	records, err := r.ledger.Load(ctx, r.config.Name)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	r.mu.Lock()
	for _, record := range records {
		r.deployments[record.Host] = record
	}
	r.mu.Unlock()
	r.loaded = true
	if len(records) > 0 {
		r.logger.Info("ledger loaded", "deployments", len(records))
	}
	return nil
}

// observeHost reads the live attributes of one host and classifies it.
func (r *Reconciler) observeHost(ctx context.Context, id string, rented []string) HostView {
	node := fleet.Node{ID: id, Class: classify.Ownership(id, r.config.home(), rented)}
	capacity, err := r.env.Capacity(ctx, id)
	if err != nil {
		r.logger.Warn("reading host capacity failed", "host", id, "error", err)
		return HostView{Node: node, ReadError: err.Error()}
	}
	node.Capacity = capacity
	root, err := r.env.HasRootAccess(ctx, id)
	if err != nil {
		r.logger.Warn("reading host root access failed", "host", id, "error", err)
		return HostView{Node: node, ReadError: err.Error()}
	}
	node.RootAccess = root

	pool := classify.Classify(node, r.config.rules())
	return HostView{Node: node, Pool: pool, Managed: r.config.Scope.Contains(pool)}
}

// dropUnmanaged forgets records of hosts that are no longer
// discovered or no longer in scope. Their workers are left running:
// this reconciler has given up authority over the host.
func (r *Reconciler) dropUnmanaged(ctx context.Context, keep map[string]bool, report *TickReport) {
	r.mu.Lock()
	var dropped []string
	for host := range r.deployments {
		if !keep[host] {
			dropped = append(dropped, host)
			delete(r.deployments, host)
		}
	}
	r.mu.Unlock()

	slices.Sort(dropped)
	for _, host := range dropped {
		report.Dropped++
		r.logger.Info("dropping deployment of unmanaged host", "host", host)
		if err := r.ledger.Delete(ctx, r.config.Name, host); err != nil {
			r.logger.Warn("deleting ledger record failed", "host", host, "error", err)
		}
	}
}

// canonicalCheck caches, for one tick, whether home has the binary.
type canonicalCheck struct {
	checked bool
	present bool
	err     error
}

func (r *Reconciler) canonicalPresent(ctx context.Context, check *canonicalCheck) (bool, error) {
	if !check.checked {
		check.present, check.err = r.env.BinaryExists(ctx, r.config.home(), r.config.Program)
		check.checked = check.err == nil
	}
	return check.present, check.err
}

func (r *Reconciler) record(host string) (fleet.Deployment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deployment, ok := r.deployments[host]
	return deployment, ok
}

func (r *Reconciler) setRecord(ctx context.Context, deployment fleet.Deployment) {
	r.mu.Lock()
	r.deployments[deployment.Host] = deployment
	r.mu.Unlock()
	if err := r.ledger.Save(ctx, r.config.Name, deployment); err != nil {
		r.logger.Warn("saving ledger record failed", "host", deployment.Host, "error", err)
	}
}

func (r *Reconciler) clearRecord(ctx context.Context, host string) {
	r.mu.Lock()
	_, existed := r.deployments[host]
	delete(r.deployments, host)
	r.mu.Unlock()
	if !existed {
		return
	}
	if err := r.ledger.Delete(ctx, r.config.Name, host); err != nil {
		r.logger.Warn("deleting ledger record failed", "host", host, "error", err)
	}
}

// reconcileHost drives one managed host toward its desired deployment.
func (r *Reconciler) reconcileHost(ctx context.Context, node fleet.Node, canonical *canonicalCheck, report *TickReport) HostOutcome {
	host := node.ID
	outcome := HostOutcome{Host: host, Pool: classify.Classify(node, r.config.rules()), Node: node}
	fail := func(message string, err error) HostOutcome {
		report.Failed++
		outcome.Action = ActionFail
		outcome.Reason = message
		outcome.Error = err.Error()
		if errors.Is(err, ErrNoCanonicalBinary) {
			r.logger.Error(message, "host", host, "error", err)
		} else {
			r.logger.Warn(message, "host", host, "error", err)
		}
		return outcome
	}

	desired := sizing.Threads(sizing.Available(node.Capacity.Max, r.config.Reserve), r.config.ThreadCost)
	outcome.Threads = desired
	if desired < 1 {
		report.Skipped++
		outcome.Action = ActionSkip
		outcome.Reason = fmt.Sprintf("capacity %.2f fits no thread of cost %.2f", node.Capacity.Max-r.config.Reserve, r.config.ThreadCost)
		r.logger.Debug("skipping host", "host", host, "max_capacity", node.Capacity.Max)
		return outcome
	}

	want := r.desiredDeployment(node, desired)
	processes, err := r.env.ListProcesses(ctx, host)
	if err != nil {
		return fail("listing processes failed", err)
	}
	binaryPresent, err := r.env.BinaryExists(ctx, host, r.config.Program)
	if err != nil {
		return fail("checking worker binary failed", err)
	}

	state, reason, adopted := r.assess(host, want, processes, binaryPresent)
	outcome.State = state
	outcome.Reason = reason

	switch {
	case state == Current && adopted != nil:
		r.setRecord(ctx, *adopted)
		report.Adopted++
		outcome.Action = ActionAdopt
		r.logger.Info("adopted running worker", "host", host, "threads", adopted.Threads, "process", string(adopted.Process))
		return outcome
	case state == Current:
		outcome.Action = ActionNone
		return outcome
	}

	// Absent or stale: redeploy.
	present, err := r.canonicalPresent(ctx, canonical)
	if err != nil {
		return fail("checking canonical binary failed", err)
	}
	if !present {
		return fail("cannot deploy", fmt.Errorf("%w: %s has no %s", ErrNoCanonicalBinary, r.config.home(), r.config.Program))
	}

	if err := r.env.KillAll(ctx, host); err != nil {
		return fail("killing processes failed", err)
	}
	report.Kills++
	r.clearRecord(ctx, host)

	if host != r.config.home() {
		if err := r.env.TransferBinary(ctx, r.config.Program, r.config.home(), host); err != nil {
			return fail("transferring worker binary failed", err)
		}
		report.Transfers++
	}

	id, err := r.env.Launch(ctx, host, r.config.Program, desired, want.Args)
	if err == nil && id == "" {
		err = environment.ErrLaunchFailed
	}
	if err != nil {
		return fail("launching worker failed", err)
	}
	report.Launches++

	want.Process = id
	want.DeployedAt = r.clock.Now()
	r.setRecord(ctx, want)
	outcome.Action = ActionRedeploy
	r.logger.Info("worker deployed",
		"host", host,
		"state", state.String(),
		"reason", reason,
		"threads", desired,
		"max_capacity", node.Capacity.Max,
		"process", string(id),
	)
	return outcome
}

func (r *Reconciler) desiredDeployment(node fleet.Node, threads int) fleet.Deployment {
	return fleet.Deployment{
		Host:             node.ID,
		Program:          r.config.Program,
		Target:           r.config.Target,
		Mode:             r.config.Mode,
		Threads:          threads,
		Args:             worker.LoopArgs(r.config.Target, r.config.Mode).Encode(),
		CapacityAtDeploy: node.Capacity.Max,
	}
}

// assess classifies a host. When the host has no record but runs
// exactly the desired worker and nothing else, it is current and
// adopted holds the record to store.
func (r *Reconciler) assess(host string, want fleet.Deployment, processes []fleet.Process, binaryPresent bool) (state State, reason string, adopted *fleet.Deployment) {
	recorded, ok := r.record(host)
	if !ok {
		if binaryPresent && len(processes) == 1 && want.Matches(processes[0]) {
			want.Process = processes[0].ID
			want.DeployedAt = r.clock.Now()
			return Current, "running worker matches", &want
		}
		return Absent, "no recorded deployment", nil
	}

	if !slices.ContainsFunc(processes, func(p fleet.Process) bool {
		return (recorded.Process == "" || p.ID == recorded.Process) && recorded.Matches(p)
	}) {
		return Absent, "recorded worker not running", nil
	}
	switch {
	case want.Target != recorded.Target || want.Mode != recorded.Mode || want.Program != recorded.Program:
		return Stale, "target or mode changed", nil
	case want.CapacityAtDeploy > recorded.CapacityAtDeploy:
		return Stale, fmt.Sprintf("capacity increased from %g to %g", recorded.CapacityAtDeploy, want.CapacityAtDeploy), nil
	case want.Threads != recorded.Threads:
		return Stale, fmt.Sprintf("thread count %d, want %d", recorded.Threads, want.Threads), nil
	case !slices.Equal(want.Args, recorded.Args):
		return Stale, "worker arguments changed", nil
	case !binaryPresent:
		return Stale, "worker binary missing", nil
	}
	return Current, "", nil
}
