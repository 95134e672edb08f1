// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/environment/sim"
	"github.com/bureau-foundation/swarm/lib/ledger"
	"github.com/bureau-foundation/swarm/lib/testutil"
	"github.com/bureau-foundation/swarm/lib/worker"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newFleet(t *testing.T) *sim.Network {
	t.Helper()
	network, err := sim.New([]sim.NodeSpec{
		{ID: "home", MaxCapacity: 64, Root: true, Binaries: []string{"worker"}},
		{ID: "rented-0", Neighbors: []string{"home"}, MaxCapacity: 16, Root: true, Rented: true},
		{ID: "n00dles", Neighbors: []string{"home"}, MaxCapacity: 8, Root: true},
		{ID: "sigma", Neighbors: []string{"n00dles"}, MaxCapacity: 32},
		{ID: "tiny", Neighbors: []string{"n00dles"}, MaxCapacity: 2, Root: true},
	}, sim.WithThreadCost("worker", 4))
	if err != nil {
		t.Fatalf("sim.New: %v", err)
	}
	return network
}

func testConfig() Config {
	return Config{
		Name:       "fleet",
		Root:       "home",
		Program:    "worker",
		Target:     "joesguns",
		Mode:       "grow",
		ThreadCost: 4,
		Scope:      classify.NewScope(classify.Rented, classify.Unowned),
		Interval:   10 * time.Second,
	}
}

func newReconciler(t *testing.T, env environment.Environment, cfg Config, options ...Option) *Reconciler {
	t.Helper()
	options = append([]Option{WithClock(clock.Fake(epoch)), WithLogger(testutil.DiscardLogger())}, options...)
	r, err := New(cfg, env, options...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func tick(t *testing.T, r *Reconciler) TickReport {
	t.Helper()
	report, err := r.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return report
}

func outcome(t *testing.T, report TickReport, host string) HostOutcome {
	t.Helper()
	result, ok := report.Outcome(host)
	if !ok {
		t.Fatalf("no outcome for %s in %+v", host, report.Hosts)
	}
	return result
}

func threadsOn(t *testing.T, network *sim.Network, host string) int {
	t.Helper()
	processes, err := network.ListProcesses(context.Background(), host)
	if err != nil {
		t.Fatalf("ListProcesses(%s): %v", host, err)
	}
	total := 0
	for _, p := range processes {
		total += p.Threads
	}
	return total
}

func TestTick_InitialDeployment(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())

	report := tick(t, r)
	if report.Discovered != 5 {
		t.Errorf("Discovered = %d, want 5", report.Discovered)
	}
	if report.Launches != 2 || report.Kills != 2 || report.Transfers != 2 || report.Skipped != 1 {
		t.Errorf("report counters = %+v", report)
	}
	if got := threadsOn(t, network, "rented-0"); got != 4 {
		t.Errorf("rented-0 runs %d threads, want 4", got)
	}
	if got := threadsOn(t, network, "n00dles"); got != 2 {
		t.Errorf("n00dles runs %d threads, want 2", got)
	}
	if got := outcome(t, report, "tiny"); got.Action != ActionSkip {
		t.Errorf("tiny outcome = %+v, want skip", got)
	}
	if _, ok := report.Outcome("sigma"); ok {
		t.Error("sigma has no root access and must not be managed")
	}
	if _, ok := report.Outcome("home"); ok {
		t.Error("home is outside the scope and must not be managed")
	}
	if network.Counters("home").Kills != 0 {
		t.Error("reconciler touched the home node")
	}

	deployments := r.Deployments()
	if len(deployments) != 2 || deployments[0].Host != "n00dles" || deployments[1].Host != "rented-0" {
		t.Fatalf("Deployments = %+v", deployments)
	}
	if deployments[1].CapacityAtDeploy != 16 || deployments[1].Process == "" {
		t.Errorf("rented-0 record = %+v", deployments[1])
	}
}

func TestTick_Idempotent(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	tick(t, r)

	second := tick(t, r)
	if second.Kills != 0 || second.Launches != 0 || second.Transfers != 0 {
		t.Errorf("second tick with unchanged capacity did work: %+v", second)
	}
	if got := outcome(t, second, "rented-0"); got.State != Current || got.Action != ActionNone {
		t.Errorf("rented-0 outcome = %+v, want current/none", got)
	}
}

func TestTick_CapacityIncreaseRedeploys(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	tick(t, r)

	if err := network.SetCapacity("rented-0", 32); err != nil {
		t.Fatal(err)
	}
	report := tick(t, r)
	got := outcome(t, report, "rented-0")
	if got.State != Stale || got.Action != ActionRedeploy || got.Threads != 8 {
		t.Fatalf("rented-0 outcome = %+v, want stale redeploy to 8", got)
	}
	if !strings.Contains(got.Reason, "capacity increased") {
		t.Errorf("reason = %q", got.Reason)
	}
	if threads := threadsOn(t, network, "rented-0"); threads != 8 {
		t.Errorf("rented-0 runs %d threads, want 8", threads)
	}
	processes, _ := network.ListProcesses(context.Background(), "rented-0")
	if len(processes) != 1 {
		t.Errorf("rented-0 runs %d processes after redeploy, want exactly 1", len(processes))
	}
	if report.Kills != 1 || report.Launches != 1 {
		t.Errorf("only rented-0 should be redeployed: %+v", report)
	}
}

func TestTick_LaunchFailureRetriedNextTick(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	network.FailNextLaunch("rented-0", 1)

	first := tick(t, r)
	if got := outcome(t, first, "rented-0"); got.Action != ActionFail {
		t.Fatalf("rented-0 outcome = %+v, want fail", got)
	}
	if first.Failed != 1 || first.Launches != 1 {
		t.Errorf("first tick = %+v", first)
	}
	for _, d := range r.Deployments() {
		if d.Host == "rented-0" {
			t.Fatal("failed launch left a deployment record")
		}
	}

	second := tick(t, r)
	if got := outcome(t, second, "rented-0"); got.State != Absent || got.Action != ActionRedeploy {
		t.Errorf("rented-0 second outcome = %+v, want absent redeploy", got)
	}
	if second.Launches != 1 {
		t.Errorf("second tick launches = %d, want 1", second.Launches)
	}
}

func TestTick_TransferFailureLeavesHostAbsent(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	network.FailNextTransfer("n00dles", 1)

	first := tick(t, r)
	if got := outcome(t, first, "n00dles"); got.Action != ActionFail {
		t.Fatalf("n00dles outcome = %+v, want fail", got)
	}
	if threadsOn(t, network, "n00dles") != 0 {
		t.Error("worker launched despite failed transfer")
	}
	if got := outcome(t, tick(t, r), "n00dles"); got.Action != ActionRedeploy {
		t.Errorf("retry outcome = %+v", got)
	}
}

func TestTick_MissingCanonicalBinary(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	if err := network.RemoveBinary("home", "worker"); err != nil {
		t.Fatal(err)
	}
	r := newReconciler(t, network, testConfig())

	report := tick(t, r)
	got := outcome(t, report, "rented-0")
	if got.Action != ActionFail || !strings.Contains(got.Error, ErrNoCanonicalBinary.Error()) {
		t.Errorf("rented-0 outcome = %+v", got)
	}
	if report.Kills != 0 {
		t.Error("hosts were killed although nothing could be deployed")
	}
	if got := outcome(t, report, "tiny"); got.Action != ActionSkip {
		t.Errorf("tiny outcome = %+v; other hosts must still be processed", got)
	}
}

func TestTick_ExternallyKilledWorkerIsAbsent(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	tick(t, r)

	if err := network.KillAll(context.Background(), "n00dles"); err != nil {
		t.Fatal(err)
	}
	got := outcome(t, tick(t, r), "n00dles")
	if got.State != Absent || got.Action != ActionRedeploy {
		t.Errorf("n00dles outcome = %+v, want absent redeploy", got)
	}
}

func TestTick_AdoptsRunningWorker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	network := newFleet(t)
	if err := network.TransferBinary(ctx, "worker", "home", "rented-0"); err != nil {
		t.Fatal(err)
	}
	args := worker.LoopArgs("joesguns", "grow").Encode()
	id, err := network.Launch(ctx, "rented-0", "worker", 4, args)
	if err != nil {
		t.Fatal(err)
	}

	r := newReconciler(t, network, testConfig())
	report := tick(t, r)
	got := outcome(t, report, "rented-0")
	if got.Action != ActionAdopt || got.State != Current {
		t.Fatalf("rented-0 outcome = %+v, want adopt", got)
	}
	if network.Counters("rented-0").Kills != 0 {
		t.Error("adopted worker was killed")
	}
	for _, d := range r.Deployments() {
		if d.Host == "rented-0" && d.Process != id {
			t.Errorf("adopted record process = %s, want %s", d.Process, id)
		}
	}
}

func TestTick_WrongShapedWorkerIsReplaced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	network := newFleet(t)
	if err := network.TransferBinary(ctx, "worker", "home", "rented-0"); err != nil {
		t.Fatal(err)
	}
	if _, err := network.Launch(ctx, "rented-0", "worker", 2, worker.LoopArgs("n00dles", "weaken").Encode()); err != nil {
		t.Fatal(err)
	}

	r := newReconciler(t, network, testConfig())
	got := outcome(t, tick(t, r), "rented-0")
	if got.Action != ActionRedeploy {
		t.Fatalf("rented-0 outcome = %+v, want redeploy", got)
	}
	processes, _ := network.ListProcesses(ctx, "rented-0")
	if len(processes) != 1 || processes[0].Threads != 4 {
		t.Errorf("processes after redeploy = %+v", processes)
	}
}

func TestTick_LedgerSurvivesRestart(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	store := ledger.NewMemory()
	first := newReconciler(t, network, testConfig(), WithLedger(store))
	tick(t, first)

	// A restarted daemon sees the old records, so a capacity change
	// made while it was down is still detected as stale.
	if err := network.SetCapacity("rented-0", 32); err != nil {
		t.Fatal(err)
	}
	restarted := newReconciler(t, network, testConfig(), WithLedger(store))
	report := tick(t, restarted)
	if got := outcome(t, report, "rented-0"); got.State != Stale || got.Threads != 8 {
		t.Errorf("rented-0 outcome after restart = %+v, want stale/8", got)
	}
	if got := outcome(t, report, "n00dles"); got.State != Current {
		t.Errorf("n00dles outcome after restart = %+v, want current", got)
	}
	records, _ := store.Load(context.Background(), "fleet")
	for _, record := range records {
		if record.Host == "rented-0" && record.CapacityAtDeploy != 32 {
			t.Errorf("ledger record not updated: %+v", record)
		}
	}
}

func TestTick_DropsHostsLeavingScope(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	cfg := testConfig()
	cfg.Scope = classify.NewScope(classify.Rented)
	store := ledger.NewMemory()
	r := newReconciler(t, network, cfg, WithLedger(store))
	tick(t, r)
	if len(r.Deployments()) != 1 {
		t.Fatalf("Deployments = %+v", r.Deployments())
	}

	if err := network.SetRented("rented-0", false); err != nil {
		t.Fatal(err)
	}
	report := tick(t, r)
	if report.Dropped != 1 || len(r.Deployments()) != 0 {
		t.Errorf("dropped = %d, deployments = %+v", report.Dropped, r.Deployments())
	}
	if records, _ := store.Load(context.Background(), "fleet"); len(records) != 0 {
		t.Errorf("ledger still holds %+v", records)
	}
	if threadsOn(t, network, "rented-0") != 4 {
		t.Error("relinquished host's worker should be left running")
	}
}

func TestTick_RentedHostWithoutRootIsNotManaged(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	if err := network.SetRoot("rented-0", false); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.Scope = classify.NewScope(classify.Rented)
	r := newReconciler(t, network, cfg)

	report := tick(t, r)
	if _, ok := report.Outcome("rented-0"); ok {
		t.Errorf("rented-0 has no root access and must not be managed: %+v", report.Hosts)
	}
	if report.Launches != 0 || network.Counters("rented-0").Launches != 0 {
		t.Errorf("launched on a host without root: %+v", report)
	}
	if r.Manages("rented-0") {
		t.Error("Manages(rented-0) = true for a host without root")
	}
}

func TestClaimsBeforeFirstTick(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	ctx := context.Background()

	cases := map[string]bool{
		"rented-0": true,
		"n00dles":  true,
		"home":     false,
		"sigma":    false,
		"tiny":     true,
	}
	for host, want := range cases {
		got, err := r.Claims(ctx, host)
		if err != nil {
			t.Errorf("Claims(%s): %v", host, err)
			continue
		}
		if got != want {
			t.Errorf("Claims(%s) = %v, want %v", host, got, want)
		}
		if r.Manages(host) {
			t.Errorf("Manages(%s) = true before any tick", host)
		}
	}

	claimed, err := r.Claims(ctx, "nowhere")
	if err == nil || !claimed {
		t.Errorf("Claims(nowhere) = %v, %v; want claimed with a read error", claimed, err)
	}
}

func TestTick_HomeScopeWithReserve(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	cfg := testConfig()
	cfg.Name = "home"
	cfg.Scope = classify.NewScope(classify.Home)
	cfg.Reserve = 10
	r := newReconciler(t, network, cfg)

	report := tick(t, r)
	got := outcome(t, report, "home")
	if got.Threads != 13 || got.Action != ActionRedeploy {
		t.Errorf("home outcome = %+v, want 13 threads", got)
	}
	if report.Transfers != 0 {
		t.Error("the home node should never receive a transfer")
	}
}

type failingTopology struct{ environment.Environment }

func (failingTopology) Neighbors(context.Context, string) ([]string, error) {
	return nil, errors.New("registry down")
}

func TestTick_DiscoveryFailure(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	r := newReconciler(t, failingTopology{network}, testConfig())
	report, err := r.Tick(context.Background())
	if err == nil {
		t.Fatal("Tick should fail when discovery fails")
	}
	if report.Launches != 0 || r.LastReport().Sequence != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	network := newFleet(t)
	r := newReconciler(t, network, testConfig())
	tick(t, r)

	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if threadsOn(t, network, "rented-0") != 0 || threadsOn(t, network, "n00dles") != 0 {
		t.Error("Drain left workers running")
	}
	if len(r.Deployments()) != 0 {
		t.Errorf("Deployments after drain = %+v", r.Deployments())
	}
}

func TestRun_TicksOnInterval(t *testing.T) {
	t.Parallel()
	network := newFleet(t)
	fake := clock.Fake(epoch)
	reports := make(chan TickReport, 4)
	r, err := New(testConfig(), network,
		WithClock(fake),
		WithLogger(testutil.DiscardLogger()),
		WithTickObserver(func(report TickReport) { reports <- report }),
	)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	first := testutil.RequireReceive(t, reports, 5*time.Second, "first tick")
	if first.Sequence != 1 || first.Launches != 2 {
		t.Errorf("first tick = %+v", first)
	}
	fake.WaitForTimers(1)
	fake.Advance(10 * time.Second)
	second := testutil.RequireReceive(t, reports, 5*time.Second, "second tick")
	if second.Sequence != 2 || second.Launches != 0 {
		t.Errorf("second tick = %+v", second)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run exit"); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}
	bad := testConfig()
	bad.ThreadCost = 0
	bad.Mode = "share"
	bad.Scope = 0
	err := bad.Validate()
	if err == nil {
		t.Fatal("invalid config passed validation")
	}
	for _, fragment := range []string{"thread cost", "mode", "scope"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %s", err, fragment)
		}
	}
	if _, err := New(bad, newFleet(t)); err == nil {
		t.Error("New accepted an invalid config")
	}
}
