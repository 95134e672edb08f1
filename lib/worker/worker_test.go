// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/testutil"
)

func TestArgs_EncodeParse(t *testing.T) {
	t.Parallel()
	cases := []Args{
		LoopArgs("joesguns", "grow"),
		LoopArgs("n00dles", ModeCycle),
		OneShotArgs(fleet.OperationRequest{
			Target: "n00dles", Kind: fleet.Exploit,
			StartDelay: 40 * time.Millisecond, ExpectedDuration: 20 * time.Millisecond,
		}),
	}
	for _, args := range cases {
		parsed, err := Parse(args.Encode())
		if err != nil {
			t.Fatalf("Parse(%v): %v", args.Encode(), err)
		}
		if parsed != args {
			t.Errorf("Parse(Encode(%+v)) = %+v", args, parsed)
		}
		if !slices.Equal(parsed.Encode(), args.Encode()) {
			t.Errorf("encoding of %+v is not canonical", args)
		}
	}
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()
	bad := [][]string{
		{"--mode", "grow"},
		{"--target", "a", "--mode", "share"},
		{"--target", "a", "--one-shot", "--kind", "grow", "--delay", "-1s"},
		{"--target", "a", "--one-shot"},
		{"--target", "a", "--mode", "grow", "extra"},
		{"--bogus"},
	}
	for _, arguments := range bad {
		if _, err := Parse(arguments); err == nil {
			t.Errorf("Parse(%v) should fail", arguments)
		}
	}
}

func TestModeKinds(t *testing.T) {
	t.Parallel()
	kinds, err := ModeKinds("cycle")
	if err != nil || !slices.Equal(kinds, []fleet.OperationKind{fleet.Weaken, fleet.Grow, fleet.Exploit}) {
		t.Errorf("ModeKinds(cycle) = %v, %v", kinds, err)
	}
	kinds, err = ModeKinds("hack")
	if err != nil || !slices.Equal(kinds, []fleet.OperationKind{fleet.Exploit}) {
		t.Errorf("ModeKinds(hack) = %v, %v", kinds, err)
	}
}

type recordingOperator struct {
	mu    sync.Mutex
	kinds []fleet.OperationKind
	fail  bool
	seen  chan struct{}
}

func (o *recordingOperator) Perform(_ context.Context, kind fleet.OperationKind, _ string) error {
	o.mu.Lock()
	o.kinds = append(o.kinds, kind)
	o.mu.Unlock()
	select {
	case o.seen <- struct{}{}:
	default:
	}
	if o.fail {
		return errors.New("rejected")
	}
	return nil
}

func (o *recordingOperator) performed() []fleet.OperationKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.kinds)
}

func TestRun_LoopCyclesUntilCancelled(t *testing.T) {
	t.Parallel()
	operator := &recordingOperator{seen: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, LoopArgs("n00dles", ModeCycle), operator, clock.Fake(time.Now()), testutil.DiscardLogger())
	}()

	for range 4 {
		testutil.RequireReceive(t, operator.seen, 5*time.Second, "loop operation")
	}
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "worker exit"); err != nil {
		t.Fatalf("Run returned %v after cancellation, want nil", err)
	}
	performed := operator.performed()
	want := []fleet.OperationKind{fleet.Weaken, fleet.Grow, fleet.Exploit, fleet.Weaken}
	if len(performed) < len(want) || !slices.Equal(performed[:len(want)], want) {
		t.Errorf("performed %v, want prefix %v", performed, want)
	}
}

func TestRun_LoopPausesAfterFailure(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Now())
	operator := &recordingOperator{seen: make(chan struct{}, 1), fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, LoopArgs("n00dles", "weaken"), operator, fake, testutil.DiscardLogger())
	}()

	testutil.RequireReceive(t, operator.seen, 5*time.Second, "first operation")
	fake.WaitForTimers(1)
	if got := len(operator.performed()); got != 1 {
		t.Fatalf("performed %d operations before the pause elapsed, want 1", got)
	}
	fake.Advance(FailurePause)
	testutil.RequireReceive(t, operator.seen, 5*time.Second, "operation after pause")

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "worker exit"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRun_OneShot(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Now())
	var got fleet.OperationKind
	operator := environment.OperatorFunc(func(_ context.Context, kind fleet.OperationKind, _ string) error {
		got = kind
		return nil
	})
	args := OneShotArgs(fleet.OperationRequest{Target: "n00dles", Kind: fleet.Grow, StartDelay: time.Second})

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), args, operator, fake, nil) }()
	fake.WaitForTimers(1)
	fake.Advance(time.Second)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "one-shot exit"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != fleet.Grow {
		t.Errorf("performed %v, want grow", got)
	}
}
