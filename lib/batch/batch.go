// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package batch computes start delays that make a set of operations
// against one target complete in a chosen order.
//
// Every operation is dispatched at the same instant. The longest
// operation is the reference: an operation of duration d with rank r
// starts after
//
//	(maxDuration - d) + r*spacing
//
// so it completes at maxDuration + r*spacing. Spacing must be
// positive, so completions are strictly increasing in rank. The
// guarantee only holds when every duration estimate matches the true
// duration at dispatch time.
package batch

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

var (
	ErrEmptyPlan          = errors.New("batch has no steps")
	ErrDuplicateRank      = errors.New("two steps share a completion rank")
	ErrUnknownStep        = errors.New("order names an unknown step")
	ErrIncompleteOrder    = errors.New("order does not rank every step")
	ErrNonPositiveSpacing = errors.New("spacing is not positive")
	ErrNegativeDuration   = errors.New("step duration is negative")
)

// Step is one operation of a batch.
type Step struct {
	Name     string              `cbor:"name"`
	Kind     fleet.OperationKind `cbor:"kind"`
	Duration time.Duration       `cbor:"duration"`
	// Threads overrides the dispatch thread count for this step. Zero
	// uses the dispatcher's default.
	Threads int `cbor:"threads,omitempty"`
}

// Scheduled is a step with its computed timing. CompletionOffset is
// measured from dispatch.
type Scheduled struct {
	Step             Step                   `cbor:"step"`
	Rank             int                    `cbor:"rank"`
	StartDelay       time.Duration          `cbor:"start_delay"`
	CompletionOffset time.Duration          `cbor:"completion_offset"`
	Request          fleet.OperationRequest `cbor:"request"`
}

// StartDelay applies the delay formula to parallel slices of durations
// and ranks. Ranks must be distinct; they need not be contiguous.
func StartDelay(durations []time.Duration, ranks []int, spacing time.Duration) ([]time.Duration, error) {
	if len(durations) == 0 {
		return nil, ErrEmptyPlan
	}
	if len(durations) != len(ranks) {
		return nil, fmt.Errorf("%d durations but %d ranks", len(durations), len(ranks))
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrNonPositiveSpacing, spacing)
	}
	seen := make(map[int]bool, len(ranks))
	for i, rank := range ranks {
		if rank < 0 {
			return nil, fmt.Errorf("rank %d of step %d is negative", rank, i)
		}
		if seen[rank] {
			return nil, fmt.Errorf("%w: rank %d", ErrDuplicateRank, rank)
		}
		seen[rank] = true
		if durations[i] < 0 {
			return nil, fmt.Errorf("%w: step %d is %v", ErrNegativeDuration, i, durations[i])
		}
	}

	longest := slices.Max(durations)
	delays := make([]time.Duration, len(durations))
	for i, duration := range durations {
		delays[i] = (longest - duration) + time.Duration(ranks[i])*spacing
	}
	return delays, nil
}

// Plan schedules steps against target so they complete in order,
// spaced by spacing. order lists every step name exactly once, first
// to complete first. The result is sorted by rank.
func Plan(target string, steps []Step, order []string, spacing time.Duration) ([]Scheduled, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyPlan
	}
	index := make(map[string]int, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step %d has no name", i)
		}
		if _, duplicate := index[step.Name]; duplicate {
			return nil, fmt.Errorf("step name %q used twice", step.Name)
		}
		if !step.Kind.Valid() {
			return nil, fmt.Errorf("step %q has invalid kind %d", step.Name, uint8(step.Kind))
		}
		index[step.Name] = i
	}

	ranks := make([]int, len(steps))
	ranked := make([]bool, len(steps))
	for rank, name := range order {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStep, name)
		}
		if ranked[i] {
			return nil, fmt.Errorf("%w: %q ranked twice", ErrDuplicateRank, name)
		}
		ranked[i] = true
		ranks[i] = rank
	}
	for i, done := range ranked {
		if !done {
			return nil, fmt.Errorf("%w: %q", ErrIncompleteOrder, steps[i].Name)
		}
	}

	durations := make([]time.Duration, len(steps))
	for i, step := range steps {
		durations[i] = step.Duration
	}
	delays, err := StartDelay(durations, ranks, spacing)
	if err != nil {
		return nil, err
	}

	scheduled := make([]Scheduled, len(steps))
	for i, step := range steps {
		scheduled[ranks[i]] = Scheduled{
			Step:             step,
			Rank:             ranks[i],
			StartDelay:       delays[i],
			CompletionOffset: delays[i] + step.Duration,
			Request: fleet.OperationRequest{
				Target:           target,
				Kind:             step.Kind,
				StartDelay:       delays[i],
				ExpectedDuration: step.Duration,
			},
		}
	}
	return scheduled, nil
}
