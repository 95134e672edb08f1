// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/worker"
)

// DefaultInterval is the tick interval when Config.Interval is zero.
const DefaultInterval = 10 * time.Second

// Config describes one reconciler variant.
type Config struct {
	// Name identifies the variant in logs and partitions its ledger
	// records.
	Name string

	// Root is the node discovery starts from.
	Root string

	// Home is the canonical binary source and the node classified as
	// home. Defaults to Root.
	Home string

	// Program is the worker binary deployed to every managed host.
	Program string

	// Target and Mode are passed to every worker.
	Target string
	Mode   string

	// ThreadCost is the capacity one worker thread consumes.
	ThreadCost float64

	// Reserve is capacity left unused on every managed host.
	Reserve float64

	// MinCapacity is the smallest maximum capacity a host needs to be
	// eligible.
	MinCapacity float64

	// Scope selects the pools this variant manages.
	Scope classify.Scope

	Interval time.Duration
}

func (c Config) home() string {
	if c.Home == "" {
		return c.Root
	}
	return c.Home
}

func (c Config) interval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

func (c Config) rules() classify.Rules {
	return classify.Rules{MinCapacity: c.MinCapacity}
}

// Validate reports every structural problem at once.
func (c Config) Validate() error {
	var problems []error
	if c.Name == "" {
		problems = append(problems, errors.New("reconciler has no name"))
	}
	if c.Root == "" {
		problems = append(problems, fmt.Errorf("reconciler %q: root is required", c.Name))
	}
	if c.Program == "" {
		problems = append(problems, fmt.Errorf("reconciler %q: program is required", c.Name))
	}
	if c.Target == "" {
		problems = append(problems, fmt.Errorf("reconciler %q: target is required", c.Name))
	}
	if _, err := worker.ModeKinds(c.Mode); err != nil {
		problems = append(problems, fmt.Errorf("reconciler %q: %w", c.Name, err))
	}
	if c.ThreadCost <= 0 {
		problems = append(problems, fmt.Errorf("reconciler %q: thread cost must be positive, got %v", c.Name, c.ThreadCost))
	}
	if c.Reserve < 0 {
		problems = append(problems, fmt.Errorf("reconciler %q: reserve must not be negative", c.Name))
	}
	if c.MinCapacity < 0 {
		problems = append(problems, fmt.Errorf("reconciler %q: min capacity must not be negative", c.Name))
	}
	if len(c.Scope.Pools()) == 0 {
		problems = append(problems, fmt.Errorf("reconciler %q: scope selects no pools", c.Name))
	}
	if c.Interval < 0 {
		problems = append(problems, fmt.Errorf("reconciler %q: negative interval", c.Name))
	}
	return errors.Join(problems...)
}
