// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/config"
	"github.com/bureau-foundation/swarm/lib/fleetenv"
	"github.com/bureau-foundation/swarm/lib/ledger"
	"github.com/bureau-foundation/swarm/lib/reconcile"
	"github.com/bureau-foundation/swarm/lib/worker"
)

// Daemon owns the reconcilers and answers the status socket.
type Daemon struct {
	backend     *fleetenv.Backend
	reconcilers []*reconcile.Reconciler
	// program is the default worker program for dispatched batches.
	program   string
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger
}

// reconcilerConfigs translates the configured variants.
func reconcilerConfigs(cfg *config.Config) ([]reconcile.Config, error) {
	configs := make([]reconcile.Config, 0, len(cfg.Reconcilers))
	for _, variant := range cfg.Reconcilers {
		scope, err := classify.ParseScope(variant.Scope)
		if err != nil {
			return nil, fmt.Errorf("reconciler %q: %w", variant.Name, err)
		}
		mode := variant.Mode
		if mode == "" {
			mode = worker.ModeCycle
		}
		configs = append(configs, reconcile.Config{
			Name:        variant.Name,
			Root:        cfg.Fleet.Root,
			Home:        cfg.Home(),
			Program:     variant.Program,
			Target:      variant.Target,
			Mode:        mode,
			ThreadCost:  cfg.ThreadCost(variant),
			Reserve:     variant.Reserve,
			MinCapacity: cfg.Fleet.MinCapacity,
			Scope:       scope,
			Interval:    variant.Interval,
		})
	}
	return configs, nil
}

func newDaemon(cfg *config.Config, b *fleetenv.Backend, store ledger.Store, c clock.Clock, logger *slog.Logger) (*Daemon, error) {
	configs, err := reconcilerConfigs(cfg)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, errors.New("no reconcilers configured")
	}
	d := &Daemon{
		backend:   b,
		program:   configs[0].Program,
		clock:     c,
		startedAt: c.Now(),
		logger:    logger,
	}
	for i, rc := range configs {
		for _, earlier := range configs[:i] {
			if classify.Overlaps(rc.Scope, earlier.Scope) {
				return nil, fmt.Errorf("reconciler %q scope %s overlaps reconciler %q scope %s",
					rc.Name, rc.Scope, earlier.Name, earlier.Scope)
			}
		}
		r, err := reconcile.New(rc, b.Env,
			reconcile.WithClock(c),
			reconcile.WithLogger(logger),
			reconcile.WithLedger(store),
		)
		if err != nil {
			return nil, err
		}
		d.reconcilers = append(d.reconcilers, r)
	}
	return d, nil
}

// run runs every reconciler until ctx is cancelled.
func (d *Daemon) run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.reconcilers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Error("reconciler stopped", "reconciler", r.Config().Name, "error", err)
			}
		}()
	}
	wg.Wait()
}

// drain kills every recorded worker of every reconciler.
func (d *Daemon) drain(ctx context.Context) error {
	var errs []error
	for _, r := range d.reconcilers {
		if err := r.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reconciler %q: %w", r.Config().Name, err))
		}
	}
	return errors.Join(errs...)
}

// managedBy returns the reconciler with authority over host: one whose
// last tick managed it, or whose scope holds it when read live. The
// live read covers reconcilers that have not finished a tick yet. A
// failed read is returned with the reconciler that could not rule the
// host out.
func (d *Daemon) managedBy(ctx context.Context, host string) (*reconcile.Reconciler, error) {
	for _, r := range d.reconcilers {
		if r.Manages(host) {
			return r, nil
		}
		claimed, err := r.Claims(ctx, host)
		if err != nil {
			return r, err
		}
		if claimed {
			return r, nil
		}
	}
	return nil, nil
}
