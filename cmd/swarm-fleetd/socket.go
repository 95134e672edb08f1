// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/swarm/lib/batch"
	"github.com/bureau-foundation/swarm/lib/fleetapi"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/service"
	"github.com/bureau-foundation/swarm/lib/sizing"
)

// ErrManagedHost rejects a batch dispatch onto a host a reconciler
// owns; the reconciler would kill the batch workers on its next
// redeploy.
var ErrManagedHost = errors.New("host is managed by a reconciler")

func (d *Daemon) registerActions(server *service.Server) {
	server.Handle(fleet.ActionStatus, d.handleStatus)
	server.Handle(fleet.ActionDeployments, d.handleDeployments)
	server.Handle(fleet.ActionHosts, d.handleHosts)
	server.Handle(fleet.ActionSize, d.handleSize)
	server.Handle(fleet.ActionPlanBatch, d.handlePlanBatch)
	server.Handle(fleet.ActionDispatchBatch, d.handleDispatchBatch)
}

func (d *Daemon) handleStatus(ctx context.Context, raw []byte) (any, error) {
	response := fleetapi.StatusResponse{
		Uptime:  d.clock.Now().Sub(d.startedAt),
		Backend: d.backend.Name,
	}
	for _, r := range d.reconcilers {
		cfg := r.Config()
		response.Reconcilers = append(response.Reconcilers, fleetapi.ReconcilerStatus{
			Name:        cfg.Name,
			Scope:       cfg.Scope.String(),
			Program:     cfg.Program,
			Target:      cfg.Target,
			Mode:        cfg.Mode,
			Interval:    cfg.Interval,
			Deployments: len(r.Deployments()),
			LastTick:    r.LastReport(),
		})
	}
	return response, nil
}

func (d *Daemon) handleDeployments(ctx context.Context, raw []byte) (any, error) {
	var request fleetapi.DeploymentsRequest
	if err := service.Decode(raw, &request); err != nil {
		return nil, err
	}
	response := fleetapi.DeploymentsResponse{Deployments: []fleetapi.Deployment{}}
	found := request.Reconciler == ""
	for _, r := range d.reconcilers {
		name := r.Config().Name
		if request.Reconciler != "" && name != request.Reconciler {
			continue
		}
		found = true
		for _, deployment := range r.Deployments() {
			response.Deployments = append(response.Deployments, fleetapi.Deployment{Reconciler: name, Deployment: deployment})
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown reconciler %q", request.Reconciler)
	}
	return response, nil
}

// handleHosts merges the host views of every reconciler. All of them
// discover the same graph; they differ only in what they manage.
func (d *Daemon) handleHosts(ctx context.Context, raw []byte) (any, error) {
	byID := make(map[string]*fleetapi.Host)
	for _, r := range d.reconcilers {
		for _, view := range r.Hosts() {
			host, ok := byID[view.Node.ID]
			if !ok {
				host = &fleetapi.Host{Node: view.Node, Pool: view.Pool, ReadError: view.ReadError}
				byID[view.Node.ID] = host
			}
			if view.Managed {
				host.ManagedBy = r.Config().Name
			}
		}
	}
	response := fleetapi.HostsResponse{Hosts: make([]fleetapi.Host, 0, len(byID))}
	for _, host := range byID {
		response.Hosts = append(response.Hosts, *host)
	}
	slices.SortFunc(response.Hosts, func(a, b fleetapi.Host) int { return strings.Compare(a.Node.ID, b.Node.ID) })
	return response, nil
}

func (d *Daemon) handleSize(ctx context.Context, raw []byte) (any, error) {
	var request fleetapi.SizeRequest
	if err := service.Decode(raw, &request); err != nil {
		return nil, err
	}
	if request.Host == "" {
		return nil, errors.New("missing required field: host")
	}
	if request.ThreadCost <= 0 {
		return nil, errors.New("thread_cost must be positive")
	}
	capacity, err := d.backend.Env.Capacity(ctx, request.Host)
	if err != nil {
		return nil, err
	}
	available := sizing.Available(capacity.Max, request.Reserve)
	return fleetapi.SizeResponse{
		Host:      request.Host,
		Capacity:  capacity,
		Available: available,
		Threads:   sizing.Threads(available, request.ThreadCost),
		Waste:     sizing.Waste(available, request.ThreadCost),
	}, nil
}

func (d *Daemon) handlePlanBatch(ctx context.Context, raw []byte) (any, error) {
	var request fleetapi.PlanRequest
	if err := service.Decode(raw, &request); err != nil {
		return nil, err
	}
	schedule, err := batch.Plan(request.Target, request.Steps, request.Order, request.Spacing)
	if err != nil {
		return nil, err
	}
	return fleetapi.PlanResponse{Schedule: schedule}, nil
}

func (d *Daemon) handleDispatchBatch(ctx context.Context, raw []byte) (any, error) {
	var request fleetapi.DispatchRequest
	if err := service.Decode(raw, &request); err != nil {
		return nil, err
	}
	plan := &batch.PlanFile{
		Target:  request.Target,
		Host:    request.Host,
		Program: request.Program,
		Threads: request.Threads,
		Spacing: request.Spacing,
		Steps:   request.Steps,
		Order:   request.Order,
	}
	if plan.Program == "" {
		plan.Program = d.program
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	owner, err := d.managedBy(ctx, plan.Host)
	if err != nil {
		return nil, fmt.Errorf("checking whether %s is managed: %w", plan.Host, err)
	}
	if owner != nil {
		return nil, fmt.Errorf("%w: %s belongs to %q (scope %s)", ErrManagedHost, plan.Host, owner.Config().Name, owner.Scope())
	}
	node, err := d.observe(ctx, plan.Host)
	if err != nil {
		return nil, err
	}
	if !node.RootAccess {
		return nil, fmt.Errorf("no root access on %s", plan.Host)
	}

	schedule, err := plan.Schedule()
	if err != nil {
		return nil, err
	}
	processes, err := batch.Dispatch(ctx, d.backend.Env, plan.Host, plan.Program, plan.Threads, schedule)
	if err != nil {
		d.logger.Warn("batch dispatch incomplete",
			"host", plan.Host,
			"target", plan.Target,
			"launched", len(processes),
			"steps", len(schedule),
			"error", err,
		)
		return nil, err
	}
	d.logger.Info("batch dispatched",
		"host", plan.Host,
		"target", plan.Target,
		"steps", len(schedule),
		"completes_in", schedule[len(schedule)-1].CompletionOffset,
	)
	return fleetapi.DispatchResponse{Schedule: schedule, Processes: processes}, nil
}

// observe reads a host's attributes directly from the environment.
func (d *Daemon) observe(ctx context.Context, host string) (fleet.Node, error) {
	capacity, err := d.backend.Env.Capacity(ctx, host)
	if err != nil {
		return fleet.Node{}, err
	}
	root, err := d.backend.Env.HasRootAccess(ctx, host)
	if err != nil {
		return fleet.Node{}, err
	}
	return fleet.Node{ID: host, Capacity: capacity, RootAccess: root}, nil
}
