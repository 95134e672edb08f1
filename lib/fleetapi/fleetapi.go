// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetapi defines the request and response types of the fleet
// daemon's status socket and a typed client for it.
package fleetapi

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/swarm/lib/batch"
	"github.com/bureau-foundation/swarm/lib/classify"
	"github.com/bureau-foundation/swarm/lib/codec"
	"github.com/bureau-foundation/swarm/lib/reconcile"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/service"
)

// StatusResponse answers "status".
type StatusResponse struct {
	Uptime      time.Duration      `cbor:"uptime"`
	Backend     string             `cbor:"backend"`
	Reconcilers []ReconcilerStatus `cbor:"reconcilers"`
}

// ReconcilerStatus summarizes one reconciler variant.
type ReconcilerStatus struct {
	Name        string               `cbor:"name"`
	Scope       string               `cbor:"scope"`
	Program     string               `cbor:"program"`
	Target      string               `cbor:"target"`
	Mode        string               `cbor:"mode"`
	Interval    time.Duration        `cbor:"interval"`
	Deployments int                  `cbor:"deployments"`
	LastTick    reconcile.TickReport `cbor:"last_tick"`
}

// DeploymentsRequest filters "deployments" to one reconciler when
// Reconciler is set.
type DeploymentsRequest struct {
	Reconciler string `cbor:"reconciler,omitempty"`
}

// DeploymentsResponse answers "deployments".
type DeploymentsResponse struct {
	Deployments []Deployment `cbor:"deployments"`
}

// Deployment is a deployment record with its owning reconciler.
type Deployment struct {
	Reconciler string           `cbor:"reconciler"`
	Deployment fleet.Deployment `cbor:"deployment"`
}

// HostsResponse answers "hosts".
type HostsResponse struct {
	Hosts []Host `cbor:"hosts"`
}

// Host is one discovered host. ManagedBy names the reconciler whose
// scope holds it, if any.
type Host struct {
	Node      fleet.Node    `cbor:"node"`
	Pool      classify.Pool `cbor:"pool"`
	ManagedBy string        `cbor:"managed_by,omitempty"`
	ReadError string        `cbor:"read_error,omitempty"`
}

// SizeRequest asks how many threads of a given cost fit on a host.
type SizeRequest struct {
	Host       string  `cbor:"host"`
	ThreadCost float64 `cbor:"thread_cost"`
	Reserve    float64 `cbor:"reserve,omitempty"`
}

// SizeResponse answers "size".
type SizeResponse struct {
	Host      string         `cbor:"host"`
	Capacity  fleet.Capacity `cbor:"capacity"`
	Available float64        `cbor:"available"`
	Threads   int            `cbor:"threads"`
	Waste     float64        `cbor:"waste"`
}

// PlanRequest carries a batch to schedule.
type PlanRequest struct {
	Target  string        `cbor:"target"`
	Spacing time.Duration `cbor:"spacing"`
	Steps   []batch.Step  `cbor:"steps"`
	Order   []string      `cbor:"order"`
}

// NewPlanRequest copies the scheduling fields of a plan file.
func NewPlanRequest(plan *batch.PlanFile) PlanRequest {
	return PlanRequest{Target: plan.Target, Spacing: plan.Spacing, Steps: plan.Steps, Order: plan.Order}
}

// PlanResponse answers "plan-batch".
type PlanResponse struct {
	Schedule []batch.Scheduled `cbor:"schedule"`
}

// DispatchRequest is a batch to launch as one-shot workers on Host.
type DispatchRequest struct {
	PlanRequest
	Host    string `cbor:"host"`
	Program string `cbor:"program,omitempty"`
	Threads int    `cbor:"threads,omitempty"`
}

// NewDispatchRequest copies a plan file.
func NewDispatchRequest(plan *batch.PlanFile) DispatchRequest {
	return DispatchRequest{
		PlanRequest: NewPlanRequest(plan),
		Host:        plan.Host,
		Program:     plan.Program,
		Threads:     plan.Threads,
	}
}

// DispatchResponse answers "dispatch-batch".
type DispatchResponse struct {
	Schedule  []batch.Scheduled `cbor:"schedule"`
	Processes []fleet.ProcessID `cbor:"processes"`
}

// Client calls a fleet daemon.
type Client struct {
	client *service.Client
}

// NewClient returns a client for the daemon socket at address.
func NewClient(address string) *Client {
	return &Client{client: service.NewClient(address)}
}

// Status calls "status".
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var response StatusResponse
	err := c.client.Call(ctx, fleet.ActionStatus, nil, &response)
	return response, err
}

// Deployments calls "deployments". An empty reconciler lists all.
func (c *Client) Deployments(ctx context.Context, reconciler string) (DeploymentsResponse, error) {
	var response DeploymentsResponse
	err := c.call(ctx, fleet.ActionDeployments, DeploymentsRequest{Reconciler: reconciler}, &response)
	return response, err
}

// Hosts calls "hosts".
func (c *Client) Hosts(ctx context.Context) (HostsResponse, error) {
	var response HostsResponse
	err := c.client.Call(ctx, fleet.ActionHosts, nil, &response)
	return response, err
}

// Size calls "size".
func (c *Client) Size(ctx context.Context, request SizeRequest) (SizeResponse, error) {
	var response SizeResponse
	err := c.call(ctx, fleet.ActionSize, request, &response)
	return response, err
}

// Plan calls "plan-batch".
func (c *Client) Plan(ctx context.Context, request PlanRequest) (PlanResponse, error) {
	var response PlanResponse
	err := c.call(ctx, fleet.ActionPlanBatch, request, &response)
	return response, err
}

// Dispatch calls "dispatch-batch".
func (c *Client) Dispatch(ctx context.Context, request DispatchRequest) (DispatchResponse, error) {
	var response DispatchResponse
	err := c.call(ctx, fleet.ActionDispatchBatch, request, &response)
	return response, err
}

// call flattens a request struct into the field map the socket
// protocol sends alongside the action.
func (c *Client) call(ctx context.Context, action string, request, response any) error {
	data, err := codec.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}
	var fields map[string]any
	if err := codec.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("encoding %s request: %w", action, err)
	}
	return c.client.Call(ctx, action, fields, response)
}
