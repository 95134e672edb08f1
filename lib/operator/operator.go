// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package operator exposes an environment.Operator over the service
// protocol, so worker processes running inside containers or on other
// machines can perform operations through the daemon's backend.
package operator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/service"
)

// PerformRequest carries the fields of the "perform" action.
type PerformRequest struct {
	Kind   fleet.OperationKind `cbor:"kind"`
	Target string              `cbor:"target"`
}

// PerformResponse reports how long the operation took on the server.
type PerformResponse struct {
	Elapsed time.Duration `cbor:"elapsed"`
}

// Register installs the "perform" action on server, delegating to
// backend.
func Register(server *service.Server, backend environment.Operator, c clock.Clock, logger *slog.Logger) {
	if c == nil {
		c = clock.Real()
	}
	server.Handle(fleet.ActionPerform, func(ctx context.Context, raw []byte) (any, error) {
		var request PerformRequest
		if err := service.Decode(raw, &request); err != nil {
			return nil, err
		}
		if !request.Kind.Valid() {
			return nil, fmt.Errorf("invalid operation kind %d", request.Kind)
		}
		if request.Target == "" {
			return nil, fleet.ErrNoTarget
		}
		started := c.Now()
		if err := backend.Perform(ctx, request.Kind, request.Target); err != nil {
			return nil, err
		}
		elapsed := c.Now().Sub(started)
		if logger != nil {
			logger.Debug("operation performed", "kind", request.Kind, "target", request.Target, "elapsed", elapsed)
		}
		return PerformResponse{Elapsed: elapsed}, nil
	})
}

// Client is an environment.Operator backed by a remote operator
// socket.
type Client struct {
	client *service.Client
}

// NewClient dials address for every Perform. The response wait is
// bounded only by the caller's context, since an operation can run
// for minutes.
func NewClient(address string) *Client {
	client := service.NewClient(address)
	client.ResponseTimeout = -1
	return &Client{client: client}
}

// Perform asks the server to perform kind against target and waits
// for it to finish.
func (c *Client) Perform(ctx context.Context, kind fleet.OperationKind, target string) error {
	return c.client.Call(ctx, fleet.ActionPerform, map[string]any{
		"kind":   kind,
		"target": target,
	}, nil)
}

var _ environment.Operator = (*Client)(nil)
