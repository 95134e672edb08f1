// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/service"
	"github.com/bureau-foundation/swarm/lib/testutil"
)

type call struct {
	kind   fleet.OperationKind
	target string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (r *recorder) Perform(ctx context.Context, kind fleet.OperationKind, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{kind, target})
	return r.err
}

func serve(t *testing.T, backend environment.Operator) *Client {
	t.Helper()
	address := filepath.Join(testutil.SocketDir(t), "operator.sock")
	server := service.NewServer(address, testutil.DiscardLogger())
	Register(server, backend, nil, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "operator server shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "operator server ready")
	return NewClient(address)
}

func TestPerformRoundTrip(t *testing.T) {
	backend := &recorder{}
	client := serve(t, backend)

	for _, kind := range fleet.OperationKinds {
		if err := client.Perform(context.Background(), kind, "n00dles"); err != nil {
			t.Fatalf("Perform(%s): %v", kind, err)
		}
	}
	if len(backend.calls) != len(fleet.OperationKinds) {
		t.Fatalf("backend saw %d calls, want %d", len(backend.calls), len(fleet.OperationKinds))
	}
	for i, kind := range fleet.OperationKinds {
		if backend.calls[i] != (call{kind, "n00dles"}) {
			t.Errorf("call %d = %+v", i, backend.calls[i])
		}
	}
}

func TestPerformBackendError(t *testing.T) {
	client := serve(t, &recorder{err: errors.New("target unreachable")})
	err := client.Perform(context.Background(), fleet.Grow, "n00dles")
	var serviceErr *service.Error
	if !errors.As(err, &serviceErr) || serviceErr.Message != "target unreachable" {
		t.Errorf("Perform = %v, want service error from backend", err)
	}
}

func TestPerformRejectsBadRequests(t *testing.T) {
	backend := &recorder{}
	client := serve(t, backend)

	if err := client.Perform(context.Background(), fleet.Weaken, ""); err == nil {
		t.Error("empty target accepted")
	}
	if err := client.Perform(context.Background(), fleet.OperationKind(0), "n00dles"); err == nil {
		t.Error("invalid kind accepted")
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called %d times for invalid requests", len(backend.calls))
	}
}
