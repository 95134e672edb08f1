// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/swarm/lib/environment"
	"github.com/bureau-foundation/swarm/lib/operator"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/service"
	"github.com/bureau-foundation/swarm/lib/testutil"
)

func serveOperator(t *testing.T, backend environment.Operator) string {
	t.Helper()
	address := filepath.Join(testutil.SocketDir(t), "operator.sock")
	server := service.NewServer(address, testutil.DiscardLogger())
	operator.Register(server, backend, nil, testutil.DiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, done, 5*time.Second, "operator socket shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "operator socket ready")
	return address
}

func environ(values map[string]string) func(string) string {
	return func(name string) string { return values[name] }
}

func TestOneShotWorker(t *testing.T) {
	var (
		mu    sync.Mutex
		kinds []fleet.OperationKind
	)
	address := serveOperator(t, environment.OperatorFunc(func(_ context.Context, kind fleet.OperationKind, target string) error {
		mu.Lock()
		defer mu.Unlock()
		if target != "n00dles" {
			t.Errorf("target = %q", target)
		}
		kinds = append(kinds, kind)
		return nil
	}))

	var stderr bytes.Buffer
	arguments := []string{"--target", "n00dles", "--one-shot", "--kind", "grow", "--delay", "0s", "--duration", "0s"}
	if err := run(context.Background(), arguments, environ(map[string]string{operatorEnv: address}), &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 1 || kinds[0] != fleet.Grow {
		t.Errorf("operator saw %v", kinds)
	}
	if !strings.Contains(stderr.String(), `"msg":"one-shot worker starting"`) {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestLoopWorkerStopsOnCancel(t *testing.T) {
	performed := make(chan fleet.OperationKind, 16)
	address := serveOperator(t, environment.OperatorFunc(func(_ context.Context, kind fleet.OperationKind, _ string) error {
		select {
		case performed <- kind:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--target", "n00dles", "--mode", "cycle"},
			environ(map[string]string{operatorEnv: address, logLevelEnv: "warn"}), &bytes.Buffer{})
	}()

	want := []fleet.OperationKind{fleet.Weaken, fleet.Grow, fleet.Exploit}
	for _, kind := range want {
		if got := testutil.RequireReceive(t, performed, 5*time.Second, "loop operation"); got != kind {
			t.Fatalf("operation = %s, want %s", got, kind)
		}
	}
	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "loop worker exit"); err != nil {
		t.Errorf("run = %v", err)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name      string
		arguments []string
		env       map[string]string
		want      string
	}{
		{"no operator", []string{"--target", "n00dles", "--mode", "grow"}, nil, operatorEnv},
		{"no target", []string{"--mode", "grow"}, map[string]string{operatorEnv: "/tmp/x.sock"}, "--target"},
		{"bad mode", []string{"--target", "n00dles", "--mode", "sing"}, map[string]string{operatorEnv: "/tmp/x.sock"}, "sing"},
		{"bad level", []string{"--target", "n00dles", "--mode", "grow"}, map[string]string{operatorEnv: "/tmp/x.sock", logLevelEnv: "loud"}, "loud"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := run(context.Background(), test.arguments, environ(test.env), &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("run = %v, want error mentioning %q", err, test.want)
			}
		})
	}
}
