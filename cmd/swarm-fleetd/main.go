// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/swarm/lib/clock"
	"github.com/bureau-foundation/swarm/lib/config"
	"github.com/bureau-foundation/swarm/lib/fleetenv"
	"github.com/bureau-foundation/swarm/lib/ledger"
	"github.com/bureau-foundation/swarm/lib/lockfile"
	"github.com/bureau-foundation/swarm/lib/operator"
	"github.com/bureau-foundation/swarm/lib/process"
	"github.com/bureau-foundation/swarm/lib/service"
	"github.com/bureau-foundation/swarm/lib/version"
)

// drainTimeout bounds killing recorded workers at shutdown.
const drainTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("swarm-fleetd", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to swarm.yaml (default: $"+config.EnvVar+")")
	drain := flags.Bool("drain", false, "kill every recorded worker on shutdown")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("swarm-fleetd")
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := process.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}

	lock, err := lockfile.TryLock(cfg.LockPath)
	if err != nil {
		return fmt.Errorf("acquiring fleet lock: %w", err)
	}
	defer lock.Unlock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := fleetenv.Build(cfg, clock.Real(), logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, closeStore, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	daemon, err := newDaemon(cfg, backend, store, clock.Real(), logger)
	if err != nil {
		return err
	}

	server := service.NewServer(cfg.Socket, logger.With("socket", "status"))
	daemon.registerActions(server)

	var wg sync.WaitGroup
	serve := func(name string, server *service.Server) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx); err != nil {
				logger.Error("socket server failed", "socket", name, "error", err)
				stop()
			}
		}()
	}
	serve("status", server)

	if cfg.OperatorSocket != "" && backend.Operator != nil {
		operatorServer := service.NewServer(cfg.OperatorSocket, logger.With("socket", "operator"))
		operator.Register(operatorServer, backend.Operator, clock.Real(), logger)
		serve("operator", operatorServer)
	}

	logger.Info("fleet daemon running",
		"version", version.Info(),
		"backend", string(cfg.Backend),
		"reconcilers", len(daemon.reconcilers),
		"socket", cfg.Socket,
	)
	daemon.run(ctx)
	wg.Wait()
	logger.Info("shutting down")

	if *drain {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := daemon.drain(drainCtx); err != nil {
			return fmt.Errorf("draining workers: %w", err)
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledger.Store, func(), error) {
	if cfg.Ledger.Path == "" {
		logger.Warn("no ledger path configured; deployment records will not survive a restart")
		return ledger.NewMemory(), func() {}, nil
	}
	store, err := ledger.OpenSQLite(ctx, cfg.Ledger.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("closing ledger", "error", err)
		}
	}, nil
}
