// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is used when Config.PoolSize is not positive. Swarm
// databases see a handful of writes per reconciliation tick.
const DefaultPoolSize = 2

// Config holds the parameters for opening a pool.
type Config struct {
	// Path of the database file; created if missing. ":memory:" gives
	// a private in-memory database per connection, so tests using it
	// must set PoolSize to 1.
	Path string

	PoolSize int

	// Migrations are schema scripts. Entry i moves the database from
	// user_version i to i+1. Entries are never edited once released;
	// changes append a new entry.
	Migrations []string

	Logger *slog.Logger
}

// Pool is a fixed-size set of connections. Safe for concurrent use;
// the connections themselves are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Open creates the pool and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlitepool: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepare,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}
	pool := &Pool{inner: inner, logger: logger, path: cfg.Path}

	from, to, err := pool.migrate(ctx, cfg.Migrations)
	if err != nil {
		inner.Close()
		return nil, err
	}
	logger.Info("sqlite database opened",
		"path", cfg.Path,
		"pool_size", size,
		"schema_from", from,
		"schema_version", to,
	)
	return pool, nil
}

func prepare(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate applies pending migrations and returns the schema version
// before and after.
func (p *Pool) migrate(ctx context.Context, migrations []string) (from, to int, err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer p.Put(conn)

	end, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("sqlitepool: starting migration: %w", err)
	}
	defer end(&err)

	err = sqlitex.ExecuteTransient(conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			from = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("sqlitepool: reading schema version: %w", err)
	}
	if from > len(migrations) {
		return from, from, fmt.Errorf("sqlitepool: %s has schema version %d, newer than this binary's %d", p.path, from, len(migrations))
	}
	for version := from; version < len(migrations); version++ {
		if err = sqlitex.ExecuteScript(conn, migrations[version], nil); err != nil {
			return from, version, fmt.Errorf("sqlitepool: migration %d: %w", version+1, err)
		}
	}
	if len(migrations) > from {
		pragma := fmt.Sprintf("PRAGMA user_version=%d", len(migrations))
		if err = sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return from, from, fmt.Errorf("sqlitepool: recording schema version: %w", err)
		}
	}
	return from, len(migrations), nil
}

// Take borrows a connection, blocking until one is free or ctx ends.
// Every Take must be paired with a Put.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	if conn != nil {
		p.inner.Put(conn)
	}
}

// With borrows a connection for the duration of fn and runs fn inside
// a savepoint: fn's error rolls back everything it wrote.
func (p *Pool) With(ctx context.Context, fn func(*sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	release := sqlitex.Save(conn)
	defer release(&err)
	return fn(conn)
}

// Close closes every connection, waiting for borrowed ones.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite database close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite database closed", "path", p.path)
	return nil
}
