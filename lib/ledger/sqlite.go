// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/swarm/lib/codec"
	"github.com/bureau-foundation/swarm/lib/schema/fleet"
	"github.com/bureau-foundation/swarm/lib/sqlitepool"
)

// migrations of the ledger database. Append only.
var migrations = []string{
	`CREATE TABLE deployments (
		reconciler  TEXT NOT NULL,
		host        TEXT NOT NULL,
		record      BLOB NOT NULL,
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (reconciler, host)
	) WITHOUT ROWID;`,
}

// SQLite is a Store backed by a SQLite database. Each record is the
// CBOR encoding of a fleet.Deployment.
type SQLite struct {
	pool *sqlitepool.Pool
}

// OpenSQLite opens (creating if needed) the ledger database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       path,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return &SQLite{pool: pool}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.pool.Close()
}

func (s *SQLite) Load(ctx context.Context, reconciler string) ([]fleet.Deployment, error) {
	var result []fleet.Deployment
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT host, record FROM deployments WHERE reconciler = ? ORDER BY host",
			&sqlitex.ExecOptions{
				Args: []any{reconciler},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					record := make([]byte, stmt.ColumnLen(1))
					stmt.ColumnBytes(1, record)
					var deployment fleet.Deployment
					if err := codec.Unmarshal(record, &deployment); err != nil {
						return fmt.Errorf("decoding ledger record for %s: %w", stmt.ColumnText(0), err)
					}
					result = append(result, deployment)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("loading ledger of %s: %w", reconciler, err)
	}
	return result, nil
}

func (s *SQLite) Save(ctx context.Context, reconciler string, deployment fleet.Deployment) error {
	record, err := codec.Marshal(deployment)
	if err != nil {
		return fmt.Errorf("encoding ledger record for %s: %w", deployment.Host, err)
	}
	err = s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`INSERT INTO deployments (reconciler, host, record, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (reconciler, host) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{reconciler, deployment.Host, record, deployment.DeployedAt.UTC().Format(time.RFC3339Nano)},
			})
	})
	if err != nil {
		return fmt.Errorf("saving ledger record for %s: %w", deployment.Host, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, reconciler, host string) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"DELETE FROM deployments WHERE reconciler = ? AND host = ?",
			&sqlitex.ExecOptions{Args: []any{reconciler, host}})
	})
	if err != nil {
		return fmt.Errorf("deleting ledger record for %s: %w", host, err)
	}
	return nil
}
