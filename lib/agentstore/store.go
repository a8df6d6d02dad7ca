// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentstore is the daemon's agent journal: a SQLite table
// holding every agent whose worktree exists on disk, so agents survive
// a daemon restart. Sessions are never journaled; a restart always
// begins with every agent idle.
package agentstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/workforest/lib/schema"
	"github.com/bureau-foundation/workforest/lib/sqlitepool"
)

var migrations = []string{
	`CREATE TABLE agents (
		id            TEXT PRIMARY KEY,
		label         TEXT NOT NULL,
		repository_id TEXT NOT NULL,
		worktree_path TEXT NOT NULL UNIQUE,
		branch        TEXT NOT NULL,
		tool          TEXT NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX agents_by_repository ON agents (repository_id);`,
}

// timeFormat sorts lexically in time order, unlike RFC3339Nano, which
// drops trailing zeros.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the agent journal. Safe for concurrent use.
type Store struct {
	pool *sqlitepool.Pool
}

// Open opens (creating if needed) the journal at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	pool, err := sqlitepool.Open(ctx, sqlitepool.Config{
		Path:       path,
		Migrations: migrations,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Save records agent, replacing any earlier row with the same id.
func (s *Store) Save(ctx context.Context, agent schema.Agent) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO agents
			(id, label, repository_id, worktree_path, branch, tool, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			agent.ID,
			agent.Label,
			agent.RepositoryID,
			agent.WorktreePath,
			agent.Branch,
			agent.Tool,
			agent.CreatedAt.UTC().Format(timeFormat),
		}})
	if err != nil {
		return fmt.Errorf("saving agent %s: %w", agent.ID, err)
	}
	return nil
}

// Delete removes the agent's row. Deleting an unknown id is not an
// error.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM agents WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{agentID}}); err != nil {
		return fmt.Errorf("deleting agent %s: %w", agentID, err)
	}
	return nil
}

// List returns every journaled agent, oldest first.
func (s *Store) List(ctx context.Context) ([]schema.Agent, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var agents []schema.Agent
	err = sqlitex.Execute(conn,
		`SELECT id, label, repository_id, worktree_path, branch, tool, created_at
		FROM agents ORDER BY created_at, id`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			createdAt, err := time.Parse(timeFormat, stmt.ColumnText(6))
			if err != nil {
				return fmt.Errorf("agent %s: created_at: %w", stmt.ColumnText(0), err)
			}
			agents = append(agents, schema.Agent{
				ID:           stmt.ColumnText(0),
				Label:        stmt.ColumnText(1),
				RepositoryID: stmt.ColumnText(2),
				WorktreePath: stmt.ColumnText(3),
				Branch:       stmt.ColumnText(4),
				Tool:         stmt.ColumnText(5),
				CreatedAt:    createdAt,
			})
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return agents, nil
}
