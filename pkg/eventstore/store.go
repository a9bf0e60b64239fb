// Package eventstore implements the Event Store collaborator (spec §3, §4.A):
// the durable relational store for events, workspaces, devices,
// workspace-device links, sessions, git activity, transcript messages, and
// content blocks. All repositories are hand-written SQL over jackc/pgx/v5.
package eventstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by *pgxpool.Pool, pgx.Tx, and *pgxpool.Conn, letting
// every repository method run either directly against the pool or inside a
// caller-managed transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the connection pool used by every repository and the
// transaction helper the Event Processor dispatches handlers through.
type Store struct {
	Pool *pgxpool.Pool

	Events           *EventRepo
	Workspaces       *WorkspaceRepo
	Devices          *DeviceRepo
	WorkspaceDevices *WorkspaceDeviceRepo
	Sessions         *SessionRepo
	GitActivity      *GitActivityRepo
	Transcripts      *TranscriptRepo
}

// New builds a Store and its repositories over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Pool:             pool,
		Events:           &EventRepo{},
		Workspaces:       &WorkspaceRepo{},
		Devices:          &DeviceRepo{},
		WorkspaceDevices: &WorkspaceDeviceRepo{},
		Sessions:         &SessionRepo{},
		GitActivity:      &GitActivityRepo{},
		Transcripts:      &TranscriptRepo{},
	}
}

// WithTx runs fn inside a single database transaction, matching the Event
// Processor's "dedup + normalize + dispatch + commit" contract (spec §4.F):
// every repository call inside fn receives the same tx, so either everything
// commits together or nothing does.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
