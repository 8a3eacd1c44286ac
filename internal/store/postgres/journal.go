package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// querier is the subset of pgx execution methods shared by the pool and a
// transaction, so store writes can run in either.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ExecutionJournal is the PostgreSQL-backed domain.ExecutionJournal. The
// position advance and the pending execution insert commit together, so a
// crash can never consume an execution slot without leaving the pending row
// the reconciliation sweep needs.
type ExecutionJournal struct {
	pool *pgxpool.Pool
}

// NewExecutionJournal creates an ExecutionJournal on the client's pool.
func NewExecutionJournal(client *Client) *ExecutionJournal {
	return &ExecutionJournal{pool: client.Pool()}
}

// PersistExecution writes the advanced position and its pending record in
// one transaction. The position write keeps Update's conditional semantics:
// ErrConflict on a version mismatch, ErrNotFound on a missing row, and in
// both cases nothing is committed.
func (j *ExecutionJournal) PersistExecution(ctx context.Context, pos domain.Position, rec domain.ExecutionRecord) error {
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin execution journal: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := updatePosition(ctx, tx, pos); err != nil {
		return err
	}
	if err := insertPendingExecution(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit execution journal: %w", err)
	}
	return nil
}

var _ domain.ExecutionJournal = (*ExecutionJournal)(nil)
