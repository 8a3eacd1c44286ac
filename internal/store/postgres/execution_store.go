package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

const executionColumns = `key, position_id, height, instruction, status,
	output_amount, created_at, submitted_at`

// ExecutionStore is the PostgreSQL-backed domain.ExecutionStore. Rows are
// keyed by idempotency key, so re-inserting the same logical execution is a
// no-op.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore on the client's pool.
func NewExecutionStore(client *Client) *ExecutionStore {
	return &ExecutionStore{pool: client.Pool()}
}

// RecordPending inserts a pending record; an existing key is left untouched.
func (s *ExecutionStore) RecordPending(ctx context.Context, rec domain.ExecutionRecord) error {
	return insertPendingExecution(ctx, s.pool, rec)
}

// insertPendingExecution is the idempotent insert shared by RecordPending
// and the execution journal, which runs it inside a transaction.
func insertPendingExecution(ctx context.Context, q querier, rec domain.ExecutionRecord) error {
	const query = `
		INSERT INTO executions (key, position_id, height, instruction, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO NOTHING`

	instruction, err := json.Marshal(rec.Instruction)
	if err != nil {
		return fmt.Errorf("postgres: marshal instruction: %w", err)
	}
	_, err = q.Exec(ctx, query,
		rec.Key, rec.PositionID, int64(rec.Height),
		instruction, string(domain.ExecutionStatusPending), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", rec.Key, err)
	}
	return nil
}

// MarkSubmitted records the exchange acknowledgement for the key.
func (s *ExecutionStore) MarkSubmitted(ctx context.Context, key string, outputAmount uint64) error {
	const query = `
		UPDATE executions
		SET status = $2, output_amount = $3, submitted_at = NOW()
		WHERE key = $1`

	tag, err := s.pool.Exec(ctx, query,
		key, string(domain.ExecutionStatusSubmitted), int64(outputAmount),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark execution %s submitted: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkFailed flags the record for manual reconciliation.
func (s *ExecutionStore) MarkFailed(ctx context.Context, key string) error {
	const query = `UPDATE executions SET status = $2 WHERE key = $1`

	tag, err := s.pool.Exec(ctx, query, key, string(domain.ExecutionStatusFailed))
	if err != nil {
		return fmt.Errorf("postgres: mark execution %s failed: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByKey returns the record for the idempotency key.
func (s *ExecutionStore) GetByKey(ctx context.Context, key string) (domain.ExecutionRecord, error) {
	const query = `SELECT ` + executionColumns + ` FROM executions WHERE key = $1`

	rec, err := scanExecution(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", key, err)
	}
	return rec, nil
}

// ListPending returns pending records created before the cutoff, oldest first.
func (s *ExecutionStore) ListPending(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT ` + executionColumns + ` FROM executions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListSettledBefore returns submitted and failed records created before the
// cutoff, oldest first. The archiver reads these.
func (s *ExecutionStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT ` + executionColumns + ` FROM executions
		WHERE status <> 'pending' AND created_at < $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListByPosition returns the position's executions, newest first.
func (s *ExecutionStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT ` + executionColumns + ` FROM executions
		WHERE position_id = $1
		ORDER BY height DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, positionID, limitParam(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions by position: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var (
		rec          domain.ExecutionRecord
		height       int64
		instruction  []byte
		status       string
		outputAmount *int64
	)
	err := row.Scan(
		&rec.Key, &rec.PositionID, &height, &instruction, &status,
		&outputAmount, &rec.CreatedAt, &rec.SubmittedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	if err := json.Unmarshal(instruction, &rec.Instruction); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("unmarshal instruction: %w", err)
	}

	rec.Height = uint64(height)
	rec.Status = domain.ExecutionStatus(status)
	if outputAmount != nil {
		v := uint64(*outputAmount)
		rec.OutputAmount = &v
	}
	return rec, nil
}

func scanExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate executions: %w", err)
	}
	return out, nil
}

var _ domain.ExecutionStore = (*ExecutionStore)(nil)
