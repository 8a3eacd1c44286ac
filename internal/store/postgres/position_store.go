package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

const positionColumns = `id, owner, input_token, output_token, input_amount,
	interval_blocks, min_output_amount, budget_bounded, budget_remaining,
	last_executed_height, status, version, created_at, updated_at, closed_at`

// PositionStore is the PostgreSQL-backed domain.PositionStore. Update is a
// compare-and-swap on the version column.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore on the client's pool.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{pool: client.Pool()}
}

// Create inserts a new record. A duplicate id is ErrConflict.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Owner,
		int64(pos.InputToken), int64(pos.OutputToken), int64(pos.InputAmount),
		int64(pos.Interval), int64(pos.MinOutputAmount),
		pos.Budget.Bounded, int64(pos.Budget.Remaining),
		heightParam(pos.LastExecutedHeight),
		string(pos.Status), int64(pos.Version),
		pos.CreatedAt, pos.UpdatedAt, pos.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrConflict
		}
		return fmt.Errorf("postgres: insert position: %w", err)
	}
	return nil
}

// Update replaces the record only when the stored version is pos.Version-1.
// A version mismatch is ErrConflict; a missing row is ErrNotFound.
func (s *PositionStore) Update(ctx context.Context, pos domain.Position) error {
	return updatePosition(ctx, s.pool, pos)
}

// updatePosition is the conditional write shared by Update and the execution
// journal, which runs it inside a transaction.
func updatePosition(ctx context.Context, q querier, pos domain.Position) error {
	const query = `
		UPDATE positions SET
			budget_bounded = $1, budget_remaining = $2,
			last_executed_height = $3, status = $4, version = $5,
			updated_at = $6, closed_at = $7
		WHERE id = $8 AND version = $9`

	tag, err := q.Exec(ctx, query,
		pos.Budget.Bounded, int64(pos.Budget.Remaining),
		heightParam(pos.LastExecutedHeight),
		string(pos.Status), int64(pos.Version),
		pos.UpdatedAt, pos.ClosedAt,
		pos.ID, int64(pos.Version-1),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := q.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", pos.ID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("postgres: check position %s: %w", pos.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

// GetByID returns a record by id.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	pos, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// ListByOwner returns the owner's positions, newest first.
func (s *PositionStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	const query = `
		SELECT ` + positionColumns + ` FROM positions
		WHERE owner = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, owner, limitParam(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions by owner: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListActive returns every Active position ordered by id.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	const query = `
		SELECT ` + positionColumns + ` FROM positions
		WHERE status = 'active'
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		pos                                                    domain.Position
		inputToken, outputToken, inputAmount, interval, minOut int64
		budgetRemaining, version                               int64
		lastExecuted                                           *int64
		status                                                 string
	)
	err := row.Scan(
		&pos.ID, &pos.Owner,
		&inputToken, &outputToken, &inputAmount, &interval, &minOut,
		&pos.Budget.Bounded, &budgetRemaining,
		&lastExecuted, &status, &version,
		&pos.CreatedAt, &pos.UpdatedAt, &pos.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	pos.InputToken = uint64(inputToken)
	pos.OutputToken = uint64(outputToken)
	pos.InputAmount = uint64(inputAmount)
	pos.Interval = uint64(interval)
	pos.MinOutputAmount = uint64(minOut)
	pos.Budget.Remaining = uint32(budgetRemaining)
	pos.Status = domain.PositionStatus(status)
	pos.Version = uint64(version)
	if lastExecuted != nil {
		h := uint64(*lastExecuted)
		pos.LastExecutedHeight = &h
	}
	return pos, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}

func heightParam(h *uint64) *int64 {
	if h == nil {
		return nil
	}
	v := int64(*h)
	return &v
}

// limitParam maps a non-positive limit to SQL NULL, which LIMIT treats as
// unlimited.
func limitParam(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

var _ domain.PositionStore = (*PositionStore)(nil)
