package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// AuditStore is the PostgreSQL-backed append-only domain.AuditStore.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on the client's pool.
func NewAuditStore(client *Client) *AuditStore {
	return &AuditStore{pool: client.Pool()}
}

// Log appends one audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		"INSERT INTO audit_log (event, detail) VALUES ($1, $2)", event, payload,
	); err != nil {
		return fmt.Errorf("postgres: insert audit entry: %w", err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	const query = `
		SELECT id, event, detail, created_at FROM audit_log
		ORDER BY id DESC
		LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, limitParam(opts.Limit), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			entry  domain.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Event, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if err := json.Unmarshal(detail, &entry.Detail); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate audit entries: %w", err)
	}
	return out, nil
}

// ListBefore returns entries created before the cutoff, oldest first. The
// archiver reads these.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	const query = `
		SELECT id, event, detail, created_at FROM audit_log
		WHERE created_at < $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries before cutoff: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			entry  domain.AuditEntry
			detail []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Event, &detail, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if err := json.Unmarshal(detail, &entry.Detail); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate audit entries: %w", err)
	}
	return out, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
