// Package memory implements the domain store interfaces in process memory.
// It honours the same conditional-write semantics as the Postgres stores and
// backs both the test suite and paper mode.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// PositionStore is an in-memory domain.PositionStore with per-record
// optimistic versioning.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

// Create inserts a new record. Ids are never reused.
func (s *PositionStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrConflict
	}
	s.positions[pos.ID] = pos
	return nil
}

// Update replaces the record only when the stored version is pos.Version-1.
func (s *PositionStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.positions[pos.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != pos.Version-1 {
		return domain.ErrConflict
	}
	s.positions[pos.ID] = pos
	return nil
}

// GetByID returns a record by id.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

// ListByOwner returns the owner's positions sorted by creation time, newest
// first.
func (s *PositionStore) ListByOwner(_ context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

// ListActive returns every Active position sorted by id.
func (s *PositionStore) ListActive(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == domain.PositionStatusActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func paginate(in []domain.Position, opts domain.ListOpts) []domain.Position {
	if opts.Offset > 0 {
		if opts.Offset >= len(in) {
			return nil
		}
		in = in[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}

// ExecutionStore is an in-memory domain.ExecutionStore.
type ExecutionStore struct {
	mu   sync.Mutex
	recs map[string]domain.ExecutionRecord
}

// NewExecutionStore creates an empty ExecutionStore.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{recs: make(map[string]domain.ExecutionRecord)}
}

// RecordPending inserts a pending record; duplicates of an existing key are
// ignored so the crash-retry path stays idempotent.
func (s *ExecutionStore) RecordPending(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.Key]; ok {
		return nil
	}
	rec.Status = domain.ExecutionStatusPending
	s.recs[rec.Key] = rec
	return nil
}

// MarkSubmitted records the exchange acknowledgement for the key.
func (s *ExecutionStore) MarkSubmitted(_ context.Context, key string, outputAmount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = domain.ExecutionStatusSubmitted
	rec.OutputAmount = &outputAmount
	rec.SubmittedAt = &now
	s.recs[key] = rec
	return nil
}

// MarkFailed flags the record for manual reconciliation.
func (s *ExecutionStore) MarkFailed(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = domain.ExecutionStatusFailed
	s.recs[key] = rec
	return nil
}

// GetByKey returns the record for the idempotency key.
func (s *ExecutionStore) GetByKey(_ context.Context, key string) (domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

// ListPending returns pending records created before the cutoff, oldest first.
func (s *ExecutionStore) ListPending(_ context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExecutionRecord
	for _, rec := range s.recs {
		if rec.Status == domain.ExecutionStatusPending && rec.CreatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListSettledBefore returns submitted and failed records created before the
// cutoff, oldest first. The archiver reads these.
func (s *ExecutionStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExecutionRecord
	for _, rec := range s.recs {
		if rec.Status != domain.ExecutionStatusPending && rec.CreatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListByPosition returns the position's executions, newest first.
func (s *ExecutionStore) ListByPosition(_ context.Context, positionID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExecutionRecord
	for _, rec := range s.recs {
		if rec.PositionID == positionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.PositionStore  = (*PositionStore)(nil)
	_ domain.ExecutionStore = (*ExecutionStore)(nil)
)
