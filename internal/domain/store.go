package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// PositionStore persists Position records. Writes are conditional: Update
// succeeds only when the stored version equals pos.Version-1, which is how
// per-position serialization is enforced without a global lock. Records are
// never deleted; terminal positions stay for audit.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	// Update replaces the record if and only if the stored version is
	// pos.Version-1. It returns ErrConflict when another writer got there
	// first and ErrNotFound when no record exists.
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Position, error)
	ListActive(ctx context.Context) ([]Position, error)
}

// ExecutionStore persists execution records keyed by idempotency key.
type ExecutionStore interface {
	// RecordPending inserts a pending record. Inserting an existing key is
	// not an error: the first write wins and the duplicate is ignored, which
	// keeps crash-retry paths idempotent.
	RecordPending(ctx context.Context, rec ExecutionRecord) error
	MarkSubmitted(ctx context.Context, key string, outputAmount uint64) error
	MarkFailed(ctx context.Context, key string) error
	GetByKey(ctx context.Context, key string) (ExecutionRecord, error)
	// ListPending returns pending records created before the cutoff, oldest
	// first. The reconciliation sweep re-submits these.
	ListPending(ctx context.Context, before time.Time) ([]ExecutionRecord, error)
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]ExecutionRecord, error)
}

// ExecutionJournal persists an advanced position together with its pending
// execution record as one atomic write: both become visible or neither does.
// A crash can therefore never consume an execution slot without leaving a
// pending record for the reconciliation sweep. The position write keeps
// Update's conditional semantics (ErrConflict, ErrNotFound).
type ExecutionJournal interface {
	PersistExecution(ctx context.Context, pos Position, rec ExecutionRecord) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// LockManager provides distributed, TTL-bounded mutual exclusion. The
// executor uses it to avoid racing other executor instances on the same
// position; correctness does not depend on it (the store CAS does that), it
// only avoids wasted quotes and submissions.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when the
	// lock is owned by another party.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus carries engine events (position created, executed, cancelled,
// exhausted) to observers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// HeightCache remembers the last ledger height the engine fully processed so
// a restarted executor does not re-sweep old heights.
type HeightCache interface {
	LastProcessed(ctx context.Context) (uint64, bool, error)
	SetLastProcessed(ctx context.Context, height uint64) error
}

// BlobWriter uploads a single object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports historical engine data to blob storage.
type Archiver interface {
	ArchiveExecutions(ctx context.Context, before time.Time) (string, int, error)
	ArchiveAudit(ctx context.Context, before time.Time) (string, int, error)
}
