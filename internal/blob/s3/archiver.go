package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// ExecutionArchiveSource provides the read path the archiver needs from the
// execution store. Only settled records (submitted or failed) are archived;
// pending records still belong to the reconciler.
type ExecutionArchiveSource interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.ExecutionRecord, error)
}

// AuditArchiveSource provides the read path the archiver needs from the
// audit store.
type AuditArchiveSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// Archiver implements domain.Archiver: old execution and audit rows are
// serialised to JSONL and uploaded, partitioned by the cutoff's year-month.
// Deleting archived rows from the primary store is deliberately not done
// here; that is a separate step after the archive has been verified.
type Archiver struct {
	writer     domain.BlobWriter
	executions ExecutionArchiveSource
	audit      AuditArchiveSource
	auditLog   domain.AuditStore
}

// NewArchiver creates an Archiver. auditLog receives an entry per completed
// archive run.
func NewArchiver(writer domain.BlobWriter, executions ExecutionArchiveSource, audit AuditArchiveSource, auditLog domain.AuditStore) *Archiver {
	return &Archiver{
		writer:     writer,
		executions: executions,
		audit:      audit,
		auditLog:   auditLog,
	}
}

// ArchiveExecutions uploads settled executions created before the cutoff and
// returns the object path and the number of archived records. No records
// means no upload and an empty path.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (string, int, error) {
	recs, err := a.executions.ListSettledBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(recs) == 0 {
		return "", 0, nil
	}

	path := archivePath("executions", before)
	if err := uploadJSONL(ctx, a.writer, path, recs); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive executions: %w", err)
	}
	a.logRun(ctx, "archive.executions", path, len(recs), before)
	return path, len(recs), nil
}

// ArchiveAudit uploads audit entries created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (string, int, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return "", 0, nil
	}

	path := archivePath("audit", before)
	if err := uploadJSONL(ctx, a.writer, path, entries); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}
	a.logRun(ctx, "archive.audit", path, len(entries), before)
	return path, len(entries), nil
}

func uploadJSONL[T any](ctx context.Context, writer domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

func (a *Archiver) logRun(ctx context.Context, event, path string, count int, before time.Time) {
	if a.auditLog == nil {
		return
	}
	_ = a.auditLog.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
}

// archivePath builds the object key, partitioned by the cutoff's year-month:
//
//	archive/executions/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact
// object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
