// Package service orchestrates the position lifecycle over the domain stores:
// creation, cancellation, execution attempts, and the crash-recovery sweep.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/zkdca/internal/domain"
	"github.com/alanyoungcy/zkdca/internal/engine"
)

// cancelRetries bounds the CAS retry loop in Cancel. Each retry re-reads the
// record, so losing more than a couple of races in a row means something is
// hammering the same position and the caller should see the conflict.
const cancelRetries = 3

// PositionService is the position lifecycle manager. All transitions out of
// Active go through here and are serialized per position by the store's
// conditional writes.
type PositionService struct {
	positions  domain.PositionStore
	executions domain.ExecutionStore
	journal    domain.ExecutionJournal
	audit      domain.AuditStore
	bus        domain.SignalBus
	logger     *slog.Logger
}

// NewPositionService creates a PositionService with all required dependencies.
func NewPositionService(
	positions domain.PositionStore,
	executions domain.ExecutionStore,
	journal domain.ExecutionJournal,
	audit domain.AuditStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions:  positions,
		executions: executions,
		journal:    journal,
		audit:      audit,
		bus:        bus,
		logger:     logger.With(slog.String("component", "position_service")),
	}
}

// Create validates the request and stores a new Active position for owner.
func (s *PositionService) Create(ctx context.Context, owner string, params domain.CreateParams) (domain.Position, error) {
	pos, err := domain.NewPosition(uuid.NewString(), owner, params, time.Now())
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: create: %w", err)
	}

	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("position_service: store position: %w", err)
	}

	s.auditLog(ctx, "position_created", map[string]any{
		"position_id":  pos.ID,
		"owner":        pos.Owner,
		"input_token":  pos.InputToken,
		"output_token": pos.OutputToken,
		"input_amount": pos.InputAmount,
		"interval":     pos.Interval,
		"unbounded":    !pos.Budget.Bounded,
	})
	s.publishEvent(ctx, "position_created", map[string]any{
		"position_id":  pos.ID,
		"input_token":  pos.InputToken,
		"output_token": pos.OutputToken,
		"input_amount": pos.InputAmount,
		"interval":     pos.Interval,
		"unbounded":    !pos.Budget.Bounded,
	})

	s.logger.InfoContext(ctx, "position created",
		slog.String("position_id", pos.ID),
		slog.Uint64("input_token", pos.InputToken),
		slog.Uint64("output_token", pos.OutputToken),
		slog.Uint64("interval", pos.Interval),
	)
	return pos, nil
}

// Cancel transitions the position to Cancelled. Cancelling an already
// cancelled position is a no-op; cancelling an exhausted one fails with
// ErrIllegalTransition because it already completed. Races with in-flight
// executions are settled by the store's conditional write.
func (s *PositionService) Cancel(ctx context.Context, id string) error {
	for attempt := 0; attempt < cancelRetries; attempt++ {
		pos, err := s.positions.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("position_service: get %q: %w", id, err)
		}

		switch pos.Status {
		case domain.PositionStatusCancelled:
			return nil
		case domain.PositionStatusExhausted:
			return fmt.Errorf("position_service: cancel %q: %w", id, domain.ErrIllegalTransition)
		}

		now := time.Now().UTC()
		pos.Status = domain.PositionStatusCancelled
		pos.ClosedAt = &now
		pos.UpdatedAt = now
		pos.Version++

		err = s.positions.Update(ctx, pos)
		if err == nil {
			s.auditLog(ctx, "position_cancelled", map[string]any{"position_id": id})
			s.publishEvent(ctx, "position_cancelled", map[string]any{"position_id": id})
			s.logger.InfoContext(ctx, "position cancelled", slog.String("position_id", id))
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("position_service: cancel %q: %w", id, err)
		}
		// Lost a race; re-read and decide again against the fresh record.
	}
	return fmt.Errorf("position_service: cancel %q: %w", id, domain.ErrConflict)
}

// AttemptExecution applies one execution at the given height with the given
// quote. Eligibility is re-checked here against fresh state as a defence
// against stale callers, and the advanced record plus its pending execution
// row are persisted before any swap is submitted.
//
// When the conditional write loses a race the position is re-read: a loser
// whose position is no longer eligible observes ErrNotEligible, otherwise
// ErrConflict so it can retry against the new state.
func (s *PositionService) AttemptExecution(ctx context.Context, id string, currentHeight, quotedOutput uint64) (domain.ExecutionResult, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}

	next, instr, err := engine.Execute(pos, currentHeight, quotedOutput)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("position_service: execute %q: %w", id, err)
	}

	// The advance and its pending record commit atomically: a crash after
	// this point is recoverable by the reconciliation sweep, which
	// re-submits under the same key, and a crash before it consumes
	// nothing.
	rec := domain.ExecutionRecord{
		Key:         instr.IdempotencyKey(),
		PositionID:  id,
		Height:      currentHeight,
		Instruction: instr,
		Status:      domain.ExecutionStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.journal.PersistExecution(ctx, next, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.ExecutionResult{}, s.resolveConflict(ctx, id, currentHeight)
		}
		return domain.ExecutionResult{}, fmt.Errorf("position_service: persist %q: %w", id, err)
	}

	s.auditLog(ctx, "position_executed", map[string]any{
		"position_id": id,
		"height":      currentHeight,
		"quote":       quotedOutput,
		"exhausted":   next.Status == domain.PositionStatusExhausted,
	})
	s.publishEvent(ctx, "position_executed", map[string]any{
		"position_id": id,
		"height":      currentHeight,
		"status":      string(next.Status),
	})
	if next.Status == domain.PositionStatusExhausted {
		s.publishEvent(ctx, "position_exhausted", map[string]any{"position_id": id})
	}

	s.logger.InfoContext(ctx, "position executed",
		slog.String("position_id", id),
		slog.Uint64("height", currentHeight),
		slog.Uint64("quote", quotedOutput),
		slog.String("status", string(next.Status)),
	)
	return domain.ExecutionResult{Position: next, Instruction: instr}, nil
}

// resolveConflict classifies a lost CAS race: the loser of a double execution
// sees NotEligible after re-evaluation, a loser of some other interleaving
// sees Conflict and may retry.
func (s *PositionService) resolveConflict(ctx context.Context, id string, currentHeight uint64) error {
	fresh, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("position_service: re-read %q after conflict: %w", id, err)
	}
	ok, err := engine.IsEligible(fresh, currentHeight)
	if err != nil {
		return fmt.Errorf("position_service: re-evaluate %q: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("position_service: execute %q: %w", id, domain.ErrNotEligible)
	}
	return fmt.Errorf("position_service: execute %q: %w", id, domain.ErrConflict)
}

// ConfirmSubmission records the exchange acknowledgement for an execution.
func (s *PositionService) ConfirmSubmission(ctx context.Context, key string, outputAmount uint64) error {
	if err := s.executions.MarkSubmitted(ctx, key, outputAmount); err != nil {
		return fmt.Errorf("position_service: confirm %q: %w", key, err)
	}
	s.auditLog(ctx, "swap_submitted", map[string]any{
		"key":           key,
		"output_amount": outputAmount,
	})
	return nil
}

// FailSubmission flags an execution whose swap could not be submitted within
// the bounded retry budget; it stays visible for manual reconciliation.
func (s *PositionService) FailSubmission(ctx context.Context, key string) error {
	if err := s.executions.MarkFailed(ctx, key); err != nil {
		return fmt.Errorf("position_service: fail %q: %w", key, err)
	}
	s.auditLog(ctx, "swap_submission_failed", map[string]any{"key": key})
	return nil
}

// Get returns a single position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return pos, nil
}

// List returns the owner's positions.
func (s *PositionService) List(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for %q: %w", owner, err)
	}
	return positions, nil
}

// ListActive returns every Active position, for the scanner sweep.
func (s *PositionService) ListActive(ctx context.Context) ([]domain.Position, error) {
	positions, err := s.positions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list active: %w", err)
	}
	return positions, nil
}

// ScanEligible returns the ids of positions eligible at the given height.
// Corrupt records are logged and skipped, never executed.
func (s *PositionService) ScanEligible(ctx context.Context, currentHeight uint64) ([]string, error) {
	positions, err := s.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	eligible, corrupt := engine.FindEligible(positions, currentHeight)
	for _, id := range corrupt {
		s.logger.ErrorContext(ctx, "corrupt position record skipped by scan",
			slog.String("position_id", id),
			slog.Uint64("height", currentHeight),
		)
	}
	return eligible, nil
}

// Report summarises a position for callers: status, remaining executions,
// and the next height at which it may execute (0 meaning "now").
func (s *PositionService) Report(ctx context.Context, id string) (domain.PositionReport, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.PositionReport{}, fmt.Errorf("position_service: report %q: %w", id, err)
	}
	return domain.PositionReport{
		ID:                 pos.ID,
		Owner:              pos.Owner,
		Status:             pos.Status,
		Unbounded:          !pos.Budget.Bounded,
		RemainingExecs:     pos.Budget.Remaining,
		NextEligibleHeight: pos.NextEligibleHeight(),
		LastExecutedHeight: pos.LastExecutedHeight,
	}, nil
}

// publishEvent sends a JSON event to the positions channel. Delivery is best
// effort; a bus failure never fails the transition that triggered it.
func (s *PositionService) publishEvent(ctx context.Context, event string, fields map[string]any) {
	if s.bus == nil {
		return
	}
	fields["event"] = event
	payload, _ := json.Marshal(fields)
	if err := s.bus.Publish(ctx, "positions", payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
