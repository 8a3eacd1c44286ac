package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// Reconciler re-submits executions whose swap outcome is unknown. The
// position state was persisted before submission, so after a crash the
// pending record is the source of truth: the sweep replays the stored
// instruction under its original idempotency key and the exchange discards
// duplicates. It never re-runs Execute against position state.
type Reconciler struct {
	executions domain.ExecutionStore
	exchange   domain.Exchange
	audit      domain.AuditStore
	grace      time.Duration // leave in-flight submissions alone this long
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler. grace is how old a pending record must
// be before the sweep considers its submission lost.
func NewReconciler(
	executions domain.ExecutionStore,
	exchange domain.Exchange,
	audit domain.AuditStore,
	grace time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if grace <= 0 {
		grace = time.Minute
	}
	return &Reconciler{
		executions: executions,
		exchange:   exchange,
		audit:      audit,
		grace:      grace,
		logger:     logger.With(slog.String("component", "reconciler")),
	}
}

// Sweep finds stale pending executions and re-submits each one. It returns
// the number of records it settled; individual failures are logged and left
// pending for the next sweep.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.grace)
	pending, err := r.executions.ListPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reconciler: list pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	r.logger.InfoContext(ctx, "reconciling pending executions",
		slog.Int("count", len(pending)),
	)

	settled := 0
	for _, rec := range pending {
		output, err := r.exchange.SubmitSwap(ctx, rec.Key, rec.Instruction)
		if err != nil {
			r.logger.WarnContext(ctx, "reconcile resubmission failed",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.executions.MarkSubmitted(ctx, rec.Key, output); err != nil {
			r.logger.ErrorContext(ctx, "reconcile mark submitted failed",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.audit.Log(ctx, "swap_reconciled", map[string]any{
			"key":           rec.Key,
			"position_id":   rec.PositionID,
			"height":        rec.Height,
			"output_amount": output,
		}); err != nil {
			r.logger.WarnContext(ctx, "reconcile audit log failed",
				slog.String("key", rec.Key),
				slog.String("error", err.Error()),
			)
		}
		settled++
	}
	return settled, nil
}

// Run executes Sweep on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconcile sweep failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
