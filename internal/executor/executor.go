// Package executor drives the per-height execution sweep: scan for eligible
// positions, fetch a quote, apply the execution through the lifecycle
// manager, and submit the resulting swap.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// Lifecycle is the slice of the position service the executor needs.
type Lifecycle interface {
	ScanEligible(ctx context.Context, currentHeight uint64) ([]string, error)
	AttemptExecution(ctx context.Context, id string, currentHeight, quotedOutput uint64) (domain.ExecutionResult, error)
	Get(ctx context.Context, id string) (domain.Position, error)
	ConfirmSubmission(ctx context.Context, key string, outputAmount uint64) error
	FailSubmission(ctx context.Context, key string) error
}

// Config tunes the sweep.
type Config struct {
	LockTTL       time.Duration // per-position lock lifetime
	DedupTTL      time.Duration // idempotency-key memory
	MaxConcurrent int           // parallel executions per sweep
	SubmitRetries int           // swap submission attempts before giving up
	SubmitBackoff time.Duration // base backoff between submission attempts
	CleanupEvery  time.Duration // dedup cleanup cadence
}

func (c *Config) applyDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 3
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = time.Second
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = time.Minute
	}
}

// Executor consumes ledger heights and runs one sweep per height. Per
// position it serializes against other executor instances with a distributed
// lock; the store CAS settles any race the lock misses.
type Executor struct {
	lifecycle Lifecycle
	exchange  domain.Exchange
	locks     domain.LockManager
	heights   domain.HeightCache // optional
	dedup     *Dedup
	cfg       Config
	logger    *slog.Logger
}

// New creates an Executor.
func New(
	lifecycle Lifecycle,
	exchange domain.Exchange,
	locks domain.LockManager,
	heights domain.HeightCache,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	cfg.applyDefaults()
	return &Executor{
		lifecycle: lifecycle,
		exchange:  exchange,
		locks:     locks,
		heights:   heights,
		dedup:     NewDedup(cfg.DedupTTL),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Run consumes heights until the context is cancelled. Heights already
// processed (per the height cache) are skipped so restarts do not re-sweep.
func (e *Executor) Run(ctx context.Context, heights <-chan uint64) error {
	e.logger.InfoContext(ctx, "executor started")
	defer e.logger.InfoContext(ctx, "executor stopped")

	cleanup := time.NewTicker(e.cfg.CleanupEvery)
	defer cleanup.Stop()

	var last uint64
	var haveLast bool
	if e.heights != nil {
		if h, ok, err := e.heights.LastProcessed(ctx); err == nil && ok {
			last, haveLast = h, true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			e.dedup.Cleanup()
		case height, ok := <-heights:
			if !ok {
				return nil
			}
			if haveLast && height <= last {
				continue
			}
			e.Sweep(ctx, height)
			last, haveLast = height, true
			if e.heights != nil {
				if err := e.heights.SetLastProcessed(ctx, height); err != nil {
					e.logger.WarnContext(ctx, "persist last height failed",
						slog.Uint64("height", height),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// Sweep executes every position eligible at the given height. Failures are
// per-position; one bad position never stalls the rest of the sweep.
func (e *Executor) Sweep(ctx context.Context, height uint64) {
	ids, err := e.lifecycle.ScanEligible(ctx, height)
	if err != nil {
		e.logger.ErrorContext(ctx, "scan failed",
			slog.Uint64("height", height),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(ids) == 0 {
		return
	}

	e.logger.DebugContext(ctx, "sweep",
		slog.Uint64("height", height),
		slog.Int("eligible", len(ids)),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for _, id := range ids {
		g.Go(func() error {
			if err := e.executeOne(ctx, id, height); err != nil && !expectedOutcome(err) {
				e.logger.ErrorContext(ctx, "execution failed",
					slog.String("position_id", id),
					slog.Uint64("height", height),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// expectedOutcome reports errors that are ordinary sweep outcomes rather
// than defects: someone else got there first, or the market moved.
func expectedOutcome(err error) bool {
	return errors.Is(err, domain.ErrNotEligible) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrLockHeld) ||
		errors.Is(err, domain.ErrBelowMinimumOutput)
}

// ExecuteNow runs a single position's execution at the given height outside
// the regular sweep. The manual trigger endpoint uses it; the same dedup,
// lock, and quote path applies.
func (e *Executor) ExecuteNow(ctx context.Context, id string, height uint64) error {
	return e.executeOne(ctx, id, height)
}

func (e *Executor) executeOne(ctx context.Context, id string, height uint64) error {
	key := fmt.Sprintf("%s:%d", id, height)
	if e.dedup.IsDuplicate(key) {
		return nil
	}

	unlock, err := e.locks.Acquire(ctx, "exec:"+id, e.cfg.LockTTL)
	if err != nil {
		e.dedup.Forget(key)
		return fmt.Errorf("executor: lock %s: %w", id, err)
	}
	defer unlock()

	pos, err := e.lifecycle.Get(ctx, id)
	if err != nil {
		e.dedup.Forget(key)
		return fmt.Errorf("executor: get %s: %w", id, err)
	}

	quote, err := e.exchange.Quote(ctx, pos.InputToken, pos.OutputToken, pos.InputAmount)
	if err != nil {
		e.dedup.Forget(key)
		return fmt.Errorf("executor: quote %s: %w", id, err)
	}
	if quote < pos.MinOutputAmount {
		// Not worth an attempt; the position stays untouched and a fresh
		// quote is taken next height.
		e.dedup.Forget(key)
		e.logger.DebugContext(ctx, "quote below minimum, skipping",
			slog.String("position_id", id),
			slog.Uint64("quote", quote),
			slog.Uint64("min_output", pos.MinOutputAmount),
		)
		return nil
	}

	res, err := e.lifecycle.AttemptExecution(ctx, id, height, quote)
	if err != nil {
		e.dedup.Forget(key)
		return err
	}

	return e.submit(ctx, res.Instruction)
}

// submit pushes the instruction to the exchange with bounded retries under
// the same idempotency key. On exhaustion the record is marked failed and
// left to manual reconciliation; the position state already advanced, so
// retrying the execution itself would double-spend.
func (e *Executor) submit(ctx context.Context, instr domain.SwapInstruction) error {
	key := instr.IdempotencyKey()

	var lastErr error
	for attempt := 0; attempt < e.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.SubmitBackoff * time.Duration(1<<(attempt-1))):
			}
		}
		output, err := e.exchange.SubmitSwap(ctx, key, instr)
		if err == nil {
			if err := e.lifecycle.ConfirmSubmission(ctx, key, output); err != nil {
				return err
			}
			e.logger.InfoContext(ctx, "swap submitted",
				slog.String("key", key),
				slog.Uint64("output", output),
			)
			return nil
		}
		lastErr = err
		e.logger.WarnContext(ctx, "swap submission attempt failed",
			slog.String("key", key),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	if err := e.lifecycle.FailSubmission(ctx, key); err != nil {
		e.logger.ErrorContext(ctx, "mark submission failed errored",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("executor: submit %s: %w: %w", key, domain.ErrSubmissionFailed, lastErr)
}
