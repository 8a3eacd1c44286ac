package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/zkdca/internal/domain"
	"github.com/alanyoungcy/zkdca/internal/store/memory"
)

// fakeExchange records submissions by idempotency key and serves a fixed
// quote. Duplicate keys return the original result without re-executing,
// matching the de-duplication contract of the real relayer.
type fakeExchange struct {
	mu        sync.Mutex
	rate      uint64 // output per 100 input
	submitted map[string]uint64
}

func newFakeExchange(rate uint64) *fakeExchange {
	return &fakeExchange{rate: rate, submitted: make(map[string]uint64)}
}

func (f *fakeExchange) Quote(_ context.Context, _, _, inputAmount uint64) (uint64, error) {
	return inputAmount * f.rate / 100, nil
}

func (f *fakeExchange) SubmitSwap(_ context.Context, key string, instr domain.SwapInstruction) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if out, ok := f.submitted[key]; ok {
		return out, nil
	}
	out := instr.InputAmount * f.rate / 100
	f.submitted[key] = out
	return out, nil
}

func (f *fakeExchange) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func TestReconcilerResubmitsStalePending(t *testing.T) {
	ctx := context.Background()
	executions := memory.NewExecutionStore()
	exchange := newFakeExchange(95)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := NewReconciler(executions, exchange, memory.NewAuditStore(), time.Minute, logger)

	instr := domain.SwapInstruction{
		PositionID:      "a",
		Height:          100,
		InputToken:      1,
		InputAmount:     100,
		OutputToken:     2,
		MinOutputAmount: 90,
	}
	require.NoError(t, executions.RecordPending(ctx, domain.ExecutionRecord{
		Key:         instr.IdempotencyKey(),
		PositionID:  "a",
		Height:      100,
		Instruction: instr,
		CreatedAt:   time.Now().Add(-time.Hour),
	}))

	settled, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, exchange.submissions())

	got, err := executions.GetByKey(ctx, "a:100")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSubmitted, got.Status)
	require.NotNil(t, got.OutputAmount)
	assert.Equal(t, uint64(95), *got.OutputAmount)
}

func TestReconcilerIdempotentResubmission(t *testing.T) {
	ctx := context.Background()
	executions := memory.NewExecutionStore()
	exchange := newFakeExchange(95)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := NewReconciler(executions, exchange, memory.NewAuditStore(), time.Minute, logger)

	instr := domain.SwapInstruction{PositionID: "a", Height: 100, InputToken: 1, InputAmount: 100, OutputToken: 2}

	// The swap was already submitted before the crash; replaying the same
	// key must not double-execute the underlying transfer.
	_, err := exchange.SubmitSwap(ctx, instr.IdempotencyKey(), instr)
	require.NoError(t, err)
	require.NoError(t, executions.RecordPending(ctx, domain.ExecutionRecord{
		Key:         instr.IdempotencyKey(),
		PositionID:  "a",
		Height:      100,
		Instruction: instr,
		CreatedAt:   time.Now().Add(-time.Hour),
	}))

	settled, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, exchange.submissions())
}

func TestReconcilerRespectsGrace(t *testing.T) {
	ctx := context.Background()
	executions := memory.NewExecutionStore()
	exchange := newFakeExchange(95)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := NewReconciler(executions, exchange, memory.NewAuditStore(), time.Hour, logger)

	instr := domain.SwapInstruction{PositionID: "a", Height: 100, InputToken: 1, InputAmount: 100, OutputToken: 2}
	require.NoError(t, executions.RecordPending(ctx, domain.ExecutionRecord{
		Key:         instr.IdempotencyKey(),
		PositionID:  "a",
		Height:      100,
		Instruction: instr,
		CreatedAt:   time.Now(), // fresh, likely still in flight
	}))

	settled, err := rec.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, settled)
	assert.Zero(t, exchange.submissions())
}
