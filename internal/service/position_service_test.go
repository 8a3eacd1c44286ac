package service

import (
	"context"
	"errors"
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

// recordingBus collects published payloads per channel.
type recordingBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{payloads: make(map[string][][]byte)}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads[channel] = append(b.payloads[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func newTestService(t *testing.T) (*PositionService, *memory.PositionStore, *memory.ExecutionStore) {
	t.Helper()
	positions := memory.NewPositionStore()
	executions := memory.NewExecutionStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	journal := memory.NewExecutionJournal(positions, executions)
	svc := NewPositionService(positions, executions, journal, memory.NewAuditStore(), newRecordingBus(), logger)
	return svc, positions, executions
}

func validParams() domain.CreateParams {
	return domain.CreateParams{
		InputToken:          1,
		InputAmount:         100,
		OutputToken:         2,
		Interval:            10,
		ExecutionsRemaining: 5,
		MinOutputAmount:     90,
	}
}

func TestCreatePosition(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusActive, pos.Status)
	assert.Nil(t, pos.LastExecutedHeight)

	// Eligible at any height immediately.
	ids, err := svc.ScanEligible(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{pos.ID}, ids)

	rep, err := svc.Report(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rep.NextEligibleHeight)
	assert.Equal(t, uint32(5), rep.RemainingExecs)
}

func TestCreateInvalidParams(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	params := validParams()
	params.Interval = 0
	_, err := svc.Create(ctx, "aleo1owner", params)
	assert.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestExecutionCadence(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	_, err = svc.AttemptExecution(ctx, pos.ID, 100, 95)
	require.NoError(t, err)

	// Not eligible at 101..109, eligible again at 110.
	for h := uint64(101); h < 110; h++ {
		_, err := svc.AttemptExecution(ctx, pos.ID, h, 95)
		assert.ErrorIs(t, err, domain.ErrNotEligible, "height %d", h)
	}
	res, err := svc.AttemptExecution(ctx, pos.ID, 110, 95)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), *res.Position.LastExecutedHeight)

	rep, err := svc.Report(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), rep.NextEligibleHeight)
}

func TestExecutionRecordsPendingBeforeSubmit(t *testing.T) {
	ctx := context.Background()
	svc, _, executions := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	res, err := svc.AttemptExecution(ctx, pos.ID, 100, 95)
	require.NoError(t, err)

	rec, err := executions.GetByKey(ctx, res.Instruction.IdempotencyKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusPending, rec.Status)
	assert.Equal(t, res.Instruction, rec.Instruction)

	require.NoError(t, svc.ConfirmSubmission(ctx, rec.Key, 97))
	rec, err = executions.GetByKey(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSubmitted, rec.Status)
}

func TestExhaustion(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	params := validParams()
	params.ExecutionsRemaining = 1
	pos, err := svc.Create(ctx, "aleo1owner", params)
	require.NoError(t, err)

	res, err := svc.AttemptExecution(ctx, pos.ID, 100, 95)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusExhausted, res.Position.Status)

	_, err = svc.AttemptExecution(ctx, pos.ID, 200, 95)
	assert.ErrorIs(t, err, domain.ErrNotEligible)

	// An exhausted position cannot be cancelled: it already completed.
	err = svc.Cancel(ctx, pos.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestUnboundedOnlyEndsByCancel(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	params := validParams()
	params.ExecutionsRemaining = 0
	pos, err := svc.Create(ctx, "aleo1owner", params)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		res, err := svc.AttemptExecution(ctx, pos.ID, uint64(100+10*i), 95)
		require.NoError(t, err)
		assert.Equal(t, domain.PositionStatusActive, res.Position.Status)
	}

	require.NoError(t, svc.Cancel(ctx, pos.ID))
	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusCancelled, got.Status)
}

func TestCancelIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, pos.ID))
	require.NoError(t, svc.Cancel(ctx, pos.ID)) // no-op, not an error
}

func TestRejectedQuoteMutatesNothing(t *testing.T) {
	ctx := context.Background()
	svc, _, executions := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	_, err = svc.AttemptExecution(ctx, pos.ID, 100, 89)
	require.ErrorIs(t, err, domain.ErrBelowMinimumOutput)

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastExecutedHeight)
	assert.Equal(t, uint32(5), got.Budget.Remaining)
	assert.Equal(t, pos.Version, got.Version)

	pending, err := executions.ListByPosition(ctx, pos.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConcurrentAttemptsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AttemptExecution(ctx, pos.ID, 100, 95)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			// Losers see NotEligible (re-evaluated) or Conflict, never a
			// corrupted state.
			require.True(t,
				errorIsAny(err, domain.ErrNotEligible, domain.ErrConflict),
				"unexpected loser error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got.Budget.Remaining)
	assert.Equal(t, uint64(100), *got.LastExecutedHeight)
}

func TestCancelExecutionRace(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var cancelErr, execErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		cancelErr = svc.Cancel(ctx, pos.ID)
	}()
	go func() {
		defer wg.Done()
		_, execErr = svc.AttemptExecution(ctx, pos.ID, 100, 95)
	}()
	wg.Wait()

	got, err := svc.Get(ctx, pos.ID)
	require.NoError(t, err)

	if cancelErr == nil && execErr == nil {
		// Execution happened first, then cancel landed on the still-Active
		// record; both transitions applied in order.
		assert.Equal(t, domain.PositionStatusCancelled, got.Status)
		assert.Equal(t, uint64(100), *got.LastExecutedHeight)
		return
	}
	if execErr != nil {
		// Cancel won; the attempt observed non-Active and aborted cleanly.
		require.NoError(t, cancelErr)
		require.True(t, errorIsAny(execErr, domain.ErrNotEligible, domain.ErrConflict))
		assert.Equal(t, domain.PositionStatusCancelled, got.Status)
		assert.Nil(t, got.LastExecutedHeight)
		return
	}
	// Cancel lost its bounded retry budget; position executed and stays Active.
	require.ErrorIs(t, cancelErr, domain.ErrConflict)
	assert.Equal(t, domain.PositionStatusActive, got.Status)
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// failingJournal simulates a persist that dies before anything commits.
type failingJournal struct{}

func (failingJournal) PersistExecution(context.Context, domain.Position, domain.ExecutionRecord) error {
	return errors.New("journal unavailable")
}

func TestFailedPersistConsumesNoExecutionSlot(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()
	executions := memory.NewExecutionStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	broken := NewPositionService(positions, executions, failingJournal{}, memory.NewAuditStore(), newRecordingBus(), logger)

	pos, err := broken.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)

	_, err = broken.AttemptExecution(ctx, pos.ID, 100, 95)
	require.Error(t, err)

	// Neither write is visible: the budget is intact, the height was not
	// consumed, and there is no pending record.
	got, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), got.Budget.Remaining)
	assert.Nil(t, got.LastExecutedHeight)
	assert.Equal(t, pos.Version, got.Version)

	pending, err := executions.ListPending(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The same height executes fine once persistence recovers.
	healthy := NewPositionService(positions, executions, memory.NewExecutionJournal(positions, executions), memory.NewAuditStore(), newRecordingBus(), logger)
	res, err := healthy.AttemptExecution(ctx, pos.ID, 100, 95)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), res.Position.Budget.Remaining)

	rec, err := executions.GetByKey(ctx, res.Instruction.IdempotencyKey())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusPending, rec.Status)
}

func TestCreateAndCancelWriteAuditRows(t *testing.T) {
	ctx := context.Background()
	positions := memory.NewPositionStore()
	executions := memory.NewExecutionStore()
	audit := memory.NewAuditStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewPositionService(positions, executions, memory.NewExecutionJournal(positions, executions), audit, newRecordingBus(), logger)

	pos, err := svc.Create(ctx, "aleo1owner", validParams())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, pos.ID))

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)

	events := make([]string, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	assert.Contains(t, events, "position_created")
	assert.Contains(t, events, "position_cancelled")

	for _, e := range entries {
		assert.Equal(t, pos.ID, e.Detail["position_id"])
	}
}
