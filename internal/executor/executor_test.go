package executor

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
	"github.com/alanyoungcy/zkdca/internal/service"
	"github.com/alanyoungcy/zkdca/internal/store/memory"
)

// sweepExchange quotes a fixed output and records submissions by key.
type sweepExchange struct {
	mu        sync.Mutex
	quote     uint64
	submitted map[string]int
	failures  int // fail this many submissions before succeeding
}

func newSweepExchange(quote uint64) *sweepExchange {
	return &sweepExchange{quote: quote, submitted: make(map[string]int)}
}

func (f *sweepExchange) Quote(context.Context, uint64, uint64, uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, nil
}

func (f *sweepExchange) SubmitSwap(_ context.Context, key string, _ domain.SwapInstruction) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("relayer unavailable")
	}
	f.submitted[key]++
	return f.quote, nil
}

func (f *sweepExchange) submissionCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[key]
}

func testHarness(t *testing.T, quote uint64) (*Executor, *service.PositionService, *sweepExchange, *memory.ExecutionStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	positions := memory.NewPositionStore()
	executions := memory.NewExecutionStore()
	journal := memory.NewExecutionJournal(positions, executions)
	svc := service.NewPositionService(positions, executions, journal, memory.NewAuditStore(), nil, logger)
	exchange := newSweepExchange(quote)
	exec := New(svc, exchange, memory.NewLockManager(), nil, Config{
		SubmitBackoff: time.Millisecond,
	}, logger)
	return exec, svc, exchange, executions
}

func TestSweepExecutesEligiblePositions(t *testing.T) {
	ctx := context.Background()
	exec, svc, exchange, _ := testHarness(t, 95)

	a, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 1, InputAmount: 100, OutputToken: 2, Interval: 10, ExecutionsRemaining: 5, MinOutputAmount: 90,
	})
	require.NoError(t, err)
	b, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 3, InputAmount: 50, OutputToken: 4, Interval: 10, ExecutionsRemaining: 0, MinOutputAmount: 10,
	})
	require.NoError(t, err)

	exec.Sweep(ctx, 100)

	for _, id := range []string{a.ID, b.ID} {
		got, err := svc.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got.LastExecutedHeight, "position %s", id)
		assert.Equal(t, uint64(100), *got.LastExecutedHeight)
		assert.Equal(t, 1, exchange.submissionCount(id+":100"))
	}
}

func TestSweepSameHeightTwiceExecutesOnce(t *testing.T) {
	ctx := context.Background()
	exec, svc, exchange, _ := testHarness(t, 95)

	p, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 1, InputAmount: 100, OutputToken: 2, Interval: 10, ExecutionsRemaining: 5, MinOutputAmount: 90,
	})
	require.NoError(t, err)

	exec.Sweep(ctx, 100)
	exec.Sweep(ctx, 100)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), got.Budget.Remaining)
	assert.Equal(t, 1, exchange.submissionCount(p.ID+":100"))
}

func TestSweepSkipsQuoteBelowMinimum(t *testing.T) {
	ctx := context.Background()
	exec, svc, exchange, _ := testHarness(t, 80)

	p, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 1, InputAmount: 100, OutputToken: 2, Interval: 10, ExecutionsRemaining: 5, MinOutputAmount: 90,
	})
	require.NoError(t, err)

	exec.Sweep(ctx, 100)

	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastExecutedHeight)
	assert.Equal(t, uint32(5), got.Budget.Remaining)
	assert.Zero(t, exchange.submissionCount(p.ID+":100"))
}

func TestSubmitRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	exec, svc, exchange, executions := testHarness(t, 95)
	exchange.failures = 2 // first two attempts fail, third succeeds

	p, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 1, InputAmount: 100, OutputToken: 2, Interval: 10, ExecutionsRemaining: 5, MinOutputAmount: 90,
	})
	require.NoError(t, err)

	exec.Sweep(ctx, 100)

	key := p.ID + ":100"
	assert.Equal(t, 1, exchange.submissionCount(key))
	rec, err := executions.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusSubmitted, rec.Status)
}

func TestSubmitExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	exec, svc, exchange, executions := testHarness(t, 95)
	exchange.failures = 100 // never recovers within the retry budget

	p, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 1, InputAmount: 100, OutputToken: 2, Interval: 10, ExecutionsRemaining: 5, MinOutputAmount: 90,
	})
	require.NoError(t, err)

	exec.Sweep(ctx, 100)

	// The position advanced (persist happens before submit) and the record
	// is flagged for manual reconciliation.
	got, err := svc.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastExecutedHeight)

	rec, err := executions.GetByKey(ctx, p.ID+":100")
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionStatusFailed, rec.Status)
}

func TestRunSkipsProcessedHeights(t *testing.T) {
	exec, svc, exchange, _ := testHarness(t, 95)
	ctx, cancel := context.WithCancel(context.Background())

	p, err := svc.Create(ctx, "aleo1owner", domain.CreateParams{
		InputToken: 1, InputAmount: 100, OutputToken: 2, Interval: 1, ExecutionsRemaining: 0, MinOutputAmount: 90,
	})
	require.NoError(t, err)

	heights := make(chan uint64, 4)
	heights <- 100
	heights <- 100 // replayed by the feed
	heights <- 99  // stale
	heights <- 101
	close(heights)

	err = exec.Run(ctx, heights)
	require.NoError(t, err)
	cancel()

	assert.Equal(t, 1, exchange.submissionCount(p.ID+":100"))
	assert.Zero(t, exchange.submissionCount(p.ID+":99"))
	assert.Equal(t, 1, exchange.submissionCount(p.ID+":101"))
}
