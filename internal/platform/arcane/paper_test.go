package arcane

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

func TestPaperExchangeQuote(t *testing.T) {
	ctx := context.Background()

	p := NewPaperExchange(nil)
	out, err := p.Quote(ctx, 1, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), out)

	p.RateNum = 3
	p.RateDen = 2
	out, err = p.Quote(ctx, 1, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), out)
}

func TestPaperExchangeQuoteOverflow(t *testing.T) {
	ctx := context.Background()

	p := NewPaperExchange(nil)
	p.RateNum = 2
	p.RateDen = 1

	_, err := p.Quote(ctx, 1, 2, math.MaxUint64/2+1)
	assert.ErrorIs(t, err, domain.ErrOverflow)

	// The largest representable product still quotes.
	out, err := p.Quote(ctx, 1, 2, math.MaxUint64/2)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64-1), out)
}

func TestPaperExchangeReplaysFillByKey(t *testing.T) {
	ctx := context.Background()

	p := NewPaperExchange(nil)
	instr := domain.SwapInstruction{PositionID: "a", Height: 100, InputToken: 1, InputAmount: 100, OutputToken: 2}

	first, err := p.SubmitSwap(ctx, instr.IdempotencyKey(), instr)
	require.NoError(t, err)

	// Resubmission at a changed rate replays the original fill.
	p.RateNum = 5
	again, err := p.SubmitSwap(ctx, instr.IdempotencyKey(), instr)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestPaperExchangeSubmitSwapPropagatesOverflow(t *testing.T) {
	ctx := context.Background()

	p := NewPaperExchange(nil)
	p.RateNum = 2
	instr := domain.SwapInstruction{PositionID: "a", Height: 100, InputToken: 1, InputAmount: math.MaxUint64, OutputToken: 2}

	_, err := p.SubmitSwap(ctx, instr.IdempotencyKey(), instr)
	assert.ErrorIs(t, err, domain.ErrOverflow)
}
