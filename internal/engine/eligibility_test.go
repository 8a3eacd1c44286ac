package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

func newTestPosition(t *testing.T, remaining uint32) domain.Position {
	t.Helper()
	p, err := domain.NewPosition("pos-1", "aleo1owner", domain.CreateParams{
		InputToken:          1,
		InputAmount:         100,
		OutputToken:         2,
		Interval:            10,
		ExecutionsRemaining: remaining,
		MinOutputAmount:     90,
	}, time.Now())
	require.NoError(t, err)
	return p
}

func executedAt(p domain.Position, height uint64) domain.Position {
	p.LastExecutedHeight = &height
	return p
}

func TestIsEligibleFirstExecution(t *testing.T) {
	p := newTestPosition(t, 5)

	// Never executed: eligible at any height, including zero.
	for _, h := range []uint64{0, 1, 100, 1 << 40} {
		ok, err := IsEligible(p, h)
		require.NoError(t, err)
		assert.True(t, ok, "height %d", h)
	}
}

func TestIsEligibleIntervalWindow(t *testing.T) {
	p := executedAt(newTestPosition(t, 5), 100)

	// Ineligible throughout [100, 110), eligible from 110 on.
	for h := uint64(100); h < 110; h++ {
		ok, err := IsEligible(p, h)
		require.NoError(t, err)
		assert.False(t, ok, "height %d", h)
	}
	ok, err := IsEligible(p, 110)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsEligible(p, 500)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsEligibleHeightBeforeLastExecution(t *testing.T) {
	// Heights may arrive with gaps but never go backwards; a height below
	// the recorded execution height is simply not eligible.
	p := executedAt(newTestPosition(t, 5), 100)

	ok, err := IsEligible(p, 50)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsEligibleTerminalStatuses(t *testing.T) {
	for _, status := range []domain.PositionStatus{
		domain.PositionStatusCancelled,
		domain.PositionStatusExhausted,
	} {
		p := newTestPosition(t, 5)
		p.Status = status
		if status == domain.PositionStatusExhausted {
			p.Budget = domain.Bounded(0)
		}

		ok, err := IsEligible(p, 1000)
		require.NoError(t, err)
		assert.False(t, ok, "status %s", status)
	}
}

func TestIsEligibleCorruptRecord(t *testing.T) {
	// Active with a consumed bounded budget should have been marked
	// Exhausted by whatever consumed the last slot. That is a defect, not an
	// ordinary false.
	p := newTestPosition(t, 1)
	p.Budget = domain.Bounded(0)

	ok, err := IsEligible(p, 1000)
	assert.False(t, ok)
	require.ErrorIs(t, err, domain.ErrCorruptRecord)
}

func TestIsEligibleUnbounded(t *testing.T) {
	p := executedAt(newTestPosition(t, 0), 20)
	require.False(t, p.Budget.Bounded)

	ok, err := IsEligible(p, 30)
	require.NoError(t, err)
	assert.True(t, ok)
}
