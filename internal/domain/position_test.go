package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateParamsValidate(t *testing.T) {
	valid := CreateParams{
		InputToken:          1,
		InputAmount:         100,
		OutputToken:         2,
		Interval:            10,
		ExecutionsRemaining: 5,
		MinOutputAmount:     90,
	}

	tests := []struct {
		name   string
		mutate func(*CreateParams)
		ok     bool
	}{
		{"valid", func(*CreateParams) {}, true},
		{"zero input amount", func(p *CreateParams) { p.InputAmount = 0 }, false},
		{"zero interval", func(p *CreateParams) { p.Interval = 0 }, false},
		{"identical tokens", func(p *CreateParams) { p.OutputToken = p.InputToken }, false},
		{"unbounded is valid", func(p *CreateParams) { p.ExecutionsRemaining = 0 }, true},
		{"zero min output is valid", func(p *CreateParams) { p.MinOutputAmount = 0 }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			err := p.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParameters)
			}
		})
	}
}

func TestNewPosition(t *testing.T) {
	now := time.Now()
	p, err := NewPosition("id-1", "aleo1owner", CreateParams{
		InputToken:          1,
		InputAmount:         100,
		OutputToken:         2,
		Interval:            10,
		ExecutionsRemaining: 5,
		MinOutputAmount:     90,
	}, now)
	require.NoError(t, err)

	assert.Equal(t, PositionStatusActive, p.Status)
	assert.Nil(t, p.LastExecutedHeight)
	assert.Equal(t, uint64(1), p.Version)
	assert.True(t, p.Budget.Bounded)
	assert.Equal(t, uint32(5), p.Budget.Remaining)

	// Eligible immediately: next eligible height is 0.
	assert.Equal(t, uint64(0), p.NextEligibleHeight())

	_, err = NewPosition("", "aleo1owner", CreateParams{InputToken: 1, InputAmount: 1, OutputToken: 2, Interval: 1}, now)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewPosition("id-2", "", CreateParams{InputToken: 1, InputAmount: 1, OutputToken: 2, Interval: 1}, now)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestExecutionBudget(t *testing.T) {
	assert.True(t, BudgetFromWire(0) == Unbounded())
	assert.Equal(t, Bounded(3), BudgetFromWire(3))

	b, err := Bounded(2).Consume()
	require.NoError(t, err)
	assert.Equal(t, Bounded(1), b)

	b, err = b.Consume()
	require.NoError(t, err)
	assert.True(t, b.Exhausted())

	_, err = b.Consume()
	assert.ErrorIs(t, err, ErrOverflow)

	u, err := Unbounded().Consume()
	require.NoError(t, err)
	assert.False(t, u.Exhausted())
}

func TestNextEligibleHeight(t *testing.T) {
	p := Position{Interval: 10}
	h := uint64(100)
	p.LastExecutedHeight = &h
	assert.Equal(t, uint64(110), p.NextEligibleHeight())

	// Saturates instead of wrapping near the top of the range.
	top := uint64(math.MaxUint64 - 3)
	p.LastExecutedHeight = &top
	assert.Equal(t, uint64(math.MaxUint64), p.NextEligibleHeight())
}

func TestCheckInvariants(t *testing.T) {
	good := Position{InputToken: 1, OutputToken: 2, InputAmount: 1, Interval: 1, Status: PositionStatusActive, Budget: Bounded(1)}
	assert.NoError(t, good.CheckInvariants())

	bad := good
	bad.Budget = Bounded(0)
	assert.ErrorIs(t, bad.CheckInvariants(), ErrCorruptRecord)

	// Terminal with consumed budget is consistent.
	done := good
	done.Budget = Bounded(0)
	done.Status = PositionStatusExhausted
	assert.NoError(t, done.CheckInvariants())

	zero := good
	zero.InputAmount = 0
	assert.ErrorIs(t, zero.CheckInvariants(), ErrCorruptRecord)
}
