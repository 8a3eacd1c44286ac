package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

func scannerPosition(t *testing.T, id string, lastExecuted *uint64, status domain.PositionStatus) domain.Position {
	t.Helper()
	p, err := domain.NewPosition(id, "aleo1owner", domain.CreateParams{
		InputToken:          1,
		InputAmount:         100,
		OutputToken:         2,
		Interval:            10,
		ExecutionsRemaining: 5,
		MinOutputAmount:     90,
	}, time.Now())
	require.NoError(t, err)
	p.LastExecutedHeight = lastExecuted
	p.Status = status
	return p
}

func TestFindEligibleFiltersAndSorts(t *testing.T) {
	h50 := uint64(50)
	h95 := uint64(95)

	positions := []domain.Position{
		scannerPosition(t, "c", &h95, domain.PositionStatusActive),  // in window, not eligible
		scannerPosition(t, "a", nil, domain.PositionStatusActive),   // never executed
		scannerPosition(t, "d", &h50, domain.PositionStatusActive),  // past interval
		scannerPosition(t, "b", nil, domain.PositionStatusCancelled),
	}

	eligible, corrupt := FindEligible(positions, 100)
	assert.Equal(t, []string{"a", "d"}, eligible)
	assert.Empty(t, corrupt)
}

func TestFindEligibleDeterministic(t *testing.T) {
	positions := []domain.Position{
		scannerPosition(t, "z", nil, domain.PositionStatusActive),
		scannerPosition(t, "m", nil, domain.PositionStatusActive),
		scannerPosition(t, "a", nil, domain.PositionStatusActive),
	}

	first, _ := FindEligible(positions, 100)
	// Reversed input order must give the same output.
	reversed := []domain.Position{positions[2], positions[1], positions[0]}
	second, _ := FindEligible(reversed, 100)

	assert.Equal(t, []string{"a", "m", "z"}, first)
	assert.Equal(t, first, second)
}

func TestFindEligibleReportsCorrupt(t *testing.T) {
	bad := scannerPosition(t, "bad", nil, domain.PositionStatusActive)
	bad.Budget = domain.Bounded(0)
	good := scannerPosition(t, "good", nil, domain.PositionStatusActive)

	eligible, corrupt := FindEligible([]domain.Position{bad, good}, 100)
	assert.Equal(t, []string{"good"}, eligible)
	assert.Equal(t, []string{"bad"}, corrupt)
}

func TestFindEligibleEmptyInput(t *testing.T) {
	eligible, corrupt := FindEligible(nil, 100)
	assert.Empty(t, eligible)
	assert.Empty(t, corrupt)
}
