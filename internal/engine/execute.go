package engine

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// Execute applies one execution to the position and returns the advanced
// record together with the swap instruction to submit. The input position is
// never mutated; a failed check leaves no trace.
//
// The eligibility check is re-run here even though callers are expected to
// have checked it already; a caller working from a stale read then fails with
// ErrNotEligible instead of corrupting state.
func Execute(p domain.Position, currentHeight uint64, quotedOutput uint64) (domain.Position, domain.SwapInstruction, error) {
	ok, err := IsEligible(p, currentHeight)
	if err != nil {
		return domain.Position{}, domain.SwapInstruction{}, fmt.Errorf("engine: execute %s: %w", p.ID, err)
	}
	if !ok {
		return domain.Position{}, domain.SwapInstruction{}, domain.ErrNotEligible
	}

	// Economic safety floor. A rejected quote must not consume budget or
	// advance the execution height.
	if quotedOutput < p.MinOutputAmount {
		return domain.Position{}, domain.SwapInstruction{}, domain.ErrBelowMinimumOutput
	}

	budget, err := p.Budget.Consume()
	if err != nil {
		return domain.Position{}, domain.SwapInstruction{}, fmt.Errorf("engine: consume budget of %s: %w", p.ID, err)
	}

	next := p
	next.Budget = budget
	h := currentHeight
	next.LastExecutedHeight = &h
	next.Version = p.Version + 1
	next.UpdatedAt = time.Now().UTC()

	if budget.Exhausted() {
		next.Status = domain.PositionStatusExhausted
		closed := next.UpdatedAt
		next.ClosedAt = &closed
	}

	instr := domain.SwapInstruction{
		PositionID:      p.ID,
		Height:          currentHeight,
		InputToken:      p.InputToken,
		InputAmount:     p.InputAmount,
		OutputToken:     p.OutputToken,
		MinOutputAmount: p.MinOutputAmount,
	}
	return next, instr, nil
}
