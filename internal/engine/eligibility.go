// Package engine holds the pure core of the DCA system: deciding whether a
// position may execute at a height and applying one execution. Nothing in
// this package does I/O or holds state, so eligibility can be recomputed
// independently by any party from a committed record alone.
package engine

import (
	"github.com/alanyoungcy/zkdca/internal/domain"
)

// IsEligible decides whether the position may legally execute at the given
// ledger height.
//
// A position that has never executed is eligible at any height. Afterwards at
// least Interval heights must have elapsed since the last execution. Terminal
// positions are never eligible.
//
// A bounded position whose budget reads zero while the status is still
// Active should have been marked Exhausted by the execution that consumed the
// last slot; observing it is a store-corruption defect, reported as
// ErrCorruptRecord rather than a plain false.
func IsEligible(p domain.Position, currentHeight uint64) (bool, error) {
	if p.Status != domain.PositionStatusActive {
		return false, nil
	}
	if p.Budget.Exhausted() {
		return false, domain.ErrCorruptRecord
	}
	if p.LastExecutedHeight != nil {
		last := *p.LastExecutedHeight
		if currentHeight < last {
			return false, nil
		}
		if currentHeight-last < p.Interval {
			return false, nil
		}
	}
	return true, nil
}
