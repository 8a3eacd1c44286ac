package domain

import (
	"math"
	"time"
)

// PositionStatus tracks where a DCA position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusActive    PositionStatus = "active"
	PositionStatusCancelled PositionStatus = "cancelled"
	PositionStatusExhausted PositionStatus = "exhausted"
)

// Terminal reports whether the status permits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusCancelled || s == PositionStatusExhausted
}

// ExecutionBudget is the number of executions a position has left. It is an
// explicit tagged value rather than a bare counter so that "unbounded" and
// "bounded but fully consumed" can never be confused.
type ExecutionBudget struct {
	Bounded   bool
	Remaining uint32 // meaningful only when Bounded is true
}

// Unbounded returns a budget that never runs out; such a position ends only
// by explicit cancellation.
func Unbounded() ExecutionBudget {
	return ExecutionBudget{}
}

// Bounded returns a budget allowing exactly n further executions.
func Bounded(n uint32) ExecutionBudget {
	return ExecutionBudget{Bounded: true, Remaining: n}
}

// BudgetFromWire maps the creation-request encoding, where 0 means unbounded,
// to the tagged form.
func BudgetFromWire(n uint32) ExecutionBudget {
	if n == 0 {
		return Unbounded()
	}
	return Bounded(n)
}

// Exhausted reports whether a bounded budget has been fully consumed.
func (b ExecutionBudget) Exhausted() bool {
	return b.Bounded && b.Remaining == 0
}

// Consume returns the budget after one execution. Consuming an already
// exhausted budget is an arithmetic safety violation, not a wrap.
func (b ExecutionBudget) Consume() (ExecutionBudget, error) {
	if !b.Bounded {
		return b, nil
	}
	if b.Remaining == 0 {
		return b, ErrOverflow
	}
	return Bounded(b.Remaining - 1), nil
}

// Position is one user's standing DCA commitment: InputAmount of InputToken
// is converted to OutputToken every Interval ledger heights until the budget
// runs out or the position is cancelled.
type Position struct {
	ID              string
	Owner           string // opaque Aleo address, never parsed
	InputToken      uint64
	OutputToken     uint64
	InputAmount     uint64
	Interval        uint64 // ledger heights between executions
	MinOutputAmount uint64
	Budget          ExecutionBudget

	// LastExecutedHeight is nil before the first execution and monotonically
	// non-decreasing afterwards.
	LastExecutedHeight *uint64

	Status  PositionStatus
	Version uint64 // optimistic-concurrency counter, bumped on every write

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// CreateParams carries the user-supplied fields of a creation request.
// ExecutionsRemaining follows the wire encoding: 0 means unbounded.
type CreateParams struct {
	InputToken          uint64
	InputAmount         uint64
	OutputToken         uint64
	Interval            uint64
	ExecutionsRemaining uint32
	MinOutputAmount     uint64
}

// Validate checks the creation invariants.
func (p CreateParams) Validate() error {
	if p.InputAmount == 0 {
		return ErrInvalidParameters
	}
	if p.Interval == 0 {
		return ErrInvalidParameters
	}
	if p.InputToken == p.OutputToken {
		return ErrInvalidParameters
	}
	return nil
}

// NewPosition builds a validated Active position. The caller supplies the id
// (ids are never reused) and the owner credential.
func NewPosition(id, owner string, params CreateParams, now time.Time) (Position, error) {
	if err := params.Validate(); err != nil {
		return Position{}, err
	}
	if id == "" || owner == "" {
		return Position{}, ErrInvalidParameters
	}
	return Position{
		ID:              id,
		Owner:           owner,
		InputToken:      params.InputToken,
		OutputToken:     params.OutputToken,
		InputAmount:     params.InputAmount,
		Interval:        params.Interval,
		MinOutputAmount: params.MinOutputAmount,
		Budget:          BudgetFromWire(params.ExecutionsRemaining),
		Status:          PositionStatusActive,
		Version:         1,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}, nil
}

// CheckInvariants verifies the structural invariants of a stored record.
// A violation means the stored record is corrupt, not that a caller made a
// bad request, so the error is ErrCorruptRecord rather than
// ErrInvalidParameters.
func (p Position) CheckInvariants() error {
	if p.InputAmount == 0 || p.Interval == 0 || p.InputToken == p.OutputToken {
		return ErrCorruptRecord
	}
	if p.Status == PositionStatusActive && p.Budget.Exhausted() {
		return ErrCorruptRecord
	}
	return nil
}

// NextEligibleHeight returns the first height at which the position may
// execute again. A position that has never executed is eligible immediately,
// reported as height 0.
func (p Position) NextEligibleHeight() uint64 {
	if p.LastExecutedHeight == nil {
		return 0
	}
	last := *p.LastExecutedHeight
	if last > math.MaxUint64-p.Interval {
		return math.MaxUint64
	}
	return last + p.Interval
}

// PositionReport is the per-position summary surfaced to callers.
type PositionReport struct {
	ID                 string         `json:"id"`
	Owner              string         `json:"owner"`
	Status             PositionStatus `json:"status"`
	Unbounded          bool           `json:"unbounded"`
	RemainingExecs     uint32         `json:"remaining_executions"`
	NextEligibleHeight uint64         `json:"next_eligible_height"`
	LastExecutedHeight *uint64        `json:"last_executed_height,omitempty"`
}
