package domain

import (
	"fmt"
	"time"
)

// SwapInstruction is one concrete conversion to be submitted to the exchange
// program. It carries everything the exchange needs plus the identity of the
// logical operation so duplicate submissions can be discarded downstream.
type SwapInstruction struct {
	PositionID      string `json:"position_id"`
	Height          uint64 `json:"height"` // ledger height the execution was applied at
	InputToken      uint64 `json:"input_token"`
	InputAmount     uint64 `json:"input_amount"`
	OutputToken     uint64 `json:"output_token"`
	MinOutputAmount uint64 `json:"min_output_amount"`
}

// IdempotencyKey identifies the logical operation: one position may execute
// at most once per height, so position id + height is unique per execution.
func (s SwapInstruction) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", s.PositionID, s.Height)
}

// ExecutionStatus tracks the submission state of a recorded execution.
type ExecutionStatus string

const (
	// ExecutionStatusPending means the position state was advanced and
	// persisted but the swap submission outcome is not yet known.
	ExecutionStatusPending ExecutionStatus = "pending"
	// ExecutionStatusSubmitted means the exchange acknowledged the swap.
	ExecutionStatusSubmitted ExecutionStatus = "submitted"
	// ExecutionStatusFailed means submission was abandoned after bounded
	// retries and needs manual reconciliation.
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// ExecutionRecord is the durable trace of one execution. The ExecutionJournal
// commits it atomically with the position advance, before the swap is
// submitted, so a crash between persist and submit is recoverable.
type ExecutionRecord struct {
	Key          string // idempotency key, unique
	PositionID   string
	Height       uint64
	Instruction  SwapInstruction
	Status       ExecutionStatus
	OutputAmount *uint64 // set once submitted
	CreatedAt    time.Time
	SubmittedAt  *time.Time
}

// ExecutionResult is what AttemptExecution hands back to the caller: the
// advanced position and the instruction that still has to be submitted.
type ExecutionResult struct {
	Position    Position
	Instruction SwapInstruction
}
