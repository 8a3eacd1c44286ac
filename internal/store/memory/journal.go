package memory

import (
	"context"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// ExecutionJournal is the in-memory domain.ExecutionJournal. The pending
// insert cannot fail once the conditional position write has succeeded, so
// the sequential writes are all-or-nothing like the transactional backend.
type ExecutionJournal struct {
	positions  *PositionStore
	executions *ExecutionStore
}

// NewExecutionJournal creates an ExecutionJournal over the two stores.
func NewExecutionJournal(positions *PositionStore, executions *ExecutionStore) *ExecutionJournal {
	return &ExecutionJournal{positions: positions, executions: executions}
}

// PersistExecution applies the position advance and the pending record
// together. The position write keeps Update's conditional semantics.
func (j *ExecutionJournal) PersistExecution(ctx context.Context, pos domain.Position, rec domain.ExecutionRecord) error {
	if err := j.positions.Update(ctx, pos); err != nil {
		return err
	}
	return j.executions.RecordPending(ctx, rec)
}

var _ domain.ExecutionJournal = (*ExecutionJournal)(nil)
