package autohands

import (
	"context"
	"encoding/json"
)

// TaskSubmitter is the single entry point external callers and extensions
// use to get work into the RunLoop: it wraps chain-check, construction,
// and enqueue behind one method.
type TaskSubmitter struct {
	queue *TaskQueue
	chain *TaskChainTracker
}

// NewTaskSubmitter creates a facade over queue and chain.
func NewTaskSubmitter(queue *TaskQueue, chain *TaskChainTracker) *TaskSubmitter {
	return &TaskSubmitter{queue: queue, chain: chain}
}

// SubmitTask constructs a Task and enqueues it, first checking (and
// incrementing) the correlation chain's outstanding count when
// correlationID is non-empty. Returns ErrChainLimitExceeded or
// ErrQueueFull without mutating either the chain tracker (rolled back
// internally) or the queue on rejection.
func (s *TaskSubmitter) SubmitTask(ctx context.Context, taskType string, priority Priority, payload json.RawMessage, correlationID string, reply *ReplyAddress) (*Task, error) {
	if correlationID != "" && s.chain != nil {
		if err := s.chain.TryProduce(correlationID); err != nil {
			return nil, err
		}
	}

	t := NewTask(taskType, priority, payload, correlationID, reply)
	if err := s.queue.Push(ctx, t); err != nil {
		if correlationID != "" && s.chain != nil {
			s.chain.Release(correlationID)
		}
		return nil, err
	}
	return t, nil
}
