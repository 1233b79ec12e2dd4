package autohands

import "fmt"

// ErrQueueFull is returned by TaskQueue.Push and TaskSubmitter.SubmitTask
// when the queue has reached its configured MaxQueueSize.
type ErrQueueFull struct {
	MaxSize int
}

func (e *ErrQueueFull) Error() string {
	return fmt.Sprintf("runloop: queue full (max %d)", e.MaxSize)
}

// ErrChainLimitExceeded is returned when a task chain's outstanding task
// count would exceed MaxTasksPerChain.
type ErrChainLimitExceeded struct {
	CorrelationID string
	Count         int
	Limit         int
}

func (e *ErrChainLimitExceeded) Error() string {
	return fmt.Sprintf("runloop: chain %q exceeded limit: %d/%d", e.CorrelationID, e.Count, e.Limit)
}

// ErrStoreError wraps a failure from a TaskStore operation.
type ErrStoreError struct {
	Op  string
	Err error
}

func (e *ErrStoreError) Error() string {
	return fmt.Sprintf("runloop: store %s: %v", e.Op, e.Err)
}

func (e *ErrStoreError) Unwrap() error { return e.Err }

// ErrHandlerTransient indicates a task handler failed in a way that should
// be retried (network blip, rate limit, timeout).
type ErrHandlerTransient struct {
	TaskType string
	Err      error
}

func (e *ErrHandlerTransient) Error() string {
	return fmt.Sprintf("runloop: handler %q transient failure: %v", e.TaskType, e.Err)
}

func (e *ErrHandlerTransient) Unwrap() error { return e.Err }

// ErrHandlerTerminal indicates a task handler failed in a way retries
// cannot fix (bad payload, unknown task type). The task is dead-lettered
// immediately without consuming retry budget.
type ErrHandlerTerminal struct {
	TaskType string
	Err      error
}

func (e *ErrHandlerTerminal) Error() string {
	return fmt.Sprintf("runloop: handler %q terminal failure: %v", e.TaskType, e.Err)
}

func (e *ErrHandlerTerminal) Unwrap() error { return e.Err }

// ErrChannelGone is returned when a reply is routed to a ChannelID that is
// no longer registered in the ChannelRegistry.
type ErrChannelGone struct {
	ChannelID string
}

func (e *ErrChannelGone) Error() string {
	return fmt.Sprintf("runloop: channel %q is gone", e.ChannelID)
}

// ErrShutdownAborted is returned by Run when the shutdown timeout elapses
// with tasks still queued or in flight. The in-flight work is cancelled
// and abandoned, the RunLoop still reaches RunLoopStateStopped, and
// Pending counts the tasks that were in flight.
type ErrShutdownAborted struct {
	Pending int
}

func (e *ErrShutdownAborted) Error() string {
	return fmt.Sprintf("runloop: shutdown aborted with %d task(s) still in flight", e.Pending)
}

// ErrExtensionInitFailed wraps a failure during Extension.Initialize.
type ErrExtensionInitFailed struct {
	ExtensionID string
	Err         error
}

func (e *ErrExtensionInitFailed) Error() string {
	return fmt.Sprintf("runloop: extension %q failed to initialize: %v", e.ExtensionID, e.Err)
}

func (e *ErrExtensionInitFailed) Unwrap() error { return e.Err }

// ErrInvalidStateTransition is returned when a RunLoopState transition
// (or Task Status transition) is not legal from the current state.
type ErrInvalidStateTransition struct {
	From fmt.Stringer
	To   fmt.Stringer
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("runloop: invalid state transition from %s to %s", e.From, e.To)
}

// ErrDuplicateID is returned by a Registry when registering a Handle whose
// ID is already present.
type ErrDuplicateID struct {
	ID string
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("runloop: duplicate id %q", e.ID)
}

// ErrNotFound is returned by Registry.Unregister and TaskStore.Get for an
// ID that is not present; Registry.Get reports absence with its bool
// result instead.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("runloop: not found: %q", e.ID)
}
