package autohands

import "encoding/json"

// Priority orders tasks within the queue. Higher-priority tasks are always
// dispatched before lower-priority ones; within the same priority tier,
// tasks are dispatched FIFO by SubmittedAt (ties broken by ID, which sorts
// lexically in submission order since IDs are UUIDv7).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PrioritySystem
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PrioritySystem:
		return "system"
	default:
		return "unknown"
	}
}

// Status is a Task's position in its lifecycle state machine:
//
//	Pending -> Running -> Completed
//	Pending -> Running -> Pending (retry, backoff applied)
//	Pending -> Running -> Failed -> DeadLettered (max retries exceeded)
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusDeadLettered Status = "dead_lettered"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether s is a state a Task cannot leave.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}

// validTransitions enumerates the legal Status state machine. A transition
// not listed here is rejected with ErrInvalidStateTransition.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusPending:   true, // requeued after a transient failure
	},
	StatusFailed: {
		StatusPending:      true, // requeued after backoff
		StatusDeadLettered: true,
	},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// ReplyAddress names the channel and connection a task's handler result
// should be routed back to. Nil means the task has no reply destination
// (internal/fire-and-forget tasks such as trigger:cron:fire).
type ReplyAddress struct {
	ChannelID    string `json:"channel_id"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// Task is the unit of work flowing through the RunLoop. Every ingress
// (HTTP webhook, WebSocket frame, cron tick, file-system event, OS signal,
// or a handler producing a follow-up task) is normalized into a Task before
// it reaches the TaskQueue.
type Task struct {
	ID                string          `json:"id"`
	TaskType          string          `json:"task_type"`
	Priority          Priority        `json:"priority"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	CorrelationID     string          `json:"correlation_id,omitempty"`
	ReplyAddress      *ReplyAddress   `json:"reply_address,omitempty"`
	Attempts          int             `json:"attempts"`
	Status            Status          `json:"status"`
	SubmittedAt       int64           `json:"submitted_at"`
	FirstDispatchedAt int64           `json:"first_dispatched_at,omitempty"`
	CompletedAt       int64           `json:"completed_at,omitempty"`
	VisibleAt         int64           `json:"visible_at,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	LastError         string          `json:"last_error,omitempty"`
}

// NewTask constructs a Pending Task ready for TaskQueue.Push. SubmittedAt
// and ID are stamped here so every caller gets consistent, sortable
// identifiers regardless of how the task was produced.
func NewTask(taskType string, priority Priority, payload json.RawMessage, correlationID string, reply *ReplyAddress) *Task {
	now := NowUnix()
	return &Task{
		ID:            NewID(),
		TaskType:      taskType,
		Priority:      priority,
		Payload:       payload,
		CorrelationID: correlationID,
		ReplyAddress:  reply,
		Status:        StatusPending,
		SubmittedAt:   now,
		VisibleAt:     now,
	}
}

// Ready reports whether the task is visible to a dispatch pass at time now
// (used to implement backoff delays: a requeued task's VisibleAt is pushed
// into the future and it is skipped by TaskQueue.Pop until then).
func (t *Task) Ready(now int64) bool {
	return t.VisibleAt <= now
}
