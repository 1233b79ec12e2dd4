package autohands

import (
	"container/heap"
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"
)

// QueueConfig controls TaskQueue sizing and retry behavior.
type QueueConfig struct {
	MaxRetries     int
	RetryDelaySecs int
	MaxQueueSize   int // 0 = unlimited
}

// DefaultQueueConfig returns the baseline retry and sizing defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxRetries: 3, RetryDelaySecs: 5, MaxQueueSize: 0}
}

// taskHeap is a container/heap.Interface ordering Tasks by
// (priority desc, submitted_at asc, id asc) — the exact tie-break rule
// the dispatch ordering invariant requires.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.SubmittedAt != b.SubmittedAt {
		return a.SubmittedAt < b.SubmittedAt
	}
	return a.ID < b.ID
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TaskQueue is the in-memory priority queue driving RunLoop dispatch.
// A single sync.Mutex guards all mutation; the heap is small enough
// that finer-grained locking buys nothing.
type TaskQueue struct {
	cfg    QueueConfig
	store  TaskStore
	logger *slog.Logger

	mu      sync.Mutex
	heap    taskHeap
	byID    map[string]*Task
	waiting chan struct{} // closed+replaced to wake a blocked Pop
}

// NewTaskQueue creates an empty queue backed by store (may be nil for a
// purely in-memory queue with no restart durability).
func NewTaskQueue(cfg QueueConfig, store TaskStore, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = nopLogger()
	}
	q := &TaskQueue{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		byID:    make(map[string]*Task),
		waiting: make(chan struct{}),
	}
	heap.Init(&q.heap)
	return q
}

// Restore repopulates the queue from the store's pending tasks. Called
// once during RunLoop startup, after Init.
func (q *TaskQueue) Restore(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return &ErrStoreError{Op: "list_pending", Err: err}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range pending {
		if t.Status == StatusRunning {
			// A task that was Running when the process died was not
			// completed; requeue it and record the replay via Attempts.
			t.Status = StatusPending
			t.Attempts++
		}
		heap.Push(&q.heap, t)
		q.byID[t.ID] = t
	}
	q.logger.Info("queue restored", "count", len(pending))
	return nil
}

// Push enqueues a new task. Returns ErrQueueFull if cfg.MaxQueueSize is
// set and already reached. The store write happens before the task
// becomes dequeuable, so a dispatched task is always a persisted task;
// a store failure surfaces to the submitter and leaves the queue
// untouched.
func (q *TaskQueue) Push(ctx context.Context, t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cfg.MaxQueueSize > 0 && len(q.heap) >= q.cfg.MaxQueueSize {
		return &ErrQueueFull{MaxSize: q.cfg.MaxQueueSize}
	}
	if q.store != nil {
		if err := q.store.Put(ctx, t); err != nil {
			return &ErrStoreError{Op: "put", Err: err}
		}
	}
	heap.Push(&q.heap, t)
	q.byID[t.ID] = t
	q.wakeLocked()
	q.logger.Debug("task pushed", "task.id", t.ID, "task.type", t.TaskType, "priority", t.Priority.String())
	return nil
}

// transitionStatus moves t to the given status via CanTransition,
// returning *ErrInvalidStateTransition if the move is not legal from
// t's current status. Every status change below routes through here.
func (q *TaskQueue) transitionStatus(t *Task, to Status) error {
	if !CanTransition(t.Status, to) {
		return &ErrInvalidStateTransition{From: t.Status, To: to}
	}
	t.Status = to
	return nil
}

// Pop removes and returns the highest-priority ready task, or nil if the
// queue is empty or every task's VisibleAt is still in the future.
func (q *TaskQueue) Pop() *Task {
	now := NowUnix()
	q.mu.Lock()
	defer q.mu.Unlock()

	// The heap only orders by priority/submission; a task delayed by
	// backoff may be at the top. Scan until a ready one surfaces or the
	// heap is exhausted, re-pushing skipped-but-not-ready tasks.
	var deferred []*Task
	var found *Task
	for len(q.heap) > 0 {
		t := heap.Pop(&q.heap).(*Task)
		if t.Ready(now) {
			found = t
			break
		}
		deferred = append(deferred, t)
	}
	for _, t := range deferred {
		heap.Push(&q.heap, t)
	}
	if found != nil {
		if err := q.transitionStatus(found, StatusRunning); err != nil {
			// Only heap-resident tasks reach here, and only Pending tasks
			// are heap-resident, so Pending->Running should never fail;
			// log rather than lose the task if that invariant ever slips.
			q.logger.Error("illegal status transition on dispatch", "task.id", found.ID, "from", found.Status, "err", err)
		}
		if found.FirstDispatchedAt == 0 {
			found.FirstDispatchedAt = now
		}
	}
	return found
}

// Requeue puts a popped-but-undispatched task back at the head of its
// tier, for when the loop stops before it could hand the task to a
// worker. The task keeps its original SubmittedAt, so it stays first in
// line within its priority.
func (q *TaskQueue) Requeue(t *Task) {
	if err := q.transitionStatus(t, StatusPending); err != nil {
		q.logger.Error("illegal status transition on requeue", "task.id", t.ID, "from", t.Status, "err", err)
		return
	}
	q.mu.Lock()
	heap.Push(&q.heap, t)
	q.byID[t.ID] = t
	q.wakeLocked()
	q.mu.Unlock()
}

// NextWake reports how long the loop may sleep before a queued task
// becomes visible: zero if a task is ready now, the time until the
// earliest VisibleAt otherwise. ok is false when the queue is empty.
func (q *TaskQueue) NextWake(now int64) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return 0, false
	}
	earliest := int64(math.MaxInt64)
	for _, t := range q.heap {
		if t.VisibleAt <= now {
			return 0, true
		}
		if t.VisibleAt < earliest {
			earliest = t.VisibleAt
		}
	}
	return time.Duration(earliest-now) * time.Second, true
}

// Wait blocks until Push wakes the queue or ctx is done. The RunLoop
// does not call it; its wait phase selects on Signal and NextWake.
func (q *TaskQueue) Wait(ctx context.Context) {
	q.mu.Lock()
	ch := q.waiting
	q.mu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (q *TaskQueue) wakeLocked() {
	close(q.waiting)
	q.waiting = make(chan struct{})
}

// Signal returns the channel that closes the next time Push wakes the
// queue, for use alongside other select cases (a ticker, ctx.Done) by a
// caller that wants to poll Source0s even when no task arrives.
func (q *TaskQueue) Signal() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

// Len reports the number of Pending tasks held in the queue, including
// ones delayed by backoff; tasks already handed out by Pop are not
// counted.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Complete marks a task Completed and persists the terminal state.
func (q *TaskQueue) Complete(ctx context.Context, t *Task) error {
	if err := q.transitionStatus(t, StatusCompleted); err != nil {
		return err
	}
	t.CompletedAt = NowUnix()
	q.mu.Lock()
	delete(q.byID, t.ID)
	q.mu.Unlock()
	return q.persist(ctx, t)
}

// RequeueWithBackoff marks a failed task Pending again with VisibleAt
// pushed into the future by an exponential backoff, or moves it to
// StatusDeadLettered if cfg.MaxRetries has been exceeded. Both outcomes
// hop through StatusFailed first, matching the
// Running->Failed->{Pending,DeadLettered} legs of the status DAG.
//
// Delay grows as retry_delay_secs * 2^attempts, plus up to 50% jitter
// so simultaneous failures don't retry in lockstep.
func (q *TaskQueue) RequeueWithBackoff(ctx context.Context, t *Task, cause error) error {
	t.LastError = cause.Error()
	if err := q.transitionStatus(t, StatusFailed); err != nil {
		return err
	}

	if t.Attempts >= q.cfg.MaxRetries {
		if err := q.transitionStatus(t, StatusDeadLettered); err != nil {
			return err
		}
		t.FailureReason = cause.Error()
		t.CompletedAt = NowUnix()
		q.mu.Lock()
		delete(q.byID, t.ID)
		q.mu.Unlock()
		q.logger.Warn("task dead-lettered", "task.id", t.ID, "task.type", t.TaskType, "attempts", t.Attempts)
		return q.persist(ctx, t)
	}

	if err := q.transitionStatus(t, StatusPending); err != nil {
		return err
	}
	// Delay scales off the pre-increment attempt count: the first retry
	// waits the base delay, the second twice that, and so on.
	delay := retryBackoff(q.cfg.RetryDelaySecs, t.Attempts)
	t.Attempts++
	t.VisibleAt = NowUnix() + delay

	q.mu.Lock()
	heap.Push(&q.heap, t)
	q.byID[t.ID] = t
	q.wakeLocked()
	q.mu.Unlock()

	q.logger.Info("task requeued with backoff", "task.id", t.ID, "attempts", t.Attempts, "delay_secs", delay)
	return q.persist(ctx, t)
}

// Fail marks a task Failed then DeadLettered without requeueing (terminal
// handler error, ErrHandlerTerminal — no retry budget is consumed since
// retrying would not help), hopping through StatusFailed like
// RequeueWithBackoff's dead-letter branch.
func (q *TaskQueue) Fail(ctx context.Context, t *Task, cause error) error {
	if err := q.transitionStatus(t, StatusFailed); err != nil {
		return err
	}
	if err := q.transitionStatus(t, StatusDeadLettered); err != nil {
		return err
	}
	t.FailureReason = cause.Error()
	t.CompletedAt = NowUnix()
	q.mu.Lock()
	delete(q.byID, t.ID)
	q.mu.Unlock()
	q.logger.Warn("task failed terminally", "task.id", t.ID, "task.type", t.TaskType, "err", cause)
	return q.persist(ctx, t)
}

func (q *TaskQueue) persist(ctx context.Context, t *Task) error {
	if q.store == nil {
		return nil
	}
	if err := q.store.Put(ctx, t); err != nil {
		return &ErrStoreError{Op: "put", Err: err}
	}
	return nil
}

// retryBackoff computes baseSecs * 2^attempts seconds, plus up to 50%
// jitter, capped to avoid overflow on pathologically large attempt counts.
func retryBackoff(baseSecs, attempts int) int64 {
	if attempts > 20 {
		attempts = 20 // 2^20 * base is already far beyond any sane delay
	}
	backoff := float64(baseSecs) * math.Pow(2, float64(attempts))
	jitter := backoff * 0.5 * rand.Float64()
	total := backoff + jitter
	return int64(total)
}
