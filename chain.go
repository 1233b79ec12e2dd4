package autohands

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// chainEntry tracks one correlation_id's outstanding task count and the
// last time try_produce touched it, so ChainSweeper can reclaim chains
// whose producer crashed mid-cascade.
type chainEntry struct {
	count     atomic.Int64
	lastTouch atomic.Int64
}

// TaskChainTracker bounds cascade depth: a handler producing follow-up
// tasks under the same CorrelationID cannot spawn more than
// MaxTasksPerChain outstanding descendants. It keeps a sync.Map of
// per-key atomic counters so TryProduce/Release never take a lock on
// the hot path.
type TaskChainTracker struct {
	chains   sync.Map // string -> *chainEntry
	maxTasks int
	logger   *slog.Logger
}

// NewTaskChainTracker creates a tracker enforcing maxTasksPerChain.
func NewTaskChainTracker(maxTasksPerChain int, logger *slog.Logger) *TaskChainTracker {
	if logger == nil {
		logger = nopLogger()
	}
	return &TaskChainTracker{maxTasks: maxTasksPerChain, logger: logger}
}

// TryProduce increments correlationID's outstanding count and returns
// ErrChainLimitExceeded if doing so would exceed the configured limit,
// rolling back the increment in that case.
func (t *TaskChainTracker) TryProduce(correlationID string) error {
	if correlationID == "" || t.maxTasks <= 0 {
		return nil
	}
	v, _ := t.chains.LoadOrStore(correlationID, &chainEntry{})
	e := v.(*chainEntry)
	e.lastTouch.Store(NowUnix())

	current := e.count.Add(1)
	if int(current) > t.maxTasks {
		e.count.Add(-1)
		t.logger.Warn("task chain exceeded limit", "correlation_id", correlationID, "count", current-1, "limit", t.maxTasks)
		return &ErrChainLimitExceeded{CorrelationID: correlationID, Count: int(current - 1), Limit: t.maxTasks}
	}
	return nil
}

// Release decrements the outstanding count when a chained task reaches a
// terminal state (completed, failed, or dead-lettered).
func (t *TaskChainTracker) Release(correlationID string) {
	if correlationID == "" {
		return
	}
	if v, ok := t.chains.Load(correlationID); ok {
		e := v.(*chainEntry)
		if e.count.Add(-1) < 0 {
			e.count.Store(0)
		}
	}
}

// Count returns the current outstanding task count for a chain.
func (t *TaskChainTracker) Count(correlationID string) int {
	if v, ok := t.chains.Load(correlationID); ok {
		return int(v.(*chainEntry).count.Load())
	}
	return 0
}

// ResetChain removes a chain's bookkeeping entirely (call when a chain's
// root task completes and no further descendants are expected).
func (t *TaskChainTracker) ResetChain(correlationID string) {
	t.chains.Delete(correlationID)
}

// Cleanup removes chains with a zero outstanding count. ChainSweeper
// does not call it; the sweeper calls SweepStale, which drops zero-count
// chains as well as stale ones.
func (t *TaskChainTracker) Cleanup() {
	t.chains.Range(func(k, v any) bool {
		e := v.(*chainEntry)
		if e.count.Load() <= 0 {
			t.chains.Delete(k)
		}
		return true
	})
}

// SweepStale additionally reclaims chains whose count is still positive
// but whose last TryProduce is older than staleSecs, so a chain isn't
// pinned forever if its producer crashes mid-cascade without releasing.
func (t *TaskChainTracker) SweepStale(staleSecs int64) {
	if staleSecs <= 0 {
		return
	}
	cutoff := NowUnix() - staleSecs
	t.chains.Range(func(k, v any) bool {
		e := v.(*chainEntry)
		if e.count.Load() <= 0 || e.lastTouch.Load() < cutoff {
			t.logger.Info("chain sweep reclaiming stale chain", "correlation_id", k)
			t.chains.Delete(k)
		}
		return true
	})
}
