package autohands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// TaskHandler executes one task type. Returning an *ErrHandlerTerminal (or
// any error satisfying errors.As to one) dead-letters the task without
// consuming retry budget; any other error is treated as transient and
// retried with backoff via TaskQueue.RequeueWithBackoff.
type TaskHandler func(ctx context.Context, task *Task) (reply string, err error)

// WorkerPool dispatches ready tasks from a TaskQueue to registered
// TaskHandlers using a fixed set of goroutines pulling from a shared
// work channel. Back-pressure is structural: when every worker is busy
// the RunLoop's send into the channel blocks, so no extra bookkeeping
// is needed to stop over-dispatch.
type WorkerPool struct {
	queue    *TaskQueue
	chain    *TaskChainTracker
	channels *ChannelRegistry
	handlers map[string]TaskHandler
	workers  int
	logger   *slog.Logger
	metrics  *Metrics
	limiter  *rate.Limiter
	inFlight atomic.Int64
}

// InFlight returns the number of Dispatch calls currently in progress
// (including one blocked on the rate limiter), so the RunLoop's shutdown
// sequence knows when draining is actually complete.
func (p *WorkerPool) InFlight() int64 { return p.inFlight.Load() }

// SetRateLimit bounds how fast the pool dispatches tasks to handlers.
// A zero or negative rps disables limiting.
func (p *WorkerPool) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		p.limiter = nil
		return
	}
	p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// NewWorkerPool creates a pool of n fixed workers dispatching tasks popped
// from queue. metrics may be nil (a nil-safe no-op Metrics is used then).
func NewWorkerPool(n int, queue *TaskQueue, chain *TaskChainTracker, channels *ChannelRegistry, logger *slog.Logger, metrics *Metrics) *WorkerPool {
	if logger == nil {
		logger = nopLogger()
	}
	if n <= 0 {
		n = 1
	}
	return &WorkerPool{
		queue:    queue,
		chain:    chain,
		channels: channels,
		handlers: make(map[string]TaskHandler),
		workers:  n,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterHandler wires taskType to handler. Not safe to call once Run has
// started dispatching.
func (p *WorkerPool) RegisterHandler(taskType string, handler TaskHandler) {
	p.handlers[taskType] = handler
}

// Dispatch runs a single task through its registered handler with panic
// recovery, updates the TaskQueue/TaskChainTracker state, and routes any
// reply to the task's ChannelRegistry destination. Called by the RunLoop's
// dispatch step, once per ready task per iteration, fanned out across the
// worker goroutines.
func (p *WorkerPool) Dispatch(ctx context.Context, t *Task) {
	p.inFlight.Add(1)
	p.metrics.workerStarted()
	defer func() {
		p.inFlight.Add(-1)
		p.metrics.workerFinished()
	}()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	// A task with a reply address must have a live channel at dispatch
	// time or it is dead-lettered without ever reaching the handler — a
	// handler result nobody can receive is not worth producing.
	if t.ReplyAddress != nil {
		if _, gerr := p.channels.Get(t.ReplyAddress.ChannelID); gerr != nil {
			p.queue.Fail(ctx, t, gerr)
			p.releaseChain(t)
			p.metrics.incDeadLettered()
			return
		}
	}

	handler, ok := p.handlers[t.TaskType]
	if !ok {
		err := &ErrHandlerTerminal{TaskType: t.TaskType, Err: fmt.Errorf("no handler registered")}
		p.queue.Fail(ctx, t, err)
		p.releaseChain(t)
		p.metrics.incDeadLettered()
		p.replyError(ctx, t, err)
		return
	}

	reply, err := p.safeInvoke(ctx, handler, t)
	if err != nil {
		p.handleErr(ctx, t, err)
		return
	}

	if cerr := p.queue.Complete(ctx, t); cerr != nil {
		p.logger.Error("task complete persist failed", "task.id", t.ID, "err", cerr)
	}
	p.releaseChain(t)
	p.metrics.incCompleted()

	if t.ReplyAddress != nil && reply != "" {
		if rerr := p.channels.Route(ctx, t.ReplyAddress, reply); rerr != nil {
			p.logger.Warn("reply routing failed", "task.id", t.ID, "channel_id", t.ReplyAddress.ChannelID, "err", rerr)
		}
	}
}

func (p *WorkerPool) handleErr(ctx context.Context, t *Task, err error) {
	var terminal *ErrHandlerTerminal
	if errors.As(err, &terminal) {
		p.queue.Fail(ctx, t, err)
		p.releaseChain(t)
		p.metrics.incDeadLettered()
		p.replyError(ctx, t, err)
		return
	}
	p.queue.RequeueWithBackoff(ctx, t, err)
	if t.Status == StatusDeadLettered {
		// Retry budget exhausted: RequeueWithBackoff dead-lettered the
		// task instead of requeueing it, so it is terminal here too.
		p.releaseChain(t)
		p.metrics.incDeadLettered()
		p.replyError(ctx, t, err)
		return
	}
	p.metrics.incRetried()
}

// replyError routes a single error outbound to a dead-lettered task's
// reply destination, if it has one. Best-effort: the task is already
// terminal, so a routing failure here is only logged, never retried.
func (p *WorkerPool) replyError(ctx context.Context, t *Task, cause error) {
	if t.ReplyAddress == nil {
		return
	}
	if rerr := p.channels.Route(ctx, t.ReplyAddress, fmt.Sprintf("error: %s", cause.Error())); rerr != nil {
		p.logger.Warn("error reply routing failed", "task.id", t.ID, "channel_id", t.ReplyAddress.ChannelID, "err", rerr)
	}
}

func (p *WorkerPool) releaseChain(t *Task) {
	if p.chain != nil && t.CorrelationID != "" {
		p.chain.Release(t.CorrelationID)
	}
}

// safeInvoke recovers a handler panic into an ErrHandlerTerminal so one
// misbehaving handler cannot take down a worker goroutine.
func (p *WorkerPool) safeInvoke(ctx context.Context, h TaskHandler, t *Task) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ErrHandlerTerminal{TaskType: t.TaskType, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return h(ctx, t)
}

// Run starts the fixed worker pool. Tasks arrive on work; Run returns once
// work is closed and all in-flight Dispatch calls finish.
func (p *WorkerPool) Run(ctx context.Context, work <-chan *Task) {
	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case t, ok := <-work:
					if !ok {
						return
					}
					p.Dispatch(ctx, t)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
}
