package autohands

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// RunLoopConfig controls the kernel's dispatch loop. Loaded from
// defaults plus an optional TOML file; see config.go.
type RunLoopConfig struct {
	MaxWorkers          int    `toml:"max_workers"`
	MaxRetries          int    `toml:"max_retries"`
	RetryDelaySecs      int    `toml:"retry_delay_secs"`
	MaxQueueSize        int    `toml:"max_queue_size"`
	MaxTasksPerChain    int    `toml:"max_tasks_per_chain"`
	ChainStaleSecs      int64  `toml:"chain_stale_secs"`
	CheckIntervalSecs   int    `toml:"check_interval_secs"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs"`
	TaskStorePath       string `toml:"task_store_path"`
}

// DefaultRunLoopConfig returns the baseline queue sizing and retry
// defaults.
func DefaultRunLoopConfig() RunLoopConfig {
	return RunLoopConfig{
		MaxWorkers:          4,
		MaxRetries:          3,
		RetryDelaySecs:      5,
		MaxQueueSize:        0,
		MaxTasksPerChain:    50,
		ChainStaleSecs:      3600,
		CheckIntervalSecs:   60,
		ShutdownTimeoutSecs: 30,
	}
}

// RunLoop is the event-driven kernel: it unifies every Source0/Source1
// ingress into a single ordered Task pipeline, fans phase transitions
// out to Observers, and hands ready tasks to a WorkerPool. The driver
// itself is one logical goroutine running the phase sequence serially;
// only dispatched handlers run in parallel.
type RunLoop struct {
	cfg       RunLoopConfig
	state     stateHolder
	mode      RunLoopMode
	modeMu    sync.RWMutex
	observers *observerRegistry

	queue *TaskQueue
	chain *TaskChainTracker
	pool  *WorkerPool

	sources0 map[RunLoopMode][]Source0
	sources1 map[RunLoopMode][]Source1
	srcMu    sync.RWMutex

	logger  *slog.Logger
	tracer  Tracer
	metrics *Metrics

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewRunLoop assembles a RunLoop. pool must already have its TaskHandlers
// registered via RegisterHandler before Run is called.
func NewRunLoop(cfg RunLoopConfig, queue *TaskQueue, chain *TaskChainTracker, pool *WorkerPool, logger *slog.Logger, tracer Tracer, metrics *Metrics) *RunLoop {
	if logger == nil {
		logger = nopLogger()
	}
	return &RunLoop{
		cfg:       cfg,
		mode:      DefaultMode,
		observers: newObserverRegistry(),
		queue:     queue,
		chain:     chain,
		pool:      pool,
		sources0:  make(map[RunLoopMode][]Source0),
		sources1:  make(map[RunLoopMode][]Source1),
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		stopped:   make(chan struct{}),
	}
}

// AddSource0 registers a Source0 under the given mode (use DefaultMode for
// "always active").
func (l *RunLoop) AddSource0(mode RunLoopMode, s Source0) {
	l.srcMu.Lock()
	defer l.srcMu.Unlock()
	l.sources0[mode] = append(l.sources0[mode], s)
}

// AddSource1 registers a Source1 under the given mode.
func (l *RunLoop) AddSource1(mode RunLoopMode, s Source1) {
	l.srcMu.Lock()
	defer l.srcMu.Unlock()
	l.sources1[mode] = append(l.sources1[mode], s)
}

// AddObserver registers an Observer, identified by id for later removal.
func (l *RunLoop) AddObserver(id string, o Observer) {
	l.observers.add(id, o)
}

// RemoveObserver unregisters a previously added Observer.
func (l *RunLoop) RemoveObserver(id string) {
	l.observers.remove(id)
}

// SetMode atomically switches the active mode. The switch is not held
// back to a phase boundary: the next Source0 poll and every Source1
// message that arrives afterwards see the new mode. Tasks already queued
// are dispatched whatever the mode.
func (l *RunLoop) SetMode(mode RunLoopMode) {
	l.modeMu.Lock()
	l.mode = mode
	l.modeMu.Unlock()
}

// Mode returns the currently active mode.
func (l *RunLoop) Mode() RunLoopMode {
	l.modeMu.RLock()
	defer l.modeMu.RUnlock()
	return l.mode
}

// State returns the RunLoop's current lifecycle state.
func (l *RunLoop) State() RunLoopState { return l.state.get() }

// Run starts the RunLoop and blocks until ctx is cancelled or Stop is
// called and shutdown completes. Each iteration runs the phase sequence:
// BeforeSources -> BeforeWaiting -> wait -> AfterWaiting -> BeforeProcessing
// -> dispatch -> AfterProcessing.
func (l *RunLoop) Run(ctx context.Context) error {
	if err := l.state.transition(RunLoopStateStarting); err != nil {
		return err
	}

	// workCtx governs in-flight handler execution specifically: it is
	// cancelled to abandon work that is still running once the shutdown
	// deadline elapses, independent of the outer ctx (which governs the
	// loop and Source lifetimes and may outlive a single drain).
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	work := make(chan *Task, l.cfg.MaxWorkers*2)
	var poolWG sync.WaitGroup
	poolWG.Add(1)
	go func() {
		defer poolWG.Done()
		l.pool.Run(workCtx, work)
	}()

	if err := l.state.transition(RunLoopStateRunning); err != nil {
		close(work)
		return err
	}

	// Drain every registered Source1 into the queue via its own goroutine;
	// each source owns its producing goroutine, the RunLoop just forwards.
	// Sources registered under a non-default mode are started too, but their
	// messages are only forwarded to the queue while that mode is active —
	// this is what "recomputing the active Source set" means in practice
	// for a Source1 whose channel is already open.
	l.srcMu.RLock()
	sources1 := make(map[RunLoopMode][]Source1, len(l.sources1))
	for mode, ss := range l.sources1 {
		sources1[mode] = append([]Source1(nil), ss...)
	}
	l.srcMu.RUnlock()
	var srcWG sync.WaitGroup
	for mode, ss := range sources1 {
		for _, s := range ss {
			ch, err := s.Poll(ctx)
			if err != nil {
				l.logger.Error("source1 poll failed", "source.id", s.ID(), "err", err)
				continue
			}
			srcWG.Add(1)
			go func(mode RunLoopMode, s Source1, ch <-chan *Task) {
				defer srcWG.Done()
				for {
					select {
					case t, ok := <-ch:
						if !ok {
							return
						}
						if !l.modeActive(mode) {
							l.logger.Debug("source1 message dropped: mode inactive", "source.id", s.ID(), "mode", mode)
							continue
						}
						if err := l.submitLocal(ctx, t, true); err != nil {
							l.logger.Warn("source1 submission rejected", "source.id", s.ID(), "err", err)
						}
					case <-l.stopped:
						// Draining: stop accepting new Source1 messages and
						// let the goroutine exit so srcWG can be awaited.
						return
					case <-ctx.Done():
						return
					}
				}
			}(mode, s, ch)
		}
	}

	l.logger.Info("runloop started", "max_workers", l.cfg.MaxWorkers)

	checkInterval := time.Duration(l.cfg.CheckIntervalSecs) * time.Second
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}

loop:
	for {
		l.fire(ctx, PhaseBeforeSources)
		l.fire(ctx, PhaseBeforeWaiting)

		select {
		case <-ctx.Done():
			break loop
		case <-l.stopped:
			break loop
		default:
		}

		// Sleep until min(next task visibility, Source0 poll interval)
		// unless a task is already ready. A queue holding only
		// backoff-delayed tasks must park here, not spin through empty
		// Pop calls until the delay elapses. The wake signal is grabbed
		// before the visibility check so a Push landing between the two
		// still closes the channel this select waits on.
		sig := l.queue.Signal()
		wake, nonEmpty := l.queue.NextWake(NowUnix())
		if !nonEmpty || wake > 0 {
			sleep := checkInterval
			if nonEmpty && wake < sleep {
				sleep = wake
			}
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				break loop
			case <-l.stopped:
				timer.Stop()
				break loop
			case <-timer.C:
				// woken to poll Source0s or a backoff delay elapsed
			case <-sig:
				// a task arrived
				timer.Stop()
			}
		}

		l.fire(ctx, PhaseAfterWaiting)
		l.fire(ctx, PhaseBeforeProcessing)

		l.pollSources0(ctx)

		for {
			t := l.queue.Pop()
			if t == nil {
				break
			}
			l.metrics.incDispatched()
			select {
			case work <- t:
			case <-l.stopped:
				// hand the popped task back so the drain pass (or a
				// restart replay, with a persistent store) picks it up
				l.queue.Requeue(t)
				break loop
			case <-ctx.Done():
				l.queue.Requeue(t)
				break loop
			}
		}
		l.metrics.recordQueueDepth(int64(l.queue.Len()))

		l.fire(ctx, PhaseAfterProcessing)
	}

	l.state.transition(RunLoopStateDraining)
	l.drain(ctx, work)

	aborted := l.queue.Len() > 0 || l.pool.InFlight() > 0
	close(work)

	if aborted {
		// Bounded shutdown deadline elapsed (or was zero): signal
		// cancellation to whatever is still in flight and stop waiting —
		// the pool is abandoned rather than blocking Run's return.
		cancelWork()
		l.logger.Warn("shutdown timeout exceeded, abandoning in-flight work", "pending_in_flight", l.pool.InFlight(), "pending_queued", l.queue.Len())
		go func() {
			poolWG.Wait()
			l.logger.Info("abandoned workers finished after shutdown timeout")
		}()
	} else {
		poolWG.Wait()
	}
	srcWG.Wait()

	l.fire(ctx, PhaseExit)
	l.state.transition(RunLoopStateStopped)
	l.logger.Info("runloop stopped")

	if aborted {
		return &ErrShutdownAborted{Pending: int(l.pool.InFlight())}
	}
	return nil
}

// drain runs while the RunLoop is in RunLoopStateDraining: it keeps
// polling Source0 (submitLocal restricts it to System-priority tasks in
// this state, per RunLoopState's Draining semantics) and dispatching
// whatever is already queued, until the queue is empty and the
// WorkerPool has zero in-flight tasks, or cfg.ShutdownTimeoutSecs
// elapses, or ctx is done. A zero/negative ShutdownTimeoutSecs cancels
// in-flight work immediately, matching "shutdown with deadline 0 cancels
// in-flight immediately."
func (l *RunLoop) drain(ctx context.Context, work chan *Task) {
	deadline := time.Duration(l.cfg.ShutdownTimeoutSecs) * time.Second
	if deadline <= 0 {
		return
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.queue.Len() == 0 && l.pool.InFlight() == 0 {
			return
		}
		select {
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		l.pollSources0(ctx)

		for {
			t := l.queue.Pop()
			if t == nil {
				break
			}
			select {
			case work <- t:
			case <-ctx.Done():
				l.queue.Requeue(t)
				return
			}
		}
	}
}

// Stop requests a graceful shutdown: the loop leaves its iteration and
// enters Draining, where it keeps dispatching already-queued tasks (and
// System-priority Source0 tasks) until the queue is empty and nothing is
// in flight, or ShutdownTimeoutSecs elapses. Past that deadline in-flight
// work is cancelled and Run returns ErrShutdownAborted.
func (l *RunLoop) Stop() {
	l.stopOnce.Do(func() { close(l.stopped) })
}

func (l *RunLoop) fire(ctx context.Context, phase RunLoopPhase) {
	start := time.Now()
	if l.tracer != nil {
		var span Span
		ctx, span = l.tracer.Start(ctx, "runloop.phase", StringAttr("phase", phase.String()))
		defer span.End()
	}
	l.observers.fire(ctx, phase, l)
	l.metrics.recordPhaseDuration(time.Since(start).Seconds(), phase)
}

// pollSources0 calls Perform on every Source0 registered under the active
// mode, pushing any produced Task onto the queue.
func (l *RunLoop) pollSources0(ctx context.Context) {
	mode := l.Mode()
	l.srcMu.RLock()
	sources := append([]Source0(nil), l.sources0[DefaultMode]...)
	if mode != DefaultMode {
		sources = append(sources, l.sources0[mode]...)
	}
	l.srcMu.RUnlock()

	for _, s := range sources {
		t, err := s.Perform(ctx)
		if err != nil {
			l.logger.Error("source0 perform failed", "source.id", s.ID(), "err", err)
			continue
		}
		if t == nil {
			continue
		}
		if err := l.submitLocal(ctx, t, false); err != nil {
			l.logger.Warn("source0 submission rejected", "source.id", s.ID(), "err", err)
		}
	}
}

// modeActive reports whether mode's Sources should currently contribute
// tasks: DefaultMode is always active (it is the "base" set every mode
// extends), anything else only while it is the switched-to mode.
func (l *RunLoop) modeActive(mode RunLoopMode) bool {
	return mode == DefaultMode || mode == l.Mode()
}

// errSource1Draining and errSource0NonSystemDraining are rejection
// reasons enforcing RunLoopState's Draining semantics: Source1 is cut
// off entirely once the loop leaves Running, and Source0 is limited to
// System-priority tasks while Draining.
var (
	errSource1Draining          = errors.New("runloop: draining, source1 submission rejected")
	errSource0NonSystemDraining = errors.New("runloop: draining, only system-priority source0 tasks accepted")
)

// submitLocal is the chain-check-then-enqueue path shared by Source0
// (fromSource1=false) and Source1 (fromSource1=true) producers.
func (l *RunLoop) submitLocal(ctx context.Context, t *Task, fromSource1 bool) error {
	switch state := l.State(); {
	case fromSource1 && state != RunLoopStateRunning:
		return errSource1Draining
	case !fromSource1 && state == RunLoopStateDraining && t.Priority != PrioritySystem:
		return errSource0NonSystemDraining
	}

	if t.CorrelationID != "" && l.chain != nil {
		if err := l.chain.TryProduce(t.CorrelationID); err != nil {
			l.metrics.incChainRejection()
			return err
		}
	}
	return l.queue.Push(ctx, t)
}
