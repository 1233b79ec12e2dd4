package autohands

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OTEL instruments the RunLoop and WorkerPool write to.
// All methods are nil-receiver-safe so components can call them
// unconditionally when no Metrics was configured, the same nil-safety
// discipline applied to *slog.Logger via nopLogger.
type Metrics struct {
	tasksDispatched   metric.Int64Counter
	tasksCompleted    metric.Int64Counter
	tasksRetried      metric.Int64Counter
	tasksDeadLettered metric.Int64Counter
	chainRejections   metric.Int64Counter
	queueDepth        metric.Int64Gauge
	workersBusy       metric.Int64UpDownCounter
	phaseDuration     metric.Float64Histogram
}

// NewMetrics creates the RunLoop's instrument set against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.tasksDispatched, err = meter.Int64Counter("runloop.tasks.dispatched",
		metric.WithDescription("tasks handed to a worker"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.tasksCompleted, err = meter.Int64Counter("runloop.tasks.completed",
		metric.WithDescription("tasks completed successfully"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.tasksRetried, err = meter.Int64Counter("runloop.tasks.retried",
		metric.WithDescription("tasks requeued with backoff after a transient failure"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.tasksDeadLettered, err = meter.Int64Counter("runloop.tasks.dead_lettered",
		metric.WithDescription("tasks moved to the dead letter state"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.chainRejections, err = meter.Int64Counter("runloop.chain.rejections",
		metric.WithDescription("task submissions rejected for exceeding a chain's limit"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.queueDepth, err = meter.Int64Gauge("runloop.queue.depth",
		metric.WithDescription("tasks currently tracked by the queue"), metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.workersBusy, err = meter.Int64UpDownCounter("runloop.workers.busy",
		metric.WithDescription("workers currently executing a task"), metric.WithUnit("{worker}")); err != nil {
		return nil, err
	}
	if m.phaseDuration, err = meter.Float64Histogram("runloop.phase.duration",
		metric.WithDescription("wall time spent in one RunLoop phase"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) incDispatched() {
	if m == nil {
		return
	}
	m.tasksDispatched.Add(context.Background(), 1)
}

func (m *Metrics) incCompleted() {
	if m == nil {
		return
	}
	m.tasksCompleted.Add(context.Background(), 1)
}

func (m *Metrics) incRetried() {
	if m == nil {
		return
	}
	m.tasksRetried.Add(context.Background(), 1)
}

func (m *Metrics) incDeadLettered() {
	if m == nil {
		return
	}
	m.tasksDeadLettered.Add(context.Background(), 1)
}

func (m *Metrics) incChainRejection() {
	if m == nil {
		return
	}
	m.chainRejections.Add(context.Background(), 1)
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.workersBusy.Add(context.Background(), 1)
}

func (m *Metrics) workerFinished() {
	if m == nil {
		return
	}
	m.workersBusy.Add(context.Background(), -1)
}

func (m *Metrics) recordQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Record(context.Background(), n)
}

func (m *Metrics) recordPhaseDuration(seconds float64, phase RunLoopPhase) {
	if m == nil {
		return
	}
	m.phaseDuration.Record(context.Background(), seconds,
		metric.WithAttributes(attribute.String("phase", phase.String())))
}
