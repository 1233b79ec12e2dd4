package autohands

import "context"

// Source0 is a "performable" internal producer, polled by the RunLoop at
// BeforeProcessing on every iteration. Perform must not block: it
// reports whether a task is ready right now and returns.
type Source0 interface {
	// ID identifies this source for logging and registry lookups.
	ID() string
	// Perform is called once per RunLoop iteration at BeforeProcessing.
	// Returns a Task to enqueue, or nil if nothing is ready.
	Perform(ctx context.Context) (*Task, error)
}

// Source1 is a "pushable" external producer. It owns a channel fed by its
// own goroutine (an HTTP handler, a WebSocket read loop, an fsnotify
// watcher, a signal.Notify channel) and hands already-constructed Tasks to
// the loop: the RunLoop runs one forwarding goroutine per Source1 that
// pushes each Task onto the queue as it arrives.
type Source1 interface {
	ID() string
	// Poll starts (or returns the existing) channel of tasks produced by
	// this source. Called once during RunLoop startup.
	Poll(ctx context.Context) (<-chan *Task, error)
}

// Source0Func adapts a plain function to Source0.
type Source0Func struct {
	Name string
	Fn   func(ctx context.Context) (*Task, error)
}

func (f Source0Func) ID() string { return f.Name }

func (f Source0Func) Perform(ctx context.Context) (*Task, error) { return f.Fn(ctx) }
