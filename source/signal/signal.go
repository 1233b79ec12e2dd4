// Package signal implements a Source1 that turns OS signals (SIGHUP,
// SIGUSR1, ...) into Tasks, letting operators trigger RunLoop behavior
// (config reload, a checkpoint, a graceful drain) from outside the
// process.
package signal

import (
	"context"
	"os"
	"os/signal"

	autohands "github.com/autohands/runloop"
)

// TaskFor maps an incoming os.Signal to a task type and priority.
// Returning an empty taskType drops the signal.
type TaskFor func(sig os.Signal) (taskType string, priority autohands.Priority)

// Source forwards OS signals as Tasks.
type Source struct {
	id      string
	signals []os.Signal
	taskFor TaskFor
}

// New creates a signal Source listening for the given signals.
func New(id string, signals []os.Signal, taskFor TaskFor) *Source {
	return &Source{id: id, signals: signals, taskFor: taskFor}
}

func (s *Source) ID() string { return s.id }

// Poll registers a signal.Notify channel and forwards matching signals
// as Tasks until ctx is cancelled.
func (s *Source) Poll(ctx context.Context) (<-chan *autohands.Task, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, s.signals...)

	out := make(chan *autohands.Task)
	go func() {
		defer close(out)
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-sigCh:
				if !ok {
					return
				}
				taskType, priority := s.taskFor(sig)
				if taskType == "" {
					continue
				}
				t := autohands.NewTask(taskType, priority, nil, "", nil)
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

var _ autohands.Source1 = (*Source)(nil)
