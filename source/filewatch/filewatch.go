// Package filewatch implements a Source1 that emits Tasks when files
// under a watched directory change, via github.com/fsnotify/fsnotify.
// The Source owns a background goroutine and hands Tasks to the RunLoop
// over a channel, closing it when the watcher's event stream ends.
package filewatch

import (
	"context"
	"encoding/json"
	"log/slog"

	autohands "github.com/autohands/runloop"

	"github.com/fsnotify/fsnotify"
)

// TaskFor maps a fsnotify event to a task type, priority, and
// correlation id. Callers configure what a filesystem change means in
// their domain; Source only knows how to watch and forward.
type TaskFor func(event fsnotify.Event) (taskType string, priority autohands.Priority, correlationID string)

// Source watches one or more paths and emits a Task per matched
// fsnotify event.
type Source struct {
	id      string
	paths   []string
	taskFor TaskFor
	logger  *slog.Logger
}

// New creates a filewatch Source watching paths. taskFor decides which
// events become Tasks; returning an empty taskType drops the event.
func New(id string, paths []string, taskFor TaskFor, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{id: id, paths: paths, taskFor: taskFor, logger: logger}
}

func (s *Source) ID() string { return s.id }

// Poll starts the fsnotify watcher and returns a channel of Tasks
// derived from matched events. The channel closes when ctx is cancelled
// or the watcher's event stream closes.
func (s *Source) Poll(ctx context.Context) (<-chan *autohands.Task, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range s.paths {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	out := make(chan *autohands.Task)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				taskType, priority, correlationID := s.taskFor(event)
				if taskType == "" {
					continue
				}
				payload, _ := json.Marshal(map[string]string{
					"path": event.Name,
					"op":   event.Op.String(),
				})
				t := autohands.NewTask(taskType, priority, payload, correlationID, nil)
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("filewatch error", "source.id", s.id, "err", err)
			}
		}
	}()

	return out, nil
}

var _ autohands.Source1 = (*Source)(nil)
