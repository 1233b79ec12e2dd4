// Package memory implements an in-process autohands.TaskStore backed by
// a map, for tests and single-process deployments that accept losing
// queued state on restart.
package memory

import (
	"context"
	"sort"
	"sync"

	autohands "github.com/autohands/runloop"
)

// Store is an in-memory autohands.TaskStore.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*autohands.Task
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{tasks: make(map[string]*autohands.Task)}
}

func (s *Store) Init(ctx context.Context) error { return nil }

func (s *Store) Put(ctx context.Context, t *autohands.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*autohands.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &autohands.ErrNotFound{ID: id}
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListPending(ctx context.Context) ([]*autohands.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*autohands.Task
	for _, t := range s.tasks {
		if t.Status == autohands.StatusPending || t.Status == autohands.StatusRunning {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt < out[j].SubmittedAt })
	return out, nil
}

func (s *Store) ListDeadLettered(ctx context.Context, limit int) ([]*autohands.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*autohands.Task
	for _, t := range s.tasks {
		if t.Status == autohands.StatusDeadLettered {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt < out[j].SubmittedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

var _ autohands.TaskStore = (*Store)(nil)
