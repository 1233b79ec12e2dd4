// Package filestore implements an autohands.TaskStore backed by an
// append-only newline-delimited-JSON write-ahead log: every Put appends
// a full Task snapshot, and Init replays the file to rebuild the
// in-memory index, keeping only the latest snapshot per task ID. This
// is a durable single-file alternative to store/sqlite for deployments
// that want crash-safe persistence without a SQL dependency.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"

	autohands "github.com/autohands/runloop"
)

// Store is a file-backed autohands.TaskStore.
type Store struct {
	path string

	mu    sync.Mutex
	file  *os.File
	tasks map[string]*autohands.Task
}

// New creates a Store that will read from and append to path.
func New(path string) *Store {
	return &Store{path: path, tasks: make(map[string]*autohands.Task)}
}

// Init replays path (if it exists) to rebuild the in-memory index, then
// opens it for appending.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, err := os.Open(s.path); err == nil {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			var t autohands.Task
			if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
				continue
			}
			s.tasks[t.ID] = &t
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return &autohands.ErrStoreError{Op: "init.replay", Err: err}
		}
	} else if !os.IsNotExist(err) {
		return &autohands.ErrStoreError{Op: "init.open", Err: err}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &autohands.ErrStoreError{Op: "init.append", Err: err}
	}
	s.file = f
	return nil
}

func (s *Store) Put(ctx context.Context, t *autohands.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(t)
	if err != nil {
		return &autohands.ErrStoreError{Op: "put.marshal", Err: err}
	}
	b = append(b, '\n')
	if _, err := s.file.Write(b); err != nil {
		return &autohands.ErrStoreError{Op: "put.write", Err: err}
	}

	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*autohands.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &autohands.ErrNotFound{ID: id}
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListPending(ctx context.Context) ([]*autohands.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

var _ autohands.TaskStore = (*Store)(nil)
