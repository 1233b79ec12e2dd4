// Package cron implements a Source0 that emits Tasks on a time-based
// schedule. It supports two schedule grammars: five-field cron
// expressions (parsed by github.com/robfig/cron/v3, e.g. "*/15 * * * *")
// and the simple "HH:MM <recurrence>" grammar in schedule.go, used for
// user-authored reminders. Perform is called once per RunLoop iteration
// and returns at most one due Task.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	autohands "github.com/autohands/runloop"

	robfigcron "github.com/robfig/cron/v3"
)

func unixToTime(unix int64) time.Time { return time.Unix(unix, 0).UTC() }

// Entry is one scheduled Task template.
type Entry struct {
	ID            string
	TaskType      string
	Priority      autohands.Priority
	Payload       json.RawMessage
	CorrelationID string
	Reply         *autohands.ReplyAddress
	Schedule      string // cron expression, or "HH:MM <recurrence>"
	TZOffset      int    // only used by the HH:MM grammar
	Once          bool

	nextRun int64
	sched   robfigcron.Schedule // non-nil when Schedule is a cron expression
}

// RegistryID satisfies autohands.Identifiable so Entries can live in a
// Registry if a caller wants lookup-by-ID; Source itself uses a plain map.
func (e *Entry) RegistryID() string { return e.ID }

// Source polls its registered Entries once per call to Perform and
// returns the first one whose nextRun has passed, advancing (or
// disabling, for Once entries) its schedule before returning.
type Source struct {
	mu      sync.Mutex
	entries map[string]*Entry
	parser  robfigcron.Parser
	logger  *slog.Logger
}

// New creates an empty cron Source.
func New(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		entries: make(map[string]*Entry),
		parser:  robfigcron.NewParser(robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow),
		logger:  logger,
	}
}

func (s *Source) ID() string { return "source.cron" }

// Add registers an Entry and computes its first nextRun. The schedule
// string is parsed as a five-field cron expression if it has no
// "HH:MM "-style prefix recognized by ComputeNextRun, else as the simple
// recurrence grammar.
func (s *Source) Add(e *Entry, now int64) error {
	if looksLikeSimpleSchedule(e.Schedule) {
		next, ok := ComputeNextRun(e.Schedule, now, e.TZOffset)
		if !ok {
			return fmt.Errorf("cron: invalid schedule %q", e.Schedule)
		}
		e.nextRun = next
	} else {
		sched, err := s.parser.Parse(e.Schedule)
		if err != nil {
			return fmt.Errorf("cron: invalid cron expression %q: %w", e.Schedule, err)
		}
		e.sched = sched
		e.nextRun = sched.Next(unixToTime(now)).Unix()
	}

	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	return nil
}

// Remove unregisters an Entry by ID.
func (s *Source) Remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// Perform checks every registered Entry and returns a Task for the first
// one whose nextRun has passed, advancing its schedule (or removing it,
// if Once) before returning. Called once per RunLoop iteration; a single
// iteration dispatches at most one due Entry, relying on the RunLoop's
// tight poll interval to drain any backlog across iterations.
func (s *Source) Perform(ctx context.Context) (*autohands.Task, error) {
	now := autohands.NowUnix()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.nextRun > now {
			continue
		}

		t := autohands.NewTask(e.TaskType, e.Priority, e.Payload, e.CorrelationID, e.Reply)

		if e.Once {
			delete(s.entries, e.ID)
			s.logger.Info("cron entry fired (once)", "entry.id", e.ID)
			return t, nil
		}

		if e.sched != nil {
			e.nextRun = e.sched.Next(unixToTime(now)).Unix()
		} else {
			next, ok := ComputeNextRun(e.Schedule, now, e.TZOffset)
			if !ok {
				s.logger.Error("cron entry schedule became invalid, disabling", "entry.id", e.ID)
				delete(s.entries, e.ID)
				return t, nil
			}
			e.nextRun = next
		}
		s.logger.Info("cron entry fired", "entry.id", e.ID, "next_run", e.nextRun)
		return t, nil
	}

	return nil, nil
}

// looksLikeSimpleSchedule reports whether schedule matches the "HH:MM
// <recurrence>" grammar rather than a five-field cron expression: its
// first token contains a colon, which no valid cron field does.
func looksLikeSimpleSchedule(schedule string) bool {
	parts := strings.SplitN(schedule, " ", 2)
	return len(parts) == 2 && strings.Contains(parts[0], ":")
}

var _ autohands.Source0 = (*Source)(nil)
