package cron

import (
	"context"
	"testing"

	autohands "github.com/autohands/runloop"
)

func TestSourceAddAndPerformSkipsEntryNotYetDue(t *testing.T) {
	s := New(nil)
	now := autohands.NowUnix()

	entry := &Entry{
		ID:       "e1",
		TaskType: "trigger:cron:fire",
		Priority: autohands.PriorityNormal,
		Schedule: "08:00 daily",
		TZOffset: 7,
	}
	if err := s.Add(entry, now); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Nothing due yet (nextRun was just computed to be in the future).
	task, err := s.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if task != nil {
		t.Fatalf("expected no task before the schedule is due, got %+v", task)
	}
}

func TestSourcePerformFiresOnceEntryAndRemoves(t *testing.T) {
	s := New(nil)
	now := int64(1771322400)

	entry := &Entry{
		ID:       "once-1",
		TaskType: "trigger:cron:fire",
		Priority: autohands.PriorityNormal,
		Schedule: "08:00 once",
		TZOffset: 7,
	}
	if err := s.Add(entry, now); err != nil {
		t.Fatalf("add: %v", err)
	}
	// force due by rewinding nextRun into the past.
	s.entries["once-1"].nextRun = now - 1

	task, err := s.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if task == nil || task.TaskType != "trigger:cron:fire" {
		t.Fatalf("expected the once entry to fire, got %+v", task)
	}

	if _, ok := s.entries["once-1"]; ok {
		t.Error("expected a Once entry to be removed after firing")
	}
}

func TestSourcePerformRecurringEntryAdvances(t *testing.T) {
	s := New(nil)
	now := int64(1771322400)

	entry := &Entry{
		ID:       "recurring-1",
		TaskType: "trigger:cron:fire",
		Priority: autohands.PriorityNormal,
		Schedule: "08:00 daily",
		TZOffset: 7,
	}
	s.Add(entry, now)
	s.entries["recurring-1"].nextRun = now - 1

	task, err := s.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if task == nil {
		t.Fatal("expected the due recurring entry to fire")
	}

	e, ok := s.entries["recurring-1"]
	if !ok {
		t.Fatal("expected a recurring entry to remain registered")
	}
	if e.nextRun <= now {
		t.Errorf("expected nextRun to advance into the future, got %d (now=%d)", e.nextRun, now)
	}
}

func TestSourceRemove(t *testing.T) {
	s := New(nil)
	entry := &Entry{ID: "removable", TaskType: "t", Schedule: "08:00 daily"}
	s.Add(entry, 0)
	s.Remove("removable")
	if _, ok := s.entries["removable"]; ok {
		t.Error("expected entry to be removed")
	}
}

func TestSourceAddInvalidScheduleErrors(t *testing.T) {
	s := New(nil)
	entry := &Entry{ID: "bad", TaskType: "t", Schedule: "not-a-schedule"}
	if err := s.Add(entry, 0); err == nil {
		t.Error("expected an error for an invalid cron/simple schedule")
	}
}

func TestSourceAddCronExpression(t *testing.T) {
	s := New(nil)
	entry := &Entry{ID: "cron-expr", TaskType: "t", Schedule: "*/5 * * * *"}
	if err := s.Add(entry, 0); err != nil {
		t.Fatalf("expected a valid five-field cron expression to be accepted, got %v", err)
	}
}

func TestSourceID(t *testing.T) {
	s := New(nil)
	if s.ID() != "source.cron" {
		t.Errorf("got %q", s.ID())
	}
}
