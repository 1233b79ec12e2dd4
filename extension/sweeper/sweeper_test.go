package sweeper

import (
	"context"
	"testing"
	"time"

	autohands "github.com/autohands/runloop"
)

func TestChainSweeperNeverProducesATask(t *testing.T) {
	chain := autohands.NewTaskChainTracker(5, nil)
	s := New(chain, time.Millisecond, 3600, nil)

	task, err := s.Perform(context.Background())
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if task != nil {
		t.Errorf("expected ChainSweeper to never produce a task, got %+v", task)
	}
}

func TestChainSweeperRespectsInterval(t *testing.T) {
	chain := autohands.NewTaskChainTracker(5, nil)
	s := New(chain, time.Hour, 1, nil)

	// First call always sweeps (lastRun starts at zero, far in the past).
	if _, err := s.Perform(context.Background()); err != nil {
		t.Fatalf("first perform: %v", err)
	}
	firstRun := s.lastRun

	// Immediately calling again should be a no-op since interval has not elapsed.
	if _, err := s.Perform(context.Background()); err != nil {
		t.Fatalf("second perform: %v", err)
	}
	if s.lastRun != firstRun {
		t.Error("expected lastRun to be unchanged within the interval window")
	}
}

func TestChainSweeperID(t *testing.T) {
	s := New(autohands.NewTaskChainTracker(1, nil), time.Second, 1, nil)
	if s.ID() != "source.chain-sweeper" {
		t.Errorf("got %q", s.ID())
	}
}
