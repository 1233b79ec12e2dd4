package signal

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	autohands "github.com/autohands/runloop"
)

func TestSourcePollForwardsMatchingSignal(t *testing.T) {
	src := New("source.signal", []os.Signal{syscall.SIGHUP}, func(sig os.Signal) (string, autohands.Priority) {
		return "system:reload", autohands.PriorityHigh
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("find process: %v", err)
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		t.Fatalf("send signal: %v", err)
	}

	select {
	case task := <-out:
		if task.TaskType != "system:reload" || task.Priority != autohands.PriorityHigh {
			t.Errorf("unexpected task: %+v", task)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a task after sending SIGHUP")
	}
}

func TestSourceTaskForEmptyTypeDropsSignal(t *testing.T) {
	src := New("source.signal", []os.Signal{syscall.SIGUSR1}, func(sig os.Signal) (string, autohands.Priority) {
		return "", autohands.PriorityLow
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, err := src.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	proc, _ := os.FindProcess(os.Getpid())
	proc.Signal(syscall.SIGUSR1)

	select {
	case task := <-out:
		t.Fatalf("expected no task for a dropped signal, got %+v", task)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSourceID(t *testing.T) {
	src := New("my-signals", nil, nil)
	if src.ID() != "my-signals" {
		t.Errorf("got %q, want %q", src.ID(), "my-signals")
	}
}
