package autohands

import (
	"context"
	"testing"
)

type recordingObserver struct {
	mask    RunLoopPhase
	repeats bool
	prio    int
	calls   *[]string
	name    string
}

func (o recordingObserver) Activities() RunLoopPhase { return o.mask }
func (o recordingObserver) Repeats() bool            { return o.repeats }
func (o recordingObserver) Priority() int            { return o.prio }
func (o recordingObserver) OnPhase(ctx context.Context, phase RunLoopPhase, loop *RunLoop) {
	*o.calls = append(*o.calls, o.name)
}

func TestObserverRegistryFiresMatchingPhase(t *testing.T) {
	r := newObserverRegistry()
	var calls []string
	r.add("a", recordingObserver{mask: PhaseBeforeSources, repeats: true, calls: &calls, name: "a"})
	r.add("b", recordingObserver{mask: PhaseAfterProcessing, repeats: true, calls: &calls, name: "b"})

	r.fire(context.Background(), PhaseBeforeSources, nil)

	if len(calls) != 1 || calls[0] != "a" {
		t.Errorf("expected only observer a to fire, got %v", calls)
	}
}

func TestObserverRegistryPriorityOrder(t *testing.T) {
	r := newObserverRegistry()
	var calls []string
	r.add("low-prio-last", recordingObserver{mask: PhaseAll, repeats: true, prio: 10, calls: &calls, name: "second"})
	r.add("high-prio-first", recordingObserver{mask: PhaseAll, repeats: true, prio: 1, calls: &calls, name: "first"})

	r.fire(context.Background(), PhaseBeforeSources, nil)

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("expected lower priority value to fire first, got %v", calls)
	}
}

func TestObserverRegistryNonRepeatingFiresOnce(t *testing.T) {
	r := newObserverRegistry()
	var calls []string
	r.add("once", recordingObserver{mask: PhaseAll, repeats: false, calls: &calls, name: "once"})

	r.fire(context.Background(), PhaseBeforeSources, nil)
	r.fire(context.Background(), PhaseBeforeSources, nil)

	if len(calls) != 1 {
		t.Errorf("expected a non-repeating observer to fire exactly once, got %d calls", len(calls))
	}
}

func TestObserverRegistryRemove(t *testing.T) {
	r := newObserverRegistry()
	var calls []string
	r.add("removable", recordingObserver{mask: PhaseAll, repeats: true, calls: &calls, name: "removable"})
	r.remove("removable")

	r.fire(context.Background(), PhaseBeforeSources, nil)

	if len(calls) != 0 {
		t.Errorf("expected no calls after removal, got %v", calls)
	}
}
