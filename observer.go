package autohands

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// Observer is notified when the RunLoop enters a phase it has registered
// interest in, mirroring CFRunLoopObserver.
type Observer interface {
	// Activities returns the phase mask this observer wants to be
	// notified for.
	Activities() RunLoopPhase
	// Repeats reports whether the observer fires on every matching phase
	// (true) or only once (false).
	Repeats() bool
	// Priority orders observers within the same phase; lower runs first.
	Priority() int
	// OnPhase is invoked when an observed phase is entered.
	OnPhase(ctx context.Context, phase RunLoopPhase, loop *RunLoop)
}

// observerHandle wraps a registered Observer with fired-state tracking so
// non-repeating observers are only invoked once.
type observerHandle struct {
	id       string
	observer Observer
	fired    atomic.Bool
}

func (h *observerHandle) shouldTrigger(phase RunLoopPhase) bool {
	if h.fired.Load() && !h.observer.Repeats() {
		return false
	}
	return phase.Matches(h.observer.Activities())
}

func (h *observerHandle) markFired() { h.fired.Store(true) }

func (h *observerHandle) shouldRemove() bool {
	return h.fired.Load() && !h.observer.Repeats()
}

// observerRegistry holds all registered observers. The priority-sorted
// slice is recomputed on add/remove rather than per fire, keeping the
// hot phase-fan-out path allocation-free.
type observerRegistry struct {
	mu      sync.Mutex
	handles []*observerHandle
	sorted  []*observerHandle // cached priority-sorted copy
	dirty   bool
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{dirty: true}
}

func (r *observerRegistry) add(id string, o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, &observerHandle{id: id, observer: o})
	r.dirty = true
}

func (r *observerRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handles {
		if h.id == id {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			r.dirty = true
			return
		}
	}
}

// fire invokes every matching observer, in priority order, for phase.
// Non-repeating observers that fire are pruned afterward.
func (r *observerRegistry) fire(ctx context.Context, phase RunLoopPhase, loop *RunLoop) {
	r.mu.Lock()
	if r.dirty {
		r.sorted = append([]*observerHandle(nil), r.handles...)
		sort.SliceStable(r.sorted, func(i, j int) bool {
			return r.sorted[i].observer.Priority() < r.sorted[j].observer.Priority()
		})
		r.dirty = false
	}
	snapshot := r.sorted
	r.mu.Unlock()

	var toRemove []string
	for _, h := range snapshot {
		if !h.shouldTrigger(phase) {
			continue
		}
		h.observer.OnPhase(ctx, phase, loop)
		h.markFired()
		if h.shouldRemove() {
			toRemove = append(toRemove, h.id)
		}
	}
	for _, id := range toRemove {
		r.remove(id)
	}
}
