// Package sweeper implements ChainSweeper, a Source0 that periodically
// reclaims stale task chains via TaskChainTracker.SweepStale. A chain
// whose producer crashed mid-cascade would otherwise hold its
// MaxTasksPerChain budget forever; the sweeper reclaims it after
// staleSecs of inactivity.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	autohands "github.com/autohands/runloop"
)

// ChainSweeper is a Source0 that calls TaskChainTracker.SweepStale once
// per interval. It never produces a Task: Perform always returns (nil,
// nil), and exists purely for its side effect on the shared chain
// tracker. Self-paced internally (tracks its own lastRun) so it can be
// registered like any other Source0 and polled every RunLoop iteration
// without sweeping on every single call.
type ChainSweeper struct {
	chain     *autohands.TaskChainTracker
	interval  time.Duration
	staleSecs int64
	logger    *slog.Logger
	lastRun   int64
}

// New creates a ChainSweeper that sweeps chain at most once per interval,
// reclaiming chains untouched for staleSecs.
func New(chain *autohands.TaskChainTracker, interval time.Duration, staleSecs int64, logger *slog.Logger) *ChainSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainSweeper{chain: chain, interval: interval, staleSecs: staleSecs, logger: logger}
}

func (s *ChainSweeper) ID() string { return "source.chain-sweeper" }

// Perform sweeps stale chains if interval has elapsed since the last
// sweep, then returns (nil, nil) — it never produces a Task.
func (s *ChainSweeper) Perform(ctx context.Context) (*autohands.Task, error) {
	now := autohands.NowUnix()
	if now-s.lastRun < int64(s.interval.Seconds()) {
		return nil, nil
	}
	s.lastRun = now

	s.chain.SweepStale(s.staleSecs)
	return nil, nil
}

var _ autohands.Source0 = (*ChainSweeper)(nil)
