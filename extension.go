package autohands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ExtensionManifest describes an extension's identity and dependency
// ordering.
type ExtensionManifest struct {
	ID           string
	Version      string
	Dependencies []string // IDs of extensions that must initialize first
}

// ExtensionContext is handed to Extension.Initialize, giving the
// extension access to the registries it needs and a place to submit
// tasks.
type ExtensionContext struct {
	Config    json.RawMessage
	Submitter *TaskSubmitter
	Tools     *ToolRegistry
	Providers *ProviderRegistry
	Memory    *MemoryRegistry
	Channels  *ChannelRegistry
	WorkDir   string
	Logger    *slog.Logger
}

// GetConfig unmarshals the extension's configuration into v.
func (c ExtensionContext) GetConfig(v any) error {
	if len(c.Config) == 0 {
		return nil
	}
	return json.Unmarshal(c.Config, v)
}

// Extension is a pluggable unit of behavior initialized and shut down by
// the RunLoop alongside its Sources and Observers.
type Extension interface {
	Manifest() ExtensionManifest
	Initialize(ctx context.Context, ectx ExtensionContext) error
	Shutdown(ctx context.Context) error
}

type extensionAdapter struct{ Extension }

func (e extensionAdapter) RegistryID() string { return e.Manifest().ID }

// ExtensionRegistry holds the set of registered extensions and drives
// their ordered lifecycle: manifest validation, topological sort by
// Dependencies, ordered Initialize, reverse-order Shutdown with a
// per-extension timeout.
type ExtensionRegistry struct {
	reg             *Registry[extensionAdapter]
	shutdownTimeout time.Duration
	logger          *slog.Logger
	initOrder       []string // set by InitAll, used by ShutdownAll
}

// NewExtensionRegistry creates a registry. shutdownTimeout bounds how
// long ShutdownAll waits for each extension individually, so one hung
// Shutdown cannot stall the whole teardown.
func NewExtensionRegistry(shutdownTimeout time.Duration, logger *slog.Logger) *ExtensionRegistry {
	if logger == nil {
		logger = nopLogger()
	}
	return &ExtensionRegistry{reg: NewRegistry[extensionAdapter](), shutdownTimeout: shutdownTimeout, logger: logger}
}

// Register adds ext, keyed by its manifest ID.
func (r *ExtensionRegistry) Register(ext Extension) error {
	return r.reg.Register(extensionAdapter{ext})
}

// Get returns the extension registered under id.
func (r *ExtensionRegistry) Get(id string) (Extension, bool) {
	a, ok := r.reg.Get(id)
	if !ok {
		return nil, false
	}
	return a.Extension, true
}

// InitAll validates every manifest's Dependencies resolve to a registered
// extension, topologically sorts them into dependency levels, and
// initializes each level's extensions concurrently (bounded by
// maxConcurrentInit) via errgroup.Group + semaphore.Weighted — replacing
// a hand-rolled channel pool where first-error propagation across a
// fan-out is exactly what errgroup is for. If any extension in a level
// fails to initialize, InitAll waits for that level's goroutines to
// return (a peer still waiting for a semaphore slot gives up once the
// failure cancels the group context), then stops and returns the
// ErrExtensionInitFailed. InitAll does not shut down the extensions that
// did initialize; the caller does that with ShutdownAll, which covers
// exactly those extensions (cmd/runloopd does so when InitAll fails).
func (r *ExtensionRegistry) InitAll(ctx context.Context, base ExtensionContext) error {
	exts := r.reg.List()
	levels, err := topoLevels(exts)
	if err != nil {
		return err
	}

	const maxConcurrentInit = 4
	sem := semaphore.NewWeighted(maxConcurrentInit)
	var mu sync.Mutex

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range level {
			id := id
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				a, _ := r.reg.Get(id)
				r.logger.Info("extension initializing", "extension.id", id)
				if err := a.Initialize(gctx, base); err != nil {
					return &ErrExtensionInitFailed{ExtensionID: id, Err: err}
				}
				mu.Lock()
				r.initOrder = append(r.initOrder, id)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll shuts extensions down in the reverse of their Initialize
// order, one at a time, each bounded by shutdownTimeout. A timed-out or
// erroring extension is logged and skipped so the rest still get a
// chance to release their resources.
func (r *ExtensionRegistry) ShutdownAll(ctx context.Context) {
	for i := len(r.initOrder) - 1; i >= 0; i-- {
		id := r.initOrder[i]
		ext, ok := r.Get(id)
		if !ok {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, r.shutdownTimeout)
		done := make(chan error, 1)
		go func() { done <- ext.Shutdown(sctx) }()
		select {
		case err := <-done:
			if err != nil {
				r.logger.Error("extension shutdown error", "extension.id", id, "err", err)
			}
		case <-sctx.Done():
			r.logger.Warn("extension shutdown timed out", "extension.id", id)
		}
		cancel()
	}
	r.initOrder = nil
}

// topoLevels groups extensions into dependency layers: level 0 has no
// Dependencies, level N's entries depend only on extensions in levels
// < N. Extensions within the same level have no dependency relationship
// to each other and are safe to Initialize concurrently. Detects missing
// dependencies and cycles (white/gray/black DFS), same as a flat
// topological sort, but buckets the resulting order by DFS-exit depth.
func topoLevels(exts []extensionAdapter) ([][]string, error) {
	byID := make(map[string]extensionAdapter, len(exts))
	for _, e := range exts {
		byID[e.Manifest().ID] = e
	}
	for _, e := range exts {
		for _, dep := range e.Manifest().Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("runloop: extension %q depends on unregistered extension %q", e.Manifest().ID, dep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(exts))
	level := make(map[string]int, len(exts))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("runloop: extension dependency cycle at %q", id)
		}
		color[id] = gray
		maxDepLevel := -1
		for _, dep := range byID[id].Manifest().Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
			if level[dep] > maxDepLevel {
				maxDepLevel = level[dep]
			}
		}
		color[id] = black
		level[id] = maxDepLevel + 1
		return nil
	}
	for _, e := range exts {
		if err := visit(e.Manifest().ID); err != nil {
			return nil, err
		}
	}

	var levels [][]string
	for _, e := range exts {
		id := e.Manifest().ID
		l := level[id]
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels, nil
}
