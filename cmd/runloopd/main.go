// Command runloopd is the daemon entrypoint: it wires RunLoopConfig, a
// TaskStore, the built-in ingress Sources and reply Channels, the
// extension registry, and the WorkerPool's task handlers into a running
// RunLoop, then blocks until an OS signal requests shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	autohands "github.com/autohands/runloop"
	"github.com/autohands/runloop/agent"
	httpchannel "github.com/autohands/runloop/channel/http"
	wschannel "github.com/autohands/runloop/channel/websocket"
	"github.com/autohands/runloop/extension/sweeper"
	"github.com/autohands/runloop/extension/toolexec"
	"github.com/autohands/runloop/observability"
	"github.com/autohands/runloop/source/cron"
	"github.com/autohands/runloop/source/filewatch"
	signalsrc "github.com/autohands/runloop/source/signal"
	"github.com/autohands/runloop/store/filestore"
	"github.com/autohands/runloop/store/memory"
	"github.com/autohands/runloop/store/sqlite"

	"github.com/fsnotify/fsnotify"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("RUNLOOPD_CONFIG"), "path to a RunLoopConfig TOML file")
		storeKind   = flag.String("store", envOr("RUNLOOPD_STORE", "memory"), "task store backend: memory, filestore, or sqlite")
		httpAddr    = flag.String("http-addr", envOr("RUNLOOPD_HTTP_ADDR", ""), "webhook ingress listen address, e.g. :8090 (empty disables it)")
		wsAddr      = flag.String("ws-addr", envOr("RUNLOOPD_WS_ADDR", ""), "websocket ingress listen address, e.g. :8091 (empty disables it)")
		watchDir    = flag.String("watch-dir", envOr("RUNLOOPD_WATCH_DIR", ""), "directory to watch for trigger:file:changed tasks (empty disables it)")
		workspace   = flag.String("workspace", envOr("RUNLOOPD_WORKSPACE", "."), "working directory for the toolexec extension and extension contexts")
		serviceName = flag.String("otel-service-name", envOr("RUNLOOPD_OTEL_SERVICE_NAME", ""), "enables OTLP-HTTP tracing/metrics under this service name (empty disables it)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := autohands.LoadRunLoopConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer autohands.Tracer
	var metrics *autohands.Metrics
	var otelShutdown observability.Shutdown
	if *serviceName != "" {
		otelTracer, meter, shutdown, err := observability.Init(ctx, *serviceName)
		if err != nil {
			logger.Error("otel init failed", "err", err)
			os.Exit(1)
		}
		tracer = observability.NewTracer(otelTracer)
		metrics, err = autohands.NewMetrics(meter)
		if err != nil {
			logger.Error("metrics init failed", "err", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		logger.Info("otel enabled", "service_name", *serviceName)
	}

	store, err := buildStore(*storeKind, cfg.TaskStorePath, logger)
	if err != nil {
		logger.Error("failed to build task store", "err", err)
		os.Exit(1)
	}
	if err := store.Init(ctx); err != nil {
		logger.Error("task store init failed", "err", err)
		os.Exit(1)
	}

	queue := autohands.NewTaskQueue(autohands.QueueConfig{
		MaxRetries:     cfg.MaxRetries,
		RetryDelaySecs: cfg.RetryDelaySecs,
		MaxQueueSize:   cfg.MaxQueueSize,
	}, store, logger)
	if err := queue.Restore(ctx); err != nil {
		logger.Error("queue restore failed", "err", err)
		os.Exit(1)
	}

	chain := autohands.NewTaskChainTracker(cfg.MaxTasksPerChain, logger)
	channels := autohands.NewChannelRegistry()
	tools := autohands.NewToolRegistry()
	providers := autohands.NewProviderRegistry()
	mem := autohands.NewMemoryRegistry()
	submitter := autohands.NewTaskSubmitter(queue, chain)

	pool := autohands.NewWorkerPool(cfg.MaxWorkers, queue, chain, channels, logger, metrics)
	loop := autohands.NewRunLoop(cfg, queue, chain, pool, logger, tracer, metrics)

	registerHandlers(pool, loop, tools, providers, *configPath, logger)

	extensions := autohands.NewExtensionRegistry(time.Duration(cfg.ShutdownTimeoutSecs)*time.Second, logger)
	if err := extensions.Register(toolexec.New("toolexec", *workspace, 30*time.Second, logger)); err != nil {
		logger.Error("failed to register toolexec extension", "err", err)
		os.Exit(1)
	}

	checkInterval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	loop.AddSource0(autohands.DefaultMode, sweeper.New(chain, checkInterval, cfg.ChainStaleSecs, logger))

	cronSrc := cron.New(logger)
	loop.AddSource0(autohands.DefaultMode, cronSrc)

	loop.AddSource1(autohands.DefaultMode, signalsrc.New("source.signal", []os.Signal{syscall.SIGHUP}, func(sig os.Signal) (string, autohands.Priority) {
		return "system:reload", autohands.PriorityHigh
	}))

	if *httpAddr != "" {
		hs := httpchannel.New("channel.http", *httpAddr, logger)
		if err := channels.Register(hs); err != nil {
			logger.Error("failed to register http channel", "err", err)
			os.Exit(1)
		}
		loop.AddSource1(autohands.DefaultMode, hs)
	}
	if *wsAddr != "" {
		ws := wschannel.New("channel.websocket", *wsAddr, logger)
		if err := channels.Register(ws); err != nil {
			logger.Error("failed to register websocket channel", "err", err)
			os.Exit(1)
		}
		loop.AddSource1(autohands.DefaultMode, ws)
	}
	if *watchDir != "" {
		fw := filewatch.New("source.filewatch", []string{*watchDir}, func(event fsnotify.Event) (string, autohands.Priority, string) {
			return "trigger:file:changed", autohands.PriorityNormal, ""
		}, logger)
		loop.AddSource1(autohands.DefaultMode, fw)
	}

	ectx := autohands.ExtensionContext{
		Submitter: submitter,
		Tools:     tools,
		Providers: providers,
		Memory:    mem,
		Channels:  channels,
		WorkDir:   *workspace,
		Logger:    logger,
	}
	if err := extensions.InitAll(ctx, ectx); err != nil {
		logger.Error("extension init failed", "err", err)
		extensions.ShutdownAll(context.Background())
		os.Exit(1)
	}

	logger.Info("runloopd starting", "max_workers", cfg.MaxWorkers, "store", *storeKind)

	runErr := loop.Run(ctx)

	extensions.ShutdownAll(context.Background())
	if err := store.Close(context.Background()); err != nil {
		logger.Error("task store close failed", "err", err)
	}
	if otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown failed", "err", err)
		}
	}

	if runErr != nil {
		logger.Error("runloop exited with error", "err", runErr)
		os.Exit(1)
	}
	logger.Info("runloopd stopped")
}

// registerHandlers wires every built-in task type to a TaskHandler.
// agent:run uses a trivial echo Driver by default since a concrete LLM
// client is out of this module's scope (see agent/driver.go); operators
// embedding this module in a real deployment replace echoDriver with
// their own agent.Driver before calling registerHandlers-equivalent
// wiring.
func registerHandlers(pool *autohands.WorkerPool, loop *autohands.RunLoop, tools *autohands.ToolRegistry, providers *autohands.ProviderRegistry, configPath string, logger *slog.Logger) {
	driver := agent.Driver(echoDriver{tools: tools, providers: providers})

	pool.RegisterHandler("agent:run", func(ctx context.Context, t *autohands.Task) (string, error) {
		res, err := driver.Run(ctx, agent.Run{TaskType: t.TaskType, CorrelationID: t.CorrelationID, Payload: t.Payload})
		if err != nil {
			return "", err
		}
		return res.Reply, nil
	})

	for _, taskType := range []string{
		"trigger:file:changed",
		"trigger:webhook:received",
		"trigger:cron:fire",
		"channel:http:message",
		"channel:ws:message",
	} {
		pool.RegisterHandler(taskType, func(ctx context.Context, t *autohands.Task) (string, error) {
			res, err := driver.Run(ctx, agent.Run{TaskType: t.TaskType, CorrelationID: t.CorrelationID, Payload: t.Payload})
			if err != nil {
				return "", err
			}
			return res.Reply, nil
		})
	}

	pool.RegisterHandler("system:shutdown", func(ctx context.Context, t *autohands.Task) (string, error) {
		loop.Stop()
		return "", nil
	})
	pool.RegisterHandler("system:reload", func(ctx context.Context, t *autohands.Task) (string, error) {
		// The loop's tunables are bound at construction, so a reload
		// validates the file and reports the values a restart would
		// apply rather than mutating a running pool.
		cfg, err := autohands.LoadRunLoopConfig(configPath)
		if err != nil {
			return "", &autohands.ErrHandlerTerminal{TaskType: t.TaskType, Err: err}
		}
		logger.Info("config reloaded",
			"max_retries", cfg.MaxRetries,
			"retry_delay_secs", cfg.RetryDelaySecs,
			"max_tasks_per_chain", cfg.MaxTasksPerChain)
		return "", nil
	})
}

// echoDriver is the default agent.Driver: it echoes the prompt found in
// the task payload's "prompt" field. Stands in for a real LLM-backed
// driver, which is a collaborator outside this module's scope.
type echoDriver struct {
	tools     *autohands.ToolRegistry
	providers *autohands.ProviderRegistry
}

func (echoDriver) Name() string { return "echo" }

func (d echoDriver) Run(ctx context.Context, r agent.Run) (agent.Result, error) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if len(r.Payload) > 0 {
		_ = json.Unmarshal(r.Payload, &body)
	}
	if body.Prompt == "" {
		return agent.Result{}, nil
	}
	return agent.Result{Reply: fmt.Sprintf("echo: %s", body.Prompt)}, nil
}

func buildStore(kind, path string, logger *slog.Logger) (autohands.TaskStore, error) {
	switch kind {
	case "memory":
		return memory.New(), nil
	case "filestore":
		if path == "" {
			path = "runloopd.tasks.log"
		}
		return filestore.New(path), nil
	case "sqlite":
		if path == "" {
			path = "runloopd.db"
		}
		return sqlite.New(path, sqlite.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q (want memory, filestore, or sqlite)", kind)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
