// Gated is the gate orchestration daemon for pull request validation.
//
// The daemon accepts GitHub pull request webhooks, drives each head SHA
// through the staged gate pipeline defined by the active policy, archives
// the resulting receipt, and serves run history and status over HTTP.
//
// Configuration is loaded from a YAML file plus GATED_-prefixed environment
// variables. See internal/config for the full surface.
//
// Usage:
//
//	# Start with defaults (~/.config/gated/config.yaml if present)
//	gated
//
//	# Start with an explicit config file
//	gated -config /etc/gated/config.yaml
//
//	# Show version information
//	gated version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/archive"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/emitter"
	"github.com/fyrsmithlabs/gated/internal/events"
	"github.com/fyrsmithlabs/gated/internal/flowlock"
	httpserver "github.com/fyrsmithlabs/gated/internal/http"
	"github.com/fyrsmithlabs/gated/internal/intake"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/orchestrator"
	"github.com/fyrsmithlabs/gated/internal/policy"
	"github.com/fyrsmithlabs/gated/internal/review"
	"github.com/fyrsmithlabs/gated/internal/runner"
	"github.com/fyrsmithlabs/gated/internal/telemetry"
	"github.com/fyrsmithlabs/gated/internal/worker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/gated/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  gated           Start the gated daemon\n")
			fmt.Fprintf(os.Stderr, "  gated version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("gated by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize telemetry and logging
//  3. Open the run archive and connect infrastructure (NATS, GitHub)
//  4. Load the gate policy and start the file watcher if configured
//  5. Wire the pipeline: runner, flow-locks, orchestrator, worker pool
//  6. Start the HTTP server (webhook intake, run API, metrics)
//  7. Drain gracefully on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.NewLogger(loggingConfig(cfg), tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting gated",
		zap.String("version", version),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("events_connected", deps.natsConn != nil),
		zap.Bool("github_emit", deps.emit != nil))

	// Load the policy and verify this build may run it.
	pol, err := loadPolicy(cfg)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	if err := pol.CheckEngineVersion(version); err != nil {
		return err
	}

	var current atomic.Pointer[policy.Policy]
	current.Store(pol)

	logger.Info(ctx, "policy loaded",
		zap.String("path", cfg.Policy.Path),
		zap.Int("stages", len(pol.Stages)),
		zap.String("environment", pol.Global.Environment))

	// Pipeline wiring: checks -> orchestrator -> worker pool.
	orch, err := orchestrator.New(orchestrator.Config{
		Runner:   runner.NewDefault(logger.Named("runner").Underlying()),
		Locks:    flowlock.NewRegistry(),
		Notifier: notifier(deps),
		Logger:   logger.Named("orchestrator").Underlying(),
		Engine:   version,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	runUnit := func(runCtx context.Context, unit review.Unit) error {
		eff, err := current.Load().ForTier(cfg.Policy.DefaultTier)
		if err != nil {
			return fmt.Errorf("resolving tier %q: %w", cfg.Policy.DefaultTier, err)
		}
		rcpt, err := orch.Run(runCtx, unit, eff)
		if err != nil {
			// Flow-lock rejection: the pool requeues the unit.
			return err
		}
		// Archive with a fresh context: shutdown must not lose a finished
		// receipt.
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := deps.store.SaveRun(saveCtx, rcpt); err != nil {
			logger.Error(runCtx, "archiving receipt failed",
				zap.String("unit", unit.Key()),
				zap.String("run_id", rcpt.RunID),
				zap.Error(err))
		}
		return nil
	}

	pool := worker.New(cfg.Queue.Workers, cfg.Queue.Depth, runUnit, logger.Named("worker").Underlying())
	pool.Start(ctx)

	// Reload the policy on file changes without restarting in-flight runs.
	var watcher *policy.Watcher
	if cfg.Policy.Watch && cfg.Policy.Path != "" {
		watcher, err = policy.NewWatcher(cfg.Policy.Path)
		if err != nil {
			return fmt.Errorf("creating policy watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting policy watcher: %w", err)
		}
		go consumeReloads(ctx, watcher, &current, logger)
	}

	if retention := cfg.Archive.Retention.Duration(); retention > 0 {
		go pruneLoop(ctx, deps.store, retention, logger)
	}

	handler := intake.NewHandler(cfg.GitHub.WebhookSecret.Value(), pool, logger.Named("intake").Underlying())

	srv, err := httpserver.NewServer(httpserver.Deps{
		Archive: deps.store,
		Policy:  current.Load,
		Intake:  handler,
		Pool:    pool,
		Version: version,
	}, logger.Named("http").Underlying(), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	metrics := httpserver.NewHTTPMetrics(logger.Named("metrics").Underlying())
	srv.Echo().Use(metrics.MetricsMiddleware())
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("webhook_endpoint", "/webhook/github"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown: stop intake first, then drain in-flight runs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "worker pool drain incomplete", zap.Error(err))
	}
	if watcher != nil {
		watcher.Stop()
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	return nil
}

// dependencies holds the daemon's infrastructure handles.
type dependencies struct {
	store     *archive.Store
	natsSrv   *natsserver.Server
	natsConn  *nats.Conn
	publisher *events.Publisher
	emit      *emitter.Emitter
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.natsSrv != nil {
		d.natsSrv.Shutdown()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

// initDependencies opens the run archive and connects optional
// infrastructure: the NATS event bus (external or embedded) and the GitHub
// status emitter.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	dbPath := cfg.Archive.Path
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultArchivePath()
		if err != nil {
			return nil, fmt.Errorf("resolving archive path: %w", err)
		}
	}

	store, err := archive.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening run archive at %s: %w", dbPath, err)
	}

	logger.Info(ctx, "run archive opened", zap.String("path", dbPath))

	deps := &dependencies{store: store}

	if cfg.Events.Enabled {
		url := cfg.Events.URL
		if cfg.Events.Embedded {
			srv, err := events.StartEmbedded(cfg.Events.EmbeddedHost, cfg.Events.EmbeddedPort)
			if err != nil {
				deps.Close()
				return nil, err
			}
			deps.natsSrv = srv
			url = srv.ClientURL()
			logger.Info(ctx, "embedded NATS server started", zap.String("url", url))
		}

		nc, err := events.Connect(url, logger.Named("events").Underlying())
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.natsConn = nc
		deps.publisher = events.NewPublisher(nc, logger.Named("events").Underlying())
	}

	if cfg.GitHub.Emit {
		em, err := emitter.NewFromToken(ctx, cfg.GitHub.Token.Value(), logger.Named("emitter").Underlying())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("creating github emitter: %w", err)
		}
		deps.emit = em
	}

	return deps, nil
}

// notifier fans run events out to whichever sinks are configured.
func notifier(deps *dependencies) orchestrator.Notifier {
	var sinks []orchestrator.Notifier
	if deps.publisher != nil {
		sinks = append(sinks, deps.publisher)
	}
	if deps.emit != nil {
		sinks = append(sinks, deps.emit)
	}
	return orchestrator.Notifiers(sinks...)
}

// loadPolicy reads the configured policy document, falling back to the
// built-in default when no path is set.
func loadPolicy(cfg *config.Config) (*policy.Policy, error) {
	if cfg.Policy.Path == "" {
		return policy.DefaultPolicy(), nil
	}
	return policy.Load(cfg.Policy.Path)
}

// consumeReloads applies watcher updates to the active policy. A reloaded
// document that fails the engine version check is rejected; the previous
// policy stays active.
func consumeReloads(ctx context.Context, w *policy.Watcher, current *atomic.Pointer[policy.Policy], logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case pol, ok := <-w.Reloads():
			if !ok {
				return
			}
			if err := pol.CheckEngineVersion(version); err != nil {
				logger.Warn(ctx, "rejecting reloaded policy", zap.Error(err))
				continue
			}
			current.Store(pol)
			logger.Info(ctx, "policy reloaded",
				zap.Int("stages", len(pol.Stages)),
				zap.String("environment", pol.Global.Environment))
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logger.Warn(ctx, "policy reload failed", zap.Error(err))
		}
	}
}

// pruneLoop deletes archived runs older than the retention window, hourly.
func pruneLoop(ctx context.Context, store *archive.Store, retention time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PruneBefore(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn(ctx, "archive prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info(ctx, "archive pruned", zap.Int64("runs", n))
			}
		}
	}
}

// loggingConfig maps daemon configuration onto the logging package.
func loggingConfig(cfg *config.Config) *logging.Config {
	logCfg := logging.NewDefaultConfig()
	if lvl, err := logging.LevelFromString(cfg.Logging.Level); err == nil {
		logCfg.Level = lvl
	}
	logCfg.Format = cfg.Logging.Format
	return logCfg
}

// telemetryConfig maps daemon configuration onto the telemetry package.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.Endpoint = cfg.Telemetry.Endpoint
	telCfg.Protocol = cfg.Telemetry.Protocol
	telCfg.Insecure = cfg.Telemetry.Insecure
	telCfg.Sampling.Rate = cfg.Telemetry.SampleRate
	telCfg.ServiceVersion = version
	return telCfg
}
