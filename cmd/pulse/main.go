// Package main is the entry point for the Pulse workflow engine server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atelierops/pulse/internal/activity"
	"github.com/atelierops/pulse/internal/assign"
	"github.com/atelierops/pulse/internal/clock"
	"github.com/atelierops/pulse/internal/config"
	"github.com/atelierops/pulse/internal/engine"
	"github.com/atelierops/pulse/internal/nudge"
	"github.com/atelierops/pulse/internal/observability"
	"github.com/atelierops/pulse/internal/schedule"
	"github.com/atelierops/pulse/internal/template"
	"github.com/atelierops/pulse/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "pulse", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load templates, validate, build registry.
	loader := template.NewLoader()
	tpls, err := loader.LoadAll(cfg.Templates.Directories)
	if err != nil {
		logger.Error("template loading failed", zap.Error(err))
		return 1
	}

	validator := template.NewValidator()
	verrs := validator.Validate(tpls)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("template validation error", zap.String("error", ve.Error()))
		}
		logger.Error("template validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := template.NewRegistry(tpls)
	metrics.SetTemplatesLoaded(float64(registry.Len()))

	// Step 5: Initialize stores.
	stores, storeCloser, err := buildStores(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Load the people directory.
	dir := assign.NewMemoryDirectory()
	if cfg.Directory.SeedFile != "" {
		if err := dir.LoadSeed(cfg.Directory.SeedFile); err != nil {
			logger.Error("directory seed failed", zap.Error(err))
			return 1
		}
	}

	// Step 7: Wire the engine and nudge pipeline.
	clk := clock.System{}
	acts := activity.NewLogger(stores.activities, clk, logger)
	scheduler := nudge.NewScheduler(stores.nudges, dir, clk, logger, metrics)
	dispatcher := nudge.NewDispatcher(
		stores.nudges,
		nudge.NewLogNotifier(logger),
		acts,
		clk,
		logger,
		metrics,
		cfg.Nudges.BatchSize,
	)

	calc := schedule.NewCalculator(clk)
	calc.SetHorizonDays(cfg.Engine.DefaultHorizonDays)

	eng := engine.NewEngine(
		registry,
		stores.instances,
		calc,
		assign.NewAssigner(dir, clk),
		scheduler,
		acts,
		clk,
		logger,
		metrics,
	)

	// Step 8: Build HTTP router.
	readinessChecks := observability.ReadinessChecks{
		TemplatesLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := stores.instances.(observability.HealthChecker); ok {
		readinessChecks.InstanceStore = hc
	}
	if hc, ok := stores.nudges.(observability.HealthChecker); ok {
		readinessChecks.NudgeStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:     cfg,
		Engine:     eng,
		Dispatcher: dispatcher,
		Registry:   registry,
		Activities: acts,
		Metrics:    metrics,
		Log:        logger,
		Checks:     readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start the nudge sweep loop.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go dispatcher.Run(bgCtx, cfg.Nudges.SweepInterval)

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("templates", registry.Len()),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// stores bundles the per-concern persistence adapters, all backed by the
// same driver.
type stores struct {
	instances  engine.Store
	nudges     nudge.Store
	activities activity.Store
}

// buildStores creates the persistence adapters based on config. The
// returned closer releases the shared connection pool, if any.
func buildStores(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (stores, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory stores")
		return stores{
			instances:  engine.NewMemoryStore(),
			nudges:     nudge.NewMemoryStore(),
			activities: activity.NewMemoryStore(),
		}, nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return stores{}, nil, fmt.Errorf("store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return stores{}, nil, fmt.Errorf("store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return stores{}, nil, fmt.Errorf("store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return stores{}, nil, fmt.Errorf("store: ping: %w", err)
		}

		return stores{
			instances:  engine.NewPgStore(pool),
			nudges:     nudge.NewPgStore(pool),
			activities: activity.NewPgStore(pool),
		}, pool.Close, nil
	default:
		return stores{}, nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
