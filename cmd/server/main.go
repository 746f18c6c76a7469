package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stepflow-hq/stepflow/internal/api"
	"github.com/stepflow-hq/stepflow/internal/browser"
	"github.com/stepflow-hq/stepflow/internal/config"
	"github.com/stepflow-hq/stepflow/internal/domain"
	"github.com/stepflow-hq/stepflow/internal/executor"
	"github.com/stepflow-hq/stepflow/internal/healing"
	"github.com/stepflow-hq/stepflow/internal/llm"
	"github.com/stepflow-hq/stepflow/internal/observability"
	"github.com/stepflow-hq/stepflow/internal/report"
	"github.com/stepflow-hq/stepflow/internal/repository/postgres"
	rediscache "github.com/stepflow-hq/stepflow/internal/repository/redis"
	"github.com/stepflow-hq/stepflow/internal/selector"
	"github.com/stepflow-hq/stepflow/internal/storage"
	"github.com/stepflow-hq/stepflow/internal/vision"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting stepflow server",
		zap.String("version", cfg.App.Version),
		zap.String("environment", string(cfg.Env)),
	)

	// Test case and result stores. Files are the default; PostgreSQL takes
	// over when enabled.
	var tests domain.TestCaseRepository = storage.NewFileStore(cfg.Artifacts.OutputDir)
	var results domain.ExecutionResultRepository = storage.NewFileResultStore(cfg.Artifacts.OutputDir)
	var checks []api.HealthCheck

	if cfg.Database.Enabled {
		db, err := postgres.New(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to apply database schema", zap.Error(err))
		}
		repos := postgres.NewRepositories(db.DB)
		tests = repos.TestCases
		results = repos.Runs
		checks = append(checks, api.HealthCheck{Name: "database", Check: db.Health})
		logger.Info("Connected to PostgreSQL",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
		)
	}

	// Redis mirrors run status and carries healing hints across runs.
	var cache *rediscache.Cache
	var hints healing.HintStore = healing.NewMemoryHintStore()
	if cfg.Redis.Enabled {
		cache, err = rediscache.New(cfg.Redis)
		if err != nil {
			logger.Warn("Failed to connect to Redis, caching disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
			hints = rediscache.NewHintStore(cache)
			checks = append(checks, api.HealthCheck{Name: "redis", Check: cache.Health})
			logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	// Object storage mirrors evidence, results and reports.
	var archive *storage.MinIOStore
	if cfg.Storage.Enabled {
		archive, err = storage.NewMinIOStore(cfg.Storage)
		if err != nil {
			logger.Warn("Failed to connect to object storage, archiving disabled", zap.Error(err))
			archive = nil
		} else if err := archive.EnsureBucket(context.Background()); err != nil {
			logger.Warn("Failed to ensure storage bucket, archiving disabled", zap.Error(err))
			archive = nil
		} else {
			logger.Info("Connected to object storage",
				zap.String("endpoint", cfg.Storage.Endpoint),
				zap.String("bucket", cfg.Storage.Bucket),
			)
		}
	}

	claude, err := llm.NewClaudeClient(llm.FromConfig(cfg.Claude))
	if err != nil {
		logger.Fatal("Failed to create Claude client", zap.Error(err))
	}
	checks = append(checks, api.HealthCheck{Name: "claude", Check: func(ctx context.Context) error {
		if !claude.IsHealthy() {
			return errors.New("circuit breaker open")
		}
		return nil
	}})

	launcher, err := browser.NewLauncher(cfg.Browser)
	if err != nil {
		logger.Fatal("Failed to launch browser", zap.Error(err))
	}
	defer launcher.Close()
	logger.Info("Browser ready",
		zap.String("browser", cfg.Browser.Name),
		zap.Bool("headless", cfg.Browser.Headless),
	)

	// Replay pipeline shared by every queued run.
	synth := selector.NewSynthesizer(cfg.Selector)
	resolver := healing.NewResolver(cfg.Healing, cfg.Executor.ActionTimeout, synth, hints, logger)
	baselines := vision.NewBaselineStore(cfg.Artifacts.BaselineDir)
	exec := executor.New(cfg.Executor, cfg.Artifacts, executor.Deps{
		Resolver:   resolver,
		Verifier:   vision.NewVerifier(claude, cfg.Vision, logger),
		Comparer:   vision.NewComparer(baselines, claude, cfg.Vision, cfg.Artifacts.OutputDir, logger),
		Classifier: selector.NewClassifier(cfg.Selector),
		Viewport:   fmt.Sprintf("%dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight),
		Logger:     logger,
	})

	// Each run owns a fresh session, released on every exit path. The
	// runner's single worker keeps sessions from overlapping.
	execute := func(ctx context.Context, tc *domain.TestCase) (*domain.ExecutionResult, error) {
		drv, err := launcher.NewSession(browser.SessionOptions{
			ActionTimeout:     cfg.Executor.ActionTimeout,
			NavigationTimeout: cfg.Executor.NavigationTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening browser session: %w", err)
		}
		defer drv.Close()
		return exec.Run(ctx, drv, tc)
	}

	metrics := observability.NewMetrics("")
	metrics.RegisterLLMUsage("", claude.GetMetrics)

	renderer, err := report.NewRenderer()
	if err != nil {
		logger.Fatal("Failed to parse report template", zap.Error(err))
	}

	var statusCache api.StatusCache
	var archiver api.Archiver
	if cache != nil {
		statusCache = cache
	}
	if archive != nil {
		archiver = archive
	}

	runner := api.NewRunner(api.RunnerConfig{
		Execute:   execute,
		Results:   results,
		Cache:     statusCache,
		Archiver:  archiver,
		Metrics:   metrics,
		Renderer:  renderer,
		OutputDir: cfg.Artifacts.OutputDir,
		QueueSize: cfg.Server.RunQueueSize,
		Logger:    logger,
	})
	runnerCtx, stopRunner := context.WithCancel(context.Background())
	defer stopRunner()
	runner.Start(runnerCtx)

	router := api.NewRouter(api.RouterConfig{
		Tests:              tests,
		Results:            results,
		Runner:             runner,
		Metrics:            metrics,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		MaxRequestSize:     cfg.Server.MaxRequestSize,
		HealthChecks:       checks,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatal("Server error", zap.Error(err))

	case sig := <-shutdown:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed, forcing close", zap.Error(err))
			server.Close()
		}

		// Stop the worker and wait until it releases the browser session.
		// An in-flight run is cancelled at its next step boundary and its
		// result still gets saved.
		stopRunner()
		runner.Wait()

		logger.Info("Server stopped gracefully")
	}
}

// initLogger builds the server logger from the configured environment and
// level.
func initLogger(cfg *config.Config) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.GetLogLevel() {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
