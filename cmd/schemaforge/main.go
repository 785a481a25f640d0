package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/schemaforge/schemaforge/internal/auth"
	"github.com/schemaforge/schemaforge/internal/backend"
	"github.com/schemaforge/schemaforge/internal/backend/anthropic"
	"github.com/schemaforge/schemaforge/internal/backend/openai"
	"github.com/schemaforge/schemaforge/internal/breaker"
	"github.com/schemaforge/schemaforge/internal/cache"
	"github.com/schemaforge/schemaforge/internal/config"
	"github.com/schemaforge/schemaforge/internal/engine"
	"github.com/schemaforge/schemaforge/internal/metrics"
	"github.com/schemaforge/schemaforge/internal/records"
	"github.com/schemaforge/schemaforge/internal/resolve"
	"github.com/schemaforge/schemaforge/internal/server"
	"github.com/schemaforge/schemaforge/internal/storage/sqldb"
	"github.com/schemaforge/schemaforge/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.SlogLevel()),
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("schemaforge", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shut down tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := sqldb.New(sqldb.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	cacheStore, err := buildCache(cfg.Cache)
	if err != nil {
		log.Fatalf("Failed to connect cache: %v", err)
	}
	if closer, ok := cacheStore.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if cfg.Backend.APIKey == "" {
		logger.Warn("backend api key is not configured, generation calls will be rejected upstream")
	}

	prom := metrics.NewProm("schemaforge")
	recorder := records.New(store, logger)

	eng := engine.New(engine.Deps{
		Resolver: resolve.New(store),
		Cache:    cacheStore,
		Breaker: breaker.New(
			strings.ToLower(cfg.Backend.Provider),
			cfg.Breaker.Threshold,
			cfg.Breaker.CooldownDuration(),
		),
		Generator: buildGenerator(cfg.Backend),
		Recorder:  recorder,
		Metrics:   prom,
		Logger:    logger,
	})

	healthComponents := map[string]server.Pinger{"storage": store}
	if cacheStore != nil {
		healthComponents["cache"] = cacheStore
	}

	srv := server.New(
		server.Config{
			Port:           cfg.Server.Port,
			RequestTimeout: cfg.Server.RequestTimeoutDuration(),
		},
		server.Deps{
			Authorizer: auth.NewAuthorizer(store, logger),
			Engine:     eng,
			Health:     server.NewHealthHandler(healthComponents),
			Metrics:    prom,
			Logger:     logger,
		},
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("schemaforge started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("cache", cfg.Cache.Backend),
		slog.String("backend", strings.ToLower(cfg.Backend.Provider)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}
	if err := recorder.Flush(shutdownCtx); err != nil {
		logger.Warn("call records still in flight at shutdown", slog.String("error", err.Error()))
	}

	logger.Info("shutdown complete")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildCache picks the response cache backend. "none" disables caching
// entirely; the engine treats a nil store as cache-off.
func buildCache(cfg config.CacheConfig) (cache.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		return cache.NewRedis(cfg.RedisURL)
	case "none":
		return nil, nil
	default:
		return cache.NewMemory(), nil
	}
}

// buildGenerator picks the generation backend by provider name.
func buildGenerator(cfg config.BackendConfig) backend.Generator {
	timeout := cfg.TimeoutDuration()
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		opts := []anthropic.ClientOption{anthropic.WithTimeout(timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewClient(cfg.APIKey, opts...)
	default:
		opts := []openai.ClientOption{openai.WithTimeout(timeout)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.NewClient(cfg.APIKey, opts...)
	}
}
