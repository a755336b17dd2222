// Package main provides the entry point for the Culinara generation API service
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/culinara/v2/internal/application/generation"
	"github.com/culinara/v2/internal/infrastructure/cache"
	"github.com/culinara/v2/internal/infrastructure/config"
	"github.com/culinara/v2/internal/infrastructure/http/apiserver"
	"github.com/culinara/v2/internal/infrastructure/llm/ollama"
	"github.com/culinara/v2/internal/infrastructure/llm/openai"
	"github.com/culinara/v2/internal/infrastructure/monitoring"
	"github.com/culinara/v2/internal/ports/outbound"
	"github.com/culinara/v2/internal/streaming"
	"github.com/culinara/v2/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CULINARA_CONFIG"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		Development: cfg.App.Debug,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("Starting Culinara generation service",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment))

	metrics := monitoring.NewMetricsCollector(log)

	// Snapshot cache is optional; the service degrades to provider-only mode
	// without it.
	var snapshots outbound.SnapshotCache
	if cfg.Redis.Enable && cfg.AI.EnableCache {
		redisCache, err := cache.NewSnapshotCache(cfg.Redis, log)
		if err != nil {
			log.Warn("snapshot cache unavailable, continuing without replay", zap.Error(err))
		} else {
			defer redisCache.Close() //nolint:errcheck
			snapshots = redisCache
		}
	}

	service := generation.NewService(
		buildProviders(cfg, log),
		snapshots,
		generation.Options{
			MaxRetries: cfg.Stream.MaxRetries,
			CacheTTL:   cfg.AI.CacheTTL,
		},
		log,
	)

	engine := streaming.NewEngine(streaming.DefaultRegistry(), log)
	dispatcher := streaming.NewDispatcher(engine, streaming.Config{
		ParseInterval: cfg.Stream.ParseIntervalChunks,
		Timeout:       cfg.Stream.RequestTimeout,
	}, metrics, log)

	server := apiserver.NewAPIServer(cfg, log, service, dispatcher, metrics)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("Server stopped cleanly")
	return nil
}

// buildProviders orders the provider chain with the configured primary first.
func buildProviders(cfg *config.Config, log *zap.Logger) []outbound.ChunkProvider {
	ollamaClient := ollama.NewClient(cfg.AI, log)
	openaiClient := openai.NewClient(cfg.AI, log)

	if cfg.AI.Provider == "openai" {
		return []outbound.ChunkProvider{openaiClient, ollamaClient}
	}
	return []outbound.ChunkProvider{ollamaClient, openaiClient}
}
