// Nebula orchestrator server — turns natural-language missions into
// synthesized answers by running a Bayesian swarm of LLM agents.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warrenet/nebula/pkg/api"
	"github.com/warrenet/nebula/pkg/bus"
	"github.com/warrenet/nebula/pkg/config"
	"github.com/warrenet/nebula/pkg/llm"
	"github.com/warrenet/nebula/pkg/metrics"
	"github.com/warrenet/nebula/pkg/store"
	"github.com/warrenet/nebula/pkg/swarm"
)

// shutdownTimeout bounds graceful HTTP shutdown on SIGINT/SIGTERM.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using process environment")
	}

	setupLogging()
	slog.Info("Starting nebula", "version", config.Version())

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	slog.Info("Configuration loaded", "models", stats.Models, "trace_dir", stats.TraceDir)

	client, err := llm.NewClient(cfg)
	if err != nil {
		slog.Error("Failed to initialize upstream client", "error", err)
		os.Exit(1)
	}

	traces := store.New(cfg.TraceDir)
	events := bus.New()
	reg := metrics.New()
	engine := swarm.New(cfg, client, traces, events, reg)

	server := api.NewServer(cfg, engine, traces, events, reg)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		errCh <- server.Start(":" + cfg.HTTPPort)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// setupLogging configures the default slog logger from LOG_LEVEL.
func setupLogging() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
