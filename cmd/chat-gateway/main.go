package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chat-gateway/internal/adapter"
	"chat-gateway/internal/config"
	"chat-gateway/internal/gateway"
	"chat-gateway/internal/httpserver"
	"chat-gateway/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	err := run(os.Args[1:], logger)
	if err == nil {
		return
	}

	logger.Error("command failed", "error", err)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	os.Exit(1)
}

func run(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("chat-gateway", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("c", "", "path to yaml config file (environment only when empty)")
	envFile := fs.String("env", ".env", "dotenv file loaded before reading configuration")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse args: %w", err)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(*cfgPath) == "" {
		cfg, err = config.FromEnv()
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded", "config", cfg)

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Enabled {
		metrics = telemetry.NewMetrics()
	}

	service, err := gateway.NewService(cfg, adapter.NewAnthropicAdapter(), logger, gateway.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	server := httpserver.New(cfg, logger, service, metrics)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "listen", cfg.Listen, "route", cfg.Route)
		errCh <- server.ListenAndServe()
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server exited unexpectedly: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
