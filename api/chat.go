// Package handler is the Vercel Go-runtime entrypoint for the chat route.
// Configuration comes from the project's environment variables and is built
// once per function instance.
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"chat-gateway/internal/adapter"
	"chat-gateway/internal/config"
	"chat-gateway/internal/cors"
	apierrors "chat-gateway/internal/errors"
	"chat-gateway/internal/gateway"
	"chat-gateway/internal/httpserver"
	"chat-gateway/internal/telemetry"
)

var (
	once       sync.Once
	chatRouter http.Handler
	initErr    error
	// answers browsers when initErr is set
	fallbackCORS *cors.Policy
)

func setup() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.FromEnv()
	if err != nil {
		fail(logger, fmt.Errorf("load config: %w", err))
		return
	}

	if cfg.Tracing.Enabled {
		// Instances are frozen without a shutdown hook, so the provider is
		// never stopped; spans are flushed by the batcher while warm.
		if _, err := telemetry.InitTracer(cfg.Tracing.ServiceName, os.Stdout, logger); err != nil {
			fail(logger, fmt.Errorf("init tracer: %w", err))
			return
		}
	}

	service, err := gateway.NewService(cfg, adapter.NewAnthropicAdapter(), logger)
	if err != nil {
		fail(logger, fmt.Errorf("build gateway: %w", err))
		return
	}

	// Vercel rewrites keep the original path; serve the configured route and
	// any path the platform routes here.
	routes := httpserver.NewHandler(cfg, logger, service, nil)
	chatRouter = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != cfg.Route && r.URL.Path != "/healthz" {
			r.URL.Path = cfg.Route
			r.URL.RawPath = ""
		}
		routes.ServeHTTP(w, r)
	})
}

func fail(logger *slog.Logger, err error) {
	initErr = err
	logger.Error("chat function misconfigured", "error", err)

	c := config.CORSFromEnv()
	policy, perr := cors.New(cors.Options{
		AllowedOrigins: c.AllowedOrigins,
		DefaultOrigin:  c.DefaultOrigin,
		AllowedHeaders: c.AllowedHeaders,
		MaxAge:         c.MaxAge,
	})
	if perr != nil {
		logger.Error("fallback cors policy", "error", perr)
		return
	}
	fallbackCORS = policy
}

// Handler is the entry point for Vercel's Go runtime.
func Handler(w http.ResponseWriter, r *http.Request) {
	once.Do(setup)
	if initErr != nil {
		serveMisconfigured(w, r)
		return
	}
	chatRouter.ServeHTTP(w, r)
}

func serveMisconfigured(w http.ResponseWriter, r *http.Request) {
	if fallbackCORS != nil {
		fallbackCORS.Apply(w.Header(), r.Header.Get("Origin"))
	}
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		apierrors.WriteMethodNotAllowed(w, cors.AllowedMethods)
		return
	}
	apierrors.WriteInternal(w, "gateway is not configured")
}
