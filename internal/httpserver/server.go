package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chat-gateway/internal/config"
	apierrors "chat-gateway/internal/errors"
	"chat-gateway/internal/gateway"
	"chat-gateway/internal/telemetry"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, service *gateway.Service, metrics *telemetry.Metrics) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Listen,
			Handler:           NewHandler(cfg, logger, service, metrics),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewHandler builds the full route tree. metrics may be nil.
func NewHandler(cfg *config.Config, logger *slog.Logger, service *gateway.Service, metrics *telemetry.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(withLogging(logger))
	r.Use(middleware.Recoverer)
	if cfg.Tracing.Enabled {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "chat-gateway")
		})
	}

	// chi answers methods outside its own table before any route runs, so
	// the chat route also claims the router's 405 and keeps its CORS headers.
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == cfg.Route {
			service.HandleChat(w, req)
			return
		}
		apierrors.WriteMethodNotAllowed(w, "")
	})

	r.Get("/healthz", healthzHandler)
	// every method reaches the handler; it owns the 405 so CORS stays attached
	r.HandleFunc(cfg.Route, service.HandleChat)
	if cfg.Metrics.Enabled && metrics != nil {
		r.Method(http.MethodGet, cfg.Metrics.Path, metrics.Handler())
	}
	return r
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := gateway.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func withLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			logger.Info(
				"http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", gateway.RequestIDFromContext(r.Context()),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
