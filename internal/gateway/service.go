package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"chat-gateway/internal/adapter"
	"chat-gateway/internal/config"
	"chat-gateway/internal/cors"
	apierrors "chat-gateway/internal/errors"
	"chat-gateway/internal/models"
	"chat-gateway/internal/telemetry"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"

	// upstream error bodies are drained, never relayed
	maxDrainBytes = 64 << 10
)

type Service struct {
	cfg         *config.Config
	adapter     adapter.Adapter
	cors        *cors.Policy
	client      *http.Client
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	upstreamURL string
}

type Option func(*Service)

// WithHTTPClient replaces the upstream client. Tests use it to inject
// recorded transports.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func NewService(cfg *config.Config, ad adapter.Adapter, logger *slog.Logger, opts ...Option) (*Service, error) {
	policy, err := cors.New(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		DefaultOrigin:  cfg.CORS.DefaultOrigin,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		MaxAge:         cfg.CORS.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("cors policy: %w", err)
	}

	upstreamURL, err := ad.BuildUpstreamURL(cfg.Upstream.APIBase)
	if err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}

	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Tracing.Enabled {
		transport = otelhttp.NewTransport(transport)
	}

	s := &Service{
		cfg:         cfg,
		adapter:     ad,
		cors:        policy,
		client:      &http.Client{Transport: transport, Timeout: cfg.Upstream.Timeout},
		logger:      logger,
		upstreamURL: upstreamURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleChat serves the chat route for every method. CORS headers go on
// first so that preflight, 405, upstream and internal failures are all
// readable by the browser.
func (s *Service) HandleChat(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	s.cors.Apply(w.Header(), origin)
	if origin != "" && !s.cors.Allowed(origin) {
		s.logger.Warn("origin not in allow list", "origin", origin, "request_id", RequestIDFromContext(r.Context()))
	}

	switch r.Method {
	case http.MethodOptions:
		s.metrics.RecordOutcome(telemetry.OutcomePreflight)
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		s.metrics.RecordOutcome(telemetry.OutcomeMethodNotAllowed)
		apierrors.WriteMethodNotAllowed(w, cors.AllowedMethods)
		return
	}

	s.forward(w, r)
}

func (s *Service) forward(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		s.internalError(w, fmt.Errorf("read request body: %w", err), requestID)
		return
	}

	var req models.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.internalError(w, fmt.Errorf("invalid JSON body: %w", err), requestID)
		return
	}
	if !req.HasMessages() {
		s.internalError(w, models.ErrMissingMessages, requestID)
		return
	}
	if s.cfg.StrictMessages {
		if err := models.ValidateMessages(req.Messages); err != nil {
			s.metrics.RecordOutcome(telemetry.OutcomeInvalid)
			apierrors.WriteInvalid(w, err.Error())
			return
		}
	}

	upstreamBody, err := s.adapter.BuildRequestBody(s.cfg.Upstream, s.cfg.SystemPrompt, req.Messages)
	if err != nil {
		s.internalError(w, err, requestID)
		return
	}

	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, s.upstreamURL, bytes.NewReader(upstreamBody))
	if err != nil {
		s.internalError(w, fmt.Errorf("build upstream request: %w", err), requestID)
		return
	}
	s.adapter.ApplyHeaders(upReq.Header, s.cfg.Upstream)

	start := time.Now()
	resp, err := s.client.Do(upReq)
	if err != nil {
		s.metrics.ObserveUpstream(0, time.Since(start))
		s.logger.Error("upstream request failed",
			"error", s.adapter.Scrub(err.Error(), s.cfg.Upstream),
			"timeout", isTimeout(err),
			"request_id", requestID,
		)
		s.internalError(w, err, requestID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		s.metrics.ObserveUpstream(resp.StatusCode, time.Since(start))
		s.metrics.RecordOutcome(telemetry.OutcomeUpstreamError)
		s.logger.Warn("upstream returned error status", "status", resp.StatusCode, "request_id", requestID)
		apierrors.WriteUpstream(w, resp.StatusCode)
		return
	}

	respBody, err := io.ReadAll(resp.Body)
	s.metrics.ObserveUpstream(resp.StatusCode, time.Since(start))
	if err != nil {
		s.internalError(w, fmt.Errorf("read upstream response: %w", err), requestID)
		return
	}
	if !json.Valid(respBody) {
		s.internalError(w, errors.New("upstream response is not valid JSON"), requestID)
		return
	}

	s.metrics.RecordOutcome(telemetry.OutcomeSuccess)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

// internalError is the catch-all 500 path. The message goes to the client,
// so the credential is scrubbed first.
func (s *Service) internalError(w http.ResponseWriter, err error, requestID string) {
	s.metrics.RecordOutcome(telemetry.OutcomeInternalError)
	message := s.adapter.Scrub(err.Error(), s.cfg.Upstream)
	s.logger.Error("chat request failed", "error", message, "request_id", requestID)
	apierrors.WriteInternal(w, message)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func RequestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return s
	}
	return ""
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
