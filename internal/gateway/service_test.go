package gateway_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chat-gateway/internal/adapter"
	"chat-gateway/internal/config"
	"chat-gateway/internal/gateway"
	"chat-gateway/internal/testutil"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func testConfig(apiBase string) *config.Config {
	cfg := &config.Config{
		Route:        "/api/chat",
		MaxBodyBytes: 1 << 20,
		SystemPrompt: "support docs",
		Upstream: config.UpstreamParams{
			APIBase:    apiBase,
			APIKey:     "sk-ant-test",
			AuthType:   config.AuthTypeXAPIKey,
			APIVersion: "2023-06-01",
			Model:      "claude-sonnet-4-20250514",
			MaxTokens:  1024,
		},
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"https://aicommunityhub.com", "http://localhost:3000"},
			DefaultOrigin:  "https://aicommunityhub.com",
		},
	}
	return cfg
}

func newService(t *testing.T, cfg *config.Config, client *http.Client) *gateway.Service {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var opts []gateway.Option
	if client != nil {
		opts = append(opts, gateway.WithHTTPClient(client))
	}
	svc, err := gateway.NewService(cfg, adapter.NewAnthropicAdapter(), logger, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func post(svc *gateway.Service, origin, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	svc.HandleChat(rec, req)
	return rec
}

func TestRecordedUpstreamSuccessIsRelayedVerbatim(t *testing.T) {
	r := testutil.NewVCRRecorder(t, "anthropic_messages")
	svc := newService(t, testConfig("https://api.anthropic.com"), testutil.VCRHTTPClient(r))

	rec := post(svc, "http://localhost:3000", `{"messages":[{"role":"user","content":"How do I enroll my browser?"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("body should be json: %v", err)
	}
	if payload["id"] != "msg_01XFDUDYJgAACzvnptvVoYEL" || payload["stop_reason"] != "end_turn" {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow-origin = %q", got)
	}
	if got := rec.Header().Get("Request-Id"); got != "" {
		t.Fatalf("upstream headers must not be relayed, got request-id %q", got)
	}
}

func TestRecordedUpstreamOverloadIsMirrored(t *testing.T) {
	r := testutil.NewVCRRecorder(t, "anthropic_messages")
	svc := newService(t, testConfig("https://overloaded.anthropic.test"), testutil.VCRHTTPClient(r))

	rec := post(svc, "https://evil.example.com", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != 529 {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != `{"error":"Upstream API error: 529"}` {
		t.Fatalf("body = %s", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://aicommunityhub.com" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestInjectedNetworkFailureReturns500(t *testing.T) {
	var calls int
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection reset by peer (key sk-ant-test)")
	})}
	svc := newService(t, testConfig("https://api.anthropic.com"), client)

	rec := post(svc, "", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if calls != 1 {
		t.Fatalf("upstream calls = %d, want exactly one (no retry)", calls)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("body should be json: %v", err)
	}
	if payload["error"] != "Internal server error" {
		t.Fatalf("error = %q", payload["error"])
	}
	if !strings.Contains(payload["message"], "connection reset by peer") {
		t.Fatalf("message = %q", payload["message"])
	}
	if strings.Contains(rec.Body.String(), "sk-ant-test") {
		t.Fatalf("credential leaked: %s", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://aicommunityhub.com" {
		t.Fatalf("allow-origin = %q", got)
	}
}

func TestUpstreamRequestShape(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		captured = r
		capturedBody, _ = io.ReadAll(r.Body)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"id":"msg_2"}`)),
			Request:    r,
		}, nil
	})}
	cfg := testConfig("https://api.anthropic.com")
	cfg.Upstream.AuthType = config.AuthTypeBearer
	svc := newService(t, cfg, client)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Authorization", "Bearer browser-token")
	req.Header.Set("Cookie", "session=1")
	rec := httptest.NewRecorder()
	svc.HandleChat(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != `{"id":"msg_2"}` {
		t.Fatalf("response = %d %s", rec.Code, rec.Body.String())
	}
	if captured.URL.String() != "https://api.anthropic.com/v1/messages" || captured.Method != http.MethodPost {
		t.Fatalf("upstream = %s %s", captured.Method, captured.URL)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer sk-ant-test" {
		t.Fatalf("authorization = %q", got)
	}
	if got := captured.Header.Get("Cookie"); got != "" {
		t.Fatalf("inbound cookie forwarded: %q", got)
	}
	want := `{"model":"claude-sonnet-4-20250514","max_tokens":1024,"system":"support docs","messages":[{"role":"user","content":"hi"}]}`
	if string(capturedBody) != want {
		t.Fatalf("upstream body = %s", capturedBody)
	}
}

func TestNon200SuccessIsRelayedAs200(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusCreated,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(`{"id":"msg_3"}`)),
			Request:    r,
		}, nil
	})}
	svc := newService(t, testConfig("https://api.anthropic.com"), client)

	rec := post(svc, "", `{"messages":[]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPreflightAndMethodGateWithoutMetrics(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("upstream must not be called")
		return nil, nil
	})}
	svc := newService(t, testConfig("https://api.anthropic.com"), client)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	svc.HandleChat(rec, req)
	if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
		t.Fatalf("preflight = %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec = httptest.NewRecorder()
	svc.HandleChat(rec, req)
	if rec.Code != http.StatusMethodNotAllowed || rec.Body.String() != `{"error":"Method not allowed"}` {
		t.Fatalf("get = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Fatalf("cors headers missing on 405")
	}
}

func TestNewServiceRejectsWildcardDefaultOrigin(t *testing.T) {
	cfg := testConfig("https://api.anthropic.com")
	cfg.CORS.DefaultOrigin = "*"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := gateway.NewService(cfg, adapter.NewAnthropicAdapter(), logger); err == nil {
		t.Fatalf("expected error for wildcard default origin")
	}
}
