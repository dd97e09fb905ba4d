package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chat-gateway/internal/prompt"
)

const (
	defaultListen       = ":4000"
	defaultRoute        = "/api/chat"
	defaultMaxBodyBytes = 1 << 20
	defaultAPIBase      = "https://api.anthropic.com"
	defaultAPIVersion   = "2023-06-01"
	defaultModel        = "claude-sonnet-4-20250514"
	defaultMaxTokens    = 1024
	defaultOrigin       = "https://aicommunityhub.com"
	defaultMaxAge       = 86400
	defaultMetricsPath  = "/metrics"

	AuthTypeXAPIKey = "x-api-key"
	AuthTypeBearer  = "bearer"
)

var (
	defaultAllowedOrigins = []string{
		"https://aicommunityhub.com",
		"https://www.aicommunityhub.com",
		"http://localhost:3000",
	}
	defaultAllowedHeaders = []string{"Content-Type", "Authorization"}
)

type Config struct {
	Listen           string         `yaml:"listen"`
	Route            string         `yaml:"route"`
	MaxBodyBytes     int64          `yaml:"max_body_bytes"`
	StrictMessages   bool           `yaml:"strict_messages"`
	Upstream         UpstreamParams `yaml:"upstream"`
	CORS             CORSConfig     `yaml:"cors"`
	SystemPrompt     string         `yaml:"system_prompt"`
	SystemPromptFile string         `yaml:"system_prompt_file"`
	Tracing          TracingConfig  `yaml:"tracing"`
	Metrics          MetricsConfig  `yaml:"metrics"`
}

type UpstreamParams struct {
	APIBase    string        `yaml:"api_base"`
	APIKey     string        `yaml:"api_key"`
	AuthType   string        `yaml:"auth_type"`
	APIVersion string        `yaml:"api_version"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	DefaultOrigin  string   `yaml:"default_origin"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(content))
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	return finish(cfg)
}

// FromEnv builds a Config from process environment only. Serverless
// deployments have no config file; the secret and origin list come from the
// platform's environment settings.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Listen:           os.Getenv("LISTEN"),
		Route:            os.Getenv("CHAT_ROUTE"),
		SystemPromptFile: os.Getenv("SYSTEM_PROMPT_FILE"),
		Upstream: UpstreamParams{
			APIBase:    os.Getenv("ANTHROPIC_API_BASE"),
			APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
			AuthType:   os.Getenv("ANTHROPIC_AUTH_TYPE"),
			APIVersion: os.Getenv("ANTHROPIC_VERSION"),
			Model:      os.Getenv("ANTHROPIC_MODEL"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
			DefaultOrigin:  os.Getenv("DEFAULT_ORIGIN"),
			AllowedHeaders: splitList(os.Getenv("ALLOWED_HEADERS")),
		},
	}

	var err error
	if cfg.Upstream.MaxTokens, err = envInt("ANTHROPIC_MAX_TOKENS"); err != nil {
		return nil, err
	}
	if cfg.CORS.MaxAge, err = envInt("CORS_MAX_AGE"); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(os.Getenv("UPSTREAM_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("UPSTREAM_TIMEOUT: %w", err)
		}
		cfg.Upstream.Timeout = d
	}
	cfg.StrictMessages = envBool("STRICT_MESSAGES")
	cfg.Tracing.Enabled = envBool("TRACING_ENABLED")
	cfg.Metrics.Enabled = envBool("METRICS_ENABLED")

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyDefaults()
	if err := cfg.resolvePrompt(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = defaultListen
	}
	if strings.TrimSpace(c.Route) == "" {
		c.Route = defaultRoute
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}

	up := &c.Upstream
	if strings.TrimSpace(up.APIBase) == "" {
		up.APIBase = defaultAPIBase
	}
	if strings.TrimSpace(up.AuthType) == "" {
		up.AuthType = AuthTypeXAPIKey
	}
	if strings.TrimSpace(up.APIVersion) == "" {
		up.APIVersion = defaultAPIVersion
	}
	if strings.TrimSpace(up.Model) == "" {
		up.Model = defaultModel
	}
	if up.MaxTokens == 0 {
		up.MaxTokens = defaultMaxTokens
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = append([]string(nil), defaultAllowedOrigins...)
	}
	if strings.TrimSpace(c.CORS.DefaultOrigin) == "" {
		c.CORS.DefaultOrigin = defaultOrigin
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = append([]string(nil), defaultAllowedHeaders...)
	}
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = defaultMaxAge
	}

	if strings.TrimSpace(c.Tracing.ServiceName) == "" {
		c.Tracing.ServiceName = "chat-gateway"
	}
	if strings.TrimSpace(c.Metrics.Path) == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

func (c *Config) resolvePrompt() error {
	if strings.TrimSpace(c.SystemPrompt) != "" {
		return nil
	}
	if path := strings.TrimSpace(c.SystemPromptFile); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read system_prompt_file: %w", err)
		}
		c.SystemPrompt = string(content)
		return nil
	}
	c.SystemPrompt = prompt.Default()
	return nil
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Route, "/") {
		return fmt.Errorf("route must start with /: %s", c.Route)
	}
	if c.Metrics.Enabled && c.Metrics.Path == c.Route {
		return fmt.Errorf("metrics.path must differ from route")
	}

	up := &c.Upstream
	u, err := url.Parse(up.APIBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.api_base is invalid: %s", up.APIBase)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.api_base must use http/https")
	}
	if strings.TrimSpace(up.APIKey) == "" {
		return fmt.Errorf("upstream.api_key is required")
	}
	authType := strings.ToLower(strings.TrimSpace(up.AuthType))
	switch authType {
	case AuthTypeXAPIKey, AuthTypeBearer:
	default:
		return fmt.Errorf("upstream.auth_type must be x-api-key or bearer")
	}
	up.AuthType = authType
	if up.MaxTokens < 0 {
		return fmt.Errorf("upstream.max_tokens must be positive")
	}
	if up.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must not be negative")
	}

	if err := c.CORS.validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.SystemPrompt) == "" {
		return fmt.Errorf("system prompt is empty")
	}
	return nil
}

func (c CORSConfig) validate() error {
	if err := validateOrigin(c.DefaultOrigin); err != nil {
		return fmt.Errorf("cors.default_origin: %w", err)
	}
	for i, origin := range c.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			return fmt.Errorf("cors.allowed_origins[%d]: %w", i, err)
		}
	}
	if c.MaxAge < 0 {
		return fmt.Errorf("cors.max_age must not be negative")
	}
	return nil
}

// CORSFromEnv resolves only the CORS settings. It never fails: values that
// would not validate are replaced by the built-in policy, so a deployment
// whose other settings are broken still answers browsers readably.
func CORSFromEnv() CORSConfig {
	c := &Config{
		CORS: CORSConfig{
			AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
			DefaultOrigin:  os.Getenv("DEFAULT_ORIGIN"),
			AllowedHeaders: splitList(os.Getenv("ALLOWED_HEADERS")),
		},
	}
	c.CORS.MaxAge, _ = envInt("CORS_MAX_AGE")
	c.applyDefaults()
	if c.CORS.validate() == nil {
		return c.CORS
	}

	fallback := &Config{}
	fallback.applyDefaults()
	return fallback.CORS
}

// LogValue keeps the upstream credential and the prompt body out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("listen", c.Listen),
		slog.String("route", c.Route),
		slog.String("api_base", c.Upstream.APIBase),
		slog.String("model", c.Upstream.Model),
		slog.Int("max_tokens", c.Upstream.MaxTokens),
		slog.Any("allowed_origins", c.CORS.AllowedOrigins),
		slog.String("default_origin", c.CORS.DefaultOrigin),
		slog.Int("system_prompt_bytes", len(c.SystemPrompt)),
		slog.Bool("strict_messages", c.StrictMessages),
		slog.Bool("tracing", c.Tracing.Enabled),
		slog.Bool("metrics", c.Metrics.Enabled),
	)
}

func validateOrigin(origin string) error {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return fmt.Errorf("origin is empty")
	}
	if strings.Contains(origin, "*") {
		return fmt.Errorf("wildcard origins are not allowed: %s", origin)
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid origin: %s", origin)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must use http/https: %s", origin)
	}
	if u.Path != "" || u.RawQuery != "" {
		return fmt.Errorf("origin must not carry a path: %s", origin)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
