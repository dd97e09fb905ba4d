// Package cors resolves the cross-origin response headers for the chat route.
//
// The policy is an exact-match allow list with a concrete fallback origin.
// A wildcard is never emitted: the widget may send credential-bearing
// headers, and browsers refuse "*" in that case.
package cors

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	HeaderAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAllowMethods = "Access-Control-Allow-Methods"
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
	HeaderMaxAge       = "Access-Control-Max-Age"
	HeaderVary         = "Vary"

	AllowedMethods = "POST, OPTIONS"
	DefaultMaxAge  = 86400
)

var defaultHeaders = []string{"Content-Type", "Authorization"}

type Options struct {
	AllowedOrigins []string
	DefaultOrigin  string
	AllowedHeaders []string
	MaxAge         int
}

// Policy is immutable after New and safe for concurrent use.
type Policy struct {
	origins       map[string]struct{}
	defaultOrigin string
	allowHeaders  string
	maxAge        string
}

func New(opts Options) (*Policy, error) {
	def := strings.TrimSpace(opts.DefaultOrigin)
	if def == "" {
		return nil, fmt.Errorf("default origin is required")
	}
	if strings.Contains(def, "*") {
		return nil, fmt.Errorf("default origin must be concrete, got %q", def)
	}

	origins := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if strings.Contains(origin, "*") {
			return nil, fmt.Errorf("wildcard origin not allowed: %q", origin)
		}
		origins[origin] = struct{}{}
	}

	headers := opts.AllowedHeaders
	if len(headers) == 0 {
		headers = defaultHeaders
	}

	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if maxAge < 0 {
		return nil, fmt.Errorf("max age must not be negative")
	}

	return &Policy{
		origins:       origins,
		defaultOrigin: def,
		allowHeaders:  strings.Join(headers, ", "),
		maxAge:        strconv.Itoa(maxAge),
	}, nil
}

// Allowed reports whether origin is an exact member of the allow list.
func (p *Policy) Allowed(origin string) bool {
	_, ok := p.origins[origin]
	return ok
}

func (p *Policy) AllowOrigin(origin string) string {
	if p.Allowed(origin) {
		return origin
	}
	return p.defaultOrigin
}

// Apply writes the full CORS header set. Call it before any branching so
// error responses stay readable by the browser.
func (p *Policy) Apply(h http.Header, origin string) {
	h.Set(HeaderAllowOrigin, p.AllowOrigin(origin))
	addVary(h, "Origin")
	h.Set(HeaderAllowMethods, AllowedMethods)
	h.Set(HeaderAllowHeaders, p.allowHeaders)
	h.Set(HeaderMaxAge, p.maxAge)
}

func addVary(h http.Header, value string) {
	for _, existing := range h.Values(HeaderVary) {
		for _, v := range strings.Split(existing, ",") {
			if strings.EqualFold(strings.TrimSpace(v), value) {
				return
			}
		}
	}
	h.Add(HeaderVary, value)
}
