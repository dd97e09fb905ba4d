package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"chat-gateway/internal/config"
	"chat-gateway/internal/models"
)

const (
	messagesPath  = "/v1/messages"
	versionHeader = "anthropic-version"
	redacted      = "[redacted]"
)

type AnthropicAdapter struct{}

func NewAnthropicAdapter() *AnthropicAdapter {
	return &AnthropicAdapter{}
}

func (a *AnthropicAdapter) BuildUpstreamURL(apiBase string) (string, error) {
	base, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("parse api_base: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/") + messagesPath
	base.RawQuery = ""
	return base.String(), nil
}

func (a *AnthropicAdapter) ApplyHeaders(headers http.Header, params config.UpstreamParams) {
	headers.Del("Authorization")
	headers.Del("x-api-key")
	switch params.AuthType {
	case config.AuthTypeBearer:
		headers.Set("Authorization", "Bearer "+params.APIKey)
	default:
		headers.Set("x-api-key", params.APIKey)
	}
	headers.Set(versionHeader, params.APIVersion)
	headers.Set("Content-Type", "application/json")
}

// BuildRequestBody fixes model, token budget and system instruction; only
// messages come from the caller.
func (a *AnthropicAdapter) BuildRequestBody(params config.UpstreamParams, system string, messages []byte) ([]byte, error) {
	if !json.Valid(messages) {
		return nil, fmt.Errorf("messages is not valid JSON")
	}
	body, err := json.Marshal(models.UpstreamRequest{
		Model:     params.Model,
		MaxTokens: params.MaxTokens,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}
	return body, nil
}

// Scrub removes the upstream credential from text bound for a client or a log.
func (a *AnthropicAdapter) Scrub(message string, params config.UpstreamParams) string {
	key := strings.TrimSpace(params.APIKey)
	if key == "" {
		return message
	}
	return strings.ReplaceAll(message, key, redacted)
}
