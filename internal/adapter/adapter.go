package adapter

import (
	"net/http"

	"chat-gateway/internal/config"
)

// Adapter owns everything that depends on the upstream wire format.
type Adapter interface {
	BuildUpstreamURL(apiBase string) (string, error)
	ApplyHeaders(headers http.Header, params config.UpstreamParams)
	BuildRequestBody(params config.UpstreamParams, system string, messages []byte) ([]byte, error)
	Scrub(message string, params config.UpstreamParams) string
}
