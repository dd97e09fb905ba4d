package apierrors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	MsgMethodNotAllowed = "Method not allowed"
	MsgInternal         = "Internal server error"
	MsgInvalidRequest   = "Invalid request"
)

// Body is the only error shape the gateway emits. Message is set for
// internal and invalid-request failures; upstream failures carry the status
// code alone.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func Marshal(errorText, message string) []byte {
	if strings.TrimSpace(errorText) == "" {
		errorText = MsgInternal
	}
	body, err := json.Marshal(Body{Error: errorText, Message: message})
	if err != nil {
		return []byte(`{"error":"Internal server error"}`)
	}
	return body
}

func Write(w http.ResponseWriter, statusCode int, errorText, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(Marshal(errorText, message))
}

func WriteMethodNotAllowed(w http.ResponseWriter, allow string) {
	if allow != "" {
		w.Header().Set("Allow", allow)
	}
	Write(w, http.StatusMethodNotAllowed, MsgMethodNotAllowed, "")
}

func UpstreamMessage(statusCode int) string {
	return fmt.Sprintf("Upstream API error: %d", statusCode)
}

// WriteUpstream mirrors the upstream status without leaking upstream detail.
func WriteUpstream(w http.ResponseWriter, statusCode int) {
	Write(w, statusCode, UpstreamMessage(statusCode), "")
}

// WriteInternal sends message to the client as is; callers scrub it first.
func WriteInternal(w http.ResponseWriter, message string) {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	Write(w, http.StatusInternalServerError, MsgInternal, message)
}

func WriteInvalid(w http.ResponseWriter, message string) {
	Write(w, http.StatusBadRequest, MsgInvalidRequest, message)
}
