package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMissingMessages = errors.New("messages is required")

// ChatRequest is the widget's request body. Messages stay raw so they reach
// upstream byte-for-byte.
type ChatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

func (r ChatRequest) HasMessages() bool {
	trimmed := bytes.TrimSpace(r.Messages)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

type UpstreamRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system"`
	Messages  json.RawMessage `json:"messages"`
}

type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidateMessages checks the raw messages against the chat-turn schema:
// a non-empty array of {role, content} where role is user or assistant and
// content is a string or an array of content blocks.
func ValidateMessages(raw json.RawMessage) error {
	if !(ChatRequest{Messages: raw}).HasMessages() {
		return ErrMissingMessages
	}

	var turns []Message
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&turns); err != nil {
		return fmt.Errorf("messages must be an array of {role, content}: %w", err)
	}
	if len(turns) == 0 {
		return errors.New("messages must not be empty")
	}

	for i, turn := range turns {
		switch turn.Role {
		case RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("messages[%d].role must be user or assistant", i)
		}
		content := bytes.TrimSpace(turn.Content)
		if len(content) == 0 {
			return fmt.Errorf("messages[%d].content is required", i)
		}
		switch content[0] {
		case '"':
			var s string
			if err := json.Unmarshal(content, &s); err != nil || s == "" {
				return fmt.Errorf("messages[%d].content must be a non-empty string", i)
			}
		case '[':
		default:
			return fmt.Errorf("messages[%d].content must be a string or an array", i)
		}
	}
	return nil
}
