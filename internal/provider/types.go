package provider

import (
	"context"
	"errors"
)

// Message roles follow the chat-completion convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-neutral completion input.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompletionResult is one whole-response completion. Cost is derived from
// the static price table by the router; it is returned to the caller for
// logging, never persisted here.
type CompletionResult struct {
	Text      string  `json:"text"`
	Model     string  `json:"model"`
	Provider  string  `json:"provider"`
	Usage     Usage   `json:"usage"`
	LatencyMs float64 `json:"latency_ms"`
	Cost      float64 `json:"cost"`
}

// Stream is a lazy sequence of text chunks. Recv returns io.EOF when the
// stream is exhausted. Streams are restartable per call, not resumable
// mid-stream.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client is one configured model backend.
type Client interface {
	// ID is the backend identifier (e.g. "openai", "ollama").
	ID() string

	// Models lists the model names this backend advertises.
	Models() []string

	// DefaultModel is used when a request names no model.
	DefaultModel() string

	// Local reports whether the backend keeps data on-device, satisfying
	// the local-only routing constraint.
	Local() bool

	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
	CompleteStream(ctx context.Context, req *CompletionRequest) (Stream, error)
}

// ErrEmptyResponse is returned when a backend answers 2xx with no choices.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// EstimateTokens approximates token count at 4 characters per token, used
// when a streaming backend reports no usage.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
