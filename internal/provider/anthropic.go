package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig configures the Anthropic messages backend.
type AnthropicConfig struct {
	ID           string
	Endpoint     string // e.g. "https://api.anthropic.com/v1/messages"
	APIKey       string
	Models       []string
	DefaultModel string
	Timeout      time.Duration
}

// AnthropicClient talks to the Anthropic messages API. System prompts ride
// in a top-level field rather than the messages array.
type AnthropicClient struct {
	cfg    AnthropicConfig
	client *http.Client
}

func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AnthropicClient{cfg: cfg, client: &http.Client{}}
}

func (c *AnthropicClient) ID() string           { return c.cfg.ID }
func (c *AnthropicClient) Models() []string     { return c.cfg.Models }
func (c *AnthropicClient) DefaultModel() string { return c.cfg.DefaultModel }
func (c *AnthropicClient) Local() bool          { return false }

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: status %d: %s", c.cfg.ID, resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.cfg.ID, err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("%s: %w", c.cfg.ID, ErrEmptyResponse)
	}

	return &CompletionResult{
		Text:     parsed.Content[0].Text,
		Model:    req.Model,
		Provider: c.cfg.ID,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	}, nil
}

func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d: %s", c.cfg.ID, resp.StatusCode, bytes.TrimSpace(body))
	}
	return &anthropicStream{body: resp.Body, scanner: newSSEScanner(resp.Body), provider: c.cfg.ID}, nil
}

func (c *AnthropicClient) post(ctx context.Context, req *CompletionRequest, stream bool) (*http.Response, error) {
	payload := anthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = 1024
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if payload.System != "" {
				payload.System += "\n\n"
			}
			payload.System += m.Content
			continue
		}
		payload.Messages = append(payload.Messages, m)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.cfg.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.cfg.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.cfg.ID, err)
	}
	return resp, nil
}

// anthropicStream yields text from content_block_delta events and ends on
// message_stop.
type anthropicStream struct {
	body     io.ReadCloser
	scanner  *sseScanner
	provider string
	done     bool
}

func (s *anthropicStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		ev, err := s.scanner.Next()
		if err != nil {
			return "", err
		}
		var parsed anthropicStreamEvent
		if err := json.Unmarshal([]byte(ev.data), &parsed); err != nil {
			return "", fmt.Errorf("%s: malformed stream event: %w", s.provider, err)
		}
		switch parsed.Type {
		case "message_stop":
			s.done = true
			return "", io.EOF
		case "content_block_delta":
			if parsed.Delta.Text != "" {
				return parsed.Delta.Text, nil
			}
		}
	}
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}
