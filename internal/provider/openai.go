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

// OpenAIConfig configures an OpenAI-compatible chat-completions backend.
// Most hosted gateways speak this wire format.
type OpenAIConfig struct {
	ID           string
	Endpoint     string // e.g. "https://api.openai.com/v1/chat/completions"
	APIKey       string
	Models       []string
	DefaultModel string
	Timeout      time.Duration
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		cfg: cfg,
		// No Timeout on the http.Client itself: streaming responses stay
		// open longer than any sane whole-request timeout. Non-stream
		// calls bound themselves with a context deadline instead.
		client: &http.Client{},
	}
}

func (c *OpenAIClient) ID() string           { return c.cfg.ID }
func (c *OpenAIClient) Models() []string     { return c.cfg.Models }
func (c *OpenAIClient) DefaultModel() string { return c.cfg.DefaultModel }
func (c *OpenAIClient) Local() bool          { return false }

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
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

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.cfg.ID, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", c.cfg.ID, ErrEmptyResponse)
	}

	return &CompletionResult{
		Text:     parsed.Choices[0].Message.Content,
		Model:    req.Model,
		Provider: c.cfg.ID,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	}, nil
}

func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d: %s", c.cfg.ID, resp.StatusCode, bytes.TrimSpace(body))
	}
	return &openAIStream{body: resp.Body, scanner: newSSEScanner(resp.Body), provider: c.cfg.ID}, nil
}

func (c *OpenAIClient) post(ctx context.Context, req *CompletionRequest, stream bool) (*http.Response, error) {
	payload := openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
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
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.cfg.ID, err)
	}
	return resp, nil
}

// openAIStream yields delta text from "data:" events until "[DONE]".
type openAIStream struct {
	body     io.ReadCloser
	scanner  *sseScanner
	provider string
	done     bool
}

func (s *openAIStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		ev, err := s.scanner.Next()
		if err != nil {
			return "", err
		}
		if ev.data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(ev.data), &chunk); err != nil {
			return "", fmt.Errorf("%s: malformed stream chunk: %w", s.provider, err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}
