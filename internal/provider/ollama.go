package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaConfig configures a local Ollama backend. Ollama is the backend
// that satisfies the local-only routing constraint: requests never leave
// the host.
type OllamaConfig struct {
	ID             string
	BaseURL        string // e.g. "http://localhost:11434"
	Models         []string
	DefaultModel   string
	EmbeddingModel string
	Timeout        time.Duration
}

// OllamaClient talks to a local Ollama server. It also serves as the
// Embedder for the embedding classifier.
type OllamaClient struct {
	cfg    OllamaConfig
	client *http.Client
}

func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	return &OllamaClient{cfg: cfg, client: &http.Client{}}
}

func (c *OllamaClient) ID() string           { return c.cfg.ID }
func (c *OllamaClient) Models() []string     { return c.cfg.Models }
func (c *OllamaClient) DefaultModel() string { return c.cfg.DefaultModel }
func (c *OllamaClient) Local() bool          { return true }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// ollamaChatResponse is one NDJSON line of /api/chat output. Non-stream
// responses are a single line with done=true.
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (c *OllamaClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.chat(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: status %d: %s", c.cfg.ID, resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.cfg.ID, err)
	}

	return &CompletionResult{
		Text:     parsed.Message.Content,
		Model:    req.Model,
		Provider: c.cfg.ID,
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
		},
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	}, nil
}

func (c *OllamaClient) CompleteStream(ctx context.Context, req *CompletionRequest) (Stream, error) {
	resp, err := c.chat(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("%s: status %d: %s", c.cfg.ID, resp.StatusCode, bytes.TrimSpace(body))
	}
	return &ollamaStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body), provider: c.cfg.ID}, nil
}

func (c *OllamaClient) chat(ctx context.Context, req *CompletionRequest, stream bool) (*http.Response, error) {
	payload := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		payload.Options = map[string]any{}
		if req.Temperature > 0 {
			payload.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			payload.Options["num_predict"] = req.MaxTokens
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.cfg.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.cfg.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.cfg.ID, err)
	}
	return resp, nil
}

// Embed implements the intent.Embedder interface against /api/embeddings.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"model":  c.cfg.EmbeddingModel,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal embed request: %w", c.cfg.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build embed request: %w", c.cfg.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.cfg.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: embeddings status %d", c.cfg.ID, resp.StatusCode)
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%s: decode embedding: %w", c.cfg.ID, err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("%s: empty embedding", c.cfg.ID)
	}
	return parsed.Embedding, nil
}

// ollamaStream yields content from NDJSON lines until done=true.
type ollamaStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	provider string
	done     bool
}

func (s *ollamaStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var parsed ollamaChatResponse
		if err := json.Unmarshal(line, &parsed); err != nil {
			return "", fmt.Errorf("%s: malformed stream line: %w", s.provider, err)
		}
		if parsed.Done {
			s.done = true
			return "", io.EOF
		}
		if parsed.Message.Content != "" {
			return parsed.Message.Content, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}
