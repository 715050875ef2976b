package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Provider fetches grounding context for a query. Implementations must be
// best-effort: the orchestrator treats an empty string as "no context" and
// never fails a request over retrieval.
type Provider interface {
	Retrieve(ctx context.Context, query, domain string) (string, error)
}

// Client calls an external retrieval service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

type retrieveRequest struct {
	Query  string `json:"query"`
	Domain string `json:"domain,omitempty"`
	TopK   int    `json:"top_k"`
}

type retrieveResponse struct {
	Context string `json:"context"`
}

// Retrieve posts the query to the retrieval service. Any failure is logged
// and surfaces as an empty context, not an error the caller must handle.
func (c *Client) Retrieve(ctx context.Context, query, domain string) (string, error) {
	body, err := json.Marshal(retrieveRequest{Query: query, Domain: domain, TopK: 5})
	if err != nil {
		return "", fmt.Errorf("Retrieve: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("Retrieve: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("retrieval request failed", zap.Error(err))
		return "", nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("retrieval returned non-200", zap.Int("status", resp.StatusCode))
		return "", nil
	}

	var out retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Warn("retrieval response decode failed", zap.Error(err))
		return "", nil
	}
	return out.Context, nil
}
