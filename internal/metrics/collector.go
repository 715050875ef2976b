package metrics

import (
	"sync"

	"github.com/meridian-ai/meridian/internal/provider"
)

// Collector accumulates in-memory usage and cost totals per model. It is fed
// by the router's completion callback and read by the status endpoint.
// Totals reset on process restart; durable accounting lives in the audit
// events.
type Collector struct {
	mu       sync.Mutex
	byModel  map[string]*ModelUsage
	requests int
	cost     float64
}

// ModelUsage is the accumulated usage for one model.
type ModelUsage struct {
	Model            string  `json:"model"`
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Snapshot is the collector's state at one point in time.
type Snapshot struct {
	Requests  int          `json:"requests"`
	TotalCost float64      `json:"total_cost_usd"`
	ByModel   []ModelUsage `json:"by_model"`
}

func NewCollector() *Collector {
	return &Collector{byModel: make(map[string]*ModelUsage)}
}

// Record folds one completion result into the totals. Safe for concurrent
// use; wired as the router's OnCompletion callback.
func (c *Collector) Record(res *provider.CompletionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byModel[res.Model]
	if !ok {
		m = &ModelUsage{Model: res.Model}
		c.byModel[res.Model] = m
	}
	m.Requests++
	m.PromptTokens += res.Usage.PromptTokens
	m.CompletionTokens += res.Usage.CompletionTokens
	m.CostUSD += res.Cost

	c.requests++
	c.cost += res.Cost
}

// Snapshot returns a copy of the current totals.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Requests:  c.requests,
		TotalCost: c.cost,
		ByModel:   make([]ModelUsage, 0, len(c.byModel)),
	}
	for _, m := range c.byModel {
		snap.ByModel = append(snap.ByModel, *m)
	}
	return snap
}
