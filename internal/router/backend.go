package router

import (
	"sync"
	"time"

	"github.com/meridian-ai/meridian/internal/provider"
)

// failureCooldown is how long the fallback chain skips a backend after a
// failure. A success clears the cooldown immediately.
const failureCooldown = 60 * time.Second

// backend wraps a provider client with request-driven health state. Health
// is a soft signal: there is no background probe loop, only failure marks
// and success clears from live traffic.
type backend struct {
	client provider.Client

	mu          sync.Mutex
	healthy     bool
	lastErr     string
	lastFailure time.Time
}

func newBackend(client provider.Client) *backend {
	return &backend{client: client, healthy: true}
}

func (b *backend) markFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = false
	b.lastErr = err.Error()
	b.lastFailure = time.Now()
}

func (b *backend) markSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = true
	b.lastErr = ""
	b.lastFailure = time.Time{}
}

func (b *backend) isHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

// inCooldown reports whether the backend failed within the cooldown window.
// A tolerable race here costs at most one extra attempt; the mutex protects
// the map structure, not the decision.
func (b *backend) inCooldown(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.lastFailure.IsZero() && now.Sub(b.lastFailure) < failureCooldown
}

func (b *backend) status() BackendStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BackendStatus{
		ID:           b.client.ID(),
		Healthy:      b.healthy,
		Status:       "online",
		LastError:    b.lastErr,
		DefaultModel: b.client.DefaultModel(),
		Models:       b.client.Models(),
	}
	if !b.healthy {
		s.Status = "offline"
	}
	return s
}

// BackendStatus is the per-backend row of the router status query.
type BackendStatus struct {
	ID           string   `json:"id"`
	Healthy      bool     `json:"healthy"`
	Status       string   `json:"status"`
	LastError    string   `json:"last_error,omitempty"`
	DefaultModel string   `json:"default_model"`
	Models       []string `json:"models"`
}
