package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/metrics"
	"github.com/meridian-ai/meridian/internal/provider"
	"github.com/meridian-ai/meridian/internal/router"
	"go.uber.org/zap"
)

type nopPolicyStore struct{}

func (nopPolicyStore) ListRules(context.Context) ([]*governance.Rule, error)    { return nil, nil }
func (nopPolicyStore) InsertRule(context.Context, *governance.Rule) error       { return nil }
func (nopPolicyStore) UpdateRule(context.Context, *governance.Rule) error       { return nil }
func (nopPolicyStore) DeleteRule(context.Context, string) (bool, error)         { return false, nil }
func (nopPolicyStore) DeleteStandardRules(context.Context) error                { return nil }
func (nopPolicyStore) ListTopics(context.Context) ([]*governance.Topic, error)  { return nil, nil }
func (nopPolicyStore) InsertTopic(context.Context, *governance.Topic) error     { return nil }
func (nopPolicyStore) DeleteTopic(context.Context, string) (bool, error)        { return false, nil }
func (nopPolicyStore) InsertVersion(context.Context, *governance.Version) error { return nil }
func (nopPolicyStore) GetVersion(context.Context, string) (*governance.Version, error) {
	return nil, nil
}
func (nopPolicyStore) ListVersions(context.Context, int) ([]*governance.Version, error) {
	return nil, nil
}

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	logger := zap.NewNop()
	return &Dependencies{
		Engine:  governance.NewEngine(nopPolicyStore{}, logger),
		Metrics: metrics.NewCollector(),
		Logger:  logger,
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer msk_abc123", "msk_abc123", true},
		{"missing", "", "", false},
		{"wrong scheme", "Basic dXNlcg==", "", false},
		{"trailing space", "Bearer msk_abc123  ", "msk_abc123", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := extractBearerToken(r)
			if got != tt.want || ok != tt.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestAuthMiddleware_RejectsBadTokensBeforeStore(t *testing.T) {
	d := testDeps(t)
	handler := d.authMiddleware(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without auth")
	})

	tests := []struct {
		name  string
		token string
	}{
		{"no header", ""},
		{"wrong prefix", "tsk_0123456789abcdef"},
		{"too short", "msk_a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler(w, r)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestHandleListRules_IncludesConstitutionalTier(t *testing.T) {
	d := testDeps(t)

	r := httptest.NewRequest(http.MethodGet, "/api/meridian/rules", nil)
	w := httptest.NewRecorder()
	d.handleListRules(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rules []RuleResp
	if err := json.NewDecoder(w.Body).Decode(&rules); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rules) != len(governance.ConstitutionalRules()) {
		t.Errorf("expected the constitutional tier, got %d rules", len(rules))
	}
	for _, rule := range rules {
		if !rule.Immutable || rule.Tier != governance.TierConstitutional {
			t.Errorf("rule %s should be immutable constitutional, got %+v", rule.ID, rule)
		}
	}
}

func TestHandleUpdateRule_ConstitutionalIsForbidden(t *testing.T) {
	d := testDeps(t)

	body := strings.NewReader(`{"name":"x","hitl_mode":"DRAFT","conditions":{"keywords_any":["a"]}}`)
	r := httptest.NewRequest(http.MethodPut, "/api/meridian/rules/no-external-posting", body)
	r.SetPathValue("rule_id", "no-external-posting")
	w := httptest.NewRecorder()
	d.handleUpdateRule(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("constitutional mutation should be 403, got %d", w.Code)
	}
}

type stubClient struct{}

func (stubClient) ID() string           { return "stub" }
func (stubClient) Models() []string     { return []string{"stub-model"} }
func (stubClient) DefaultModel() string { return "stub-model" }
func (stubClient) Local() bool          { return true }
func (stubClient) Complete(context.Context, *provider.CompletionRequest) (*provider.CompletionResult, error) {
	return nil, context.Canceled
}
func (stubClient) CompleteStream(context.Context, *provider.CompletionRequest) (provider.Stream, error) {
	return nil, context.Canceled
}

func TestHandleStatus_ReportsBackendsAndUsage(t *testing.T) {
	d := testDeps(t)
	rt, err := router.New([]provider.Client{stubClient{}}, nil, "", d.Logger)
	if err != nil {
		t.Fatalf("router.New: %v", err)
	}
	d.Router = rt

	w := httptest.NewRecorder()
	d.handleStatus(w, httptest.NewRequest(http.MethodGet, "/api/meridian/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Backends []router.BackendStatus     `json:"backends"`
		Usage    map[string]json.RawMessage `json:"usage"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Backends) != 1 || resp.Backends[0].ID != "stub" {
		t.Errorf("expected the stub backend in status, got %+v", resp.Backends)
	}
}

func TestWriteRouteError_MapsChainErrorToBadGateway(t *testing.T) {
	d := testDeps(t)

	w := httptest.NewRecorder()
	d.writeRouteError(w, &router.ChainError{})
	if w.Code != http.StatusBadGateway {
		t.Errorf("chain exhaustion should be 502, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	d.writeRouteError(w, context.DeadlineExceeded)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("other failures should be 500, got %d", w.Code)
	}
}
