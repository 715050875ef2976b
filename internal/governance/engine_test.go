package governance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/intent"
	"github.com/meridian-ai/meridian/internal/risk"
	"go.uber.org/zap"
)

// fakeStore is an in-memory governance.Store.
type fakeStore struct {
	rules    []*Rule
	topics   []*Topic
	versions []*Version
	failAll  bool
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeStore) ListRules(context.Context) ([]*Rule, error) {
	if f.failAll {
		return nil, errStoreDown
	}
	out := make([]*Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeStore) InsertRule(_ context.Context, r *Rule) error {
	if f.failAll {
		return errStoreDown
	}
	f.rules = append(f.rules, r)
	return nil
}

func (f *fakeStore) UpdateRule(_ context.Context, r *Rule) error {
	if f.failAll {
		return errStoreDown
	}
	for i, existing := range f.rules {
		if existing.ID == r.ID {
			f.rules[i] = r
			return nil
		}
	}
	return ErrRuleNotFound
}

func (f *fakeStore) DeleteRule(_ context.Context, id string) (bool, error) {
	if f.failAll {
		return false, errStoreDown
	}
	for i, r := range f.rules {
		if r.ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) DeleteStandardRules(context.Context) error {
	f.rules = nil
	return nil
}

func (f *fakeStore) ListTopics(context.Context) ([]*Topic, error) {
	if f.failAll {
		return nil, errStoreDown
	}
	out := make([]*Topic, len(f.topics))
	copy(out, f.topics)
	return out, nil
}

func (f *fakeStore) InsertTopic(_ context.Context, t *Topic) error {
	f.topics = append(f.topics, t)
	return nil
}

func (f *fakeStore) DeleteTopic(_ context.Context, id string) (bool, error) {
	for i, t := range f.topics {
		if t.ID == id {
			f.topics = append(f.topics[:i], f.topics[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertVersion(_ context.Context, v *Version) error {
	f.versions = append(f.versions, v)
	return nil
}

func (f *fakeStore) GetVersion(_ context.Context, id string) (*Version, error) {
	for _, v := range f.versions {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListVersions(_ context.Context, limit int) ([]*Version, error) {
	if limit <= 0 || limit > len(f.versions) {
		limit = len(f.versions)
	}
	return f.versions[:limit], nil
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, zap.NewNop())
}

func inputFor(query string) *EvalInput {
	classifier := intent.NewClassifier(intent.NewRegistry(intent.DefaultDomains()))
	detector := risk.NewDetector(risk.NewRegistry(risk.BaseSignals()))
	return &EvalInput{
		Query:  query,
		Intent: classifier.Classify(query),
		Risk:   detector.Assess(query),
	}
}

func TestEvaluate_CleanQueryIsInform(t *testing.T) {
	e := newTestEngine(&fakeStore{})
	d := e.Evaluate(inputFor("summarize the engineering standup notes"))

	if d.Mode != hitl.ModeInform {
		t.Errorf("expected INFORM, got %s (triggers %v)", d.Mode, d.PolicyTriggers)
	}
	if d.ApprovalRequired {
		t.Error("INFORM decisions must not require approval")
	}
}

func TestEvaluate_PIIScenario(t *testing.T) {
	e := newTestEngine(&fakeStore{})
	d := e.Evaluate(inputFor("my SSN is 123-45-6789, draft the benefits form"))

	if d.Mode != hitl.ModeDraft {
		t.Fatalf("expected DRAFT, got %s", d.Mode)
	}
	if !d.LocalOnly {
		t.Error("PII decisions must carry the local-only constraint")
	}
	if !d.ApprovalRequired {
		t.Error("DRAFT requires approval")
	}
	if !containsString(d.PolicyTriggers, "sensitive-data-local") {
		t.Errorf("expected sensitive-data-local trigger, got %v", d.PolicyTriggers)
	}
}

func TestEvaluate_EscalationScenario(t *testing.T) {
	e := newTestEngine(&fakeStore{})
	d := e.Evaluate(inputFor("Draft a press release about our funding"))

	if d.Mode != hitl.ModeEscalate {
		t.Fatalf("expected ESCALATE, got %s", d.Mode)
	}
	if !containsString(d.PolicyTriggers, "no-external-posting") {
		t.Errorf("expected no-external-posting trigger, got %v", d.PolicyTriggers)
	}
	if d.EscalationReason == "" {
		t.Error("escalation must record a reason")
	}
}

func TestEvaluate_ModeNeverDowngraded(t *testing.T) {
	// Dynamic INFORM-level rule that always matches follows the
	// constitutional ESCALATE rule; the decision must stay ESCALATE.
	store := &fakeStore{rules: []*Rule{{
		ID:   "always-inform",
		Name: "always inform",
		Tier: TierStandard,
		Mode: hitl.ModeInform,
		Conditions: Conditions{
			KeywordsAny: []string{"press"},
		},
	}}}
	e := newTestEngine(store)

	d := e.Evaluate(inputFor("Draft a press release about our funding"))
	if d.Mode != hitl.ModeEscalate {
		t.Errorf("later INFORM rule must not downgrade ESCALATE, got %s", d.Mode)
	}
	if !containsString(d.PolicyTriggers, "always-inform") {
		t.Errorf("later rule should still be recorded as trigger, got %v", d.PolicyTriggers)
	}
}

func TestEvaluate_ProhibitedTopicForcesEscalate(t *testing.T) {
	store := &fakeStore{topics: []*Topic{{ID: "t1", Topic: "Project Nimbus", Scope: "global"}}}
	e := newTestEngine(store)

	d := e.Evaluate(inputFor("what is the status of project nimbus?"))
	if d.Mode != hitl.ModeEscalate {
		t.Fatalf("prohibited topic must force ESCALATE, got %s", d.Mode)
	}
	if !containsString(d.PolicyTriggers, "prohibited:Project Nimbus") {
		t.Errorf("expected synthetic prohibited trigger, got %v", d.PolicyTriggers)
	}
	if d.EscalationReason == "" {
		t.Error("prohibited topic must overwrite the escalation reason")
	}
}

func TestEvaluate_LocalOnlyIsSticky(t *testing.T) {
	e := newTestEngine(&fakeStore{})
	// PII fires sensitive-data-local (localOnly) and FINANCIAL fires
	// regulated-advice-review (not localOnly). localOnly must stay true.
	d := e.Evaluate(inputFor("SSN 123-45-6789 needs a wire transfer to my account number"))

	if !d.LocalOnly {
		t.Error("localOnly must remain true once any rule demands it")
	}
}

func TestEvaluate_DynamicRuleConditions(t *testing.T) {
	conf := 0.5
	store := &fakeStore{rules: []*Rule{
		{
			ID: "legal-drafts", Name: "legal drafts", Tier: TierStandard,
			Mode:       hitl.ModeDraft,
			Conditions: Conditions{DomainEquals: "Legal"},
		},
		{
			ID: "vague-review", Name: "vague review", Tier: TierStandard,
			Mode:       hitl.ModeDraft,
			Conditions: Conditions{ConfidenceBelow: &conf, KeywordsAny: []string{"announce"}},
		},
	}}
	e := newTestEngine(store)

	d := e.Evaluate(inputFor("review this NDA contract clause"))
	if !containsString(d.PolicyTriggers, "legal-drafts") {
		t.Errorf("domain-equals rule should fire for Legal query, got %v", d.PolicyTriggers)
	}
	if d.Mode != hitl.ModeDraft {
		t.Errorf("expected DRAFT, got %s", d.Mode)
	}
}

func TestMutation_ConstitutionalRuleRejected(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store)
	params := RuleParams{
		Name:       "x",
		Mode:       "DRAFT",
		Conditions: json.RawMessage(`{"keywords_any":["x"]}`),
	}

	if _, err := e.UpdateRule(context.Background(), "no-external-posting", params); !errors.Is(err, ErrImmutableRule) {
		t.Errorf("UpdateRule on constitutional id: expected ErrImmutableRule, got %v", err)
	}
	if err := e.DeleteRule(context.Background(), "sensitive-data-local"); !errors.Is(err, ErrImmutableRule) {
		t.Errorf("DeleteRule on constitutional id: expected ErrImmutableRule, got %v", err)
	}
	if len(store.versions) != 0 {
		t.Error("rejected mutations must not touch the store")
	}
}

func TestMutation_CreateRuleWritesVersionAndReloads(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store)

	r, err := e.CreateRule(context.Background(), RuleParams{
		Name:       "block vague finance",
		Mode:       "DRAFT",
		Conditions: json.RawMessage(`{"domain_equals":"Finance"}`),
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if r.Tier != TierStandard {
		t.Errorf("created rules are standard tier, got %s", r.Tier)
	}
	if len(store.versions) != 1 {
		t.Fatalf("expected 1 version entry, got %d", len(store.versions))
	}
	if len(e.DynamicRules()) != 1 {
		t.Errorf("cache should be reloaded after mutation, got %d rules", len(e.DynamicRules()))
	}
}

func TestMutation_InvalidConditionsRejected(t *testing.T) {
	e := newTestEngine(&fakeStore{})

	tests := []struct {
		name string
		raw  string
	}{
		{"unknown key", `{"signal_match":["PII"]}`},
		{"empty object", `{}`},
		{"bad confidence", `{"confidence_below": 2.0}`},
		{"not json", `nope`},
		{"empty keyword", `{"keywords_any":[""]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateRule(context.Background(), RuleParams{
				Name:       "r",
				Mode:       "DRAFT",
				Conditions: json.RawMessage(tt.raw),
			})
			if err == nil {
				t.Errorf("conditions %s should be rejected", tt.raw)
			}
		})
	}
}

func TestRollback_RestoresSnapshotAndVersions(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(store)
	ctx := context.Background()

	first, err := e.CreateRule(ctx, RuleParams{
		Name: "keep me", Mode: "DRAFT",
		Conditions: json.RawMessage(`{"domain_equals":"Legal"}`),
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	targetVersion := store.versions[0].ID

	if _, err := e.CreateRule(ctx, RuleParams{
		Name: "drop me", Mode: "ESCALATE",
		Conditions: json.RawMessage(`{"keywords_any":["secret"]}`),
	}); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if len(e.DynamicRules()) != 2 {
		t.Fatalf("expected 2 dynamic rules before rollback, got %d", len(e.DynamicRules()))
	}

	if err := e.Rollback(ctx, targetVersion); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	rules := e.DynamicRules()
	if len(rules) != 1 || rules[0].ID != first.ID {
		t.Errorf("rollback should restore exactly the snapshot set, got %+v", rules)
	}
	// create + create + rollback = 3 version entries
	if len(store.versions) != 3 {
		t.Errorf("rollback itself must append a version entry, got %d", len(store.versions))
	}
}

func TestEngine_StoreFailureDegradesToConstitutional(t *testing.T) {
	e := newTestEngine(&fakeStore{failAll: true})

	if len(e.DynamicRules()) != 0 {
		t.Error("store failure should leave dynamic rules empty")
	}
	// Constitutional rules still apply.
	d := e.Evaluate(inputFor("Draft a press release about our funding"))
	if d.Mode != hitl.ModeEscalate {
		t.Errorf("constitutional-only governance should still escalate, got %s", d.Mode)
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
