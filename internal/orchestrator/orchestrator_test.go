package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/meridian-ai/meridian/internal/audit"
	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/intent"
	"github.com/meridian-ai/meridian/internal/provider"
	"github.com/meridian-ai/meridian/internal/risk"
	"github.com/meridian-ai/meridian/internal/router"
	"go.uber.org/zap"
)

// kwClassifier adapts the keyword classifier to the context-taking surface.
type kwClassifier struct {
	c *intent.Classifier
}

func (k kwClassifier) Classify(_ context.Context, text string) *intent.Intent {
	return k.c.Classify(text)
}

// emptyPolicyStore backs the governance engine with no dynamic rules.
type emptyPolicyStore struct{}

func (emptyPolicyStore) ListRules(context.Context) ([]*governance.Rule, error)    { return nil, nil }
func (emptyPolicyStore) InsertRule(context.Context, *governance.Rule) error       { return nil }
func (emptyPolicyStore) UpdateRule(context.Context, *governance.Rule) error       { return nil }
func (emptyPolicyStore) DeleteRule(context.Context, string) (bool, error)         { return false, nil }
func (emptyPolicyStore) DeleteStandardRules(context.Context) error                { return nil }
func (emptyPolicyStore) ListTopics(context.Context) ([]*governance.Topic, error)  { return nil, nil }
func (emptyPolicyStore) InsertTopic(context.Context, *governance.Topic) error     { return nil }
func (emptyPolicyStore) DeleteTopic(context.Context, string) (bool, error)        { return false, nil }
func (emptyPolicyStore) InsertVersion(context.Context, *governance.Version) error { return nil }
func (emptyPolicyStore) GetVersion(context.Context, string) (*governance.Version, error) {
	return nil, nil
}
func (emptyPolicyStore) ListVersions(context.Context, int) ([]*governance.Version, error) {
	return nil, nil
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	messages map[string][]provider.Message
}

func newMemSessions() *memSessions {
	return &memSessions{messages: make(map[string][]provider.Message)}
}

func (m *memSessions) EnsureSession(_ context.Context, _, _ string) error { return nil }

func (m *memSessions) AddMessage(_ context.Context, sessionID, role, content string) error {
	m.messages[sessionID] = append(m.messages[sessionID], provider.Message{Role: role, Content: content})
	return nil
}

func (m *memSessions) BuildContext(_ context.Context, sessionID string, _ int) ([]provider.Message, error) {
	return m.messages[sessionID], nil
}

func (m *memSessions) lastAssistant(sessionID string) string {
	msgs := m.messages[sessionID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == provider.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

// memApprovals captures queued approvals.
type memApprovals struct {
	created []hitl.CreateParams
}

func (m *memApprovals) CreateApproval(_ context.Context, p hitl.CreateParams) (*hitl.Approval, error) {
	m.created = append(m.created, p)
	return &hitl.Approval{ID: "approval-1", Status: hitl.StatusPending}, nil
}

// fakeRouter scripts the ModelRouter surface and records the options it saw.
type fakeRouter struct {
	calls     int
	lastOpts  router.Options
	text      string
	chunks    []string
	streamErr error
}

func (f *fakeRouter) Route(_ context.Context, _ []provider.Message, opts router.Options) (*router.Result, error) {
	f.calls++
	f.lastOpts = opts
	return &router.Result{
		CompletionResult: &provider.CompletionResult{
			Text:     f.text,
			Model:    "test-model",
			Provider: "test-provider",
			Usage:    provider.Usage{PromptTokens: 10, CompletionTokens: 5},
		},
		AttemptCount: 1,
	}, nil
}

func (f *fakeRouter) RouteStream(_ context.Context, _ []provider.Message, opts router.Options) (*router.StreamResult, error) {
	f.calls++
	f.lastOpts = opts
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &router.StreamResult{
		Stream:       &sliceStream{chunks: f.chunks},
		Model:        "test-model",
		Provider:     "test-provider",
		AttemptCount: 1,
	}, nil
}

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }

// memEvents captures audit events.
type memEvents struct {
	events []*audit.Event
}

func (m *memEvents) Write(e *audit.Event) { m.events = append(m.events, e) }
func (m *memEvents) Close()               {}

type fixture struct {
	orch      *Orchestrator
	sessions  *memSessions
	approvals *memApprovals
	router    *fakeRouter
	events    *memEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		sessions:  newMemSessions(),
		approvals: &memApprovals{},
		router:    &fakeRouter{text: "model response"},
		events:    &memEvents{},
	}
	f.orch = New(Config{
		Classifier: kwClassifier{c: intent.NewClassifier(intent.NewRegistry(intent.DefaultDomains()))},
		Detector:   risk.NewDetector(risk.NewRegistry(risk.BaseSignals())),
		Policy:     governance.NewEngine(emptyPolicyStore{}, logger),
		Router:     f.router,
		Sessions:   f.sessions,
		Approvals:  f.approvals,
		Events:     f.events,
		Identity:   "You are a governed enterprise assistant.",
		Profiles: map[string]Profile{
			"default": {Model: "test-model", Temperature: 0.7, MaxTokens: 512},
		},
	}, logger)
	return f
}

func TestHandleMessage_ProceedPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.HandleMessage(context.Background(), &Request{
		SessionID: "s1",
		Query:     "summarize the weekly metrics report",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if res.Mode != "INFORM" {
		t.Errorf("clean request should be INFORM, got %s", res.Mode)
	}
	if res.Text != "model response" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if len(f.approvals.created) != 0 {
		t.Errorf("INFORM path must not queue approvals, got %d", len(f.approvals.created))
	}
	if got := f.sessions.lastAssistant("s1"); got != res.Text {
		t.Errorf("persisted message %q != result text %q", got, res.Text)
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != "completion" {
		t.Errorf("expected one completion event, got %+v", f.events.events)
	}
}

func TestHandleMessage_EscalationMakesNoModelCall(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.HandleMessage(context.Background(), &Request{
		SessionID: "s1",
		Query:     "Draft a press release about our funding",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if res.Mode != "ESCALATE" {
		t.Fatalf("expected ESCALATE, got %s", res.Mode)
	}
	if f.router.calls != 0 {
		t.Errorf("escalation must not call the model, router calls %d", f.router.calls)
	}
	if !strings.Contains(res.Text, "no-external-posting") {
		t.Errorf("explanation should name the triggered policy, got %q", res.Text)
	}
	if len(f.approvals.created) != 1 {
		t.Fatalf("expected one approval, got %d", len(f.approvals.created))
	}
	a := f.approvals.created[0]
	if a.Priority != hitl.PriorityHigh {
		t.Errorf("escalation approval should be high priority, got %s", a.Priority)
	}
	if a.ProposedResponse != "" {
		t.Errorf("escalation approval carries no proposed response, got %q", a.ProposedResponse)
	}
	if got := f.sessions.lastAssistant("s1"); got != res.Text {
		t.Errorf("explanation should be persisted as the assistant message")
	}
	if len(f.events.events) != 1 || f.events.events[0].EventType != "escalation" {
		t.Errorf("expected one escalation event")
	}
}

func TestHandleMessage_DraftPath(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.HandleMessage(context.Background(), &Request{
		SessionID: "s1",
		Query:     "The customer's SSN is 123-45-6789, draft a reply about their account",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if res.Mode != "DRAFT" {
		t.Fatalf("expected DRAFT, got %s", res.Mode)
	}
	if !strings.HasPrefix(res.Text, DraftBanner) {
		t.Errorf("draft text must start with the banner, got %q", res.Text)
	}
	if !f.router.lastOpts.LocalOnly {
		t.Error("PII decision must route local-only")
	}
	if len(f.approvals.created) != 1 {
		t.Fatalf("expected one approval, got %d", len(f.approvals.created))
	}
	a := f.approvals.created[0]
	if a.Priority != hitl.PriorityMedium {
		t.Errorf("draft approval should be medium priority, got %s", a.Priority)
	}
	if a.ProposedResponse != res.Text {
		t.Errorf("proposed response must be the banner-prefixed text")
	}
	if got := f.sessions.lastAssistant("s1"); got != res.Text {
		t.Errorf("persisted message must equal the approval's proposed response")
	}
}

func TestHandleMessageStream_ProceedConcatenation(t *testing.T) {
	f := newFixture(t)
	f.router.chunks = []string{"the ", "quick ", "brown ", "fox"}

	out, err := f.orch.HandleMessageStream(context.Background(), &Request{
		SessionID: "s1",
		Query:     "summarize the weekly metrics report",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}

	var text strings.Builder
	var doneCount, chunkIdx, doneIdx int
	for c := range out {
		if c.Done {
			doneCount++
			doneIdx = chunkIdx
		} else {
			text.WriteString(c.Text)
		}
		chunkIdx++
	}
	if doneCount != 1 {
		t.Fatalf("expected exactly one done chunk, got %d", doneCount)
	}
	if doneIdx != chunkIdx-1 {
		t.Error("done chunk must be the last chunk")
	}
	if text.String() != "the quick brown fox" {
		t.Errorf("concatenated chunks %q", text.String())
	}
	if got := f.sessions.lastAssistant("s1"); got != text.String() {
		t.Errorf("persisted message %q must equal concatenated chunks %q", got, text.String())
	}
	if len(f.events.events) != 1 || !f.events.events[0].Streamed {
		t.Errorf("expected one streamed event")
	}
}

func TestHandleMessageStream_DraftBannerIsFirstChunk(t *testing.T) {
	f := newFixture(t)
	f.router.chunks = []string{"draft ", "body"}

	out, err := f.orch.HandleMessageStream(context.Background(), &Request{
		SessionID: "s1",
		Query:     "The customer's SSN is 123-45-6789, draft a reply",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}

	var chunks []Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected banner plus body chunks, got %d", len(chunks))
	}
	if chunks[0].Text != DraftBanner {
		t.Errorf("first chunk must be the draft banner, got %q", chunks[0].Text)
	}
	want := DraftBanner + "draft body"
	if got := f.sessions.lastAssistant("s1"); got != want {
		t.Errorf("persisted %q want %q", got, want)
	}
	if len(f.approvals.created) != 1 || f.approvals.created[0].ProposedResponse != want {
		t.Errorf("approval must carry the banner-prefixed full text")
	}
}

func TestHandleMessageStream_EscalationYieldsOneDoneChunk(t *testing.T) {
	f := newFixture(t)

	out, err := f.orch.HandleMessageStream(context.Background(), &Request{
		SessionID: "s1",
		Query:     "Draft a press release about our funding",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}

	var chunks []Chunk
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 {
		t.Fatalf("escalation stream must yield exactly one chunk, got %d", len(chunks))
	}
	if !chunks[0].Done || chunks[0].Mode != "ESCALATE" {
		t.Errorf("single chunk must be done with ESCALATE mode, got %+v", chunks[0])
	}
	if f.router.calls != 0 {
		t.Errorf("escalation stream must not call the model")
	}
}

func TestHandleMessageStream_RouterFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.router.streamErr = errors.New("all backends failed")

	_, err := f.orch.HandleMessageStream(context.Background(), &Request{
		SessionID: "s1",
		Query:     "summarize the weekly metrics report",
		Profile:   "default",
	})
	if err == nil {
		t.Fatal("pre-stream router failure must surface to the caller")
	}
}

func TestHandleMessage_CancelledStreamPersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.router.chunks = []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}

	ctx, cancel := context.WithCancel(context.Background())
	out, err := f.orch.HandleMessageStream(ctx, &Request{
		SessionID: "s1",
		Query:     "summarize the weekly metrics report",
		Profile:   "default",
	})
	if err != nil {
		t.Fatalf("HandleMessageStream: %v", err)
	}

	// Read one chunk, then walk away.
	<-out
	cancel()
	for range out {
	}

	if got := f.sessions.lastAssistant("s1"); got != "" {
		t.Errorf("abandoned stream must not persist a partial message, got %q", got)
	}
}
