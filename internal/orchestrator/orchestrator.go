package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-ai/meridian/internal/audit"
	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/intent"
	"github.com/meridian-ai/meridian/internal/provider"
	"github.com/meridian-ai/meridian/internal/risk"
	"github.com/meridian-ai/meridian/internal/router"
	"go.uber.org/zap"
)

// DraftBanner prefixes every governed draft response. The banner travels
// with the text: the approval record, the persisted message, and the first
// streamed chunk all carry it.
const DraftBanner = "[DRAFT - requires approval before use]\n\n"

// defaultContextTokens is the history budget handed to the session store
// when the profile does not set one.
const defaultContextTokens = 2000

// Profile names a reusable model configuration selectable per request.
type Profile struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	ContextTokens int
	SystemPrompt  string
}

// Request is one user message to mediate.
type Request struct {
	SessionID string
	UserID    string
	Query     string
	Profile   string
}

// Result is the synchronous outcome of one mediated request.
type Result struct {
	RequestID  string         `json:"request_id"`
	Text       string         `json:"text"`
	Model      string         `json:"model,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Usage      provider.Usage `json:"usage"`
	LatencyMs  float64        `json:"latency_ms"`
	Mode       string         `json:"hitl_mode"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Streamed   bool           `json:"streamed"`
}

// Chunk is one item of a streamed response. Exactly one chunk per stream
// carries Done true, and it is the last.
type Chunk struct {
	Text     string `json:"text,omitempty"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Mode     string `json:"hitl_mode,omitempty"`
	Done     bool   `json:"done"`
}

// Classifier maps free text to a business domain.
type Classifier interface {
	Classify(ctx context.Context, text string) *intent.Intent
}

// Detector scans text for regulated-content signals.
type Detector interface {
	Assess(text string) *risk.Assessment
}

// Policy evaluates one request against the governance rule set.
type Policy interface {
	Evaluate(in *governance.EvalInput) *governance.Decision
}

// ModelRouter dispatches completions across the backend fallback chain.
type ModelRouter interface {
	Route(ctx context.Context, messages []provider.Message, opts router.Options) (*router.Result, error)
	RouteStream(ctx context.Context, messages []provider.Message, opts router.Options) (*router.StreamResult, error)
}

// SessionStore persists conversation history and assembles model context.
type SessionStore interface {
	EnsureSession(ctx context.Context, id, userID string) error
	AddMessage(ctx context.Context, sessionID, role, content string) error
	BuildContext(ctx context.Context, sessionID string, tokenBudget int) ([]provider.Message, error)
}

// Approvals queues items for human review.
type Approvals interface {
	CreateApproval(ctx context.Context, p hitl.CreateParams) (*hitl.Approval, error)
}

// Retriever fetches optional grounding context. May be nil.
type Retriever interface {
	Retrieve(ctx context.Context, query, domain string) (string, error)
}

// Orchestrator drives the full pipeline for one user message:
// classify, assess risk, evaluate policy, then escalate, draft, or proceed
// to a routed model call, with persistence and audit as terminal side
// effects.
type Orchestrator struct {
	classifier Classifier
	detector   Detector
	policy     Policy
	router     ModelRouter
	sessions   SessionStore
	approvals  Approvals
	retriever  Retriever
	events     audit.EventWriter

	identity string
	profiles map[string]Profile
	logger   *zap.Logger
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Classifier Classifier
	Detector   Detector
	Policy     Policy
	Router     ModelRouter
	Sessions   SessionStore
	Approvals  Approvals
	Retriever  Retriever // optional
	Events     audit.EventWriter

	Identity string // agent identity line of the system prompt
	Profiles map[string]Profile
}

func New(cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		classifier: cfg.Classifier,
		detector:   cfg.Detector,
		policy:     cfg.Policy,
		router:     cfg.Router,
		sessions:   cfg.Sessions,
		approvals:  cfg.Approvals,
		retriever:  cfg.Retriever,
		events:     cfg.Events,
		identity:   cfg.Identity,
		profiles:   cfg.Profiles,
		logger:     logger,
	}
}

// evaluation carries the per-request pipeline state shared by the sync and
// streaming paths.
type evaluation struct {
	requestID string
	start     time.Time
	intent    *intent.Intent
	risk      *risk.Assessment
	decision  *governance.Decision
	profile   Profile
}

// evaluate runs CLASSIFY, ASSESS_RISK, and EVALUATE_POLICY, persisting the
// user's message along the way. Pure pipeline stages never fail; only the
// outcome differs.
func (o *Orchestrator) evaluate(ctx context.Context, req *Request) *evaluation {
	ev := &evaluation{
		requestID: uuid.New().String(),
		start:     time.Now(),
		profile:   o.profiles[req.Profile],
	}

	if err := o.sessions.EnsureSession(ctx, req.SessionID, req.UserID); err != nil {
		o.logger.Warn("session upsert failed", zap.Error(err))
	}
	if err := o.sessions.AddMessage(ctx, req.SessionID, provider.RoleUser, req.Query); err != nil {
		o.logger.Warn("user message persist failed", zap.Error(err))
	}

	ev.intent = o.classifier.Classify(ctx, req.Query)
	ev.risk = o.detector.Assess(req.Query)
	ev.decision = o.policy.Evaluate(&governance.EvalInput{
		Query:  req.Query,
		Intent: ev.intent,
		Risk:   ev.risk,
	})

	o.logger.Info("request evaluated",
		zap.String("request_id", ev.requestID),
		zap.String("session_id", req.SessionID),
		zap.String("domain", ev.intent.Domain),
		zap.Float64("confidence", ev.intent.Confidence),
		zap.Strings("risk_signals", ev.risk.Signals),
		zap.String("mode", ev.decision.Mode.String()),
		zap.Bool("local_only", ev.decision.LocalOnly),
	)
	return ev
}

// HandleMessage is the synchronous entry point.
func (o *Orchestrator) HandleMessage(ctx context.Context, req *Request) (*Result, error) {
	ev := o.evaluate(ctx, req)

	if ev.decision.Mode == hitl.ModeEscalate {
		return o.handleEscalation(ctx, req, ev, false)
	}

	messages := o.assembleMessages(ctx, req, ev)
	routed, err := o.router.Route(ctx, messages, o.routeOptions(req, ev))
	if err != nil {
		return nil, fmt.Errorf("HandleMessage: %w", err)
	}

	text := routed.Text
	var approvalID string
	if ev.decision.Mode == hitl.ModeDraft {
		text = DraftBanner + text
		approvalID = o.queueDraftApproval(ctx, req, ev, text)
	}

	o.persistAssistant(ctx, req.SessionID, text)
	o.recordEvent(req, ev, &modelOutcome{
		provider:     routed.Provider,
		model:        routed.Model,
		usage:        routed.Usage,
		cost:         routed.Cost,
		attemptCount: routed.AttemptCount,
		failed:       routed.FailedProviders,
		approvalID:   approvalID,
		streamed:     false,
	})

	return &Result{
		RequestID:  ev.requestID,
		Text:       text,
		Model:      routed.Model,
		Provider:   routed.Provider,
		Usage:      routed.Usage,
		LatencyMs:  float64(time.Since(ev.start)) / float64(time.Millisecond),
		Mode:       ev.decision.Mode.String(),
		ApprovalID: approvalID,
		Streamed:   false,
	}, nil
}

// handleEscalation finishes an ESCALATE decision: no model call, a fixed
// explanation persisted as the assistant's message, a high-priority
// approval, and a warning-level audit event.
func (o *Orchestrator) handleEscalation(ctx context.Context, req *Request, ev *evaluation, streamed bool) (*Result, error) {
	text := escalationText(ev.intent, ev.decision)

	var approvalID string
	a, err := o.approvals.CreateApproval(ctx, hitl.CreateParams{
		SessionID:           req.SessionID,
		Mode:                hitl.ModeEscalate,
		Priority:            hitl.PriorityHigh,
		OriginalQuery:       req.Query,
		RiskSignals:         ev.risk.Signals,
		GuardrailsTriggered: ev.decision.Guardrails,
		EscalationReason:    ev.decision.EscalationReason,
	})
	if err != nil {
		o.logger.Error("escalation approval queue failed", zap.Error(err))
	} else {
		approvalID = a.ID
	}

	o.persistAssistant(ctx, req.SessionID, text)
	o.recordEvent(req, ev, &modelOutcome{approvalID: approvalID, streamed: streamed})

	return &Result{
		RequestID:  ev.requestID,
		Text:       text,
		LatencyMs:  float64(time.Since(ev.start)) / float64(time.Millisecond),
		Mode:       hitl.ModeEscalate.String(),
		ApprovalID: approvalID,
		Streamed:   streamed,
	}, nil
}

// queueDraftApproval queues a medium-priority approval carrying the
// already-banner-prefixed text as the proposed response. Best-effort: a
// queue failure is logged, not surfaced.
func (o *Orchestrator) queueDraftApproval(ctx context.Context, req *Request, ev *evaluation, proposed string) string {
	a, err := o.approvals.CreateApproval(ctx, hitl.CreateParams{
		SessionID:           req.SessionID,
		Mode:                hitl.ModeDraft,
		Priority:            hitl.PriorityMedium,
		OriginalQuery:       req.Query,
		ProposedResponse:    proposed,
		RiskSignals:         ev.risk.Signals,
		GuardrailsTriggered: ev.decision.Guardrails,
	})
	if err != nil {
		o.logger.Error("draft approval queue failed", zap.Error(err))
		return ""
	}
	return a.ID
}

// assembleMessages builds the system prompt and conversation context for a
// model call. The user's current message is already in the session history.
func (o *Orchestrator) assembleMessages(ctx context.Context, req *Request, ev *evaluation) []provider.Message {
	budget := ev.profile.ContextTokens
	if budget <= 0 {
		budget = defaultContextTokens
	}

	var retrieved string
	if o.retriever != nil {
		var err error
		retrieved, err = o.retriever.Retrieve(ctx, req.Query, ev.intent.Domain)
		if err != nil {
			// Treated as no context. The client already logs its own failures.
			retrieved = ""
		}
	}

	messages := []provider.Message{{
		Role:    provider.RoleSystem,
		Content: o.systemPrompt(ev, retrieved),
	}}

	history, err := o.sessions.BuildContext(ctx, req.SessionID, budget)
	if err != nil {
		o.logger.Warn("context build failed, proceeding with query only", zap.Error(err))
		history = nil
	}
	messages = append(messages, history...)

	// If persistence failed earlier the query may be missing from history;
	// make sure the model always sees it as the final user turn.
	if len(history) == 0 || history[len(history)-1].Content != req.Query {
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: req.Query})
	}
	return messages
}

// systemPrompt layers agent identity, profile instructions, and
// governance-derived constraints, plus retrieved context when present.
func (o *Orchestrator) systemPrompt(ev *evaluation, retrieved string) string {
	var b strings.Builder
	b.WriteString(o.identity)

	if ev.profile.SystemPrompt != "" {
		b.WriteString("\n\n")
		b.WriteString(ev.profile.SystemPrompt)
	}

	if len(ev.decision.Guardrails) > 0 {
		b.WriteString("\n\nGovernance constraints in effect:\n")
		for _, g := range ev.decision.Guardrails {
			b.WriteString("- ")
			b.WriteString(g)
			b.WriteString("\n")
		}
	}
	if ev.decision.LocalOnly {
		b.WriteString("\nThis conversation contains sensitive material. Do not suggest sharing it with external parties or services.\n")
	}

	if retrieved != "" {
		b.WriteString("\nRelevant reference material:\n")
		b.WriteString(retrieved)
		b.WriteString("\n")
	}
	return b.String()
}

func (o *Orchestrator) routeOptions(req *Request, ev *evaluation) router.Options {
	return router.Options{
		Model:       ev.profile.Model,
		Profile:     req.Profile,
		Temperature: ev.profile.Temperature,
		MaxTokens:   ev.profile.MaxTokens,
		LocalOnly:   ev.decision.LocalOnly,
	}
}

// persistAssistant writes the assistant's message once. Failures are logged
// and swallowed: audit of record lives in the event stream.
func (o *Orchestrator) persistAssistant(ctx context.Context, sessionID, text string) {
	if err := o.sessions.AddMessage(ctx, sessionID, provider.RoleAssistant, text); err != nil {
		o.logger.Error("assistant message persist failed", zap.Error(err))
	}
}

// escalationText renders the fixed-template explanation returned in place
// of a model response.
func escalationText(it *intent.Intent, d *governance.Decision) string {
	var b strings.Builder
	b.WriteString("This request requires human review before a response can be produced.\n\n")
	fmt.Fprintf(&b, "Domain: %s\n", it.Domain)
	if d.EscalationReason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", d.EscalationReason)
	}
	if len(d.PolicyTriggers) > 0 {
		fmt.Fprintf(&b, "Policies triggered: %s\n", strings.Join(d.PolicyTriggers, ", "))
	}
	b.WriteString("\nA reviewer has been notified. The request will be handled within the review SLA.")
	return b.String()
}

// modelOutcome is what the model call (if any) contributed to the audit
// event.
type modelOutcome struct {
	provider     string
	model        string
	usage        provider.Usage
	cost         float64
	attemptCount int
	failed       []string
	approvalID   string
	streamed     bool
}

// recordEvent emits the request's audit/analytics event. The writer is
// non-blocking and best-effort by construction.
func (o *Orchestrator) recordEvent(req *Request, ev *evaluation, out *modelOutcome) {
	eventType := "completion"
	switch ev.decision.Mode {
	case hitl.ModeEscalate:
		eventType = "escalation"
	case hitl.ModeDraft:
		eventType = "draft"
	}

	o.events.Write(&audit.Event{
		RequestID:        ev.requestID,
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		Timestamp:        time.Now().UTC(),
		EventType:        eventType,
		QueryPreview:     audit.TruncateQuery(req.Query, audit.QueryPreviewLength),
		Domain:           ev.intent.Domain,
		Confidence:       float32(ev.intent.Confidence),
		RiskSignals:      ev.risk.Signals,
		RiskLevel:        string(ev.risk.Level),
		Mode:             ev.decision.Mode.String(),
		LocalOnly:        ev.decision.LocalOnly,
		PolicyTriggers:   ev.decision.PolicyTriggers,
		Guardrails:       ev.decision.Guardrails,
		EscalationReason: ev.decision.EscalationReason,
		ApprovalID:       out.approvalID,
		Provider:         out.provider,
		Model:            out.model,
		PromptTokens:     uint32(out.usage.PromptTokens),
		CompletionTokens: uint32(out.usage.CompletionTokens),
		CostUSD:          float32(out.cost),
		LatencyMs:        float32(time.Since(ev.start)) / float32(time.Millisecond),
		Streamed:         out.streamed,
		AttemptCount:     uint8(out.attemptCount),
		FailedProviders:  out.failed,
	})
}
