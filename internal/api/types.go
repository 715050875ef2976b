package api

import (
	"encoding/json"
	"time"

	"github.com/meridian-ai/meridian/internal/governance"
	"github.com/meridian-ai/meridian/internal/hitl"
)

// ErrorResp is the uniform error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// ChatRequest is the body of POST /v1/chat and /v1/chat/stream, and the
// first WebSocket frame.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Profile   string `json:"profile,omitempty"`
}

// RuleBody is the create/update payload for a standard governance rule.
type RuleBody struct {
	Name       string          `json:"name"`
	Mode       string          `json:"hitl_mode"`
	LocalOnly  bool            `json:"local_only"`
	Guardrail  string          `json:"guardrail,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Conditions json.RawMessage `json:"conditions"`
}

// RuleResp serializes one governance rule.
type RuleResp struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Tier       string                `json:"tier"`
	Mode       string                `json:"hitl_mode"`
	LocalOnly  bool                  `json:"local_only"`
	Immutable  bool                  `json:"immutable"`
	Guardrail  string                `json:"guardrail,omitempty"`
	Reason     string                `json:"reason,omitempty"`
	Conditions governance.Conditions `json:"conditions"`
}

func toRuleResp(r *governance.Rule) RuleResp {
	return RuleResp{
		ID:         r.ID,
		Name:       r.Name,
		Tier:       r.Tier,
		Mode:       r.Mode.String(),
		LocalOnly:  r.LocalOnly,
		Immutable:  r.Immutable,
		Guardrail:  r.Guardrail,
		Reason:     r.Reason,
		Conditions: r.Conditions,
	}
}

// TopicBody is the payload for adding a prohibited topic.
type TopicBody struct {
	Topic   string `json:"topic"`
	Scope   string `json:"scope,omitempty"`
	ScopeID string `json:"scope_id,omitempty"`
}

// TopicResp serializes one prohibited topic.
type TopicResp struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id,omitempty"`
}

func toTopicResp(t *governance.Topic) TopicResp {
	return TopicResp{ID: t.ID, Topic: t.Topic, Scope: t.Scope, ScopeID: t.ScopeID}
}

// VersionResp serializes one version-log entry. The snapshot is included so
// an operator can inspect what a rollback would restore.
type VersionResp struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Snapshot    []RuleResp `json:"snapshot"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toVersionResp(v *governance.Version) VersionResp {
	snap := make([]RuleResp, 0, len(v.Snapshot))
	for _, r := range v.Snapshot {
		snap = append(snap, toRuleResp(r))
	}
	return VersionResp{ID: v.ID, Description: v.Description, Snapshot: snap, CreatedAt: v.CreatedAt}
}

// ReviewBody is the payload for approving or rejecting an approval.
type ReviewBody struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note,omitempty"`
}

// ApprovalResp serializes one approval queue item.
type ApprovalResp struct {
	ID                  string     `json:"id"`
	SessionID           string     `json:"session_id"`
	Mode                string     `json:"hitl_mode"`
	Priority            string     `json:"priority"`
	Status              string     `json:"status"`
	OriginalQuery       string     `json:"original_query"`
	ProposedResponse    string     `json:"proposed_response,omitempty"`
	RiskSignals         []string   `json:"risk_signals,omitempty"`
	GuardrailsTriggered []string   `json:"guardrails_triggered,omitempty"`
	EscalationReason    string     `json:"escalation_reason,omitempty"`
	Reviewer            string     `json:"reviewer,omitempty"`
	ReviewNote          string     `json:"review_note,omitempty"`
	SLADeadline         time.Time  `json:"sla_deadline"`
	CreatedAt           time.Time  `json:"created_at"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
}

func toApprovalResp(a *hitl.Approval) ApprovalResp {
	return ApprovalResp{
		ID:                  a.ID,
		SessionID:           a.SessionID,
		Mode:                a.Mode.String(),
		Priority:            string(a.Priority),
		Status:              a.Status,
		OriginalQuery:       a.OriginalQuery,
		ProposedResponse:    a.ProposedResponse,
		RiskSignals:         a.RiskSignals,
		GuardrailsTriggered: a.GuardrailsTriggered,
		EscalationReason:    a.EscalationReason,
		Reviewer:            a.Reviewer,
		ReviewNote:          a.ReviewNote,
		SLADeadline:         a.SLADeadline,
		CreatedAt:           a.CreatedAt,
		ResolvedAt:          a.ResolvedAt,
	}
}

// ClientBody is the payload for creating an API client.
type ClientBody struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// ClientResp serializes a created API client. APIKey is only present on
// creation; it is never retrievable again.
type ClientResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	APIKey       string    `json:"api_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
