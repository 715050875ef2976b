package audit

import "time"

// EventWriter is the interface for writing governance events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *Event)
	Close()
}

// Event records one mediated request end to end: classification, risk
// signals, the governance decision, and the model call outcome if one
// happened.
type Event struct {
	RequestID        string
	SessionID        string
	UserID           string
	Timestamp        time.Time
	EventType        string // "completion", "escalation", "draft", "warning"
	QueryPreview     string // first 500 chars
	Domain           string
	Confidence       float32
	RiskSignals      []string
	RiskLevel        string
	Mode             string
	LocalOnly        bool
	PolicyTriggers   []string
	Guardrails       []string
	EscalationReason string
	ApprovalID       string
	Provider         string
	Model            string
	PromptTokens     uint32
	CompletionTokens uint32
	CostUSD          float32
	LatencyMs        float32
	Streamed         bool
	AttemptCount     uint8
	FailedProviders  []string
}

// QueryPreviewLength is the max chars stored in query_preview.
const QueryPreviewLength = 500

// TruncateQuery returns the first N characters (runes) of a query for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateQuery(query string, maxLen int) string {
	runes := []rune(query)
	if len(runes) <= maxLen {
		return query
	}
	return string(runes[:maxLen])
}
