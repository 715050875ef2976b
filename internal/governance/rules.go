package governance

import (
	"strings"

	"github.com/meridian-ai/meridian/internal/hitl"
	"github.com/meridian-ai/meridian/internal/intent"
	"github.com/meridian-ai/meridian/internal/risk"
)

// Rule tiers.
const (
	TierConstitutional = "constitutional"
	TierStandard       = "standard"
)

// EvalInput bundles what a rule check sees: the raw query plus the
// classifier and detector output for this request.
type EvalInput struct {
	Query  string
	Intent *intent.Intent
	Risk   *risk.Assessment
}

// Conditions is the data-only representation of a standard rule's check.
// Each set field is a conjunct; list fields match any-of. Persisted rules
// stay portable across processes because no executable code is stored.
type Conditions struct {
	DomainEquals    string   `json:"domain_equals,omitempty"`
	SignalsAny      []string `json:"signals_any,omitempty"`
	KeywordsAny     []string `json:"keywords_any,omitempty"`
	ConfidenceBelow *float64 `json:"confidence_below,omitempty"`
}

// empty reports whether no condition kind is set. An empty Conditions never
// triggers; rules must name at least one condition.
func (c Conditions) empty() bool {
	return c.DomainEquals == "" && len(c.SignalsAny) == 0 &&
		len(c.KeywordsAny) == 0 && c.ConfidenceBelow == nil
}

// match interprets the conditions against the input. All set conjuncts must
// hold.
func (c Conditions) match(in *EvalInput) bool {
	if c.empty() {
		return false
	}
	if c.DomainEquals != "" && in.Intent.Domain != c.DomainEquals {
		return false
	}
	if len(c.SignalsAny) > 0 {
		hit := false
		for _, s := range c.SignalsAny {
			if in.Risk.Has(s) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if len(c.KeywordsAny) > 0 {
		lower := strings.ToLower(in.Query)
		hit := false
		for _, kw := range c.KeywordsAny {
			if strings.Contains(lower, strings.ToLower(kw)) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if c.ConfidenceBelow != nil && in.Intent.Confidence >= *c.ConfidenceBelow {
		return false
	}
	return true
}

// Rule is one governance policy rule. Constitutional rules are hardcoded
// and immutable; standard rules are persisted rows whose Conditions are
// interpreted at evaluation time. A constitutional rule may carry a Check
// function instead of Conditions.
type Rule struct {
	ID         string
	Name       string
	Tier       string
	Mode       hitl.Mode
	LocalOnly  bool
	Immutable  bool
	Guardrail  string // human-readable description appended to decisions
	Reason     string // escalation reason when Mode is ESCALATE
	Conditions Conditions
	Check      func(*EvalInput) bool `json:"-"`
}

// Triggered reports whether the rule fires for the input.
func (r *Rule) Triggered(in *EvalInput) bool {
	if r.Check != nil {
		return r.Check(in)
	}
	return r.Conditions.match(in)
}

// ConstitutionalRules returns the fixed rule set evaluated before any
// dynamic rule. These can never be created, edited, or deleted at runtime.
func ConstitutionalRules() []*Rule {
	return []*Rule{
		{
			ID:        "sensitive-data-local",
			Name:      "Sensitive data stays local",
			Tier:      TierConstitutional,
			Mode:      hitl.ModeDraft,
			LocalOnly: true,
			Immutable: true,
			Guardrail: "responses touching PII, payment, health, or credential data are drafted for review and routed to local backends only",
			Conditions: Conditions{
				SignalsAny: []string{"PII", "PAYMENT_CARD", "HEALTH", "CREDENTIALS"},
			},
		},
		{
			ID:        "no-external-posting",
			Name:      "No unreviewed external statements",
			Tier:      TierConstitutional,
			Mode:      hitl.ModeEscalate,
			Immutable: true,
			Guardrail: "external-facing statements are never generated without human signoff",
			Reason:    "request produces an external-facing public statement",
			Conditions: Conditions{
				SignalsAny: []string{"PUBLIC_STATEMENT"},
			},
		},
		{
			ID:        "minors-protection",
			Name:      "Minors data protection",
			Tier:      TierConstitutional,
			Mode:      hitl.ModeEscalate,
			LocalOnly: true,
			Immutable: true,
			Guardrail: "any handling of data concerning minors requires human review",
			Reason:    "request involves data concerning minors",
			Conditions: Conditions{
				SignalsAny: []string{"MINORS"},
			},
		},
		{
			ID:        "regulated-advice-review",
			Name:      "Regulated advice is drafted",
			Tier:      TierConstitutional,
			Mode:      hitl.ModeDraft,
			Immutable: true,
			Guardrail: "financial and legal advice is produced as a draft requiring approval",
			Conditions: Conditions{
				SignalsAny: []string{"FINANCIAL", "LEGAL_ADVICE"},
			},
		},
		{
			ID:        "high-risk-escalation",
			Name:      "High risk escalates",
			Tier:      TierConstitutional,
			Mode:      hitl.ModeEscalate,
			LocalOnly: true,
			Immutable: true,
			Guardrail: "requests firing three or more risk signals are escalated outright",
			Reason:    "request accumulated a high risk level",
			Check: func(in *EvalInput) bool {
				return in.Risk.Level == risk.LevelHigh
			},
		},
	}
}
