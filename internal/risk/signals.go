package risk

import (
	"regexp"

	"github.com/meridian-ai/meridian/internal/hitl"
)

// Signal is a named regulated-content category. Patterns are tested in
// declaration order and the signal fires on its first match. DefaultMode is
// the HITL severity the signal contributes when no rule overrides it;
// LocalOnly hints that matching requests should stay on a local backend.
type Signal struct {
	Name        string
	Patterns    []*regexp.Regexp
	DefaultMode hitl.Mode
	LocalOnly   bool
	Description string
}

// Registry holds registered signals in declaration order. Registered once at
// startup; immutable thereafter except for additive registration (e.g. from
// sector templates).
type Registry struct {
	signals []Signal
	byName  map[string]int
}

func NewRegistry(signals []Signal) *Registry {
	r := &Registry{byName: make(map[string]int, len(signals))}
	for _, s := range signals {
		r.Register(s)
	}
	return r
}

// Register adds a signal, replacing an existing one of the same name in
// place so declaration order stays stable.
func (r *Registry) Register(s Signal) {
	if idx, ok := r.byName[s.Name]; ok {
		r.signals[idx] = s
		return
	}
	r.byName[s.Name] = len(r.signals)
	r.signals = append(r.signals, s)
}

// Signals returns signals in registration order.
func (r *Registry) Signals() []Signal {
	return r.signals
}

// Get returns a signal by name, or nil.
func (r *Registry) Get(name string) *Signal {
	idx, ok := r.byName[name]
	if !ok {
		return nil
	}
	return &r.signals[idx]
}

// BaseSignals returns the startup signal set. Patterns are deliberately
// conservative regex, not NLP: a false positive only adds review friction,
// it never blocks a legitimate override.
func BaseSignals() []Signal {
	return []Signal{
		{
			Name: "PII",
			Patterns: []*regexp.Regexp{
				// SSN: 123-45-6789 or 123 45 6789
				regexp.MustCompile(`\b\d{3}[-\s]\d{2}[-\s]\d{4}\b`),
				regexp.MustCompile(`(?i)\b(ssn|social\s+security\s+number)\b`),
				regexp.MustCompile(`(?i)\b(passport|driver'?s\s+licen[sc]e)\s+(number|no\.?|#)`),
				regexp.MustCompile(`(?i)\bdate\s+of\s+birth\b`),
			},
			DefaultMode: hitl.ModeDraft,
			LocalOnly:   true,
			Description: "personally identifiable information",
		},
		{
			Name: "PAYMENT_CARD",
			Patterns: []*regexp.Regexp{
				// Visa: 4xxx
				regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
				// Mastercard: 5[1-5]xx
				regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
				// Amex: 3[47]xx
				regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`),
				regexp.MustCompile(`(?i)\b(cvv|card\s+verification|credit\s+card\s+number)\b`),
			},
			DefaultMode: hitl.ModeDraft,
			LocalOnly:   true,
			Description: "payment card data",
		},
		{
			Name: "FINANCIAL",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(wire\s+transfer|routing\s+number|account\s+number)\b`),
				regexp.MustCompile(`(?i)\b(insider\s+trading|material\s+non-?public)\b`),
				regexp.MustCompile(`\b[A-Z]{2}\d{2}[-\s]?[A-Z0-9]{4}[-\s]?(?:[A-Z0-9]{4}[-\s]?){1,7}[A-Z0-9]{1,4}\b`), // IBAN
			},
			DefaultMode: hitl.ModeDraft,
			LocalOnly:   false,
			Description: "regulated financial content",
		},
		{
			Name: "LEGAL_ADVICE",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(legal\s+advice|should\s+(i|we)\s+sue|is\s+(this|it)\s+legal)\b`),
				regexp.MustCompile(`(?i)\b(settlement\s+offer|plead\s+guilty)\b`),
			},
			DefaultMode: hitl.ModeDraft,
			LocalOnly:   false,
			Description: "legal advice request",
		},
		{
			Name: "HEALTH",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(diagnos\w+|prescri\w+|medical\s+record|phi\b)`),
				regexp.MustCompile(`(?i)\b(patient)\b.{0,40}\b(name|dob|mrn)\b`),
			},
			DefaultMode: hitl.ModeDraft,
			LocalOnly:   true,
			Description: "protected health information",
		},
		{
			Name: "MINORS",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(child|minor|underage|student)\b.{0,40}\b(data|record|photo|address)\b`),
			},
			DefaultMode: hitl.ModeEscalate,
			LocalOnly:   true,
			Description: "data concerning minors",
		},
		{
			Name: "PUBLIC_STATEMENT",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(press\s+release|public\s+statement|official\s+announcement)\b`),
				regexp.MustCompile(`(?i)\b(post|publish|tweet)\b.{0,30}\b(on\s+behalf|company|official)\b`),
				regexp.MustCompile(`(?i)\bannounce\b.{0,40}\b(publicly|to\s+the\s+press|funding)\b`),
			},
			DefaultMode: hitl.ModeEscalate,
			LocalOnly:   false,
			Description: "external-facing public statement",
		},
		{
			Name: "CREDENTIALS",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|password|bearer\s+token)\s*[:=]`),
				regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
				regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`),
			},
			DefaultMode: hitl.ModeDraft,
			LocalOnly:   true,
			Description: "credentials or secrets",
		},
	}
}
