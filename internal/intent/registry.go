package intent

import "regexp"

// GeneralDomain is the catch-all domain returned when no registered domain
// scores above the classification floor.
const GeneralDomain = "General"

// Domain describes one business domain the classifier can assign.
// Patterns are strong cues; Keywords are weaker substring cues.
type Domain struct {
	Name     string
	Patterns []*regexp.Regexp
	Keywords []string
	// Exemplars are short representative texts used by the embedding
	// classifier to precompute a domain centroid. Optional.
	Exemplars []string
}

// Registry holds registered domains in declaration order. Iteration order is
// deterministic, which makes tie-breaking stable (first registered wins).
// The registry is owned by the governance subsystem at construction time and
// passed by reference into classifiers; it is not a package-level singleton.
type Registry struct {
	domains []Domain
	byName  map[string]int
}

// NewRegistry creates a registry preloaded with the given domains.
func NewRegistry(domains []Domain) *Registry {
	r := &Registry{byName: make(map[string]int, len(domains))}
	for _, d := range domains {
		r.Register(d)
	}
	return r
}

// Register adds a domain. Registering an existing name replaces its
// definition but keeps its position. Registration is additive only; domains
// are never removed at runtime.
func (r *Registry) Register(d Domain) {
	if idx, ok := r.byName[d.Name]; ok {
		r.domains[idx] = d
		return
	}
	r.byName[d.Name] = len(r.domains)
	r.domains = append(r.domains, d)
}

// Domains returns domains in registration order.
func (r *Registry) Domains() []Domain {
	return r.domains
}

// DefaultDomains returns the base domain set registered at startup.
func DefaultDomains() []Domain {
	return []Domain{
		{
			Name: "Legal",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(nda|non-disclosure|indemnif\w+|liabilit\w+)\b`),
				regexp.MustCompile(`(?i)\b(breach\s+of\s+contract|governing\s+law|arbitration\s+clause)\b`),
			},
			Keywords:  []string{"contract", "clause", "legal", "lawsuit", "compliance", "attorney", "litigation", "regulation"},
			Exemplars: []string{"review this contract clause for liability exposure", "summarize the arbitration provisions in the NDA"},
		},
		{
			Name: "Finance",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(ebitda|balance\s+sheet|cash\s+flow|p&l)\b`),
				regexp.MustCompile(`(?i)\b(quarterly\s+(revenue|earnings)|forecast\w*\s+model)\b`),
			},
			Keywords:  []string{"revenue", "invoice", "budget", "forecast", "audit", "expense", "margin", "valuation"},
			Exemplars: []string{"build a revenue forecast for next quarter", "explain the variance in our expense report"},
		},
		{
			Name: "HR",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(performance\s+review|termination\s+letter|offer\s+letter)\b`),
				regexp.MustCompile(`(?i)\b(pto|paid\s+time\s+off|parental\s+leave)\b`),
			},
			Keywords:  []string{"employee", "hiring", "onboarding", "salary", "benefits", "recruiter", "candidate"},
			Exemplars: []string{"draft an offer letter for a senior engineer", "what is our parental leave policy"},
		},
		{
			Name: "Engineering",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(docker|kubernetes|k8s|terraform|ci/cd)\b`),
				regexp.MustCompile(`(?i)\b(stack\s+trace|segfault|race\s+condition|pull\s+request)\b`),
			},
			Keywords:  []string{"deploy", "api", "database", "server", "code", "bug", "latency", "refactor"},
			Exemplars: []string{"deploy the docker container to kubernetes", "debug this stack trace from the api server"},
		},
		{
			Name: "Healthcare",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(hipaa|phi|diagnos\w+|prescrib\w+)\b`),
				regexp.MustCompile(`(?i)\b(patient\s+(record|chart|intake))\b`),
			},
			Keywords:  []string{"patient", "clinical", "medical", "treatment", "symptom", "provider", "insurance"},
			Exemplars: []string{"summarize this patient intake form", "is this workflow HIPAA compliant"},
		},
		{
			Name: "Marketing",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(press\s+release|brand\s+guideline|campaign\s+brief)\b`),
				regexp.MustCompile(`(?i)\b(seo|ctr|conversion\s+rate)\b`),
			},
			Keywords:  []string{"campaign", "audience", "content", "social", "launch", "messaging", "announcement"},
			Exemplars: []string{"write copy for the product launch campaign", "draft a press release about our funding"},
		},
	}
}
