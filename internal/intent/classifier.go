package intent

import "strings"

// Scoring weights for the keyword classifier. A domain scores 0.4 for any
// pattern hit plus 0.15 per keyword present, capped at 1.0. Best scores
// below the floor collapse to General.
const (
	patternWeight = 0.4
	keywordWeight = 0.15
	scoreCap      = 1.0
	classifyFloor = 0.15
)

// Intent is the classification result for one request. Produced fresh per
// request and never persisted; only its summary fields are logged.
type Intent struct {
	Domain     string
	Confidence float64
	AllScores  map[string]float64
}

// Classifier maps free text to a business domain using keyword/regex scoring
// over a registry. It is a pure function over registry state.
type Classifier struct {
	registry *Registry
}

func NewClassifier(registry *Registry) *Classifier {
	return &Classifier{registry: registry}
}

// Classify scores every registered domain and returns the best. Ties keep
// the first domain in registration order. A best score below the floor
// forces General.
func (c *Classifier) Classify(text string) *Intent {
	lower := strings.ToLower(text)

	scores := make(map[string]float64, len(c.registry.Domains()))
	best := ""
	bestScore := 0.0

	for _, d := range c.registry.Domains() {
		if d.Name == GeneralDomain {
			continue
		}
		score := scoreDomain(d, text, lower)
		scores[d.Name] = score
		if score > bestScore {
			best = d.Name
			bestScore = score
		}
	}

	if bestScore < classifyFloor {
		return &Intent{Domain: GeneralDomain, Confidence: 0, AllScores: scores}
	}
	return &Intent{Domain: best, Confidence: bestScore, AllScores: scores}
}

func scoreDomain(d Domain, text, lower string) float64 {
	score := 0.0

	for _, re := range d.Patterns {
		if re.MatchString(text) {
			score += patternWeight
			break
		}
	}

	for _, kw := range d.Keywords {
		if strings.Contains(lower, kw) {
			score += keywordWeight
		}
	}

	if score > scoreCap {
		score = scoreCap
	}
	return score
}
