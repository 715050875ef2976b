package risk

import (
	"github.com/meridian-ai/meridian/internal/hitl"
)

// Level is the coarse risk bucket derived from signal count.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// SignalDetail explains why one signal fired, for downstream explanation
// and approval records.
type SignalDetail struct {
	Mode        hitl.Mode
	LocalOnly   bool
	MatchedText string
	Description string
}

// Assessment is the detector's output for one request. Ephemeral; owned
// exclusively by the call that produced it.
type Assessment struct {
	Signals []string
	Details map[string]SignalDetail
	Level   Level
}

// HasRisk reports whether any signal fired.
func (a *Assessment) HasRisk() bool {
	return len(a.Signals) > 0
}

// Has reports whether a specific signal fired.
func (a *Assessment) Has(name string) bool {
	_, ok := a.Details[name]
	return ok
}

// Detector scans text against a signal registry. Purely textual; no I/O.
type Detector struct {
	registry *Registry
}

func NewDetector(registry *Registry) *Detector {
	return &Detector{registry: registry}
}

// Assess tests every registered signal's patterns in declaration order. A
// signal fires on its first matching pattern. Level is derived from the
// fired-signal count: 0 low, 1-2 medium, 3+ high.
func (d *Detector) Assess(text string) *Assessment {
	a := &Assessment{Details: make(map[string]SignalDetail)}

	for _, sig := range d.registry.Signals() {
		for _, re := range sig.Patterns {
			loc := re.FindString(text)
			if loc == "" {
				continue
			}
			a.Signals = append(a.Signals, sig.Name)
			a.Details[sig.Name] = SignalDetail{
				Mode:        sig.DefaultMode,
				LocalOnly:   sig.LocalOnly,
				MatchedText: loc,
				Description: sig.Description,
			}
			break
		}
	}

	switch {
	case len(a.Signals) == 0:
		a.Level = LevelLow
	case len(a.Signals) <= 2:
		a.Level = LevelMedium
	default:
		a.Level = LevelHigh
	}
	return a
}
