package hitl

// Mode is the human-in-the-loop gating level attached to a governance
// decision. Modes form a strict total order: Inform < Draft < Escalate.
// Within one policy evaluation the running mode is only ever raised.
type Mode int

const (
	ModeInform Mode = iota
	ModeDraft
	ModeEscalate
)

// String returns the uppercase wire name used in API responses and audit rows.
func (m Mode) String() string {
	switch m {
	case ModeInform:
		return "INFORM"
	case ModeDraft:
		return "DRAFT"
	case ModeEscalate:
		return "ESCALATE"
	default:
		return "INFORM"
	}
}

// ParseMode maps a wire name back to a Mode. Unknown names map to Inform,
// which is the safe floor for rules loaded from the store.
func ParseMode(s string) Mode {
	switch s {
	case "DRAFT":
		return ModeDraft
	case "ESCALATE":
		return ModeEscalate
	default:
		return ModeInform
	}
}

// Max returns the higher of two modes.
func Max(a, b Mode) Mode {
	if b > a {
		return b
	}
	return a
}
