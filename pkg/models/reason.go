package models

// Severity grades a SecurityReason's seriousness.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// weight maps a severity to its contribution in a severity-weighted sum,
// per spec.md §4.2 stage 1 (critical=40, high=25, medium=15, low=5).
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 5
	default:
		return 0
	}
}

// ReasonSource identifies which stage produced a SecurityReason.
type ReasonSource string

const (
	SourceContext    ReasonSource = "context"
	SourceTransaction ReasonSource = "transaction"
	SourceAddress    ReasonSource = "address"
	SourceContract   ReasonSource = "contract"
	SourceBehavioral ReasonSource = "behavioral"
	SourcePolicy     ReasonSource = "policy"
)

// SecurityReason is an immutable finding emitted by a pipeline stage.
type SecurityReason struct {
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Severity Severity     `json:"severity"`
	Source   ReasonSource `json:"source"`
}

// RiskScores holds the four component scores, each in [0,100].
type RiskScores struct {
	Context     int `json:"context"`
	Transaction int `json:"transaction"`
	Behavioral  int `json:"behavioral"`
	Composite   int `json:"composite"`
}

// Clamp clamps all four scores into [0,100] in place.
func (r *RiskScores) Clamp() {
	r.Context = clampScore(r.Context)
	r.Transaction = clampScore(r.Transaction)
	r.Behavioral = clampScore(r.Behavioral)
	r.Composite = clampScore(r.Composite)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
