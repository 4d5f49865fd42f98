package common

// Mode names one inference configuration. V reads only the image, VL adds
// the report text, VGL additionally receives the assembled evidence bundle.
type Mode string

const (
	ModeV   Mode = "V"
	ModeVL  Mode = "VL"
	ModeVGL Mode = "VGL"
)

// ParseMode validates a mode name. Unknown names return false.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeV, ModeVL, ModeVGL:
		return Mode(s), true
	}
	return "", false
}

// ModeOutput is the raw result of one mode run. Degraded carries a reason
// code when the mode completed in a reduced form (parse failure, graph
// mismatch, VGL fallback to VL). Err is set when the mode failed outright
// and produced no usable text.
type ModeOutput struct {
	Mode     Mode           `json:"mode"`
	Text     string         `json:"text"`
	Findings []Finding      `json:"findings,omitempty"`
	Paths    []EvidencePath `json:"paths,omitempty"`
	Degraded string         `json:"degraded,omitempty"`
	Err      error          `json:"-"`
}

// Usable reports whether the output can participate in consensus.
func (o ModeOutput) Usable() bool {
	return o.Err == nil && o.Text != ""
}

// Consensus status values.
const (
	StatusAgree         = "agree"
	StatusWeakAgree     = "weak_agree"
	StatusConflict      = "conflict"
	StatusDegraded      = "degraded"
	StatusLowConfidence = "low_confidence"
)

// Confidence bands derived from the aggregate score.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// AgreementComponents breaks the winning pair score into its weighted
// parts, for explainability.
type AgreementComponents struct {
	Text       float64 `json:"text"`
	Structured float64 `json:"structured"`
	Graph      float64 `json:"graph"`
}

// ConsensusResult is the final verdict across the mode outputs.
//
// Supporting lists modes whose agreement with the winning text cleared the
// minimum threshold, Disagreeing the rest. Degraded lists modes that were
// excluded from the aggregate (graph mismatch under an anchor override, or
// inputs that already arrived degraded). Notes always explain how the
// verdict was reached.
type ConsensusResult struct {
	Text        string              `json:"text"`
	Status      string              `json:"status"`
	Confidence  string              `json:"confidence"`
	Score       float64             `json:"score"`
	Anchor      string              `json:"anchor,omitempty"`
	Supporting  []string            `json:"supporting"`
	Disagreeing []string            `json:"disagreeing"`
	Degraded    []string            `json:"degraded,omitempty"`
	ModeWeights map[string]float64  `json:"mode_weights"`
	Components  AgreementComponents `json:"agreement_components"`
	Notes       []string            `json:"notes"`
}
