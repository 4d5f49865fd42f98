package common

// EvidencePath is one rendered traversal through the graph. Label is a
// short human-readable caption, Triples the ordered hop renderings in
// `Image[IMG201] -HAS_FINDING-> Finding[F1]` form. Pattern records which
// traversal pattern produced the path.
type EvidencePath struct {
	Label   string   `json:"label"`
	Triples []string `json:"triples"`
	Score   float64  `json:"score"`
	Pattern string   `json:"pattern,omitempty"`
}

// ImageFacts is the compact fact sheet for one image: its deduplicated
// findings ordered by confidence.
type ImageFacts struct {
	ID       string    `json:"id"`
	Findings []Finding `json:"findings"`
}

// Fallback reasons recorded on a bundle when no graph path survived.
const (
	FallbackReasonNoGraphPaths    = "no_graph_paths"
	FallbackReasonRetrievalFailed = "retrieval_failed"
)

// EdgeStat aggregates one relation kind around an image: how many edges
// and their average confidence (HasConf false when none is recorded).
type EdgeStat struct {
	Relation Relation `json:"relation"`
	Count    int      `json:"count"`
	AvgConf  float64  `json:"avg_conf"`
	HasConf  bool     `json:"has_conf"`
}

// EvidenceBundle is the assembled context for one image. When FallbackUsed
// is set the paths were synthesized from facts and carry no graph weight;
// GraphStrength stays zero in that case.
type EvidenceBundle struct {
	Summary         []EdgeStat     `json:"summary"`
	Facts           ImageFacts     `json:"facts"`
	Paths           []EvidencePath `json:"paths"`
	RequestedK      int            `json:"requested_k"`
	PathTripleTotal int            `json:"path_triple_total"`
	GraphStrength   float64        `json:"graph_strength"`
	FallbackUsed    bool           `json:"fallback_used"`
	FallbackReason  string         `json:"fallback_reason,omitempty"`
	Slots           map[string]int `json:"slot_limits,omitempty"`
	SlotRebalanced  bool           `json:"slot_rebalanced"`
	SlotInfeasible  bool           `json:"slot_infeasible"`
}

// HasGraphEvidence reports whether the bundle carries real graph paths, as
// opposed to synthesized fallback paths or nothing at all.
func (b EvidenceBundle) HasGraphEvidence() bool {
	return !b.FallbackUsed && len(b.Paths) > 0
}
