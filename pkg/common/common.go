package common

import "time"

// Relation names the edge kinds of the imaging graph. The set is closed:
// storage rejects edges outside of it.
type Relation string

const (
	RelationHasFinding   Relation = "HAS_FINDING"
	RelationLocatedIn    Relation = "LOCATED_IN"
	RelationDescribedBy  Relation = "DESCRIBED_BY"
	RelationSimilarTo    Relation = "SIMILAR_TO"
	RelationHasInference Relation = "HAS_INFERENCE"
)

// StudyStatus tracks a study through the ingest pipeline.
type StudyStatus string

const (
	StudyStatusQueued     StudyStatus = "queued"
	StudyStatusProcessing StudyStatus = "processing"
	StudyStatusReady      StudyStatus = "ready"
	StudyStatusFailed     StudyStatus = "failed"
)

// Study represents one imaging study: a single image object plus the
// metadata needed to ground analysis (modality drives both similarity
// scoring and the modality-consistency checks).
type Study struct {
	ID         string      `json:"id"`
	PatientRef string      `json:"patient_ref,omitempty"`
	Modality   string      `json:"modality"`
	BodyPart   string      `json:"body_part,omitempty"`
	ObjectKey  string      `json:"object_key"`
	Status     StudyStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Finding is a structured observation extracted from a report or a mode
// output. Size is in centimeters; Confidence in [0,1]. ReportConf is only
// populated on graph facts: the confidence of the DESCRIBED_BY edge whose
// report asserted the finding.
type Finding struct {
	ID         string  `json:"id,omitempty"`
	Type       string  `json:"type"`
	Location   string  `json:"location"`
	Size       float64 `json:"size,omitempty"`
	Confidence float64 `json:"confidence"`
	ReportConf float64 `json:"report_conf,omitempty"`
}

// Report is the textual radiology report attached to an image. The ID is
// content-derived so re-attaching the same report is idempotent.
// Confidence is the DESCRIBED_BY edge confidence: 1.0 for human-authored
// reports, the extraction confidence for model-derived ones.
type Report struct {
	ID         string    `json:"id"`
	ImageID    string    `json:"image_id"`
	Text       string    `json:"text"`
	Model      string    `json:"model,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SimilarImage is one neighbor produced by the similarity linker, with the
// blended score and the basis string recorded on the SIMILAR_TO edge.
type SimilarImage struct {
	ID       string  `json:"id"`
	Modality string  `json:"modality"`
	Score    float64 `json:"score"`
	Basis    string  `json:"basis"`
}

// Inference is a persisted consensus run, attached to the image with a
// HAS_INFERENCE edge.
type Inference struct {
	ID        string          `json:"id"`
	ImageID   string          `json:"image_id"`
	Result    ConsensusResult `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}
