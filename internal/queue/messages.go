package queue

// IngestMessage asks the worker to build or extend a study's subgraph.
// Exactly one of ReportText and ReportObjectKey is set: inline text is
// processed as-is, an object key is fetched from storage and parsed first.
type IngestMessage struct {
	ImageID         string `json:"image_id"`
	ReportText      string `json:"report_text,omitempty"`
	ReportObjectKey string `json:"report_object_key,omitempty"`
}

// SimilarityMessage asks the worker to recompute the similar-image edges
// of one study.
type SimilarityMessage struct {
	ImageID string `json:"image_id"`
}

// DeleteMessage asks the worker to remove a study's subgraph and its
// stored objects.
type DeleteMessage struct {
	ImageID string `json:"image_id"`
}
