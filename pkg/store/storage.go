package store

import (
	"context"
	"errors"

	"github.com/triad-med/triad/pkg/common"
)

// Traversal pattern names. Declaration order is load-bearing: slot
// redistribution breaks ties in this order, so keep it stable.
const (
	PatternFindings   = "findings"
	PatternReports    = "reports"
	PatternSimilarity = "similarity"
)

// Patterns lists every traversal pattern in declaration order.
var Patterns = []string{PatternFindings, PatternReports, PatternSimilarity}

var (
	ErrStudyNotFound  = errors.New("study not found")
	ErrUnknownPattern = errors.New("unknown traversal pattern")
)

// Neighborhood is the one-shot retrieval result around an image. Paths,
// facts and the edge summary are all derived from the same Neighborhood
// value, so the three views can never contradict each other.
type Neighborhood struct {
	ImageID        string                `json:"image_id"`
	Findings       []common.Finding      `json:"findings"`
	Reports        []common.Report       `json:"reports"`
	Similar        []common.SimilarImage `json:"similar"`
	InferenceCount int                   `json:"inference_count,omitempty"`
}

// GraphStorage is the persistence boundary of the imaging graph. It covers
// study lifecycle, ingest upserts, the neighborhood retrieval feeding
// evidence assembly, and the persisted inference history.
type GraphStorage interface {
	// Neighborhood loads everything attached to an image in one call.
	// Findings arrive confidence desc, reports confidence desc, similars
	// score desc; each with a deterministic id tiebreak.
	Neighborhood(ctx context.Context, imageID string) (Neighborhood, error)

	// Similarity. SemanticNeighbors returns embedding-space candidates with
	// a pure semantic score; SimilarImages returns the materialized
	// SIMILAR_TO edges.
	SemanticNeighbors(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error)
	SimilarImages(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error)
	LinkSimilar(ctx context.Context, imageID string, neighbors []common.SimilarImage) error

	// Study lifecycle.
	SaveStudy(ctx context.Context, study common.Study) error
	GetStudy(ctx context.Context, id string) (common.Study, error)
	ListStudies(ctx context.Context, limit, offset int) ([]common.Study, error)
	SetStudyStatus(ctx context.Context, id string, status common.StudyStatus) error
	DeleteStudy(ctx context.Context, id string) error

	// Ingest upserts. SaveFindings returns the node ids in input order.
	SaveReport(ctx context.Context, report common.Report) error
	SaveFindings(ctx context.Context, imageID string, findings []common.Finding) ([]string, error)

	// Inference history. SaveInference upserts by id, so idempotent
	// analysis runs replace their record instead of growing the list.
	SaveInference(ctx context.Context, inf common.Inference) error
	ListInferences(ctx context.Context, imageID string, limit int) ([]common.Inference, error)
}
