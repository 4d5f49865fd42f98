package analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/triad-med/triad/pkg/common"
)

// Bounds and defaults for one analysis request.
const (
	DefaultMaxChars = 30
	MaxAnswerChars  = 120

	DefaultTimeout = 20 * time.Second
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 60 * time.Second
)

// Pipeline stage names, used for timings ("<stage>_ms") and error entries.
const (
	StageImageLoad = "image_load"
	StageVLM       = "vlm"
	StageUpsert    = "upsert"
	StageContext   = "context"
	StageModeV     = "llm_v"
	StageModeVL    = "llm_vl"
	StageModeVGL   = "llm_vgl"
	StageConsensus = "consensus"
	StagePersist   = "persist"
)

var ErrUnknownMode = errors.New("unknown mode")

// DefaultModes is the mode set used when a request names none.
var DefaultModes = []common.Mode{common.ModeV, common.ModeVL, common.ModeVGL}

// NormalizeModes canonicalizes a requested mode list: names are trimmed and
// upper-cased, duplicates are dropped keeping first occurrence, and an empty
// list falls back to DefaultModes. Unknown names fail the whole request.
func NormalizeModes(names []string) ([]common.Mode, error) {
	if len(names) == 0 {
		return append([]common.Mode(nil), DefaultModes...), nil
	}

	seen := make(map[common.Mode]struct{}, len(names))
	modes := make([]common.Mode, 0, len(names))
	for _, name := range names {
		cleaned := strings.ToUpper(strings.TrimSpace(name))
		if cleaned == "" {
			continue
		}
		mode, ok := common.ParseMode(cleaned)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMode, name)
		}
		if _, dup := seen[mode]; dup {
			continue
		}
		seen[mode] = struct{}{}
		modes = append(modes, mode)
	}
	if len(modes) == 0 {
		return append([]common.Mode(nil), DefaultModes...), nil
	}
	return modes, nil
}

// AnalyzeParams configures one run of the multi-mode pipeline.
//
// The HTTP layer validates bounds before calling; Normalized applies the
// same clamping again so programmatic callers get defined behavior for
// out-of-range values instead of surprises.
type AnalyzeParams struct {
	// ImageID names the study to analyze.
	ImageID string
	// Modes lists the modes to run. Empty means DefaultModes.
	Modes []string
	// K is the evidence path budget, clamped into [1, 10].
	K int
	// MaxChars caps each mode answer, clamped into [1, MaxAnswerChars].
	MaxChars int
	// FallbackToVL controls whether VGL degrades to a VL answer when the
	// graph carries no evidence. Nil means true.
	FallbackToVL *bool
	// Timeout bounds the whole run, clamped into [MinTimeout, MaxTimeout].
	Timeout time.Duration
	// Findings seeds the upsert stage with caller-provided findings, merged
	// with the ones extracted from the visual transcription.
	Findings []common.Finding
	// IdempotencyKey makes the persisted inference id deterministic, so a
	// retried request overwrites its own inference instead of adding one.
	IdempotencyKey string
	// Debug attaches the per-stage debug blob to the response.
	Debug bool
}

// Normalized returns a copy with defaults applied and the mode list
// canonicalized. A missing image id or an unknown mode is an error, every
// numeric field is clamped into its documented range.
func (p AnalyzeParams) Normalized() (AnalyzeParams, error) {
	if strings.TrimSpace(p.ImageID) == "" {
		return AnalyzeParams{}, errors.New("image id is required")
	}

	modes, err := NormalizeModes(p.Modes)
	if err != nil {
		return AnalyzeParams{}, err
	}
	normalized := p
	normalized.ImageID = strings.TrimSpace(p.ImageID)
	normalized.Modes = make([]string, 0, len(modes))
	for _, mode := range modes {
		normalized.Modes = append(normalized.Modes, string(mode))
	}

	if normalized.K <= 0 {
		normalized.K = 2
	}
	if normalized.K > 10 {
		normalized.K = 10
	}
	if normalized.MaxChars <= 0 {
		normalized.MaxChars = DefaultMaxChars
	}
	if normalized.MaxChars > MaxAnswerChars {
		normalized.MaxChars = MaxAnswerChars
	}
	if normalized.FallbackToVL == nil {
		fallback := true
		normalized.FallbackToVL = &fallback
	}
	if normalized.Timeout <= 0 {
		normalized.Timeout = DefaultTimeout
	}
	if normalized.Timeout < MinTimeout {
		normalized.Timeout = MinTimeout
	}
	if normalized.Timeout > MaxTimeout {
		normalized.Timeout = MaxTimeout
	}

	return normalized, nil
}

// StageError records a non-fatal failure of one pipeline stage. The run
// continues past it; the entry tells the caller what degraded and why.
type StageError struct {
	Stage string `json:"stage"`
	Msg   string `json:"msg"`
}

// AnalyzeResponse is the full result of one pipeline run.
//
// Results holds every attempted mode in request order, including failed
// ones (their Err is not serialized, but a matching entry appears under
// Errors). Timings is in milliseconds per stage; the six baseline keys are
// always present even for stages that did not run.
type AnalyzeResponse struct {
	OK           bool                   `json:"ok"`
	ImageID      string                 `json:"image_id"`
	InferenceID  string                 `json:"inference_id,omitempty"`
	GraphContext common.EvidenceBundle  `json:"graph_context"`
	ContextText  string                 `json:"context_text"`
	Results      []common.ModeOutput    `json:"results"`
	Consensus    common.ConsensusResult `json:"consensus"`
	Timings      map[string]int64       `json:"timings"`
	Errors       []StageError           `json:"errors"`
	Debug        map[string]any         `json:"debug,omitempty"`
}

// GraphAnalyzeClient runs the multi-mode analysis pipeline over one study:
// visual transcription, finding upsert, evidence assembly, the requested
// modes, consensus, and inference persistence.
type GraphAnalyzeClient interface {
	Analyze(ctx context.Context, params AnalyzeParams) (*AnalyzeResponse, error)
}
