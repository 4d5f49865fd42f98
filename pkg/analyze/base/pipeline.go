package base

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/triad-med/triad/internal/timing"
	gUtil "github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/analyze"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/evidence"
	"github.com/triad-med/triad/pkg/graph"
	"github.com/triad-med/triad/pkg/loader"
	"github.com/triad-med/triad/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// vlmReportConfidence is the DESCRIBED_BY confidence of reports derived
// from a visual transcription. Human-authored reports carry 1.0, so they
// always outrank these when both exist.
const vlmReportConfidence = 0.8

// defaultTranscriptionModel marks a transcription-derived report when the
// client was not configured with an explicit model name. A non-empty model
// field is what distinguishes model-derived reports from human ones.
const defaultTranscriptionModel = "vlm"

// baselineStages are the timing keys every response carries, zeroed for
// stages that did not run.
var baselineStages = []string{
	analyze.StageVLM,
	analyze.StageUpsert,
	analyze.StageContext,
	analyze.StageModeV,
	analyze.StageModeVL,
	analyze.StageModeVGL,
}

// Analyze runs the full multi-mode pipeline for one study: transcribe the
// image, upsert the derived report and findings, assemble the evidence
// bundle, run the requested modes concurrently, compute consensus, and
// persist the inference.
//
// Stage failures past transcription degrade the run instead of failing it;
// each one is recorded under Errors. The returned error is reserved for a
// missing study, a failed transcription, context cancellation, and a run
// where no mode produced a usable answer.
func (c *BaseAnalyzeClient) Analyze(ctx context.Context, params analyze.AnalyzeParams) (*analyze.AnalyzeResponse, error) {
	params, err := params.Normalized()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	trace := analyze.NewAnalyzeTrace()
	var tr analyze.Tracer = trace
	if c.options.Tracer != nil {
		tr = analyze.MultiTracer{trace, c.options.Tracer}
	}
	for _, stage := range baselineStages {
		analyze.RecordStageTiming(trace, stage, 0)
	}

	// Stage image_load: resolve the study and fetch its image bytes.
	analyze.RecordDebugValue(tr, "stage", analyze.StageImageLoad)

	study, err := c.storageClient.GetStudy(ctx, params.ImageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load study %s: %w", params.ImageID, err)
	}
	analyze.RecordDebugValue(tr, "normalized_image", map[string]string{
		"image_id": study.ID,
		"path":     study.ObjectKey,
		"modality": study.Modality,
	})

	file := loader.NewGraphImageFile(loader.NewGraphFileParams{
		ID:       study.ID,
		FilePath: study.ObjectKey,
		Loader:   c.imageLoader,
	})

	// Stage vlm: transcribe the image. Nothing downstream works without
	// the transcription, so a failure here fails the whole run.
	analyze.RecordDebugValue(tr, "stage", analyze.StageVLM)
	sw := timing.Start()

	imageData, err := file.GetBase64(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", study.ID, err)
	}

	var transcription string
	err = gUtil.RetryErrWithContext(ctx, c.options.MaxRetries, func(ctx context.Context) error {
		out, err := c.aiClient.GenerateImageDescription(ctx, ai.ImageTranscribePrompt, imageData)
		if err != nil {
			return err
		}
		transcription = out
		return nil
	})
	analyze.RecordStageTiming(tr, analyze.StageVLM, sw.ElapsedMS())
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe image %s: %w", study.ID, err)
	}
	if strings.TrimSpace(transcription) == "" {
		return nil, fmt.Errorf("image transcription for %s returned empty text", study.ID)
	}

	// Stage upsert: persist the transcription as a model-derived report and
	// merge extracted findings with the caller's seed. Storage failures
	// degrade the run, they do not fail it.
	analyze.RecordDebugValue(tr, "stage", analyze.StageUpsert)
	sw = timing.Start()

	merged := params.Findings
	parsed, err := ai.CallFindingsExtract(ctx, transcription, c.aiClient, c.options.MaxRetries)
	if err != nil {
		logger.Error("Failed to extract findings from transcription", "image_id", study.ID, "err", err)
		analyze.RecordStageError(tr, analyze.StageUpsert, "findings extraction failed: "+err.Error())
	} else {
		merged = graph.MergeFindings(params.Findings, findingsFromExtract(parsed))
	}
	merged = graph.AssignFindingIDs(study.ID, merged)

	analyze.RecordDebugValue(tr, "pre_upsert_findings_len", len(merged))
	analyze.RecordDebugValue(tr, "pre_upsert_findings_head", findingsHead(merged, 2))
	analyze.RecordDebugValue(tr, "pre_upsert_report_conf", vlmReportConfidence)

	model := c.options.Model
	if model == "" {
		model = defaultTranscriptionModel
	}
	report := common.Report{
		ID:         gUtil.ReportID(study.ID, transcription, model),
		ImageID:    study.ID,
		Text:       transcription,
		Model:      model,
		Confidence: vlmReportConfidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.storageClient.SaveReport(ctx, report); err != nil {
		logger.Error("Failed to save transcription report", "image_id", study.ID, "err", err)
		analyze.RecordStageError(tr, analyze.StageUpsert, "report upsert failed: "+err.Error())
	}

	var findingIDs []string
	if len(merged) > 0 {
		findingIDs, err = c.storageClient.SaveFindings(ctx, study.ID, merged)
		if err != nil {
			logger.Error("Failed to save findings", "image_id", study.ID, "err", err)
			analyze.RecordStageError(tr, analyze.StageUpsert, "findings upsert failed: "+err.Error())
			findingIDs = nil
		} else if len(findingIDs) == 0 {
			analyze.RecordStageError(tr, analyze.StageUpsert, "normalized findings present but upsert returned no finding ids")
		}
	}
	analyze.RecordStageTiming(tr, analyze.StageUpsert, sw.ElapsedMS())
	analyze.RecordDebugValue(tr, "post_upsert_finding_ids", findingIDs)

	// Stage context: pick the best report for the language modes and
	// assemble the evidence bundle. Only cancellation escapes here; the
	// assembler degrades everything else into a fallback bundle.
	analyze.RecordDebugValue(tr, "stage", analyze.StageContext)
	sw = timing.Start()

	reportText := transcription
	nb, err := c.storageClient.Neighborhood(ctx, study.ID)
	if err != nil {
		logger.Error("Failed to load neighborhood", "image_id", study.ID, "err", err)
		analyze.RecordStageError(tr, analyze.StageContext, "neighborhood lookup failed: "+err.Error())
	} else if len(nb.Reports) > 0 {
		reportText = nb.Reports[0].Text
	}

	bundle, err := c.assembler.Assemble(ctx, study.ID, merged, evidence.Limits{K: params.K})
	if err != nil {
		return nil, fmt.Errorf("failed to assemble evidence for %s: %w", study.ID, err)
	}
	bundleText := evidence.RenderText(bundle, 0)
	analyze.RecordStageTiming(tr, analyze.StageContext, sw.ElapsedMS())

	analyze.RecordDebugValue(tr, "context_summary", bundle.Summary)
	analyze.RecordDebugValue(tr, "context_findings_len", len(bundle.Facts.Findings))
	analyze.RecordDebugValue(tr, "context_findings_head", findingsHead(bundle.Facts.Findings, 2))
	analyze.RecordDebugValue(tr, "context_paths_len", len(bundle.Paths))
	analyze.RecordDebugValue(tr, "context_paths_head", pathsHead(bundle.Paths, 2))
	analyze.RecordDebugValue(tr, "slot_plan", bundle.Slots)

	// Stage modes: run every requested mode concurrently. A mode failure
	// or timeout is captured on its output, never propagated, so the rest
	// of the set still reaches consensus.
	in := modeInput{
		transcription: transcription,
		reportText:    reportText,
		bundle:        bundle,
		bundleText:    bundleText,
		maxChars:      params.MaxChars,
		fallbackToVL:  *params.FallbackToVL,
		seedCount:     len(merged),
		upsertedCount: len(findingIDs),
	}

	outputs := make([]common.ModeOutput, len(params.Modes))
	var g errgroup.Group
	for i, name := range params.Modes {
		mode, ok := common.ParseMode(name)
		if !ok {
			outputs[i] = common.ModeOutput{Err: fmt.Errorf("%w: %q", analyze.ErrUnknownMode, name)}
			continue
		}
		g.Go(func() error {
			mctx, mcancel := context.WithTimeout(ctx, c.options.ModeTimeout)
			defer mcancel()

			msw := timing.Start()
			out := c.runMode(mctx, mode, in, tr)
			analyze.RecordStageTiming(tr, modeStage(mode), msw.ElapsedMS())
			if out.Err != nil {
				analyze.RecordStageError(tr, modeStage(mode), out.Err.Error())
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	usable := 0
	for _, out := range outputs {
		if out.Usable() {
			usable++
		}
	}
	if usable == 0 && ctx.Err() != nil {
		return nil, fmt.Errorf("analysis of %s timed out before any mode completed: %w", study.ID, ctx.Err())
	}

	// Stage consensus.
	analyze.RecordDebugValue(tr, "stage", analyze.StageConsensus)
	sw = timing.Start()
	result, err := c.engine.Compute(outputs, bundle, study.Modality)
	analyze.RecordStageTiming(tr, analyze.StageConsensus, sw.ElapsedMS())
	if err != nil {
		return nil, fmt.Errorf("consensus for %s failed: %w", study.ID, err)
	}
	analyze.RecordDebugValue(tr, "consensus", result)

	// Stage persist: attach the inference to the image. Failure degrades
	// the response to an empty inference id, the verdict still returns.
	analyze.RecordDebugValue(tr, "stage", analyze.StagePersist)
	inferenceID := gUtil.InferenceID()
	if params.IdempotencyKey != "" {
		inferenceID = gUtil.InferenceIDFromKey(params.IdempotencyKey)
	}
	inference := common.Inference{
		ID:        inferenceID,
		ImageID:   study.ID,
		Result:    result,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.storageClient.SaveInference(ctx, inference); err != nil {
		logger.Error("Failed to persist inference", "image_id", study.ID, "err", err)
		analyze.RecordStageError(tr, analyze.StagePersist, "inference persist failed: "+err.Error())
		inferenceID = ""
	}

	snapshot := trace.Snapshot()
	resp := &analyze.AnalyzeResponse{
		OK:           true,
		ImageID:      study.ID,
		InferenceID:  inferenceID,
		GraphContext: bundle,
		ContextText:  bundleText,
		Results:      outputs,
		Consensus:    result,
		Timings:      snapshot.Timings,
		Errors:       snapshot.Errors,
	}
	if params.Debug {
		resp.Debug = snapshot.Debug
	}
	return resp, nil
}

func findingsHead(findings []common.Finding, n int) []common.Finding {
	if len(findings) <= n {
		return findings
	}
	return findings[:n]
}

func pathsHead(paths []common.EvidencePath, n int) []common.EvidencePath {
	if len(paths) <= n {
		return paths
	}
	return paths[:n]
}
