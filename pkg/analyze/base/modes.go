package base

import (
	"context"
	"fmt"

	gUtil "github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/analyze"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
)

// graphUnavailableText is the fixed VGL answer when the graph carries no
// evidence and the request disabled the VL fallback.
const graphUnavailableText = "Graph findings unavailable"

// vglFallbackReasonNoEvidence marks a VGL run that degraded before calling
// the model, vglFallbackReasonGenerationFailed one that degraded after the
// VGL call itself failed.
const (
	vglFallbackReasonNoEvidence       = "graph_evidence_missing_or_findings_empty"
	vglFallbackReasonGenerationFailed = "vgl_generation_failed"
)

// modeInput is the shared context every mode run reads from. It is built
// once after the context stage and never mutated by the mode goroutines.
type modeInput struct {
	transcription string
	reportText    string
	bundle        common.EvidenceBundle
	bundleText    string
	maxChars      int
	fallbackToVL  bool
	seedCount     int
	upsertedCount int
}

// hasEvidence reports whether the VGL mode has anything graph-shaped to
// reason over: findings prepared this run, findings actually upserted, or
// facts and paths retrieved from the graph.
func (in modeInput) hasEvidence() bool {
	return in.seedCount > 0 ||
		in.upsertedCount > 0 ||
		len(in.bundle.Facts.Findings) > 0 ||
		len(in.bundle.Paths) > 0
}

func modeStage(mode common.Mode) string {
	switch mode {
	case common.ModeV:
		return analyze.StageModeV
	case common.ModeVL:
		return analyze.StageModeVL
	case common.ModeVGL:
		return analyze.StageModeVGL
	}
	return "llm_" + string(mode)
}

// runMode executes one mode against the shared input and returns its
// output. Failures never escape as errors; they are captured on the
// output's Err so sibling modes keep running.
func (c *BaseAnalyzeClient) runMode(
	ctx context.Context,
	mode common.Mode,
	in modeInput,
	tr analyze.Tracer,
) common.ModeOutput {
	switch mode {
	case common.ModeV:
		return c.runV(ctx, in, tr)
	case common.ModeVL:
		return c.runVL(ctx, in, tr)
	case common.ModeVGL:
		return c.runVGL(ctx, in, tr)
	}
	return common.ModeOutput{Mode: mode, Err: fmt.Errorf("%w: %q", analyze.ErrUnknownMode, mode)}
}

// runV answers from the visual transcription alone.
func (c *BaseAnalyzeClient) runV(ctx context.Context, in modeInput, tr analyze.Tracer) common.ModeOutput {
	prompt := fmt.Sprintf(ai.AnswerVPrompt, in.transcription, in.maxChars)
	text, err := c.answer(ctx, prompt)
	if err != nil {
		logger.Error("Failed to generate V answer", "err", err)
		return common.ModeOutput{Mode: common.ModeV, Err: err}
	}
	return c.finishOutput(ctx, common.ModeV, text, in, "", tr)
}

// runVL answers from the transcription plus the best stored report.
func (c *BaseAnalyzeClient) runVL(ctx context.Context, in modeInput, tr analyze.Tracer) common.ModeOutput {
	prompt := fmt.Sprintf(ai.AnswerVLPrompt, in.transcription, in.reportText, in.maxChars)
	text, err := c.answer(ctx, prompt)
	if err != nil {
		logger.Error("Failed to generate VL answer", "err", err)
		return common.ModeOutput{Mode: common.ModeVL, Err: err}
	}
	return c.finishOutput(ctx, common.ModeVL, text, in, "", tr)
}

// runVGL answers from the transcription, the report and the evidence
// bundle. Without graph evidence it degrades to a VL answer when the
// request allows it, otherwise it returns a fixed unavailable text. A
// failed VGL generation walks the same fallback ladder.
func (c *BaseAnalyzeClient) runVGL(ctx context.Context, in modeInput, tr analyze.Tracer) common.ModeOutput {
	if !in.hasEvidence() {
		analyze.RecordDebugValue(tr, "vgl_fallback_reason", vglFallbackReasonNoEvidence)
		if in.fallbackToVL {
			return c.runVLAsFallback(ctx, in, tr)
		}
		return common.ModeOutput{
			Mode: common.ModeVGL,
			Text: gUtil.ClampOneLine(graphUnavailableText, in.maxChars),
		}
	}

	prompt := fmt.Sprintf(ai.AnswerVGLPrompt, in.transcription, in.reportText, in.bundleText, in.maxChars)
	text, err := c.answer(ctx, prompt)
	if err != nil {
		logger.Error("Failed to generate VGL answer", "err", err)
		if in.fallbackToVL {
			analyze.RecordDebugValue(tr, "vgl_fallback_reason", vglFallbackReasonGenerationFailed)
			return c.runVLAsFallback(ctx, in, tr)
		}
		return common.ModeOutput{Mode: common.ModeVGL, Err: err}
	}

	out := c.finishOutput(ctx, common.ModeVGL, text, in, "", tr)
	if in.bundle.HasGraphEvidence() {
		out.Paths = in.bundle.Paths
	}
	return out
}

// runVLAsFallback produces a VL answer recorded under the VGL mode with
// Degraded set, so the caller can tell a real VGL answer from a degraded
// one.
func (c *BaseAnalyzeClient) runVLAsFallback(ctx context.Context, in modeInput, tr analyze.Tracer) common.ModeOutput {
	prompt := fmt.Sprintf(ai.AnswerVLPrompt, in.transcription, in.reportText, in.maxChars)
	text, err := c.answer(ctx, prompt)
	if err != nil {
		logger.Error("Failed to generate VL fallback answer", "err", err)
		return common.ModeOutput{Mode: common.ModeVGL, Err: fmt.Errorf("vl fallback failed: %w", err)}
	}
	return c.finishOutput(ctx, common.ModeVGL, text, in, "VL", tr)
}

// answer runs one retried completion with the client's generation options.
func (c *BaseAnalyzeClient) answer(ctx context.Context, prompt string) (string, error) {
	var res string
	err := gUtil.RetryErrWithContext(ctx, c.options.MaxRetries, func(ctx context.Context) error {
		out, err := c.aiClient.GenerateCompletion(ctx, prompt, c.generateOpts()...)
		if err != nil {
			return err
		}
		res = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return res, nil
}

// finishOutput clamps the raw answer to the request's character budget and
// parses structured findings out of it. A failed parse degrades the output
// instead of discarding it; an existing degradation reason is kept.
func (c *BaseAnalyzeClient) finishOutput(
	ctx context.Context,
	mode common.Mode,
	raw string,
	in modeInput,
	degraded string,
	tr analyze.Tracer,
) common.ModeOutput {
	analyze.RecordDebugValue(tr, "raw_output."+string(mode), raw)

	out := common.ModeOutput{
		Mode:     mode,
		Text:     gUtil.ClampOneLine(raw, in.maxChars),
		Degraded: degraded,
	}
	if out.Text == "" {
		out.Err = fmt.Errorf("mode %s produced an empty answer", mode)
		return out
	}

	parsed, err := ai.CallFindingsExtract(ctx, out.Text, c.aiClient, c.options.MaxRetries)
	if err != nil {
		logger.Error("Failed to parse findings from mode answer", "mode", mode, "err", err)
		if out.Degraded == "" {
			out.Degraded = "parse_failed"
		}
		return out
	}
	out.Findings = findingsFromExtract(parsed)
	return out
}

func findingsFromExtract(parsed *ai.FindingsResponse) []common.Finding {
	if parsed == nil || len(parsed.Findings) == 0 {
		return nil
	}
	findings := make([]common.Finding, 0, len(parsed.Findings))
	for _, f := range parsed.Findings {
		findings = append(findings, common.Finding{
			Type:       f.Type,
			Location:   f.Location,
			Size:       f.Size,
			Confidence: f.Confidence,
		})
	}
	return findings
}
