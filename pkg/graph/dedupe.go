package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
)

const maxDedupeIterations = 3

func (g *GraphClient) callDedupeAI(
	ctx context.Context,
	findings []common.Finding,
	aiClient ai.GraphAIClient,
) (*ai.DuplicatesResponse, error) {
	return ai.CallDedupeAI(ctx, findings, aiClient, g.maxRetries)
}

// dedupeFindings collapses findings whose terms denote the same clinical
// concept. Signature-identical findings are removed first; the AI pass then
// maps near-name variants ("pulmonary nodule", "lung nodule") onto one
// canonical term and findings that collide after renaming are collapsed.
func (g *GraphClient) dedupeFindings(
	ctx context.Context,
	findings []common.Finding,
	aiClient ai.GraphAIClient,
) ([]common.Finding, error) {
	findings = DedupeFindings(findings)
	if len(findings) < 2 {
		return findings, nil
	}

	batchSize := ai.GetDedupeBatchSize()
	if len(findings) <= batchSize {
		logger.Debug("[Dedupe] Deduplicating findings in a single batch", "count", len(findings))
		deduped, hadDuplicates, err := g.dedupeFindingsSingleBatchWithMeta(ctx, findings, aiClient)
		if err != nil {
			return nil, err
		}
		if hadDuplicates {
			logger.Debug("[Dedupe] Single-batch deduplication found duplicates", "count", len(deduped))
		}
		return deduped, nil
	}

	deduped := findings
	var lastIterationHadDuplicates bool

	for iteration := 1; iteration <= maxDedupeIterations; iteration++ {
		prevCount := len(deduped)

		// Once everything fits in a single batch, run one final single-batch pass and stop.
		// Iterations are only needed to overcome duplicates split across different batches.
		if len(deduped) <= batchSize {
			logger.Debug("[Dedupe] Final single-batch deduplication", "count", len(deduped), "iteration", iteration)
			var hadDuplicates bool
			var err error
			deduped, hadDuplicates, err = g.dedupeFindingsSingleBatchWithMeta(ctx, deduped, aiClient)
			if err != nil {
				return nil, err
			}
			lastIterationHadDuplicates = hadDuplicates
			logger.Debug("[Dedupe] Iteration completed", "iteration", iteration, "count", len(deduped), "duplicates", hadDuplicates)
			break
		}

		ordered := reorderFindingsForIteration(deduped, iteration, batchSize)

		var hadDuplicates bool
		var err error
		batchCount := (len(ordered) + batchSize - 1) / batchSize
		logger.Debug("[Dedupe] Deduplicating findings in batches", "count", len(ordered), "batches", batchCount, "iteration", iteration)
		deduped, hadDuplicates, err = g.dedupeFindingsInBatchesOnce(ctx, ordered, aiClient)
		if err != nil {
			return nil, err
		}

		lastIterationHadDuplicates = hadDuplicates
		logger.Debug("[Dedupe] Iteration completed", "iteration", iteration, "count", len(deduped), "duplicates", hadDuplicates)

		if !hadDuplicates || len(deduped) == prevCount {
			if iteration == maxDedupeIterations && hadDuplicates {
				logger.Warn("[Dedupe] Max iterations reached with remaining duplicates", "count", len(deduped), "iteration", iteration)
			}
			break
		}

		if iteration == maxDedupeIterations {
			logger.Warn("[Dedupe] Max iterations reached before convergence", "count", len(deduped), "iteration", iteration)
			break
		}
	}

	if lastIterationHadDuplicates {
		logger.Debug("[Dedupe] Deduplication finished with possible remaining duplicates", "count", len(deduped))
	}

	return deduped, nil
}

func (g *GraphClient) dedupeFindingsSingleBatchWithMeta(
	ctx context.Context,
	findings []common.Finding,
	aiClient ai.GraphAIClient,
) ([]common.Finding, bool, error) {
	res, err := g.callDedupeAI(ctx, findings, aiClient)
	if err != nil {
		return nil, false, err
	}

	if !hasDuplicateGroups(res) {
		return findings, false, nil
	}

	deduped, changed := applyCanonicalTerms(findings, res)
	return deduped, changed, nil
}

func (g *GraphClient) dedupeFindingsInBatchesOnce(
	ctx context.Context,
	findings []common.Finding,
	aiClient ai.GraphAIClient,
) ([]common.Finding, bool, error) {
	var allDeduped []common.Finding
	batchSize := ai.GetDedupeBatchSize()
	duplicatesFound := false

	for i := 0; i < len(findings); i += batchSize {
		end := min(i+batchSize, len(findings))

		dedupedBatch, hadDuplicates, err := g.dedupeFindingsSingleBatchWithMeta(ctx, findings[i:end], aiClient)
		if err != nil {
			return nil, false, fmt.Errorf("batch %d failed: %w", i/batchSize+1, err)
		}
		if hadDuplicates {
			duplicatesFound = true
		}

		allDeduped = append(allDeduped, dedupedBatch...)
	}

	// A term renamed in one batch can now collide with a finding from
	// another batch.
	merged := DedupeFindings(allDeduped)
	if len(merged) < len(allDeduped) {
		duplicatesFound = true
	}

	return merged, duplicatesFound, nil
}

func hasDuplicateGroups(res *ai.DuplicatesResponse) bool {
	for _, group := range res.Duplicates {
		if len(group.Terms) > 1 {
			return true
		}
		if len(group.Terms) == 1 &&
			ai.NormalizeDedupeValue(group.Terms[0]) != ai.NormalizeDedupeValue(group.Name) {
			return true
		}
	}
	return false
}

// applyCanonicalTerms renames finding types onto their group's canonical
// term and collapses findings that become signature-identical. The change
// flag reports whether any rename or collapse happened, so iteration can
// detect convergence.
func applyCanonicalTerms(findings []common.Finding, res *ai.DuplicatesResponse) ([]common.Finding, bool) {
	canonicalByTerm := make(map[string]string)
	for _, group := range res.Duplicates {
		canonical := ai.NormalizeDedupeValue(group.Name)
		if canonical == "" {
			continue
		}
		for _, term := range group.Terms {
			key := ai.NormalizeDedupeValue(term)
			if key == "" || key == canonical {
				continue
			}
			canonicalByTerm[key] = canonical
		}
	}

	structural := DedupeFindings(findings)
	if len(canonicalByTerm) == 0 {
		return structural, len(structural) < len(findings)
	}

	renamed := false
	out := make([]common.Finding, len(structural))
	copy(out, structural)
	for i := range out {
		canonical, ok := canonicalByTerm[ai.NormalizeDedupeValue(out[i].Type)]
		if !ok || canonical == ai.NormalizeDedupeValue(out[i].Type) {
			continue
		}
		out[i].Type = canonical
		// The identifier encodes the old term, drop it so the canonical
		// one is derived on upsert.
		out[i].ID = ""
		renamed = true
	}

	collapsed := DedupeFindings(out)
	return collapsed, renamed || len(collapsed) < len(findings)
}

func reorderFindingsForIteration(findings []common.Finding, iteration int, batchSize int) []common.Finding {
	reordered := make([]common.Finding, len(findings))
	copy(reordered, findings)

	switch iteration % 3 {
	case 1:
		return reordered
	case 2:
		return interleaveFindings(reordered, batchSize)
	default:
		sort.SliceStable(reordered, func(i, j int) bool {
			return findingSignature(reordered[i]) < findingSignature(reordered[j])
		})
		return reordered
	}
}

func interleaveFindings(findings []common.Finding, batchSize int) []common.Finding {
	if batchSize <= 0 {
		return findings
	}

	batchCount := (len(findings) + batchSize - 1) / batchSize
	result := make([]common.Finding, 0, len(findings))
	for i := range batchSize {
		for batch := range batchCount {
			idx := batch*batchSize + i
			if idx < len(findings) {
				result = append(result, findings[idx])
			}
		}
	}
	return result
}
