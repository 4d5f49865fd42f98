package evidence

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// Budget defaults and bounds for one assembly request.
const (
	DefaultK        = 2
	MaxK            = 10
	DefaultMaxChars = 1800

	defaultAlphaFinding = 0.6
	defaultBetaReport   = 0.4
)

// Limits are the tunable knobs of one assembly request. Zero values fall
// back to the defaults, K is clamped into [1, MaxK].
type Limits struct {
	// K is the total path budget and the per-pattern retrieval cap.
	K int
	// MaxChars bounds each rendered section of the serialized bundle.
	MaxChars int
	// AlphaFinding and BetaReport blend finding and report confidence
	// when ordering the facts section.
	AlphaFinding float64
	BetaReport   float64
	// SlotOverrides replaces the default per-pattern request where set.
	SlotOverrides map[string]int
}

func (l Limits) withDefaults() Limits {
	if l.K <= 0 {
		l.K = DefaultK
	}
	if l.K > MaxK {
		l.K = MaxK
	}
	if l.MaxChars <= 0 {
		l.MaxChars = DefaultMaxChars
	}
	if l.AlphaFinding <= 0 {
		l.AlphaFinding = defaultAlphaFinding
	}
	if l.BetaReport <= 0 {
		l.BetaReport = defaultBetaReport
	}
	return l
}

// Assembler builds evidence bundles: one retrieval, slot allocation,
// dedup and ranking, plus fallback synthesis when the graph comes back
// empty or unreachable.
type Assembler struct {
	retriever *Retriever
}

type NewAssemblerParams struct {
	Storage store.GraphStorage
}

func NewAssembler(params NewAssemblerParams) *Assembler {
	return &Assembler{
		retriever: NewRetriever(NewRetrieverParams{Storage: params.Storage}),
	}
}

// Assemble builds the evidence bundle for one image. The seed findings
// are only used for fallback synthesis; a bundle built from them always
// carries FallbackUsed plus a reason. Context cancellation is the only
// error surfaced to the caller, everything else degrades into a fallback
// bundle.
func (a *Assembler) Assemble(ctx context.Context, imageID string, seed []common.Finding, limits Limits) (common.EvidenceBundle, error) {
	limits = limits.withDefaults()

	collection, err := a.retriever.Collect(ctx, imageID, limits.K)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return common.EvidenceBundle{}, err
		}
		logger.Warn("Graph retrieval failed, assembling fallback bundle", "image", imageID, "err", err)
		return a.fallbackBundle(imageID, seed, limits, common.FallbackReasonRetrievalFailed), nil
	}

	requested := MergeOverrides(DefaultRequest(limits.K), limits.SlotOverrides)
	plan := Allocate(requested, collection.Available, limits.K)

	var union []common.EvidencePath
	for _, pattern := range store.Patterns {
		candidates := collection.Candidates[pattern]
		quota := plan.Slots[pattern]
		if quota < len(candidates) {
			candidates = candidates[:quota]
		}
		union = append(union, candidates...)
	}

	paths := dedupePaths(union)
	store.SortPaths(paths)
	if len(paths) > limits.K {
		paths = paths[:limits.K]
	}

	facts := store.DeriveFacts(collection.Neighborhood)
	sortFindings(facts.Findings, limits.AlphaFinding, limits.BetaReport)

	bundle := common.EvidenceBundle{
		Summary:        store.DeriveEdgeStats(collection.Neighborhood),
		Facts:          facts,
		Paths:          paths,
		RequestedK:     limits.K,
		Slots:          plan.Slots,
		SlotRebalanced: plan.Rebalanced,
		SlotInfeasible: plan.Infeasible,
	}

	if len(bundle.Paths) == 0 && len(seed) > 0 {
		bundle.Paths = synthesizeFallbackPaths(imageID, seed, limits.K)
		bundle.FallbackUsed = true
		bundle.FallbackReason = common.FallbackReasonNoGraphPaths
		bundle.Slots = bumpFindingsSlot(bundle.Slots, len(bundle.Paths))
		logger.Debug("Synthesized fallback paths", "image", imageID, "paths", len(bundle.Paths))
	}

	bundle.PathTripleTotal = countTriples(bundle.Paths)
	if !bundle.FallbackUsed {
		bundle.GraphStrength = GraphStrength(len(bundle.Paths), bundle.PathTripleTotal)
	}
	return bundle, nil
}

// fallbackBundle is the degraded shape returned when the graph store is
// unreachable. Facts and paths come from the caller's seed findings only.
func (a *Assembler) fallbackBundle(imageID string, seed []common.Finding, limits Limits, reason string) common.EvidenceBundle {
	findings := fallbackFindings(seed)
	paths := synthesizeFallbackPaths(imageID, seed, limits.K)

	return common.EvidenceBundle{
		Facts:           common.ImageFacts{ID: imageID, Findings: findings},
		Paths:           paths,
		RequestedK:      limits.K,
		PathTripleTotal: countTriples(paths),
		FallbackUsed:    true,
		FallbackReason:  reason,
		Slots:           bumpFindingsSlot(nil, len(paths)),
	}
}

// GraphStrength folds path coverage and triple depth into one [0,1]
// signal: three paths saturate coverage, six triples saturate depth.
func GraphStrength(pathCount, tripleTotal int) float64 {
	if pathCount <= 0 || tripleTotal <= 0 {
		return 0
	}
	coverage := math.Min(1, float64(pathCount)/3)
	depth := math.Min(1, float64(tripleTotal)/6)
	return math.Round(math.Min(1, coverage*0.4+depth*0.6)*1000) / 1000
}

func countTriples(paths []common.EvidencePath) int {
	total := 0
	for _, p := range paths {
		total += len(p.Triples)
	}
	return total
}

// dedupePaths drops paths with identical label and triples, keeping the
// highest score on collision.
func dedupePaths(paths []common.EvidencePath) []common.EvidencePath {
	out := make([]common.EvidencePath, 0, len(paths))
	seen := make(map[string]int, len(paths))
	for _, p := range paths {
		key := p.Label + "\x00" + strings.Join(p.Triples, "\x00")
		if at, ok := seen[key]; ok {
			if p.Score > out[at].Score {
				out[at] = p
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, p)
	}
	return out
}

// sortFindings orders facts findings by the blended finding and report
// confidence, ids breaking ties.
func sortFindings(findings []common.Finding, alpha, beta float64) {
	sort.SliceStable(findings, func(i, j int) bool {
		a := alpha*findings[i].Confidence + beta*findings[i].ReportConf
		b := alpha*findings[j].Confidence + beta*findings[j].ReportConf
		if a != b {
			return a > b
		}
		return findings[i].ID < findings[j].ID
	})
}

func bumpFindingsSlot(slots map[string]int, minimum int) map[string]int {
	if minimum <= 0 {
		return slots
	}
	if slots == nil {
		slots = make(map[string]int, len(store.Patterns))
		for _, pattern := range store.Patterns {
			slots[pattern] = 0
		}
	}
	if slots[store.PatternFindings] < minimum {
		slots[store.PatternFindings] = minimum
	}
	return slots
}
