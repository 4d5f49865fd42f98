package consensus

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

// ErrInsufficientModes is returned when no mode output is usable.
var ErrInsufficientModes = errors.New("consensus requires at least one usable mode output")

const (
	defaultTextWeight       = 0.6
	defaultStructuredWeight = 0.3
	defaultGraphWeight      = 0.1

	defaultAgreeThreshold    = 0.6
	defaultMinAgree          = 0.35
	defaultHighConfidence    = 0.75
	defaultAnchorMinScore    = 0.75
	defaultMismatchThreshold = 0.35

	defaultBaseWeightV   = 1.0
	defaultBaseWeightVL  = 1.2
	defaultBaseWeightVGL = 1.8

	defaultGraphBonus     = 0.2
	defaultRebalanceBonus = 0.1

	defaultModalityPenalty = 0.2

	structuredTypeShare     = 0.6
	structuredLocationShare = 0.4

	minExpandedTokenLen = 4
)

// bannedByModality lists finding terms that contradict a study modality. A
// mode mentioning one is penalised and cannot end up supporting.
var bannedByModality = map[string][]string{
	"US": {"gestational", "fetal", "uterus", "ecg"},
	"CT": {"fetal", "uterus", "ecg"},
}

// modePriority orders modes from most to least grounded. Supporting lists
// and the presented text follow this order.
var modePriority = []common.Mode{common.ModeVGL, common.ModeVL, common.ModeV}

// Config tunes the consensus scoring. Zero values fall back to defaults,
// so Config{} behaves like DefaultConfig().
type Config struct {
	// Component weights of the agreement score. They sum to 1.
	TextWeight       float64
	StructuredWeight float64
	GraphWeight      float64

	// Base mode weights before evidence bonuses and penalties.
	BaseWeights map[common.Mode]float64

	// GraphBonus is added to the grounded mode's weight when the bundle
	// carries real graph paths. RebalanceBonus is added on top when slot
	// rebalancing recovered those paths from other patterns.
	GraphBonus     float64
	RebalanceBonus float64

	// AgreeThreshold and MinAgree bound the agree / weak_agree bands.
	AgreeThreshold float64
	MinAgree       float64

	// HighConfidence is the score above which confidence reads high.
	HighConfidence float64

	// AnchorMinScore floors the score when the graph-grounded anchor
	// overrides diverging modes. MismatchThreshold is the pairwise text
	// agreement below which a mode is considered to contradict the anchor.
	AnchorMinScore    float64
	MismatchThreshold float64

	// ModalityPenalty is subtracted from a mode's weight and from the
	// aggregate score share when its text names a banned term.
	ModalityPenalty float64
}

// DefaultConfig returns the stock scoring configuration.
func DefaultConfig() Config {
	return Config{
		TextWeight:       defaultTextWeight,
		StructuredWeight: defaultStructuredWeight,
		GraphWeight:      defaultGraphWeight,
		BaseWeights: map[common.Mode]float64{
			common.ModeV:   defaultBaseWeightV,
			common.ModeVL:  defaultBaseWeightVL,
			common.ModeVGL: defaultBaseWeightVGL,
		},
		GraphBonus:        defaultGraphBonus,
		RebalanceBonus:    defaultRebalanceBonus,
		AgreeThreshold:    defaultAgreeThreshold,
		MinAgree:          defaultMinAgree,
		HighConfidence:    defaultHighConfidence,
		AnchorMinScore:    defaultAnchorMinScore,
		MismatchThreshold: defaultMismatchThreshold,
		ModalityPenalty:   defaultModalityPenalty,
	}
}

// ConfigFromEnv builds a Config from CONSENSUS_* environment variables,
// falling back to the defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.TextWeight = util.GetEnvFloat("CONSENSUS_TEXT_WEIGHT", cfg.TextWeight)
	cfg.StructuredWeight = util.GetEnvFloat("CONSENSUS_STRUCTURED_WEIGHT", cfg.StructuredWeight)
	cfg.GraphWeight = util.GetEnvFloat("CONSENSUS_GRAPH_WEIGHT", cfg.GraphWeight)
	cfg.GraphBonus = util.GetEnvFloat("CONSENSUS_GRAPH_BONUS", cfg.GraphBonus)
	cfg.RebalanceBonus = util.GetEnvFloat("CONSENSUS_REBALANCE_BONUS", cfg.RebalanceBonus)
	cfg.AgreeThreshold = util.GetEnvFloat("CONSENSUS_AGREE_THRESHOLD", cfg.AgreeThreshold)
	cfg.MinAgree = util.GetEnvFloat("CONSENSUS_MIN_AGREE", cfg.MinAgree)
	cfg.HighConfidence = util.GetEnvFloat("CONSENSUS_HIGH_CONFIDENCE", cfg.HighConfidence)
	cfg.AnchorMinScore = util.GetEnvFloat("CONSENSUS_ANCHOR_MIN_SCORE", cfg.AnchorMinScore)
	cfg.MismatchThreshold = util.GetEnvFloat("CONSENSUS_MISMATCH_THRESHOLD", cfg.MismatchThreshold)
	cfg.ModalityPenalty = util.GetEnvFloat("CONSENSUS_MODALITY_PENALTY", cfg.ModalityPenalty)
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TextWeight <= 0 {
		c.TextWeight = def.TextWeight
	}
	if c.StructuredWeight <= 0 {
		c.StructuredWeight = def.StructuredWeight
	}
	if c.GraphWeight <= 0 {
		c.GraphWeight = def.GraphWeight
	}
	if len(c.BaseWeights) == 0 {
		c.BaseWeights = def.BaseWeights
	}
	if c.GraphBonus <= 0 {
		c.GraphBonus = def.GraphBonus
	}
	if c.RebalanceBonus <= 0 {
		c.RebalanceBonus = def.RebalanceBonus
	}
	if c.AgreeThreshold <= 0 {
		c.AgreeThreshold = def.AgreeThreshold
	}
	if c.MinAgree <= 0 {
		c.MinAgree = def.MinAgree
	}
	if c.HighConfidence <= 0 {
		c.HighConfidence = def.HighConfidence
	}
	if c.AnchorMinScore <= 0 {
		c.AnchorMinScore = def.AnchorMinScore
	}
	if c.MismatchThreshold <= 0 {
		c.MismatchThreshold = def.MismatchThreshold
	}
	if c.ModalityPenalty <= 0 {
		c.ModalityPenalty = def.ModalityPenalty
	}
	return c
}

// Engine scores mode outputs against each other and the evidence bundle
// that grounded them.
type Engine struct {
	cfg Config
}

type NewEngineParams struct {
	Config Config
}

func NewEngine(params NewEngineParams) *Engine {
	return &Engine{cfg: params.Config.withDefaults()}
}

// modeState is the per-mode working set: normalized text tokens, structured
// term sets and the effective weight after bonuses and penalties.
type modeState struct {
	out       common.ModeOutput
	tokens    map[string]bool
	typeTerms map[string]bool
	locTerms  map[string]bool
	weight    float64
	penalty   float64
	offending []string
	mismatch  bool
}

func (s *modeState) hasTerms() bool {
	return len(s.typeTerms) > 0 || len(s.locTerms) > 0
}

// Compute derives the consensus verdict for one image. Outputs that are
// not usable (failed or empty) are ignored; if none remain it returns
// ErrInsufficientModes. The modality gates the banned-term penalty and may
// be empty.
func (e *Engine) Compute(outputs []common.ModeOutput, bundle common.EvidenceBundle, modality string) (common.ConsensusResult, error) {
	states := e.buildStates(outputs, bundle, modality)
	if len(states) == 0 {
		return common.ConsensusResult{}, ErrInsufficientModes
	}

	result := common.ConsensusResult{
		ModeWeights: map[string]float64{},
		Supporting:  []string{},
		Disagreeing: []string{},
		Notes:       []string{},
	}
	for _, s := range states {
		result.ModeWeights[string(s.out.Mode)] = round3(s.weight)
		if s.out.Degraded != "" {
			result.Degraded = append(result.Degraded, string(s.out.Mode))
			result.Notes = append(result.Notes, fmt.Sprintf("mode %s degraded (%s)", s.out.Mode, s.out.Degraded))
		}
	}

	if len(states) == 1 {
		only := states[0]
		result.Text = only.out.Text
		result.Status = common.StatusLowConfidence
		result.Confidence = common.ConfidenceLow
		result.Supporting = []string{string(only.out.Mode)}
		result.Notes = append(result.Notes, "single mode output, no cross-check")
		e.appendPenaltyNotes(&result, states)
		return result, nil
	}

	anchor := e.pickAnchor(states, bundle)
	kept := e.applyAnchorOverride(states, anchor)
	anchorFired := len(kept) < len(states)
	if anchor != nil {
		result.Anchor = string(anchor.out.Mode)
	}
	for _, s := range states {
		if s.mismatch {
			result.Degraded = appendUnique(result.Degraded, string(s.out.Mode))
		}
	}

	text := weightedPairwiseAgreement(kept)
	structured, termedCount := structuredAgreement(kept)
	graph := e.graphComponent(kept, bundle)
	penaltyAdj := meanPenalty(kept)

	score := e.cfg.TextWeight*text + e.cfg.StructuredWeight*structured + e.cfg.GraphWeight*graph
	score = clamp01(score + penaltyAdj)
	if anchorFired {
		score = clamp01(math.Max(score, e.cfg.AnchorMinScore))
	}
	score = round3(score)

	structuralConflict := termedCount >= 2 && structured == 0

	var status string
	switch {
	case anchorFired:
		status = common.StatusWeakAgree
	case structuralConflict && text >= e.cfg.MinAgree:
		status = common.StatusConflict
	case score >= e.cfg.AgreeThreshold:
		status = common.StatusAgree
	case score >= e.cfg.MinAgree:
		status = common.StatusWeakAgree
	case bundle.FallbackUsed:
		status = common.StatusDegraded
	default:
		status = common.StatusLowConfidence
	}

	supporting, disagreeing, dropped := e.partitionModes(states, kept, status)
	preferred := preferredMode(supporting)
	if preferred == nil {
		preferred = preferredMode(kept)
	}

	result.Text = preferred.out.Text
	result.Status = status
	result.Score = score
	result.Confidence = e.confidenceBand(score)
	result.Components = common.AgreementComponents{
		Text:       round3(text),
		Structured: round3(structured),
		Graph:      round3(graph),
	}
	for _, s := range supporting {
		result.Supporting = append(result.Supporting, string(s.out.Mode))
	}
	for _, s := range disagreeing {
		result.Disagreeing = append(result.Disagreeing, string(s.out.Mode))
	}
	sort.Strings(result.Disagreeing)

	e.appendStatusNotes(&result, status, anchorFired, structuralConflict, supporting, graph)
	if structured >= 0.5 && (status == common.StatusAgree || status == common.StatusWeakAgree) {
		result.Notes = append(result.Notes, "structured finding terms aligned across agreeing modes")
	}
	if graph > 0 {
		result.Notes = append(result.Notes, fmt.Sprintf("graph evidence boosted consensus (paths_signal=%.2f)", graph))
		if bundle.SlotRebalanced {
			result.Notes = append(result.Notes, "recovered evidence slots boosted the graph-grounded mode")
		}
	}
	for _, s := range states {
		if s.mismatch {
			result.Notes = append(result.Notes, fmt.Sprintf("mode %s disagreed with graph-grounded evidence (graph_mismatch)", s.out.Mode))
		}
	}
	if len(dropped) > 0 {
		result.Notes = append(result.Notes, "penalty applied for modality conflict")
	}
	e.appendPenaltyNotes(&result, states)

	return result, nil
}

// buildStates filters to usable outputs and precomputes tokens, structured
// terms and effective weights.
func (e *Engine) buildStates(outputs []common.ModeOutput, bundle common.EvidenceBundle, modality string) []*modeState {
	states := make([]*modeState, 0, len(outputs))
	for _, out := range outputs {
		if !out.Usable() {
			continue
		}
		s := &modeState{
			out:    out,
			tokens: tokenSet(out.Text),
		}
		s.typeTerms, s.locTerms = findingTerms(out.Findings)
		s.offending = offendingTerms(out.Text, modality)
		if len(s.offending) > 0 {
			s.penalty = -e.cfg.ModalityPenalty
		}

		weight, ok := e.cfg.BaseWeights[out.Mode]
		if !ok {
			weight = defaultBaseWeightV
		}
		if out.Mode == common.ModeVGL && bundle.HasGraphEvidence() {
			weight += e.cfg.GraphBonus
			if bundle.SlotRebalanced {
				weight += e.cfg.RebalanceBonus
			}
		}
		s.weight = math.Max(weight+s.penalty, 0)
		states = append(states, s)
	}
	return states
}

// pickAnchor returns the graph-grounded mode when it may override the
// others: real graph evidence, VGL usable and not already degraded.
func (e *Engine) pickAnchor(states []*modeState, bundle common.EvidenceBundle) *modeState {
	if !bundle.HasGraphEvidence() {
		return nil
	}
	for _, s := range states {
		if s.out.Mode == common.ModeVGL && s.out.Degraded == "" {
			return s
		}
	}
	return nil
}

// applyAnchorOverride flags modes whose text diverges from the anchor
// below the mismatch threshold and returns the modes kept in the
// aggregate.
func (e *Engine) applyAnchorOverride(states []*modeState, anchor *modeState) []*modeState {
	if anchor == nil {
		return states
	}
	kept := make([]*modeState, 0, len(states))
	for _, s := range states {
		if s != anchor && jaccard(anchor.tokens, s.tokens) < e.cfg.MismatchThreshold {
			s.mismatch = true
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// weightedPairwiseAgreement is the mean pairwise token-set Jaccard over
// the kept modes, each pair weighted by its average mode weight.
func weightedPairwiseAgreement(states []*modeState) float64 {
	var sum, weightSum float64
	for i := 0; i < len(states); i++ {
		for j := i + 1; j < len(states); j++ {
			w := (states[i].weight + states[j].weight) / 2
			sum += w * jaccard(states[i].tokens, states[j].tokens)
			weightSum += w
		}
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// structuredAgreement overlaps the structured term sets across modes:
// intersection over union, computed separately for type and location terms
// and blended. Modes without terms are skipped; fewer than two termed
// modes score zero. Returns the blended score and the termed mode count.
func structuredAgreement(states []*modeState) (float64, int) {
	termed := 0
	for _, s := range states {
		if s.hasTerms() {
			termed++
		}
	}
	if termed < 2 {
		return 0, termed
	}
	typeScore := setFamilyOverlap(states, func(s *modeState) map[string]bool { return s.typeTerms })
	locScore := setFamilyOverlap(states, func(s *modeState) map[string]bool { return s.locTerms })
	return clamp01(structuredTypeShare*typeScore + structuredLocationShare*locScore), termed
}

// setFamilyOverlap computes intersection/union across the non-empty sets
// picked from each mode. Fewer than two non-empty sets score zero.
func setFamilyOverlap(states []*modeState, pick func(*modeState) map[string]bool) float64 {
	sets := make([]map[string]bool, 0, len(states))
	for _, s := range states {
		if set := pick(s); len(set) > 0 {
			sets = append(sets, set)
		}
	}
	if len(sets) < 2 {
		return 0
	}

	union := map[string]bool{}
	for _, set := range sets {
		for term := range set {
			union[term] = true
		}
	}
	intersection := 0
	for term := range union {
		shared := true
		for _, set := range sets {
			if !set[term] {
				shared = false
				break
			}
		}
		if shared {
			intersection++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// graphComponent is the bundle's path strength, counted only when the
// grounded mode is still in the aggregate and the paths are real.
func (e *Engine) graphComponent(kept []*modeState, bundle common.EvidenceBundle) float64 {
	if !bundle.HasGraphEvidence() {
		return 0
	}
	for _, s := range kept {
		if s.out.Mode == common.ModeVGL {
			return bundle.GraphStrength
		}
	}
	return 0
}

func meanPenalty(states []*modeState) float64 {
	if len(states) == 0 {
		return 0
	}
	var sum float64
	for _, s := range states {
		sum += math.Min(s.penalty, 0)
	}
	return sum / float64(len(states))
}

// partitionModes splits the usable modes into supporting and disagreeing
// for the final verdict. Penalised modes never support; under conflict or
// worse only the preferred mode supports. Returns the penalised modes that
// were dropped from support.
func (e *Engine) partitionModes(states, kept []*modeState, status string) (supporting, disagreeing, dropped []*modeState) {
	agreeing := status == common.StatusAgree || status == common.StatusWeakAgree
	candidates := kept
	if !agreeing {
		if preferred := preferredMode(kept); preferred != nil {
			candidates = []*modeState{preferred}
		}
	}
	for _, s := range candidates {
		if len(s.offending) > 0 {
			dropped = append(dropped, s)
			continue
		}
		supporting = append(supporting, s)
	}
	if len(supporting) == 0 && len(kept) > 0 {
		supporting = []*modeState{preferredMode(kept)}
	}

	supportSet := map[*modeState]bool{}
	for _, s := range supporting {
		supportSet[s] = true
	}
	for _, s := range states {
		if !supportSet[s] {
			disagreeing = append(disagreeing, s)
		}
	}

	sortByPriority(supporting)
	return supporting, disagreeing, dropped
}

func (e *Engine) confidenceBand(score float64) string {
	switch {
	case score >= e.cfg.HighConfidence:
		return common.ConfidenceHigh
	case score >= e.cfg.MinAgree:
		return common.ConfidenceMedium
	default:
		return common.ConfidenceLow
	}
}

func (e *Engine) appendStatusNotes(result *common.ConsensusResult, status string, anchorFired, structuralConflict bool, supporting []*modeState, graph float64) {
	switch status {
	case common.StatusAgree:
		result.Notes = append(result.Notes, "agreement across requested modes")
	case common.StatusWeakAgree:
		if anchorFired {
			result.Notes = append(result.Notes, "graph-grounded mode dominated consensus")
		} else if graph > 0 && containsMode(supporting, common.ModeVGL) {
			result.Notes = append(result.Notes, "weighted agreement favouring grounded evidence")
		} else {
			result.Notes = append(result.Notes, "partial agreement across modes")
		}
	case common.StatusConflict:
		result.Notes = append(result.Notes, "outputs diverged across modes")
		if structuralConflict {
			result.Notes = append(result.Notes, "structured terms disagreed across modes")
		}
	case common.StatusDegraded:
		result.Notes = append(result.Notes, "no graph evidence, consensus over fallback context")
	case common.StatusLowConfidence:
		result.Notes = append(result.Notes, "outputs diverged across modes")
	}
}

func (e *Engine) appendPenaltyNotes(result *common.ConsensusResult, states []*modeState) {
	var penalised []string
	for _, s := range states {
		if len(s.offending) > 0 {
			penalised = append(penalised, string(s.out.Mode))
		}
	}
	if len(penalised) == 0 {
		return
	}
	sort.Strings(penalised)
	result.Notes = append(result.Notes, "modality conflict: "+strings.Join(penalised, ", "))
	for _, s := range states {
		if len(s.offending) > 0 && s.out.Text == result.Text {
			result.Notes = append(result.Notes, "penalised terms: "+strings.Join(s.offending, ", "))
		}
	}
}

func preferredMode(states []*modeState) *modeState {
	for _, mode := range modePriority {
		for _, s := range states {
			if s.out.Mode == mode {
				return s
			}
		}
	}
	if len(states) > 0 {
		return states[0]
	}
	return nil
}

func sortByPriority(states []*modeState) {
	rank := map[common.Mode]int{}
	for i, mode := range modePriority {
		rank[mode] = i
	}
	sort.SliceStable(states, func(i, j int) bool {
		return rank[states[i].out.Mode] < rank[states[j].out.Mode]
	})
}

func containsMode(states []*modeState, mode common.Mode) bool {
	for _, s := range states {
		if s.out.Mode == mode {
			return true
		}
	}
	return false
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

// tokenSet lowercases and splits the text into its unique tokens.
func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(util.NormalizeSpace(text))) {
		tok = strings.Trim(tok, ".,;:!?()[]\"'")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// findingTerms collects normalized type and location term sets from the
// mode's structured findings. Multi-word terms also contribute their
// longer tokens so "right lower lobe" matches "lower lobe mass".
func findingTerms(findings []common.Finding) (types, locations map[string]bool) {
	types = map[string]bool{}
	locations = map[string]bool{}
	for _, f := range findings {
		expandTermInto(types, f.Type)
		expandTermInto(locations, f.Location)
	}
	return types, locations
}

func expandTermInto(set map[string]bool, term string) {
	term = strings.ToLower(util.NormalizeSpace(term))
	if term == "" {
		return
	}
	set[term] = true
	tokens := strings.Fields(term)
	if len(tokens) < 2 {
		return
	}
	for _, tok := range tokens {
		if len(tok) >= minExpandedTokenLen {
			set[tok] = true
		}
	}
}

// offendingTerms returns the banned terms for the modality present in the
// text, in the banned-list order.
func offendingTerms(text, modality string) []string {
	banned, ok := bannedByModality[strings.ToUpper(strings.TrimSpace(modality))]
	if !ok {
		return nil
	}
	lowered := strings.ToLower(text)
	var hits []string
	for _, term := range banned {
		if strings.Contains(lowered, term) {
			hits = append(hits, term)
		}
	}
	return hits
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
