package evidence

import (
	"context"
	"strings"
	"testing"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/store"
	"github.com/triad-med/triad/pkg/store/memory"
)

func seedSparseGraph(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewStore()
	ctx := context.Background()

	_, err := s.SaveFindings(ctx, "IMG301", []common.Finding{
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.88},
		{Type: "nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.82},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	err = s.LinkSimilar(ctx, "IMG301", []common.SimilarImage{
		{ID: "IMG302", Modality: "CT", Score: 0.8, Basis: "modality+finding_type"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return s
}

func TestAssemble_BudgetAndSummary(t *testing.T) {
	a := NewAssembler(NewAssemblerParams{Storage: seedSparseGraph(t)})

	bundle, err := a.Assemble(context.Background(), "IMG301", nil, Limits{K: 2})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(bundle.Paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(bundle.Paths))
	}
	if bundle.FallbackUsed {
		t.Fatal("expected real graph evidence")
	}
	if !bundle.SlotRebalanced {
		t.Fatal("expected floor raise for similarity to mark the plan rebalanced")
	}
	if bundle.GraphStrength <= 0 {
		t.Fatalf("expected positive graph strength, got %f", bundle.GraphStrength)
	}

	counts := map[common.Relation]int{}
	for _, st := range bundle.Summary {
		counts[st.Relation] = st.Count
	}
	if counts[common.RelationHasFinding] != 2 {
		t.Fatalf("expected 2 HAS_FINDING edges in summary, got %d", counts[common.RelationHasFinding])
	}
	if counts[common.RelationSimilarTo] != 1 {
		t.Fatalf("expected 1 SIMILAR_TO edge in summary, got %d", counts[common.RelationSimilarTo])
	}
}

func TestAssemble_SingleSourceFactsAndPaths(t *testing.T) {
	s := memory.NewStore()
	memory.SeedDemo(s)
	a := NewAssembler(NewAssemblerParams{Storage: s})

	bundle, err := a.Assemble(context.Background(), memory.DemoImage, nil, Limits{K: 4})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if bundle.Facts.ID != memory.DemoImage {
		t.Fatalf("expected facts for %s, got %s", memory.DemoImage, bundle.Facts.ID)
	}
	if len(bundle.Facts.Findings) != 2 {
		t.Fatalf("expected 2 facts findings, got %d", len(bundle.Facts.Findings))
	}

	// Every finding in facts must be visible in at least one path triple.
	joined := ""
	for _, p := range bundle.Paths {
		joined += strings.Join(p.Triples, "\n") + "\n"
	}
	for _, f := range bundle.Facts.Findings {
		if !strings.Contains(joined, "Finding["+f.ID+"]") {
			t.Fatalf("finding %s missing from paths", f.ID)
		}
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	s := memory.NewStore()
	memory.SeedDemo(s)
	a := NewAssembler(NewAssemblerParams{Storage: s})
	ctx := context.Background()

	first, err := a.Assemble(ctx, memory.DemoImage, nil, Limits{K: 3})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := a.Assemble(ctx, memory.DemoImage, nil, Limits{K: 3})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(first.Paths) != len(second.Paths) {
		t.Fatalf("expected stable path count, got %d and %d", len(first.Paths), len(second.Paths))
	}
	for i := range first.Paths {
		if first.Paths[i].Label != second.Paths[i].Label {
			t.Fatalf("path order changed at %d: %q vs %q", i, first.Paths[i].Label, second.Paths[i].Label)
		}
		if first.Paths[i].Score != second.Paths[i].Score {
			t.Fatalf("path score changed at %d", i)
		}
	}
}

func TestAssemble_RetrievalFailureFallsBack(t *testing.T) {
	s := memory.NewStore()
	memory.SeedDemo(s)
	a := NewAssembler(NewAssemblerParams{Storage: s})

	seed := []common.Finding{{Type: "mass", Location: "liver", Confidence: 0.7}}
	bundle, err := a.Assemble(context.Background(), memory.DemoBrokenImage, seed, Limits{K: 2})
	if err != nil {
		t.Fatalf("expected degraded bundle instead of error, got %v", err)
	}
	if !bundle.FallbackUsed {
		t.Fatal("expected fallback_used")
	}
	if bundle.FallbackReason != common.FallbackReasonRetrievalFailed {
		t.Fatalf("expected retrieval_failed, got %q", bundle.FallbackReason)
	}
	if len(bundle.Paths) != 1 {
		t.Fatalf("expected one synthesized path, got %d", len(bundle.Paths))
	}
	if bundle.Paths[0].Score != 0.7 {
		t.Fatalf("expected seed confidence as score, got %f", bundle.Paths[0].Score)
	}
	if bundle.GraphStrength != 0 {
		t.Fatalf("expected zero graph strength under fallback, got %f", bundle.GraphStrength)
	}
	if bundle.HasGraphEvidence() {
		t.Fatal("fallback bundle must not count as graph evidence")
	}
}

func TestAssemble_RetrievalFailureWithoutSeed(t *testing.T) {
	s := memory.NewStore()
	memory.SeedDemo(s)
	a := NewAssembler(NewAssemblerParams{Storage: s})

	bundle, err := a.Assemble(context.Background(), memory.DemoBrokenImage, nil, Limits{K: 2})
	if err != nil {
		t.Fatalf("expected degraded bundle instead of error, got %v", err)
	}
	if !bundle.FallbackUsed || bundle.FallbackReason != common.FallbackReasonRetrievalFailed {
		t.Fatalf("expected marked retrieval failure, got used=%v reason=%q", bundle.FallbackUsed, bundle.FallbackReason)
	}
	if len(bundle.Paths) != 0 {
		t.Fatalf("expected no paths without seed findings, got %d", len(bundle.Paths))
	}
	if !strings.Contains(RenderText(bundle, 0), "no path generated (0/2)") {
		t.Fatal("expected explicit empty-path marker in rendered text")
	}
}

func TestAssemble_EmptyGraphSynthesizesFromSeed(t *testing.T) {
	a := NewAssembler(NewAssemblerParams{Storage: memory.NewStore()})

	seed := []common.Finding{
		{Type: "nodule", Location: "lung", Confidence: 0},
	}
	bundle, err := a.Assemble(context.Background(), "IMG400", seed, Limits{K: 2})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if bundle.FallbackReason != common.FallbackReasonNoGraphPaths {
		t.Fatalf("expected no_graph_paths, got %q", bundle.FallbackReason)
	}
	if len(bundle.Paths) != 1 {
		t.Fatalf("expected one synthesized path, got %d", len(bundle.Paths))
	}
	if bundle.Paths[0].Score != fallbackPathScore {
		t.Fatalf("expected default fallback score, got %f", bundle.Paths[0].Score)
	}
	if !strings.Contains(bundle.Paths[0].Triples[0], "FALLBACK_1") {
		t.Fatalf("expected minted fallback id, got %q", bundle.Paths[0].Triples[0])
	}
}

func TestAssemble_EmptyGraphWithoutSeedStaysEmpty(t *testing.T) {
	a := NewAssembler(NewAssemblerParams{Storage: memory.NewStore()})

	bundle, err := a.Assemble(context.Background(), "IMG401", nil, Limits{K: 2})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if bundle.FallbackUsed {
		t.Fatal("no synthesis attempted, fallback_used must stay false")
	}
	if len(bundle.Paths) != 0 {
		t.Fatalf("expected no paths, got %d", len(bundle.Paths))
	}
	if !strings.Contains(RenderText(bundle, 0), "no path generated (0/2)") {
		t.Fatal("expected explicit empty-path marker")
	}
}

func TestAssemble_SlotOverrides(t *testing.T) {
	s := memory.NewStore()
	memory.SeedDemo(s)
	a := NewAssembler(NewAssemblerParams{Storage: s})

	bundle, err := a.Assemble(context.Background(), memory.DemoImage, nil, Limits{
		K:             3,
		SlotOverrides: map[string]int{store.PatternFindings: 0, store.PatternReports: 2},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	// The findings floor must survive an explicit zero override.
	if bundle.Slots[store.PatternFindings] < 1 {
		t.Fatalf("expected findings floor kept, got %v", bundle.Slots)
	}
	if got := len(bundle.Paths); got != 3 {
		t.Fatalf("expected 3 paths, got %d", got)
	}
}

func TestDedupePaths(t *testing.T) {
	paths := []common.EvidencePath{
		{Label: "mass @ liver", Triples: []string{"a", "b"}, Score: 0.7},
		{Label: "mass @ liver", Triples: []string{"a", "b"}, Score: 0.9},
		{Label: "mass @ liver", Triples: []string{"a"}, Score: 0.5},
	}

	got := dedupePaths(paths)

	if len(got) != 2 {
		t.Fatalf("expected 2 unique paths, got %d", len(got))
	}
	if got[0].Score != 0.9 {
		t.Fatalf("expected max score kept on collision, got %f", got[0].Score)
	}
}

func TestGraphStrength(t *testing.T) {
	tests := []struct {
		name    string
		paths   int
		triples int
		want    float64
	}{
		{"empty", 0, 0, 0},
		{"single shallow", 1, 2, 0.333},
		{"saturated", 3, 6, 1},
		{"overflow clamps", 9, 99, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := GraphStrength(tc.paths, tc.triples); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
