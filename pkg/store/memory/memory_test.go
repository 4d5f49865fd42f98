package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/store"
)

func newDemoStore() *Store {
	s := NewStore()
	SeedDemo(s)
	return s
}

func TestNeighborhood_DemoImage(t *testing.T) {
	s := newDemoStore()

	n, err := s.Neighborhood(context.Background(), DemoImage)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(n.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(n.Findings))
	}
	if n.Findings[0].Type != "mass" {
		t.Fatalf("expected confidence-ordered findings, got %q first", n.Findings[0].Type)
	}
	for _, f := range n.Findings {
		if f.ReportConf != 0.9 {
			t.Fatalf("expected report conf 0.9 on %s, got %f", f.Type, f.ReportConf)
		}
	}
	if len(n.Reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(n.Reports))
	}
	if len(n.Similar) != 1 || n.Similar[0].ID != DemoSimilarImage {
		t.Fatalf("expected one similar neighbor %s, got %v", DemoSimilarImage, n.Similar)
	}
}

func TestNeighborhood_BrokenImage(t *testing.T) {
	s := newDemoStore()

	_, err := s.Neighborhood(context.Background(), DemoBrokenImage)
	if !errors.Is(err, ErrGraphUnavailable) {
		t.Fatalf("expected forced retrieval failure, got %v", err)
	}
}

func TestDerivePaths_FindingsPattern(t *testing.T) {
	s := newDemoStore()

	n, err := s.Neighborhood(context.Background(), DemoImage)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	paths, err := store.DerivePaths(n, store.PatternFindings, -1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 finding paths, got %d", len(paths))
	}
	if paths[0].Label != "mass @ liver" {
		t.Fatalf("expected highest-confidence finding first, got %q", paths[0].Label)
	}
	if paths[0].Score <= paths[1].Score {
		t.Fatalf("expected descending scores, got %f then %f", paths[0].Score, paths[1].Score)
	}
	if len(paths[0].Triples) != 3 {
		t.Fatalf("expected finding+location+report triples, got %d", len(paths[0].Triples))
	}
	want := "Image[IMG201] -HAS_FINDING-> Finding[F1]"
	if paths[0].Triples[0] != want {
		t.Fatalf("unexpected triple rendering: got %q, want %q", paths[0].Triples[0], want)
	}
}

func TestDerivePaths_LimitAndPatterns(t *testing.T) {
	s := newDemoStore()

	n, err := s.Neighborhood(context.Background(), DemoImage)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	tests := []struct {
		name    string
		pattern string
		limit   int
		want    int
	}{
		{"findings capped", store.PatternFindings, 1, 1},
		{"reports", store.PatternReports, 5, 1},
		{"similarity", store.PatternSimilarity, 5, 1},
		{"zero limit", store.PatternFindings, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			paths, err := store.DerivePaths(n, tc.pattern, tc.limit)
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if len(paths) != tc.want {
				t.Fatalf("expected %d paths, got %d", tc.want, len(paths))
			}
		})
	}
}

func TestDerivePaths_UnknownPattern(t *testing.T) {
	s := newDemoStore()

	n, _ := s.Neighborhood(context.Background(), DemoImage)
	_, err := store.DerivePaths(n, "nonsense", 2)
	if !errors.Is(err, store.ErrUnknownPattern) {
		t.Fatalf("expected ErrUnknownPattern, got %v", err)
	}
}

func TestDeriveEdgeStats(t *testing.T) {
	s := newDemoStore()

	n, err := s.Neighborhood(context.Background(), DemoImage)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	stats := store.DeriveEdgeStats(n)

	byRel := map[common.Relation]common.EdgeStat{}
	for _, st := range stats {
		byRel[st.Relation] = st
	}
	hf, ok := byRel[common.RelationHasFinding]
	if !ok {
		t.Fatal("expected HAS_FINDING stat")
	}
	if hf.Count != 2 {
		t.Fatalf("expected 2 HAS_FINDING edges, got %d", hf.Count)
	}
	if hf.AvgConf < 0.84 || hf.AvgConf > 0.86 {
		t.Fatalf("expected avg conf near 0.85, got %f", hf.AvgConf)
	}
	if _, ok := byRel[common.RelationSimilarTo]; !ok {
		t.Fatal("expected SIMILAR_TO stat")
	}
}

func TestSaveFindings_IdempotentUpsert(t *testing.T) {
	s := newDemoStore()
	ctx := context.Background()

	ids, err := s.SaveFindings(ctx, DemoImage, []common.Finding{
		{Type: "Mass", Location: "Liver", Size: 2.12, Confidence: 0.91},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(ids) != 1 || ids[0] != "F1" {
		t.Fatalf("expected existing node F1 to be reused, got %v", ids)
	}

	n, _ := s.Neighborhood(ctx, DemoImage)
	if len(n.Findings) != 2 {
		t.Fatalf("expected dedup to keep 2 findings, got %d", len(n.Findings))
	}
	if n.Findings[0].Confidence != 0.91 {
		t.Fatalf("expected max confidence kept, got %f", n.Findings[0].Confidence)
	}
}

func TestDeleteStudy_RemovesBacklinks(t *testing.T) {
	s := newDemoStore()
	ctx := context.Background()

	if err := s.DeleteStudy(ctx, DemoSimilarImage); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	neighbors, err := s.SimilarImages(ctx, DemoImage, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(neighbors) != 0 {
		t.Fatalf("expected backlink removed, got %d neighbors", len(neighbors))
	}
}

func TestGetStudy_NotFound(t *testing.T) {
	s := NewStore()

	_, err := s.GetStudy(context.Background(), "IMG999")
	if !errors.Is(err, store.ErrStudyNotFound) {
		t.Fatalf("expected ErrStudyNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "IMG999") {
		t.Fatalf("expected id in error, got %q", err.Error())
	}
}

func TestListStudies_Pagination(t *testing.T) {
	s := newDemoStore()
	ctx := context.Background()

	all, err := s.ListStudies(ctx, 0, 0)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 studies, got %d", len(all))
	}
	page, err := s.ListStudies(ctx, 1, 1)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 study, got %d", len(page))
	}
	if page[0].ID == all[0].ID {
		t.Fatal("expected offset to skip the first study")
	}
}

func TestSaveInference_UpsertsByID(t *testing.T) {
	s := newDemoStore()
	ctx := context.Background()

	for _, text := range []string{"first verdict", "second verdict"} {
		err := s.SaveInference(ctx, common.Inference{
			ID:      "INF_key",
			ImageID: DemoImage,
			Result:  common.ConsensusResult{Text: text},
		})
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}

	infs, err := s.ListInferences(ctx, DemoImage, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(infs) != 1 {
		t.Fatalf("expected same id to overwrite, got %d inferences", len(infs))
	}
	if infs[0].Result.Text != "second verdict" {
		t.Fatalf("expected latest result kept, got %q", infs[0].Result.Text)
	}
}

func TestSaveInference_CountsInNeighborhood(t *testing.T) {
	s := newDemoStore()
	ctx := context.Background()

	err := s.SaveInference(ctx, common.Inference{
		ID:      "INF_a",
		ImageID: DemoImage,
		Result:  common.ConsensusResult{Text: "t"},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	n, _ := s.Neighborhood(ctx, DemoImage)
	if n.InferenceCount != 1 {
		t.Fatalf("expected inference count 1, got %d", n.InferenceCount)
	}
	infs, err := s.ListInferences(ctx, DemoImage, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(infs) != 1 || infs[0].ID != "INF_a" {
		t.Fatalf("expected stored inference back, got %v", infs)
	}
}
