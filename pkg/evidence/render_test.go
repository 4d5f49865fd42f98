package evidence

import (
	"strings"
	"testing"

	"github.com/triad-med/triad/pkg/common"
)

func TestRenderText_FullBundle(t *testing.T) {
	bundle := common.EvidenceBundle{
		Summary: []common.EdgeStat{
			{Relation: common.RelationHasFinding, Count: 2, AvgConf: 0.85, HasConf: true},
			{Relation: common.RelationHasInference, Count: 1},
		},
		Facts: common.ImageFacts{
			ID: "IMG201",
			Findings: []common.Finding{
				{ID: "F1", Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.88},
			},
		},
		Paths: []common.EvidencePath{
			{Label: "mass @ liver", Triples: []string{"Image[IMG201] -HAS_FINDING-> Finding[F1]"}, Score: 0.882},
		},
		RequestedK: 2,
	}

	text := RenderText(bundle, 0)

	for _, want := range []string{
		"[EDGE SUMMARY]\nHAS_FINDING: cnt=2, avg_conf=0.85",
		"HAS_INFERENCE: cnt=1, avg_conf=?",
		"1) mass @ liver [score=0.88]",
		"   Image[IMG201] -HAS_FINDING-> Finding[F1]",
		"[FACTS JSON]",
		"\"id\": \"IMG201\"",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected rendered text to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRenderText_EmptyBundleKeepsMarkers(t *testing.T) {
	bundle := common.EvidenceBundle{RequestedK: 3}

	text := RenderText(bundle, 0)

	if !strings.Contains(text, "[EDGE SUMMARY]\nno data") {
		t.Fatalf("expected explicit empty summary, got:\n%s", text)
	}
	if !strings.Contains(text, "no path generated (0/3)") {
		t.Fatalf("expected empty-path marker with requested k, got:\n%s", text)
	}
	if !strings.Contains(text, "[FACTS JSON]") {
		t.Fatalf("expected facts header, got:\n%s", text)
	}
}

func TestRenderText_TruncatesSectionsIndependently(t *testing.T) {
	long := strings.Repeat("Image[IMG201] -HAS_FINDING-> Finding[F1]\n", 10)
	bundle := common.EvidenceBundle{
		Summary: []common.EdgeStat{
			{Relation: common.RelationHasFinding, Count: 99, AvgConf: 0.5, HasConf: true},
		},
		Paths: []common.EvidencePath{
			{Label: "mass", Triples: strings.Split(strings.TrimSpace(long), "\n"), Score: 0.9},
		},
		RequestedK: 2,
	}

	text := RenderText(bundle, 60)

	if !strings.Contains(text, "...[truncated]") {
		t.Fatalf("expected truncation marker, got:\n%s", text)
	}
	for _, header := range []string{headerEdgeSummary, headerEvidencePaths, headerFactsJSON} {
		if !strings.Contains(text, header) {
			t.Fatalf("expected header %q to survive truncation", header)
		}
	}
}

func TestRenderText_TinyBudgetKeepsHeadersOnly(t *testing.T) {
	bundle := common.EvidenceBundle{RequestedK: 2}

	text := RenderText(bundle, 5)

	want := headerEdgeSummary + "\n" + headerEvidencePaths + "\n" + headerFactsJSON
	if text != want {
		t.Fatalf("expected bare headers, got:\n%s", text)
	}
}
