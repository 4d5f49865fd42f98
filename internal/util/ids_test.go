package util

import (
	"strings"
	"testing"
)

func TestReportID_Deterministic(t *testing.T) {
	a := ReportID("IMG201", "Nodular opacity in the right lower lobe.", "consensus")
	b := ReportID("IMG201", "Nodular opacity in the right lower lobe.", "consensus")
	if a != b {
		t.Fatalf("expected identical ids, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, "R_") {
		t.Fatalf("expected R_ prefix, got %q", a)
	}
	if len(a) != len("R_")+12 {
		t.Fatalf("expected 12 hex chars after prefix, got %q", a)
	}
}

func TestReportID_VariesByInput(t *testing.T) {
	base := ReportID("IMG201", "text", "consensus")
	tests := []struct {
		name  string
		image string
		text  string
		model string
	}{
		{"DifferentImage", "IMG202", "text", "consensus"},
		{"DifferentText", "IMG201", "other", "consensus"},
		{"DifferentModel", "IMG201", "text", "vgl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ReportID(tc.image, tc.text, tc.model)
			if got == base {
				t.Fatalf("expected id to differ from %q", base)
			}
		})
	}
}

func TestReportID_LongTextTruncatedForDigest(t *testing.T) {
	long := strings.Repeat("a", 400)
	same := long[:256] + strings.Repeat("b", 100)
	if ReportID("IMG201", long, "m") != ReportID("IMG201", same, "m") {
		t.Fatal("expected ids to match when texts agree on the first 256 chars")
	}
	shorter := long[:255]
	if ReportID("IMG201", long, "m") == ReportID("IMG201", shorter, "m") {
		t.Fatal("expected ids to differ when the first 256 chars differ")
	}
}

func TestFallbackPathID(t *testing.T) {
	id := FallbackPathID(2)
	if id != "FALLBACK_2" {
		t.Fatalf("expected FALLBACK_2, got %q", id)
	}
	if !IsFallbackPathID(id) {
		t.Fatalf("expected %q to be recognized as fallback", id)
	}
	if IsFallbackPathID("F1") {
		t.Fatal("expected F1 not to be recognized as fallback")
	}
}

func TestNewPublicID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewPublicID()
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if seen[id] {
			t.Fatalf("expected unique ids, got duplicate %q", id)
		}
		seen[id] = true
	}
}
