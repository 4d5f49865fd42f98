package graph

import (
	"reflect"
	"testing"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

func TestDedupeFindings(t *testing.T) {
	tests := []struct {
		name     string
		findings []common.Finding
		want     []common.Finding
	}{
		{
			name:     "empty input",
			findings: nil,
			want:     nil,
		},
		{
			name: "exact duplicate keeps first occurrence",
			findings: []common.Finding{
				{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.86},
				{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.6},
			},
			want: []common.Finding{
				{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.86},
			},
		},
		{
			name: "sizes matching at one decimal collapse",
			findings: []common.Finding{
				{Type: "nodule", Location: "right lower lobe", Size: 1.23, Confidence: 0.8},
				{Type: "nodule", Location: "right lower lobe", Size: 1.2, Confidence: 0.7},
			},
			want: []common.Finding{
				{Type: "nodule", Location: "right lower lobe", Size: 1.23, Confidence: 0.8},
			},
		},
		{
			name: "distinct sizes stay separate",
			findings: []common.Finding{
				{Type: "nodule", Location: "right lower lobe", Size: 1.2, Confidence: 0.8},
				{Type: "nodule", Location: "right lower lobe", Size: 1.8, Confidence: 0.7},
			},
			want: []common.Finding{
				{Type: "nodule", Location: "right lower lobe", Size: 1.2, Confidence: 0.8},
				{Type: "nodule", Location: "right lower lobe", Size: 1.8, Confidence: 0.7},
			},
		},
		{
			name: "case and whitespace insensitive",
			findings: []common.Finding{
				{Type: "Mass", Location: " Liver ", Size: 2.1, Confidence: 0.86},
				{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.7},
			},
			want: []common.Finding{
				{Type: "Mass", Location: " Liver ", Size: 2.1, Confidence: 0.86},
			},
		},
		{
			name: "unsized and sized stay separate",
			findings: []common.Finding{
				{Type: "effusion", Location: "pleural space", Confidence: 0.75},
				{Type: "effusion", Location: "pleural space", Size: 1.2, Confidence: 0.7},
			},
			want: []common.Finding{
				{Type: "effusion", Location: "pleural space", Confidence: 0.75},
				{Type: "effusion", Location: "pleural space", Size: 1.2, Confidence: 0.7},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DedupeFindings(tt.findings)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DedupeFindings() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMergeFindings(t *testing.T) {
	base := []common.Finding{
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.86},
	}
	extra := []common.Finding{
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.5},
		{Type: "nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.7},
	}

	got := MergeFindings(base, extra)
	want := []common.Finding{
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.86},
		{Type: "nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.7},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeFindings() = %#v, want %#v", got, want)
	}
}

func TestAssignFindingIDs(t *testing.T) {
	findings := []common.Finding{
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.86},
		{ID: "f_existing", Type: "nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.7},
	}

	got := AssignFindingIDs("IMG901", findings)
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(got))
	}
	if want := util.FindingID("IMG901", "mass", "liver", 2.1); got[0].ID != want {
		t.Errorf("expected derived id %q, got %q", want, got[0].ID)
	}
	if got[1].ID != "f_existing" {
		t.Errorf("expected existing id preserved, got %q", got[1].ID)
	}
	if findings[0].ID != "" {
		t.Errorf("expected input slice untouched, got id %q", findings[0].ID)
	}
}
