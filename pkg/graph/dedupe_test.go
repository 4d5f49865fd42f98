package graph

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/common"
)

func TestHasDuplicateGroups(t *testing.T) {
	tests := []struct {
		name string
		res  *ai.DuplicatesResponse
		want bool
	}{
		{
			name: "no groups",
			res:  &ai.DuplicatesResponse{},
			want: false,
		},
		{
			name: "single term matching its canonical",
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "mass", Terms: []string{"mass"}},
			}},
			want: false,
		},
		{
			name: "single term rename",
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "mass", Terms: []string{"hepatic mass"}},
			}},
			want: true,
		},
		{
			name: "multi term group",
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "nodule", Terms: []string{"nodule", "pulmonary nodule"}},
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasDuplicateGroups(tt.res); got != tt.want {
				t.Errorf("hasDuplicateGroups() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyCanonicalTerms(t *testing.T) {
	tests := []struct {
		name        string
		findings    []common.Finding
		res         *ai.DuplicatesResponse
		wantTypes   []string
		wantChanged bool
	}{
		{
			name: "renames and collapses",
			findings: []common.Finding{
				{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.86},
				{Type: "hepatic mass", Location: "liver", Size: 2.1, Confidence: 0.8},
			},
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "mass", Terms: []string{"mass", "hepatic mass"}},
			}},
			wantTypes:   []string{"mass"},
			wantChanged: true,
		},
		{
			name: "renames without collision",
			findings: []common.Finding{
				{ID: "f_old", Type: "hepatic lesion", Location: "liver", Confidence: 0.7},
			},
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "mass", Terms: []string{"hepatic lesion"}},
			}},
			wantTypes:   []string{"mass"},
			wantChanged: true,
		},
		{
			name: "no groups leaves findings alone",
			findings: []common.Finding{
				{Type: "mass", Location: "liver", Confidence: 0.8},
				{Type: "nodule", Location: "right lower lobe", Confidence: 0.7},
			},
			res:         &ai.DuplicatesResponse{},
			wantTypes:   []string{"mass", "nodule"},
			wantChanged: false,
		},
		{
			name: "blank canonical name is skipped",
			findings: []common.Finding{
				{Type: "mass", Location: "liver", Confidence: 0.8},
			},
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "  ", Terms: []string{"mass", "lesion"}},
			}},
			wantTypes:   []string{"mass"},
			wantChanged: false,
		},
		{
			name: "term match is case insensitive",
			findings: []common.Finding{
				{Type: "Pulmonary Nodule", Location: "right lower lobe", Confidence: 0.7},
			},
			res: &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
				{Name: "nodule", Terms: []string{"pulmonary nodule"}},
			}},
			wantTypes:   []string{"nodule"},
			wantChanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := applyCanonicalTerms(tt.findings, tt.res)
			if changed != tt.wantChanged {
				t.Errorf("applyCanonicalTerms() changed = %v, want %v", changed, tt.wantChanged)
			}
			gotTypes := make([]string, 0, len(got))
			for _, f := range got {
				gotTypes = append(gotTypes, f.Type)
			}
			if !reflect.DeepEqual(gotTypes, tt.wantTypes) {
				t.Errorf("applyCanonicalTerms() types = %v, want %v", gotTypes, tt.wantTypes)
			}
		})
	}
}

func TestApplyCanonicalTerms_ClearsStaleID(t *testing.T) {
	findings := []common.Finding{
		{ID: "f_old", Type: "hepatic lesion", Location: "liver", Confidence: 0.7},
	}
	res := &ai.DuplicatesResponse{Duplicates: []ai.DuplicateGroup{
		{Name: "mass", Terms: []string{"hepatic lesion"}},
	}}

	got, _ := applyCanonicalTerms(findings, res)
	if len(got) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(got))
	}
	if got[0].ID != "" {
		t.Errorf("expected renamed finding to drop its id, got %q", got[0].ID)
	}
	if findings[0].ID != "f_old" {
		t.Errorf("expected input slice untouched, got id %q", findings[0].ID)
	}
}

func TestDedupeFindingsSkipsAIForSingleFinding(t *testing.T) {
	g := newTestGraphClient(t)
	fake := &fakeAIClient{}

	findings := []common.Finding{{Type: "mass", Location: "liver", Confidence: 0.8}}
	got, err := g.dedupeFindings(context.Background(), findings, fake)
	if err != nil {
		t.Fatalf("dedupeFindings() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 finding, got %d", len(got))
	}
	if fake.calls("dedupe_findings") != 0 {
		t.Errorf("expected no dedupe calls, got %d", fake.calls("dedupe_findings"))
	}
}

func TestDedupeFindingsSingleBatch(t *testing.T) {
	g := newTestGraphClient(t)
	fake := &fakeAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name != "dedupe_findings" {
				return json.Unmarshal([]byte(`{}`), out)
			}
			return json.Unmarshal([]byte(`{"duplicates":[{"canonicalName":"nodule","terms":["nodule","pulmonary nodule"]}]}`), out)
		},
	}

	findings := []common.Finding{
		{Type: "nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.82},
		{Type: "pulmonary nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.6},
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.88},
	}

	got, err := g.dedupeFindings(context.Background(), findings, fake)
	if err != nil {
		t.Fatalf("dedupeFindings() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 findings after dedupe, got %d", len(got))
	}
	if got[0].Type != "nodule" || got[0].Confidence != 0.82 {
		t.Errorf("expected canonical nodule with first-occurrence confidence, got %+v", got[0])
	}
	if got[1].Type != "mass" {
		t.Errorf("expected mass to survive, got %+v", got[1])
	}
	if fake.calls("dedupe_findings") != 1 {
		t.Errorf("expected 1 dedupe call, got %d", fake.calls("dedupe_findings"))
	}
}

func TestDedupeFindingsErrorPropagates(t *testing.T) {
	g := newTestGraphClient(t)
	fake := &fakeAIClient{
		formatFn: func(name, prompt string, out any) error {
			if name == "dedupe_findings" {
				return errors.New("model unavailable")
			}
			return json.Unmarshal([]byte(`{}`), out)
		},
	}

	findings := []common.Finding{
		{Type: "mass", Location: "liver", Confidence: 0.8},
		{Type: "nodule", Location: "right lower lobe", Confidence: 0.7},
	}
	if _, err := g.dedupeFindings(context.Background(), findings, fake); err == nil {
		t.Fatal("expected dedupe error to propagate")
	}
}

func TestReorderFindingsForIteration(t *testing.T) {
	findings := []common.Finding{
		{Type: "d", Location: "x"},
		{Type: "c", Location: "x"},
		{Type: "b", Location: "x"},
		{Type: "a", Location: "x"},
	}

	identity := reorderFindingsForIteration(findings, 1, 2)
	if !reflect.DeepEqual(identity, findings) {
		t.Errorf("iteration 1 should keep order, got %v", typesOf(identity))
	}

	interleaved := reorderFindingsForIteration(findings, 2, 2)
	if got, want := typesOf(interleaved), []string{"d", "b", "c", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("iteration 2 interleave = %v, want %v", got, want)
	}

	sorted := reorderFindingsForIteration(findings, 3, 2)
	if got, want := typesOf(sorted), []string{"a", "b", "c", "d"}; !reflect.DeepEqual(got, want) {
		t.Errorf("iteration 3 sort = %v, want %v", got, want)
	}

	if !reflect.DeepEqual(typesOf(findings), []string{"d", "c", "b", "a"}) {
		t.Errorf("input slice mutated: %v", typesOf(findings))
	}
}

func TestInterleaveFindingsZeroBatchSize(t *testing.T) {
	findings := []common.Finding{{Type: "a"}, {Type: "b"}}
	got := interleaveFindings(findings, 0)
	if !reflect.DeepEqual(got, findings) {
		t.Errorf("expected unchanged slice, got %v", typesOf(got))
	}
}

func typesOf(findings []common.Finding) []string {
	types := make([]string, 0, len(findings))
	for _, f := range findings {
		types = append(types, f.Type)
	}
	return types
}
