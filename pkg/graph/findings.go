package graph

import (
	"fmt"
	"strings"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

// findingSignature collapses a finding to its semantic identity. Size takes
// part rounded to one decimal so "1.23 cm" and "1.2 cm" count as the same
// lesion while "1.2" and "1.8" stay distinct.
func findingSignature(f common.Finding) string {
	sizePart := "na"
	if f.Size > 0 {
		sizePart = fmt.Sprintf("%.1f", f.Size)
	}
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(f.Type)),
		strings.ToLower(strings.TrimSpace(f.Location)),
		sizePart,
	}, "|")
}

// DedupeFindings removes findings that repeat an earlier signature. Order is
// preserved and the first occurrence wins, so callers put the more trusted
// source first.
func DedupeFindings(findings []common.Finding) []common.Finding {
	if len(findings) == 0 {
		return findings
	}
	seen := make(map[string]struct{}, len(findings))
	deduped := make([]common.Finding, 0, len(findings))
	for _, f := range findings {
		sig := findingSignature(f)
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		deduped = append(deduped, f)
	}
	return deduped
}

// MergeFindings combines two finding lists and drops duplicates, keeping the
// base list's entries when both carry the same signature.
func MergeFindings(base, extra []common.Finding) []common.Finding {
	merged := make([]common.Finding, 0, len(base)+len(extra))
	merged = append(merged, base...)
	merged = append(merged, extra...)
	return DedupeFindings(merged)
}

// AssignFindingIDs fills in missing finding identifiers from the semantic
// signature so repeated extraction of the same lesion upserts one node.
// Findings that already carry an identifier keep it.
func AssignFindingIDs(imageID string, findings []common.Finding) []common.Finding {
	assigned := make([]common.Finding, len(findings))
	copy(assigned, findings)
	for i := range assigned {
		if strings.TrimSpace(assigned[i].ID) == "" {
			assigned[i].ID = util.FindingID(imageID, assigned[i].Type, assigned[i].Location, assigned[i].Size)
		}
	}
	return assigned
}
