package store

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/triad-med/triad/pkg/common"
)

// Path score weights for the findings pattern. The finding edge dominates,
// location and report provenance refine the ordering.
const (
	pathWeightFinding  = 0.6
	pathWeightLocation = 0.3
	pathWeightReport   = 0.1
)

// PathScore blends the edge confidences along a finding path. Missing
// components contribute zero, so the score stays monotonic in each input.
func PathScore(findingConf, locationConf, reportConf float64) float64 {
	return pathWeightFinding*findingConf + pathWeightLocation*locationConf + pathWeightReport*reportConf
}

// SortPaths orders paths score desc, then label asc. The order is part of
// the retrieval contract; both storage backends go through it.
func SortPaths(paths []common.EvidencePath) {
	sort.SliceStable(paths, func(i, j int) bool {
		if paths[i].Score != paths[j].Score {
			return paths[i].Score > paths[j].Score
		}
		return paths[i].Label < paths[j].Label
	})
}

// FindingLabel renders the display label for a finding, `Type @ Location`
// with graceful fallbacks when fields are missing.
func FindingLabel(f common.Finding) string {
	label := f.Type
	if label == "" {
		label = f.ID
	}
	if label == "" {
		label = "Finding"
	}
	if f.Location != "" {
		label += " @ " + f.Location
	}
	return label
}

// FindingKey is the dedup key for findings: case-insensitive type and
// location plus size rounded to one decimal.
func FindingKey(f common.Finding) string {
	return fmt.Sprintf("%s|%s|%.1f", strings.ToLower(f.Type), strings.ToLower(f.Location), math.Round(f.Size*10)/10)
}

// Triple renders one hop in the canonical form used across the graph:
// `Image[IMG201] -HAS_FINDING-> Finding[F1]`.
func Triple(fromType, fromID string, rel common.Relation, toType, toID string) string {
	return fmt.Sprintf("%s[%s] -%s-> %s[%s]", fromType, fromID, rel, toType, toID)
}
