package store

import (
	"fmt"

	"github.com/triad-med/triad/pkg/common"
)

// DerivePaths builds the evidence paths of one traversal pattern from a
// neighborhood. Results come back score desc, label asc; limit < 0 means
// unbounded, limit 0 yields nothing.
func DerivePaths(n Neighborhood, pattern string, limit int) ([]common.EvidencePath, error) {
	if limit == 0 {
		return nil, nil
	}

	var paths []common.EvidencePath
	switch pattern {
	case PatternFindings:
		paths = findingPaths(n)
	case PatternReports:
		paths = reportPaths(n)
	case PatternSimilarity:
		paths = similarityPaths(n)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPattern, pattern)
	}

	SortPaths(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// PathAvailability counts how many paths each pattern can produce from the
// neighborhood, keyed by pattern name. Input to slot allocation.
func PathAvailability(n Neighborhood) map[string]int {
	return map[string]int{
		PatternFindings:   len(n.Findings),
		PatternReports:    len(n.Reports),
		PatternSimilarity: len(n.Similar),
	}
}

// DeriveFacts builds the per-image fact sheet from the same neighborhood
// the paths come from. Findings keep their retrieval order.
func DeriveFacts(n Neighborhood) common.ImageFacts {
	findings := make([]common.Finding, 0, len(n.Findings))
	findings = append(findings, n.Findings...)
	return common.ImageFacts{ID: n.ImageID, Findings: findings}
}

// DeriveEdgeStats aggregates the neighborhood per relation, in relation
// declaration order. Relations without edges are omitted.
func DeriveEdgeStats(n Neighborhood) []common.EdgeStat {
	var stats []common.EdgeStat

	if len(n.Findings) > 0 {
		sum := 0.0
		located := 0
		locatedSum := 0.0
		for _, f := range n.Findings {
			sum += f.Confidence
			if f.Location != "" {
				located++
				locatedSum += f.Confidence
			}
		}
		stats = append(stats, common.EdgeStat{
			Relation: common.RelationHasFinding,
			Count:    len(n.Findings),
			AvgConf:  sum / float64(len(n.Findings)),
			HasConf:  true,
		})
		if located > 0 {
			stats = append(stats, common.EdgeStat{
				Relation: common.RelationLocatedIn,
				Count:    located,
				AvgConf:  locatedSum / float64(located),
				HasConf:  true,
			})
		}
	}
	if len(n.Reports) > 0 {
		sum := 0.0
		for _, r := range n.Reports {
			sum += r.Confidence
		}
		stats = append(stats, common.EdgeStat{
			Relation: common.RelationDescribedBy,
			Count:    len(n.Reports),
			AvgConf:  sum / float64(len(n.Reports)),
			HasConf:  true,
		})
	}
	if len(n.Similar) > 0 {
		sum := 0.0
		for _, s := range n.Similar {
			sum += s.Score
		}
		stats = append(stats, common.EdgeStat{
			Relation: common.RelationSimilarTo,
			Count:    len(n.Similar),
			AvgConf:  sum / float64(len(n.Similar)),
			HasConf:  true,
		})
	}
	if n.InferenceCount > 0 {
		stats = append(stats, common.EdgeStat{
			Relation: common.RelationHasInference,
			Count:    n.InferenceCount,
		})
	}
	return stats
}

func findingPaths(n Neighborhood) []common.EvidencePath {
	var repID string
	repConf := 0.0
	if len(n.Reports) > 0 {
		repID = n.Reports[0].ID
		repConf = n.Reports[0].Confidence
	}

	var paths []common.EvidencePath
	for _, f := range n.Findings {
		triples := []string{
			Triple("Image", n.ImageID, common.RelationHasFinding, "Finding", f.ID),
		}
		locConf := 0.0
		if f.Location != "" {
			locConf = f.Confidence
			triples = append(triples, Triple("Finding", f.ID, common.RelationLocatedIn, "Anatomy", f.Location))
		}
		rc := 0.0
		if repID != "" {
			rc = repConf
			triples = append(triples, Triple("Image", n.ImageID, common.RelationDescribedBy, "Report", repID))
		}
		paths = append(paths, common.EvidencePath{
			Label:   FindingLabel(f),
			Triples: triples,
			Score:   PathScore(f.Confidence, locConf, rc),
			Pattern: PatternFindings,
		})
	}
	return paths
}

func reportPaths(n Neighborhood) []common.EvidencePath {
	var paths []common.EvidencePath
	for _, r := range n.Reports {
		label := "Report#" + r.ID
		if r.Model != "" {
			label += " | model=" + r.Model
		}
		paths = append(paths, common.EvidencePath{
			Label:   label,
			Triples: []string{Triple("Image", n.ImageID, common.RelationDescribedBy, "Report", r.ID)},
			Score:   r.Confidence,
			Pattern: PatternReports,
		})
	}
	return paths
}

func similarityPaths(n Neighborhood) []common.EvidencePath {
	var paths []common.EvidencePath
	for _, s := range n.Similar {
		label := "Similar#" + s.ID
		if s.Basis != "" {
			label += " | basis=" + s.Basis
		}
		paths = append(paths, common.EvidencePath{
			Label:   label,
			Triples: []string{Triple("Image", n.ImageID, common.RelationSimilarTo, "Image", s.ID)},
			Score:   s.Score,
			Pattern: PatternSimilarity,
		})
	}
	return paths
}
