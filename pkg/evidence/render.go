package evidence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

// Section headers of the serialized bundle. Prompt templates and tests
// key off these literals, keep them stable.
const (
	headerEdgeSummary   = "[EDGE SUMMARY]"
	headerEvidencePaths = "[EVIDENCE PATHS (Top-k)]"
	headerFactsJSON     = "[FACTS JSON]"
)

// RenderText serializes a bundle into the three-section prompt block.
// Sections are truncated independently to maxChars, headers always
// survive, and empty sections state their emptiness explicitly instead
// of disappearing.
func RenderText(bundle common.EvidenceBundle, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	sections := []string{
		renderSection(headerEdgeSummary, renderSummary(bundle.Summary), maxChars),
		renderSection(headerEvidencePaths, renderPaths(bundle), maxChars),
		renderSection(headerFactsJSON, renderFacts(bundle.Facts), maxChars),
	}
	return strings.Join(sections, "\n")
}

func renderSummary(stats []common.EdgeStat) string {
	if len(stats) == 0 {
		return "no data"
	}
	lines := make([]string, 0, len(stats))
	for _, st := range stats {
		conf := "?"
		if st.HasConf {
			conf = fmt.Sprintf("%.2f", st.AvgConf)
		}
		lines = append(lines, fmt.Sprintf("%s: cnt=%d, avg_conf=%s", st.Relation, st.Count, conf))
	}
	return strings.Join(lines, "\n")
}

func renderPaths(bundle common.EvidenceBundle) string {
	if len(bundle.Paths) == 0 {
		k := bundle.RequestedK
		if k <= 0 {
			k = DefaultK
		}
		return fmt.Sprintf("no path generated (0/%d)", k)
	}
	var lines []string
	for i, p := range bundle.Paths {
		lines = append(lines, fmt.Sprintf("%d) %s [score=%.2f]", i+1, p.Label, p.Score))
		for _, triple := range p.Triples {
			lines = append(lines, "   "+triple)
		}
	}
	return strings.Join(lines, "\n")
}

func renderFacts(facts common.ImageFacts) string {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func renderSection(header, body string, maxChars int) string {
	budget := maxChars - len(header) - 1
	if budget < 1 {
		return header
	}
	return header + "\n" + util.TruncateMarked(body, budget)
}
