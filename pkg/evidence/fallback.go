package evidence

import (
	"fmt"
	"strings"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/store"
)

// Score assigned to a synthesized path when the seed finding carries no
// confidence of its own.
const fallbackPathScore = 0.5

// synthesizeFallbackPaths builds paths from caller-supplied findings when
// the graph yielded none. The paths reuse the canonical triple form so a
// prompt consumer sees the same shape, but they only ever exist behind
// FallbackUsed.
func synthesizeFallbackPaths(imageID string, seed []common.Finding, limit int) []common.EvidencePath {
	if len(seed) == 0 {
		return nil
	}
	if limit < 1 {
		limit = 1
	}
	token := strings.TrimSpace(imageID)
	if token == "" {
		token = "UNKNOWN"
	}

	var paths []common.EvidencePath
	for _, f := range seed {
		id := f.ID
		if id == "" {
			id = util.FallbackPathID(len(paths) + 1)
		}
		label := f.Type
		if label == "" {
			label = fmt.Sprintf("Finding[%s]", id)
		}
		triples := []string{store.Triple("Image", token, common.RelationHasFinding, "Finding", id)}
		if f.Location != "" {
			triples = append(triples, store.Triple("Finding", id, common.RelationLocatedIn, "Anatomy", f.Location))
		}
		score := f.Confidence
		if score <= 0 {
			score = fallbackPathScore
		}
		paths = append(paths, common.EvidencePath{
			Label:   label,
			Triples: triples,
			Score:   score,
			Pattern: store.PatternFindings,
		})
		if len(paths) >= limit {
			break
		}
	}
	return paths
}

// fallbackFindings prepares seed findings for the facts section, minting
// placeholder ids where the caller supplied none.
func fallbackFindings(seed []common.Finding) []common.Finding {
	out := make([]common.Finding, 0, len(seed))
	for i, f := range seed {
		if f.ID == "" {
			f.ID = util.FallbackPathID(i + 1)
		}
		out = append(out, f)
	}
	return out
}
