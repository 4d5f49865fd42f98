package graph

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// Similarity linking bounds. With the default threshold a candidate needs a
// modality match to link at all: the semantic component alone caps at 0.4.
const (
	DefaultSimilarityThreshold = 0.5
	DefaultSimilarityTopK      = 10

	modalityWeight = 0.6
	semanticWeight = 0.4

	candidateOverfetch = 3
)

var similarityTokenRe = regexp.MustCompile(`[^a-z0-9]+`)

// SimilaritySubject is the slice of a study the scorer compares: the
// modality plus the findings attached to the image node.
type SimilaritySubject struct {
	Modality string
	Findings []common.Finding
}

// ScoreSimilarity blends modality agreement with the embedding-space
// semantic score of a candidate, weighted 0.6/0.4. The score is rounded to
// three decimals; the basis string names the matched signals for the
// SIMILAR_TO edge, "none" when nothing matched.
func ScoreSimilarity(a, b SimilaritySubject, semantic float64) (float64, string) {
	modalityA := strings.ToUpper(strings.TrimSpace(a.Modality))
	modalityB := strings.ToUpper(strings.TrimSpace(b.Modality))

	modalityMatch := 0.0
	if modalityA != "" && modalityA == modalityB {
		modalityMatch = 1.0
	}

	if semantic < 0 {
		semantic = 0
	}
	if semantic > 1 {
		semantic = 1
	}

	score := modalityWeight*modalityMatch + semanticWeight*semantic
	score = math.Round(score*1000) / 1000

	basisParts := make([]string, 0, 3)
	if modalityMatch > 0 {
		basisParts = append(basisParts, "modality")
	}

	typesA, locationsA := findingTokens(a.Findings)
	typesB, locationsB := findingTokens(b.Findings)
	if tokensOverlap(typesA, typesB) {
		basisParts = append(basisParts, "finding_type")
	}
	if tokensOverlap(locationsA, locationsB) {
		basisParts = append(basisParts, "location")
	}

	if len(basisParts) == 0 {
		basisParts = append(basisParts, "none")
	}

	return score, strings.Join(basisParts, "+")
}

func findingTokens(findings []common.Finding) (map[string]bool, map[string]bool) {
	types := make(map[string]bool)
	locations := make(map[string]bool)
	for _, f := range findings {
		if token := normalizeSimilarityToken(f.Type); token != "" {
			types[token] = true
		}
		if token := normalizeSimilarityToken(f.Location); token != "" {
			locations[token] = true
		}
	}
	return types, locations
}

func tokensOverlap(a, b map[string]bool) bool {
	for token := range a {
		if b[token] {
			return true
		}
	}
	return false
}

func normalizeSimilarityToken(value string) string {
	token := similarityTokenRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "_")
	return strings.Trim(token, "_")
}

// LinkSimilarImages scores the embedding-space candidates of a study and
// upserts SIMILAR_TO edges for those reaching the threshold, ordered by
// score and capped at topK. Returns the linked neighbors.
func (g *GraphClient) LinkSimilarImages(
	ctx context.Context,
	study common.Study,
	storeClient store.GraphStorage,
) ([]common.SimilarImage, error) {
	nb, err := storeClient.Neighborhood(ctx, study.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load study neighborhood: %w", err)
	}
	subject := SimilaritySubject{Modality: study.Modality, Findings: nb.Findings}

	candidates, err := storeClient.SemanticNeighbors(ctx, study.ID, g.similarityTopK*candidateOverfetch)
	if err != nil {
		return nil, fmt.Errorf("failed to load semantic neighbors: %w", err)
	}

	neighbors := make([]common.SimilarImage, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ID == "" || candidate.ID == study.ID {
			continue
		}

		candidateNb, err := storeClient.Neighborhood(ctx, candidate.ID)
		if err != nil {
			logger.Warn("[Graph] Skipping similarity candidate", "image_id", candidate.ID, "err", err)
			continue
		}

		score, basis := ScoreSimilarity(subject, SimilaritySubject{
			Modality: candidate.Modality,
			Findings: candidateNb.Findings,
		}, candidate.Score)
		if score < g.similarityThreshold {
			continue
		}

		neighbors = append(neighbors, common.SimilarImage{
			ID:       candidate.ID,
			Modality: candidate.Modality,
			Score:    score,
			Basis:    basis,
		})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].ID < neighbors[j].ID
	})
	if len(neighbors) > g.similarityTopK {
		neighbors = neighbors[:g.similarityTopK]
	}

	if err := storeClient.LinkSimilar(ctx, study.ID, neighbors); err != nil {
		return nil, fmt.Errorf("failed to link similar images: %w", err)
	}

	return neighbors, nil
}
