package evidence

import (
	"context"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/store"
)

// Longest triple rendering carried into a prompt. Longer triples are cut
// with a visible marker rather than silently.
const maxTripleChars = 1800

// Collection is the raw per-pattern evidence pulled for one image. Every
// view in it derives from the same neighborhood retrieval.
type Collection struct {
	Neighborhood store.Neighborhood
	Candidates   map[string][]common.EvidencePath
	Available    map[string]int
}

// TotalAvailable sums the candidate counts across patterns.
func (c Collection) TotalAvailable() int {
	total := 0
	for _, pattern := range store.Patterns {
		total += c.Available[pattern]
	}
	return total
}

// Retriever turns one neighborhood lookup into per-pattern path candidates.
type Retriever struct {
	storage store.GraphStorage
}

type NewRetrieverParams struct {
	Storage store.GraphStorage
}

func NewRetriever(params NewRetrieverParams) *Retriever {
	return &Retriever{storage: params.Storage}
}

// Collect loads the image neighborhood once and derives the capped path
// candidates of every traversal pattern from it. Storage errors come back
// unchanged so callers can tell a failed retrieval from an empty one.
func (r *Retriever) Collect(ctx context.Context, imageID string, maxPerPattern int) (Collection, error) {
	n, err := r.storage.Neighborhood(ctx, imageID)
	if err != nil {
		return Collection{}, err
	}

	collection := Collection{
		Neighborhood: n,
		Candidates:   make(map[string][]common.EvidencePath, len(store.Patterns)),
		Available:    make(map[string]int, len(store.Patterns)),
	}
	for _, pattern := range store.Patterns {
		paths, err := store.DerivePaths(n, pattern, maxPerPattern)
		if err != nil {
			return Collection{}, err
		}
		for i := range paths {
			for j, triple := range paths[i].Triples {
				paths[i].Triples[j] = util.TruncateMarked(triple, maxTripleChars)
			}
		}
		collection.Candidates[pattern] = paths
		collection.Available[pattern] = len(paths)
	}
	return collection, nil
}
