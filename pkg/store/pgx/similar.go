package pgx

import (
	"context"
	"fmt"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
)

// SemanticNeighbors finds candidate neighbors in embedding space. The
// centroid of the subject's finding embeddings is compared against every
// other image's findings; a candidate scores by its closest finding. Images
// without embedded findings never appear, including the subject itself.
func (s *GraphDBStorage) SemanticNeighbors(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error) {
	var capTo any
	if topK > 0 {
		capTo = topK
	}

	rows, err := s.conn.Query(ctx, `
		WITH centroid AS (
			SELECT avg(f.embedding) AS embedding
			FROM findings f
			JOIN images i ON i.id = f.image_id
			WHERE i.public_id = $1 AND f.embedding IS NOT NULL
		)
		SELECT n.public_id, n.modality, 1 - min(f.embedding <=> c.embedding) AS score
		FROM findings f
		JOIN images n ON n.id = f.image_id
		CROSS JOIN centroid c
		WHERE n.public_id <> $1 AND f.embedding IS NOT NULL AND c.embedding IS NOT NULL
		GROUP BY n.public_id, n.modality
		ORDER BY score DESC, n.public_id ASC
		LIMIT $2`, imageID, capTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query semantic neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []common.SimilarImage
	for rows.Next() {
		n := common.SimilarImage{Basis: "semantic"}
		if err := rows.Scan(&n.ID, &n.Modality, &n.Score); err != nil {
			return nil, fmt.Errorf("failed to scan semantic neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query semantic neighbors: %w", err)
	}
	return neighbors, nil
}

// SimilarImages returns the materialized SIMILAR_TO edges of an image,
// score desc with an id tiebreak.
func (s *GraphDBStorage) SimilarImages(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error) {
	return s.similarForImage(ctx, imageID, topK)
}

// LinkSimilar upserts directed SIMILAR_TO edges from an image to its
// neighbors. An edge to an image missing from the graph is skipped.
func (s *GraphDBStorage) LinkSimilar(ctx context.Context, imageID string, neighbors []common.SimilarImage) error {
	if len(neighbors) == 0 {
		return nil
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, n := range neighbors {
		tag, err := tx.Exec(ctx, `
			INSERT INTO similar_edges (image_id, neighbor_id, score, basis)
			SELECT i.id, n.id, $3, $4
			FROM images i, images n
			WHERE i.public_id = $1 AND n.public_id = $2
			ON CONFLICT (image_id, neighbor_id) DO UPDATE SET
				score = EXCLUDED.score,
				basis = EXCLUDED.basis`,
			imageID, n.ID, n.Score, n.Basis)
		if err != nil {
			return fmt.Errorf("failed to link similar image: %w", err)
		}
		if tag.RowsAffected() == 0 {
			logger.Warn("[Graph][LinkSimilar] Skipping edge to unknown image",
				"image_id", imageID, "neighbor_id", n.ID)
		}
	}

	logger.Debug("[Graph][LinkSimilar] Linked neighbors", "image_id", imageID, "count", len(neighbors))
	return tx.Commit(ctx)
}

func (s *GraphDBStorage) similarForImage(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error) {
	var capTo any
	if topK > 0 {
		capTo = topK
	}

	rows, err := s.conn.Query(ctx, `
		SELECT n.public_id, n.modality, e.score, e.basis
		FROM similar_edges e
		JOIN images i ON i.id = e.image_id
		JOIN images n ON n.id = e.neighbor_id
		WHERE i.public_id = $1
		ORDER BY e.score DESC, n.public_id ASC
		LIMIT $2`, imageID, capTo)
	if err != nil {
		return nil, fmt.Errorf("failed to load similar images: %w", err)
	}
	defer rows.Close()

	var neighbors []common.SimilarImage
	for rows.Next() {
		var n common.SimilarImage
		if err := rows.Scan(&n.ID, &n.Modality, &n.Score, &n.Basis); err != nil {
			return nil, fmt.Errorf("failed to scan similar image: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load similar images: %w", err)
	}
	return neighbors, nil
}
