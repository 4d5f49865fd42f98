package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/triad-med/triad/pkg/store"
)

// Neighborhood loads everything attached to an image in one call: findings
// confidence desc, reports confidence desc, similars score desc, each with an
// id tiebreak. An unknown image reads as an empty neighborhood rather than an
// error.
func (s *GraphDBStorage) Neighborhood(ctx context.Context, imageID string) (store.Neighborhood, error) {
	nb := store.Neighborhood{ImageID: imageID}

	imageDBID, err := s.imageDBID(ctx, imageID)
	if errors.Is(err, store.ErrStudyNotFound) {
		return nb, nil
	}
	if err != nil {
		return store.Neighborhood{}, err
	}

	reports, err := s.reportsForImage(ctx, imageDBID, imageID)
	if err != nil {
		return store.Neighborhood{}, err
	}
	nb.Reports = reports

	bestRepConf := 0.0
	if len(reports) > 0 {
		bestRepConf = reports[0].Confidence
	}

	findings, err := s.findingsForImage(ctx, imageDBID)
	if err != nil {
		return store.Neighborhood{}, err
	}
	for i := range findings {
		findings[i].ReportConf = bestRepConf
	}
	nb.Findings = findings

	similar, err := s.similarForImage(ctx, imageID, 0)
	if err != nil {
		return store.Neighborhood{}, err
	}
	nb.Similar = similar

	var count int
	err = s.conn.QueryRow(ctx,
		`SELECT count(*) FROM inferences WHERE image_id = $1`, imageDBID).Scan(&count)
	if err != nil {
		return store.Neighborhood{}, fmt.Errorf("failed to count inferences: %w", err)
	}
	nb.InferenceCount = count

	return nb, nil
}
