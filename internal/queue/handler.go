package queue

import (
	"context"
	"fmt"

	"github.com/triad-med/triad/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// staleStudiesSQL finds studies stuck in processing with no live lease.
// A held lease means another worker is still on the study, so only
// abandoned ones are touched.
const staleStudiesSQL = `
UPDATE images
SET status = 'failed'
WHERE status = 'processing'
  AND NOT EXISTS (
    SELECT 1 FROM study_locks
    WHERE lock_key = 'study:' || images.public_id
      AND expires_at > now()
  )
RETURNING public_id
`

// RecoverStaleStudies marks abandoned processing studies as failed. Runs
// once at worker boot so a crash mid-ingest does not leave studies stuck
// in processing forever.
func RecoverStaleStudies(
	ctx context.Context,
	conn *pgxpool.Pool,
) error {
	rows, err := conn.Query(ctx, staleStudiesSQL)
	if err != nil {
		return fmt.Errorf("failed to find stale studies: %w", err)
	}
	defer rows.Close()

	recovered := make([]string, 0)
	for rows.Next() {
		var imageID string
		if err := rows.Scan(&imageID); err != nil {
			return fmt.Errorf("failed to scan stale study: %w", err)
		}
		recovered = append(recovered, imageID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read stale studies: %w", err)
	}

	if len(recovered) == 0 {
		logger.Debug("[Queue] No stale studies found")
		return nil
	}

	for _, imageID := range recovered {
		logger.Warn("[Queue] Marked abandoned study as failed", "image_id", imageID)
	}
	logger.Info("[Queue] Recovered stale studies", "count", len(recovered))
	return nil
}
