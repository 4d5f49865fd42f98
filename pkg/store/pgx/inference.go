package pgx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

// SaveInference upserts a persisted consensus run by id. Re-running an
// analysis under the same id replaces the record instead of growing the
// history.
func (s *GraphDBStorage) SaveInference(ctx context.Context, inf common.Inference) error {
	if inf.ID == "" {
		inf.ID = util.InferenceID()
	}
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}

	imageDBID, err := s.imageDBID(ctx, inf.ImageID)
	if err != nil {
		return err
	}

	result, err := json.Marshal(inf.Result)
	if err != nil {
		return fmt.Errorf("failed to encode inference result: %w", err)
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	_, err = s.conn.Exec(ctx, `
		INSERT INTO inferences (public_id, image_id, result, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (public_id) DO UPDATE SET
			result = EXCLUDED.result,
			created_at = EXCLUDED.created_at`,
		inf.ID, imageDBID, result, inf.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save inference: %w", err)
	}
	return nil
}

func (s *GraphDBStorage) ListInferences(ctx context.Context, imageID string, limit int) ([]common.Inference, error) {
	var capTo any
	if limit > 0 {
		capTo = limit
	}

	rows, err := s.conn.Query(ctx, `
		SELECT inf.public_id, inf.result, inf.created_at
		FROM inferences inf
		JOIN images i ON i.id = inf.image_id
		WHERE i.public_id = $1
		ORDER BY inf.created_at DESC, inf.public_id ASC
		LIMIT $2`, imageID, capTo)
	if err != nil {
		return nil, fmt.Errorf("failed to list inferences: %w", err)
	}
	defer rows.Close()

	var infs []common.Inference
	for rows.Next() {
		inf := common.Inference{ImageID: imageID}
		var result []byte
		if err := rows.Scan(&inf.ID, &result, &inf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inference row: %w", err)
		}
		if err := json.Unmarshal(result, &inf.Result); err != nil {
			return nil, fmt.Errorf("failed to decode inference result: %w", err)
		}
		infs = append(infs, inf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list inferences: %w", err)
	}
	return infs, nil
}
