package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

const studyColumns = `public_id, patient_ref, modality, body_part, object_key, status, created_at`

// SaveStudy upserts the image node for a study. An existing row keeps its
// created_at so re-registering a study does not move it in listings.
func (s *GraphDBStorage) SaveStudy(ctx context.Context, study common.Study) error {
	if study.ID == "" {
		return fmt.Errorf("study id is empty")
	}
	if study.Status == "" {
		study.Status = common.StudyStatusQueued
	}
	if study.CreatedAt.IsZero() {
		study.CreatedAt = time.Now().UTC()
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	_, err := s.conn.Exec(ctx, `
		INSERT INTO images (public_id, patient_ref, modality, body_part, object_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (public_id) DO UPDATE SET
			patient_ref = EXCLUDED.patient_ref,
			modality = EXCLUDED.modality,
			body_part = EXCLUDED.body_part,
			object_key = EXCLUDED.object_key,
			status = EXCLUDED.status`,
		study.ID, study.PatientRef, study.Modality, study.BodyPart,
		study.ObjectKey, string(study.Status), study.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save study: %w", err)
	}
	return nil
}

func (s *GraphDBStorage) GetStudy(ctx context.Context, id string) (common.Study, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+studyColumns+` FROM images WHERE public_id = $1`, id)

	study, err := scanStudy(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Study{}, fmt.Errorf("%w: %s", store.ErrStudyNotFound, id)
	}
	if err != nil {
		return common.Study{}, fmt.Errorf("failed to get study: %w", err)
	}
	return study, nil
}

func (s *GraphDBStorage) ListStudies(ctx context.Context, limit, offset int) ([]common.Study, error) {
	if offset < 0 {
		offset = 0
	}
	var capTo any
	if limit > 0 {
		capTo = limit
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+studyColumns+`
		FROM images
		ORDER BY created_at DESC, public_id ASC
		LIMIT $1 OFFSET $2`, capTo, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	var studies []common.Study
	for rows.Next() {
		study, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan study row: %w", err)
		}
		studies = append(studies, study)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	return studies, nil
}

func (s *GraphDBStorage) SetStudyStatus(ctx context.Context, id string, status common.StudyStatus) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tag, err := s.conn.Exec(ctx,
		`UPDATE images SET status = $2 WHERE public_id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set study status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrStudyNotFound, id)
	}
	return nil
}

// DeleteStudy removes the image node. Findings, reports, inferences and
// similar edges in both directions go with it through the FK cascades.
// Deleting an unknown study is not an error.
func (s *GraphDBStorage) DeleteStudy(ctx context.Context, id string) error {
	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	tag, err := s.conn.Exec(ctx, `DELETE FROM images WHERE public_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete study: %w", err)
	}
	logger.Debug("[Graph][DeleteStudy] Deleted study", "image_id", id, "rows", tag.RowsAffected())
	return nil
}

func scanStudy(row pgxv5.Row) (common.Study, error) {
	var study common.Study
	var status string
	err := row.Scan(&study.ID, &study.PatientRef, &study.Modality, &study.BodyPart,
		&study.ObjectKey, &status, &study.CreatedAt)
	if err != nil {
		return common.Study{}, err
	}
	study.Status = common.StudyStatus(status)
	return study, nil
}
