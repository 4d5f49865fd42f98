package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
)

// SaveReport upserts a report node by its content-derived id, so attaching
// the same report text twice replaces the row instead of duplicating it.
func (s *GraphDBStorage) SaveReport(ctx context.Context, report common.Report) error {
	if report.ID == "" {
		report.ID = util.ReportID(report.ImageID, report.Text, report.Model)
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	imageDBID, err := s.imageDBID(ctx, report.ImageID)
	if err != nil {
		return err
	}

	embedding, err := s.aiClient.GenerateEmbedding(ctx, []byte(report.Text))
	if err != nil {
		return err
	}
	embed := pgvector.NewVector(embedding)

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	_, err = s.conn.Exec(ctx, `
		INSERT INTO reports (public_id, image_id, body, model, confidence, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (public_id) DO UPDATE SET
			body = EXCLUDED.body,
			model = EXCLUDED.model,
			confidence = EXCLUDED.confidence,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`,
		report.ID, imageDBID, report.Text, report.Model, report.Confidence,
		embed, report.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	logger.Debug("[Graph][SaveReport] Saved report", "report_id", report.ID, "image_id", report.ImageID)
	return nil
}

func (s *GraphDBStorage) reportsForImage(ctx context.Context, imageDBID int64, imageID string) ([]common.Report, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT public_id, body, model, confidence, created_at
		FROM reports
		WHERE image_id = $1
		ORDER BY confidence DESC, public_id ASC`, imageDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports: %w", err)
	}
	defer rows.Close()

	var reports []common.Report
	for rows.Next() {
		report := common.Report{ImageID: imageID}
		if err := rows.Scan(&report.ID, &report.Text, &report.Model, &report.Confidence, &report.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load reports: %w", err)
	}
	return reports, nil
}
