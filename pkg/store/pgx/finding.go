package pgx

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

const findingChunk = 250

type findingRow struct {
	id   string
	conf float64
}

type findingConfBump struct {
	id   string
	conf float64
}

// SaveFindings upserts findings for an image and returns their node ids in
// input order. Findings matching an existing node by dedup key only escalate
// that node's confidence; fresh findings are embedded and inserted. Embedding
// generation happens before the write lock is taken.
func (s *GraphDBStorage) SaveFindings(ctx context.Context, imageID string, findings []common.Finding) ([]string, error) {
	if len(findings) == 0 {
		return nil, nil
	}

	imageDBID, err := s.imageDBID(ctx, imageID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findingRowsByKey(ctx, imageDBID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(findings))
	var fresh []common.Finding
	var bumps []findingConfBump

	for _, f := range findings {
		key := store.FindingKey(f)
		if row, ok := existing[key]; ok {
			if f.Confidence > row.conf {
				row.conf = f.Confidence
				bumps = append(bumps, findingConfBump{id: row.id, conf: f.Confidence})
			}
			ids = append(ids, row.id)
			continue
		}
		if strings.TrimSpace(f.ID) == "" {
			f.ID = util.FindingID(imageID, f.Type, f.Location, f.Size)
		}
		existing[key] = &findingRow{id: f.ID, conf: f.Confidence}
		fresh = append(fresh, f)
		ids = append(ids, f.ID)
	}

	var embeddings [][]float32
	if len(fresh) > 0 {
		inputs := make([][]byte, len(fresh))
		for i := range fresh {
			inputs[i] = []byte(findingEmbedText(fresh[i]))
		}
		logger.Debug("[Graph][SaveFindings] Generating finding embeddings", "count", len(inputs))
		embeddings, err = store.GenerateEmbeddings(ctx, s.aiClient, inputs)
		if err != nil {
			return nil, err
		}
	}

	s.dbLock.Lock()
	defer s.dbLock.Unlock()

	for _, b := range bumps {
		_, err := s.conn.Exec(ctx,
			`UPDATE findings SET confidence = $2 WHERE public_id = $1`, b.id, b.conf)
		if err != nil {
			return nil, fmt.Errorf("failed to update finding confidence: %w", err)
		}
	}

	err = store.ChunkRange(len(fresh), findingChunk, func(start, end int) error {
		part := fresh[start:end]
		logger.Debug("[Graph][SaveFindings] Saving chunk", "findings", len(part), "image_id", imageID)

		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for i, f := range part {
			_, err := tx.Exec(ctx, `
				INSERT INTO findings (public_id, image_id, type, location, size_cm, confidence, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (public_id) DO UPDATE SET
					confidence = GREATEST(findings.confidence, EXCLUDED.confidence),
					embedding = EXCLUDED.embedding`,
				f.ID, imageDBID, f.Type, f.Location, f.Size, f.Confidence,
				pgvector.NewVector(embeddings[start+i]))
			if err != nil {
				return fmt.Errorf("failed to upsert finding: %w", err)
			}
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// findingRowsByKey loads the stored findings of an image keyed by their
// dedup key, for matching incoming findings against existing nodes.
func (s *GraphDBStorage) findingRowsByKey(ctx context.Context, imageDBID int64) (map[string]*findingRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT public_id, type, location, size_cm, confidence
		FROM findings WHERE image_id = $1`, imageDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string]*findingRow)
	for rows.Next() {
		var f common.Finding
		if err := rows.Scan(&f.ID, &f.Type, &f.Location, &f.Size, &f.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		byKey[store.FindingKey(f)] = &findingRow{id: f.ID, conf: f.Confidence}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}
	return byKey, nil
}

func (s *GraphDBStorage) findingsForImage(ctx context.Context, imageDBID int64) ([]common.Finding, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT public_id, type, location, size_cm, confidence
		FROM findings
		WHERE image_id = $1
		ORDER BY confidence DESC, public_id ASC`, imageDBID)
	if err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}
	defer rows.Close()

	findings := make([]common.Finding, 0)
	for rows.Next() {
		var f common.Finding
		if err := rows.Scan(&f.ID, &f.Type, &f.Location, &f.Size, &f.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}
	return findings, nil
}

// findingEmbedText renders the phrase embedded for a finding. Size is
// rendered at one decimal so findings that collapse to the same dedup key
// embed identically.
func findingEmbedText(f common.Finding) string {
	text := strings.TrimSpace(f.Type)
	if strings.TrimSpace(f.Location) != "" {
		text += " in " + strings.TrimSpace(f.Location)
	}
	if f.Size > 0 {
		text += fmt.Sprintf(" measuring %.1f cm", f.Size)
	}
	return text
}
