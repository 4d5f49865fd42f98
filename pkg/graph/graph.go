package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
)

// ReportModelReferring marks reports authored outside the system, imported
// from the referring physician. Their DESCRIBED_BY edge carries full
// confidence.
const (
	ReportModelReferring      = "referring"
	reportConfidenceReferring = 1.0
)

// ProcessReportResult summarizes one report ingestion run.
type ProcessReportResult struct {
	ReportID   string
	FindingIDs []string
	Findings   []common.Finding
	Similar    []common.SimilarImage
	Units      int
}

// ProcessReport ingests a referring report into the imaging graph. The text
// is chunked under the token budget, findings are extracted per chunk,
// deduplicated, and upserted together with the report node; similar studies
// are linked afterwards. Report and finding identifiers are derived from
// content, so reprocessing the same report is a no-op upsert.
func (g *GraphClient) ProcessReport(
	ctx context.Context,
	study common.Study,
	reportText string,
	aiClient ai.GraphAIClient,
	storeClient store.GraphStorage,
) (*ProcessReportResult, error) {
	text := strings.TrimSpace(reportText)
	if text == "" {
		return nil, fmt.Errorf("report text is empty")
	}

	reportID := util.ReportID(study.ID, text, ReportModelReferring)
	logger.Info("[Graph] Processing report", "image_id", study.ID, "report_id", reportID)

	extracted, err := processReportText(
		ctx, text, reportID,
		g.tokenEncoder, g.unitMaxTokens,
		aiClient, g.parallelAiRequests, g.maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to process report text:\n%w", err)
	}

	findings, err := g.dedupeFindings(ctx, extracted.findings, aiClient)
	if err != nil {
		return nil, fmt.Errorf("failed to dedupe report findings: %w", err)
	}

	study = g.backfillStudyMetadata(ctx, study, text, aiClient, storeClient)

	report := common.Report{
		ID:         reportID,
		ImageID:    study.ID,
		Text:       text,
		Model:      ReportModelReferring,
		Confidence: reportConfidenceReferring,
		CreatedAt:  time.Now().UTC(),
	}
	if err := storeClient.SaveReport(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}

	findings = AssignFindingIDs(study.ID, findings)
	var findingIDs []string
	if len(findings) > 0 {
		findingIDs, err = storeClient.SaveFindings(ctx, study.ID, findings)
		if err != nil {
			return nil, fmt.Errorf("failed to save findings: %w", err)
		}
	}

	logger.Info("[Graph] Report ingested", "image_id", study.ID, "units", extracted.units, "findings", len(findings))

	similar, err := g.LinkSimilarImages(ctx, study, storeClient)
	if err != nil {
		// The similarity queue re-links on its next pass over the study.
		logger.Warn("[Graph] Similarity linking failed", "image_id", study.ID, "err", err)
		similar = nil
	}

	return &ProcessReportResult{
		ReportID:   reportID,
		FindingIDs: findingIDs,
		Findings:   findings,
		Similar:    similar,
		Units:      extracted.units,
	}, nil
}

// backfillStudyMetadata classifies modality and body part from the report
// when the study record is missing them. Extraction failures leave the
// study unchanged.
func (g *GraphClient) backfillStudyMetadata(
	ctx context.Context,
	study common.Study,
	reportText string,
	aiClient ai.GraphAIClient,
	storeClient store.GraphStorage,
) common.Study {
	if study.Modality != "" && study.BodyPart != "" {
		return study
	}

	meta, err := ai.ExtractStudyMetadata(ctx, aiClient, reportText, g.maxRetries)
	if err != nil {
		logger.Warn("[Graph] Study metadata extraction failed", "image_id", study.ID, "err", err)
		return study
	}

	changed := false
	if modality := strings.ToUpper(strings.TrimSpace(meta.Modality)); study.Modality == "" && modality != "" {
		study.Modality = modality
		changed = true
	}
	if bodyPart := strings.ToLower(strings.TrimSpace(meta.BodyPart)); study.BodyPart == "" && bodyPart != "" {
		study.BodyPart = bodyPart
		changed = true
	}
	if !changed {
		return study
	}

	logger.Info("[Graph] Backfilled study metadata",
		"image_id", study.ID, "modality", study.Modality, "body_part", study.BodyPart, "confidence", meta.Confidence)
	if err := storeClient.SaveStudy(ctx, study); err != nil {
		logger.Warn("[Graph] Failed to save study metadata", "image_id", study.ID, "err", err)
	}
	return study
}

// DeleteStudy removes a study and everything attached to it: findings,
// reports, similarity edges and persisted inferences.
func (g *GraphClient) DeleteStudy(
	ctx context.Context,
	imageID string,
	storeClient store.GraphStorage,
) error {
	logger.Info("[Graph] Deleting study", "image_id", imageID)

	if err := storeClient.DeleteStudy(ctx, imageID); err != nil {
		return fmt.Errorf("failed to delete study data: %w", err)
	}

	logger.Info("[Graph] Study deletion completed", "image_id", imageID)
	return nil
}
