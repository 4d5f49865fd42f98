package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/graph"
	"github.com/triad-med/triad/pkg/leaselock"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
	graphstorage "github.com/triad-med/triad/pkg/store/pgx"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/loader"
	"github.com/triad-med/triad/pkg/loader/doc"
	"github.com/triad-med/triad/pkg/loader/image"
	"github.com/triad-med/triad/pkg/loader/s3"
	"github.com/triad-med/triad/pkg/loader/web"
)

// ProcessIngestMessage builds the subgraph of one study from its report.
// The report arrives either inline or as a storage key that is fetched and
// parsed first. The study moves queued -> processing -> ready, or failed
// when extraction errors out. Graph writes run under the study lease.
func ProcessIngestMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	aiClient ai.GraphAIClient,
	ch *amqp091.Channel,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(IngestMessage)
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	imageID := data.ImageID

	storageClient, err := graphstorage.NewGraphDBStorageWithConnection(ctx, conn, aiClient)
	if err != nil {
		return err
	}

	study, err := storageClient.GetStudy(ctx, imageID)
	if err != nil {
		if errors.Is(err, store.ErrStudyNotFound) {
			logger.Warn("[Queue] Dropping ingest for unknown study", "image_id", imageID)
			return nil
		}
		return err
	}

	if err := storageClient.SetStudyStatus(ctx, imageID, common.StudyStatusProcessing); err != nil {
		return err
	}

	reportText := data.ReportText
	if reportText == "" && data.ReportObjectKey != "" {
		reportText, err = loadReportText(ctx, s3Client, aiClient, imageID, data.ReportObjectKey)
		if err != nil {
			markStudyFailed(storageClient, imageID)
			return err
		}
	}

	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{
		TokenEncoder:       "o200k_base",
		ParallelAiRequests: int(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
	})
	if err != nil {
		return err
	}

	start := time.Now()
	lockClient := leaselock.New(conn)

	var result *graph.ProcessReportResult
	err = lockClient.WithLease(ctx, leaselock.StudyKey(imageID), leaselock.Options{
		TTL:         10 * time.Minute,
		RenewEvery:  4 * time.Minute,
		Wait:        true,
		TokenPrefix: fmt.Sprintf("ingest/%s/", imageID),
	}, func(ctx context.Context) error {
		var processErr error
		result, processErr = graphClient.ProcessReport(ctx, study, reportText, aiClient, storageClient)
		return processErr
	})
	if err != nil {
		markStudyFailed(storageClient, imageID)
		return err
	}

	if err := storageClient.SetStudyStatus(ctx, imageID, common.StudyStatusReady); err != nil {
		return err
	}

	// Edges were just written from this study's side. Refresh each linked
	// neighbor so its own edge set picks up the new study.
	for _, neighbor := range result.Similar {
		refresh, err := json.Marshal(SimilarityMessage{ImageID: neighbor.ID})
		if err != nil {
			continue
		}
		if err := PublishFIFO(ch, SimilarityQueue, refresh); err != nil {
			logger.Warn("[Queue] Failed to enqueue similarity refresh", "image_id", neighbor.ID, "err", err)
		}
	}

	logger.Info("[Queue] Study ingested",
		"image_id", imageID,
		"report_id", result.ReportID,
		"findings", len(result.FindingIDs),
		"similar", len(result.Similar),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// loadReportText resolves a report source into plain text. Word documents
// are parsed, scanned reports arriving as images are transcribed by the
// vision model, referring-system URLs are fetched and reduced to their
// readable content, and everything else is read as text.
func loadReportText(ctx context.Context, s3Client *awss3.Client, aiClient ai.GraphAIClient, imageID, objectKey string) (string, error) {
	if strings.HasPrefix(objectKey, "http://") || strings.HasPrefix(objectKey, "https://") {
		webL := web.NewWebGraphLoader()
		file := loader.NewGraphDocumentFile(loader.NewGraphFileParams{
			ID:       imageID,
			FilePath: objectKey,
			Loader:   &webL,
		})
		text, err := file.GetText(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to load report url %s: %w", objectKey, err)
		}
		return string(text), nil
	}

	s3Bucket := util.GetEnvString("AWS_BUCKET", "triad")
	s3L := s3.NewS3GraphFileLoaderWithClient(s3Bucket, s3Client)

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(objectKey)), ".")

	var file loader.GraphFile
	switch ext {
	case "docx":
		file = loader.NewGraphDocumentFile(loader.NewGraphFileParams{
			ID:       imageID,
			FilePath: objectKey,
			Loader:   doc.NewDocGraphLoader(s3L),
		})
	case "png", "jpg", "jpeg", "webp":
		file = loader.NewGraphImageFile(loader.NewGraphFileParams{
			ID:       imageID,
			FilePath: objectKey,
			Loader: image.NewImageGraphLoader(image.NewImageGraphLoaderParams{
				AIClient: aiClient,
				Loader:   s3L,
			}),
		})
	default:
		file = loader.NewGraphDocumentFile(loader.NewGraphFileParams{
			ID:       imageID,
			FilePath: objectKey,
			Loader:   s3L,
		})
	}

	text, err := file.GetText(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load report document %s: %w", objectKey, err)
	}
	return string(text), nil
}

// markStudyFailed records the failed status on a fresh context so the
// transition survives cancellation of the message context.
func markStudyFailed(storageClient store.GraphStorage, imageID string) {
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := storageClient.SetStudyStatus(updateCtx, imageID, common.StudyStatusFailed); err != nil {
		logger.Warn("[Queue] Failed to mark study as failed", "image_id", imageID, "err", err)
	}
}
