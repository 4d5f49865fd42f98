package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/triad-med/triad/internal/storage"
	"github.com/triad-med/triad/pkg/leaselock"
	"github.com/triad-med/triad/pkg/logger"
	graphstorage "github.com/triad-med/triad/pkg/store/pgx"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/graph"
)

// ProcessDeleteMessage removes a study's subgraph and its stored objects.
// The lease serialises the teardown against any in-flight ingest or
// similarity refresh of the same study.
func ProcessDeleteMessage(
	ctx context.Context,
	s3Client *awss3.Client,
	aiClient ai.GraphAIClient,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(DeleteMessage)
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	imageID := data.ImageID

	storageClient, err := graphstorage.NewGraphDBStorageWithConnection(ctx, conn, aiClient)
	if err != nil {
		return err
	}

	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{})
	if err != nil {
		return err
	}

	start := time.Now()
	lockClient := leaselock.New(conn)
	err = lockClient.WithLease(ctx, leaselock.StudyKey(imageID), leaselock.Options{
		TTL:         10 * time.Minute,
		RenewEvery:  4 * time.Minute,
		Wait:        true,
		TokenPrefix: fmt.Sprintf("delete/%s/", imageID),
	}, func(ctx context.Context) error {
		return graphClient.DeleteStudy(ctx, imageID, storageClient)
	})
	if err != nil {
		return err
	}

	if err := storage.DeleteFolder(ctx, s3Client, storage.StudyFolder(imageID)); err != nil {
		logger.Warn("[Queue] Failed to delete study objects", "image_id", imageID, "err", err)
	}

	logger.Info("[Queue] Study deleted", "image_id", imageID, "duration_sec", time.Since(start).Seconds())
	return nil
}
