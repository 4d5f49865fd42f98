package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/triad-med/triad/pkg/graph"
	"github.com/triad-med/triad/pkg/leaselock"
	"github.com/triad-med/triad/pkg/logger"
	"github.com/triad-med/triad/pkg/store"
	graphstorage "github.com/triad-med/triad/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triad-med/triad/pkg/ai"
)

// ProcessSimilarityMessage recomputes the similar-image edges of one
// study. Ingest schedules a refresh for every neighbor it links, so edge
// sets converge from both sides as new studies arrive.
func ProcessSimilarityMessage(
	ctx context.Context,
	aiClient ai.GraphAIClient,
	conn *pgxpool.Pool,
	msg string,
) error {
	data := new(SimilarityMessage)
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
			logger.Warn("[Queue] Dropping similarity refresh for unknown study", "image_id", imageID)
			return nil
		}
		return err
	}

	graphClient, err := graph.NewGraphClient(graph.NewGraphClientParams{})
	if err != nil {
		return err
	}

	lockClient := leaselock.New(conn)
	return lockClient.WithLease(ctx, leaselock.StudyKey(imageID), leaselock.Options{
		TTL:         10 * time.Minute,
		RenewEvery:  4 * time.Minute,
		Wait:        true,
		TokenPrefix: fmt.Sprintf("similarity/%s/", imageID),
	}, func(ctx context.Context) error {
		neighbors, err := graphClient.LinkSimilarImages(ctx, study, storageClient)
		if err != nil {
			return err
		}
		logger.Debug("[Queue] Refreshed similarity edges", "image_id", imageID, "neighbors", len(neighbors))
		return nil
	})
}
