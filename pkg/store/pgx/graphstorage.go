package pgx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the GraphStorage interface on PostgreSQL with
// pgvector for embedding-space neighbor search. Writes are serialised with a
// mutex; embedding calls always run before the lock is taken.
type GraphDBStorage struct {
	conn     pgxIConn
	aiClient ai.GraphAIClient
	dbLock   sync.Mutex
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

// NewGraphDBStorageWithConnection creates a GraphDBStorage using an existing
// database connection. The AI client generates the embeddings stored next to
// findings and reports.
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn pgxIConn,
	aiClient ai.GraphAIClient,
) (*GraphDBStorage, error) {
	return &GraphDBStorage{
		conn:     conn,
		aiClient: aiClient,
		dbLock:   sync.Mutex{},
	}, nil
}

// imageDBID resolves the internal row id for an image public id.
func (s *GraphDBStorage) imageDBID(ctx context.Context, imageID string) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `SELECT id FROM images WHERE public_id = $1`, imageID).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrStudyNotFound, imageID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve image id: %w", err)
	}
	return id, nil
}
