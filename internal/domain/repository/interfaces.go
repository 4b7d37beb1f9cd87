package repository

import (
	"context"

	"Heimdall/internal/domain/models"
)

// TransactionStream is a source of transactions to score.
type TransactionStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Transaction, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SnapshotStore persists the serialized history snapshot.
// Load returns (nil, nil) when no snapshot exists.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Publisher forwards analysis results to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, r *models.AnalysisResult) error
	PublishBatch(ctx context.Context, rs []*models.AnalysisResult) error
	Close() error
}

// Storage archives analysis results.
type Storage interface {
	Store(ctx context.Context, r *models.AnalysisResult) error
	StoreBatch(ctx context.Context, rs []*models.AnalysisResult) error
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordAnalysis(recommendation string, score float64)
	RecordError(kind string)
	RecordHistorySize(n int)
	RecordLatency(op string, seconds float64)
}
