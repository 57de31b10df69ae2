package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/models"
)

// Storage interface defines the contract for data storage.
// Getters return nil, nil when the record does not exist; updates of a missing
// record return an apperr.NotFoundError.
type Storage interface {
	// ListAccounts returns all accounts ordered by platform then id
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	// UpsertAccount inserts or updates by ProviderAccountID and sets acc.ID
	UpsertAccount(ctx context.Context, acc *models.Account) error

	// CreateBatch stores a batch together with all of its posts, or nothing.
	// It assigns the ids and timestamps of batch and posts in place.
	CreateBatch(ctx context.Context, batch *models.Batch, posts []models.Post) error
	// ListBatches returns batch summaries, newest first
	ListBatches(ctx context.Context) ([]models.BatchSummary, error)
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	UpdateBatchStatus(ctx context.Context, id int64, status string) error

	// ListPosts returns the posts of a batch ordered by date, time and id
	ListPosts(ctx context.Context, batchID int64) ([]models.Post, error)
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	UpdatePost(ctx context.Context, post *models.Post) error
	// SaveDispatchOutcome updates a post and, when batchStatus is not empty,
	// its batch status in one write.
	SaveDispatchOutcome(ctx context.Context, post *models.Post, batchStatus string) error

	Ping(ctx context.Context) error
	Close() error
}

// cleanupTimeout bounds compensating deletes after a failed batch write
const cleanupTimeout = 10 * time.Second

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig, log logrus.FieldLogger) (Storage, error) {
	switch cfg.Type {
	case "dynamodb":
		return NewDynamoDBStorage(cfg, log)
	case "mongodb":
		return NewMongoDBStorage(cfg, log)
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	case "sqlite":
		return NewSQLiteStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
