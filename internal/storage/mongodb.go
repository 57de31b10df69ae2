package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/models"
)

const (
	accountsCollection = "accounts"
	batchesCollection  = "batches"
	postsCollection    = "posts"
	countersCollection = "counters"
)

// MongoDBStorage implements Storage interface using MongoDB.
// Multi-document writes run in a transaction when the server is a replica set
// or mongos; on a standalone server they fall back to compensating deletes.
type MongoDBStorage struct {
	client       *mongo.Client
	db           *mongo.Database
	transactions bool
	log          logrus.FieldLogger
}

// NewMongoDBStorage creates a new MongoDB storage instance
func NewMongoDBStorage(cfg config.StorageConfig, log logrus.FieldLogger) (*MongoDBStorage, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for mongodb storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	m := &MongoDBStorage{
		client: client,
		db:     client.Database(cfg.MongoDatabase),
		log:    log,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}
	m.transactions = m.supportsTransactions(ctx)

	return m, nil
}

func (m *MongoDBStorage) ensureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(accountsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider_account_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = m.db.Collection(postsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "batch_id", Value: 1}, {Key: "date", Value: 1}, {Key: "time", Value: 1}},
	})
	return err
}

func (m *MongoDBStorage) supportsTransactions(ctx context.Context) bool {
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	if err := m.db.RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return false
	}
	return hello.SetName != "" || hello.Msg == "isdbgrid"
}

// withTransaction runs fn in a transaction when the deployment supports it
func (m *MongoDBStorage) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.transactions {
		return fn(ctx)
	}
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// nextIDs reserves n consecutive ids from a named counter and returns the first
func (m *MongoDBStorage) nextIDs(ctx context.Context, name string, n int) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	return counter.Seq - int64(n) + 1, nil
}

// ListAccounts returns all accounts ordered by platform then id
func (m *MongoDBStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	opts := options.Find().SetSort(bson.D{{Key: "platform", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.db.Collection(accountsCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find accounts: %w", err)
	}

	var records []accountRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	accounts := make([]models.Account, len(records))
	for i, r := range records {
		accounts[i] = r.model()
	}
	return accounts, nil
}

// GetAccount retrieves an account by ID
func (m *MongoDBStorage) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var r accountRecord
	err := m.db.Collection(accountsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	acc := r.model()
	return &acc, nil
}

// UpsertAccount inserts or updates an account keyed by its provider id
func (m *MongoDBStorage) UpsertAccount(ctx context.Context, acc *models.Account) error {
	coll := m.db.Collection(accountsCollection)
	now := nowUTC()

	var existing accountRecord
	err := coll.FindOne(ctx, bson.M{"provider_account_id": acc.ProviderAccountID}).Decode(&existing)
	switch {
	case err == nil:
		acc.ID = existing.ID
		acc.CreatedAt = fromMillis(existing.CreatedAt)
	case errors.Is(err, mongo.ErrNoDocuments):
		id, err := m.nextIDs(ctx, accountsCollection, 1)
		if err != nil {
			return err
		}
		acc.ID = id
		acc.CreatedAt = now
	default:
		return fmt.Errorf("failed to find account %s: %w", acc.ProviderAccountID, err)
	}
	acc.UpdatedAt = now

	_, err = coll.ReplaceOne(ctx, bson.M{"_id": acc.ID}, newAccountRecord(acc), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", acc.ProviderAccountID, err)
	}
	return nil
}

// CreateBatch stores the batch and its posts. Posts are written first so the
// batch never becomes visible without them.
func (m *MongoDBStorage) CreateBatch(ctx context.Context, batch *models.Batch, posts []models.Post) error {
	batchID, err := m.nextIDs(ctx, batchesCollection, 1)
	if err != nil {
		return err
	}
	firstPostID := int64(0)
	if len(posts) > 0 {
		if firstPostID, err = m.nextIDs(ctx, postsCollection, len(posts)); err != nil {
			return err
		}
	}

	now := nowUTC()
	batch.ID = batchID
	batch.CreatedAt, batch.UpdatedAt = now, now
	docs := make([]interface{}, len(posts))
	for i := range posts {
		p := &posts[i]
		p.ID = firstPostID + int64(i)
		p.BatchID = batchID
		p.CreatedAt, p.UpdatedAt = now, now
		docs[i] = newPostRecord(p)
	}

	return m.withTransaction(ctx, func(ctx context.Context) error {
		if len(docs) > 0 {
			if _, err := m.db.Collection(postsCollection).InsertMany(ctx, docs); err != nil {
				m.discardPosts(batchID)
				return fmt.Errorf("failed to insert posts: %w", err)
			}
		}
		if _, err := m.db.Collection(batchesCollection).InsertOne(ctx, newBatchRecord(batch)); err != nil {
			m.discardPosts(batchID)
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		return nil
	})
}

// discardPosts removes the posts of a batch whose insert failed. It runs on its
// own context since the request context may already be done.
func (m *MongoDBStorage) discardPosts(batchID int64) {
	if m.transactions {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if _, err := m.db.Collection(postsCollection).DeleteMany(ctx, bson.M{"batch_id": batchID}); err != nil {
		m.log.WithError(err).WithField("batch_id", batchID).Error("Failed to remove posts of unsaved batch")
	}
}

// ListBatches returns batch summaries, newest first
func (m *MongoDBStorage) ListBatches(ctx context.Context) ([]models.BatchSummary, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := m.db.Collection(batchesCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find batches: %w", err)
	}
	var records []batchRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode batches: %w", err)
	}

	counts := map[int64]int{}
	agg, err := m.db.Collection(postsCollection).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$batch_id"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	var groups []struct {
		BatchID int64 `bson:"_id"`
		Count   int   `bson:"count"`
	}
	if err := agg.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode post counts: %w", err)
	}
	for _, g := range groups {
		counts[g.BatchID] = g.Count
	}

	batches := make([]models.BatchSummary, len(records))
	for i, r := range records {
		batches[i] = models.BatchSummary{
			ID:         r.ID,
			Name:       r.Name,
			StartDate:  r.StartDate,
			EndDate:    r.EndDate,
			Status:     r.Status,
			PostsCount: counts[r.ID],
		}
	}
	return batches, nil
}

// GetBatch retrieves a batch by ID
func (m *MongoDBStorage) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	var r batchRecord
	err := m.db.Collection(batchesCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %d: %w", id, err)
	}
	b := r.model()
	return &b, nil
}

// UpdateBatchStatus sets the status of a batch
func (m *MongoDBStorage) UpdateBatchStatus(ctx context.Context, id int64, status string) error {
	return m.setBatchStatus(ctx, id, status, nowUTC())
}

func (m *MongoDBStorage) setBatchStatus(ctx context.Context, id int64, status string, at time.Time) error {
	res, err := m.db.Collection(batchesCollection).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updated_at": toMillis(at)}})
	if err != nil {
		return fmt.Errorf("failed to update batch %d: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("batch", id)
	}
	return nil
}

// ListPosts returns the posts of a batch ordered by date, time and id
func (m *MongoDBStorage) ListPosts(ctx context.Context, batchID int64) ([]models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.db.Collection(postsCollection).Find(ctx, bson.M{"batch_id": batchID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find posts of batch %d: %w", batchID, err)
	}
	var records []postRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}

	posts := make([]models.Post, len(records))
	for i, r := range records {
		posts[i] = r.model()
	}
	return posts, nil
}

// GetPost retrieves a post by ID
func (m *MongoDBStorage) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	var r postRecord
	err := m.db.Collection(postsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	p := r.model()
	return &p, nil
}

// UpdatePost replaces a stored post
func (m *MongoDBStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	post.UpdatedAt = nowUTC()
	res, err := m.db.Collection(postsCollection).ReplaceOne(ctx, bson.M{"_id": post.ID}, newPostRecord(post))
	if err != nil {
		return fmt.Errorf("failed to update post %d: %w", post.ID, err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("post", post.ID)
	}
	return nil
}

// SaveDispatchOutcome updates a post and its batch status
func (m *MongoDBStorage) SaveDispatchOutcome(ctx context.Context, post *models.Post, batchStatus string) error {
	return m.withTransaction(ctx, func(ctx context.Context) error {
		if err := m.UpdatePost(ctx, post); err != nil {
			return err
		}
		if batchStatus == "" {
			return nil
		}
		return m.setBatchStatus(ctx, post.BatchID, batchStatus, post.UpdatedAt)
	})
}

// Ping checks the MongoDB connection
func (m *MongoDBStorage) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
