package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/models"
)

// DynamoDBStorage implements Storage interface using AWS DynamoDB.
// Each entity lives in its own table named <TABLE_NAME>_<entity>.
type DynamoDBStorage struct {
	client        dynamodbiface.DynamoDBAPI
	log           logrus.FieldLogger
	accountsTable string
	batchesTable  string
	postsTable    string
	countersTable string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig, log logrus.FieldLogger) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := newDynamoDBStorage(dynamodb.New(sess), cfg.TableName, log)

	for _, t := range []struct{ name, key, keyType string }{
		{storage.accountsTable, "id", dynamodb.ScalarAttributeTypeN},
		{storage.batchesTable, "id", dynamodb.ScalarAttributeTypeN},
		{storage.postsTable, "id", dynamodb.ScalarAttributeTypeN},
		{storage.countersTable, "name", dynamodb.ScalarAttributeTypeS},
	} {
		if err := storage.ensureTable(t.name, t.key, t.keyType); err != nil {
			return nil, fmt.Errorf("failed to ensure table %s exists: %w", t.name, err)
		}
	}

	return storage, nil
}

func newDynamoDBStorage(client dynamodbiface.DynamoDBAPI, tableName string, log logrus.FieldLogger) *DynamoDBStorage {
	return &DynamoDBStorage{
		client:        client,
		log:           log,
		accountsTable: tableName + "_accounts",
		batchesTable:  tableName + "_batches",
		postsTable:    tableName + "_posts",
		countersTable: tableName + "_counters",
	}
}

// ensureTable creates a DynamoDB table with a single hash key if it doesn't exist
func (d *DynamoDBStorage) ensureTable(name, key, keyType string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(key), KeyType: aws.String(dynamodb.KeyTypeHash)},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(key), AttributeType: aws.String(keyType)},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

func idKey(id int64) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id": {N: aws.String(strconv.FormatInt(id, 10))},
	}
}

func isConditionFailure(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case dynamodb.ErrCodeConditionalCheckFailedException, dynamodb.ErrCodeTransactionCanceledException:
		return true
	}
	return false
}

// nextIDs reserves n consecutive ids from a named counter and returns the first
func (d *DynamoDBStorage) nextIDs(ctx context.Context, name string, n int) (int64, error) {
	out, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.countersTable),
		Key: map[string]*dynamodb.AttributeValue{
			"name": {S: aws.String(name)},
		},
		UpdateExpression: aws.String("ADD seq :n"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":n": {N: aws.String(strconv.Itoa(n))},
		},
		ReturnValues: aws.String(dynamodb.ReturnValueUpdatedNew),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", name, err)
	}
	seq, err := strconv.ParseInt(aws.StringValue(out.Attributes["seq"].N), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s counter: %w", name, err)
	}
	return seq - int64(n) + 1, nil
}

// scanAll reads every item of a table matching an optional filter
func (d *DynamoDBStorage) scanAll(ctx context.Context, input *dynamodb.ScanInput, out interface{}) error {
	var items []map[string]*dynamodb.AttributeValue
	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		items = append(items, page.Items...)
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", aws.StringValue(input.TableName), err)
	}
	if err := dynamodbattribute.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", aws.StringValue(input.TableName), err)
	}
	return nil
}

func (d *DynamoDBStorage) getItem(ctx context.Context, table string, id int64, out interface{}) (bool, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       idKey(id),
	})
	if err != nil {
		return false, fmt.Errorf("failed to get item %d from %s: %w", id, table, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := dynamodbattribute.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item %d: %w", id, err)
	}
	return true, nil
}

func (d *DynamoDBStorage) putItem(ctx context.Context, table string, record interface{}, mustExist bool) error {
	item, err := dynamodbattribute.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}
	if mustExist {
		input.ConditionExpression = aws.String("attribute_exists(id)")
	}
	_, err = d.client.PutItemWithContext(ctx, input)
	return err
}

// ListAccounts returns all accounts ordered by platform then id
func (d *DynamoDBStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	var records []accountRecord
	if err := d.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(d.accountsTable)}, &records); err != nil {
		return nil, err
	}
	accounts := make([]models.Account, len(records))
	for i, r := range records {
		accounts[i] = r.model()
	}
	sortAccounts(accounts)
	return accounts, nil
}

// GetAccount retrieves an account by ID
func (d *DynamoDBStorage) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var r accountRecord
	found, err := d.getItem(ctx, d.accountsTable, id, &r)
	if err != nil || !found {
		return nil, err
	}
	acc := r.model()
	return &acc, nil
}

// UpsertAccount inserts or updates an account keyed by its provider id
func (d *DynamoDBStorage) UpsertAccount(ctx context.Context, acc *models.Account) error {
	var existing []accountRecord
	err := d.scanAll(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.accountsTable),
		FilterExpression: aws.String("provider_account_id = :p"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":p": {S: aws.String(acc.ProviderAccountID)},
		},
	}, &existing)
	if err != nil {
		return err
	}

	now := nowUTC()
	if len(existing) > 0 {
		acc.ID = existing[0].ID
		acc.CreatedAt = fromMillis(existing[0].CreatedAt)
	} else {
		id, err := d.nextIDs(ctx, "accounts", 1)
		if err != nil {
			return err
		}
		acc.ID = id
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	if err := d.putItem(ctx, d.accountsTable, newAccountRecord(acc), false); err != nil {
		return fmt.Errorf("failed to store account %s: %w", acc.ProviderAccountID, err)
	}
	return nil
}

// CreateBatch stores the posts and then the batch; on failure the written
// posts are deleted again so no partial batch remains.
func (d *DynamoDBStorage) CreateBatch(ctx context.Context, batch *models.Batch, posts []models.Post) error {
	batchID, err := d.nextIDs(ctx, "batches", 1)
	if err != nil {
		return err
	}
	firstPostID := int64(0)
	if len(posts) > 0 {
		if firstPostID, err = d.nextIDs(ctx, "posts", len(posts)); err != nil {
			return err
		}
	}

	now := nowUTC()
	batch.ID = batchID
	batch.CreatedAt, batch.UpdatedAt = now, now

	written := make([]int64, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		p.ID = firstPostID + int64(i)
		p.BatchID = batchID
		p.CreatedAt, p.UpdatedAt = now, now
		if err := d.putItem(ctx, d.postsTable, newPostRecord(p), false); err != nil {
			d.deletePosts(written)
			return fmt.Errorf("failed to store post %d: %w", p.ID, err)
		}
		written = append(written, p.ID)
	}

	if err := d.putItem(ctx, d.batchesTable, newBatchRecord(batch), false); err != nil {
		d.deletePosts(written)
		return fmt.Errorf("failed to store batch %d: %w", batchID, err)
	}
	return nil
}

// deletePosts removes posts written for a batch that could not be stored. It
// runs on its own context since the request context may already be done.
func (d *DynamoDBStorage) deletePosts(ids []int64) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for _, id := range ids {
		_, err := d.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(d.postsTable),
			Key:       idKey(id),
		})
		if err != nil {
			d.log.WithError(err).WithField("post_id", id).Error("Failed to remove post of unsaved batch")
		}
	}
}

// ListBatches returns batch summaries, newest first
func (d *DynamoDBStorage) ListBatches(ctx context.Context) ([]models.BatchSummary, error) {
	var records []batchRecord
	if err := d.scanAll(ctx, &dynamodb.ScanInput{TableName: aws.String(d.batchesTable)}, &records); err != nil {
		return nil, err
	}

	var posts []struct {
		BatchID int64 `dynamodbav:"batch_id"`
	}
	err := d.scanAll(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(d.postsTable),
		ProjectionExpression: aws.String("batch_id"),
	}, &posts)
	if err != nil {
		return nil, err
	}
	counts := map[int64]int{}
	for _, p := range posts {
		counts[p.BatchID]++
	}

	batches := make([]models.BatchSummary, len(records))
	created := make(map[int64]int64, len(records))
	for i, r := range records {
		batches[i] = models.BatchSummary{
			ID:         r.ID,
			Name:       r.Name,
			StartDate:  r.StartDate,
			EndDate:    r.EndDate,
			Status:     r.Status,
			PostsCount: counts[r.ID],
		}
		created[r.ID] = r.CreatedAt
	}
	sortSummaries(batches, created)
	return batches, nil
}

// GetBatch retrieves a batch by ID
func (d *DynamoDBStorage) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	var r batchRecord
	found, err := d.getItem(ctx, d.batchesTable, id, &r)
	if err != nil || !found {
		return nil, err
	}
	b := r.model()
	return &b, nil
}

func (d *DynamoDBStorage) batchStatusUpdate(id int64, status string, at time.Time) *dynamodb.Update {
	return &dynamodb.Update{
		TableName:           aws.String(d.batchesTable),
		Key:                 idKey(id),
		UpdateExpression:    aws.String("SET #s = :s, updated_at = :u"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]*string{
			"#s": aws.String("status"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":s": {S: aws.String(status)},
			":u": {N: aws.String(strconv.FormatInt(toMillis(at), 10))},
		},
	}
}

// UpdateBatchStatus sets the status of a batch
func (d *DynamoDBStorage) UpdateBatchStatus(ctx context.Context, id int64, status string) error {
	u := d.batchStatusUpdate(id, status, nowUTC())
	_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 u.TableName,
		Key:                       u.Key,
		UpdateExpression:          u.UpdateExpression,
		ConditionExpression:       u.ConditionExpression,
		ExpressionAttributeNames:  u.ExpressionAttributeNames,
		ExpressionAttributeValues: u.ExpressionAttributeValues,
	})
	if isConditionFailure(err) {
		return apperr.NotFound("batch", id)
	}
	if err != nil {
		return fmt.Errorf("failed to update batch %d: %w", id, err)
	}
	return nil
}

// ListPosts returns the posts of a batch ordered by date, time and id
func (d *DynamoDBStorage) ListPosts(ctx context.Context, batchID int64) ([]models.Post, error) {
	var records []postRecord
	err := d.scanAll(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(d.postsTable),
		FilterExpression: aws.String("batch_id = :b"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":b": {N: aws.String(strconv.FormatInt(batchID, 10))},
		},
	}, &records)
	if err != nil {
		return nil, err
	}

	posts := make([]models.Post, len(records))
	for i, r := range records {
		posts[i] = r.model()
	}
	sortPosts(posts)
	return posts, nil
}

// GetPost retrieves a post by ID
func (d *DynamoDBStorage) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	var r postRecord
	found, err := d.getItem(ctx, d.postsTable, id, &r)
	if err != nil || !found {
		return nil, err
	}
	p := r.model()
	return &p, nil
}

// UpdatePost replaces a stored post
func (d *DynamoDBStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	post.UpdatedAt = nowUTC()
	err := d.putItem(ctx, d.postsTable, newPostRecord(post), true)
	if isConditionFailure(err) {
		return apperr.NotFound("post", post.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update post %d: %w", post.ID, err)
	}
	return nil
}

// SaveDispatchOutcome writes the post and its batch status in one transaction
func (d *DynamoDBStorage) SaveDispatchOutcome(ctx context.Context, post *models.Post, batchStatus string) error {
	if batchStatus == "" {
		return d.UpdatePost(ctx, post)
	}

	post.UpdatedAt = nowUTC()
	item, err := dynamodbattribute.MarshalMap(newPostRecord(post))
	if err != nil {
		return fmt.Errorf("failed to marshal post %d: %w", post.ID, err)
	}

	_, err = d.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: &dynamodb.Put{
				TableName:           aws.String(d.postsTable),
				Item:                item,
				ConditionExpression: aws.String("attribute_exists(id)"),
			}},
			{Update: d.batchStatusUpdate(post.BatchID, batchStatus, post.UpdatedAt)},
		},
	})
	if isConditionFailure(err) {
		return apperr.NotFound("post", post.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to save dispatch outcome for post %d: %w", post.ID, err)
	}
	return nil
}

// Ping checks that the batches table is reachable
func (d *DynamoDBStorage) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.batchesTable),
	})
	return err
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
