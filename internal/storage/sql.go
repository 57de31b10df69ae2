package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/models"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// SQLStorage implements Storage on top of database/sql for PostgreSQL and SQLite
type SQLStorage struct {
	db      *sql.DB
	dialect string
}

// NewPostgreSQLStorage connects to PostgreSQL using the lib/pq or pgx driver
func NewPostgreSQLStorage(cfg config.StorageConfig) (*SQLStorage, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required for postgresql storage")
	}
	driver := cfg.PostgresDriver
	if driver != "postgres" && driver != "pgx" {
		return nil, fmt.Errorf("unsupported postgres driver: %s", driver)
	}

	db, err := sql.Open(driver, cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return newSQLStorage(db, dialectPostgres)
}

// NewSQLiteStorage opens (and creates if needed) an SQLite database file
func NewSQLiteStorage(cfg config.StorageConfig) (*SQLStorage, error) {
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	return newSQLStorage(db, dialectSQLite)
}

func newSQLStorage(db *sql.DB, dialect string) (*SQLStorage, error) {
	s := &SQLStorage{db: db, dialect: dialect}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// migrate creates the database schema
func (s *SQLStorage) migrate(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == dialectPostgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range strings.Split(strings.ReplaceAll(schema, "{{pk}}", pk), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id {{pk}},
	platform TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	provider_account_id TEXT NOT NULL UNIQUE,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS batches (
	id {{pk}},
	name TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	timezone TEXT NOT NULL,
	themes TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id {{pk}},
	batch_id BIGINT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	account_id BIGINT NOT NULL REFERENCES accounts(id),
	platform TEXT NOT NULL,
	kind TEXT NOT NULL,
	post_date TEXT NOT NULL,
	post_time TEXT NOT NULL,
	timezone TEXT NOT NULL,
	scheduled_at BIGINT,
	caption TEXT NOT NULL DEFAULT '',
	first_comment TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	media_type TEXT NOT NULL DEFAULT '',
	media_filename TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	provider_post_id TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_posts_batch ON posts(batch_id, post_date, post_time);
CREATE INDEX IF NOT EXISTS idx_batches_created ON batches(created_at)
`

const postColumns = `id, batch_id, account_id, platform, kind, post_date, post_time, timezone,
	scheduled_at, caption, first_comment, media_url, media_type, media_filename,
	status, provider_post_id, last_error, created_at, updated_at`

const accountColumns = `id, platform, username, display_name, avatar_url, provider_account_id, created_at, updated_at`

const batchColumns = `id, name, start_date, end_date, timezone, themes, notes, status, created_at, updated_at`

// rebind rewrites ? placeholders into $N for PostgreSQL
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ListAccounts returns all accounts ordered by platform then id
func (s *SQLStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY platform, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// GetAccount retrieves an account by ID
func (s *SQLStorage) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`), id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return acc, err
}

// UpsertAccount inserts or updates an account keyed by its provider id
func (s *SQLStorage) UpsertAccount(ctx context.Context, acc *models.Account) error {
	now := nowUTC()
	var created int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO accounts (platform, username, display_name, avatar_url, provider_account_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_account_id) DO UPDATE SET
			platform = excluded.platform,
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at
		RETURNING id, created_at`),
		acc.Platform, acc.Username, acc.DisplayName, acc.AvatarURL, acc.ProviderAccountID,
		toMillis(now), toMillis(now),
	).Scan(&acc.ID, &created)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", acc.ProviderAccountID, err)
	}
	acc.CreatedAt = fromMillis(created)
	acc.UpdatedAt = now
	return nil
}

// CreateBatch inserts the batch and all its posts in one transaction
func (s *SQLStorage) CreateBatch(ctx context.Context, batch *models.Batch, posts []models.Post) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := nowUTC()
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO batches (name, start_date, end_date, timezone, themes, notes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		batch.Name, batch.StartDate, batch.EndDate, batch.Timezone, batch.Themes, batch.Notes, batch.Status,
		toMillis(now), toMillis(now),
	).Scan(&batch.ID)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	batch.CreatedAt, batch.UpdatedAt = now, now

	insert := s.rebind(`
		INSERT INTO posts (batch_id, account_id, platform, kind, post_date, post_time, timezone,
			scheduled_at, caption, first_comment, media_url, media_type, media_filename,
			status, provider_post_id, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	for i := range posts {
		p := &posts[i]
		p.BatchID = batch.ID
		p.CreatedAt, p.UpdatedAt = now, now
		r := newPostRecord(p)
		err := tx.QueryRowContext(ctx, insert,
			r.BatchID, r.AccountID, r.Platform, r.Kind, r.Date, r.Time, r.Timezone,
			nullMillis(r.ScheduledAt), r.Caption, r.FirstComment, r.MediaURL, r.MediaType, r.MediaFilename,
			r.Status, r.ProviderPostID, r.LastError, r.CreatedAt, r.UpdatedAt,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("failed to insert post %d of batch: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ListBatches returns batch summaries, newest first
func (s *SQLStorage) ListBatches(ctx context.Context) ([]models.BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.name, b.start_date, b.end_date, b.status, COUNT(p.id)
		FROM batches b
		LEFT JOIN posts p ON p.batch_id = b.id
		GROUP BY b.id, b.name, b.start_date, b.end_date, b.status, b.created_at
		ORDER BY b.created_at DESC, b.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	batches := []models.BatchSummary{}
	for rows.Next() {
		var b models.BatchSummary
		if err := rows.Scan(&b.ID, &b.Name, &b.StartDate, &b.EndDate, &b.Status, &b.PostsCount); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch retrieves a batch by ID
func (s *SQLStorage) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	var r batchRecord
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+batchColumns+` FROM batches WHERE id = ?`), id).Scan(
		&r.ID, &r.Name, &r.StartDate, &r.EndDate, &r.Timezone, &r.Themes, &r.Notes, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %d: %w", id, err)
	}
	b := r.model()
	return &b, nil
}

// UpdateBatchStatus sets the status of a batch
func (s *SQLStorage) UpdateBatchStatus(ctx context.Context, id int64, status string) error {
	return execOne(ctx, s.db, s.rebind(`UPDATE batches SET status = ?, updated_at = ? WHERE id = ?`),
		apperr.NotFound("batch", id), status, toMillis(nowUTC()), id)
}

// ListPosts returns the posts of a batch ordered by date, time and id
func (s *SQLStorage) ListPosts(ctx context.Context, batchID int64) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+postColumns+` FROM posts WHERE batch_id = ? ORDER BY post_date, post_time, id`), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts of batch %d: %w", batchID, err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// GetPost retrieves a post by ID
func (s *SQLStorage) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+postColumns+` FROM posts WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UpdatePost writes every mutable field of a post
func (s *SQLStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	return s.updatePost(ctx, s.db, post)
}

// SaveDispatchOutcome updates a post and its batch status in one transaction
func (s *SQLStorage) SaveDispatchOutcome(ctx context.Context, post *models.Post, batchStatus string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.updatePost(ctx, tx, post); err != nil {
		return err
	}
	if batchStatus != "" {
		err := execOne(ctx, tx, s.rebind(`UPDATE batches SET status = ?, updated_at = ? WHERE id = ?`),
			apperr.NotFound("batch", post.BatchID), batchStatus, toMillis(post.UpdatedAt), post.BatchID)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dispatch outcome: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *SQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLStorage) updatePost(ctx context.Context, db execer, post *models.Post) error {
	post.UpdatedAt = nowUTC()
	r := newPostRecord(post)
	return execOne(ctx, db, s.rebind(`
		UPDATE posts SET account_id = ?, platform = ?, kind = ?, post_date = ?, post_time = ?, timezone = ?,
			scheduled_at = ?, caption = ?, first_comment = ?, media_url = ?, media_type = ?, media_filename = ?,
			status = ?, provider_post_id = ?, last_error = ?, updated_at = ?
		WHERE id = ?`),
		apperr.NotFound("post", post.ID),
		r.AccountID, r.Platform, r.Kind, r.Date, r.Time, r.Timezone,
		nullMillis(r.ScheduledAt), r.Caption, r.FirstComment, r.MediaURL, r.MediaType, r.MediaFilename,
		r.Status, r.ProviderPostID, r.LastError, r.UpdatedAt, r.ID,
	)
}

// execOne runs a statement that must affect exactly one row
func execOne(ctx context.Context, db execer, query string, notFound error, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to execute update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var r accountRecord
	err := row.Scan(&r.ID, &r.Platform, &r.Username, &r.DisplayName, &r.AvatarURL, &r.ProviderAccountID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	acc := r.model()
	return &acc, nil
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		r         postRecord
		scheduled sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.BatchID, &r.AccountID, &r.Platform, &r.Kind, &r.Date, &r.Time, &r.Timezone,
		&scheduled, &r.Caption, &r.FirstComment, &r.MediaURL, &r.MediaType, &r.MediaFilename,
		&r.Status, &r.ProviderPostID, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}
	if scheduled.Valid {
		r.ScheduledAt = &scheduled.Int64
	}
	p := r.model()
	return &p, nil
}

func nullMillis(ms *int64) sql.NullInt64 {
	if ms == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ms, Valid: true}
}
