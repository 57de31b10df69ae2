package storage

import (
	"sort"
	"time"

	"github.com/cyderes/content-planner/internal/models"
)

// Document shapes shared by the MongoDB and DynamoDB backends.
// Timestamps are unix milliseconds.

type accountRecord struct {
	ID                int64  `bson:"_id" dynamodbav:"id"`
	Platform          string `bson:"platform" dynamodbav:"platform"`
	Username          string `bson:"username" dynamodbav:"username"`
	DisplayName       string `bson:"display_name" dynamodbav:"display_name"`
	AvatarURL         string `bson:"avatar_url" dynamodbav:"avatar_url"`
	ProviderAccountID string `bson:"provider_account_id" dynamodbav:"provider_account_id"`
	CreatedAt         int64  `bson:"created_at" dynamodbav:"created_at"`
	UpdatedAt         int64  `bson:"updated_at" dynamodbav:"updated_at"`
}

type batchRecord struct {
	ID        int64  `bson:"_id" dynamodbav:"id"`
	Name      string `bson:"name" dynamodbav:"name"`
	StartDate string `bson:"start_date" dynamodbav:"start_date"`
	EndDate   string `bson:"end_date" dynamodbav:"end_date"`
	Timezone  string `bson:"timezone" dynamodbav:"timezone"`
	Themes    string `bson:"themes" dynamodbav:"themes"`
	Notes     string `bson:"notes" dynamodbav:"notes"`
	Status    string `bson:"status" dynamodbav:"status"`
	CreatedAt int64  `bson:"created_at" dynamodbav:"created_at"`
	UpdatedAt int64  `bson:"updated_at" dynamodbav:"updated_at"`
}

type postRecord struct {
	ID             int64  `bson:"_id" dynamodbav:"id"`
	BatchID        int64  `bson:"batch_id" dynamodbav:"batch_id"`
	AccountID      int64  `bson:"account_id" dynamodbav:"account_id"`
	Platform       string `bson:"platform" dynamodbav:"platform"`
	Kind           string `bson:"kind" dynamodbav:"kind"`
	Date           string `bson:"date" dynamodbav:"date"`
	Time           string `bson:"time" dynamodbav:"time"`
	Timezone       string `bson:"timezone" dynamodbav:"timezone"`
	ScheduledAt    *int64 `bson:"scheduled_at,omitempty" dynamodbav:"scheduled_at,omitempty"`
	Caption        string `bson:"caption" dynamodbav:"caption"`
	FirstComment   string `bson:"first_comment" dynamodbav:"first_comment"`
	MediaURL       string `bson:"media_url" dynamodbav:"media_url"`
	MediaType      string `bson:"media_type" dynamodbav:"media_type"`
	MediaFilename  string `bson:"media_filename" dynamodbav:"media_filename"`
	Status         string `bson:"status" dynamodbav:"status"`
	ProviderPostID string `bson:"provider_post_id" dynamodbav:"provider_post_id"`
	LastError      string `bson:"last_error" dynamodbav:"last_error"`
	CreatedAt      int64  `bson:"created_at" dynamodbav:"created_at"`
	UpdatedAt      int64  `bson:"updated_at" dynamodbav:"updated_at"`
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newAccountRecord(a *models.Account) accountRecord {
	return accountRecord{
		ID:                a.ID,
		Platform:          a.Platform,
		Username:          a.Username,
		DisplayName:       a.DisplayName,
		AvatarURL:         a.AvatarURL,
		ProviderAccountID: a.ProviderAccountID,
		CreatedAt:         toMillis(a.CreatedAt),
		UpdatedAt:         toMillis(a.UpdatedAt),
	}
}

func (r accountRecord) model() models.Account {
	return models.Account{
		ID:                r.ID,
		Platform:          r.Platform,
		Username:          r.Username,
		DisplayName:       r.DisplayName,
		AvatarURL:         r.AvatarURL,
		ProviderAccountID: r.ProviderAccountID,
		CreatedAt:         fromMillis(r.CreatedAt),
		UpdatedAt:         fromMillis(r.UpdatedAt),
	}
}

func newBatchRecord(b *models.Batch) batchRecord {
	return batchRecord{
		ID:        b.ID,
		Name:      b.Name,
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		Timezone:  b.Timezone,
		Themes:    b.Themes,
		Notes:     b.Notes,
		Status:    b.Status,
		CreatedAt: toMillis(b.CreatedAt),
		UpdatedAt: toMillis(b.UpdatedAt),
	}
}

func (r batchRecord) model() models.Batch {
	return models.Batch{
		ID:        r.ID,
		Name:      r.Name,
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Timezone:  r.Timezone,
		Themes:    r.Themes,
		Notes:     r.Notes,
		Status:    r.Status,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

func newPostRecord(p *models.Post) postRecord {
	r := postRecord{
		ID:             p.ID,
		BatchID:        p.BatchID,
		AccountID:      p.AccountID,
		Platform:       p.Platform,
		Kind:           p.Kind,
		Date:           p.Date,
		Time:           p.Time,
		Timezone:       p.Timezone,
		Caption:        p.Caption,
		FirstComment:   p.FirstComment,
		Status:         p.Status,
		ProviderPostID: p.ProviderPostID,
		LastError:      p.LastError,
		CreatedAt:      toMillis(p.CreatedAt),
		UpdatedAt:      toMillis(p.UpdatedAt),
	}
	if p.ScheduledAt != nil {
		ms := toMillis(*p.ScheduledAt)
		r.ScheduledAt = &ms
	}
	if p.Media != nil {
		r.MediaURL = p.Media.URL
		r.MediaType = p.Media.Type
		r.MediaFilename = p.Media.Filename
	}
	return r
}

func (r postRecord) model() models.Post {
	p := models.Post{
		ID:             r.ID,
		BatchID:        r.BatchID,
		AccountID:      r.AccountID,
		Platform:       r.Platform,
		Kind:           r.Kind,
		Date:           r.Date,
		Time:           r.Time,
		Timezone:       r.Timezone,
		Caption:        r.Caption,
		FirstComment:   r.FirstComment,
		Status:         r.Status,
		ProviderPostID: r.ProviderPostID,
		LastError:      r.LastError,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
	if r.ScheduledAt != nil {
		t := fromMillis(*r.ScheduledAt)
		p.ScheduledAt = &t
	}
	if r.MediaURL != "" {
		p.Media = &models.Media{URL: r.MediaURL, Type: r.MediaType, Filename: r.MediaFilename}
	}
	return p
}

func sortAccounts(accounts []models.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Platform != accounts[j].Platform {
			return accounts[i].Platform < accounts[j].Platform
		}
		return accounts[i].ID < accounts[j].ID
	})
}

func sortPosts(posts []models.Post) {
	sort.Slice(posts, func(i, j int) bool {
		a, b := posts[i], posts[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.ID < b.ID
	})
}

func sortSummaries(batches []models.BatchSummary, created map[int64]int64) {
	sort.Slice(batches, func(i, j int) bool {
		ci, cj := created[batches[i].ID], created[batches[j].ID]
		if ci != cj {
			return ci > cj
		}
		return batches[i].ID > batches[j].ID
	})
}
