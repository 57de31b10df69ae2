// Package dispatch submits the posts of a batch to the scheduling provider and
// records the outcome of every post together with the batch status.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/calendar"
	"github.com/cyderes/content-planner/internal/models"
	"github.com/cyderes/content-planner/internal/scheduling"
)

// Store is the part of storage.Storage used while dispatching
type Store interface {
	GetBatch(ctx context.Context, id int64) (*models.Batch, error)
	ListPosts(ctx context.Context, batchID int64) ([]models.Post, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	SaveDispatchOutcome(ctx context.Context, post *models.Post, batchStatus string) error
}

// Scheduler creates posts at the scheduling provider
type Scheduler interface {
	CreatePost(ctx context.Context, req scheduling.PostRequest) (*scheduling.PostResult, error)
}

// Options tune a dispatch run
type Options struct {
	// RetryFailed also resends posts whose previous dispatch failed
	RetryFailed bool
}

// Service handles batch dispatch
type Service struct {
	store     Store
	scheduler Scheduler
	log       logrus.FieldLogger
}

// NewService creates a new dispatch service
func NewService(store Store, scheduler Scheduler, log logrus.FieldLogger) *Service {
	return &Service{
		store:     store,
		scheduler: scheduler,
		log:       log,
	}
}

// DispatchBatch sends every eligible post of a batch, one at a time and in
// stored order. A rejected post is recorded as failed and does not stop the
// run; storage errors and context cancellation do.
func (s *Service) DispatchBatch(ctx context.Context, batchID int64, opts Options) ([]models.DispatchResult, error) {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch == nil {
		return nil, apperr.NotFound("batch", batchID)
	}

	posts, err := s.store.ListPosts(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	byID := make(map[int64]models.Account, len(accounts))
	for _, acc := range accounts {
		byID[acc.ID] = acc
	}

	eligible := eligiblePosts(posts, opts.RetryFailed)
	log := s.log.WithFields(logrus.Fields{"batch_id": batchID, "eligible": len(eligible)})
	log.Info("Dispatching batch")

	results := make([]models.DispatchResult, 0, len(eligible))
	current := batch.Status
	succeeded := 0

	for _, post := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dispatch of batch %d interrupted after %d posts: %w", batchID, len(results), err)
		}

		if strings.TrimSpace(post.Caption) == "" {
			results = append(results, models.DispatchResult{
				PostID:   post.ID,
				Platform: post.Platform,
				Status:   models.DispatchSkipped,
				Error:    "empty content",
			})
			continue
		}

		result := s.send(ctx, post, byID)
		if result.Status == models.PostFailed {
			log.WithFields(logrus.Fields{"post_id": post.ID, "error": result.Error}).Warn("Post dispatch failed")
		} else {
			succeeded++
		}

		next := models.AggregateStatus(batch.Status, succeeded, len(eligible))
		changed := ""
		if next != current {
			changed = next
		}
		if err := s.store.SaveDispatchOutcome(ctx, post, changed); err != nil {
			return nil, fmt.Errorf("failed to save outcome of post %d: %w", post.ID, err)
		}
		current = next
		results = append(results, result)
	}

	log.WithFields(logrus.Fields{"succeeded": succeeded, "status": current}).Info("Dispatched batch")
	return results, nil
}

// send submits one post and applies the outcome to it
func (s *Service) send(ctx context.Context, post *models.Post, accounts map[int64]models.Account) models.DispatchResult {
	result := models.DispatchResult{PostID: post.ID, Platform: post.Platform}

	fail := func(err error) models.DispatchResult {
		post.Status = models.PostFailed
		post.LastError = err.Error()
		result.Status = models.PostFailed
		result.Error = post.LastError
		return result
	}

	acc, ok := accounts[post.AccountID]
	if !ok || acc.ProviderAccountID == "" {
		return fail(fmt.Errorf("account %d is not connected to the scheduling provider", post.AccountID))
	}

	at, err := calendar.ToUTC(post.Date, post.Time, post.Timezone)
	if err != nil {
		return fail(err)
	}

	created, err := s.scheduler.CreatePost(ctx, scheduling.PostRequest{
		Content:      post.Caption,
		ScheduledFor: at,
		Timezone:     post.Timezone,
		Platform:     post.Platform,
		AccountID:    acc.ProviderAccountID,
		Kind:         post.Kind,
		FirstComment: post.FirstComment,
		Media:        post.Media,
	})
	if err != nil {
		return fail(err)
	}
	if created.Status == models.PostFailed {
		post.ProviderPostID = created.PostID
		result.ProviderPostID = created.PostID
		return fail(fmt.Errorf("scheduling provider reported post %s as failed", created.PostID))
	}

	post.ProviderPostID = created.PostID
	post.Status = created.Status
	post.ScheduledAt = &at
	post.LastError = ""

	result.ProviderPostID = created.PostID
	result.Status = created.Status
	return result
}

func eligiblePosts(posts []models.Post, retryFailed bool) []*models.Post {
	var out []*models.Post
	for i := range posts {
		switch posts[i].Status {
		case models.PostGenerated, models.PostEdited:
			out = append(out, &posts[i])
		case models.PostFailed:
			if retryFailed {
				out = append(out, &posts[i])
			}
		}
	}
	return out
}
