// Package planner creates content batches and manages their posts and the
// connected accounts they are published to.
package planner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/calendar"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/generator"
	"github.com/cyderes/content-planner/internal/models"
	"github.com/cyderes/content-planner/internal/scheduling"
	"github.com/cyderes/content-planner/internal/storage"
)

// Drafter produces post content
type Drafter interface {
	GeneratePosts(ctx context.Context, bc generator.BatchContext, slots []models.Slot) ([]generator.Draft, error)
	WeeklyBrief(ctx context.Context, req generator.BriefRequest) (*generator.Brief, error)
}

// AccountProvider is the scheduling provider as seen by the planner
type AccountProvider interface {
	ListAccounts(ctx context.Context) ([]scheduling.Account, error)
	UploadMedia(ctx context.Context, filename, contentType string, file io.Reader) (*scheduling.MediaFile, error)
}

// Service handles batch planning
type Service struct {
	storage  storage.Storage
	drafter  Drafter
	provider AccountProvider
	config   config.PlannerConfig
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewService creates a new planner service
func NewService(store storage.Storage, drafter Drafter, provider AccountProvider, cfg config.PlannerConfig, log logrus.FieldLogger) *Service {
	times := make([]string, 0, len(cfg.PostTimes))
	for _, t := range cfg.PostTimes {
		if hour, minute, err := calendar.ParseClock(t); err == nil {
			times = append(times, fmt.Sprintf("%02d:%02d", hour, minute))
		}
	}
	if len(times) == 0 {
		times = []string{"10:00"}
	}
	cfg.PostTimes = times

	return &Service{
		storage:  store,
		drafter:  drafter,
		provider: provider,
		config:   cfg,
		validate: newValidator(),
		log:      log,
	}
}

// CreateBatchRequest is the input for creating a batch
type CreateBatchRequest struct {
	Name           string   `json:"name" validate:"required,max=200"`
	StartDate      string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate        string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	Timezone       string   `json:"timezone" validate:"required,zone"`
	Themes         []string `json:"themes"`
	Notes          string   `json:"notes"`
	Platforms      []string `json:"platforms" validate:"required,min=1,dive,required"`
	PostsPerDay    int      `json:"postsPerDay" validate:"min=1"`
	SkipGeneration bool     `json:"skipGeneration"`
}

// PostUpdate carries the fields of a partial post update; nil fields are left unchanged
type PostUpdate struct {
	Caption      *string       `json:"caption"`
	FirstComment *string       `json:"firstComment"`
	Time         *string       `json:"time" validate:"omitempty,clock"`
	Kind         *string       `json:"kind" validate:"omitempty,kind"`
	AccountID    *int64        `json:"accountId"`
	Media        *models.Media `json:"media"`
	Status       *string       `json:"status" validate:"omitempty,oneof=draft generated edited scheduled failed"`
}

// BriefRequest is the input for a weekly brief
type BriefRequest struct {
	StartDate string   `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string   `json:"endDate" validate:"required,datetime=2006-01-02"`
	Platforms []string `json:"platforms"`
	Notes     string   `json:"notes"`
}

// BatchDetail is a batch with its posts and the accounts they reference
type BatchDetail struct {
	Batch    models.Batch     `json:"batch"`
	Posts    []models.Post    `json:"posts"`
	Accounts []models.Account `json:"accounts,omitempty"`
}

// ListAccounts returns the stored accounts
func (s *Service) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return s.storage.ListAccounts(ctx)
}

// SyncAccounts mirrors the provider's connected accounts into storage
func (s *Service) SyncAccounts(ctx context.Context) ([]models.Account, error) {
	remote, err := s.provider.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider accounts: %w", err)
	}

	for _, ra := range remote {
		if ra.ID == "" {
			continue
		}
		acc := models.Account{
			Platform:          strings.ToLower(ra.Platform),
			Username:          ra.Username,
			DisplayName:       ra.DisplayName,
			AvatarURL:         ra.ProfilePicture,
			ProviderAccountID: ra.ID,
		}
		if err := s.storage.UpsertAccount(ctx, &acc); err != nil {
			return nil, fmt.Errorf("failed to store account %s: %w", ra.ID, err)
		}
	}

	s.log.WithField("accounts", len(remote)).Info("Synchronized accounts")
	return s.storage.ListAccounts(ctx)
}

// CreateBatch plans, generates and stores a batch. Nothing is stored unless
// every step succeeds.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*BatchDetail, error) {
	req = s.normalize(req)
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.PostsPerDay > len(s.config.PostTimes) {
		return nil, apperr.Validationf("postsPerDay must be between 1 and %d", len(s.config.PostTimes))
	}

	first, err := calendar.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	last, err := calendar.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	if days := calendar.DaysBetween(first, last) + 1; days > s.config.MaxBatchDays {
		return nil, apperr.Validationf("a batch may span at most %d days, got %d", s.config.MaxBatchDays, days)
	}
	dates, err := calendar.ExpandRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	accounts, err := s.storage.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	byPlatform := accountsByPlatform(accounts)
	var missing []string
	for _, p := range req.Platforms {
		if _, ok := byPlatform[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, &apperr.MissingAccountError{Platforms: missing}
	}

	slots := buildSlots(dates, s.config.PostTimes[:req.PostsPerDay], req.Platforms, req.Themes, byPlatform)
	batch := &models.Batch{
		Name:      req.Name,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Timezone:  req.Timezone,
		Themes:    strings.Join(req.Themes, ", "),
		Notes:     req.Notes,
		Status:    models.BatchDraft,
	}
	posts := make([]models.Post, len(slots))
	for i, slot := range slots {
		posts[i] = models.Post{
			AccountID: slot.AccountID,
			Platform:  slot.Platform,
			Kind:      slot.Kind,
			Date:      slot.Date,
			Time:      slot.Time,
			Timezone:  req.Timezone,
			Status:    models.PostDraft,
		}
	}

	if !req.SkipGeneration {
		drafts, err := s.generate(ctx, batch, slots)
		if err != nil {
			return nil, err
		}
		for i := range posts {
			applyDraft(&posts[i], drafts[i])
		}
		batch.Status = models.BatchGenerated
	}

	if err := s.storage.CreateBatch(ctx, batch, posts); err != nil {
		return nil, fmt.Errorf("failed to store batch: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"posts":    len(posts),
		"status":   batch.Status,
	}).Info("Created batch")

	return &BatchDetail{
		Batch:    *batch,
		Posts:    attachAccounts(posts, accounts),
		Accounts: accounts,
	}, nil
}

// ListBatches returns batch summaries, newest first
func (s *Service) ListBatches(ctx context.Context) ([]models.BatchSummary, error) {
	return s.storage.ListBatches(ctx)
}

// GetBatch returns a batch with its posts
func (s *Service) GetBatch(ctx context.Context, id int64) (*BatchDetail, error) {
	batch, err := s.loadBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	posts, err := s.batchPosts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BatchDetail{Batch: *batch, Posts: posts}, nil
}

// UpdatePost applies a partial update to a post. The status becomes "edited"
// unless another status is given. Scheduled posts are read-only.
func (s *Service) UpdatePost(ctx context.Context, id int64, upd PostUpdate) (*models.Post, error) {
	if err := s.check(upd); err != nil {
		return nil, err
	}

	post, err := s.loadMutablePost(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Caption != nil {
		post.Caption = *upd.Caption
	}
	if upd.FirstComment != nil {
		post.FirstComment = *upd.FirstComment
	}
	if upd.Time != nil {
		hour, minute, _ := calendar.ParseClock(*upd.Time)
		post.Time = fmt.Sprintf("%02d:%02d", hour, minute)
	}
	if upd.Kind != nil {
		post.Kind = *upd.Kind
	}
	if upd.AccountID != nil {
		acc, err := s.storage.GetAccount(ctx, *upd.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to get account: %w", err)
		}
		if acc == nil {
			return nil, apperr.Validationf("account %d not found", *upd.AccountID)
		}
		post.AccountID = acc.ID
		post.Platform = acc.Platform
	}
	if upd.Media != nil {
		if upd.Media.URL == "" {
			post.Media = nil
		} else {
			media := *upd.Media
			post.Media = &media
		}
	}
	post.Status = models.PostEdited
	if upd.Status != nil {
		post.Status = *upd.Status
	}

	if err := s.storage.UpdatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return s.withAccount(ctx, post)
}

// RegeneratePost replaces the content of a single unscheduled post with a
// fresh draft
func (s *Service) RegeneratePost(ctx context.Context, id int64) (*models.Post, error) {
	post, err := s.loadMutablePost(ctx, id)
	if err != nil {
		return nil, err
	}
	batch, err := s.loadBatch(ctx, post.BatchID)
	if err != nil {
		return nil, err
	}

	drafts, err := s.generate(ctx, batch, []models.Slot{slotFor(batch, post)})
	if err != nil {
		return nil, err
	}
	applyDraft(post, drafts[0])

	if err := s.storage.UpdatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	return s.withAccount(ctx, post)
}

// GenerateDay regenerates every unscheduled post of one day of a batch in a
// single request and returns all posts of the batch
func (s *Service) GenerateDay(ctx context.Context, batchID int64, date string) ([]models.Post, error) {
	if _, err := calendar.ParseDate(date); err != nil {
		return nil, err
	}
	batch, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	posts, err := s.storage.ListPosts(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	var day []*models.Post
	var slots []models.Slot
	for i := range posts {
		p := &posts[i]
		if p.Date != date || p.Status == models.PostScheduled {
			continue
		}
		day = append(day, p)
		slots = append(slots, slotFor(batch, p))
	}
	if len(day) == 0 {
		return nil, apperr.Validationf("no posts to generate on %s", date)
	}

	drafts, err := s.generate(ctx, batch, slots)
	if err != nil {
		return nil, err
	}
	for i, p := range day {
		applyDraft(p, drafts[i])
		if err := s.storage.UpdatePost(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to update post %d: %w", p.ID, err)
		}
	}
	if batch.Status == models.BatchDraft {
		if err := s.storage.UpdateBatchStatus(ctx, batch.ID, models.BatchGenerated); err != nil {
			return nil, fmt.Errorf("failed to update batch status: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{"batch_id": batchID, "date": date, "posts": len(day)}).Info("Generated day")
	return s.batchPosts(ctx, batchID)
}

// WeeklyBrief suggests themes and a writing brief for a period
func (s *Service) WeeklyBrief(ctx context.Context, req BriefRequest) (*generator.Brief, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	return s.drafter.WeeklyBrief(ctx, generator.BriefRequest{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Platforms: req.Platforms,
		Notes:     req.Notes,
	})
}

// UploadMedia stores a file with the scheduling provider on behalf of an account
func (s *Service) UploadMedia(ctx context.Context, accountID int64, filename, contentType string, file io.Reader) (*models.Media, error) {
	acc, err := s.storage.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if acc == nil || acc.ProviderAccountID == "" {
		return nil, apperr.Validationf("account %d not found or not connected to the scheduling provider", accountID)
	}

	uploaded, err := s.provider.UploadMedia(ctx, filename, contentType, file)
	if err != nil {
		return nil, err
	}

	media := &models.Media{URL: uploaded.URL, Type: uploaded.Type, Filename: uploaded.Filename}
	if media.Filename == "" {
		media.Filename = filename
	}
	if media.Type == "" {
		media.Type = mediaType(contentType)
	}
	return media, nil
}

func (s *Service) normalize(req CreateBatchRequest) CreateBatchRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = s.config.DefaultTimezone
	}
	if req.PostsPerDay == 0 {
		req.PostsPerDay = 1
	}

	seen := map[string]bool{}
	platforms := make([]string, 0, len(req.Platforms))
	for _, p := range req.Platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		platforms = append(platforms, p)
	}
	if req.Platforms != nil {
		req.Platforms = platforms
	}

	themes := []string{}
	for _, t := range req.Themes {
		themes = append(themes, generator.SplitThemes(t)...)
	}
	req.Themes = themes
	return req
}

func (s *Service) generate(ctx context.Context, batch *models.Batch, slots []models.Slot) ([]generator.Draft, error) {
	drafts, err := s.drafter.GeneratePosts(ctx, generator.BatchContext{
		Brand:     batch.Notes,
		BatchName: batch.Name,
		Themes:    generator.SplitThemes(batch.Themes),
	}, slots)
	if err != nil {
		return nil, err
	}
	if len(drafts) != len(slots) {
		return nil, &apperr.GenerationError{Message: fmt.Sprintf("expected %d drafts, got %d", len(slots), len(drafts))}
	}
	return drafts, nil
}

func (s *Service) loadBatch(ctx context.Context, id int64) (*models.Batch, error) {
	batch, err := s.storage.GetBatch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	if batch == nil {
		return nil, apperr.NotFound("batch", id)
	}
	return batch, nil
}

func (s *Service) loadPost(ctx context.Context, id int64) (*models.Post, error) {
	post, err := s.storage.GetPost(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	if post == nil {
		return nil, apperr.NotFound("post", id)
	}
	return post, nil
}

// loadMutablePost loads a post that has not been handed to the scheduling
// provider yet
func (s *Service) loadMutablePost(ctx context.Context, id int64) (*models.Post, error) {
	post, err := s.loadPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if post.Status == models.PostScheduled {
		return nil, apperr.Validationf("post %d is already scheduled and cannot be changed", id)
	}
	return post, nil
}

// batchPosts lists the posts of a batch joined with their accounts
func (s *Service) batchPosts(ctx context.Context, batchID int64) ([]models.Post, error) {
	posts, err := s.storage.ListPosts(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	accounts, err := s.storage.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return attachAccounts(posts, accounts), nil
}

func (s *Service) withAccount(ctx context.Context, post *models.Post) (*models.Post, error) {
	acc, err := s.storage.GetAccount(ctx, post.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	post.Account = acc
	return post, nil
}

// accountsByPlatform picks the first connected account of every platform
func accountsByPlatform(accounts []models.Account) map[string]models.Account {
	out := make(map[string]models.Account, len(accounts))
	for _, acc := range accounts {
		platform := strings.ToLower(acc.Platform)
		if _, ok := out[platform]; !ok {
			out[platform] = acc
		}
	}
	return out
}

// buildSlots plans dates x times x platforms; themes rotate by day
func buildSlots(dates []time.Time, times []string, platforms, themes []string, accounts map[string]models.Account) []models.Slot {
	slots := make([]models.Slot, 0, len(dates)*len(times)*len(platforms))
	for day, date := range dates {
		theme := generator.ThemeForDay(themes, day)
		for _, clock := range times {
			for _, platform := range platforms {
				slots = append(slots, models.Slot{
					Date:      calendar.FormatDate(date),
					Time:      clock,
					Platform:  platform,
					Kind:      models.KindForPlatform(platform),
					Theme:     theme,
					AccountID: accounts[platform].ID,
				})
			}
		}
	}
	return slots
}

// slotFor rebuilds the slot of a stored post
func slotFor(batch *models.Batch, post *models.Post) models.Slot {
	day := 0
	start, serr := calendar.ParseDate(batch.StartDate)
	date, derr := calendar.ParseDate(post.Date)
	if serr == nil && derr == nil {
		day = calendar.DaysBetween(start, date)
	}
	return models.Slot{
		Date:      post.Date,
		Time:      post.Time,
		Platform:  post.Platform,
		Kind:      post.Kind,
		Theme:     generator.ThemeForDay(generator.SplitThemes(batch.Themes), day),
		AccountID: post.AccountID,
	}
}

func applyDraft(post *models.Post, d generator.Draft) {
	post.Caption = d.Caption
	if d.Hashtags != "" && !strings.Contains(d.Caption, d.Hashtags) {
		post.Caption = d.Caption + "\n\n" + d.Hashtags
	}
	post.FirstComment = d.FirstComment
	post.Status = models.PostGenerated
}

func attachAccounts(posts []models.Post, accounts []models.Account) []models.Post {
	byID := make(map[int64]*models.Account, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}
	for i := range posts {
		posts[i].Account = byID[posts[i].AccountID]
	}
	return posts
}

func mediaType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case contentType == "image/gif":
		return "gif"
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	default:
		return "document"
	}
}
