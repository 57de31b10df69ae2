package planner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/generator"
	"github.com/cyderes/content-planner/internal/models"
	"github.com/cyderes/content-planner/internal/scheduling"
	"github.com/cyderes/content-planner/internal/storage"
)

type fakeDrafter struct {
	calls  [][]models.Slot
	briefs []generator.BriefRequest
	bc     generator.BatchContext
	err    error
}

func (f *fakeDrafter) GeneratePosts(ctx context.Context, bc generator.BatchContext, slots []models.Slot) ([]generator.Draft, error) {
	f.calls = append(f.calls, slots)
	f.bc = bc
	if f.err != nil {
		return nil, f.err
	}
	drafts := make([]generator.Draft, len(slots))
	for i, s := range slots {
		drafts[i] = generator.Draft{
			Caption:      fmt.Sprintf("%s %s %s", s.Platform, s.Date, s.Theme),
			FirstComment: "comment",
		}
	}
	return drafts, nil
}

func (f *fakeDrafter) WeeklyBrief(ctx context.Context, req generator.BriefRequest) (*generator.Brief, error) {
	f.briefs = append(f.briefs, req)
	return &generator.Brief{Themes: "rest, sleep", Brief: "Be gentle."}, nil
}

type fakeProvider struct {
	accounts []scheduling.Account
	uploads  []string
}

func (f *fakeProvider) ListAccounts(ctx context.Context) ([]scheduling.Account, error) {
	return f.accounts, nil
}

func (f *fakeProvider) UploadMedia(ctx context.Context, filename, contentType string, file io.Reader) (*scheduling.MediaFile, error) {
	data, _ := io.ReadAll(file)
	f.uploads = append(f.uploads, filename+":"+string(data))
	return &scheduling.MediaFile{URL: "https://cdn/" + filename}, nil
}

type fixture struct {
	service  *Service
	store    storage.Storage
	drafter  *fakeDrafter
	provider *fakeProvider
	accounts map[string]models.Account
}

func newFixture(t *testing.T, platforms ...string) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(config.StorageConfig{SQLitePath: filepath.Join(t.TempDir(), "planner.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		drafter:  &fakeDrafter{},
		provider: &fakeProvider{},
		accounts: map[string]models.Account{},
	}
	for _, p := range platforms {
		acc := models.Account{Platform: p, Username: p + "_user", ProviderAccountID: "late_" + p}
		require.NoError(t, store.UpsertAccount(context.Background(), &acc))
		f.accounts[p] = acc
	}

	log, _ := test.NewNullLogger()
	f.service = NewService(store, f.drafter, f.provider, config.PlannerConfig{
		DefaultTimezone: "Europe/Moscow",
		PostTimes:       []string{"10:00", "14:00", "9:30"},
		MaxBatchDays:    31,
	}, log)
	return f
}

func validRequest() CreateBatchRequest {
	return CreateBatchRequest{
		Name:      "March week",
		StartDate: "2024-03-10",
		EndDate:   "2024-03-12",
		Timezone:  "America/New_York",
		Themes:    []string{"rest", "sleep"},
		Platforms: []string{"instagram", "telegram"},
	}
}

func TestCreateBatch(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")
	ctx := context.Background()

	detail, err := f.service.CreateBatch(ctx, validRequest())
	require.NoError(t, err)

	assert.NotZero(t, detail.Batch.ID)
	assert.Equal(t, models.BatchGenerated, detail.Batch.Status)
	assert.Equal(t, "rest, sleep", detail.Batch.Themes)
	require.Len(t, detail.Posts, 6)
	assert.Len(t, detail.Accounts, 2)

	require.Len(t, f.drafter.calls, 1)
	assert.Len(t, f.drafter.calls[0], 6)
	assert.Equal(t, "March week", f.drafter.bc.BatchName)

	for _, p := range detail.Posts {
		assert.Equal(t, models.PostGenerated, p.Status)
		assert.Equal(t, "10:00", p.Time)
		assert.Equal(t, "America/New_York", p.Timezone)
		require.NotNil(t, p.Account)
		assert.Equal(t, p.Platform, p.Account.Platform)
		switch p.Platform {
		case "instagram":
			assert.Equal(t, models.KindReel, p.Kind)
		case "telegram":
			assert.Equal(t, models.KindPost, p.Kind)
		}
	}

	// themes rotate by day
	assert.Equal(t, "instagram 2024-03-10 rest", detail.Posts[0].Caption)
	assert.Equal(t, "telegram 2024-03-11 sleep", detail.Posts[3].Caption)
	assert.Equal(t, "instagram 2024-03-12 rest", detail.Posts[4].Caption)

	stored, err := f.service.GetBatch(ctx, detail.Batch.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Posts, 6)

	batches, err := f.service.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 6, batches[0].PostsCount)
}

func TestCreateBatch_Defaults(t *testing.T) {
	f := newFixture(t, "telegram")

	req := validRequest()
	req.Timezone = ""
	req.Themes = []string{"rest, sleep", " "}
	req.Platforms = []string{" Telegram ", "telegram"}
	req.EndDate = req.StartDate

	detail, err := f.service.CreateBatch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Moscow", detail.Batch.Timezone)
	assert.Equal(t, "rest, sleep", detail.Batch.Themes)
	require.Len(t, detail.Posts, 1)
	assert.Equal(t, "telegram", detail.Posts[0].Platform)
}

func TestCreateBatch_PostsPerDay(t *testing.T) {
	f := newFixture(t, "telegram")

	req := validRequest()
	req.Platforms = []string{"telegram"}
	req.EndDate = req.StartDate
	req.PostsPerDay = 3

	detail, err := f.service.CreateBatch(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, detail.Posts, 3)
	assert.Equal(t, "10:00", detail.Posts[0].Time)
	assert.Equal(t, "14:00", detail.Posts[1].Time)
	assert.Equal(t, "09:30", detail.Posts[2].Time)

	stored, err := f.service.GetBatch(context.Background(), detail.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, "09:30", stored.Posts[0].Time)

	req.PostsPerDay = 4
	_, err = f.service.CreateBatch(context.Background(), req)
	var validation *apperr.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Contains(t, err.Error(), "between 1 and 3")
}

func TestCreateBatch_SkipGeneration(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")

	req := validRequest()
	req.SkipGeneration = true
	detail, err := f.service.CreateBatch(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, f.drafter.calls)
	assert.Equal(t, models.BatchDraft, detail.Batch.Status)
	for _, p := range detail.Posts {
		assert.Equal(t, models.PostDraft, p.Status)
		assert.Empty(t, p.Caption)
	}
}

func TestCreateBatch_MissingAccount(t *testing.T) {
	f := newFixture(t, "instagram")
	ctx := context.Background()

	req := validRequest()
	req.Platforms = []string{"instagram", "tiktok", "threads"}
	_, err := f.service.CreateBatch(ctx, req)

	var missing *apperr.MissingAccountError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"tiktok", "threads"}, missing.Platforms)
	assert.Empty(t, f.drafter.calls)

	batches, err := f.store.ListBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestCreateBatch_GenerationFailureStoresNothing(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")
	f.drafter.err = &apperr.GenerationError{StatusCode: 500, Body: "upstream"}
	ctx := context.Background()

	_, err := f.service.CreateBatch(ctx, validRequest())

	var genErr *apperr.GenerationError
	require.True(t, errors.As(err, &genErr))
	batches, err := f.store.ListBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestCreateBatch_Validation(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")

	tests := []struct {
		name     string
		mutate   func(r *CreateBatchRequest)
		contains string
	}{
		{"missing name", func(r *CreateBatchRequest) { r.Name = "  " }, "name is required"},
		{"bad start", func(r *CreateBatchRequest) { r.StartDate = "10/03/2024" }, "startDate must be a date"},
		{"missing end", func(r *CreateBatchRequest) { r.EndDate = "" }, "endDate is required"},
		{"reversed range", func(r *CreateBatchRequest) { r.StartDate, r.EndDate = r.EndDate, r.StartDate }, "after end date"},
		{"unknown zone", func(r *CreateBatchRequest) { r.Timezone = "Mars/Olympus" }, "not a known IANA timezone"},
		{"no platforms", func(r *CreateBatchRequest) { r.Platforms = nil }, "platforms is required"},
		{"blank platforms", func(r *CreateBatchRequest) { r.Platforms = []string{" "} }, "platforms must list at least 1"},
		{"negative posts per day", func(r *CreateBatchRequest) { r.PostsPerDay = -1 }, "postsPerDay must be at least 1"},
		{"too long", func(r *CreateBatchRequest) { r.EndDate = "2024-05-01" }, "at most 31 days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			_, err := f.service.CreateBatch(context.Background(), req)

			var validation *apperr.ValidationError
			require.True(t, errors.As(err, &validation), "got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
	assert.Empty(t, f.drafter.calls)
}

func TestGetBatch_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetBatch(context.Background(), 42)

	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "batch 42 not found", err.Error())
}

func TestUpdatePost(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")
	ctx := context.Background()
	detail, err := f.service.CreateBatch(ctx, validRequest())
	require.NoError(t, err)
	before := detail.Posts[0]

	caption := "Hand written"
	updated, err := f.service.UpdatePost(ctx, before.ID, PostUpdate{Caption: &caption})
	require.NoError(t, err)
	assert.Equal(t, "Hand written", updated.Caption)
	assert.Equal(t, models.PostEdited, updated.Status)
	assert.Equal(t, before.Time, updated.Time)
	assert.Equal(t, before.FirstComment, updated.FirstComment)
	require.NotNil(t, updated.Account)

	clock, kind, status := "9:05", models.KindStory, models.PostDraft
	media := &models.Media{URL: "https://cdn/a.png", Type: "image", Filename: "a.png"}
	updated, err = f.service.UpdatePost(ctx, before.ID, PostUpdate{Time: &clock, Kind: &kind, Status: &status, Media: media})
	require.NoError(t, err)
	assert.Equal(t, "09:05", updated.Time)
	assert.Equal(t, models.KindStory, updated.Kind)
	assert.Equal(t, models.PostDraft, updated.Status)
	assert.Equal(t, "Hand written", updated.Caption)

	stored, err := f.store.GetPost(ctx, before.ID)
	require.NoError(t, err)
	assert.Equal(t, media, stored.Media)

	tg := f.accounts["telegram"].ID
	updated, err = f.service.UpdatePost(ctx, before.ID, PostUpdate{AccountID: &tg, Media: &models.Media{}})
	require.NoError(t, err)
	assert.Equal(t, "telegram", updated.Platform)
	assert.Nil(t, updated.Media)
}

func TestUpdatePost_Errors(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")
	ctx := context.Background()
	detail, err := f.service.CreateBatch(ctx, validRequest())
	require.NoError(t, err)
	id := detail.Posts[0].ID

	badTime, badKind, badStatus := "25:00", "carousel", "published"
	var missingAccount int64 = 999

	tests := []struct {
		name     string
		update   PostUpdate
		contains string
	}{
		{"time", PostUpdate{Time: &badTime}, "time must be a time in HH:MM form"},
		{"kind", PostUpdate{Kind: &badKind}, "kind must be one of"},
		{"status", PostUpdate{Status: &badStatus}, "status must be one of"},
		{"account", PostUpdate{AccountID: &missingAccount}, "account 999 not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.UpdatePost(ctx, id, tt.update)
			var validation *apperr.ValidationError
			require.True(t, errors.As(err, &validation), "got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}

	_, err = f.service.UpdatePost(ctx, 12345, PostUpdate{})
	var notFound *apperr.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestRegeneratePost(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")
	ctx := context.Background()
	detail, err := f.service.CreateBatch(ctx, validRequest())
	require.NoError(t, err)

	target := detail.Posts[3] // telegram, second day
	caption := "manual"
	_, err = f.service.UpdatePost(ctx, target.ID, PostUpdate{Caption: &caption})
	require.NoError(t, err)

	post, err := f.service.RegeneratePost(ctx, target.ID)
	require.NoError(t, err)

	assert.Equal(t, models.PostGenerated, post.Status)
	assert.Equal(t, "telegram 2024-03-11 sleep", post.Caption)
	require.Len(t, f.drafter.calls, 2)
	assert.Len(t, f.drafter.calls[1], 1)
	assert.Equal(t, "sleep", f.drafter.calls[1][0].Theme)

	_, err = f.service.RegeneratePost(ctx, 999)
	var notFound *apperr.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestRegeneratePost_GenerationFailureKeepsPost(t *testing.T) {
	f := newFixture(t, "telegram")
	ctx := context.Background()
	req := validRequest()
	req.Platforms = []string{"telegram"}
	detail, err := f.service.CreateBatch(ctx, req)
	require.NoError(t, err)

	f.drafter.err = &apperr.GenerationError{Message: "boom"}
	_, err = f.service.RegeneratePost(ctx, detail.Posts[0].ID)
	require.Error(t, err)

	stored, err := f.store.GetPost(ctx, detail.Posts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, detail.Posts[0].Caption, stored.Caption)
}

func TestScheduledPostIsReadOnly(t *testing.T) {
	f := newFixture(t, "telegram")
	ctx := context.Background()
	req := validRequest()
	req.Platforms = []string{"telegram"}
	req.EndDate = req.StartDate
	detail, err := f.service.CreateBatch(ctx, req)
	require.NoError(t, err)

	post := detail.Posts[0]
	post.Status = models.PostScheduled
	post.ProviderPostID = "late_1"
	require.NoError(t, f.store.SaveDispatchOutcome(ctx, &post, models.BatchScheduled))

	caption := "late edit"
	_, err = f.service.UpdatePost(ctx, post.ID, PostUpdate{Caption: &caption})
	var validation *apperr.ValidationError
	require.True(t, errors.As(err, &validation), "got %v", err)
	assert.Contains(t, err.Error(), "already scheduled")

	_, err = f.service.RegeneratePost(ctx, post.ID)
	require.True(t, errors.As(err, &validation), "got %v", err)
	assert.Len(t, f.drafter.calls, 1)

	stored, err := f.store.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostScheduled, stored.Status)
	assert.Equal(t, "late_1", stored.ProviderPostID)
	assert.Equal(t, detail.Posts[0].Caption, stored.Caption)
}

func TestGenerateDay(t *testing.T) {
	f := newFixture(t, "instagram", "telegram")
	ctx := context.Background()
	req := validRequest()
	req.SkipGeneration = true
	detail, err := f.service.CreateBatch(ctx, req)
	require.NoError(t, err)

	posts, err := f.service.GenerateDay(ctx, detail.Batch.ID, "2024-03-11")
	require.NoError(t, err)
	require.Len(t, posts, 6)

	require.Len(t, f.drafter.calls, 1)
	assert.Len(t, f.drafter.calls[0], 2)
	for _, p := range posts {
		if p.Date == "2024-03-11" {
			assert.Equal(t, models.PostGenerated, p.Status)
			assert.True(t, strings.HasSuffix(p.Caption, "sleep"))
		} else {
			assert.Equal(t, models.PostDraft, p.Status)
			assert.Empty(t, p.Caption)
		}
	}

	batch, err := f.store.GetBatch(ctx, detail.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchGenerated, batch.Status)

	_, err = f.service.GenerateDay(ctx, detail.Batch.ID, "2024-04-01")
	var validation *apperr.ValidationError
	assert.True(t, errors.As(err, &validation))

	_, err = f.service.GenerateDay(ctx, 999, "2024-03-11")
	var notFound *apperr.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestSyncAccounts(t *testing.T) {
	f := newFixture(t, "telegram")
	f.provider.accounts = []scheduling.Account{
		{ID: "late_telegram", Platform: "telegram", Username: "renamed"},
		{ID: "late_ig", Platform: "Instagram", Username: "pomni", ProfilePicture: "https://cdn/p.png"},
		{ID: "", Platform: "threads"},
	}

	accounts, err := f.service.SyncAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	assert.Equal(t, "instagram", accounts[0].Platform)
	assert.Equal(t, "https://cdn/p.png", accounts[0].AvatarURL)
	assert.Equal(t, f.accounts["telegram"].ID, accounts[1].ID)
	assert.Equal(t, "renamed", accounts[1].Username)
}

func TestUploadMedia(t *testing.T) {
	f := newFixture(t, "instagram")
	ctx := context.Background()

	media, err := f.service.UploadMedia(ctx, f.accounts["instagram"].ID, "clip.mp4", "video/mp4", strings.NewReader("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/clip.mp4", media.URL)
	assert.Equal(t, "video", media.Type)
	assert.Equal(t, "clip.mp4", media.Filename)
	assert.Equal(t, []string{"clip.mp4:bytes"}, f.provider.uploads)

	_, err = f.service.UploadMedia(ctx, 999, "a.png", "image/png", strings.NewReader("x"))
	var validation *apperr.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestWeeklyBrief(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	brief, err := f.service.WeeklyBrief(ctx, BriefRequest{StartDate: "2024-03-11", EndDate: "2024-03-17", Platforms: []string{"instagram"}})
	require.NoError(t, err)
	assert.Equal(t, "rest, sleep", brief.Themes)
	require.Len(t, f.drafter.briefs, 1)
	assert.Equal(t, "2024-03-17", f.drafter.briefs[0].EndDate)

	_, err = f.service.WeeklyBrief(ctx, BriefRequest{StartDate: "2024-03-11"})
	var validation *apperr.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "video", mediaType("video/mp4"))
	assert.Equal(t, "gif", mediaType("image/gif"))
	assert.Equal(t, "image", mediaType("image/jpeg"))
	assert.Equal(t, "document", mediaType("application/pdf"))
}
