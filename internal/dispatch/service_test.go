package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/models"
	"github.com/cyderes/content-planner/internal/scheduling"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockStorage is a mock implementation of the Store interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetBatch(ctx context.Context, id int64) (*models.Batch, error) {
	args := m.Called(ctx, id)
	batch, _ := args.Get(0).(*models.Batch)
	return batch, args.Error(1)
}

func (m *MockStorage) ListPosts(ctx context.Context, batchID int64) ([]models.Post, error) {
	args := m.Called(ctx, batchID)
	return args.Get(0).([]models.Post), args.Error(1)
}

func (m *MockStorage) ListAccounts(ctx context.Context) ([]models.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Account), args.Error(1)
}

func (m *MockStorage) SaveDispatchOutcome(ctx context.Context, post *models.Post, batchStatus string) error {
	args := m.Called(ctx, post, batchStatus)
	return args.Error(0)
}

// saved returns the posts and batch statuses passed to SaveDispatchOutcome, in call order
func (m *MockStorage) saved() ([]models.Post, []string) {
	var posts []models.Post
	var statuses []string
	for _, call := range m.Calls {
		if call.Method != "SaveDispatchOutcome" {
			continue
		}
		posts = append(posts, *call.Arguments.Get(1).(*models.Post))
		statuses = append(statuses, call.Arguments.String(2))
	}
	return posts, statuses
}

// MockScheduler is a mock implementation of the Scheduler interface
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) CreatePost(ctx context.Context, req scheduling.PostRequest) (*scheduling.PostResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*scheduling.PostResult)
	return result, args.Error(1)
}

func withContent(content string) interface{} {
	return mock.MatchedBy(func(req scheduling.PostRequest) bool { return req.Content == content })
}

var testAccounts = []models.Account{
	{ID: 1, Platform: "instagram", ProviderAccountID: "late_ig"},
	{ID: 2, Platform: "telegram", ProviderAccountID: "late_tg"},
	{ID: 3, Platform: "threads"},
}

func testPost(id int64, status string) models.Post {
	return models.Post{
		ID:        id,
		BatchID:   7,
		AccountID: 2,
		Platform:  "telegram",
		Kind:      models.KindPost,
		Date:      "2024-03-10",
		Time:      "10:00",
		Timezone:  "America/New_York",
		Caption:   fmt.Sprintf("caption %d", id),
		Status:    status,
	}
}

func newTestService(store *MockStorage, scheduler *MockScheduler, posts []models.Post, batchStatus string) *Service {
	store.On("GetBatch", mock.Anything, int64(7)).Return(&models.Batch{ID: 7, Status: batchStatus}, nil)
	store.On("ListPosts", mock.Anything, int64(7)).Return(posts, nil)
	store.On("ListAccounts", mock.Anything).Return(testAccounts, nil)
	store.On("SaveDispatchOutcome", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	log, _ := test.NewNullLogger()
	return NewService(store, scheduler, log)
}

func TestDispatchBatch_PartialFailure(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	posts := []models.Post{
		testPost(1, models.PostGenerated),
		testPost(2, models.PostEdited),
		testPost(3, models.PostGenerated),
		testPost(4, models.PostGenerated),
	}
	service := newTestService(store, scheduler, posts, models.BatchGenerated)

	scheduler.On("CreatePost", mock.Anything, withContent("caption 3")).
		Return(nil, &apperr.DispatchError{StatusCode: 422, Body: `{"error":"bad media"}`}).Once()
	scheduler.On("CreatePost", mock.Anything, mock.Anything).
		Return(&scheduling.PostResult{PostID: "late_post", Status: "scheduled"}, nil)

	results, err := service.DispatchBatch(context.Background(), 7, Options{})
	require.NoError(t, err)

	want := []models.DispatchResult{
		{PostID: 1, Platform: "telegram", ProviderPostID: "late_post", Status: "scheduled"},
		{PostID: 2, Platform: "telegram", ProviderPostID: "late_post", Status: "scheduled"},
		{PostID: 3, Platform: "telegram", Status: "failed", Error: `scheduling API returned status 422: {"error":"bad media"}`},
		{PostID: 4, Platform: "telegram", ProviderPostID: "late_post", Status: "scheduled"},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	saved, statuses := store.saved()
	require.Len(t, saved, 4)
	assert.Equal(t, []string{models.BatchPartiallyScheduled, "", "", ""}, statuses)

	assert.Equal(t, models.PostFailed, saved[2].Status)
	assert.Contains(t, saved[2].LastError, "422")
	assert.Nil(t, saved[2].ScheduledAt)

	require.NotNil(t, saved[0].ScheduledAt)
	assert.Equal(t, time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC), *saved[0].ScheduledAt)
	assert.Equal(t, "late_post", saved[0].ProviderPostID)

	scheduler.AssertNumberOfCalls(t, "CreatePost", 4)
}

func TestDispatchBatch_AllSucceeded(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	failed := testPost(2, models.PostFailed)
	failed.LastError = "previous failure"
	posts := []models.Post{testPost(1, models.PostGenerated), failed}
	service := newTestService(store, scheduler, posts, models.BatchGenerated)

	scheduler.On("CreatePost", mock.Anything, mock.Anything).
		Return(&scheduling.PostResult{PostID: "late_post", Status: "scheduled"}, nil)

	results, err := service.DispatchBatch(context.Background(), 7, Options{RetryFailed: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	saved, statuses := store.saved()
	assert.Equal(t, []string{models.BatchPartiallyScheduled, models.BatchScheduled}, statuses)
	assert.Equal(t, models.PostScheduled, saved[1].Status)
	assert.Empty(t, saved[1].LastError)
}

func TestDispatchBatch_FullyScheduledMakesNoCalls(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	posts := []models.Post{
		testPost(1, models.PostScheduled),
		testPost(2, models.PostScheduled),
		testPost(3, models.PostFailed),
	}
	service := newTestService(store, scheduler, posts, models.BatchScheduled)

	results, err := service.DispatchBatch(context.Background(), 7, Options{})
	require.NoError(t, err)

	assert.Empty(t, results)
	scheduler.AssertNotCalled(t, "CreatePost", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "SaveDispatchOutcome", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatchBatch_SkipsEmptyCaptions(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	empty := testPost(2, models.PostEdited)
	empty.Caption = "  "
	posts := []models.Post{testPost(1, models.PostGenerated), empty}
	service := newTestService(store, scheduler, posts, models.BatchGenerated)

	scheduler.On("CreatePost", mock.Anything, mock.Anything).
		Return(&scheduling.PostResult{PostID: "late_post", Status: "scheduled"}, nil)

	results, err := service.DispatchBatch(context.Background(), 7, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.DispatchSkipped, results[1].Status)
	assert.Equal(t, "empty content", results[1].Error)

	// the skipped post keeps the batch from being fully scheduled
	_, statuses := store.saved()
	assert.Equal(t, []string{models.BatchPartiallyScheduled}, statuses)
	scheduler.AssertNumberOfCalls(t, "CreatePost", 1)
}

func TestDispatchBatch_NoSuccessKeepsStatus(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	unconnected := testPost(2, models.PostGenerated)
	unconnected.AccountID = 3
	posts := []models.Post{testPost(1, models.PostGenerated), unconnected}
	service := newTestService(store, scheduler, posts, models.BatchGenerated)

	scheduler.On("CreatePost", mock.Anything, mock.Anything).
		Return(&scheduling.PostResult{PostID: "late_post", Status: "failed"}, nil)

	results, err := service.DispatchBatch(context.Background(), 7, Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, models.PostFailed, results[0].Status)
	assert.Equal(t, "late_post", results[0].ProviderPostID)
	assert.Contains(t, results[0].Error, "reported post late_post as failed")
	assert.Equal(t, models.PostFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "account 3 is not connected")

	_, statuses := store.saved()
	assert.Equal(t, []string{"", ""}, statuses)
	scheduler.AssertNumberOfCalls(t, "CreatePost", 1)
}

func TestDispatchBatch_NotFound(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	store.On("GetBatch", mock.Anything, int64(9)).Return(nil, nil)

	log, _ := test.NewNullLogger()
	service := NewService(store, scheduler, log)

	_, err := service.DispatchBatch(context.Background(), 9, Options{})

	var notFound *apperr.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, int64(9), notFound.ID)
}

func TestDispatchBatch_StorageError(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	store.On("GetBatch", mock.Anything, int64(7)).Return(nil, errors.New("connection refused"))

	log, _ := test.NewNullLogger()
	service := NewService(store, scheduler, log)

	_, err := service.DispatchBatch(context.Background(), 7, Options{})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get batch")
}

func TestDispatchBatch_StopsWhenCancelled(t *testing.T) {
	store := new(MockStorage)
	scheduler := new(MockScheduler)
	posts := []models.Post{
		testPost(1, models.PostGenerated),
		testPost(2, models.PostGenerated),
		testPost(3, models.PostGenerated),
	}
	service := newTestService(store, scheduler, posts, models.BatchGenerated)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.On("CreatePost", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(&scheduling.PostResult{PostID: "late_post", Status: "scheduled"}, nil)

	_, err := service.DispatchBatch(ctx, 7, Options{})

	require.ErrorIs(t, err, context.Canceled)
	saved, _ := store.saved()
	assert.Len(t, saved, 1)
	scheduler.AssertNumberOfCalls(t, "CreatePost", 1)
}

func TestEligiblePosts(t *testing.T) {
	posts := []models.Post{
		testPost(1, models.PostDraft),
		testPost(2, models.PostGenerated),
		testPost(3, models.PostEdited),
		testPost(4, models.PostScheduled),
		testPost(5, models.PostFailed),
	}

	ids := func(in []*models.Post) []int64 {
		var out []int64
		for _, p := range in {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []int64{2, 3}, ids(eligiblePosts(posts, false)))
	assert.Equal(t, []int64{2, 3, 5}, ids(eligiblePosts(posts, true)))
}
