package models

import "time"

// Platforms with a dedicated content kind. Any other platform string is accepted
// and planned as a plain post.
const (
	PlatformInstagram = "instagram"
	PlatformTikTok    = "tiktok"
	PlatformThreads   = "threads"
	PlatformTelegram  = "telegram"
)

// Content kinds
const (
	KindPost   = "post"
	KindReel   = "reel"
	KindStory  = "story"
	KindTikTok = "tiktok"
)

// Batch statuses
const (
	BatchDraft              = "draft"
	BatchGenerated          = "generated"
	BatchScheduled          = "scheduled"
	BatchPartiallyScheduled = "partially_scheduled"
)

// Post statuses
const (
	PostDraft     = "draft"
	PostGenerated = "generated"
	PostEdited    = "edited"
	PostScheduled = "scheduled"
	PostFailed    = "failed"
)

// DispatchSkipped is reported for eligible posts that were not sent.
const DispatchSkipped = "skipped"

// Account mirrors a social account connected in the scheduling provider
type Account struct {
	ID                int64     `json:"id"`
	Platform          string    `json:"platform"`
	Username          string    `json:"username"`
	DisplayName       string    `json:"displayName"`
	AvatarURL         string    `json:"avatarUrl,omitempty"`
	ProviderAccountID string    `json:"providerAccountId"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Batch is a named collection of planned posts spanning a date range.
// StartDate and EndDate are civil dates in YYYY-MM-DD form.
type Batch struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate string    `json:"startDate"`
	EndDate   string    `json:"endDate"`
	Timezone  string    `json:"timezone"`
	Themes    string    `json:"themes"`
	Notes     string    `json:"notes"`
	Status    string    `json:"status"` // draft, generated, scheduled, partially_scheduled
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BatchSummary is the list view of a batch
type BatchSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Status     string `json:"status"`
	PostsCount int    `json:"postsCount"`
}

// Media references a file already stored by the scheduling provider
type Media struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// Post is one planned publication. Date/Time/Timezone hold the local wall clock;
// ScheduledAt is filled with the UTC instant once the post has been dispatched.
type Post struct {
	ID             int64      `json:"id"`
	BatchID        int64      `json:"batchId"`
	AccountID      int64      `json:"accountId"`
	Platform       string     `json:"platform"`
	Kind           string     `json:"kind"`
	Date           string     `json:"date"`
	Time           string     `json:"time"`
	Timezone       string     `json:"timezone"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	Caption        string     `json:"caption"`
	FirstComment   string     `json:"firstComment,omitempty"`
	Media          *Media     `json:"media,omitempty"`
	Status         string     `json:"status"` // draft, generated, edited, scheduled, failed
	ProviderPostID string     `json:"providerPostId,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`

	Account *Account `json:"account,omitempty"`
}

// Slot is a planned (date, platform, kind) position before content exists
type Slot struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Platform  string `json:"platform"`
	Kind      string `json:"kind"`
	Theme     string `json:"theme"`
	AccountID int64  `json:"-"`
}

// DispatchResult reports the outcome of sending one post
type DispatchResult struct {
	PostID         int64  `json:"postId"`
	Platform       string `json:"platform"`
	ProviderPostID string `json:"providerPostId,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

// KindForPlatform returns the default content kind planned for a platform
func KindForPlatform(platform string) string {
	switch platform {
	case PlatformInstagram:
		return KindReel
	case PlatformTikTok:
		return KindTikTok
	default:
		return KindPost
	}
}

// IsKnownKind reports whether kind is one of the supported content kinds
func IsKnownKind(kind string) bool {
	switch kind {
	case KindPost, KindReel, KindStory, KindTikTok:
		return true
	}
	return false
}

// AggregateStatus derives the batch status from a dispatch run in which
// succeeded out of eligible posts were accepted by the provider.
// With no successes the current status is kept.
func AggregateStatus(current string, succeeded, eligible int) string {
	switch {
	case succeeded == 0:
		return current
	case succeeded >= eligible:
		return BatchScheduled
	default:
		return BatchPartiallyScheduled
	}
}
