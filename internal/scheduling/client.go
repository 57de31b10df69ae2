// Package scheduling is a thin client for the Late scheduling API: connected
// accounts, media uploads and scheduled post creation.
package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/config"
	"github.com/cyderes/content-planner/internal/models"
)

// ErrNotConfigured is returned when no API key was supplied
var ErrNotConfigured = errors.New("LATE_API_KEY is not configured")

// Client talks to the scheduling provider
type Client struct {
	config     config.SchedulingConfig
	httpClient *http.Client
}

// NewClient creates a new scheduling provider client
func NewClient(cfg config.SchedulingConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Account is a social account as reported by the provider
type Account struct {
	ID             string `json:"_id"`
	Platform       string `json:"platform"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// MediaFile is a file stored by the provider
type MediaFile struct {
	Type     string `json:"type"` // image, video, gif, document
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// PostRequest describes one post to schedule
type PostRequest struct {
	Content      string
	ScheduledFor time.Time
	Timezone     string
	Platform     string
	AccountID    string // provider account id
	Kind         string
	FirstComment string
	Media        *models.Media
}

// PostResult is the provider's answer to a created post
type PostResult struct {
	PostID string
	Status string
}

type createPostBody struct {
	Content      string           `json:"content"`
	ScheduledFor string           `json:"scheduledFor"`
	Timezone     string           `json:"timezone"`
	Platforms    []platformTarget `json:"platforms"`
	MediaItems   []mediaItem      `json:"mediaItems,omitempty"`
}

type platformTarget struct {
	Platform             string       `json:"platform"`
	AccountID            string       `json:"accountId"`
	PlatformSpecificData platformData `json:"platformSpecificData"`
}

type platformData struct {
	ContentType  string `json:"contentType"`
	FirstComment string `json:"firstComment,omitempty"`
}

type mediaItem struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// ListAccounts fetches the provider's connected accounts
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/accounts", nil)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("scheduling API returned status %d: %s", status, bodyText(body))
	}

	var payload struct {
		Accounts []Account `json:"accounts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts response: %w", err)
	}
	if payload.Accounts == nil {
		return []Account{}, nil
	}
	return payload.Accounts, nil
}

// UploadMedia stores a file with the provider and returns its retrieval details
func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, file io.Reader) (*MediaFile, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/media", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	status, body, err := c.do(req)
	if err != nil {
		return nil, &apperr.UploadError{Message: err.Error()}
	}
	if !isSuccess(status) {
		return nil, &apperr.UploadError{StatusCode: status, Body: bodyText(body)}
	}

	var payload struct {
		Files []MediaFile `json:"files"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &apperr.UploadError{Message: fmt.Sprintf("failed to unmarshal upload response: %v", err)}
	}
	if len(payload.Files) == 0 {
		return nil, &apperr.UploadError{Message: "response missing file"}
	}
	return &payload.Files[0], nil
}

// CreatePost schedules one post with the provider
func (c *Client) CreatePost(ctx context.Context, p PostRequest) (*PostResult, error) {
	payload := createPostBody{
		Content:      p.Content,
		ScheduledFor: p.ScheduledFor.UTC().Format(time.RFC3339),
		Timezone:     p.Timezone,
		Platforms: []platformTarget{{
			Platform:  p.Platform,
			AccountID: p.AccountID,
			PlatformSpecificData: platformData{
				ContentType:  contentType(p.Kind, p.Platform),
				FirstComment: p.FirstComment,
			},
		}},
	}
	if p.Media != nil && p.Media.URL != "" {
		item := mediaItem{Type: p.Media.Type, URL: p.Media.URL, Filename: p.Media.Filename}
		if item.Type == "" {
			item.Type = "image"
		}
		if item.Filename == "" {
			item.Filename = "media"
		}
		payload.MediaItems = []mediaItem{item}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal post: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/posts", bytes.NewReader(data))
	if err != nil {
		return nil, &apperr.DispatchError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, &apperr.DispatchError{Message: err.Error()}
	}
	if !isSuccess(status) {
		return nil, &apperr.DispatchError{StatusCode: status, Body: bodyText(body)}
	}

	var resp struct {
		Post struct {
			ID     string `json:"_id"`
			Status string `json:"status"`
		} `json:"post"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &apperr.DispatchError{Message: fmt.Sprintf("failed to unmarshal post response: %v", err)}
	}
	if resp.Post.ID == "" {
		return nil, &apperr.DispatchError{Message: "post response missing post id"}
	}

	result := &PostResult{PostID: resp.Post.ID, Status: resp.Post.Status}
	if result.Status == "" {
		result.Status = models.PostScheduled
	}
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.config.APIKey == "" {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	return req, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// contentType maps a content kind onto the provider's contentType field
func contentType(kind, platform string) string {
	if kind == models.KindReel || platform == models.PlatformTikTok {
		return "reel"
	}
	return "post"
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func bodyText(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return "no body"
	}
	return string(body)
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
