// Package generator turns planned slots into caption drafts with a single
// language-model request per call.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/models"
)

// Provider is a chat-style language model that answers with a JSON document
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator builds prompts, calls the provider and validates its answers
type Generator struct {
	provider Provider
	profile  Profile
	log      logrus.FieldLogger
}

// New creates a new generator
func New(provider Provider, profile Profile, log logrus.FieldLogger) *Generator {
	return &Generator{
		provider: provider,
		profile:  profile.withDefaults(),
		log:      log,
	}
}

// BatchContext is the batch-level information shared by all slots of a request
type BatchContext struct {
	Brand     string
	BatchName string
	Themes    []string
}

// Draft is the generated content for one slot
type Draft struct {
	Caption      string
	FirstComment string
	Hashtags     string
}

// BriefRequest describes the period a weekly brief is written for
type BriefRequest struct {
	StartDate string
	EndDate   string
	Platforms []string
	Notes     string
}

// Brief is a suggested theme list and a short writing brief
type Brief struct {
	Themes string `json:"themes"`
	Brief  string `json:"brief"`
}

type slotPayload struct {
	Index    int    `json:"index"`
	Date     string `json:"date"`
	Platform string `json:"platform"`
	Kind     string `json:"kind"`
	Theme    string `json:"theme"`
}

type postsPayload struct {
	Product       string        `json:"product"`
	Batch         string        `json:"batch"`
	Themes        []string      `json:"themes"`
	Posts         []slotPayload `json:"posts"`
	ResponseShape interface{}   `json:"responseShape"`
}

type generatedPost struct {
	Index             *int            `json:"index"`
	Caption           string          `json:"caption"`
	FirstComment      string          `json:"firstComment"`
	FirstCommentSnake string          `json:"first_comment"`
	Hashtags          json.RawMessage `json:"hashtags"`
}

var postsShape = map[string]interface{}{
	"posts": []map[string]interface{}{{
		"index":         0,
		"caption":       "Post text",
		"first_comment": "Optional first comment",
		"hashtags":      "#example #example2",
	}},
}

var briefShape = map[string]string{
	"themes": "comma separated themes or short sentences",
	"brief":  "2-4 paragraphs about the focus of the week, tone and delivery",
}

// GeneratePosts asks the model for one draft per slot. The result has the same
// length and order as slots; any missing or empty draft fails the whole call.
func (g *Generator) GeneratePosts(ctx context.Context, bc BatchContext, slots []models.Slot) ([]Draft, error) {
	if len(slots) == 0 {
		return []Draft{}, nil
	}

	brand := strings.TrimSpace(bc.Brand)
	if brand == "" {
		brand = g.profile.BrandDescription
	}
	themes := bc.Themes
	if themes == nil {
		themes = []string{}
	}

	payload := postsPayload{
		Product:       brand,
		Batch:         bc.BatchName,
		Themes:        themes,
		Posts:         make([]slotPayload, len(slots)),
		ResponseShape: postsShape,
	}
	for i, s := range slots {
		payload.Posts[i] = slotPayload{Index: i, Date: s.Date, Platform: s.Platform, Kind: s.Kind, Theme: s.Theme}
	}

	content, err := g.complete(ctx, payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Posts []generatedPost `json:"posts"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, &apperr.GenerationError{Message: "failed to parse model response", Err: err}
	}

	drafts := make([]Draft, len(slots))
	seen := make([]bool, len(slots))
	for _, p := range parsed.Posts {
		if p.Index == nil || *p.Index < 0 || *p.Index >= len(slots) {
			continue
		}
		first := p.FirstComment
		if first == "" {
			first = p.FirstCommentSnake
		}
		drafts[*p.Index] = Draft{
			Caption:      strings.TrimSpace(p.Caption),
			FirstComment: strings.TrimSpace(first),
			Hashtags:     flattenText(p.Hashtags, " "),
		}
		seen[*p.Index] = true
	}

	var missing, empty []string
	for i := range slots {
		switch {
		case !seen[i]:
			missing = append(missing, fmt.Sprint(i))
		case drafts[i].Caption == "":
			empty = append(empty, fmt.Sprint(i))
		}
	}
	if len(missing) > 0 {
		return nil, &apperr.GenerationError{Message: "model response missing posts " + strings.Join(missing, ", ")}
	}
	if len(empty) > 0 {
		return nil, &apperr.GenerationError{Message: "model returned empty captions for posts " + strings.Join(empty, ", ")}
	}

	g.log.WithFields(logrus.Fields{
		"provider": g.provider.Name(),
		"slots":    len(slots),
	}).Debug("Generated drafts")

	return drafts, nil
}

// WeeklyBrief asks the model for a theme list and a writing brief for a period
func (g *Generator) WeeklyBrief(ctx context.Context, req BriefRequest) (*Brief, error) {
	platforms := req.Platforms
	if platforms == nil {
		platforms = []string{}
	}
	payload := map[string]interface{}{
		"task":          "Suggest content themes for the given week and a short brief for writing the posts.",
		"period":        map[string]string{"startDate": req.StartDate, "endDate": req.EndDate},
		"platforms":     platforms,
		"notes":         req.Notes,
		"product":       g.profile.BrandDescription,
		"responseShape": briefShape,
	}

	content, err := g.complete(ctx, payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Themes json.RawMessage `json:"themes"`
		Brief  string          `json:"brief"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return nil, &apperr.GenerationError{Message: "failed to parse model response", Err: err}
	}

	brief := &Brief{
		Themes: flattenText(parsed.Themes, ", "),
		Brief:  strings.TrimSpace(parsed.Brief),
	}
	if brief.Themes == "" || brief.Brief == "" {
		return nil, &apperr.GenerationError{Message: "model response missing themes or brief"}
	}
	return brief, nil
}

func (g *Generator) complete(ctx context.Context, payload interface{}) (string, error) {
	user, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt payload: %w", err)
	}

	content, err := g.provider.Complete(ctx, g.profile.SystemPrompt, string(user))
	if err != nil {
		var genErr *apperr.GenerationError
		if errors.As(err, &genErr) {
			return "", err
		}
		return "", &apperr.GenerationError{Message: g.provider.Name() + " request failed", Err: err}
	}
	if strings.TrimSpace(content) == "" {
		return "", &apperr.GenerationError{Message: g.provider.Name() + " returned empty content"}
	}
	return content, nil
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// extractJSON strips a markdown code fence or surrounding prose from a JSON object
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

// flattenText accepts either a JSON string or an array of strings
func flattenText(raw json.RawMessage, sep string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				parts = append(parts, item)
			}
		}
		return strings.Join(parts, sep)
	}
	return ""
}

// SplitThemes parses a stored comma separated theme list
func SplitThemes(themes string) []string {
	out := []string{}
	for _, t := range strings.Split(themes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ThemeForDay rotates through themes by day index
func ThemeForDay(themes []string, day int) string {
	if len(themes) == 0 {
		return ""
	}
	return themes[day%len(themes)]
}
