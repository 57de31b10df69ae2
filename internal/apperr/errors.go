// Package apperr defines the error taxonomy shared by the planner components
// and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports malformed or missing input
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError from a format string
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown batch, post or account id
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

// NotFound builds a NotFoundError
func NotFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// MissingAccountError lists every requested platform without a connected account
type MissingAccountError struct {
	Platforms []string
}

func (e *MissingAccountError) Error() string {
	return "no connected accounts for platforms: " + strings.Join(e.Platforms, ", ")
}

// GenerationError reports a failed or unparsable language-model call
type GenerationError struct {
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *GenerationError) Error() string {
	msg := "generation failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d: %s)", e.StatusCode, e.Body)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// publicMessage omits the upstream body and the wrapped cause
func (e *GenerationError) publicMessage() string {
	msg := "generation failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg
}

// DispatchError reports a rejected post creation at the scheduling provider
type DispatchError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scheduling API returned status %d: %s", e.StatusCode, e.Body)
	}
	return e.Message
}

// UploadError reports a rejected media upload at the scheduling provider
type UploadError struct {
	StatusCode int
	Body       string
	Message    string
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("media upload failed with status %d: %s", e.StatusCode, e.Body)
	}
	return "media upload failed: " + e.Message
}

func (e *UploadError) publicMessage() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("media upload failed with status %d", e.StatusCode)
	}
	return "media upload failed"
}

// HTTPStatus maps an error onto the status code surfaced to API clients
func HTTPStatus(err error) int {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		missing    *MissingAccountError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &missing):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that is safe to show to API clients.
// Upstream response bodies are left out and unclassified errors collapse to
// a generic message.
func PublicMessage(err error, fallback string) string {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		missing    *MissingAccountError
		generation *GenerationError
		upload     *UploadError
	)
	switch {
	case errors.As(err, &validation):
		return validation.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &missing):
		return missing.Error()
	case errors.As(err, &generation):
		return generation.publicMessage()
	case errors.As(err, &upload):
		return upload.publicMessage()
	default:
		return fallback
	}
}
