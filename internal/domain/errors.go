// Package domain holds the sentinel errors shared by repositories, services and
// handlers. Handlers map them to HTTP statuses through internal/apierr.
package domain

import (
	"errors"
	"fmt"
)

var (
	// Authentication / authorization
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("operation not permitted")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountExists      = errors.New("account already exists")

	// Lookup
	ErrNotFound           = errors.New("not found")
	ErrProfileNotFound    = fmt.Errorf("profile %w", ErrNotFound)
	ErrMembershipNotFound = fmt.Errorf("membership %w", ErrNotFound)
	ErrEventNotFound      = fmt.Errorf("event %w", ErrNotFound)
	ErrPostNotFound       = fmt.Errorf("blog post %w", ErrNotFound)
	ErrMessageNotFound    = fmt.Errorf("message %w", ErrNotFound)

	// Workflow
	ErrDuplicateMembership = errors.New("an active membership already exists for this pair")
	ErrInvalidTransition   = errors.New("transition not allowed from the current status")
	ErrWrongCategory       = errors.New("profile category does not fit this relationship")
	ErrConflict            = errors.New("record was modified concurrently")

	// One-time codes
	ErrCodeExpired      = errors.New("verification code expired or was never sent")
	ErrCodeMismatch     = errors.New("verification code is incorrect")
	ErrTooManyAttempts  = errors.New("too many verification attempts")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrCaptchaFailed    = errors.New("captcha verification failed")
	ErrInvalidPhone     = errors.New("invalid mobile number")
	ErrUnsupportedMedia = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file too large")
)

// ValidationError carries a user-facing message for a rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Invalid returns a *ValidationError for the given field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
