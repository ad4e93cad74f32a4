// Package source fetches raw events for a time range from a calendar
// backend.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calboard/internal/model"
)

// DefaultMaxResults is the per-request event cap.
const DefaultMaxResults = 250

// Source lists the events overlapping [start, end).
type Source interface {
	// Name identifies the source in logs and status output.
	Name() string
	// RequiresCredential reports whether ListEvents needs an access token.
	RequiresCredential() bool
	ListEvents(ctx context.Context, token string, start, end time.Time) ([]model.Event, error)
}

// ErrUnauthorized is wrapped by AuthError.
var ErrUnauthorized = errors.New("unauthorized")

// AuthError means the backend rejected the access token.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: credential rejected: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() []error { return []error{ErrUnauthorized, e.Err} }

// FetchError is any other failure to list events.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch failed: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an authentication rejection.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
