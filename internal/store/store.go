// Package store persists small pieces of dashboard state (credential,
// last automatic attempt, preferred view) across restarts.
package store

import "context"

// Keys used by the dashboard.
const (
	KeyToken           = "calendar.token"
	KeyExpiresAt       = "calendar.expires_at"
	KeyCreatedAt       = "calendar.created_at"
	KeyLastAutoAttempt = "calendar.last_auto_attempt"
	KeyViewMode        = "calendar.view_mode"
	KeyRefreshToken    = "calendar.refresh_token"
)

// KeyValueStore is durable string storage. A missing key is reported with
// ok=false and a nil error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
