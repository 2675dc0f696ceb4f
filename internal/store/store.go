// Package store defines the credential store shared by every server instance:
// a string key-value store with per-key expiry.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// Entry lifetimes.
const (
	StateTTL        = 300 * time.Second
	AccessTokenTTL  = 3600 * time.Second
	RefreshTokenTTL = 30 * 24 * time.Hour
	SongInfoTTL     = 24 * time.Hour
	TrackTagsTTL    = 30 * 24 * time.Hour
)

// Store is a key-value store with per-key expiry.
// Implementations must be safe for concurrent use. Each operation touches a
// single key and is atomic at the store level.
type Store interface {
	// Get returns the value for key, or ErrNotFound if it is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any existing value and expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Take atomically returns and removes the value for key. Of several
	// concurrent callers at most one observes the value; the others get
	// ErrNotFound.
	Take(ctx context.Context, key string) (string, error)

	// Close releases any resources held by the store.
	Close() error
}

// StateKey returns the key holding a pending CSRF state token.
func StateKey(state string) string {
	return "state:" + state
}

// AccessTokenKey returns the key holding a session's access token.
func AccessTokenKey(sessionID string) string {
	return "access_token:" + sessionID
}

// RefreshTokenKey returns the key holding a session's refresh token.
func RefreshTokenKey(sessionID string) string {
	return "refresh_token:" + sessionID
}

// SongInfoKey returns the key holding the enrichment record for a track.
func SongInfoKey(trackID string) string {
	return "song_info:" + trackID
}

// TrackTagsKey returns the key holding listener tags for an artist and
// track name pair. Names are matched case-insensitively.
func TrackTagsKey(artist, track string) string {
	return "track_tags:" + strings.ToLower(artist) + "|" + strings.ToLower(track)
}
