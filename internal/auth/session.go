package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var (
	// ErrMissingCredentials is returned when the client id or secret is not configured.
	ErrMissingCredentials = errors.New("missing Spotify client id or client secret")

	// ErrStateMismatch is returned when the OAuth state is unknown, expired or already redeemed.
	ErrStateMismatch = errors.New("OAuth state mismatch")

	// ErrUpstreamAuth is returned when the provider rejects the code exchange
	// or its response omits a token.
	ErrUpstreamAuth = errors.New("authorization code exchange failed")

	// ErrRefreshFailed is returned when the provider rejects a refresh or
	// its response omits the new access token.
	ErrRefreshFailed = errors.New("access token refresh failed")

	// ErrRefreshRejected is returned alongside ErrRefreshFailed when the
	// provider refuses the refresh token itself. The session is dead.
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrSessionNotFound is returned when a session has no refresh token,
	// either because it never existed or because it expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAccessExpired is returned when a live session has no current access token.
	ErrAccessExpired = errors.New("access token expired")
)

// SessionState is the lifecycle position of a session.
type SessionState int

const (
	// StateUnauthenticated means no session identifier was presented.
	StateUnauthenticated SessionState = iota
	// StateActive means the session holds a live access token.
	StateActive
	// StateAccessExpired means only the refresh token remains.
	StateAccessExpired
	// StateDead means both tokens are gone; authorization must restart.
	StateDead
)

// String returns the wire name of the state.
func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateActive:
		return "active"
	case StateAccessExpired:
		return "access_expired"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// generateState creates a random state string for OAuth.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateSessionID creates a cryptographically random session ID.
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ShortID truncates a session id for log output.
func ShortID(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}
