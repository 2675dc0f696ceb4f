// Package auth brokers the Spotify OAuth2 authorization code flow and owns
// the tokens of every session. Raw tokens never leave this package except
// to the upstream API callers that need them server-side.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/justestif/spotify-xray/internal/logging"
	"github.com/justestif/spotify-xray/internal/store"
)

// Config holds the OAuth client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthURL and TokenURL default to Spotify's accounts service.
	AuthURL  string
	TokenURL string
}

// DefaultRefreshTimeout bounds a single upstream refresh.
const DefaultRefreshTimeout = 15 * time.Second

// Broker handles authorization, code exchange and token refresh.
type Broker struct {
	oauth          *oauth2.Config
	store          store.Store
	httpClient     *http.Client
	logger         *log.Logger
	now            func() time.Time
	refreshes      singleflight.Group
	refreshTimeout time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Broker) {
		b.httpClient = client
	}
}

// New creates a Broker storing session tokens in st.
// Returns ErrMissingCredentials if the client id or secret is empty.
func New(cfg Config, st store.Store, opts ...Option) (*Broker, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = spotifyauth.AuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}

	b := &Broker{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{spotifyauth.ScopeUserReadCurrentlyPlaying},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		store:          st,
		logger:         logging.Discard(),
		now:            time.Now,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "auth")

	return b, nil
}

// BeginAuthorization mints a CSRF state token and returns the provider's
// authorization URL carrying it.
func (b *Broker) BeginAuthorization(ctx context.Context) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	created := strconv.FormatInt(b.now().Unix(), 10)
	if err := b.store.Set(ctx, store.StateKey(state), created, store.StateTTL); err != nil {
		return "", fmt.Errorf("storing state: %w", err)
	}

	return b.oauth.AuthCodeURL(state), nil
}

// CompleteAuthorization redeems state, exchanges code for a token pair and
// creates a session. It returns the new session id, never the tokens.
func (b *Broker) CompleteAuthorization(ctx context.Context, code, state string) (string, error) {
	if state == "" {
		return "", ErrStateMismatch
	}

	if _, err := b.store.Take(ctx, store.StateKey(state)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("state not recognized, possible CSRF or expired flow")
			return "", ErrStateMismatch
		}
		return "", fmt.Errorf("redeeming state: %w", err)
	}

	token, err := b.oauth.Exchange(b.clientContext(ctx), code)
	if err != nil {
		b.logger.Error("code exchange rejected", "err", err)
		return "", fmt.Errorf("%w: %w", ErrUpstreamAuth, err)
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return "", fmt.Errorf("%w: response missing access or refresh token", ErrUpstreamAuth)
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}

	if err := b.store.Set(ctx, store.AccessTokenKey(sessionID), token.AccessToken, store.AccessTokenTTL); err != nil {
		return "", fmt.Errorf("storing access token: %w", err)
	}
	if err := b.store.Set(ctx, store.RefreshTokenKey(sessionID), token.RefreshToken, store.RefreshTokenTTL); err != nil {
		_ = b.store.Delete(ctx, store.AccessTokenKey(sessionID))
		return "", fmt.Errorf("storing refresh token: %w", err)
	}

	b.logger.Info("session created", "session", ShortID(sessionID))
	return sessionID, nil
}

// RefreshAccessToken exchanges the session's refresh token for a new access
// token, stores it and returns it. Concurrent refreshes of one session share
// a single upstream call. Returning because ctx is done does not cancel a
// refresh other callers may be waiting on.
func (b *Broker) RefreshAccessToken(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	ch := b.refreshes.DoChan(sessionID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.refreshTimeout)
		defer cancel()
		return b.refresh(refreshCtx, sessionID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (b *Broker) refresh(ctx context.Context, sessionID string) (string, error) {
	logger := b.logger.With("session", ShortID(sessionID))

	refreshToken, err := b.store.Get(ctx, store.RefreshTokenKey(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading refresh token: %w", err)
	}

	// A token with no access token and no expiry is always refreshed.
	src := b.oauth.TokenSource(b.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		if rejected(err) {
			_ = b.store.Delete(ctx, store.RefreshTokenKey(sessionID))
			logger.Warn("refresh token rejected, session is dead", "err", err)
			return "", fmt.Errorf("%w: %w: %w", ErrRefreshFailed, ErrRefreshRejected, err)
		}
		logger.Error("refresh failed", "err", err)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: response missing access token", ErrRefreshFailed)
	}

	if err := b.store.Set(ctx, store.AccessTokenKey(sessionID), token.AccessToken, store.AccessTokenTTL); err != nil {
		return "", fmt.Errorf("storing access token: %w", err)
	}

	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		if err := b.store.Set(ctx, store.RefreshTokenKey(sessionID), token.RefreshToken, store.RefreshTokenTTL); err != nil {
			logger.Error("storing rotated refresh token", "err", err)
		} else {
			logger.Debug("refresh token rotated")
		}
	}

	logger.Info("access token refreshed")
	return token.AccessToken, nil
}

// AccessToken returns the session's current access token.
// Returns ErrAccessExpired when the token is gone; the caller decides
// whether to refresh.
func (b *Broker) AccessToken(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrSessionNotFound
	}

	token, err := b.store.Get(ctx, store.AccessTokenKey(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrAccessExpired
	}
	if err != nil {
		return "", fmt.Errorf("loading access token: %w", err)
	}
	return token, nil
}

// State reports where the session is in its lifecycle.
func (b *Broker) State(ctx context.Context, sessionID string) (SessionState, error) {
	if sessionID == "" {
		return StateUnauthenticated, nil
	}

	_, err := b.store.Get(ctx, store.AccessTokenKey(sessionID))
	switch {
	case err == nil:
		return StateActive, nil
	case !errors.Is(err, store.ErrNotFound):
		return StateDead, fmt.Errorf("loading access token: %w", err)
	}

	_, err = b.store.Get(ctx, store.RefreshTokenKey(sessionID))
	switch {
	case err == nil:
		return StateAccessExpired, nil
	case errors.Is(err, store.ErrNotFound):
		return StateDead, nil
	default:
		return StateDead, fmt.Errorf("loading refresh token: %w", err)
	}
}

// Logout removes both tokens of the session.
func (b *Broker) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	errAccess := b.store.Delete(ctx, store.AccessTokenKey(sessionID))
	errRefresh := b.store.Delete(ctx, store.RefreshTokenKey(sessionID))
	if err := errors.Join(errAccess, errRefresh); err != nil {
		return fmt.Errorf("deleting session tokens: %w", err)
	}

	b.logger.Info("session logged out", "session", ShortID(sessionID))
	return nil
}

// clientContext attaches the configured HTTP client for the oauth2 package.
func (b *Broker) clientContext(ctx context.Context) context.Context {
	if b.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

// rejected reports whether the token endpoint answered with a client error,
// as opposed to a transport failure or a provider outage.
func rejected(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) || rErr.Response == nil {
		return false
	}
	return rErr.Response.StatusCode >= 400 && rErr.Response.StatusCode < 500
}
