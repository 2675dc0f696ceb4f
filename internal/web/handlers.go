package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotify-xray/internal/auth"
	"github.com/justestif/spotify-xray/internal/spotify"
	"github.com/justestif/spotify-xray/internal/stream"
)

// Broker is the session and token API the handlers need.
type Broker interface {
	BeginAuthorization(ctx context.Context) (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (string, error)
	RefreshAccessToken(ctx context.Context, sessionID string) (string, error)
	AccessToken(ctx context.Context, sessionID string) (string, error)
	State(ctx context.Context, sessionID string) (auth.SessionState, error)
	Logout(ctx context.Context, sessionID string) error
}

// Streamer produces the event stream for a session.
type Streamer interface {
	Run(ctx context.Context, sessionID string, emit stream.EmitFunc) error
}

// ProfileFetcher looks up the signed-in user.
type ProfileFetcher interface {
	Profile(ctx context.Context, accessToken string) (*spotify.Profile, error)
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	broker        Broker
	streamer      Streamer
	profiles      ProfileFetcher
	templates     *Templates
	logger        *log.Logger
	secureCookies bool
	started       time.Time
	now           func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(broker Broker, streamer Streamer, profiles ProfileFetcher, templates *Templates, logger *log.Logger, secureCookies bool) *Handlers {
	return &Handlers{
		broker:        broker,
		streamer:      streamer,
		profiles:      profiles,
		templates:     templates,
		logger:        logger.With("component", "web"),
		secureCookies: secureCookies,
		started:       time.Now(),
		now:           time.Now,
	}
}

// Home handles the home page (GET /).
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	state, err := h.broker.State(r.Context(), sessionIDFromRequest(r))
	if err != nil {
		h.logger.Error("loading session state", "err", err)
	}

	data := HomePageData{
		PageData: PageData{
			Title:       "Spotify X-Ray",
			CurrentPath: r.URL.Path,
		},
		Authenticated: state == auth.StateActive || state == auth.StateAccessExpired,
		SessionState:  state.String(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.Render(w, "home", data); err != nil {
		h.logger.Error("rendering home", "err", err)
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
		return
	}
}

// Authorize starts the Spotify OAuth flow (GET /authorize).
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	url, err := h.broker.BeginAuthorization(r.Context())
	if err != nil {
		h.logger.Error("beginning authorization", "err", err)
		http.Error(w, "Failed to start authorization", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback handles the OAuth callback from Spotify (GET /callback).
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Check for error from Spotify
	if errMsg := q.Get("error"); errMsg != "" {
		http.Error(w, fmt.Sprintf("Spotify auth error: %s", errMsg), http.StatusBadRequest)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state", http.StatusBadRequest)
		return
	}

	sessionID, err := h.broker.CompleteAuthorization(r.Context(), code, state)
	switch {
	case errors.Is(err, auth.ErrStateMismatch):
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	case errors.Is(err, auth.ErrUpstreamAuth):
		http.Error(w, "Failed to get token", http.StatusInternalServerError)
		return
	case err != nil:
		h.logger.Error("completing authorization", "err", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	setSessionCookie(w, sessionID, h.secureCookies)
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

// RefreshToken forces a token refresh for the session (GET /refresh_token).
// The response carries only the outcome, never the token.
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		writeJSON(w, http.StatusUnauthorized, statusResponse{Status: "error", Error: "no session"})
		return
	}

	if _, err := h.broker.RefreshAccessToken(r.Context(), sessionID); err != nil {
		status, msg := authFailure(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("refreshing token", "session", auth.ShortID(sessionID), "err", err)
		}
		writeJSON(w, status, statusResponse{Status: "error", Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// Xray streams playback and enrichment events (GET /xray). The stream
// ends only when the client disconnects or the server shuts down.
func (h *Handlers) Xray(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Error("streaming unsupported", "err", err)
		return
	}

	emit := func(ev stream.Event) error {
		if _, err := ev.WriteTo(w); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := h.streamer.Run(r.Context(), sessionIDFromRequest(r), emit); err != nil {
		h.logger.Debug("stream ended", "err", err)
	}
}

// Logout clears the session and redirects to home (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := sessionIDFromRequest(r); sessionID != "" {
		if err := h.broker.Logout(r.Context(), sessionID); err != nil {
			h.logger.Error("logging out", "session", auth.ShortID(sessionID), "err", err)
		}
	}

	clearSessionCookie(w, h.secureCookies)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Me returns the signed-in user's profile (GET /me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		writeJSON(w, http.StatusUnauthorized, statusResponse{Status: "error", Error: "no session"})
		return
	}

	refreshed := false
	token, err := h.broker.AccessToken(ctx, sessionID)
	if errors.Is(err, auth.ErrAccessExpired) {
		token, err = h.broker.RefreshAccessToken(ctx, sessionID)
		refreshed = true
	}
	if err != nil {
		status, msg := authFailure(err)
		writeJSON(w, status, statusResponse{Status: "error", Error: msg})
		return
	}

	profile, err := h.profiles.Profile(ctx, token)
	if errors.Is(err, spotify.ErrUnauthorized) && !refreshed {
		token, err = h.broker.RefreshAccessToken(ctx, sessionID)
		if err == nil {
			profile, err = h.profiles.Profile(ctx, token)
		}
	}
	switch {
	case errors.Is(err, spotify.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, statusResponse{Status: "error", Error: "access token rejected"})
		return
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrRefreshFailed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, msg := authFailure(err)
		writeJSON(w, status, statusResponse{Status: "error", Error: msg})
		return
	case err != nil:
		h.logger.Error("fetching profile", "session", auth.ShortID(sessionID), "err", err)
		writeJSON(w, http.StatusBadGateway, statusResponse{Status: "error", Error: "failed to fetch profile"})
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// Session reports the lifecycle state of the caller's session (GET /session).
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	state, err := h.broker.State(r.Context(), sessionIDFromRequest(r))
	if err != nil {
		h.logger.Error("loading session state", "err", err)
		writeJSON(w, http.StatusInternalServerError, statusResponse{Status: "error", Error: "failed to load session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

// Livez reports process uptime in seconds (GET /livez).
func (h *Handlers) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"uptime": h.now().Sub(h.started).Seconds()})
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// authFailure maps broker errors to an HTTP status and client message.
// Only a session that can no longer be refreshed is a 401.
func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusUnauthorized, "session not found"
	case errors.Is(err, auth.ErrRefreshRejected):
		return http.StatusUnauthorized, "refresh token rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "token refresh timed out"
	case errors.Is(err, auth.ErrRefreshFailed):
		return http.StatusBadGateway, "refresh failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
