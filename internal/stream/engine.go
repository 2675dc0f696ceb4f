// Package stream runs the per-connection polling loop that turns playback
// snapshots into server-sent events.
package stream

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotify-xray/internal/auth"
	"github.com/justestif/spotify-xray/internal/logging"
	"github.com/justestif/spotify-xray/internal/spotify"
	"github.com/justestif/spotify-xray/internal/xray"
)

// Tokens resolves and refreshes a session's access token.
type Tokens interface {
	AccessToken(ctx context.Context, sessionID string) (string, error)
	RefreshAccessToken(ctx context.Context, sessionID string) (string, error)
}

// Poller fetches the current playback state.
type Poller interface {
	FetchPlayback(ctx context.Context, accessToken string) spotify.Result
}

// Enricher returns the enrichment record for a track.
type Enricher interface {
	Lookup(ctx context.Context, track xray.Track) (xray.Record, error)
}

// EmitFunc delivers one event to the client. A non-nil error means the
// client is gone.
type EmitFunc func(Event) error

// Engine produces the event stream for one session at a time; a single
// Engine is shared by all connections.
type Engine struct {
	tokens       Tokens
	poller       Poller
	enricher     Enricher
	logger       *log.Logger
	defaultDelay time.Duration
	minDelay     time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEnricher enables enrichment of playing tracks.
func WithEnricher(enricher Enricher) Option {
	return func(e *Engine) {
		e.enricher = enricher
	}
}

// WithDefaultDelay overrides DefaultDelay.
func WithDefaultDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultDelay = d
		}
	}
}

// WithMinDelay overrides MinDelay.
func WithMinDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.minDelay = d
		}
	}
}

// WithSleep replaces the pacing sleep. fn must return ctx.Err() once ctx is done.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// NewEngine creates an Engine.
func NewEngine(tokens Tokens, poller Poller, opts ...Option) *Engine {
	e := &Engine{
		tokens:       tokens,
		poller:       poller,
		logger:       logging.Discard(),
		defaultDelay: DefaultDelay,
		minDelay:     MinDelay,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "stream")
	return e
}

// streamState carries signals between cycles of one stream.
type streamState struct {
	refreshFirst bool
	cycles       int
}

// Run polls on behalf of sessionID and emits events until ctx is done,
// returning nil, or emit fails, returning its error. Cycle errors never end
// the stream; each cycle ends with exactly one pacing sleep.
func (e *Engine) Run(ctx context.Context, sessionID string, emit EmitFunc) error {
	logger := e.logger.With("session", auth.ShortID(sessionID), "stream", logging.ConnectionID())
	logger.Info("stream opened")
	defer logger.Info("stream closed")

	st := &streamState{}
	for {
		if ctx.Err() != nil {
			return nil
		}

		delay, err := e.cycle(ctx, logger, sessionID, st, emit)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Debug("client gone", "err", err)
			return err
		}

		logger.Debug("cycle complete", "cycle", st.cycles, "next", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// cycle performs one poll and returns the delay before the next one.
// The only error it returns is a failed emit.
func (e *Engine) cycle(ctx context.Context, logger *log.Logger, sessionID string, st *streamState, emit EmitFunc) (delay time.Duration, emitErr error) {
	st.cycles++
	delay = e.defaultDelay

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in stream cycle", "panic", r, "stack", string(debug.Stack()))
			delay = e.defaultDelay
			emitErr = e.send(ctx, emit, ErrorEvent(http.StatusInternalServerError, "internal error"))
		}
	}()

	token, refreshed, err := e.resolveToken(ctx, sessionID, st)
	if err != nil {
		logger.Warn("no usable access token", "err", err)
		return delay, e.send(ctx, emit, authErrorEvent(err))
	}

	res := e.poller.FetchPlayback(ctx, token)
	if res.Outcome == spotify.OutcomeUnauthorized {
		if refreshed {
			// Already refreshed this cycle; try again first thing next cycle.
			st.refreshFirst = true
			return delay, e.send(ctx, emit, ErrorEvent(http.StatusUnauthorized, "access token rejected"))
		}

		logger.Debug("access token rejected, refreshing")
		token, err = e.tokens.RefreshAccessToken(ctx, sessionID)
		if err != nil {
			logger.Warn("refresh after 401 failed", "err", err)
			return delay, e.send(ctx, emit, authErrorEvent(err))
		}

		res = e.poller.FetchPlayback(ctx, token)
		if res.Outcome == spotify.OutcomeUnauthorized {
			st.refreshFirst = true
			return delay, e.send(ctx, emit, ErrorEvent(http.StatusUnauthorized, "access token rejected"))
		}
	}

	switch res.Outcome {
	case spotify.OutcomeIdle:
		ev, err := DataEvent(idlePayload)
		if err != nil {
			return delay, e.send(ctx, emit, ErrorEvent(http.StatusInternalServerError, err.Error()))
		}
		return delay, e.send(ctx, emit, ev)

	case spotify.OutcomePlaying:
		return e.playing(ctx, logger, res.Snapshot, emit)

	default:
		if ctx.Err() != nil {
			return delay, nil
		}
		status := res.StatusCode
		if status == 0 || status < 400 {
			status = http.StatusBadGateway
		}
		logger.Warn("playback poll failed", "status", res.StatusCode, "err", res.Err)
		return delay, e.send(ctx, emit, ErrorEvent(status, "failed to fetch playback"))
	}
}

// playing emits the merged payload for a playing snapshot and computes the
// adaptive delay. Any failure falls back to the default delay.
func (e *Engine) playing(ctx context.Context, logger *log.Logger, snap *spotify.Snapshot, emit EmitFunc) (time.Duration, error) {
	if snap == nil {
		return e.defaultDelay, e.send(ctx, emit, ErrorEvent(http.StatusBadGateway, "empty playback snapshot"))
	}

	var rec *xray.Record
	if e.enricher != nil && snap.IsPlaying && snap.HasTrack() {
		r, err := e.enricher.Lookup(ctx, trackOf(snap))
		if err != nil {
			if ctx.Err() != nil {
				return e.defaultDelay, nil
			}
			logger.Warn("enrichment failed", "track", snap.TrackID, "err", err)
			return e.defaultDelay, e.send(ctx, emit, ErrorEvent(http.StatusInternalServerError, "failed to enrich track"))
		}
		rec = &r
	}

	ev, err := DataEvent(Merge(snap.Fields, rec))
	if err != nil {
		return e.defaultDelay, e.send(ctx, emit, ErrorEvent(http.StatusInternalServerError, err.Error()))
	}
	if err := e.send(ctx, emit, ev); err != nil {
		return e.defaultDelay, err
	}

	return nextDelay(snap, e.minDelay, e.defaultDelay), nil
}

// resolveToken returns the access token to poll with, refreshing at most
// once. The bool reports whether a refresh happened.
func (e *Engine) resolveToken(ctx context.Context, sessionID string, st *streamState) (string, bool, error) {
	if st.refreshFirst {
		st.refreshFirst = false
		token, err := e.tokens.RefreshAccessToken(ctx, sessionID)
		return token, true, err
	}

	token, err := e.tokens.AccessToken(ctx, sessionID)
	if errors.Is(err, auth.ErrAccessExpired) {
		token, err = e.tokens.RefreshAccessToken(ctx, sessionID)
		return token, true, err
	}
	return token, false, err
}

// send emits ev unless the stream is already cancelled.
func (e *Engine) send(ctx context.Context, emit EmitFunc, ev Event) error {
	if ctx.Err() != nil {
		return nil
	}
	return emit(ev)
}

// authErrorEvent maps a token failure to an error event. Only sessions that
// can no longer be refreshed surface as 401.
func authErrorEvent(err error) Event {
	switch {
	case errors.Is(err, auth.ErrSessionNotFound):
		return ErrorEvent(http.StatusUnauthorized, "session not found, please log in again")
	case errors.Is(err, auth.ErrRefreshRejected):
		return ErrorEvent(http.StatusUnauthorized, "session expired, please log in again")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorEvent(http.StatusServiceUnavailable, "token refresh timed out, retrying")
	case errors.Is(err, auth.ErrRefreshFailed):
		return ErrorEvent(http.StatusBadGateway, "token refresh failed, retrying")
	default:
		return ErrorEvent(http.StatusInternalServerError, "failed to load session")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
