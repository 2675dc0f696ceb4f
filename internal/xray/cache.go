package xray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/justestif/spotify-xray/internal/logging"
	"github.com/justestif/spotify-xray/internal/store"
)

// DefaultGenerateTimeout bounds one generation, independent of the
// caller that started it.
const DefaultGenerateTimeout = 45 * time.Second

// CachedEnricher looks up track records in the store first and falls back to
// the generator on a miss, persisting new results. At most one generation
// per track id is in flight; concurrent lookups share its result.
type CachedEnricher struct {
	store   store.Store
	gen     Generator
	tags    TagSource
	ttl     time.Duration
	timeout time.Duration
	logger  *log.Logger
	group   singleflight.Group
}

// Option configures a CachedEnricher.
type Option func(*CachedEnricher)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *CachedEnricher) {
		e.logger = logger
	}
}

// WithTagSource adds tag hints to generation requests.
func WithTagSource(src TagSource) Option {
	return func(e *CachedEnricher) {
		e.tags = src
	}
}

// WithTTL overrides how long records are cached.
func WithTTL(ttl time.Duration) Option {
	return func(e *CachedEnricher) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithGenerateTimeout overrides DefaultGenerateTimeout.
func WithGenerateTimeout(d time.Duration) Option {
	return func(e *CachedEnricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewCachedEnricher wraps gen with store-backed caching.
func NewCachedEnricher(st store.Store, gen Generator, opts ...Option) *CachedEnricher {
	e := &CachedEnricher{
		store:   st,
		gen:     gen,
		ttl:     store.SongInfoTTL,
		timeout: DefaultGenerateTimeout,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "xray")
	return e
}

// Lookup returns the record for track, generating and caching it on a miss.
// Returning because ctx is done does not cancel a generation other callers
// may be waiting on.
func (e *CachedEnricher) Lookup(ctx context.Context, track Track) (Record, error) {
	if track.ID == "" {
		return Record{}, ErrNoTrack
	}

	key := store.SongInfoKey(track.ID)
	if rec, ok := e.cached(ctx, key); ok {
		return rec, nil
	}

	ch := e.group.DoChan(track.ID, func() (any, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.generate(genCtx, key, track)
	})

	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	}
}

func (e *CachedEnricher) generate(ctx context.Context, key string, track Track) (Record, error) {
	logger := e.logger.With("track", track.ID)

	// Another caller may have filled the cache between our miss and this flight.
	if rec, ok := e.cached(ctx, key); ok {
		return rec, nil
	}

	if e.tags != nil && len(track.Tags) == 0 && len(track.Artists) > 0 {
		tags, err := e.tags.TopTags(ctx, track.Artists[0], track.Name)
		if err != nil {
			logger.Warn("tag lookup failed, describing without tags", "err", err)
		} else {
			track.Tags = tags
		}
	}

	start := time.Now()
	rec, err := e.gen.Describe(ctx, track)
	if err != nil {
		return Record{}, fmt.Errorf("describing track %s: %w", track.ID, err)
	}
	if rec.Facts == nil {
		rec.Facts = []string{}
	}
	logger.Debug("generated record", "facts", len(rec.Facts), "took", time.Since(start))

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("encoding record: %w", err)
	}
	if err := e.store.Set(ctx, key, string(data), e.ttl); err != nil {
		logger.Warn("caching record failed", "err", err)
	}

	// Return what a later hit will decode, not the generator's value.
	var stored Record
	if err := json.Unmarshal(data, &stored); err != nil {
		return Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return stored, nil
}

// cached reads and decodes a stored record. Store errors and undecodable
// entries are treated as misses.
func (e *CachedEnricher) cached(ctx context.Context, key string) (Record, bool) {
	raw, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("reading cached record failed", "err", err)
		}
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		e.logger.Warn("discarding undecodable cached record", "key", key, "err", err)
		return Record{}, false
	}
	if rec.Facts == nil {
		rec.Facts = []string{}
	}
	return rec, true
}
