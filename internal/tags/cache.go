// Package tags caches listener tags for tracks in the shared store.
package tags

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotify-xray/internal/logging"
	"github.com/justestif/spotify-xray/internal/store"
)

// Fetcher looks up tags from the upstream tag service.
type Fetcher interface {
	TopTags(ctx context.Context, artist, track string) ([]string, error)
}

// CachedSource wraps a Fetcher with store persistence. It checks the store
// first and falls back to the fetcher on a miss, persisting non-empty results.
type CachedSource struct {
	store   store.Store
	fetcher Fetcher
	ttl     time.Duration
	logger  *log.Logger
}

// Option configures a CachedSource.
type Option func(*CachedSource)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *CachedSource) {
		c.logger = logger
	}
}

// WithTTL overrides store.TrackTagsTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *CachedSource) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCachedSource creates a CachedSource.
func NewCachedSource(st store.Store, fetcher Fetcher, opts ...Option) *CachedSource {
	c := &CachedSource{
		store:   st,
		fetcher: fetcher,
		ttl:     store.TrackTagsTTL,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "tags")
	return c
}

// TopTags returns tags for a track, using the store when available.
func (c *CachedSource) TopTags(ctx context.Context, artist, track string) ([]string, error) {
	key := store.TrackTagsKey(artist, track)

	if tags, ok := c.cached(ctx, key); ok {
		return tags, nil
	}

	tags, err := c.fetcher.TopTags(ctx, artist, track)
	if err != nil {
		return nil, err
	}

	// Empty results are not persisted.
	if len(tags) == 0 {
		return tags, nil
	}

	data, err := json.Marshal(tags)
	if err != nil {
		return tags, nil
	}
	if err := c.store.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Warn("caching tags", "artist", artist, "track", track, "err", err)
	}
	return tags, nil
}

func (c *CachedSource) cached(ctx context.Context, key string) ([]string, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || len(tags) == 0 {
		return nil, false
	}
	return tags, true
}
