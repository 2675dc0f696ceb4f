// Package xray produces and caches the background notes shown next to the
// currently playing track.
package xray

import (
	"context"
	"errors"
	"strings"
)

// ErrNoTrack is returned when a lookup has no track id to key on.
var ErrNoTrack = errors.New("track has no id")

// Track identifies the song to describe.
type Track struct {
	ID      string
	Name    string
	Artists []string
	Album   string

	// Tags are optional genre and mood hints passed to the generator.
	Tags []string
}

// Artist returns the artist names joined by ", ".
func (t Track) Artist() string {
	return strings.Join(t.Artists, ", ")
}

// Record is the enrichment stored per track.
type Record struct {
	Summary string   `json:"summary"`
	Facts   []string `json:"facts"`
}

// Generator produces a Record for a track.
type Generator interface {
	Describe(ctx context.Context, track Track) (Record, error)
}

// TagSource supplies community tags for a track.
type TagSource interface {
	TopTags(ctx context.Context, artist, track string) ([]string, error)
}
