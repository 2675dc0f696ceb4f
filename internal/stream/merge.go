package stream

import (
	"encoding/json"
	"time"

	"github.com/justestif/spotify-xray/internal/spotify"
	"github.com/justestif/spotify-xray/internal/xray"
)

// Delay bounds for polling.
const (
	DefaultDelay = 5 * time.Second
	MinDelay     = 5 * time.Second
)

// Enrichment field names added to playing payloads.
const (
	FieldSummary = "summary"
	FieldFacts   = "facts"
)

// idlePayload is sent while nothing is playing.
var idlePayload = map[string]any{
	"is_playing": false,
	"message":    "No track is currently playing",
}

// Merge combines provider playback fields with an enrichment record into one
// payload. Playback fields always win: an enrichment field is only added when
// the snapshot has no field of the same name. A nil record adds nothing.
func Merge(fields map[string]json.RawMessage, rec *xray.Record) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	if rec == nil {
		return out
	}

	facts := rec.Facts
	if facts == nil {
		facts = []string{}
	}
	addIfAbsent(out, FieldSummary, rec.Summary)
	addIfAbsent(out, FieldFacts, facts)
	return out
}

func addIfAbsent(out map[string]json.RawMessage, key string, v any) {
	if _, ok := out[key]; ok {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	out[key] = raw
}

// NextDelay returns the wait before the next poll: a tenth of the time left
// in the track, floored at MinDelay. Snapshots that are not playing, lack a
// duration, or report progress past the end use DefaultDelay.
func NextDelay(s *spotify.Snapshot) time.Duration {
	return nextDelay(s, MinDelay, DefaultDelay)
}

func nextDelay(s *spotify.Snapshot, minDelay, defaultDelay time.Duration) time.Duration {
	if s == nil || !s.IsPlaying || s.DurationMs <= 0 {
		return defaultDelay
	}
	remaining := s.DurationMs - s.ProgressMs
	if remaining < 0 {
		return defaultDelay
	}
	return max(minDelay, time.Duration(remaining)*time.Millisecond/10)
}

// trackOf converts a snapshot to the enrichment key and hints.
func trackOf(s *spotify.Snapshot) xray.Track {
	return xray.Track{
		ID:      s.TrackID,
		Name:    s.TrackName,
		Artists: s.Artists,
		Album:   s.Album,
	}
}
