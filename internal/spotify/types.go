package spotify

import "encoding/json"

// Outcome tags the result of one playback poll.
type Outcome int

const (
	// OutcomePlaying means the provider returned a playback snapshot.
	OutcomePlaying Outcome = iota + 1
	// OutcomeIdle means nothing is playing (HTTP 204).
	OutcomeIdle
	// OutcomeUnauthorized means the access token was rejected (HTTP 401).
	OutcomeUnauthorized
	// OutcomeUpstreamError covers transport failures and every other status.
	OutcomeUpstreamError
)

// String returns a lowercase name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomePlaying:
		return "playing"
	case OutcomeIdle:
		return "idle"
	case OutcomeUnauthorized:
		return "unauthorized"
	case OutcomeUpstreamError:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of FetchPlayback.
type Result struct {
	Outcome Outcome

	// Snapshot is set for OutcomePlaying.
	Snapshot *Snapshot

	// StatusCode is the provider status for OutcomeUpstreamError,
	// zero when the request never got a response.
	StatusCode int

	// Err describes OutcomeUnauthorized and OutcomeUpstreamError.
	Err error
}

// Snapshot is the provider's currently-playing document.
type Snapshot struct {
	IsPlaying  bool
	ProgressMs int64
	// DurationMs is zero when the provider sent no item.
	DurationMs int64

	TrackID   string
	TrackName string
	Artists   []string
	Album     string

	// Fields holds every top-level field of the provider document verbatim.
	Fields map[string]json.RawMessage
}

// HasTrack reports whether the snapshot identifies a track.
func (s *Snapshot) HasTrack() bool {
	return s != nil && s.TrackID != ""
}

// Profile is the subset of the user's account exposed to the browser.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// playbackDocument is the typed view of the fields the server needs.
type playbackDocument struct {
	IsPlaying  bool   `json:"is_playing"`
	ProgressMs *int64 `json:"progress_ms"`
	Item       *struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		DurationMs int64  `json:"duration_ms"`
		Artists    []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
	} `json:"item"`
}
