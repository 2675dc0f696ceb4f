package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxBodySize bounds how much of a playback response is read.
const maxBodySize = 1 << 20

// FetchPlayback asks the provider what the user is playing. It never
// returns a Go error; every failure is folded into the Result.
func (c *Client) FetchPlayback(ctx context.Context, accessToken string) Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return upstreamError(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me/player/currently-playing", nil)
	if err != nil {
		return upstreamError(0, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return upstreamError(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return upstreamError(resp.StatusCode, fmt.Errorf("reading response: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusOK:
		snapshot, err := decodeSnapshot(body)
		if err != nil {
			return upstreamError(resp.StatusCode, err)
		}
		return Result{Outcome: OutcomePlaying, Snapshot: snapshot}
	case http.StatusNoContent:
		return Result{Outcome: OutcomeIdle}
	case http.StatusUnauthorized:
		return Result{Outcome: OutcomeUnauthorized, Err: ErrUnauthorized}
	default:
		return upstreamError(resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}
}

func upstreamError(status int, err error) Result {
	return Result{
		Outcome:    OutcomeUpstreamError,
		StatusCode: status,
		Err:        fmt.Errorf("%w: %w", ErrUpstream, err),
	}
}

// decodeSnapshot parses a currently-playing document, keeping every
// top-level field verbatim alongside the typed view.
func decodeSnapshot(body []byte) (*Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("decoding playback: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decoding playback: body is not an object")
	}

	var doc playbackDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding playback: %w", err)
	}

	s := &Snapshot{
		IsPlaying: doc.IsPlaying,
		Fields:    fields,
	}
	if doc.ProgressMs != nil {
		s.ProgressMs = *doc.ProgressMs
	}
	if item := doc.Item; item != nil {
		s.TrackID = item.ID
		s.TrackName = item.Name
		s.DurationMs = item.DurationMs
		s.Album = item.Album.Name
		s.Artists = make([]string, 0, len(item.Artists))
		for _, a := range item.Artists {
			s.Artists = append(s.Artists, a.Name)
		}
	}
	return s, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
