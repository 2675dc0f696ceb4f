package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/justestif/spotify-xray/internal/xray"
)

// recordJSON accepts "meaning" as an alias for "summary".
type recordJSON struct {
	Summary *string  `json:"summary"`
	Meaning *string  `json:"meaning"`
	Facts   []string `json:"facts"`
}

// parseRecord decodes the model's JSON answer. Grounded answers may wrap the
// object in prose or a code fence; the outermost braces are used.
func parseRecord(text string) (xray.Record, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return xray.Record{}, fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, snippet(text))
	}

	var raw recordJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return xray.Record{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	rec := xray.Record{Facts: make([]string, 0, len(raw.Facts))}
	switch {
	case raw.Summary != nil:
		rec.Summary = strings.TrimSpace(*raw.Summary)
	case raw.Meaning != nil:
		rec.Summary = strings.TrimSpace(*raw.Meaning)
	}
	for _, f := range raw.Facts {
		if f = strings.TrimSpace(f); f != "" {
			rec.Facts = append(rec.Facts, f)
		}
	}
	return rec, nil
}

func snippet(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
