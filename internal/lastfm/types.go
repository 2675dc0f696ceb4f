package lastfm

// tag is one entry of a getTopTags response. Count is absent for artist tags.
type tag struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

// topTagsResponse is the JSON response shared by track.getTopTags and
// artist.getTopTags.
type topTagsResponse struct {
	TopTags struct {
		Tag []tag `json:"tag"`
	} `json:"toptags"`
}

// apiError represents a Last.fm API error response.
type apiError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}
