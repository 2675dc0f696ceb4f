// Package spotify polls the Spotify Web API on behalf of a session.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Spotify Web API root.
	DefaultBaseURL = "https://api.spotify.com/v1"
	userAgent      = "spotify-xray/1.0"
)

// Sentinel errors.
var (
	// ErrUnauthorized is returned when the provider rejects the access token.
	ErrUnauthorized = errors.New("spotify rejected access token")

	// ErrUpstream is returned for transport failures and unexpected responses.
	ErrUpstream = errors.New("spotify upstream error")
)

// Client issues Spotify API requests with a caller-supplied access token.
// One Client is shared by every stream; the limiter paces all of them together.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps upstream requests per second across all callers.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		burst := max(int(perSecond), 1)
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New creates a Spotify client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: DefaultBaseURL,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile returns the current user's id and display name.
func (c *Client) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	api := c.api(ctx, accessToken)
	user, err := api.CurrentUser(ctx)
	if err != nil {
		if apiStatus(err) == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: getting current user: %w", ErrUpstream, err)
	}

	return &Profile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
	}, nil
}

// api builds an SDK client that authenticates with accessToken.
func (c *Client) api(ctx context.Context, accessToken string) *spotify.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	return spotify.New(hc, spotify.WithBaseURL(c.baseURL+"/"))
}

// apiStatus extracts the HTTP status from an SDK error, or zero.
func apiStatus(err error) int {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var apiErrPtr *spotify.Error
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Status
	}
	return 0
}
