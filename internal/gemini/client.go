// Package gemini describes tracks with the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/justestif/spotify-xray/internal/logging"
	"github.com/justestif/spotify-xray/internal/xray"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Sentinel errors.
var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("missing Gemini API key")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("no content generated")

	// ErrMalformedResponse is returned when the model's text is not the expected JSON.
	ErrMalformedResponse = errors.New("malformed model response")
)

const systemInstruction = `You are a highly knowledgeable music analysis assistant. Provide factually accurate information about songs.
For each song, give its deeper meaning and the artist's interpretation as "summary", and a list of interesting, lesser known facts as "facts".
If you cannot find any information, return an empty string for "summary" and an empty list for "facts".`

const jsonInstruction = `
Respond with a single JSON object of the form {"summary": string, "facts": [string]} and nothing else.`

// Config holds Gemini client settings.
type Config struct {
	APIKey string
	Model  string

	// SearchGrounding enables the Google Search tool. Structured output is
	// not available with tools, so the JSON shape is requested in the prompt.
	SearchGrounding bool

	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Client generates track descriptions.
type Client struct {
	client    *genai.Client
	model     string
	grounding bool
	logger    *log.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:    genaiClient,
		model:     cfg.Model,
		grounding: cfg.SearchGrounding,
		logger:    logging.Discard(),
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "gemini")

	return c, nil
}

// Generate returns the model's text for prompt using the track-description
// instructions.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug("generating content", "model", c.model, "grounding", c.grounding)

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), c.generateConfig())
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractTextFromResponse(result)
}

// Describe produces the record for track.
func (c *Client) Describe(ctx context.Context, track xray.Track) (xray.Record, error) {
	text, err := c.Generate(ctx, buildPrompt(track))
	if err != nil {
		return xray.Record{}, err
	}
	return parseRecord(text)
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	temperature := float32(0.01)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}

	if c.grounding {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction+jsonInstruction, genai.RoleUser)
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		return cfg
	}

	cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type:        genai.TypeString,
				Description: "The deeper meaning and the artist's intent behind the song.",
			},
			"facts": {
				Type:        genai.TypeArray,
				Description: "Interesting facts and anecdotes about the song.",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"summary", "facts"},
	}
	return cfg
}

// buildPrompt creates the user prompt for a track.
func buildPrompt(track xray.Track) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Song Name: %s\nArtist(s): %s\n", track.Name, track.Artist())
	if track.Album != "" {
		fmt.Fprintf(&sb, "Album: %s\n", track.Album)
	}
	if len(track.Tags) > 0 {
		fmt.Fprintf(&sb, "Listener tags: %s\n", strings.Join(track.Tags, ", "))
	}
	return sb.String()
}

// extractTextFromResponse extracts text from a generate content response.
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
