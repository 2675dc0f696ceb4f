// Package config loads spotify-xray settings from TOML and the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

var (
	// ErrMissingCredentials is returned when the Spotify client id or secret is empty.
	ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET")

	// ErrUnknownBackend is returned for a store backend other than memory, redis or postgres.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Spotify SpotifyConfig `toml:"spotify"`
	Store   StoreConfig   `toml:"store"`
	Gemini  GeminiConfig  `toml:"gemini"`
	LastFM  LastFMConfig  `toml:"lastfm"`
	Stream  StreamConfig  `toml:"stream"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr    string `toml:"addr"`
	BaseURL string `toml:"base_url"`
}

// SpotifyConfig contains Spotify API credentials and endpoints.
type SpotifyConfig struct {
	ClientID     string  `toml:"client_id"`
	ClientSecret string  `toml:"client_secret"`
	RedirectURI  string  `toml:"redirect_uri"`
	APIBaseURL   string  `toml:"api_base_url"`
	RateLimit    float64 `toml:"rate_limit"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	Backend         string   `toml:"backend"`
	JanitorInterval Duration `toml:"janitor_interval"`
	RedisAddr       string   `toml:"redis_addr"`
	RedisPassword   string   `toml:"redis_password"`
	RedisDB         int      `toml:"redis_db"`
	DatabaseURL     string   `toml:"database_url"`
}

// GeminiConfig configures track enrichment.
type GeminiConfig struct {
	APIKey          string `toml:"api_key"`
	Model           string `toml:"model"`
	SearchGrounding bool   `toml:"search_grounding"`
}

// LastFMConfig configures optional tag hints for enrichment.
type LastFMConfig struct {
	APIKey string `toml:"api_key"`
}

// StreamConfig tunes the polling cadence.
type StreamConfig struct {
	DefaultDelay Duration `toml:"default_delay"`
	MinDelay     Duration `toml:"min_delay"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration decoded from strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration described by the embedded example file.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load reads the TOML file at path over the defaults.
// A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables that are set.
func (c *Config) ApplyEnv() {
	setString(&c.Spotify.ClientID, "SPOTIFY_ID")
	setString(&c.Spotify.ClientSecret, "SPOTIFY_SECRET")
	setString(&c.Spotify.RedirectURI, "REDIRECT_URI")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.LastFM.APIKey, "LASTFM_API_KEY")
	setString(&c.Store.RedisAddr, "REDIS_ADDR")
	setString(&c.Store.RedisPassword, "REDIS_PASSWORD")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.Backend, "XRAY_STORE")
	setString(&c.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

// RedirectURL returns the configured redirect URI, falling back to
// base_url + "/callback".
func (c *Config) RedirectURL() string {
	if c.Spotify.RedirectURI != "" {
		return c.Spotify.RedirectURI
	}
	return strings.TrimSuffix(c.Server.BaseURL, "/") + "/callback"
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store backend redis requires redis_addr")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("store backend postgres requires database_url")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}

	if c.Stream.DefaultDelay.Duration <= 0 || c.Stream.MinDelay.Duration <= 0 {
		return errors.New("stream delays must be positive")
	}
	if c.Spotify.RateLimit <= 0 {
		return errors.New("spotify rate_limit must be positive")
	}
	return nil
}
