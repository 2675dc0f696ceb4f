package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Store.Backend != BackendMemory {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, BackendMemory)
	}
	if cfg.Stream.DefaultDelay.Duration != 5*time.Second {
		t.Errorf("Stream.DefaultDelay = %v, want 5s", cfg.Stream.DefaultDelay)
	}
	if cfg.Stream.MinDelay.Duration != 5*time.Second {
		t.Errorf("Stream.MinDelay = %v, want 5s", cfg.Stream.MinDelay)
	}
	if cfg.Spotify.APIBaseURL != "https://api.spotify.com/v1" {
		t.Errorf("Spotify.APIBaseURL = %q", cfg.Spotify.APIBaseURL)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[spotify]
client_id = "file-id"
client_secret = "file-secret"

[store]
backend = "redis"
redis_addr = "cache:6379"

[stream]
default_delay = "7s"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Spotify.ClientID != "file-id" {
		t.Errorf("ClientID = %q, want %q", cfg.Spotify.ClientID, "file-id")
	}
	if cfg.Store.RedisAddr != "cache:6379" {
		t.Errorf("RedisAddr = %q, want %q", cfg.Store.RedisAddr, "cache:6379")
	}
	if cfg.Stream.DefaultDelay.Duration != 7*time.Second {
		t.Errorf("DefaultDelay = %v, want 7s", cfg.Stream.DefaultDelay)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Stream.MinDelay.Duration != 5*time.Second {
		t.Errorf("MinDelay = %v, want 5s", cfg.Stream.MinDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want default", cfg.Server.Addr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[stream]\ndefault_delay = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SPOTIFY_ID", "env-id")
	t.Setenv("SPOTIFY_SECRET", "env-secret")
	t.Setenv("REDIRECT_URI", "https://xray.example.com/callback")
	t.Setenv("GEMINI_API_KEY", "gem")
	t.Setenv("LASTFM_API_KEY", "lfm")
	t.Setenv("XRAY_STORE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/xray")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "")

	cfg := Default()
	cfg.ApplyEnv()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"client id", cfg.Spotify.ClientID, "env-id"},
		{"client secret", cfg.Spotify.ClientSecret, "env-secret"},
		{"redirect", cfg.Spotify.RedirectURI, "https://xray.example.com/callback"},
		{"gemini key", cfg.Gemini.APIKey, "gem"},
		{"lastfm key", cfg.LastFM.APIKey, "lfm"},
		{"backend", cfg.Store.Backend, BackendPostgres},
		{"database url", cfg.Store.DatabaseURL, "postgres://localhost/xray"},
		{"log level", cfg.Logging.Level, "debug"},
		{"empty env keeps default", cfg.Store.RedisAddr, "localhost:6379"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestRedirectURL(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "https://xray.example.com/"
	if got := cfg.RedirectURL(); got != "https://xray.example.com/callback" {
		t.Errorf("RedirectURL() = %q", got)
	}

	cfg.Spotify.RedirectURI = "http://127.0.0.1:9000/callback"
	if got := cfg.RedirectURL(); got != "http://127.0.0.1:9000/callback" {
		t.Errorf("RedirectURL() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Spotify.ClientID = "id"
		cfg.Spotify.ClientSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		wantAny bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing id", mutate: func(c *Config) { c.Spotify.ClientID = "" }, wantErr: ErrMissingCredentials},
		{name: "missing secret", mutate: func(c *Config) { c.Spotify.ClientSecret = "" }, wantErr: ErrMissingCredentials},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "etcd" }, wantErr: ErrUnknownBackend},
		{name: "postgres without url", mutate: func(c *Config) { c.Store.Backend = BackendPostgres }, wantAny: true},
		{name: "zero delay", mutate: func(c *Config) { c.Stream.MinDelay = Duration{} }, wantAny: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
			case tt.wantAny:
				if err == nil {
					t.Error("Validate() expected error")
				}
			default:
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
			}
		})
	}
}
