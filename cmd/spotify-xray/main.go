// Command spotify-xray serves a live "now playing" feed for Spotify listeners,
// enriched with background on the song that is playing.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/justestif/spotify-xray/internal/auth"
	"github.com/justestif/spotify-xray/internal/config"
	"github.com/justestif/spotify-xray/internal/gemini"
	"github.com/justestif/spotify-xray/internal/lastfm"
	"github.com/justestif/spotify-xray/internal/logging"
	"github.com/justestif/spotify-xray/internal/spotify"
	"github.com/justestif/spotify-xray/internal/store"
	"github.com/justestif/spotify-xray/internal/stream"
	"github.com/justestif/spotify-xray/internal/tags"
	"github.com/justestif/spotify-xray/internal/web"
	"github.com/justestif/spotify-xray/internal/xray"
	webfs "github.com/justestif/spotify-xray/web"
)

func main() {
	app := &cli.Command{
		Name:  "spotify-xray",
		Usage: "Stream what you're listening to on Spotify, with the story behind the song",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides logging.level)",
			},
		},
		Action: serve,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "err", err)
		}
	}()

	broker, err := auth.New(auth.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
	}, st, auth.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating auth broker: %w", err)
	}

	player := spotify.New(
		spotify.WithBaseURL(cfg.Spotify.APIBaseURL),
		spotify.WithRateLimit(cfg.Spotify.RateLimit),
	)

	engineOpts := []stream.Option{
		stream.WithLogger(logger),
		stream.WithDefaultDelay(cfg.Stream.DefaultDelay.Duration),
		stream.WithMinDelay(cfg.Stream.MinDelay.Duration),
	}
	enricher, err := newEnricher(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	if enricher != nil {
		engineOpts = append(engineOpts, stream.WithEnricher(enricher))
	}
	engine := stream.NewEngine(broker, player, engineOpts...)

	templates, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		return fmt.Errorf("creating templates filesystem: %w", err)
	}
	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("creating static filesystem: %w", err)
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:        cfg.Server.Addr,
		BaseURL:     cfg.Server.BaseURL,
		TemplatesFS: templates,
		StaticFS:    static,
		Logger:      logger,
	}, broker, engine, player)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}

// newEnricher builds the song enrichment pipeline. It returns nil when no
// Gemini key is configured; the stream then carries playback only.
func newEnricher(ctx context.Context, cfg *config.Config, st store.Store, logger *log.Logger) (stream.Enricher, error) {
	if cfg.Gemini.APIKey == "" {
		logger.Warn("gemini api key not set, song enrichment disabled")
		return nil, nil
	}

	gen, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		SearchGrounding: cfg.Gemini.SearchGrounding,
	}, gemini.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	opts := []xray.Option{xray.WithLogger(logger)}
	if cfg.LastFM.APIKey != "" {
		fm, err := lastfm.NewClient(cfg.LastFM.APIKey)
		if err != nil {
			return nil, fmt.Errorf("creating last.fm client: %w", err)
		}
		opts = append(opts, xray.WithTagSource(tags.NewCachedSource(st, fm, tags.WithLogger(logger))))
	}

	return xray.NewCachedEnricher(st, gen, opts...), nil
}
