package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/justestif/spotify-xray/internal/config"
	"github.com/justestif/spotify-xray/internal/db"
	"github.com/justestif/spotify-xray/internal/store"
)

// openStore selects the credential store backend named in the configuration.
func openStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Store, error) {
	interval := cfg.Store.JanitorInterval.Duration

	switch cfg.Store.Backend {
	case config.BackendMemory:
		st := store.NewMemoryStore()
		if interval > 0 {
			st.StartJanitor(ctx, interval)
		}
		logger.Info("using in-memory store")
		return st, nil

	case config.BackendRedis:
		st, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("using redis store", "addr", cfg.Store.RedisAddr)
		return st, nil

	case config.BackendPostgres:
		database, err := db.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.EnsureSchema(ctx); err != nil {
			database.Close()
			return nil, err
		}
		st := db.NewStore(database)
		if interval > 0 {
			st.StartJanitor(ctx, interval, func(err error) {
				logger.Error("deleting expired entries", "err", err)
			})
		}
		logger.Info("using postgres store")
		return st, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Store.Backend)
	}
}
