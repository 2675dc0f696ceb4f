package db

import (
	"context"
	"errors"
	"time"

	"github.com/justestif/spotify-xray/internal/store"
)

// Store adapts an EntryRepository to store.Store.
type Store struct {
	entries *EntryRepository
	close   func()
}

// NewStore returns a credential store backed by database.
// Closing the store closes the database pool.
func NewStore(database *DB) *Store {
	return &Store{
		entries: database.Entries(),
		close:   database.Close,
	}
}

// Get returns the value for key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	entry, err := s.entries.Get(ctx, key)
	if err != nil {
		return "", translate(err)
	}
	return entry.Value, nil
}

// Set stores value under key. A non-positive ttl stores the key without expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.entries.Upsert(ctx, key, value, ttl)
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.entries.Delete(ctx, key)
}

// Take atomically returns and removes the value for key.
func (s *Store) Take(ctx context.Context, key string) (string, error) {
	entry, err := s.entries.Take(ctx, key)
	if err != nil {
		return "", translate(err)
	}
	return entry.Value, nil
}

// StartJanitor deletes expired rows every interval until ctx is cancelled.
// Reads already ignore expired rows; this only reclaims space.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration, onError func(error)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.entries.DeleteExpired(ctx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, ErrNotFound) {
		return store.ErrNotFound
	}
	return err
}

var _ store.Store = (*Store)(nil)
