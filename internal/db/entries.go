package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EntryRepository handles key-value entry database operations.
// Expired rows are invisible to reads and are removed by DeleteExpired.
type EntryRepository struct {
	q querier
}

// Upsert inserts or replaces an entry expiring ttl from now. A non-positive
// ttl stores the entry without expiry. Expiry is computed by the database
// clock, the same clock reads filter on.
func (r *EntryRepository) Upsert(ctx context.Context, key, value string, ttl time.Duration) error {
	query := `
		INSERT INTO kv_entries (key, value, expires_at)
		VALUES ($1, $2, CASE WHEN $3::bigint > 0 THEN NOW() + $3::bigint * INTERVAL '1 millisecond' END)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`
	_, err := r.q.Exec(ctx, query, key, value, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("upserting entry: %w", err)
	}
	return nil
}

// Get retrieves a live entry by key.
func (r *EntryRepository) Get(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT key, value, expires_at
		FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`
	var entry Entry
	err := r.q.QueryRow(ctx, query, key).Scan(&entry.Key, &entry.Value, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	return &entry, nil
}

// Delete removes an entry by key.
func (r *EntryRepository) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM kv_entries WHERE key = $1`
	_, err := r.q.Exec(ctx, query, key)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Take deletes an entry and returns it in one statement, so concurrent
// callers cannot both observe the same live row. An expired row is removed
// but reported as ErrNotFound.
func (r *EntryRepository) Take(ctx context.Context, key string) (*Entry, error) {
	query := `
		WITH taken AS (
			DELETE FROM kv_entries
			WHERE key = $1
			RETURNING key, value, expires_at
		)
		SELECT key, value, expires_at
		FROM taken
		WHERE expires_at IS NULL OR expires_at > NOW()
	`
	var entry Entry
	err := r.q.QueryRow(ctx, query, key).Scan(&entry.Key, &entry.Value, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking entry: %w", err)
	}
	return &entry, nil
}

// DeleteExpired removes all expired entries.
func (r *EntryRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()`
	result, err := r.q.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("deleting expired entries: %w", err)
	}
	return result.RowsAffected(), nil
}
