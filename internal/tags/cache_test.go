package tags

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/justestif/spotify-xray/internal/store"
)

// mockFetcher implements Fetcher for testing.
type mockFetcher struct {
	tags  map[string][]string
	err   error
	calls int
}

func (m *mockFetcher) TopTags(_ context.Context, artist, track string) ([]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.tags[artist+" - "+track], nil
}

// failingSetStore rejects writes.
type failingSetStore struct {
	store.Store
}

func (failingSetStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("read-only")
}

func TestCachedSource_CachesTags(t *testing.T) {
	fetcher := &mockFetcher{tags: map[string][]string{
		"Daft Punk - One More Time": {"house", "electronic"},
	}}
	st := store.NewMemoryStore()
	src := NewCachedSource(st, fetcher)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tags, err := src.TopTags(ctx, "Daft Punk", "One More Time")
		if err != nil {
			t.Fatalf("TopTags() error = %v", err)
		}
		if len(tags) != 2 || tags[0] != "house" {
			t.Errorf("TopTags() = %v, want [house electronic]", tags)
		}
	}

	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls)
	}

	// Lookups are case-insensitive on the cache side.
	if _, err := src.TopTags(ctx, "daft punk", "one more time"); err != nil {
		t.Fatalf("TopTags() error = %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times after case change, want 1", fetcher.calls)
	}
}

func TestCachedSource_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore(store.WithClock(func() time.Time { return now }))
	fetcher := &mockFetcher{tags: map[string][]string{"A - B": {"rock"}}}
	src := NewCachedSource(st, fetcher, WithTTL(time.Hour))
	ctx := context.Background()

	if _, err := src.TopTags(ctx, "A", "B"); err != nil {
		t.Fatalf("TopTags() error = %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := src.TopTags(ctx, "A", "B"); err != nil {
		t.Fatalf("TopTags() error = %v", err)
	}

	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", fetcher.calls)
	}
}

func TestCachedSource_EmptyNotCached(t *testing.T) {
	fetcher := &mockFetcher{}
	st := store.NewMemoryStore()
	src := NewCachedSource(st, fetcher)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tags, err := src.TopTags(ctx, "Unknown", "Song")
		if err != nil {
			t.Fatalf("TopTags() error = %v", err)
		}
		if len(tags) != 0 {
			t.Errorf("TopTags() = %v, want empty", tags)
		}
	}

	if fetcher.calls != 2 {
		t.Errorf("fetcher called %d times, want 2", fetcher.calls)
	}
	if st.Len() != 0 {
		t.Errorf("store holds %d entries, want 0", st.Len())
	}
}

func TestCachedSource_FetchError(t *testing.T) {
	fetcher := &mockFetcher{err: errors.New("rate limited")}
	src := NewCachedSource(store.NewMemoryStore(), fetcher)

	if _, err := src.TopTags(context.Background(), "A", "B"); err == nil {
		t.Error("TopTags() expected error")
	}
}

func TestCachedSource_StoreWriteFailure(t *testing.T) {
	fetcher := &mockFetcher{tags: map[string][]string{"A - B": {"jazz"}}}
	src := NewCachedSource(failingSetStore{store.NewMemoryStore()}, fetcher)

	tags, err := src.TopTags(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("TopTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0] != "jazz" {
		t.Errorf("TopTags() = %v, want [jazz]", tags)
	}
}

func TestCachedSource_UndecodableEntry(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.Set(ctx, store.TrackTagsKey("A", "B"), "not json", 0); err != nil {
		t.Fatal(err)
	}

	fetcher := &mockFetcher{tags: map[string][]string{"A - B": {"pop"}}}
	src := NewCachedSource(st, fetcher)

	tags, err := src.TopTags(ctx, "A", "B")
	if err != nil {
		t.Fatalf("TopTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0] != "pop" {
		t.Errorf("TopTags() = %v, want [pop]", tags)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls)
	}
}
