package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/justestif/spotify-xray/internal/store"
)

// fakeRow implements pgx.Row for a single canned result.
type fakeRow struct {
	key       string
	value     string
	expiresAt *time.Time
	err       error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.key
	*dest[1].(*string) = r.value
	*dest[2].(**time.Time) = r.expiresAt
	return nil
}

// fakeQuerier records statements and returns canned results.
type fakeQuerier struct {
	execSQL  []string
	execArgs [][]any
	execTag  pgconn.CommandTag
	execErr  error

	querySQL []string
	row      fakeRow
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return f.execTag, f.execErr
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.querySQL = append(f.querySQL, sql)
	return f.row
}

func TestEntryRepository_GetNotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	repo := &EntryRepository{q: q}

	_, err := repo.Get(context.Background(), "state:abc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	if !strings.Contains(q.querySQL[0], "expires_at > NOW()") {
		t.Errorf("Get() query does not filter expired rows: %s", q.querySQL[0])
	}
}

func TestEntryRepository_GetFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{key: "k", value: "v"}}
	repo := &EntryRepository{q: q}

	entry, err := repo.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if entry.Value != "v" {
		t.Errorf("Value = %q, want %q", entry.Value, "v")
	}
	if entry.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v, want nil", entry.ExpiresAt)
	}
}

func TestEntryRepository_TakeUsesSingleStatement(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{key: "state:abc", value: "1700000000"}}
	repo := &EntryRepository{q: q}

	entry, err := repo.Take(context.Background(), "state:abc")
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if entry.Value != "1700000000" {
		t.Errorf("Value = %q, want %q", entry.Value, "1700000000")
	}

	if len(q.querySQL) != 1 {
		t.Fatalf("Take() issued %d statements, want 1", len(q.querySQL))
	}
	if !strings.Contains(q.querySQL[0], "DELETE FROM kv_entries") || !strings.Contains(q.querySQL[0], "RETURNING") {
		t.Errorf("Take() query is not an atomic delete-returning: %s", q.querySQL[0])
	}
	if len(q.execSQL) != 0 {
		t.Errorf("Take() issued %d separate Exec calls, want 0", len(q.execSQL))
	}
}

func TestEntryRepository_DeleteExpired(t *testing.T) {
	q := &fakeQuerier{execTag: pgconn.NewCommandTag("DELETE 3")}
	repo := &EntryRepository{q: q}

	n, err := repo.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteExpired() = %d, want 3", n)
	}
}

func TestEntryRepository_ExecError(t *testing.T) {
	q := &fakeQuerier{execErr: errors.New("connection reset")}
	repo := &EntryRepository{q: q}

	if err := repo.Delete(context.Background(), "k"); err == nil {
		t.Error("Delete() expected error")
	}
}

func TestStore_SetExpiresOnDatabaseClock(t *testing.T) {
	q := &fakeQuerier{}
	s := &Store{entries: &EntryRepository{q: q}}

	if err := s.Set(context.Background(), store.AccessTokenKey("sid"), "tok", store.AccessTokenTTL); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if !strings.Contains(q.execSQL[0], "NOW() +") {
		t.Errorf("Set() does not compute expiry in the database: %s", q.execSQL[0])
	}
	args := q.execArgs[0]
	if args[0] != "access_token:sid" || args[1] != "tok" {
		t.Errorf("Set() args = %v", args)
	}
	if got, want := args[2], store.AccessTokenTTL.Milliseconds(); got != want {
		t.Errorf("ttl arg = %v, want %d ms", got, want)
	}
}

func TestStore_SetWithoutTTL(t *testing.T) {
	q := &fakeQuerier{}
	s := &Store{entries: &EntryRepository{q: q}}

	if err := s.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := q.execArgs[0][2]; got != int64(0) {
		t.Errorf("ttl arg = %v, want 0", got)
	}
}

func TestStore_TranslatesNotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	s := &Store{entries: &EntryRepository{q: q}}

	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() error = %v, want store.ErrNotFound", err)
	}
	if _, err := s.Take(context.Background(), "k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Take() error = %v, want store.ErrNotFound", err)
	}
}

// notifyingQuerier reports each Exec statement on a channel.
type notifyingQuerier struct {
	execs chan string
}

func (q *notifyingQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	select {
	case q.execs <- sql:
	default:
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (q *notifyingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{err: pgx.ErrNoRows}
}

func TestStore_JanitorDeletesExpired(t *testing.T) {
	q := &notifyingQuerier{execs: make(chan string, 1)}
	s := &Store{entries: &EntryRepository{q: q}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.StartJanitor(ctx, time.Millisecond, func(err error) { t.Errorf("janitor error = %v", err) })

	select {
	case sql := <-q.execs:
		if !strings.Contains(sql, "expires_at <= NOW()") {
			t.Errorf("janitor statement = %s", sql)
		}
	case <-time.After(time.Second):
		t.Fatal("janitor never ran")
	}
}
