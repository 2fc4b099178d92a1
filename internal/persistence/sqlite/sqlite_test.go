package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/session-timer/internal/persistence"
	"github.com/example/session-timer/internal/session"
	"github.com/example/session-timer/internal/testfixtures"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "sessions.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	store, err := Open(context.Background(), dsn, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStoreContract(t *testing.T) {
	testfixtures.RunGatewayContract(t, func(t *testing.T, clock *testfixtures.Clock) persistence.Gateway {
		return newTestStore(t, WithClock(clock.NowFunc()))
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
	version, dirty, err := SchemaVersion(store.db)
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("expected clean version 2, got %d (dirty=%v)", version, dirty)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "sessions.db")
	clock := testfixtures.NewClock(time.Time{})

	store, err := Open(ctx, dsn, WithClock(clock.NowFunc()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	created, err := store.Create(ctx, persistence.Draft{Name: "Ada", Duration: 30})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	after := created.Clone()
	session.Extend(&after, session.DefaultExtensionPolicy(), clock.AdvanceMinutes(25))
	if _, err := store.Update(ctx, created.ID, persistence.Diff(created, after)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	listed, err := reopened.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one session, got %d", len(listed))
	}
	got := listed[0].Interval
	if got.Duration != 60 || got.ExtensionCount != 1 || got.LastExtensionTime == nil {
		t.Fatalf("unexpected interval after reopen: %+v", got)
	}
	if !got.EndTime.Equal(after.Interval.EndTime) {
		t.Fatalf("expected end %s, got %s", after.Interval.EndTime, got.EndTime)
	}
}

func TestCheckConstraintMapsToViolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	bad := session.CheckIn("bad", "Ada", 30, testfixtures.ReferenceTime())
	bad.Status = "bogus"

	err := store.ReplaceAll(ctx, []session.Session{bad})
	if err == nil {
		t.Fatalf("expected constraint failure")
	}
	if !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
}
