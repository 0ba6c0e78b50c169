package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLite(t *testing.T, ttl time.Duration) *SQLiteProvider {
	t.Helper()
	p := NewSQLiteProvider(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "cache.db"),
		TTL:  ttl,
	})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSQLiteRoundTrip(t *testing.T) {
	p := newTestSQLite(t, 0)
	ctx := context.Background()

	if !p.Set(ctx, "cache:a", entryWithBody("persisted")) {
		t.Fatal("Set failed")
	}
	entry, ok := p.Get(ctx, "cache:a")
	if !ok {
		t.Fatal("Get missed a just-stored entry")
	}
	if string(entry.Body) != "persisted" || entry.Status != 200 {
		t.Fatalf("Got back %d %q", entry.Status, entry.Body)
	}
}

func TestSQLiteTTLExpiry(t *testing.T) {
	p := newTestSQLite(t, 30*time.Millisecond)
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	if _, ok := p.Get(ctx, "cache:a"); !ok {
		t.Fatal("Entry absent before TTL elapsed")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := p.Get(ctx, "cache:a"); ok {
		t.Fatal("Entry present after TTL elapsed")
	}
	// opportunistic purge removed the row entirely
	if keys := p.Keys(ctx); len(keys) != 0 {
		t.Fatalf("Expired key still enumerable: %v", keys)
	}
}

func TestSQLiteOperationsBeforeInit(t *testing.T) {
	p := NewSQLiteProvider(SQLiteConfig{Path: "cache.db"})
	ctx := context.Background()
	if _, ok := p.Get(ctx, "cache:a"); ok {
		t.Fatal("Get succeeded before Init")
	}
	if p.Set(ctx, "cache:a", entryWithBody("x")) {
		t.Fatal("Set succeeded before Init")
	}
}

func TestSQLiteResetAndClearMatching(t *testing.T) {
	p := newTestSQLite(t, 0)
	ctx := context.Background()

	p.Set(ctx, "cache:articles:1", entryWithBody("x"))
	p.Set(ctx, "cache:users:1", entryWithBody("x"))
	p.Set(ctx, "graphql:abc", entryWithBody("x"))

	if cleared := p.ClearMatching(ctx, []string{`^cache:articles:`}); cleared != 1 {
		t.Fatalf("Cleared %d entries, expected 1", cleared)
	}
	if !p.Reset(ctx) {
		t.Fatal("Reset failed")
	}
	if keys := p.Keys(ctx); len(keys) != 0 {
		t.Fatalf("Reset left keys: %v", keys)
	}
}
