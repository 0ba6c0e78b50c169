package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// newTestRemote initializes a remote provider against an in-process store.
func newTestRemote(t *testing.T, cfg RemoteConfig) (*RemoteProvider, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	p := NewRemoteProvider(cfg)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func TestRemoteRoundTrip(t *testing.T) {
	p, _ := newTestRemote(t, RemoteConfig{})
	ctx := context.Background()

	entry := &Entry{
		Status:  200,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    []byte(`{"ok":true}`),
	}
	if !p.Set(ctx, "cache:a", entry) {
		t.Fatal("Set failed")
	}
	got, ok := p.Get(ctx, "cache:a")
	if !ok {
		t.Fatal("Get missed a stored entry")
	}
	if got.Status != 200 || string(got.Body) != `{"ok":true}` {
		t.Fatalf("Round trip changed the entry: %+v", got)
	}
	if got.Headers["Content-Type"] != "application/json" {
		t.Fatalf("Round trip changed the headers: %v", got.Headers)
	}
	if _, ok := p.Get(ctx, "cache:unknown"); ok {
		t.Fatal("Get hit an absent key")
	}
}

func TestRemoteTTLApplied(t *testing.T) {
	p, mr := newTestRemote(t, RemoteConfig{TTL: time.Minute})
	ctx := context.Background()

	if !p.Set(ctx, "cache:a", entryWithBody("x")) {
		t.Fatal("Set failed")
	}
	if ttl := mr.TTL(DefaultNamespace + "cache:a"); ttl != time.Minute {
		t.Fatalf("Stored ttl is %s", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok := p.Get(ctx, "cache:a"); ok {
		t.Fatal("Expired entry still served")
	}
}

func TestRemoteZeroTTLStoresWithoutExpiration(t *testing.T) {
	p, mr := newTestRemote(t, RemoteConfig{})
	ctx := context.Background()

	if !p.Set(ctx, "cache:a", entryWithBody("x")) {
		t.Fatal("Set failed")
	}
	if ttl := mr.TTL(DefaultNamespace + "cache:a"); ttl != 0 {
		t.Fatalf("Entry carries a ttl of %s", ttl)
	}
	mr.FastForward(24 * time.Hour)
	if _, ok := p.Get(ctx, "cache:a"); !ok {
		t.Fatal("Unexpiring entry was lost")
	}
}

func TestRemoteDeleteIdempotent(t *testing.T) {
	p, _ := newTestRemote(t, RemoteConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	if !p.Delete(ctx, "cache:a") {
		t.Fatal("Delete failed")
	}
	if !p.Delete(ctx, "cache:a") {
		t.Fatal("Deleting an absent key failed")
	}
	if _, ok := p.Get(ctx, "cache:a"); ok {
		t.Fatal("Deleted entry still served")
	}
}

func TestRemoteKeysStripNamespace(t *testing.T) {
	p, mr := newTestRemote(t, RemoteConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	p.Set(ctx, "cache:b", entryWithBody("y"))
	// a neighbor outside the namespace is not ours to enumerate
	mr.Set("other-app:z", "z")

	keys := p.Keys(ctx)
	if len(keys) != 2 {
		t.Fatalf("Keys returned %v", keys)
	}
	seen := map[string]bool{}
	for _, key := range keys {
		seen[key] = true
	}
	if !seen["cache:a"] || !seen["cache:b"] {
		t.Fatalf("Keys returned %v", keys)
	}
}

func TestRemoteClearMatching(t *testing.T) {
	p, _ := newTestRemote(t, RemoteConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:articles:1", entryWithBody("a"))
	p.Set(ctx, "cache:articles:2", entryWithBody("b"))
	p.Set(ctx, "cache:users:1", entryWithBody("c"))

	if cleared := p.ClearMatching(ctx, []string{"articles"}); cleared != 2 {
		t.Fatalf("Cleared %d entries", cleared)
	}
	if _, ok := p.Get(ctx, "cache:users:1"); !ok {
		t.Fatal("Non-matching entry was cleared")
	}
}

func TestRemoteReset(t *testing.T) {
	p, _ := newTestRemote(t, RemoteConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	p.Set(ctx, "cache:b", entryWithBody("y"))
	if !p.Reset(ctx) {
		t.Fatal("Reset failed")
	}
	if keys := p.Keys(ctx); len(keys) != 0 {
		t.Fatalf("Entries survived a reset: %v", keys)
	}
}

func TestRemoteMalformedEntryIsMiss(t *testing.T) {
	p, mr := newTestRemote(t, RemoteConfig{})
	mr.Set(DefaultNamespace+"cache:bad", "not an entry")
	if _, ok := p.Get(context.Background(), "cache:bad"); ok {
		t.Fatal("Malformed stored value served as a hit")
	}
}

func TestRemoteOperationsBeforeInit(t *testing.T) {
	p := NewRemoteProvider(RemoteConfig{Addr: "localhost:6379"})
	ctx := context.Background()

	if _, ok := p.Get(ctx, "cache:a"); ok {
		t.Fatal("Get succeeded before Init")
	}
	if p.Set(ctx, "cache:a", entryWithBody("x")) {
		t.Fatal("Set succeeded before Init")
	}
	if p.Delete(ctx, "cache:a") {
		t.Fatal("Delete succeeded before Init")
	}
	if p.Reset(ctx) {
		t.Fatal("Reset succeeded before Init")
	}
	if cleared := p.ClearMatching(ctx, []string{".*"}); cleared != 0 {
		t.Fatalf("ClearMatching cleared %d before Init", cleared)
	}
}

func TestRemoteInitRequiresAddress(t *testing.T) {
	p := NewRemoteProvider(RemoteConfig{})
	if err := p.Init(context.Background()); err == nil {
		t.Fatal("Init accepted empty address config")
	}
	if p.Ready() {
		t.Fatal("Provider ready after failed init")
	}
}

func TestRemoteNamespaceDefault(t *testing.T) {
	p := NewRemoteProvider(RemoteConfig{Addr: "localhost:6379"})
	if p.cfg.Namespace != DefaultNamespace {
		t.Fatalf("Namespace is %q", p.cfg.Namespace)
	}
	custom := NewRemoteProvider(RemoteConfig{Addr: "localhost:6379", Namespace: "app:"})
	if custom.cfg.Namespace != "app:" {
		t.Fatalf("Custom namespace is %q", custom.cfg.Namespace)
	}
}
