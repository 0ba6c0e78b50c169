package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestMemory(t *testing.T, cfg MemoryConfig) *MemoryProvider {
	t.Helper()
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1 << 20
	}
	p := NewMemoryProvider(cfg)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %s", err)
	}
	return p
}

func entryWithBody(body string) *Entry {
	return &Entry{
		Status:  200,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    []byte(body),
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	if !p.Set(ctx, "cache:a", entryWithBody("hello")) {
		t.Fatal("Set failed")
	}
	entry, ok := p.Get(ctx, "cache:a")
	if !ok {
		t.Fatal("Get missed a just-stored entry")
	}
	if string(entry.Body) != "hello" || entry.Status != 200 {
		t.Fatalf("Got back %d %q", entry.Status, entry.Body)
	}
	if entry.Headers["Content-Type"] != "text/plain" {
		t.Fatalf("Headers did not survive: %v", entry.Headers)
	}
}

func TestMemoryOperationsBeforeInit(t *testing.T) {
	p := NewMemoryProvider(MemoryConfig{MaxEntries: 10, MaxBytes: 1024})
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
	if keys := p.Keys(ctx); keys != nil {
		t.Fatalf("Keys returned %v before Init", keys)
	}
	if p.Reset(ctx) {
		t.Fatal("Reset succeeded before Init")
	}
}

func TestMemoryInitValidatesBounds(t *testing.T) {
	for _, cfg := range []MemoryConfig{
		{MaxEntries: 0, MaxBytes: 1024},
		{MaxEntries: -1, MaxBytes: 1024},
		{MaxEntries: 10, MaxBytes: 0},
		{MaxEntries: 10, MaxBytes: 1024, TTL: -time.Second},
	} {
		p := NewMemoryProvider(cfg)
		if err := p.Init(context.Background()); err == nil {
			t.Fatalf("Init accepted invalid config %+v", cfg)
		}
		if p.Ready() {
			t.Fatalf("Provider ready after failed init: %+v", cfg)
		}
	}
}

func TestMemoryDoubleInitKeepsServing(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()
	p.Set(ctx, "cache:a", entryWithBody("x"))

	if err := p.Init(ctx); err != nil {
		t.Fatalf("Second Init returned error: %s", err)
	}
	if _, ok := p.Get(ctx, "cache:a"); !ok {
		t.Fatal("Existing entry lost after repeated Init")
	}
}

func TestMemoryInvalidKeys(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	for _, key := range []string{"", "   "} {
		if p.Set(ctx, key, entryWithBody("x")) {
			t.Fatalf("Set accepted invalid key %q", key)
		}
		if _, ok := p.Get(ctx, key); ok {
			t.Fatalf("Get accepted invalid key %q", key)
		}
		if p.Delete(ctx, key) {
			t.Fatalf("Delete accepted invalid key %q", key)
		}
	}
	if p.Len() != 0 {
		t.Fatalf("Invalid keys mutated the store, %d entries", p.Len())
	}
}

func TestMemoryCountBoundEvictsLRU(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{MaxEntries: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p.Set(ctx, fmt.Sprintf("cache:%d", i), entryWithBody("x"))
	}
	// touch entry 0 so entry 1 becomes least recently used
	p.Get(ctx, "cache:0")
	p.Set(ctx, "cache:3", entryWithBody("x"))

	if p.Len() != 3 {
		t.Fatalf("Store over bound: %d entries", p.Len())
	}
	if _, ok := p.Get(ctx, "cache:1"); ok {
		t.Fatal("Least recently used entry survived eviction")
	}
	for _, key := range []string{"cache:0", "cache:2", "cache:3"} {
		if _, ok := p.Get(ctx, key); !ok {
			t.Fatalf("Entry %s evicted out of order", key)
		}
	}
}

func TestMemoryByteBoundEviction(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{MaxEntries: 100, MaxBytes: 200})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		p.Set(ctx, fmt.Sprintf("cache:%d", i), entryWithBody("0123456789012345678901234567890123456789"))
	}
	if p.Bytes() > 200 {
		t.Fatalf("Store over byte bound: %d bytes", p.Bytes())
	}
	if p.Len() == 0 {
		t.Fatal("Byte bound evicted everything")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{TTL: 30 * time.Millisecond, DisableSliding: true})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	if _, ok := p.Get(ctx, "cache:a"); !ok {
		t.Fatal("Entry absent before TTL elapsed")
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok := p.Get(ctx, "cache:a"); ok {
		t.Fatal("Entry present after TTL elapsed")
	}
	if p.Len() != 0 {
		t.Fatal("Expired entry not physically evicted")
	}
}

func TestMemoryAllowStaleServesExpired(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{TTL: 10 * time.Millisecond, AllowStale: true})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("stale"))
	time.Sleep(30 * time.Millisecond)
	entry, ok := p.Get(ctx, "cache:a")
	if !ok {
		t.Fatal("Stale entry not served with AllowStale")
	}
	if string(entry.Body) != "stale" {
		t.Fatalf("Got %q", entry.Body)
	}
}

func TestMemorySlidingExpiry(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{TTL: 60 * time.Millisecond})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	// keep touching the entry past its original expiry
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		if _, ok := p.Get(ctx, "cache:a"); !ok {
			t.Fatal("Hit did not refresh expiry")
		}
	}
}

func TestMemoryDeleteIsIdempotent(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	if !p.Delete(ctx, "cache:a") {
		t.Fatal("Delete of present key failed")
	}
	if !p.Delete(ctx, "cache:a") {
		t.Fatal("Delete of absent key failed")
	}
}

func TestMemoryReset(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p.Set(ctx, fmt.Sprintf("cache:%d", i), entryWithBody("x"))
	}
	if !p.Reset(ctx) {
		t.Fatal("Reset failed")
	}
	if p.Len() != 0 || p.Bytes() != 0 {
		t.Fatalf("Reset left %d entries, %d bytes", p.Len(), p.Bytes())
	}
}

func TestMemoryClearMatching(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:articles:1", entryWithBody("x"))
	p.Set(ctx, "cache:articles:2", entryWithBody("x"))
	p.Set(ctx, "cache:users:1", entryWithBody("x"))
	p.Set(ctx, "graphql:abc", entryWithBody("x"))

	cleared := p.ClearMatching(ctx, []string{`^cache:articles:`, `^graphql:`})
	if cleared != 3 {
		t.Fatalf("Cleared %d entries, expected 3", cleared)
	}
	if _, ok := p.Get(ctx, "cache:users:1"); !ok {
		t.Fatal("Unmatched entry was cleared")
	}
}

func TestMemoryClearMatchingSkipsBadPatterns(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	if cleared := p.ClearMatching(ctx, []string{`[invalid`, `^cache:`}); cleared != 1 {
		t.Fatalf("Cleared %d entries, expected 1", cleared)
	}
}

func TestMemoryKeys(t *testing.T) {
	p := newTestMemory(t, MemoryConfig{})
	ctx := context.Background()

	p.Set(ctx, "cache:a", entryWithBody("x"))
	p.Set(ctx, "cache:b", entryWithBody("x"))
	keys := p.Keys(ctx)
	if len(keys) != 2 {
		t.Fatalf("Keys returned %v", keys)
	}
}
