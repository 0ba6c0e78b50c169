package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MemoryConfig configures the bounded in-process provider.
type MemoryConfig struct {
	// MaxEntries is the maximum number of live entries. Must be positive.
	MaxEntries int
	// MaxBytes bounds the aggregate approximate entry size. Must be positive.
	MaxBytes int64
	// TTL is the per-entry time-to-live. Zero means entries never expire.
	TTL time.Duration
	// AllowStale serves expired entries instead of evicting them.
	AllowStale bool
	// DisableSliding stops hits from refreshing an entry's expiry.
	DisableSliding bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type memoryItem struct {
	key     string
	entry   *Entry
	size    int64
	expires time.Time
}

// MemoryProvider is a process-local least-recently-used store bounded by
// entry count, aggregate byte size and per-entry TTL.
type MemoryProvider struct {
	mu    sync.Mutex
	cfg   MemoryConfig
	log   zerolog.Logger
	state State
	ll    *list.List // front is most recently used
	items map[string]*list.Element
	bytes int64
}

// NewMemoryProvider creates an uninitialized memory provider.
func NewMemoryProvider(cfg MemoryConfig) *MemoryProvider {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &MemoryProvider{
		cfg:   cfg,
		log:   logger.With().Str("provider", "memory").Logger(),
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (m *MemoryProvider) Init(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateReady {
		m.log.Error().Msg("Init called on an already initialized provider")
		return nil
	}
	if m.cfg.MaxEntries <= 0 {
		m.state = StateFailed
		return fmt.Errorf("memory provider: max entries must be positive, got %d", m.cfg.MaxEntries)
	}
	if m.cfg.MaxBytes <= 0 {
		m.state = StateFailed
		return fmt.Errorf("memory provider: max bytes must be positive, got %d", m.cfg.MaxBytes)
	}
	if m.cfg.TTL < 0 {
		m.state = StateFailed
		return fmt.Errorf("memory provider: ttl must not be negative, got %s", m.cfg.TTL)
	}
	m.state = StateReady
	return nil
}

func (m *MemoryProvider) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady
}

func (m *MemoryProvider) usable(op, key string, needKey bool) bool {
	if m.state != StateReady {
		m.log.Warn().Str("op", op).Stringer("state", m.state).Msg("Provider not ready")
		return false
	}
	if needKey && !ValidKey(key) {
		m.log.Warn().Str("op", op).Msg("Invalid cache key")
		return false
	}
	return true
}

func (m *MemoryProvider) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable("get", key, true) {
		return nil, false
	}
	el, ok := m.items[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*memoryItem)
	if m.expired(item) {
		if !m.cfg.AllowStale {
			m.remove(el)
			return nil, false
		}
		// stale entries are served as-is, without refreshing expiry
		m.ll.MoveToFront(el)
		return item.entry, true
	}
	m.ll.MoveToFront(el)
	if m.cfg.TTL > 0 && !m.cfg.DisableSliding {
		item.expires = time.Now().Add(m.cfg.TTL)
	}
	return item.entry, true
}

func (m *MemoryProvider) Set(_ context.Context, key string, entry *Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable("set", key, true) || entry == nil {
		return false
	}
	var expires time.Time
	if m.cfg.TTL > 0 {
		expires = time.Now().Add(m.cfg.TTL)
	}
	size := entry.Size() + int64(len(key))
	if el, ok := m.items[key]; ok {
		item := el.Value.(*memoryItem)
		m.bytes += size - item.size
		item.entry = entry
		item.size = size
		item.expires = expires
		m.ll.MoveToFront(el)
	} else {
		el := m.ll.PushFront(&memoryItem{key: key, entry: entry, size: size, expires: expires})
		m.items[key] = el
		m.bytes += size
	}
	m.evict()
	return true
}

func (m *MemoryProvider) Delete(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable("delete", key, true) {
		return false
	}
	if el, ok := m.items[key]; ok {
		m.remove(el)
	}
	return true
}

func (m *MemoryProvider) Keys(_ context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable("keys", "", false) {
		return nil
	}
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	return keys
}

func (m *MemoryProvider) Reset(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable("reset", "", false) {
		return false
	}
	// collect first, then delete, so an interrupted reset cannot leave
	// the index and the list disagreeing
	elements := make([]*list.Element, 0, len(m.items))
	for _, el := range m.items {
		elements = append(elements, el)
	}
	for _, el := range elements {
		m.remove(el)
	}
	return true
}

func (m *MemoryProvider) ClearMatching(_ context.Context, patterns []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable("clear-matching", "", false) {
		return 0
	}
	compiled := compilePatterns(patterns, m.log)
	cleared := 0
	// full scan; acceptable because the store is bounded
	for key, el := range m.items {
		if matchesAny(key, compiled) {
			m.remove(el)
			cleared++
		}
	}
	m.log.Debug().Int("cleared", cleared).Msg("Cleared matching entries")
	return cleared
}

// Len returns the number of live entries.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Bytes returns the approximate aggregate size of live entries.
func (m *MemoryProvider) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

func (m *MemoryProvider) expired(item *memoryItem) bool {
	return !item.expires.IsZero() && time.Now().After(item.expires)
}

// evict removes least-recently-used entries until the store is within its
// count and byte bounds. Callers must hold the lock.
func (m *MemoryProvider) evict() {
	for m.ll.Len() > 0 && (m.ll.Len() > m.cfg.MaxEntries || m.bytes > m.cfg.MaxBytes) {
		oldest := m.ll.Back()
		m.log.Debug().Str("key", oldest.Value.(*memoryItem).key).Msg("Evicting entry")
		m.remove(oldest)
	}
}

func (m *MemoryProvider) remove(el *list.Element) {
	item := el.Value.(*memoryItem)
	m.ll.Remove(el)
	delete(m.items, item.key)
	m.bytes -= item.size
}

var _ Provider = (*MemoryProvider)(nil)
