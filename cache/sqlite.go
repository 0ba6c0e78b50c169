package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteConfig configures the file-backed provider.
type SQLiteConfig struct {
	// Path is the database file. Use "file::memory:?cache=shared" for an
	// in-memory database.
	Path string
	// TTL is the per-entry time-to-live. Zero stores without expiration.
	TTL time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// SQLiteProvider persists entries in a local SQLite database, surviving
// process restarts. Entries carry an absolute expiry in unix milliseconds;
// zero means no expiration.
type SQLiteProvider struct {
	mu    sync.Mutex
	cfg   SQLiteConfig
	log   zerolog.Logger
	db    *sql.DB
	write sync.Mutex
	state State
}

// NewSQLiteProvider creates an uninitialized SQLite provider.
func NewSQLiteProvider(cfg SQLiteConfig) *SQLiteProvider {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &SQLiteProvider{
		cfg: cfg,
		log: logger.With().Str("provider", "sqlite").Logger(),
	}
}

func (p *SQLiteProvider) Init(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateReady {
		p.log.Error().Msg("Init called on an already initialized provider")
		return nil
	}
	if p.cfg.Path == "" {
		p.state = StateFailed
		return fmt.Errorf("sqlite provider: no database path configured")
	}
	if p.cfg.TTL < 0 {
		p.state = StateFailed
		return fmt.Errorf("sqlite provider: ttl must not be negative, got %s", p.cfg.TTL)
	}
	db, err := sql.Open("sqlite", p.cfg.Path)
	if err != nil {
		p.state = StateFailed
		return fmt.Errorf("sqlite provider: could not open database: %w", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, expires INTEGER, bytes BLOB)",
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			p.state = StateFailed
			return fmt.Errorf("sqlite provider: could not prepare database: %w", err)
		}
	}
	p.db = db
	p.state = StateReady
	return nil
}

func (p *SQLiteProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateReady
}

func (p *SQLiteProvider) usable(op, key string, needKey bool) bool {
	if !p.Ready() {
		p.log.Warn().Str("op", op).Msg("Provider not ready")
		return false
	}
	if needKey && !ValidKey(key) {
		p.log.Warn().Str("op", op).Msg("Invalid cache key")
		return false
	}
	return true
}

func (p *SQLiteProvider) Get(ctx context.Context, key string) (*Entry, bool) {
	if !p.usable("get", key, true) {
		return nil, false
	}
	var expires int64
	var raw []byte
	err := p.db.QueryRowContext(ctx, "SELECT expires, bytes FROM cache WHERE key = ?", key).
		Scan(&expires, &raw)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Database read failed")
		return nil, false
	}
	if expires > 0 && time.Now().UnixMilli() > expires {
		// expired entries are purged opportunistically
		p.Delete(ctx, key)
		return nil, false
	}
	entry, err := DecodeEntry(raw)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Malformed stored entry")
		return nil, false
	}
	return entry, true
}

func (p *SQLiteProvider) Set(ctx context.Context, key string, entry *Entry) bool {
	if !p.usable("set", key, true) || entry == nil {
		return false
	}
	raw, err := entry.Encode()
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Could not serialize entry")
		return false
	}
	var expires int64
	if p.cfg.TTL > 0 {
		expires = time.Now().Add(p.cfg.TTL).UnixMilli()
	}
	p.write.Lock()
	defer p.write.Unlock()
	_, err = p.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, expires, bytes) VALUES (?, ?, ?)",
		key, expires, raw)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Database write failed")
		return false
	}
	return true
}

func (p *SQLiteProvider) Delete(ctx context.Context, key string) bool {
	if !p.usable("delete", key, true) {
		return false
	}
	p.write.Lock()
	defer p.write.Unlock()
	if _, err := p.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Database delete failed")
		return false
	}
	return true
}

func (p *SQLiteProvider) Keys(ctx context.Context) []string {
	if !p.usable("keys", "", false) {
		return nil
	}
	rows, err := p.db.QueryContext(ctx, "SELECT key FROM cache")
	if err != nil {
		p.log.Warn().Err(err).Msg("Database key scan failed")
		return nil
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			p.log.Warn().Err(err).Msg("Database key scan failed")
			return keys
		}
		keys = append(keys, key)
	}
	return keys
}

func (p *SQLiteProvider) Reset(ctx context.Context) bool {
	if !p.usable("reset", "", false) {
		return false
	}
	ok := true
	for _, key := range p.Keys(ctx) {
		if !p.Delete(ctx, key) {
			ok = false
		}
	}
	return ok
}

func (p *SQLiteProvider) ClearMatching(ctx context.Context, patterns []string) int {
	if !p.usable("clear-matching", "", false) {
		return 0
	}
	compiled := compilePatterns(patterns, p.log)
	cleared := 0
	for _, key := range p.Keys(ctx) {
		if matchesAny(key, compiled) && p.Delete(ctx, key) {
			cleared++
		}
	}
	p.log.Debug().Int("cleared", cleared).Msg("Cleared matching entries")
	return cleared
}

// Close closes the underlying database.
func (p *SQLiteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

var _ Provider = (*SQLiteProvider)(nil)
