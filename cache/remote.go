package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultNamespace prefixes every key the remote provider writes, so a
// shared store can host several caches side by side.
const DefaultNamespace = "response-cache:"

const initTimeout = 5 * time.Second

// RemoteConfig configures the external key-value store provider.
type RemoteConfig struct {
	// Addr is the address of a single store node.
	Addr string
	// ClusterAddrs lists cluster node addresses. When non-empty it takes
	// precedence over Addr.
	ClusterAddrs []string
	// Username and Password authenticate against the store if set.
	Username string
	Password string
	// Namespace prefixes all keys. DefaultNamespace is used if empty.
	Namespace string
	// TTL is the per-entry time-to-live. Zero stores without expiration.
	TTL time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// RemoteProvider stores entries in an external key-value store, reachable
// as a single node or a cluster. It is a client of the store's native
// protocol; connection multiplexing is the client library's concern and
// concurrent requests are issued independently.
type RemoteProvider struct {
	mu     sync.Mutex
	cfg    RemoteConfig
	log    zerolog.Logger
	client redis.UniversalClient
	state  State
}

// NewRemoteProvider creates an uninitialized remote provider.
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	return &RemoteProvider{
		cfg: cfg,
		log: logger.With().Str("provider", "remote").Logger(),
	}
}

// Init establishes the store connection. A connection failure here is
// fatal to this provider instance, but not to the process.
func (p *RemoteProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateReady {
		p.log.Error().Msg("Init called on an already initialized provider")
		return nil
	}
	if p.cfg.Addr == "" && len(p.cfg.ClusterAddrs) == 0 {
		p.state = StateFailed
		return errors.New("remote provider: no store address configured")
	}

	// connection lifecycle signals feed observability only; they never
	// flip readiness after init
	onConnect := func(_ context.Context, _ *redis.Conn) error {
		p.log.Debug().Msg("Store connection established")
		return nil
	}
	if len(p.cfg.ClusterAddrs) > 0 {
		p.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     p.cfg.ClusterAddrs,
			Username:  p.cfg.Username,
			Password:  p.cfg.Password,
			OnConnect: onConnect,
		})
	} else {
		p.client = redis.NewClient(&redis.Options{
			Addr:      p.cfg.Addr,
			Username:  p.cfg.Username,
			Password:  p.cfg.Password,
			OnConnect: onConnect,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err := p.client.Ping(pingCtx).Err(); err != nil {
		p.state = StateFailed
		return fmt.Errorf("remote provider: could not reach store: %w", err)
	}
	p.state = StateReady
	return nil
}

func (p *RemoteProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateReady
}

func (p *RemoteProvider) usable(op, key string, needKey bool) bool {
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

func (p *RemoteProvider) Get(ctx context.Context, key string) (*Entry, bool) {
	if !p.usable("get", key, true) {
		return nil, false
	}
	raw, err := p.client.Get(ctx, p.cfg.Namespace+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Store read failed")
		return nil, false
	}
	entry, err := DecodeEntry(raw)
	if err != nil {
		// malformed payloads are a miss, never a request failure
		p.log.Warn().Err(err).Str("key", key).Msg("Malformed stored entry")
		return nil, false
	}
	return entry, true
}

func (p *RemoteProvider) Set(ctx context.Context, key string, entry *Entry) bool {
	if !p.usable("set", key, true) || entry == nil {
		return false
	}
	raw, err := entry.Encode()
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Could not serialize entry")
		return false
	}
	ttl := p.cfg.TTL
	if ttl < 0 {
		ttl = 0
	}
	// ttl 0 stores without expiration, per the store's own semantics
	if err := p.client.Set(ctx, p.cfg.Namespace+key, raw, ttl).Err(); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Store write failed")
		return false
	}
	return true
}

func (p *RemoteProvider) Delete(ctx context.Context, key string) bool {
	if !p.usable("delete", key, true) {
		return false
	}
	if err := p.client.Del(ctx, p.cfg.Namespace+key).Err(); err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Store delete failed")
		return false
	}
	// deleting an absent key is still a successful delete
	return true
}

// Keys enumerates all keys in the provider's namespace. This is a full
// scan; callers needing cheaper invalidation should prefer Delete.
func (p *RemoteProvider) Keys(ctx context.Context) []string {
	if !p.usable("keys", "", false) {
		return nil
	}
	var keys []string
	var err error
	// SCAN cursors are per-node state: a cluster has to be walked one
	// master at a time or shards outside the chosen node are never seen.
	if cluster, ok := p.client.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			nodeKeys, scanErr := p.scanKeys(ctx, node)
			mu.Lock()
			keys = append(keys, nodeKeys...)
			mu.Unlock()
			return scanErr
		})
	} else {
		keys, err = p.scanKeys(ctx, p.client)
	}
	if err != nil {
		p.log.Warn().Err(err).Msg("Store key scan failed")
	}
	return keys
}

type keyScanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

func (p *RemoteProvider) scanKeys(ctx context.Context, client keyScanner) ([]string, error) {
	var keys []string
	iter := client.Scan(ctx, 0, p.cfg.Namespace+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), p.cfg.Namespace))
	}
	return keys, iter.Err()
}

func (p *RemoteProvider) Reset(ctx context.Context) bool {
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

func (p *RemoteProvider) ClearMatching(ctx context.Context, patterns []string) int {
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

// Close releases the store connection.
func (p *RemoteProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

var _ Provider = (*RemoteProvider)(nil)
