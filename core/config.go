package core

import (
	"fmt"
	"time"

	"github.com/response-cache/response-cache/cache"
)

// Provider selectors recognized by the configuration.
const (
	ProviderMemory = "memory"
	ProviderRemote = "remote"
	ProviderSQLite = "sqlite"
)

// DefaultGraphQLEndpoint is the path the query-language middleware caches.
const DefaultGraphQLEndpoint = "/graphql"

// RemoteSettings selects the external store the remote provider connects to.
type RemoteSettings struct {
	// Addr is a single store endpoint.
	Addr string
	// ClusterAddrs lists cluster nodes; takes precedence over Addr.
	ClusterAddrs []string
	// Namespace prefixes stored keys.
	Namespace string
	// Username and Password authenticate against the store if set.
	Username string
	Password string
}

// Config is the caching layer's configuration. It is consumed once at
// initialization; validated values never change at runtime.
type Config struct {
	// Provider selects the backing store: memory, remote or sqlite.
	Provider string
	// Max bounds the entry count of the memory provider. Must be positive.
	Max int
	// Size bounds the aggregate entry bytes of the memory provider.
	// Must be positive.
	Size int64
	// TTL is the per-entry time-to-live. Zero disables expiration.
	TTL time.Duration
	// AllowStale serves expired entries instead of treating them as absent.
	AllowStale bool
	// CacheGetTimeout bounds every cache lookup. Non-positive values are
	// coerced to a safe default, never treated as "no timeout".
	CacheGetTimeout time.Duration
	// Remote configures the external store when Provider is remote.
	Remote RemoteSettings
	// SQLitePath is the database file when Provider is sqlite.
	SQLitePath string
	// CacheHeaders enables storing and replaying response headers.
	CacheHeaders bool
	// CacheHeadersAllowList restricts which headers are eligible.
	// Empty means no restriction beyond the deny list.
	CacheHeadersAllowList []string
	// CacheHeadersDenyList names headers that are never stored.
	CacheHeadersDenyList []string
	// CacheAuthorizedRequests permits caching requests that carry an
	// authorization credential.
	CacheAuthorizedRequests bool
	// CacheableRoutes lists route patterns eligible for caching.
	// Empty means all routes are eligible.
	CacheableRoutes []string
	// GraphQLEndpoint is the path served by the query-language middleware.
	GraphQLEndpoint string
	// SensitiveFields are payload fields redacted before fingerprinting,
	// in addition to password.
	SensitiveFields []string
}

// DefaultConfig returns a config with safe defaults for the memory provider.
func DefaultConfig() Config {
	return Config{
		Provider:        ProviderMemory,
		Max:             1000,
		Size:            64 << 20,
		TTL:             time.Minute,
		CacheGetTimeout: cache.DefaultGetTimeout,
		GraphQLEndpoint: DefaultGraphQLEndpoint,
	}
}

// Validate checks the configuration, returning one error per violated
// rule. Auxiliary values (the lookup timeout, the query-language endpoint)
// are coerced by Normalize instead; bound violations are never defaulted
// away silently.
func (c Config) Validate() []error {
	var errs []error
	switch c.Provider {
	case ProviderMemory, ProviderRemote, ProviderSQLite:
	default:
		errs = append(errs, fmt.Errorf("config: unknown provider %q", c.Provider))
	}
	if c.Max <= 0 {
		errs = append(errs, fmt.Errorf("config: max must be positive, got %d", c.Max))
	}
	if c.Size <= 0 {
		errs = append(errs, fmt.Errorf("config: size must be positive, got %d", c.Size))
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("config: ttl must not be negative, got %s", c.TTL))
	}
	return errs
}

// Normalize coerces permissive values to their defaults.
func (c Config) Normalize() Config {
	if c.CacheGetTimeout <= 0 {
		c.CacheGetTimeout = cache.DefaultGetTimeout
	}
	if c.GraphQLEndpoint == "" {
		c.GraphQLEndpoint = DefaultGraphQLEndpoint
	}
	return c
}
