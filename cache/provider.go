package cache

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// State tracks the lifecycle of a provider instance.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Provider is the contract for a cache backing store.
// It stores and retrieves response entries keyed by fingerprint.
//
// Implementations must be thread-safe. Data operations on a provider that
// is not ready, or called with an invalid key, degrade to the no-op result
// with a logged warning. They never panic and never surface errors to the
// request path; the only fatal condition is a failure during Init.
type Provider interface {
	// Init prepares the provider for use. It is expected to run exactly
	// once per instance; calling it again while ready is a logged no-op.
	// A returned error means the instance is unusable.
	Init(ctx context.Context) error
	// Ready reports whether the provider can serve data operations.
	Ready() bool
	// Get returns the entry for the given key, if present and not expired.
	Get(ctx context.Context, key string) (*Entry, bool)
	// Set stores the entry under the given key, reporting success.
	Set(ctx context.Context, key string, entry *Entry) bool
	// Delete removes the entry for the given key. Deleting an absent key
	// is still a successful delete.
	Delete(ctx context.Context, key string) bool
	// Keys enumerates every live key in the provider's namespace.
	Keys(ctx context.Context) []string
	// Reset evicts every entry, reporting success.
	Reset(ctx context.Context) bool
	// ClearMatching deletes every key matching at least one of the given
	// regular expression patterns and returns the number cleared.
	ClearMatching(ctx context.Context, patterns []string) int
}

// ValidKey reports whether a key may be used for a data operation.
func ValidKey(key string) bool {
	return strings.TrimSpace(key) != ""
}

// compilePatterns compiles the given patterns, logging and skipping any
// that do not parse.
func compilePatterns(patterns []string, log zerolog.Logger) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn().Err(err).Str("pattern", pattern).Msg("Skipping invalid clear pattern")
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

func matchesAny(key string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}
