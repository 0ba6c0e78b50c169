package cache

import (
	"context"
	"time"
)

// DefaultGetTimeout bounds provider reads when no (or a non-positive)
// timeout is configured. A lookup must never run unbounded.
const DefaultGetTimeout = 300 * time.Millisecond

// GuardedGet performs a provider read bounded by the given timeout.
// If the deadline elapses first the read is abandoned and the result is a
// miss; a slow backing store must never block the request path. The guard
// never retries.
func GuardedGet(ctx context.Context, p Provider, key string, timeout time.Duration) (*Entry, bool) {
	if timeout <= 0 {
		timeout = DefaultGetTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		entry *Entry
		ok    bool
	}
	// buffered so an abandoned read can still complete without leaking
	done := make(chan result, 1)
	go func() {
		entry, ok := p.Get(ctx, key)
		done <- result{entry, ok}
	}()

	select {
	case res := <-done:
		return res.entry, res.ok
	case <-ctx.Done():
		return nil, false
	}
}
