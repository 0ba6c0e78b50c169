package core

import (
	"net/http"
	"strings"
)

// HeaderPolicy decides which response headers are eligible for storage and
// replay. A denied header is never eligible; when an allow list is present
// the eligible set is further restricted to it. An empty allow list means
// no restriction beyond the deny list. The same policy is applied at store
// time and at replay time.
type HeaderPolicy struct {
	enabled bool
	allow   map[string]bool
	deny    map[string]bool
}

// NewHeaderPolicy builds a policy from the enable flag and the configured
// allow and deny lists. Header names match case-insensitively.
func NewHeaderPolicy(enabled bool, allowList, denyList []string) HeaderPolicy {
	p := HeaderPolicy{
		enabled: enabled,
		allow:   make(map[string]bool, len(allowList)),
		deny:    make(map[string]bool, len(denyList)),
	}
	for _, name := range allowList {
		p.allow[strings.ToLower(name)] = true
	}
	for _, name := range denyList {
		p.deny[strings.ToLower(name)] = true
	}
	return p
}

// Enabled reports whether any headers are stored and replayed at all.
func (p HeaderPolicy) Enabled() bool {
	return p.enabled
}

func (p HeaderPolicy) eligible(name string) bool {
	lower := strings.ToLower(name)
	if p.deny[lower] {
		return false
	}
	if len(p.allow) > 0 && !p.allow[lower] {
		return false
	}
	return true
}

// Filter returns the storable subset of the given response headers.
// It returns nil when the policy is disabled.
func (p HeaderPolicy) Filter(h http.Header) map[string]string {
	if !p.enabled {
		return nil
	}
	subset := make(map[string]string)
	for name := range h {
		if p.eligible(name) {
			subset[name] = h.Get(name)
		}
	}
	return subset
}

// FilterStored re-applies the policy to a previously stored header subset,
// so replay honors the same rules as storage.
func (p HeaderPolicy) FilterStored(stored map[string]string) map[string]string {
	if !p.enabled || stored == nil {
		return nil
	}
	subset := make(map[string]string, len(stored))
	for name, value := range stored {
		if p.eligible(name) {
			subset[name] = value
		}
	}
	return subset
}
