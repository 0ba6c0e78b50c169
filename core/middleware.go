package core

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/response-cache/response-cache/cache"
	cachekey "github.com/response-cache/response-cache/pkg/cache-key"
	tee "github.com/response-cache/response-cache/pkg/response-tee"
)

// CacheStatusHeader reports how the caching layer handled a request.
const CacheStatusHeader = "X-Cache"

const (
	statusHit    = "HIT"
	statusMiss   = "MISS"
	statusBypass = "BYPASS"
)

// Middleware intercepts plain resource requests: it serves stored
// responses on fingerprint hits and captures responses for future reuse
// on misses. A provider failure never changes the outcome of the
// underlying request beyond "it wasn't served from cache".
type Middleware struct {
	provider cache.Provider
	cfg      Config
	policy   HeaderPolicy
	routes   []*regexp.Regexp
	log      zerolog.Logger
}

// NewMiddleware validates the configuration and builds the middleware.
// The provider must already be initialized by the caller.
func NewMiddleware(cfg Config, provider cache.Provider, logger *zerolog.Logger) (*Middleware, error) {
	cfg = cfg.Normalize()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	routes, err := compileRoutes(cfg.CacheableRoutes)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		provider: provider,
		cfg:      cfg,
		policy:   NewHeaderPolicy(cfg.CacheHeaders, cfg.CacheHeadersAllowList, cfg.CacheHeadersDenyList),
		routes:   routes,
		log:      componentLogger(logger, "rest"),
	}, nil
}

// Wrap returns a handler that serves from cache when possible and invokes
// next otherwise.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(w, r, next)
	})
}

func (m *Middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !m.routeCacheable(r.URL.Path) || bypassRequested(r, m.cfg) {
		w.Header().Set(CacheStatusHeader, statusBypass)
		next.ServeHTTP(w, r)
		return
	}

	key := cachekey.ForRequest(cachekey.FromHTTP(r))
	log := m.log.With().Str("key", key).Logger()

	if entry, ok := cache.GuardedGet(r.Context(), m.provider, key, m.cfg.CacheGetTimeout); ok {
		log.Debug().Msg("Serving cached response")
		replay(w, entry, m.policy)
		return
	}

	saver := tee.NewResponseSaver(w)
	saver.Header().Set(CacheStatusHeader, statusMiss)
	next.ServeHTTP(saver, r)

	if !cacheableStatus(saver.StatusCode()) {
		return
	}
	// re-check the authorization rule, it may depend on response-time state
	if authorized(r) && !m.cfg.CacheAuthorizedRequests {
		return
	}
	entry := captureEntry(saver, m.policy, log)
	if entry == nil {
		return
	}
	if !m.provider.Set(r.Context(), key, entry) {
		log.Warn().Msg("Could not write to cache")
	}
}

func (m *Middleware) routeCacheable(path string) bool {
	if len(m.routes) == 0 {
		return true
	}
	for _, route := range m.routes {
		if route.MatchString(path) {
			return true
		}
	}
	return false
}

func compileRoutes(patterns []string) ([]*regexp.Regexp, error) {
	routes := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		route, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("config: invalid cacheable route %q: %w", pattern, err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// bypassRequested reports whether the request must skip the cache: an
// explicit no-cache directive, or an authorization credential when the
// configuration disallows caching authorized requests.
func bypassRequested(r *http.Request, cfg Config) bool {
	directive := strings.ToLower(r.Header.Get("Cache-Control"))
	if strings.Contains(directive, "no-cache") || strings.Contains(directive, "no-store") {
		return true
	}
	if authorized(r) && !cfg.CacheAuthorizedRequests {
		return true
	}
	return false
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") != ""
}

func cacheableStatus(status int) bool {
	return status >= 200 && status < 300
}

// replay writes a stored entry to the client, applying the header policy
// the same way it was applied at store time.
func replay(w http.ResponseWriter, entry *cache.Entry, policy HeaderPolicy) {
	for name, value := range policy.FilterStored(entry.Headers) {
		w.Header().Set(name, value)
	}
	w.Header().Set(CacheStatusHeader, statusHit)
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

// captureEntry converts a captured response into a storable entry.
// Compressed bodies are stored decoded; the bytes already sent to the
// client are untouched. Returns nil when the capture cannot be stored.
func captureEntry(saver *tee.ResponseSaver, policy HeaderPolicy, log zerolog.Logger) *cache.Entry {
	body := saver.Body()
	headers := policy.Filter(saver.Header())
	// the status header describes this request, not the stored copy
	delete(headers, CacheStatusHeader)
	if strings.EqualFold(saver.Header().Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Msg("Could not decode compressed response for caching")
			return nil
		}
		decoded, err := io.ReadAll(gz)
		gz.Close()
		if err != nil {
			log.Warn().Err(err).Msg("Could not decode compressed response for caching")
			return nil
		}
		body = decoded
		// stored bodies are identity-encoded
		delete(headers, "Content-Encoding")
		delete(headers, "Content-Length")
	}
	return &cache.Entry{
		Status:  saver.StatusCode(),
		Headers: headers,
		Body:    body,
	}
}

func componentLogger(logger *zerolog.Logger, component string) zerolog.Logger {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return l.With().Str("middleware", component).Logger()
}

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
