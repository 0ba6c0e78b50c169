package core

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/response-cache/response-cache/cache"
	cachekey "github.com/response-cache/response-cache/pkg/cache-key"
	tee "github.com/response-cache/response-cache/pkg/response-tee"
)

// GraphQLMiddleware intercepts query-language requests on a single
// endpoint. The fingerprint is derived from the raw request payload with
// sensitive fields redacted, so credentials never reach the key space.
// Schema-introspection requests bypass the cache unconditionally.
type GraphQLMiddleware struct {
	provider cache.Provider
	cfg      Config
	policy   HeaderPolicy
	redactor cachekey.Redactor
	log      zerolog.Logger
}

// NewGraphQLMiddleware validates the configuration and builds the
// query-language middleware. The provider must already be initialized.
func NewGraphQLMiddleware(cfg Config, provider cache.Provider, logger *zerolog.Logger) (*GraphQLMiddleware, error) {
	cfg = cfg.Normalize()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return &GraphQLMiddleware{
		provider: provider,
		cfg:      cfg,
		policy:   NewHeaderPolicy(cfg.CacheHeaders, cfg.CacheHeadersAllowList, cfg.CacheHeadersDenyList),
		redactor: cachekey.NewRedactor(cfg.SensitiveFields...),
		log:      componentLogger(logger, "graphql"),
	}, nil
}

// Wrap returns a handler that caches eligible query-language responses.
// Requests outside the configured endpoint pass through untouched.
func (m *GraphQLMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.serve(w, r, next)
	})
}

func (m *GraphQLMiddleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if r.Method != http.MethodPost || r.URL.Path != m.cfg.GraphQLEndpoint {
		next.ServeHTTP(w, r)
		return
	}
	if bypassRequested(r, m.cfg) {
		w.Header().Set(CacheStatusHeader, statusBypass)
		next.ServeHTTP(w, r)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not read request payload")
		next.ServeHTTP(w, r)
		return
	}
	r.Body.Close()
	// the downstream pipeline gets the payload back untouched
	r.Body = io.NopCloser(bytes.NewReader(payload))

	if isIntrospection(payload) {
		w.Header().Set(CacheStatusHeader, statusBypass)
		next.ServeHTTP(w, r)
		return
	}

	key := m.redactor.ForQuery(payload)
	log := m.log.With().Str("key", key).Logger()

	if entry, ok := cache.GuardedGet(r.Context(), m.provider, key, m.cfg.CacheGetTimeout); ok {
		log.Debug().Msg("Serving cached response")
		m.replay(w, entry)
		return
	}

	saver := tee.NewResponseSaver(w)
	saver.Header().Set(CacheStatusHeader, statusMiss)
	next.ServeHTTP(saver, r)

	if !cacheableStatus(saver.StatusCode()) {
		return
	}
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

func (m *GraphQLMiddleware) replay(w http.ResponseWriter, entry *cache.Entry) {
	headers := m.policy.FilterStored(entry.Headers)
	if headers["Content-Type"] == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(CacheStatusHeader, statusHit)
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

// isIntrospection detects schema-introspection payloads, which are never
// routed through the cache.
func isIntrospection(payload []byte) bool {
	return bytes.Contains(payload, []byte("__schema")) ||
		bytes.Contains(payload, []byte("IntrospectionQuery"))
}
