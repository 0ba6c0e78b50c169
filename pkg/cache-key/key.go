package cachekey

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

const (
	// RESTPrefix namespaces keys derived from plain resource requests.
	RESTPrefix = "cache:"
	// GraphQLPrefix namespaces keys derived from query-language payloads.
	GraphQLPrefix = "graphql:"

	fieldSeparator = ":"
	placeholder    = "***"
)

// trackedHeaders are the only request headers that participate in the key.
// Everything else (notably Authorization) must not influence it.
var trackedHeaders = []string{"accept-language", "accept", "user-agent"}

// Request is the normalized request description a REST key is derived from.
type Request struct {
	Method  string
	Path    string
	Query   map[string]any
	Headers map[string]string
}

// FromHTTP builds a normalized request description from an incoming request.
// Multi-valued query parameters keep their values in order.
func FromHTTP(r *http.Request) Request {
	query := make(map[string]any)
	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			query[name] = values[0]
		} else {
			vs := make([]any, len(values))
			for i, v := range values {
				vs[i] = v
			}
			query[name] = vs
		}
	}
	headers := make(map[string]string, len(trackedHeaders))
	for _, name := range trackedHeaders {
		headers[name] = r.Header.Get(name)
	}
	return Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   query,
		Headers: headers,
	}
}

// ForRequest computes the cache key for a normalized REST request.
// The key is deterministic: identical inputs yield identical keys
// regardless of map insertion order. A missing query serializes to the
// empty string, and absent tracked headers serialize as empty values.
func ForRequest(r Request) string {
	querySerialization := ""
	if len(r.Query) > 0 {
		querySerialization = canonicalize(r.Query)
	}
	tracked := make(map[string]any, len(trackedHeaders))
	for _, name := range trackedHeaders {
		tracked[name] = r.Headers[name]
	}
	material := r.Method + fieldSeparator +
		r.Path + fieldSeparator +
		querySerialization + fieldSeparator +
		canonicalize(tracked)
	return RESTPrefix + hash([]byte(material))
}

// Redactor replaces the values of sensitive payload fields with a fixed
// placeholder before the payload is hashed. Redaction is a textual pass
// over the raw payload, and it is idempotent: redacting already redacted
// text yields the same bytes.
type Redactor struct {
	patterns []*regexp.Regexp
	replace  [][]byte
}

// NewRedactor creates a redactor for the given field names.
// The "password" field is always included.
func NewRedactor(fields ...string) Redactor {
	names := append([]string{"password"}, fields...)
	r := Redactor{}
	seen := make(map[string]bool)
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		pattern := regexp.MustCompile(`"` + regexp.QuoteMeta(name) + `"\s*:\s*"(?:[^"\\]|\\.)*"`)
		r.patterns = append(r.patterns, pattern)
		r.replace = append(r.replace, []byte(`"`+name+`":"`+placeholder+`"`))
	}
	return r
}

// Redact returns the payload with every sensitive field value replaced.
func (r Redactor) Redact(payload []byte) []byte {
	for i, pattern := range r.patterns {
		payload = pattern.ReplaceAll(payload, r.replace[i])
	}
	return payload
}

// ForQuery computes the cache key for a raw query-language payload.
// The payload is redacted before hashing so that credentials never
// influence the key. An empty payload still yields a valid key.
func (r Redactor) ForQuery(payload []byte) string {
	return GraphQLPrefix + hash(r.Redact(payload))
}

func hash(material []byte) string {
	sum := sha256.Sum256(material)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// canonicalize produces a deterministic JSON representation of the value.
// Map keys are sorted so the result does not depend on iteration order.
func canonicalize(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSON(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		writeJSON(b, val)
	}
}

func writeJSON(b *strings.Builder, v any) {
	bts, err := json.Marshal(v)
	if err != nil {
		// coerce values the encoder rejects to their string form
		bts, _ = json.Marshal(fmt.Sprint(v))
	}
	b.Write(bts)
}
