package callapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
)

// Method is an HTTP method accepted by the dispatcher.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// ParseMethod parses a case-insensitive method name.
func ParseMethod(s string) (Method, error) {
	method := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !method.Valid() {
		return "", fmt.Errorf("%w: %q", constants.ErrInvalidMethod, s)
	}

	return method, nil
}

// Valid reports whether the method is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	default:
		return false
	}
}

// HasBody reports whether requests with this method carry a payload.
func (m Method) HasBody() bool {
	return m == MethodPost || m == MethodPut || m == MethodPatch
}

// Params are query parameters. Nil values are omitted from the query string.
type Params map[string]any

// RequestDescriptor describes one dispatched call. It is not modified by the dispatcher.
type RequestDescriptor struct {
	// Method defaults to GET when empty.
	Method Method
	// Params are appended to the URL as a query string.
	Params Params
	// Body is JSON-encoded for POST, PUT and PATCH. A *FormData body is sent as
	// multipart/form-data; []byte and json.RawMessage are sent as-is.
	Body any
	// Headers override the default headers.
	Headers map[string]string
	// Timeout overrides the configured timeout for this call.
	Timeout time.Duration
}

// EffectiveMethod returns the method, defaulting to GET.
func (r *RequestDescriptor) EffectiveMethod() Method {
	if r == nil || r.Method == "" {
		return MethodGet
	}

	return r.Method
}

// Discriminator returns the value that distinguishes cache keys for the same
// endpoint: the body for methods that carry one, the params otherwise.
func (r *RequestDescriptor) Discriminator() any {
	if r == nil {
		return nil
	}

	if r.EffectiveMethod().HasBody() && r.Body != nil {
		return r.Body
	}

	if len(r.Params) == 0 {
		return nil
	}

	return r.Params
}

// CacheDirectives are forwarded to the server path's FetchCache.
// The zero value disables caching for the call.
type CacheDirectives struct {
	// Revalidate is the lifetime of a cached response.
	Revalidate time.Duration
	// NoRevalidate keeps the cached response until one of its tags is revalidated.
	NoRevalidate bool
	// Tags label the cached response for RevalidateTag.
	Tags []string
	// NoStore bypasses the cache entirely, whatever the other fields say.
	NoStore bool
}

// Active reports whether the directives ask for caching.
func (d *CacheDirectives) Active() bool {
	if d == nil || d.NoStore {
		return false
	}

	return d.Revalidate > 0 || d.NoRevalidate || len(d.Tags) > 0
}

// TTL returns the cache lifetime; zero means no expiry.
func (d *CacheDirectives) TTL() time.Duration {
	if d == nil || d.NoStore || d.NoRevalidate || d.Revalidate <= 0 {
		return 0
	}

	return d.Revalidate
}
