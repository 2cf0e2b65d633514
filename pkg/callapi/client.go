package callapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrConfigRequired = errors.New("config is required")
)

// ExecutionContext selects the execution path of a Dispatcher.
type ExecutionContext string

const (
	// ClientContext sends requests like a browser: token from persistent
	// storage, logout and navigation on 401.
	ClientContext ExecutionContext = "client"

	// ServerContext sends requests like a server renderer: token from the
	// inbound request's cookies, cache directives forwarded to a FetchCache.
	ServerContext ExecutionContext = "server"
)

// ParseExecutionContext parses "client" or "server".
func ParseExecutionContext(s string) (ExecutionContext, error) {
	switch ExecutionContext(strings.ToLower(strings.TrimSpace(s))) {
	case ClientContext:
		return ClientContext, nil
	case ServerContext:
		return ServerContext, nil
	default:
		return "", fmt.Errorf("%w: %q", constants.ErrInvalidContext, s)
	}
}

// Dispatcher sends a request through the execution path chosen at construction.
type Dispatcher interface {
	// Context returns the execution context the dispatcher is bound to.
	Context() ExecutionContext
	// Do sends the request and never returns a nil envelope.
	Do(ctx context.Context, endpoint string, req *RequestDescriptor, directives *CacheDirectives) *Envelope[json.RawMessage]
}

// Logger interface for logging.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Navigator performs the full navigation triggered by an expired session.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

// Navigate calls f(route).
func (f NavigatorFunc) Navigate(route string) {
	f(route)
}

// TokenStorage is persistent key-value storage, the process-side equivalent of
// a browser's local storage.
type TokenStorage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// FetchCache is the data layer that honors server-path cache directives.
type FetchCache interface {
	// Lookup returns a live entry for key.
	Lookup(ctx context.Context, key QueryKey) (*CacheEntry, bool)
	// Store saves entry under key according to directives.
	Store(ctx context.Context, key QueryKey, entry *CacheEntry, directives *CacheDirectives) error
}

// Config represents configuration for building a Dispatcher.
//
// # Execution context
//
// Context must be set explicitly. There is no probing of the runtime
// environment: a process that needs both paths builds two dispatchers.
//
// # Authentication
//
// In the client context the bearer token is read from TokenStorage under
// TokenStorageKey. A 401 response deletes that key and calls
// Navigator.Navigate(LoginRoute). In the server context the token is read from
// the cookie TokenCookieName of the inbound request bound to the call's
// context (see dispatcher.WithRequest). Neither path writes tokens otherwise.
//
// # Timeouts and retries
//
// Timeout bounds each call and is reported as a 408 envelope when exceeded.
// Dispatch does not retry. RetryMax only applies to the client path and is
// zero unless a caller opts in.
type Config struct {
	// BaseURL is prepended to relative endpoints. Absolute http(s) endpoints
	// are used as-is.
	BaseURL string
	// Context selects the execution path.
	Context ExecutionContext

	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration
	// Headers are sent with every request, after the JSON defaults.
	Headers map[string]string
	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// TokenStorage holds the client-path token. Required in the client context.
	TokenStorage TokenStorage
	// TokenStorageKey names the token entry. Defaults to "access_token".
	TokenStorageKey string
	// Navigator receives the login navigation after a client-path 401.
	Navigator Navigator
	// LoginRoute is passed to Navigator. Defaults to "/login".
	LoginRoute string

	// TokenCookieName names the server-path token cookie. Defaults to "auth_token".
	TokenCookieName string
	// FetchCache receives server-path cache directives. Nil disables caching.
	FetchCache FetchCache
	// HTTPClient overrides the pooled server-path client.
	HTTPClient *http.Client

	// RetryMax enables client-path retries for connection errors and 5xx.
	RetryMax int
	// RetryWaitMin is the minimum backoff between retries.
	RetryWaitMin time.Duration
	// RetryWaitMax is the maximum backoff between retries.
	RetryWaitMax time.Duration

	// Interceptors run around every request on both paths.
	Interceptors *InterceptorChain
	// Debug enables request/response logging when a Logger is provided.
	Debug bool
	// Logger is an optional structured logger.
	Logger Logger
}

// WithDefaults returns a copy of the config with unset fields defaulted.
func (c *Config) WithDefaults() *Config {
	out := *c

	out.BaseURL = strings.TrimSuffix(strings.TrimSpace(out.BaseURL), "/")

	if out.Timeout <= 0 {
		out.Timeout = constants.DefaultHTTPTimeout
	}

	if out.TokenStorageKey == "" {
		out.TokenStorageKey = constants.DefaultTokenStorageKey
	}

	if out.TokenCookieName == "" {
		out.TokenCookieName = constants.DefaultTokenCookieName
	}

	if out.LoginRoute == "" {
		out.LoginRoute = constants.DefaultLoginRoute
	}

	if out.RetryMax > 0 {
		if out.RetryWaitMin <= 0 {
			out.RetryWaitMin = constants.DefaultRetryWaitMin
		}

		if out.RetryWaitMax <= 0 {
			out.RetryWaitMax = constants.DefaultRetryWaitMax
		}
	}

	return &out
}
