// Package dispatcher provides the main entry point for creating request dispatchers.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fivetwenty-io/callapi/internal/auth"
	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/internal/executor"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
)

// New creates a dispatcher bound to config.Context.
func New(config *callapi.Config) (callapi.Dispatcher, error) {
	if config == nil {
		return nil, callapi.ErrConfigRequired
	}

	cfg := config.WithDefaults()
	if cfg.BaseURL == "" {
		return nil, constants.ErrBaseURLRequired
	}

	switch cfg.Context {
	case callapi.ClientContext:
		exec, err := executor.NewClientExecutor(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create client dispatcher: %w", err)
		}

		return exec, nil

	case callapi.ServerContext:
		exec, err := executor.NewServerExecutor(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create server dispatcher: %w", err)
		}

		return exec, nil

	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrInvalidContext, cfg.Context)
	}
}

// NewClient creates a client-context dispatcher reading the token from storage.
func NewClient(baseURL string, storage callapi.TokenStorage, navigator callapi.Navigator) (callapi.Dispatcher, error) {
	return New(&callapi.Config{
		BaseURL:      baseURL,
		Context:      callapi.ClientContext,
		TokenStorage: storage,
		Navigator:    navigator,
	})
}

// NewServer creates a server-context dispatcher. A nil cache disables caching.
func NewServer(baseURL string, cache callapi.FetchCache) (callapi.Dispatcher, error) {
	return New(&callapi.Config{
		BaseURL:    baseURL,
		Context:    callapi.ServerContext,
		FetchCache: cache,
	})
}

// NewMemoryStorage creates process-local token storage.
func NewMemoryStorage() callapi.TokenStorage {
	return auth.NewMemoryStorage()
}

// NewFileStorage creates token storage persisted to a YAML file at path.
func NewFileStorage(path string) callapi.TokenStorage {
	return auth.NewFileStorage(path)
}

// WithRequest binds the inbound request to ctx so the server path can read
// its token cookie.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return auth.WithRequest(ctx, r)
}

// BindRequest is middleware that binds each inbound request to its own context.
func BindRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(auth.WithRequest(r.Context(), r)))
	})
}
