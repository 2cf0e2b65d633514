package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
)

// TokenSource supplies the bearer token for one request. An empty token
// with a nil error means the request is sent without Authorization.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StorageTokenSource reads the token from persistent storage on every call.
type StorageTokenSource struct {
	storage callapi.TokenStorage
	key     string
}

// NewStorageTokenSource creates a token source reading key from storage.
func NewStorageTokenSource(storage callapi.TokenStorage, key string) (*StorageTokenSource, error) {
	if storage == nil {
		return nil, constants.ErrStorageRequired
	}

	if key == "" {
		key = constants.DefaultTokenStorageKey
	}

	return &StorageTokenSource{storage: storage, key: key}, nil
}

// Token returns the stored token or "".
func (s *StorageTokenSource) Token(ctx context.Context) (string, error) {
	value, ok, err := s.storage.Get(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	if !ok {
		return "", nil
	}

	return value, nil
}

// Clear deletes the stored token.
func (s *StorageTokenSource) Clear() error {
	err := s.storage.Delete(s.key)
	if err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}

	return nil
}

// Key returns the storage key.
func (s *StorageTokenSource) Key() string {
	return s.key
}

type requestContextKey struct{}

// WithRequest binds the inbound request to ctx for CookieTokenSource.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, r)
}

// RequestFromContext returns the inbound request bound by WithRequest.
func RequestFromContext(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(requestContextKey{}).(*http.Request)

	return r, ok && r != nil
}

// CookieTokenSource reads the token from a cookie of the inbound request.
type CookieTokenSource struct {
	name string
}

// NewCookieTokenSource creates a token source reading the cookie name.
func NewCookieTokenSource(name string) *CookieTokenSource {
	if name == "" {
		name = constants.DefaultTokenCookieName
	}

	return &CookieTokenSource{name: name}
}

// Token returns the cookie value, or "" when there is no inbound request or cookie.
func (s *CookieTokenSource) Token(ctx context.Context) (string, error) {
	r, ok := RequestFromContext(ctx)
	if !ok {
		return "", nil
	}

	cookie, err := r.Cookie(s.name)
	if err != nil {
		return "", nil //nolint:nilerr // a missing cookie is an anonymous request
	}

	return cookie.Value, nil
}
