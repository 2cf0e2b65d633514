package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fivetwenty-io/callapi/internal/auth"
	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorageDown = errors.New("storage down")

type failingStorage struct{}

func (failingStorage) Get(string) (string, bool, error) { return "", false, errStorageDown }
func (failingStorage) Set(string, string) error         { return errStorageDown }
func (failingStorage) Delete(string) error              { return errStorageDown }

func TestStorageTokenSource(t *testing.T) {
	t.Parallel()

	_, err := auth.NewStorageTokenSource(nil, "")
	require.ErrorIs(t, err, constants.ErrStorageRequired)

	storage := auth.NewMemoryStorage()

	source, err := auth.NewStorageTokenSource(storage, "")
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultTokenStorageKey, source.Key())

	token, err := source.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, storage.Set(constants.DefaultTokenStorageKey, "abc"))

	token, err = source.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, source.Clear())

	_, ok, _ := storage.Get(constants.DefaultTokenStorageKey)
	assert.False(t, ok)
}

func TestStorageTokenSource_StorageError(t *testing.T) {
	t.Parallel()

	source, err := auth.NewStorageTokenSource(failingStorage{}, "k")
	require.NoError(t, err)

	_, err = source.Token(context.Background())
	require.ErrorIs(t, err, errStorageDown)

	require.ErrorIs(t, source.Clear(), errStorageDown)
}

func TestCookieTokenSource(t *testing.T) {
	t.Parallel()

	source := auth.NewCookieTokenSource("")

	t.Run("no inbound request", func(t *testing.T) {
		t.Parallel()

		token, err := source.Token(context.Background())
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("request without cookie", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/", nil)

		token, err := source.Token(auth.WithRequest(context.Background(), r))
		require.NoError(t, err)
		assert.Empty(t, token)
	})

	t.Run("request with cookie", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: constants.DefaultTokenCookieName, Value: "from-cookie"})

		ctx := auth.WithRequest(context.Background(), r)

		bound, ok := auth.RequestFromContext(ctx)
		require.True(t, ok)
		assert.Same(t, r, bound)

		token, err := source.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "from-cookie", token)
	})

	t.Run("custom cookie name", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "session", Value: "s1"})

		token, err := auth.NewCookieTokenSource("session").Token(auth.WithRequest(context.Background(), r))
		require.NoError(t, err)
		assert.Equal(t, "s1", token)
	})
}
