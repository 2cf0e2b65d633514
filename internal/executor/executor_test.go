package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fivetwenty-io/callapi/internal/auth"
	"github.com/fivetwenty-io/callapi/internal/executor"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockLogger records log calls.
type MockLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

func (l *MockLogger) Debug(msg string, fields map[string]interface{}) { l.add("debug", msg, fields) }
func (l *MockLogger) Info(msg string, fields map[string]interface{})  { l.add("info", msg, fields) }
func (l *MockLogger) Warn(msg string, fields map[string]interface{})  { l.add("warn", msg, fields) }
func (l *MockLogger) Error(msg string, fields map[string]interface{}) { l.add("error", msg, fields) }

func (l *MockLogger) add(level, msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *MockLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.level == level && entry.msg == msg {
			return entry, true
		}
	}

	return logEntry{}, false
}

// recordingNavigator counts navigations.
type recordingNavigator struct {
	mu     sync.Mutex
	routes []string
}

func (n *recordingNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) Routes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.routes...)
}

func newClientExecutor(t *testing.T, baseURL string, mutate func(*callapi.Config)) *executor.ClientExecutor {
	t.Helper()

	cfg := &callapi.Config{
		BaseURL:      baseURL,
		Context:      callapi.ClientContext,
		TokenStorage: auth.NewMemoryStorage(),
	}

	if mutate != nil {
		mutate(cfg)
	}

	exec, err := executor.NewClientExecutor(cfg.WithDefaults())
	require.NoError(t, err)

	return exec
}

func newServerExecutor(t *testing.T, baseURL string, mutate func(*callapi.Config)) *executor.ServerExecutor {
	t.Helper()

	cfg := &callapi.Config{
		BaseURL: baseURL,
		Context: callapi.ServerContext,
	}

	if mutate != nil {
		mutate(cfg)
	}

	exec, err := executor.NewServerExecutor(cfg.WithDefaults())
	require.NoError(t, err)

	return exec
}

func TestClientExecutor_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "active=true&page=2", r.URL.RawQuery)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Empty(t, r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	exec := newClientExecutor(t, server.URL+"/", nil)
	assert.Equal(t, callapi.ClientContext, exec.Context())

	env := exec.Do(context.Background(), "users", &callapi.RequestDescriptor{
		Params: callapi.Params{"page": 2, "active": true, "q": nil},
	}, nil)

	require.True(t, env.Success)
	assert.Equal(t, 200, env.StatusCode)
	assert.JSONEq(t, `[{"id":1}]`, string(env.Data))
	assert.Empty(t, env.Error)
}

func TestClientExecutor_SendsStoredToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer stored-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	storage := auth.NewMemoryStorage()
	require.NoError(t, storage.Set("session", "stored-token"))

	exec := newClientExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.TokenStorage = storage
		cfg.TokenStorageKey = "session"
	})

	env := exec.Do(context.Background(), "/me", nil, nil)
	assert.True(t, env.Success)
	assert.Equal(t, 204, env.StatusCode)
}

func TestClientExecutor_PostBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"ada"}`, string(body))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":5,"message":"created"}`))
	}))
	defer server.Close()

	exec := newClientExecutor(t, server.URL, nil)

	env := exec.Do(context.Background(), "/users", &callapi.RequestDescriptor{
		Method: callapi.MethodPost,
		Body:   map[string]string{"name": "ada"},
	}, nil)

	require.True(t, env.Success)
	assert.Equal(t, 201, env.StatusCode)
	assert.Equal(t, "created", env.Message)
}

func TestClientExecutor_NotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	exec := newClientExecutor(t, server.URL, nil)

	env := exec.Do(context.Background(), "/missing", nil, nil)

	assert.False(t, env.Success)
	assert.Equal(t, 404, env.StatusCode)
	assert.Equal(t, "Not Found", env.Error)
	assert.Equal(t, callapi.KindHTTPStatus, env.Kind)
}

func TestClientExecutor_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	exec := newClientExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.Timeout = 20 * time.Millisecond
	})

	env := exec.Do(context.Background(), "/slow", nil, nil)

	assert.False(t, env.Success)
	assert.Equal(t, 408, env.StatusCode)
	assert.Equal(t, "request timed out", env.Error)
	assert.Equal(t, callapi.KindTransportTimeout, env.Kind)
}

func TestClientExecutor_NetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	exec := newClientExecutor(t, baseURL, nil)

	env := exec.Do(context.Background(), "/users", nil, nil)

	assert.False(t, env.Success)
	assert.Equal(t, 500, env.StatusCode)
	assert.Equal(t, callapi.KindTransportNetwork, env.Kind)
	assert.NotEmpty(t, env.Error)
}

func TestClientExecutor_UnauthorizedEndsSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer server.Close()

	storage := auth.NewMemoryStorage()
	require.NoError(t, storage.Set("access_token", "expired"))

	navigator := &recordingNavigator{}
	logger := &MockLogger{}

	exec := newClientExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.TokenStorage = storage
		cfg.Navigator = navigator
		cfg.LoginRoute = "/signin"
		cfg.Logger = logger
	})

	env := exec.Do(context.Background(), "/me", nil, nil)

	assert.False(t, env.Success)
	assert.Equal(t, 401, env.StatusCode)
	assert.Equal(t, "token expired", env.Error)
	assert.Equal(t, callapi.KindAuthExpired, env.Kind)

	_, ok, _ := storage.Get("access_token")
	assert.False(t, ok)

	assert.Equal(t, []string{"/signin"}, navigator.Routes())

	_, logged := logger.find("warn", "Session expired, redirecting to login")
	assert.True(t, logged)
}

func TestClientExecutor_InvalidMethod(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	exec := newClientExecutor(t, server.URL, nil)

	env := exec.Do(context.Background(), "/users", &callapi.RequestDescriptor{Method: "TRACE"}, nil)

	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "invalid HTTP method")
	assert.Equal(t, int32(0), hits.Load())
}

func TestClientExecutor_Interceptors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "from-interceptor", r.Header.Get("X-Trace"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	var observed atomic.Int32

	chain := callapi.NewInterceptorChain().
		AddRequestInterceptor(callapi.HeaderInterceptor(map[string]string{"X-Trace": "from-interceptor"})).
		AddResponseInterceptor(func(ctx context.Context, req *callapi.Request, resp *callapi.Response) error {
			observed.Store(int32(resp.StatusCode))
			assert.Equal(t, callapi.ClientContext, req.Context)

			return nil
		})

	exec := newClientExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.Interceptors = chain
	})

	env := exec.Do(context.Background(), "/jobs", nil, nil)
	assert.True(t, env.Success)
	assert.Equal(t, int32(202), observed.Load())
}

func TestClientExecutor_RequestInterceptorAborts(t *testing.T) {
	t.Parallel()

	errBlocked := errors.New("blocked")

	exec := newClientExecutor(t, "http://127.0.0.1:1", func(cfg *callapi.Config) {
		cfg.Interceptors = callapi.NewInterceptorChain().
			AddRequestInterceptor(func(ctx context.Context, req *callapi.Request) error {
				return errBlocked
			})
	})

	env := exec.Do(context.Background(), "/users", nil, nil)

	assert.False(t, env.Success)
	assert.Equal(t, 500, env.StatusCode)
	assert.Contains(t, env.Error, "blocked")
}

func TestClientExecutor_AbortedRequestSettlesMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	collector := callapi.NewMetricsCollectorWithRegistry(registry)

	var seen atomic.Int32

	chain := callapi.MetricsInterceptors(collector).
		AddRequestInterceptor(func(ctx context.Context, req *callapi.Request) error {
			return errors.New("quota exceeded")
		}).
		AddResponseInterceptor(func(ctx context.Context, req *callapi.Request, resp *callapi.Response) error {
			seen.Store(int32(resp.StatusCode))
			assert.Error(t, resp.Error)

			return nil
		})

	exec := newClientExecutor(t, "http://127.0.0.1:1", func(cfg *callapi.Config) {
		cfg.Interceptors = chain
	})

	env := exec.Do(context.Background(), "/users", nil, nil)
	assert.False(t, env.Success)
	assert.Equal(t, int32(env.StatusCode), seen.Load())

	families, err := registry.Gather()
	require.NoError(t, err)

	var inFlight float64

	for _, family := range families {
		if family.GetName() != "callapi_requests_in_flight" {
			continue
		}

		for _, metric := range family.GetMetric() {
			inFlight += metric.GetGauge().GetValue()
		}
	}

	assert.InDelta(t, 0.0, inFlight, 0.001)
}

func TestNewClientExecutor_RequiresStorage(t *testing.T) {
	t.Parallel()

	_, err := executor.NewClientExecutor((&callapi.Config{BaseURL: "http://localhost"}).WithDefaults())
	require.Error(t, err)
}

func TestServerExecutor_CookieToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cookie-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	exec := newServerExecutor(t, server.URL, nil)
	assert.Equal(t, callapi.ServerContext, exec.Context())

	inbound := httptest.NewRequest(http.MethodGet, "/page", nil)
	inbound.AddCookie(&http.Cookie{Name: "auth_token", Value: "cookie-token"})

	env := exec.Do(auth.WithRequest(context.Background(), inbound), "/me", nil, nil)
	assert.True(t, env.Success)
}

func TestServerExecutor_AnonymousWithoutRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	env := newServerExecutor(t, server.URL, nil).Do(context.Background(), "/public", nil, nil)
	assert.True(t, env.Success)
}

func TestServerExecutor_CachesTaggedResponses(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	cache := callapi.NewDataCache(nil, nil)

	var cachedResponses atomic.Int32

	exec := newServerExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.FetchCache = cache
		cfg.Interceptors = callapi.NewInterceptorChain().
			AddResponseInterceptor(func(ctx context.Context, req *callapi.Request, resp *callapi.Response) error {
				if resp.Cached {
					cachedResponses.Add(1)
				}

				return nil
			})
	})

	ctx := context.Background()
	req := &callapi.RequestDescriptor{Params: callapi.Params{"page": 1}}
	directives := &callapi.CacheDirectives{Revalidate: time.Minute, Tags: []string{"users"}}

	first := exec.Do(ctx, "/users", req, directives)
	second := exec.Do(ctx, "/users", req, directives)

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.JSONEq(t, string(first.Data), string(second.Data))
	assert.Equal(t, 200, second.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(1), cachedResponses.Load())

	n, err := cache.RevalidateTag(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exec.Do(ctx, "/users", req, directives)
	assert.Equal(t, int32(2), hits.Load())

	exec.Do(ctx, "/users", &callapi.RequestDescriptor{Params: callapi.Params{"page": 2}}, directives)
	assert.Equal(t, int32(3), hits.Load())
}

func TestServerExecutor_DoesNotCacheWithoutDirectives(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	exec := newServerExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.FetchCache = callapi.NewDataCache(nil, nil)
	})

	ctx := context.Background()

	exec.Do(ctx, "/users", nil, nil)
	exec.Do(ctx, "/users", nil, nil)

	post := &callapi.RequestDescriptor{Method: callapi.MethodPost, Body: map[string]int{"a": 1}}
	directives := &callapi.CacheDirectives{NoRevalidate: true}

	exec.Do(ctx, "/users", post, directives)
	exec.Do(ctx, "/users", post, directives)

	assert.Equal(t, int32(4), hits.Load())
}

func TestServerExecutor_NoStoreBypassesCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"live":true}`))
	}))
	defer server.Close()

	cache := callapi.NewDataCache(nil, nil)

	exec := newServerExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.FetchCache = cache
	})

	ctx := context.Background()
	directives := &callapi.CacheDirectives{Tags: []string{"live"}, NoStore: true}

	exec.Do(ctx, "/feed", nil, directives)
	exec.Do(ctx, "/feed", nil, directives)

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 0, cache.IndexedKeys("live"))
}

func TestServerExecutor_FailuresAreLoggedAndNotCached(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	logger := &MockLogger{}

	exec := newServerExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.FetchCache = callapi.NewDataCache(nil, nil)
		cfg.Logger = logger
	})

	ctx := context.Background()
	directives := &callapi.CacheDirectives{NoRevalidate: true}

	env := exec.Do(ctx, "/status", nil, directives)
	exec.Do(ctx, "/status", nil, directives)

	assert.False(t, env.Success)
	assert.Equal(t, 502, env.StatusCode)
	assert.Equal(t, "upstream down", env.Error)
	assert.Equal(t, int32(2), hits.Load())

	entry, ok := logger.find("error", "API request failed")
	require.True(t, ok)
	assert.Equal(t, "/status", entry.fields["endpoint"])
	assert.Equal(t, "GET", entry.fields["method"])
	assert.Equal(t, 502, entry.fields["status_code"])
	assert.Equal(t, "upstream down", entry.fields["error"])
}

func TestServerExecutor_UnauthorizedDoesNotNavigate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	navigator := &recordingNavigator{}

	exec := newServerExecutor(t, server.URL, func(cfg *callapi.Config) {
		cfg.Navigator = navigator
	})

	env := exec.Do(context.Background(), "/me", nil, nil)

	assert.Equal(t, 401, env.StatusCode)
	assert.Equal(t, callapi.KindAuthExpired, env.Kind)
	assert.Empty(t, navigator.Routes())
}

func TestServerExecutor_RawBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.InDelta(t, 1.0, body["a"], 0.001)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env := newServerExecutor(t, server.URL, nil).Do(context.Background(), "/things", &callapi.RequestDescriptor{
		Method: callapi.MethodPut,
		Body:   json.RawMessage(`{"a":1}`),
	}, nil)

	assert.True(t, env.Success)
}
