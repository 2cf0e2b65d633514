package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/olekukonko/tablewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyValues(t *testing.T) {
	t.Parallel()

	values, err := parseKeyValues([]string{"X-Team=core", "Empty=", "Eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Team": "core", "Empty": "", "Eq": "a=b"}, values)

	_, err = parseKeyValues([]string{"missing"})
	require.ErrorIs(t, err, ErrKeyValueFormat)

	_, err = parseKeyValues([]string{"=value"})
	require.ErrorIs(t, err, ErrKeyValueFormat)
}

func TestParseParams(t *testing.T) {
	t.Parallel()

	params, err := parseParams([]string{"page=2", "ratio=0.5", "active=true", "q=go", "id=1", "id=2", "id=x"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), params["page"])
	assert.InDelta(t, 0.5, params["ratio"], 0.0001)
	assert.Equal(t, true, params["active"])
	assert.Equal(t, "go", params["q"])
	assert.Equal(t, []any{int64(1), int64(2), "x"}, params["id"])

	empty, err := parseParams(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = parseParams([]string{"novalue"})
	require.ErrorIs(t, err, ErrKeyValueFormat)
}

func TestTypedValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw      string
		expected any
	}{
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"1.25", 1.25},
		{"false", false},
		{"hello", "hello"},
		{"", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, typedValue(tt.raw))
		})
	}
}

func TestParseBody(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		body, err := parseBody("")
		require.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("inline", func(t *testing.T) {
		t.Parallel()

		body, err := parseBody(`{"title":"hello"}`)
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage(`{"title":"hello"}`), body)
	})

	t.Run("from file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "body.json")
		require.NoError(t, os.WriteFile(path, []byte(`[1,2]`), 0o600))

		body, err := parseBody("@" + path)
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage(`[1,2]`), body)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := parseBody("@" + filepath.Join(t.TempDir(), "missing.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read body file")
	})

	t.Run("invalid json", func(t *testing.T) {
		t.Parallel()

		_, err := parseBody("{oops")
		require.ErrorIs(t, err, constants.ErrInvalidBody)
	})
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "N/A", maskSecret(""))
	assert.Equal(t, "***", maskSecret("abcd"))
	assert.Equal(t, "abcd***", maskSecret("abcdefgh"))
}

func TestWriteOutput(t *testing.T) {
	t.Parallel()

	view := keyView{Key: "/users", Hash: "abc"}
	table := func(t *tablewriter.Table) {
		t.Header("Property", "Value")
		_ = t.Append("Key", view.Key)
	}

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeOutput(&buf, constants.FormatJSON, view, table))
		assert.JSONEq(t, `{"key":"/users","hash":"abc"}`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeOutput(&buf, constants.FormatYAML, view, table))
		assert.Contains(t, buf.String(), "key: /users")
		assert.Contains(t, buf.String(), "hash: abc")
	})

	t.Run("table", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, writeOutput(&buf, constants.FormatTable, view, table))
		assert.Contains(t, buf.String(), "/users")
	})

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()

		err := writeOutput(&bytes.Buffer{}, "xml", view, table)
		require.ErrorIs(t, err, constants.ErrUnsupportedFormat)
	})
}

func TestViewOf(t *testing.T) {
	t.Parallel()

	success := viewOf(callapi.NormalizeResponse(200, "OK", []byte(`{"id":1,"message":"ok"}`)))
	assert.True(t, success.Success)
	assert.Equal(t, map[string]any{"id": float64(1), "message": "ok"}, success.Data)
	assert.Equal(t, "ok", success.Message)

	failure := viewOf(callapi.NormalizeResponse(404, "Not Found", nil))
	assert.False(t, failure.Success)
	assert.Nil(t, failure.Data)
	assert.Equal(t, "Not Found", failure.Error)
	assert.Equal(t, 404, failure.StatusCode)
}

func TestWriteEnvelope_Table(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	env := callapi.NormalizeResponse(500, "", []byte(`{"error":"boom"}`))
	require.NoError(t, writeEnvelope(&buf, constants.FormatTable, env))

	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "500")
}

func TestSettingsCacheConfig(t *testing.T) {
	t.Parallel()

	s := &settings{CacheType: "redis", RedisAddr: "localhost:6379", RedisPrefix: "app:"}

	cfg, err := s.cacheConfig()
	require.NoError(t, err)
	assert.Equal(t, callapi.CacheTypeRedis, cfg.Type)
	require.NotNil(t, cfg.Redis)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	require.NotNil(t, cfg.L1)

	memory, err := (&settings{CacheType: "memory", CacheSize: 10}).cacheConfig()
	require.NoError(t, err)
	assert.Nil(t, memory.L1)

	_, err = (&settings{CacheType: "disk"}).cacheConfig()
	require.Error(t, err)
}

func TestSettingsDispatcherConfig(t *testing.T) {
	t.Parallel()

	_, err := (&settings{}).dispatcherConfig(callapi.ServerContext, newLogger())
	require.ErrorIs(t, err, ErrNoAPIConfigured)

	storagePath := filepath.Join(t.TempDir(), "storage.yml")
	s := &settings{API: "https://api.example.com", Storage: storagePath, StorageKey: "tok"}

	cfg, err := s.dispatcherConfig(callapi.ClientContext, newLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, callapi.ClientContext, cfg.Context)
	assert.NotNil(t, cfg.TokenStorage)
	assert.NotNil(t, cfg.Interceptors)

	serverCfg, err := s.dispatcherConfig(callapi.ServerContext, newLogger())
	require.NoError(t, err)
	assert.Nil(t, serverCfg.TokenStorage)
}

func TestStderrLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := &stderrLogger{out: &buf}
	logger.Debug("hidden", nil)
	logger.Warn("Session expired", map[string]interface{}{"route": "/login", "endpoint": "/me"})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] Session expired endpoint=/me route=/login")
}

func TestRequestOptions(t *testing.T) {
	t.Parallel()

	t.Run("directives", func(t *testing.T) {
		t.Parallel()

		assert.Nil(t, (&requestOptions{}).directives())

		d := (&requestOptions{tags: []string{"posts"}}).directives()
		require.NotNil(t, d)
		assert.Equal(t, []string{"posts"}, d.Tags)

		bypass := (&requestOptions{tags: []string{"posts"}, noStore: true}).directives()
		require.NotNil(t, bypass)
		assert.False(t, bypass.Active())
	})

	t.Run("form body", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "report.txt")
		require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))

		opts := &requestOptions{form: []string{"name=report"}, files: []string{"file=" + path}}

		desc, err := opts.descriptor(callapi.MethodPost)
		require.NoError(t, err)

		form, ok := desc.Body.(*callapi.FormData)
		require.True(t, ok)
		assert.Equal(t, "report", form.Fields.Get("name"))
		require.Len(t, form.Files, 1)
		assert.Equal(t, "report.txt", form.Files[0].Filename)
		assert.Equal(t, []byte("content"), form.Files[0].Content)
	})

	t.Run("json body and params", func(t *testing.T) {
		t.Parallel()

		opts := &requestOptions{params: []string{"page=1"}, headers: []string{"X-A=b"}, data: `{"a":1}`}

		desc, err := opts.descriptor(callapi.MethodPut)
		require.NoError(t, err)
		assert.Equal(t, callapi.MethodPut, desc.Method)
		assert.Equal(t, int64(1), desc.Params["page"])
		assert.Equal(t, "b", desc.Headers["X-A"])
		assert.Equal(t, json.RawMessage(`{"a":1}`), desc.Body)
	})
}

func TestInboundRequest(t *testing.T) {
	t.Parallel()

	r := inboundRequest("auth_token", "abc")

	cookie, err := r.Cookie("auth_token")
	require.NoError(t, err)
	assert.Equal(t, "abc", cookie.Value)

	_, err = inboundRequest("auth_token", "").Cookie("auth_token")
	require.Error(t, err)
}
