package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fivetwenty-io/callapi/internal/auth"
	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Static errors for err113 compliance.
var (
	ErrNoAPIConfigured = errors.New("no base URL configured, use --api or 'callapi config set api URL'")
	ErrKeyValueFormat  = errors.New("expected key=value")
)

const defaultJSONIndent = 2

// stderrLogger writes structured log lines to stderr.
type stderrLogger struct {
	out     io.Writer
	verbose bool
}

func newLogger() *stderrLogger {
	return &stderrLogger{out: os.Stderr, verbose: viper.GetBool("verbose")}
}

func (l *stderrLogger) Debug(msg string, fields map[string]interface{}) {
	if l.verbose {
		l.write("DEBUG", msg, fields)
	}
}

func (l *stderrLogger) Info(msg string, fields map[string]interface{}) {
	if l.verbose {
		l.write("INFO", msg, fields)
	}
}

func (l *stderrLogger) Warn(msg string, fields map[string]interface{}) {
	l.write("WARN", msg, fields)
}

func (l *stderrLogger) Error(msg string, fields map[string]interface{}) {
	l.write("ERROR", msg, fields)
}

func (l *stderrLogger) write(level, msg string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var b strings.Builder

	fmt.Fprintf(&b, "%s [%s] %s", time.Now().Format(time.RFC3339), level, msg)

	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, fields[key])
	}

	_, _ = fmt.Fprintln(l.out, b.String())
}

// settings are the effective CLI settings after flags, env and config file.
type settings struct {
	API         string        `json:"api"          yaml:"api"`
	Context     string        `json:"context"      yaml:"context"`
	Timeout     time.Duration `json:"timeout"      yaml:"timeout"`
	Storage     string        `json:"storage"      yaml:"storage"`
	StorageKey  string        `json:"storage_key"  yaml:"storage_key"`
	CookieName  string        `json:"cookie_name"  yaml:"cookie_name"`
	LoginRoute  string        `json:"login_route"  yaml:"login_route"`
	RetryMax    int           `json:"retry_max"    yaml:"retry_max"`
	CacheType   string        `json:"cache_type"   yaml:"cache_type"`
	CacheSize   int           `json:"cache_size"   yaml:"cache_size"`
	NATSURL     string        `json:"nats_url"     yaml:"nats_url"`
	NATSBucket  string        `json:"nats_bucket"  yaml:"nats_bucket"`
	RedisAddr   string        `json:"redis_addr"   yaml:"redis_addr"`
	RedisPrefix string        `json:"redis_prefix" yaml:"redis_prefix"`
	Output      string        `json:"output"       yaml:"output"`
}

func loadSettings() *settings {
	s := &settings{
		API:         viper.GetString("api"),
		Context:     viper.GetString("context"),
		Timeout:     viper.GetDuration("timeout"),
		Storage:     viper.GetString("storage"),
		StorageKey:  viper.GetString("storage_key"),
		CookieName:  viper.GetString("cookie_name"),
		LoginRoute:  viper.GetString("login_route"),
		RetryMax:    viper.GetInt("retry_max"),
		CacheType:   viper.GetString("cache_type"),
		CacheSize:   viper.GetInt("cache_size"),
		NATSURL:     viper.GetString("nats_url"),
		NATSBucket:  viper.GetString("nats_bucket"),
		RedisAddr:   viper.GetString("redis_addr"),
		RedisPrefix: viper.GetString("redis_prefix"),
		Output:      viper.GetString("output"),
	}

	if s.Context == "" {
		s.Context = constants.DefaultExecutionContext
	}

	if s.StorageKey == "" {
		s.StorageKey = constants.DefaultTokenStorageKey
	}

	if s.CookieName == "" {
		s.CookieName = constants.DefaultTokenCookieName
	}

	if s.LoginRoute == "" {
		s.LoginRoute = constants.DefaultLoginRoute
	}

	if s.Output == "" {
		s.Output = constants.FormatJSON
	}

	return s
}

func (s *settings) tokenStorage() (*auth.FileStorage, error) {
	path := s.Storage
	if path == "" {
		var err error

		path, err = auth.DefaultStoragePath()
		if err != nil {
			return nil, err
		}
	}

	return auth.NewFileStorage(path), nil
}

// dispatcherConfig builds the dispatcher configuration for ec.
func (s *settings) dispatcherConfig(ec callapi.ExecutionContext, logger callapi.Logger) (*callapi.Config, error) {
	if s.API == "" {
		return nil, ErrNoAPIConfigured
	}

	cfg := &callapi.Config{
		BaseURL:         s.API,
		Context:         ec,
		Timeout:         s.Timeout,
		TokenStorageKey: s.StorageKey,
		TokenCookieName: s.CookieName,
		LoginRoute:      s.LoginRoute,
		RetryMax:        s.RetryMax,
		Debug:           viper.GetBool("verbose"),
		Logger:          logger,
		Interceptors: callapi.NewInterceptorChain().
			AddRequestInterceptor(callapi.RequestIDInterceptor()).
			AddRequestInterceptor(callapi.LoggingInterceptor(logger)).
			AddResponseInterceptor(callapi.LoggingResponseInterceptor(logger)),
	}

	if ec == callapi.ClientContext {
		storage, err := s.tokenStorage()
		if err != nil {
			return nil, err
		}

		cfg.TokenStorage = storage
	}

	return cfg, nil
}

// cacheConfig builds the data cache backend configuration.
func (s *settings) cacheConfig() (*callapi.CacheConfig, error) {
	cacheType, err := callapi.ParseCacheType(s.CacheType)
	if err != nil {
		return nil, err
	}

	builder := callapi.NewCacheBuilder().WithType(cacheType)

	switch cacheType {
	case callapi.CacheTypeMemory:
		builder.WithMemoryConfig(s.CacheSize)
	case callapi.CacheTypeNATS:
		builder.WithNATSConfig(&callapi.NATSKVConfig{URL: s.NATSURL, Bucket: s.NATSBucket}).WithL1(s.CacheSize)
	case callapi.CacheTypeRedis:
		builder.WithRedisConfig(&callapi.RedisCacheConfig{Addr: s.RedisAddr, Prefix: s.RedisPrefix}).WithL1(s.CacheSize)
	case callapi.CacheTypeNone:
	}

	return builder.Config(), nil
}

// parseKeyValues parses repeated key=value flags.
func parseKeyValues(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrKeyValueFormat, pair)
		}

		out[key] = value
	}

	return out, nil
}

// parseParams parses repeated key=value flags into query params. Repeated
// keys become lists and numeric or boolean values keep their type.
func parseParams(pairs []string) (callapi.Params, error) {
	params := callapi.Params{}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrKeyValueFormat, pair)
		}

		value := typedValue(raw)

		switch existing := params[key].(type) {
		case nil:
			params[key] = value
		case []any:
			params[key] = append(existing, value)
		default:
			params[key] = []any{existing, value}
		}
	}

	return params, nil
}

func typedValue(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}

	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}

	return raw
}

// parseBody decodes a JSON body given inline or as @file.
func parseBody(data string) (any, error) {
	if data == "" {
		return nil, nil
	}

	raw := []byte(data)

	if path, ok := strings.CutPrefix(data, "@"); ok {
		content, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the CLI user
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}

		raw = content
	}

	if !json.Valid(raw) {
		return nil, constants.ErrInvalidBody
	}

	return json.RawMessage(raw), nil
}

// writeOutput writes v in the configured format. Table output is rendered by
// the table function.
func writeOutput(w io.Writer, format string, v any, table func(*tablewriter.Table)) error {
	switch format {
	case constants.FormatJSON, "":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

		return encoder.Encode(v)
	case constants.FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer func() { _ = encoder.Close() }()

		return encoder.Encode(v)
	case constants.FormatTable:
		t := tablewriter.NewWriter(w)
		table(t)

		err := t.Render()
		if err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedFormat, format)
	}
}

// envelopeView is the printable form of an envelope. Data is decoded so YAML
// output shows structure rather than raw bytes.
type envelopeView struct {
	Success    bool   `json:"success"           yaml:"success"`
	Data       any    `json:"data,omitempty"    yaml:"data,omitempty"`
	Error      string `json:"error,omitempty"   yaml:"error,omitempty"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
	StatusCode int    `json:"statusCode"        yaml:"statusCode"`
}

func viewOf(env *callapi.Envelope[json.RawMessage]) envelopeView {
	view := envelopeView{
		Success:    env.Success,
		Error:      env.Error,
		Message:    env.Message,
		StatusCode: env.StatusCode,
	}

	if len(env.Data) > 0 {
		var data any
		if err := json.Unmarshal(env.Data, &data); err == nil {
			view.Data = data
		}
	}

	return view
}

func writeEnvelope(w io.Writer, format string, env *callapi.Envelope[json.RawMessage]) error {
	view := viewOf(env)

	return writeOutput(w, format, view, func(t *tablewriter.Table) {
		t.Header("Property", "Value")
		_ = t.Append("Success", strconv.FormatBool(view.Success))
		_ = t.Append("Status", strconv.Itoa(view.StatusCode))

		if view.Error != "" {
			_ = t.Append("Error", view.Error)
		}

		if view.Message != "" {
			_ = t.Append("Message", view.Message)
		}

		if len(env.Data) > 0 {
			_ = t.Append("Data", string(env.Data))
		}
	})
}

// maskSecret shows only the first characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return constants.NotAvailable
	}

	if len(secret) <= constants.StringTruncationLimit {
		return constants.MaskedSecret
	}

	return secret[:constants.StringTruncationLimit] + constants.MaskedSecret
}
