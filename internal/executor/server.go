package executor

import (
	"context"
	"encoding/json"

	"github.com/fivetwenty-io/callapi/internal/auth"
	"github.com/fivetwenty-io/callapi/internal/constants"
	apihttp "github.com/fivetwenty-io/callapi/internal/http"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/hashicorp/go-cleanhttp"
)

// ServerExecutor sends requests on behalf of an inbound request. The bearer
// token comes from the inbound request's cookie and GET responses are
// cached according to the call's directives. It never retries.
type ServerExecutor struct {
	transport

	cache callapi.FetchCache
}

// NewServerExecutor creates the server execution path. cfg must already have
// defaults applied.
func NewServerExecutor(cfg *callapi.Config) (*ServerExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, constants.ErrBaseURLRequired
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	opts := append(clientOptions(cfg), apihttp.WithHTTPClient(httpClient))

	return &ServerExecutor{
		transport: transport{
			ec:           callapi.ServerContext,
			client:       apihttp.NewClient(cfg.BaseURL, auth.NewCookieTokenSource(cfg.TokenCookieName), opts...),
			interceptors: cfg.Interceptors,
			logger:       cfg.Logger,
		},
		cache: cfg.FetchCache,
	}, nil
}

// Context returns callapi.ServerContext.
func (e *ServerExecutor) Context() callapi.ExecutionContext {
	return callapi.ServerContext
}

// Do sends the request, serving and storing cacheable GET responses through
// the FetchCache. Failures are logged.
func (e *ServerExecutor) Do(ctx context.Context, endpoint string, req *callapi.RequestDescriptor, directives *callapi.CacheDirectives) *callapi.Envelope[json.RawMessage] {
	if req == nil {
		req = &callapi.RequestDescriptor{}
	}

	cacheable := e.cache != nil && directives.Active() && req.EffectiveMethod() == callapi.MethodGet

	var key callapi.QueryKey

	if cacheable {
		key = callapi.KeyForRequest(endpoint, req)

		if entry, ok := e.cache.Lookup(ctx, key); ok {
			e.observeHit(ctx, endpoint, req, entry)

			return entry.Envelope()
		}
	}

	p, err := e.prepare(ctx, endpoint, req)
	if err != nil {
		env := callapi.NormalizeTransportError(err)
		e.logFailure(endpoint, req, env)

		return env
	}

	env := e.send(ctx, p)

	if !env.Success {
		e.logFailure(endpoint, req, env)

		return env
	}

	if cacheable {
		entry := callapi.EntryFromEnvelope(env, directives.TTL(), directives.Tags)

		err := e.cache.Store(ctx, key, entry, directives)
		if err != nil && e.logger != nil {
			e.logger.Warn("Failed to cache response", map[string]interface{}{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
		}
	}

	return env
}

func (e *ServerExecutor) observeHit(ctx context.Context, endpoint string, req *callapi.RequestDescriptor, entry *callapi.CacheEntry) {
	target, _ := callapi.ResolveURL(e.client.BaseURL(), endpoint, req.Params)

	e.observe(ctx,
		&callapi.Request{
			Method:   callapi.MethodGet,
			URL:      target,
			Endpoint: endpoint,
			Context:  callapi.ServerContext,
		},
		&callapi.Response{
			StatusCode: entry.StatusCode,
			Body:       entry.Data,
			Cached:     true,
		},
	)
}

func (e *ServerExecutor) logFailure(endpoint string, req *callapi.RequestDescriptor, env *callapi.Envelope[json.RawMessage]) {
	if e.logger == nil {
		return
	}

	e.logger.Error("API request failed", map[string]interface{}{
		"endpoint":    endpoint,
		"method":      string(req.EffectiveMethod()),
		"status_code": env.StatusCode,
		"kind":        env.Kind.String(),
		"error":       env.Error,
	})
}
