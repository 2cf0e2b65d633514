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

// ClientExecutor sends requests the way a browser session does. The bearer
// token comes from persistent storage and a 401 ends the session.
type ClientExecutor struct {
	transport

	tokens     *auth.StorageTokenSource
	navigator  callapi.Navigator
	loginRoute string
}

// NewClientExecutor creates the client execution path. cfg must already have
// defaults applied.
func NewClientExecutor(cfg *callapi.Config) (*ClientExecutor, error) {
	if cfg.BaseURL == "" {
		return nil, constants.ErrBaseURLRequired
	}

	tokens, err := auth.NewStorageTokenSource(cfg.TokenStorage, cfg.TokenStorageKey)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultClient()
	}

	opts := append(clientOptions(cfg),
		apihttp.WithHTTPClient(httpClient),
		apihttp.WithRetryConfig(cfg.RetryMax, cfg.RetryWaitMin, cfg.RetryWaitMax),
	)

	return &ClientExecutor{
		transport: transport{
			ec:           callapi.ClientContext,
			client:       apihttp.NewClient(cfg.BaseURL, tokens, opts...),
			interceptors: cfg.Interceptors,
			logger:       cfg.Logger,
		},
		tokens:     tokens,
		navigator:  cfg.Navigator,
		loginRoute: cfg.LoginRoute,
	}, nil
}

// Context returns callapi.ClientContext.
func (e *ClientExecutor) Context() callapi.ExecutionContext {
	return callapi.ClientContext
}

// Do sends the request. A 401 response deletes the stored token and navigates
// to the login route before the envelope is returned.
func (e *ClientExecutor) Do(ctx context.Context, endpoint string, req *callapi.RequestDescriptor, _ *callapi.CacheDirectives) *callapi.Envelope[json.RawMessage] {
	p, err := e.prepare(ctx, endpoint, req)
	if err != nil {
		return callapi.NormalizeTransportError(err)
	}

	env := e.send(ctx, p)

	if env.StatusCode == constants.HTTPStatusUnauthorized {
		e.endSession(endpoint)
	}

	return env
}

func (e *ClientExecutor) endSession(endpoint string) {
	err := e.tokens.Clear()
	if err != nil && e.logger != nil {
		e.logger.Error("Failed to clear token after 401", map[string]interface{}{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
	}

	if e.logger != nil {
		e.logger.Warn("Session expired, redirecting to login", map[string]interface{}{
			"endpoint": endpoint,
			"route":    e.loginRoute,
		})
	}

	if e.navigator != nil {
		e.navigator.Navigate(e.loginRoute)
	}
}
