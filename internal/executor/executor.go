// Package executor implements the two request execution paths behind a
// callapi.Dispatcher.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fivetwenty-io/callapi/internal/constants"
	apihttp "github.com/fivetwenty-io/callapi/internal/http"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
)

// transport is the request plumbing shared by both paths.
type transport struct {
	ec           callapi.ExecutionContext
	client       *apihttp.Client
	interceptors *callapi.InterceptorChain
	logger       callapi.Logger
}

// prepared is a request after URL resolution, body encoding and request
// interceptors.
type prepared struct {
	intercepted *callapi.Request
	httpReq     *apihttp.Request
}

func (t *transport) prepare(ctx context.Context, endpoint string, req *callapi.RequestDescriptor) (*prepared, error) {
	if req == nil {
		req = &callapi.RequestDescriptor{}
	}

	method := req.EffectiveMethod()
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", constants.ErrInvalidMethod, method)
	}

	target, err := callapi.ResolveURL(t.client.BaseURL(), endpoint, req.Params)
	if err != nil {
		return nil, err
	}

	var (
		body        []byte
		contentType string
	)

	if method.HasBody() {
		body, contentType, err = callapi.EncodeBody(req.Body)
		if err != nil {
			return nil, err
		}
	}

	headers := make(http.Header, len(req.Headers))
	for key, value := range req.Headers {
		headers.Set(key, value)
	}

	intercepted := &callapi.Request{
		Method:   method,
		URL:      target,
		Endpoint: endpoint,
		Context:  t.ec,
		Headers:  headers,
		Body:     body,
		Metadata: make(map[string]interface{}),
	}

	err = t.interceptors.ExecuteRequestInterceptors(ctx, intercepted)
	if err != nil {
		// Interceptors that already ran still see the request finish.
		aborted := callapi.NormalizeTransportError(err)
		t.observe(ctx, intercepted, &callapi.Response{StatusCode: aborted.StatusCode, Error: aborted.Err()})

		return nil, err
	}

	flat := make(map[string]string, len(intercepted.Headers))
	for key := range intercepted.Headers {
		flat[key] = intercepted.Headers.Get(key)
	}

	var encoded any
	if body != nil {
		encoded = body
	}

	return &prepared{
		intercepted: intercepted,
		httpReq: &apihttp.Request{
			Method:      method,
			Path:        endpoint,
			Params:      req.Params,
			Body:        encoded,
			Headers:     flat,
			Timeout:     req.Timeout,
			ContentType: contentType,
		},
	}, nil
}

// send performs a prepared request and normalizes the outcome.
func (t *transport) send(ctx context.Context, p *prepared) *callapi.Envelope[json.RawMessage] {
	resp, err := t.client.Do(ctx, p.httpReq)

	var (
		env      *callapi.Envelope[json.RawMessage]
		observed = &callapi.Response{}
	)

	if resp != nil {
		env = callapi.NormalizeResponse(resp.StatusCode, resp.StatusText(), resp.Body)
		observed.StatusCode = resp.StatusCode
		observed.Headers = resp.Headers
		observed.Body = resp.Body
	} else {
		env = callapi.NormalizeTransportError(err)
		observed.StatusCode = env.StatusCode
		observed.Error = env.Err()
	}

	t.observe(ctx, p.intercepted, observed)

	return env
}

// observe runs the response interceptors. Their errors never change the envelope.
func (t *transport) observe(ctx context.Context, req *callapi.Request, resp *callapi.Response) {
	err := t.interceptors.ExecuteResponseInterceptors(ctx, req, resp)
	if err != nil && t.logger != nil {
		t.logger.Warn("Response interceptor failed", map[string]interface{}{
			"url":   req.URL,
			"error": err.Error(),
		})
	}
}

func clientOptions(cfg *callapi.Config) []apihttp.Option {
	opts := []apihttp.Option{
		apihttp.WithTimeout(cfg.Timeout),
		apihttp.WithHeaders(cfg.Headers),
		apihttp.WithUserAgent(cfg.UserAgent),
		apihttp.WithDebug(cfg.Debug),
	}

	if cfg.Logger != nil {
		opts = append(opts, apihttp.WithLogger(cfg.Logger))
	}

	return opts
}
