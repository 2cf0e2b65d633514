package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/hashicorp/go-retryablehttp"
)

const defaultUserAgent = "callapi-go/1.0"

// TokenProvider supplies the bearer token for a request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Client is the HTTP transport shared by both execution paths.
type Client struct {
	baseURL       string
	httpClient    *retryablehttp.Client
	tokenProvider TokenProvider
	logger        callapi.Logger
	debug         bool
	userAgent     string
	timeout       time.Duration
	headers       map[string]string
}

// Request represents an HTTP request.
type Request struct {
	Method  callapi.Method
	Path    string
	Params  callapi.Params
	Body    any
	Headers map[string]string
	Timeout time.Duration
	// ContentType overrides the content type derived from Body. It is used
	// when Body is already encoded.
	ContentType string
}

// Response represents an HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
}

// StatusText returns the reason phrase of the status line.
func (r *Response) StatusText() string {
	prefix := fmt.Sprintf("%d ", r.StatusCode)
	if len(r.Status) > len(prefix) && r.Status[:len(prefix)] == prefix {
		return r.Status[len(prefix):]
	}

	return http.StatusText(r.StatusCode)
}

// Option configures the HTTP client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger callapi.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging of requests and responses.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig enables retries of connection errors, 429 and 5xx.
func WithRetryConfig(retryMax int, retryWaitMin, retryWaitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = retryMax
		c.httpClient.RetryWaitMin = retryWaitMin
		c.httpClient.RetryWaitMax = retryWaitMax
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHeaders sets headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = headers
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient.HTTPClient = httpClient
		}
	}
}

// NewClient creates a new HTTP client. A nil tokenProvider sends no
// Authorization header.
func NewClient(baseURL string, tokenProvider TokenProvider, opts ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = constants.DefaultRetryMax
	retryClient.RetryWaitMin = constants.DefaultRetryWaitMin
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{
		baseURL:       baseURL,
		httpClient:    retryClient,
		tokenProvider: tokenProvider,
		userAgent:     defaultUserAgent,
		timeout:       constants.DefaultHTTPTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.debug && client.logger != nil {
		retryClient.Logger = &leveledLogger{logger: client.logger}
	}

	return client
}

// BaseURL returns the base URL relative endpoints are joined to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req. Responses with a status of 400 or above are returned together
// with an *callapi.APIError. Transport failures return a nil response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": httpReq.Method,
			"url":    httpReq.URL.String(),
		})
	}

	start := time.Now()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if httpResp != nil {
			_ = httpResp.Body.Close()
		}

		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status_code": resp.StatusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}

	if resp.StatusCode >= http.StatusBadRequest {
		env := callapi.NormalizeResponse(resp.StatusCode, resp.StatusText(), resp.Body)

		return resp, env.Err()
	}

	return resp, nil
}

func (c *Client) buildRequest(ctx context.Context, req *Request) (*retryablehttp.Request, error) {
	method := req.Method
	if method == "" {
		method = callapi.MethodGet
	}

	target, err := callapi.ResolveURL(c.baseURL, req.Path, req.Params)
	if err != nil {
		return nil, err
	}

	var (
		body        []byte
		contentType = "application/json"
	)

	if method.HasBody() {
		encoded, derived, err := callapi.EncodeBody(req.Body)
		if err != nil {
			return nil, err
		}

		body = encoded

		if derived != "" {
			contentType = derived
		}
	}

	if req.ContentType != "" {
		contentType = req.ContentType
	}

	var rawBody interface{}
	if body != nil {
		rawBody = bytes.NewReader(body)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, string(method), target, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("User-Agent", c.userAgent)

	if c.tokenProvider != nil {
		token, err := c.tokenProvider.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}

		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, params callapi.Params) (*Response, error) {
	return c.Do(ctx, &Request{Method: callapi.MethodGet, Path: path, Params: params})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: callapi.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: callapi.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, &Request{Method: callapi.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, &Request{Method: callapi.MethodDelete, Path: path})
}

// leveledLogger adapts callapi.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger callapi.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fieldsFrom(keysAndValues))
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fieldsFrom(keysAndValues))
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fieldsFrom(keysAndValues))
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fieldsFrom(keysAndValues))
}

func fieldsFrom(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}

		fields[key] = keysAndValues[i+1]
	}

	return fields
}
