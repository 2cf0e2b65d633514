package callapi

import (
	"context"
	"encoding/json"
)

// Call dispatches a request and decodes the envelope data into T.
func Call[T any](ctx context.Context, d Dispatcher, endpoint string, req *RequestDescriptor, directives *CacheDirectives) *Envelope[T] {
	if d == nil {
		return Decode[T](NormalizeTransportError(ErrConfigRequired))
	}

	return Decode[T](d.Do(ctx, endpoint, req, directives))
}

// CallRaw dispatches a request and returns the undecoded envelope.
func CallRaw(ctx context.Context, d Dispatcher, endpoint string, req *RequestDescriptor, directives *CacheDirectives) *Envelope[json.RawMessage] {
	return Call[json.RawMessage](ctx, d, endpoint, req, directives)
}

// Get sends a GET request. Directives only apply on the server path.
func Get[T any](ctx context.Context, d Dispatcher, endpoint string, params Params, directives *CacheDirectives) *Envelope[T] {
	return Call[T](ctx, d, endpoint, &RequestDescriptor{Method: MethodGet, Params: params}, directives)
}

// Post sends a POST request with a JSON or multipart body.
func Post[T any](ctx context.Context, d Dispatcher, endpoint string, body any) *Envelope[T] {
	return Call[T](ctx, d, endpoint, &RequestDescriptor{Method: MethodPost, Body: body}, nil)
}

// Put sends a PUT request.
func Put[T any](ctx context.Context, d Dispatcher, endpoint string, body any) *Envelope[T] {
	return Call[T](ctx, d, endpoint, &RequestDescriptor{Method: MethodPut, Body: body}, nil)
}

// Patch sends a PATCH request.
func Patch[T any](ctx context.Context, d Dispatcher, endpoint string, body any) *Envelope[T] {
	return Call[T](ctx, d, endpoint, &RequestDescriptor{Method: MethodPatch, Body: body}, nil)
}

// Delete sends a DELETE request.
func Delete[T any](ctx context.Context, d Dispatcher, endpoint string, params Params) *Envelope[T] {
	return Call[T](ctx, d, endpoint, &RequestDescriptor{Method: MethodDelete, Params: params}, nil)
}
