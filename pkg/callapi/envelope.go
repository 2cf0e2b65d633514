package callapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/fivetwenty-io/callapi/internal/constants"
)

// Envelope is the uniform result of a dispatched call.
//
// On success Data holds the decoded body and Error is empty. On failure Data
// is the zero value and Error is the best available message.
type Envelope[T any] struct {
	Success    bool      `json:"success"            yaml:"success"`
	Data       T         `json:"data,omitempty"     yaml:"data,omitempty"`
	Error      string    `json:"error,omitempty"    yaml:"error,omitempty"`
	Message    string    `json:"message,omitempty"  yaml:"message,omitempty"`
	StatusCode int       `json:"statusCode"         yaml:"statusCode"`
	Kind       ErrorKind `json:"-"                  yaml:"-"`

	raw json.RawMessage
}

// Raw returns the response body the envelope was normalized from.
func (e *Envelope[T]) Raw() json.RawMessage {
	if e == nil {
		return nil
	}

	return e.raw
}

// Err returns nil for a successful envelope and an *APIError otherwise.
func (e *Envelope[T]) Err() error {
	if e == nil {
		return ErrNilEnvelope
	}

	if e.Success {
		return nil
	}

	message := e.Error
	if message == "" {
		message = constants.MessageUnknownError
	}

	return &APIError{
		StatusCode: e.StatusCode,
		Message:    message,
		Data:       e.raw,
		Kind:       e.Kind,
	}
}

// Unwrap converts an envelope into the conventional (value, error) pair.
func Unwrap[T any](env *Envelope[T]) (T, error) {
	if err := env.Err(); err != nil {
		var zero T
		return zero, err
	}

	return env.Data, nil
}

// NormalizeResponse builds an envelope from a received response.
//
// A 2xx status is a success carrying the body. Any other status is a failure
// whose message is the first of body.message, body.error, statusText or a
// generic fallback.
func NormalizeResponse(status int, statusText string, body []byte) *Envelope[json.RawMessage] {
	raw := trimBody(body)

	if status >= 200 && status < 300 {
		return &Envelope[json.RawMessage]{
			Success:    true,
			Data:       raw,
			Message:    bodyField(raw, "message"),
			StatusCode: status,
			Kind:       KindNone,
			raw:        raw,
		}
	}

	message := bodyField(raw, "message")
	if message == "" {
		message = bodyField(raw, "error")
	}

	if message == "" {
		message = statusText
	}

	if message == "" {
		message = http.StatusText(status)
	}

	if message == "" {
		message = constants.MessageRequestFailed
	}

	return &Envelope[json.RawMessage]{
		Success:    false,
		Error:      message,
		StatusCode: status,
		Kind:       KindForStatus(status),
		raw:        raw,
	}
}

// NormalizeTransportError builds an envelope for a call that received no response.
// Deadline failures become 408; everything else becomes 500.
func NormalizeTransportError(err error) *Envelope[json.RawMessage] {
	if isTimeout(err) {
		return &Envelope[json.RawMessage]{
			Success:    false,
			Error:      constants.MessageTimeout,
			StatusCode: constants.HTTPStatusRequestTimeout,
			Kind:       KindTransportTimeout,
		}
	}

	kind := KindUnknown
	message := constants.MessageUnknownError

	if err != nil {
		kind = KindTransportNetwork
		message = transportMessage(err)
	}

	return &Envelope[json.RawMessage]{
		Success:    false,
		Error:      message,
		StatusCode: constants.HTTPStatusInternalServerError,
		Kind:       kind,
	}
}

// Decode converts a raw envelope into a typed one. A body that does not decode
// into T turns a success into a failure with the original status code.
func Decode[T any](env *Envelope[json.RawMessage]) *Envelope[T] {
	if env == nil {
		env = NormalizeTransportError(nil)
	}

	out := &Envelope[T]{
		Success:    env.Success,
		Error:      env.Error,
		Message:    env.Message,
		StatusCode: env.StatusCode,
		Kind:       env.Kind,
		raw:        env.raw,
	}

	if !env.Success || len(env.Data) == 0 {
		return out
	}

	if raw, ok := any(&out.Data).(*json.RawMessage); ok {
		*raw = env.Data
		return out
	}

	if err := json.Unmarshal(env.Data, &out.Data); err != nil {
		var zero T

		out.Data = zero
		out.Success = false
		out.Error = fmt.Errorf("%w: %w", ErrDecodeFailed, err).Error()
		out.Kind = KindUnknown
	}

	return out
}

func trimBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}

	// Non-JSON bodies are kept as a JSON string so Data stays valid JSON.
	quoted, err := json.Marshal(string(trimmed))
	if err != nil {
		return nil
	}

	return json.RawMessage(quoted)
}

// bodyField returns a non-empty string field of a JSON object body.
func bodyField(raw json.RawMessage, field string) string {
	if len(raw) == 0 || raw[0] != '{' {
		return ""
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}

	value, ok := fields[field]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return ""
	}

	return s
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}

	if msg := err.Error(); msg != "" {
		return msg
	}

	return constants.MessageUnknownError
}
