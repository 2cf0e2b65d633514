package callapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed call.
type ErrorKind int

const (
	// KindNone marks a successful call.
	KindNone ErrorKind = iota
	// KindTransportTimeout is a request that exceeded its deadline.
	KindTransportTimeout
	// KindTransportNetwork is a connection or protocol failure.
	KindTransportNetwork
	// KindHTTPStatus is a response with a non-2xx status.
	KindHTTPStatus
	// KindAuthExpired is a 401 response.
	KindAuthExpired
	// KindUnknown is any other failure.
	KindUnknown
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransportTimeout:
		return "transport_timeout"
	case KindTransportNetwork:
		return "transport_network"
	case KindHTTPStatus:
		return "http_status"
	case KindAuthExpired:
		return "auth_expired"
	default:
		return "unknown"
	}
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(status int) ErrorKind {
	switch {
	case status >= 200 && status < 300:
		return KindNone
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	default:
		return KindHTTPStatus
	}
}

// APIError is the error raised by Unwrap and Envelope.Err for failed calls.
type APIError struct {
	StatusCode int             `json:"status"         yaml:"status"`
	Message    string          `json:"message"        yaml:"message"`
	Data       json.RawMessage `json:"data,omitempty" yaml:"-"`
	Kind       ErrorKind       `json:"-"              yaml:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status: %d)", e.Message, e.StatusCode)
}

// Common static errors that can be wrapped with context.
var (
	ErrNilEnvelope  = errors.New("nil envelope")
	ErrDecodeFailed = errors.New("failed to decode response data")
)

// KindOf returns the kind of an *APIError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	return KindUnknown
}

// IsTimeout checks if the error is a timed-out call.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTransportTimeout
}

// IsUnauthorized checks if the error is a 401 response.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindAuthExpired
}

// IsNotFound checks if the error is a 404 response.
func IsNotFound(err error) bool {
	apiErr := &APIError{}
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}

	return false
}
