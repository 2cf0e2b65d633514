package constants

import "errors"

// Configuration errors.
var (
	ErrBaseURLRequired     = errors.New("base URL is required")
	ErrInvalidContext      = errors.New("invalid execution context")
	ErrStorageRequired     = errors.New("token storage is required for the client context")
	ErrConfigDirUnresolved = errors.New("could not resolve configuration directory")
)

// Authentication errors.
var (
	ErrInvalidJWTFormat  = errors.New("invalid JWT format")
	ErrNoExpirationClaim = errors.New("no expiration claim found")
	ErrTokenNotFound     = errors.New("token not found")
)

// Request errors.
var (
	ErrInvalidMethod     = errors.New("invalid HTTP method")
	ErrInvalidParam      = errors.New("invalid parameter")
	ErrInvalidBody       = errors.New("invalid request body")
	ErrEndpointRequired  = errors.New("endpoint is required")
	ErrTagRequired       = errors.New("tag is required")
	ErrUnsupportedFormat = errors.New("unsupported output format")
)
