package constants

import "time"

// File and directory permissions.
const (
	// ConfigDirPerm is the permission for configuration directories.
	ConfigDirPerm = 0750

	// ConfigFilePerm is the permission for configuration and storage files.
	ConfigFilePerm = 0600
)

// HTTP and network timeouts.
const (
	// DefaultHTTPTimeout is the default timeout for dispatched requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShortHTTPTimeout is used for quick operations such as cache backends.
	ShortHTTPTimeout = 10 * time.Second

	// ServerReadHeaderTimeout bounds header reads on the relay server.
	ServerReadHeaderTimeout = 10 * time.Second

	// ServerShutdownTimeout bounds graceful shutdown of the relay server.
	ServerShutdownTimeout = 15 * time.Second
)

// Retry limits. Dispatch never retries unless a caller opts in.
const (
	// DefaultRetryMax is zero: no automatic retries.
	DefaultRetryMax = 0

	// DefaultRetryWaitMin is the minimum wait between opt-in retries.
	DefaultRetryWaitMin = 1 * time.Second

	// DefaultRetryWaitMax is the maximum wait between opt-in retries.
	DefaultRetryWaitMax = 10 * time.Second
)

// HTTP status codes used by envelope normalization.
const (
	// HTTPStatusRequestTimeout is reported when a request exceeds its deadline.
	HTTPStatusRequestTimeout = 408

	// HTTPStatusInternalServerError is reported for transport failures.
	HTTPStatusInternalServerError = 500

	// HTTPStatusUnauthorized triggers the auth-expiry reaction on the client path.
	HTTPStatusUnauthorized = 401
)

// Authentication defaults.
const (
	// DefaultTokenStorageKey is the persistent storage key holding the client-path token.
	DefaultTokenStorageKey = "access_token"

	// DefaultTokenCookieName is the request cookie holding the server-path token.
	DefaultTokenCookieName = "auth_token"

	// DefaultLoginRoute is where the client path navigates after a 401.
	DefaultLoginRoute = "/login"

	// TokenExpirationBuffer is the buffer time before token expiration.
	TokenExpirationBuffer = 30 * time.Second

	// DefaultExecutionContext is the CLI's execution context when none is configured.
	DefaultExecutionContext = "client"
)

// Envelope messages.
const (
	// MessageTimeout is the envelope error for requests that exceeded their deadline.
	MessageTimeout = "request timed out"

	// MessageRequestFailed is the fallback envelope error for non-2xx responses.
	MessageRequestFailed = "request failed"

	// MessageUnknownError is the fallback envelope error for unclassified failures.
	MessageUnknownError = "unknown error"
)

// Cache sizing.
const (
	// DefaultCacheSize is the default number of entries held by the memory cache.
	DefaultCacheSize = 1000

	// DefaultGCTime is how long unused query data is retained.
	DefaultGCTime = 5 * time.Minute

	// DefaultNATSBucket is the JetStream key-value bucket used for shared caching.
	DefaultNATSBucket = "callapi_cache"

	// DefaultRedisKeyPrefix namespaces cache keys in Redis.
	DefaultRedisKeyPrefix = "callapi:cache:"

	// DefaultListenAddr is the relay server's listen address.
	DefaultListenAddr = ":8080"
)

// Format constants.
const (
	// FormatJSON selects JSON output.
	FormatJSON = "json"

	// FormatYAML selects YAML output.
	FormatYAML = "yaml"

	// FormatTable selects table output.
	FormatTable = "table"
)

// UI and display constants.
const (
	// NotAvailable is displayed for empty values.
	NotAvailable = "N/A"

	// MaskedSecret hides secrets in output.
	MaskedSecret = "***"

	// MinimumArgumentCount is the argument count for METHOD ENDPOINT commands.
	MinimumArgumentCount = 2

	// StringTruncationLimit is the number of characters shown of a masked secret.
	StringTruncationLimit = 4
)
