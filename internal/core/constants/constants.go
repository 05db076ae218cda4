// Package constants pins the fixed numbers and header names of the
// forwarding data plane in one place.
package constants

import "time"

// Retry budget for one logical client request.
const (
	// MaxEndpointAttempts is the number of distinct endpoints tried
	// before the request is declared exhausted.
	MaxEndpointAttempts = 10

	// EndpointRetries is the number of attempts on one chosen endpoint
	// before failing over.
	EndpointRetries = 3

	// BackoffBase is the exponent base for same-endpoint retries:
	// sleep min(BackoffBase^retry, BackoffCap).
	BackoffBase = 1.5
	BackoffCap  = 30 * time.Second
)

// Streaming behaviour.
const (
	// HeartbeatInterval is how often an SSE comment frame is written
	// downstream while no upstream chunk arrives.
	HeartbeatInterval = 5 * time.Second

	// FirstChunkTimeout bounds the wait for the first upstream body byte.
	FirstChunkTimeout = 120 * time.Second

	// HeartbeatFrame is the SSE comment written to keep intermediaries
	// from timing the connection out.
	HeartbeatFrame = ": heartbeat\n\n"

	// DoneFrame is the OpenAI stream terminator, passed through as-is.
	DoneFrame = "[DONE]"
)

// Timeouts.
const (
	// DefaultAttemptTimeout applies when a pool carries no
	// timeout_seconds of its own.
	DefaultAttemptTimeout = 60 * time.Second

	// ClientHoldTimeout is the forwarder's outer bound on a single
	// non-streaming upstream exchange.
	ClientHoldTimeout = 300 * time.Second
)

// Upstream request headers.
const (
	HeaderContentType      = "Content-Type"
	HeaderAuthorization    = "Authorization"
	HeaderAnthropicKey     = "x-api-key"
	HeaderAnthropicVersion = "anthropic-version"

	ContentTypeJSON  = "application/json"
	ContentTypeSSE   = "text/event-stream"
	AnthropicVersion = "2023-06-01"
)

// Downstream response headers for SSE.
const (
	HeaderCacheControl = "Cache-Control"
	HeaderConnection   = "Connection"

	CacheControlNoCache = "no-cache"
	ConnectionKeepAlive = "keep-alive"
)

// ServiceName identifies the gateway in health and model listings.
const ServiceName = "api-pool-gateway"
