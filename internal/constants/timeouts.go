package constants

import "time"

// Timeouts fixed by the protocol between the gateway, the per-request
// queues and the in-browser agent.
const (
	// AgentFetchIdleTimeout bounds how long the browser agent waits for the
	// first byte of an upstream response before treating the attempt as dead.
	AgentFetchIdleTimeout = 600 * time.Second

	// FirstFrameTimeout bounds how long the coordinator waits for the first
	// queue frame (ResponseHeaders or Error) after forwarding a descriptor.
	FirstFrameTimeout = 300 * time.Second

	// StreamChunkTimeout bounds the wait between consecutive streaming
	// chunks once ResponseHeaders has been received.
	StreamChunkTimeout = 30 * time.Second

	// ReconnectGrace is the single-shot window during which a dropped
	// control connection may be re-established without failing in-flight
	// queues.
	ReconnectGrace = 5 * time.Second

	// AgentRetryDelay is the pause between the browser agent's internal
	// network/5xx retry attempts.
	AgentRetryDelay = 2 * time.Second

	// KeepAliveInterval is the cadence of ": keep-alive" SSE comments
	// emitted while a fake-stream attempt is in flight.
	KeepAliveInterval = 3 * time.Second

	// DefaultQueueTimeout is MessageQueue's default dequeue timeout when a
	// call site does not specify one.
	DefaultQueueTimeout = 600 * time.Second

	// BodyAccumulationTimeout is used while the coordinator accumulates a
	// buffered (non-streaming) response body.
	BodyAccumulationTimeout = 300 * time.Second
)

// Retry / rotation defaults, overridable via configuration.
const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultResumeLimit = 3

	DefaultFailureThreshold = 0 // disabled unless configured
	DefaultSwitchOnUses     = 0 // disabled unless configured
)

// DefaultAPIKey is used when no API key is configured.
const DefaultAPIKey = "123456"
