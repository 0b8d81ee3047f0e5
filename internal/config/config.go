// Package config loads genai-relay's configuration from environment
// variables with an optional YAML overlay for non-secret operational
// knobs, applied with env-then-file precedence.
package config

import (
	"time"

	"genai-relay/internal/constants"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Host string
	Port int

	// Debug toggles verbose text logging instead of JSON.
	Debug   bool
	LogFile string

	// StreamingMode forces "real" or "fake" streaming when non-empty;
	// empty means the coordinator decides per request.
	StreamingMode string

	// Rotation policy.
	FailureThreshold         int32
	SwitchOnUses             int32
	ImmediateSwitchStatuses  map[int]struct{}

	// Retry policy for fake-stream mode.
	MaxRetries int
	RetryDelay time.Duration

	// Auto-resume policy for context-concatenation after a truncated
	// generation.
	ResumeOnProhibit bool
	ResumeLimit      int

	// Reasoning controls whether generationConfig.thinkingConfig.includeThoughts
	// is injected into translated requests.
	ReasoningEnabled       bool
	NativeReasoningEnabled bool

	// APIKeys accepted on the inbound HTTP surface; falls back to
	// constants.DefaultAPIKey when empty.
	APIKeys []string

	// AuthDir holds auth-<N>.json credential files when not in env mode.
	AuthDir string

	// InitialAuthIndex seeds RotationController.currentIndex if present
	// among discovered indices.
	InitialAuthIndex int

	// RateLimitRPS/RateLimitBurst bound the per-key token bucket guarding
	// the authenticated HTTP surface; zero means the middleware's own
	// defaults apply.
	RateLimitRPS   int
	RateLimitBurst int
}

// Default returns a Config with every built-in default applied.
func Default() *Config {
	return &Config{
		Host:                    "0.0.0.0",
		Port:                    8080,
		MaxRetries:              constants.DefaultMaxRetries,
		RetryDelay:              constants.DefaultRetryDelay,
		ResumeLimit:             constants.DefaultResumeLimit,
		FailureThreshold:        constants.DefaultFailureThreshold,
		SwitchOnUses:            constants.DefaultSwitchOnUses,
		ImmediateSwitchStatuses: map[int]struct{}{},
		AuthDir:                 "auth",
		APIKeys:                 []string{constants.DefaultAPIKey},
		InitialAuthIndex:        -1,
		RateLimitRPS:            10,
		RateLimitBurst:          20,
	}
}

// IsImmediateSwitchStatus reports whether status is configured to trigger
// an immediate credential switch.
func (c *Config) IsImmediateSwitchStatus(status int) bool {
	if c == nil {
		return false
	}
	_, ok := c.ImmediateSwitchStatuses[status]
	return ok
}
