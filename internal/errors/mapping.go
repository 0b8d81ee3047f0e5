package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// MapUpstreamStatus classifies a status code returned by the browser agent
// into Upstream4xx or Upstream5xx (504 into Timeout; a status below 400
// becomes a 502 Upstream5xx) and renders a client-visible message,
// preferring any message the upstream itself supplied.
func MapUpstreamStatus(status int, upstreamMessage string) *APIError {
	msg := firstNonEmpty(truncate(upstreamMessage, 500), genericMessageFor(status))

	kind := KindUpstream5xx
	if status >= 400 && status < 500 {
		kind = KindUpstream4xx
	}

	switch status {
	case http.StatusUnauthorized:
		return New(status, "invalid_api_key", "authentication_error", msg).WithKind(kind)
	case http.StatusForbidden:
		return New(status, "permission_denied", "permission_error", msg).WithKind(kind)
	case http.StatusNotFound:
		return New(status, "not_found", "invalid_request_error", msg).WithKind(kind)
	case http.StatusTooManyRequests:
		return New(status, "rate_limit_exceeded", "rate_limit_error", msg).WithKind(kind)
	case http.StatusBadGateway:
		return New(status, "bad_gateway", "server_error", msg).WithKind(kind)
	case http.StatusServiceUnavailable:
		return New(status, "service_unavailable", "server_error", msg).WithKind(kind)
	case http.StatusGatewayTimeout:
		return New(status, "timeout", "timeout_error", msg).WithKind(KindTimeout)
	default:
		if status >= 400 {
			return New(status, "upstream_error", "server_error", msg).WithKind(kind)
		}
		return New(http.StatusBadGateway, "upstream_error", "server_error", msg).WithKind(KindUpstream5xx)
	}
}

func genericMessageFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusUnauthorized:
		return "Invalid authentication"
	case http.StatusForbidden:
		return "Permission denied"
	case http.StatusNotFound:
		return "Resource not found"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded"
	case http.StatusInternalServerError:
		return "Internal server error"
	case http.StatusBadGateway:
		return "Bad gateway"
	case http.StatusServiceUnavailable:
		return "Service temporarily unavailable"
	case http.StatusGatewayTimeout:
		return "Request timeout"
	default:
		return fmt.Sprintf("HTTP %d error", status)
	}
}

// Timeout builds the error surfaced when a queue dequeue exceeds its
// timeout.
func Timeout(stage string) *APIError {
	return New(http.StatusGatewayTimeout, "timeout", "timeout_error",
		fmt.Sprintf("timed out waiting for %s", stage)).WithKind(KindTimeout)
}

// QueueClosed builds the error surfaced to waiters when a queue is closed,
// whether by explicit close or by reconnect-grace expiry.
func QueueClosed() *APIError {
	return New(http.StatusServiceUnavailable, "link_lost", "server_error",
		"connection to browser agent was lost").WithKind(KindLinkLost)
}

// UserAbort builds the non-counting cancellation error.
func UserAbort() *APIError {
	return New(499, "request_canceled", "timeout_error",
		UserAbortSentinel).WithKind(KindUserAbort)
}

// AdapterError builds a 400 for a malformed OpenAI request body that the
// translator cannot make sense of.
func AdapterError(reason string) *APIError {
	return New(http.StatusBadRequest, "invalid_request_error", "invalid_request_error",
		reason).WithKind(KindAdapterError)
}

// FatalRotation builds the error surfaced when both a switch and its
// fallback fail.
func FatalRotation(reason string) *APIError {
	return New(http.StatusServiceUnavailable, "rotation_failed", "server_error",
		reason).WithKind(KindFatalRotation)
}

// Rotating builds the 503 surfaced while a credential switch is pending
// and the entry gate is rejecting new requests.
func Rotating() *APIError {
	return New(http.StatusServiceUnavailable, "rotating_accounts", "server_error",
		"rotating accounts")
}

// extractUpstreamMessage pulls a human message out of a raw upstream JSON
// error body, OpenAI- or Gemini-shaped, falling back to the raw body.
func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err == nil {
		if errObj, ok := generic["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return string(body)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ExtractUpstreamMessage is the exported form of extractUpstreamMessage,
// for callers that only have the raw upstream body.
func ExtractUpstreamMessage(body []byte) string {
	return extractUpstreamMessage(body)
}
