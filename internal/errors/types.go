// Package errors provides the typed error vocabulary shared by the
// coordinator, link and rotation packages, and renders it into either an
// OpenAI-shaped or a Gemini-shaped JSON error envelope for clients.
package errors

// Format selects which upstream's error envelope shape to render.
type Format string

const (
	FormatOpenAI Format = "openai"
	FormatGemini Format = "gemini"
)

// Kind classifies an error into a small closed set so the rotation and
// coordinator packages can decide retry/count/propagate behavior by
// switching on Kind instead of re-deriving it from strings.
type Kind string

const (
	KindTimeout               Kind = "timeout"
	KindUpstream4xx           Kind = "upstream_4xx"
	KindUpstream5xx           Kind = "upstream_5xx"
	KindImmediateSwitchStatus Kind = "immediate_switch_status"
	KindUserAbort             Kind = "user_abort"
	KindLinkLost              Kind = "link_lost"
	KindFatalRotation         Kind = "fatal_rotation"
	KindAdapterError          Kind = "adapter_error"
)

// UserAbortSentinel is the substring the browser agent embeds in the
// message of an Error frame produced by an aborted fetch. The coordinator
// tests for it so a client-initiated cancellation is never counted as a
// credential failure.
const UserAbortSentinel = "user aborted"

// APIError is a standardized error carrying enough information to both
// drive internal decisions (Kind, HTTPStatus) and render a client-visible
// body (Code, Type, Message).
type APIError struct {
	HTTPStatus int
	Code       string
	Type       string
	Message    string
	Kind       Kind
	Details    map[string]interface{}
}

// OpenAIError mirrors OpenAI's error envelope.
type OpenAIError struct {
	Error struct {
		Message string                 `json:"message"`
		Type    string                 `json:"type"`
		Code    string                 `json:"code,omitempty"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// GeminiError mirrors the Google Generative Language API's error shape.
type GeminiError struct {
	Error struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Status  string                 `json:"status"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// New builds an APIError without a Kind classification.
func New(httpStatus int, code, errType, message string) *APIError {
	return &APIError{HTTPStatus: httpStatus, Code: code, Type: errType, Message: message}
}

// WithKind attaches a Kind classification, chainable for call-site brevity.
func (e *APIError) WithKind(k Kind) *APIError {
	e.Kind = k
	return e
}

// WithDetails attaches arbitrary structured details to the error body.
func (e *APIError) WithDetails(details map[string]interface{}) *APIError {
	e.Details = details
	return e
}

// IsUserAbort reports whether this error is the non-counting cancellation
// case: a client-aborted request, never charged to credential failure.
func (e *APIError) IsUserAbort() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindUserAbort
}
