package errors

import (
	"encoding/json"
	"net/http"
)

// ToJSON renders the error in the requested envelope shape.
func (e *APIError) ToJSON(format Format) ([]byte, error) {
	switch format {
	case FormatGemini:
		return e.toGeminiJSON()
	default:
		return e.toOpenAIJSON()
	}
}

func (e *APIError) toOpenAIJSON() ([]byte, error) {
	var env OpenAIError
	env.Error.Message = e.Message
	env.Error.Type = e.Type
	env.Error.Code = e.Code
	env.Error.Details = e.Details
	return json.Marshal(env)
}

func (e *APIError) toGeminiJSON() ([]byte, error) {
	var env GeminiError
	env.Error.Code = e.HTTPStatus
	env.Error.Message = e.Message
	env.Error.Status = geminiStatusForHTTP(e.HTTPStatus)
	env.Error.Details = e.Details
	return json.Marshal(env)
}

func geminiStatusForHTTP(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}
