// Package httpformat decides, from the inbound request path, whether
// errors and envelopes should render in OpenAI or Gemini shape — the
// OpenAI-compatible surface lives under /v1, everything else is
// Google-native passthrough.
package httpformat

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "genai-relay/internal/errors"
)

// DetectFromContext determines the error/response format for c.
func DetectFromContext(c *gin.Context) apperrors.Format {
	if c == nil {
		return apperrors.FormatOpenAI
	}
	if path := c.FullPath(); path != "" {
		return DetectFromPath(path)
	}
	return DetectFromRequest(c.Request)
}

// DetectFromRequest determines the format from a raw *http.Request.
func DetectFromRequest(r *http.Request) apperrors.Format {
	if r == nil || r.URL == nil {
		return apperrors.FormatOpenAI
	}
	return DetectFromPath(r.URL.Path)
}

// DetectFromPath determines the format from a raw path string.
func DetectFromPath(path string) apperrors.Format {
	path = strings.ToLower(path)
	if strings.HasPrefix(path, "/v1/chat/completions") || strings.HasPrefix(path, "/v1/models") {
		return apperrors.FormatOpenAI
	}
	return apperrors.FormatGemini
}
