package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "genai-relay/internal/errors"
	"genai-relay/internal/httpformat"
)

// AuthConfig configures UnifiedAuth.
type AuthConfig struct {
	AllowedKeys []string
}

// UnifiedAuth checks, in order, the Authorization bearer token,
// x-goog-api-key, x-api-key, and the ?key= query parameter. The key is
// left in place here; the coordinator strips it from the outbound
// descriptor's query params before forwarding.
func UnifiedAuth(cfg AuthConfig) gin.HandlerFunc {
	keySet := make(map[string]bool, len(cfg.AllowedKeys))
	for _, k := range cfg.AllowedKeys {
		if k != "" {
			keySet[k] = true
		}
	}

	return func(c *gin.Context) {
		var providedKey string

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				providedKey = strings.TrimSpace(authHeader[len("Bearer "):])
			} else {
				providedKey = authHeader
			}
		}
		if providedKey == "" {
			providedKey = c.GetHeader("x-goog-api-key")
		}
		if providedKey == "" {
			providedKey = c.GetHeader("x-api-key")
		}
		if providedKey == "" {
			providedKey = c.Query("key")
		}

		if providedKey == "" || !keySet[providedKey] {
			respondUnauthorized(c)
			return
		}

		c.Set("api_key", providedKey)
		c.Next()
	}
}

func respondUnauthorized(c *gin.Context) {
	err := apperrors.New(http.StatusUnauthorized, "invalid_api_key", "authentication_error", "Invalid API key")
	format := httpformat.DetectFromContext(c)
	payload, marshalErr := err.ToJSON(format)
	if marshalErr != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": err.Message}})
		return
	}
	c.Data(http.StatusUnauthorized, "application/json", payload)
	c.Abort()
}
