package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"genai-relay/internal/logging"
)

// RequestLogger logs HTTP requests with their status and latency, plus
// the "credential_index" and "streaming_mode" gin context values; no
// handler in this module sets those two keys, so they are logged empty.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		credentialIndex, _ := c.Get("credential_index")
		streamingMode, _ := c.Get("streaming_mode")
		extras := log.Fields{
			"status":           status,
			"latency_ms":       logging.DurationMS(latency),
			"method":           method,
			"path":             path,
			"credential_index": credentialIndex,
			"streaming_mode":   streamingMode,
		}
		logging.WithReq(c, extras).Info("http_request")
	}
}
