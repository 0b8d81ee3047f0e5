package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Recovery returns a panic-recovery middleware that logs the stack and
// responds 500 instead of crashing the handler goroutine.
func Recovery() gin.HandlerFunc {
	return RecoveryWithWriter(nil)
}

// RecoveryWithWriter is Recovery with an optional extra sink for the
// recovered value, e.g. to forward it to an alerting channel.
func RecoveryWithWriter(writer gin.RecoveryFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"error":  err,
					"stack":  string(debug.Stack()),
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Error("panic recovered")

				if writer != nil {
					writer(c, err)
				}

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{
						"message": "Internal server error",
						"type":    "internal_error",
						"code":    "panic_recovered",
					},
				})
			}
		}()

		c.Next()
	}
}

// SafeGo starts fn in a goroutine that recovers and logs instead of
// crashing the process, for fire-and-forget work (e.g. drain hooks).
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{"error": err, "stack": string(debug.Stack())}).
					Error("goroutine panic recovered")
			}
		}()
		fn()
	}()
}

// SafeCall invokes fn, converting any panic into an error return.
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"error": r, "stack": string(debug.Stack())}).
				Error("panic in SafeCall")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
