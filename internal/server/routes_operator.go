package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"genai-relay/internal/config"
	"genai-relay/internal/credential"
	"genai-relay/internal/events"
	"genai-relay/internal/rotation"
)

// OperatorDeps bundles the runtime state the operator JSON endpoints read
// and mutate. No session/cookie layer, no HTML — every response is JSON,
// per the thin operator surface spec.md keeps in scope.
type OperatorDeps struct {
	Rotation *rotation.Controller
	Creds    *credential.Store
	Config   *config.Config
	Events   *events.Hub
}

type switchAccountRequest struct {
	TargetIndex *int `json:"targetIndex"`
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type setResumeConfigRequest struct {
	Limit int `json:"limit"`
}

// RegisterOperatorRoutes mounts the /api/* operator endpoints under r.
func RegisterOperatorRoutes(r gin.IRoutes, deps OperatorDeps) {
	r.POST("/api/switch-account", func(c *gin.Context) { handleSwitchAccount(c, deps) })
	r.POST("/api/set-mode", func(c *gin.Context) { handleSetMode(c, deps) })
	r.POST("/api/toggle-reasoning", func(c *gin.Context) { handleToggleReasoning(c, deps) })
	r.POST("/api/toggle-native-reasoning", func(c *gin.Context) { handleToggleNativeReasoning(c, deps) })
	r.POST("/api/set-resume-config", func(c *gin.Context) { handleSetResumeConfig(c, deps) })
	r.GET("/api/status", func(c *gin.Context) { handleStatus(c, deps) })
}

func handleSwitchAccount(c *gin.Context, deps OperatorDeps) {
	var req switchAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength != 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var err error
	if req.TargetIndex != nil {
		err = deps.Rotation.Switch(c.Request.Context(), *req.TargetIndex)
	} else {
		err = deps.Rotation.SwitchToNext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if deps.Events != nil {
		deps.Events.Publish(events.TopicRotationSwitched, deps.Rotation.CurrentIndex())
	}
	c.JSON(http.StatusOK, gin.H{"currentIndex": deps.Rotation.CurrentIndex()})
}

func handleSetMode(c *gin.Context, deps OperatorDeps) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	switch req.Mode {
	case "real", "fake", "":
		deps.Config.StreamingMode = req.Mode
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be one of: real, fake, \"\""})
		return
	}
	c.JSON(http.StatusOK, gin.H{"streamingMode": deps.Config.StreamingMode})
}

func handleToggleReasoning(c *gin.Context, deps OperatorDeps) {
	deps.Config.ReasoningEnabled = !deps.Config.ReasoningEnabled
	c.JSON(http.StatusOK, gin.H{"reasoningEnabled": deps.Config.ReasoningEnabled})
}

func handleToggleNativeReasoning(c *gin.Context, deps OperatorDeps) {
	deps.Config.NativeReasoningEnabled = !deps.Config.NativeReasoningEnabled
	c.JSON(http.StatusOK, gin.H{"nativeReasoningEnabled": deps.Config.NativeReasoningEnabled})
}

func handleSetResumeConfig(c *gin.Context, deps OperatorDeps) {
	var req setResumeConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be >= 0"})
		return
	}
	deps.Config.ResumeLimit = req.Limit
	c.JSON(http.StatusOK, gin.H{"resumeLimit": deps.Config.ResumeLimit})
}

func handleStatus(c *gin.Context, deps OperatorDeps) {
	snap := deps.Rotation.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"currentIndex":           snap.CurrentIndex,
		"availableIndices":       snap.AvailableIndices,
		"usageCount":             snap.UsageCount,
		"failureCount":           snap.FailureCount,
		"activeRequestCount":     snap.ActiveRequestCount,
		"isSwitching":            snap.IsSwitching,
		"isSystemBusy":           snap.IsSystemBusy,
		"streamingMode":          deps.Config.StreamingMode,
		"reasoningEnabled":       deps.Config.ReasoningEnabled,
		"nativeReasoningEnabled": deps.Config.NativeReasoningEnabled,
		"resumeOnProhibit":       deps.Config.ResumeOnProhibit,
		"resumeLimit":            deps.Config.ResumeLimit,
		"currentDisplayName":     deps.Creds.DisplayName(snap.CurrentIndex),
	})
}
