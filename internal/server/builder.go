package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genai-relay/internal/coordinator"
	"genai-relay/internal/link"
	mw "genai-relay/internal/middleware"
)

// Dependencies are the already-constructed runtime services the engine
// routes into. Assembling them (credential store, rotation controller,
// link, coordinator) is cmd/server/main.go's job; Build only wires HTTP.
type Dependencies struct {
	Coordinator    *coordinator.Coordinator
	Link           *link.Link
	Operator       OperatorDeps
	APIKeys        []string
	Debug          bool
	RateLimitRPS   int
	RateLimitBurst int
}

// Build assembles the gateway's single gin.Engine: auth-gated OpenAI and
// Google-native routes, the unauthenticated control-channel upgrade, and
// the JSON-only operator endpoints.
func Build(deps Dependencies) *gin.Engine {
	if !deps.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	_ = engine.SetTrustedProxies(nil)

	engine.Use(mw.Recovery(), mw.RequestID(), mw.CORS(), mw.RequestLogger())

	engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/internal/agent", deps.Link.GinHandler())

	auth := mw.UnifiedAuth(mw.AuthConfig{AllowedKeys: deps.APIKeys})
	limit := mw.RateLimiter(deps.RateLimitRPS, deps.RateLimitBurst)

	api := engine.Group("")
	api.Use(auth, limit)
	api.POST("/v1/chat/completions", deps.Coordinator.ServeOpenAIChat)
	api.GET("/v1/models", deps.Coordinator.ServeOpenAIModelList)
	RegisterOperatorRoutes(api, deps.Operator)

	// Google-native passthrough: everything else, still behind auth.
	engine.NoRoute(auth, limit, deps.Coordinator.ServeGoogleNative)

	return engine
}
