package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the middleware chain and all routes
// registered. metrics may be nil.
func NewRouter(m migrator, metrics http.Handler, logger *zap.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(logger))
	engine.Use(RequestLogger(logger))

	h := &Handler{migrator: m}

	v1 := engine.Group("/api/v1")
	v1.GET("/migration", h.GetMigration)
	v1.POST("/migration", h.CreateMigration)
	v1.DELETE("/migration", h.ResetMigration)
	v1.POST("/migration/transition", h.RequestTransition)
	v1.GET("/migration/fs/report", h.FilesystemReport)
	v1.POST("/migration/fs/abort", h.AbortFilesystemMigration)
	v1.GET("/develop/mode", h.GetMode)
	v1.PUT("/develop/mode", h.SetMode)
	v1.PUT("/credentials", h.StoreCredentials)

	engine.GET("/health", h.Health)
	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers
func (r *Router) Handler() http.Handler {
	return r.engine
}
