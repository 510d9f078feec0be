package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/api/handler"
	"github.com/use-agent/otakuscrape/api/middleware"
	"github.com/use-agent/otakuscrape/cache"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/config"
	"github.com/use-agent/otakuscrape/models"
)

// Deps are the services the routes are built on.
type Deps struct {
	Resources handler.Resources
	Registry  *catalog.Registry
	Store     cache.Store

	// PoolStats is nil when the headless strategy is disabled.
	PoolStats func() models.PoolStats

	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → RequestID → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is outside auth so monitoring probes always work.
func NewRouter(d Deps, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health, no auth required.
	v1.GET("/health", handler.Health(d.PoolStats, d.Store, d.Registry, d.StartTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	maxTimeout := cfg.Fetch.MaxTimeout

	// Catalog
	protected.GET("/sites", handler.Sites(d.Registry))
	protected.GET("/sites/:site/:endpoint", handler.SiteResource(d.Resources, d.Registry, maxTimeout))
	protected.POST("/schemas/reload", handler.Reload(d.Registry))

	// Generic resource calls
	protected.POST("/resource", handler.Resource(d.Resources, maxTimeout))
	protected.POST("/batch", handler.Batch(d.Resources, cfg.Browser.MaxPages, maxTimeout))

	return r
}
