package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/cache"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of pages are active.
// poolStats may be nil when the headless strategy is disabled.
func Health(poolStats func() models.PoolStats, store cache.Store, reg *catalog.Registry, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats models.PoolStats
		if poolStats != nil {
			stats = poolStats()
		}

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       status,
			Uptime:       time.Since(startTime).Round(time.Second).String(),
			PoolStats:    stats,
			CacheEntries: store.Len(c.Request.Context()),
			Schemas:      reg.Current().SchemaCount(),
			Version:      Version,
		})
	}
}
