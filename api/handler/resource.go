package handler

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/api/middleware"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/models"
	"github.com/use-agent/otakuscrape/pipeline"
)

// Resource returns a handler for POST /api/v1/resource.
//
// Flow:
//  1. Parse & validate request, apply defaults. The url is fetched as
//     given, so page > 1 is rejected rather than cached under a page the
//     url does not hold.
//  2. Pipeline.GetResource under min(request timeout, maxTimeout).
//  3. Map the result kind to a status and respond.
func Resource(res Resources, maxTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		// ── 1. Parse request ────────────────────────────────────────
		var req models.ResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.KindInvalid, err.Error(), err))
			return
		}
		req.Defaults()
		if req.Page > 1 {
			respondError(c, models.NewScrapeError(models.KindInvalid,
				"page is only resolved on /sites/:site/:endpoint; put the page in url instead", nil))
			return
		}

		// ── 2. Run ──────────────────────────────────────────────────
		result := run(c.Request.Context(), res, req, maxTimeout)
		logResult(c, req, result)

		// ── 3. Respond ──────────────────────────────────────────────
		respond(c, result)
	}
}

// SiteResource returns a handler for GET /api/v1/sites/:site/:endpoint.
//
// The endpoint is resolved through the catalog: query parameters fill the
// path template ({page}, {slug}, {q}) and the endpoint's query filters.
func SiteResource(res Resources, reg *catalog.Registry, maxTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := make(map[string]string)
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		req, err := reg.Resolve(c.Param("site"), c.Param("endpoint"), params)
		if err != nil {
			respondError(c, err)
			return
		}
		req.Defaults()

		result := run(c.Request.Context(), res, req, maxTimeout)
		logResult(c, req, result)
		respond(c, result)
	}
}

func logResult(c *gin.Context, req models.ResourceRequest, res *pipeline.Result) {
	attrs := []any{
		"request_id", c.GetString(middleware.RequestIDKey),
		"schema", req.Schema,
		"url", req.URL,
		"page", req.Page,
	}
	if !res.OK {
		slog.Warn("resource failed", append(attrs, "kind", res.ErrorKind, "message", res.Message)...)
		return
	}
	slog.Debug("resource served", append(attrs, "strategy", res.Strategy, "cached", res.Cached)...)
}
