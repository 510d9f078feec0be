package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/api/middleware"
	"github.com/use-agent/otakuscrape/models"
)

// Batch returns a handler for POST /api/v1/batch.
//
// Requests run concurrently, at most maxConcurrent at a time, and the
// response waits for all of them. Results keep request order.
func Batch(res Resources, maxConcurrent int, maxTimeout time.Duration) gin.HandlerFunc {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.KindInvalid, err.Error(), err))
			return
		}

		ctx := c.Request.Context()
		results := make([]*models.ResourceResponse, len(req.Requests))
		sem := make(chan struct{}, maxConcurrent)
		var wg sync.WaitGroup

		for i, r := range req.Requests {
			r.Defaults()
			wg.Add(1)
			go func(idx int, r models.ResourceRequest) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[idx] = toResponse(run(ctx, res, r, maxTimeout))
			}(i, r)
		}
		wg.Wait()

		out := models.BatchResponse{Total: len(results), Results: results}
		for _, r := range results {
			if r.Success {
				out.Completed++
			} else {
				out.Failed++
			}
		}
		switch {
		case out.Failed == out.Total:
			out.Status = "failed"
		case out.Failed > 0:
			out.Status = "partial"
		default:
			out.Status = "completed"
		}

		slog.Info("batch finished",
			"request_id", c.GetString(middleware.RequestIDKey),
			"status", out.Status,
			"completed", out.Completed,
			"failed", out.Failed,
			"total", out.Total,
		)
		c.JSON(http.StatusOK, out)
	}
}
