package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/models"
	"github.com/use-agent/otakuscrape/pipeline"
)

// Resources runs resource requests. *pipeline.Pipeline implements it.
type Resources interface {
	GetResource(ctx context.Context, req models.ResourceRequest) *pipeline.Result
}

// toResponse converts a pipeline result into the API envelope.
func toResponse(res *pipeline.Result) *models.ResourceResponse {
	resp := &models.ResourceResponse{
		Success:   res.OK,
		Schema:    res.Schema,
		SourceURL: res.SourceURL,
		Strategy:  res.Strategy,
		Attempts:  res.Attempts,
		Timing: models.TimingInfo{
			TotalMs:   res.TotalTime.Milliseconds(),
			FetchMs:   res.FetchTime.Milliseconds(),
			ExtractMs: res.ExtractTime.Milliseconds(),
		},
	}

	if !res.OK {
		resp.Message = res.Message
		resp.Error = &models.ErrorDetail{Kind: res.ErrorKind, Message: res.Message}
		return resp
	}

	// A nil *Record in an interface would marshal as null instead of
	// being omitted.
	if res.Data != nil {
		resp.Data = res.Data
	}
	resp.CacheStatus = "miss"
	if res.Cached {
		resp.CacheStatus = "hit"
	}
	if res.Degraded {
		resp.Degraded = true
		resp.Missing = res.Missing
		resp.Drift = res.Drift
		resp.Warning = fmt.Sprintf("required fields missing: %s", strings.Join(res.Missing, ", "))
	}
	return resp
}

// respond writes a pipeline result with the status its outcome maps to.
func respond(c *gin.Context, res *pipeline.Result) {
	status := http.StatusOK
	if !res.OK {
		status = statusFor(res.ErrorKind)
	}
	c.JSON(status, toResponse(res))
}

// respondError writes a structured error for failures outside the pipeline,
// such as bad request bodies or unknown catalog endpoints.
func respondError(c *gin.Context, err error) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.KindOf(err), err.Error(), err)
	}
	c.JSON(statusFor(scrapeErr.Code), models.ResourceResponse{
		Success: false,
		Message: scrapeErr.Message,
		Error:   scrapeErr.ToDetail(),
	})
}

// statusFor translates error kinds to HTTP status codes.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindInvalid:
		return http.StatusBadRequest // 400
	case models.KindUnauthorized:
		return http.StatusUnauthorized // 401
	case models.KindNotFound:
		return http.StatusNotFound // 404
	case models.KindRateLimited:
		return http.StatusTooManyRequests // 429
	case models.KindTimeout:
		return http.StatusGatewayTimeout // 504
	case models.KindBlocked, models.KindExhausted, models.KindUpstream, models.KindNetwork, models.KindOther:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// requestTimeout bounds a call by the client's timeout, capped by limit.
func requestTimeout(seconds int, limit time.Duration) time.Duration {
	d := time.Duration(seconds) * time.Second
	if limit > 0 && (d <= 0 || d > limit) {
		d = limit
	}
	return d
}

// run executes one request under its timeout.
func run(ctx context.Context, res Resources, req models.ResourceRequest, limit time.Duration) *pipeline.Result {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout(req.Timeout, limit))
	defer cancel()
	return res.GetResource(ctx, req)
}
