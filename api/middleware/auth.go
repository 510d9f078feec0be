package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/models"
)

// Auth guards the catalog, resource, batch and schema-reload routes with a
// shared set of API keys. Health checks are mounted outside it.
//
// A caller names its key in either header:
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// The accepted key is stored under APIKeyKey, so RateLimit buckets each
// key separately instead of by client IP. With no keys configured every
// caller passes and is limited by IP.
func Auth(apiKeys []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			allowed[k] = true
		}
	}
	if len(allowed) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key, ok := callerKey(c)
		switch {
		case !ok:
			abort(c, http.StatusUnauthorized, models.KindUnauthorized,
				"missing API key: send X-API-Key or Authorization: Bearer <key>")
			return
		case !allowed[key]:
			abort(c, http.StatusUnauthorized, models.KindUnauthorized, "invalid API key")
			return
		}
		c.Set(APIKeyKey, key)
		c.Next()
	}
}

// callerKey reads X-API-Key, then a Bearer token.
func callerKey(c *gin.Context) (string, bool) {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key, true
	}
	key, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	return key, ok && key != ""
}

// abort stops the chain with the resource error envelope.
func abort(c *gin.Context, status int, kind models.ErrorKind, msg string) {
	c.AbortWithStatusJSON(status, models.ResourceResponse{
		Success: false,
		Message: msg,
		Error:   &models.ErrorDetail{Kind: kind, Message: msg},
	})
}
