package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/catalog"
	"github.com/use-agent/otakuscrape/models"
)

// Sites returns a handler for GET /api/v1/sites.
func Sites(reg *catalog.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.SitesResponse{
			Success: true,
			Sites:   reg.Sites(),
		})
	}
}

// Reload returns a handler for POST /api/v1/schemas/reload.
//
// A catalog that fails to load is reported and the previous one stays in
// effect.
func Reload(reg *catalog.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, err := reg.Reload()
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ReloadResponse{
				Success: false,
				Error:   &models.ErrorDetail{Kind: models.KindInvalid, Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, models.ReloadResponse{
			Success: true,
			Sites:   len(cat.Sites()),
			Schemas: cat.SchemaCount(),
		})
	}
}
