package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/domainconfig"
	"github.com/use-agent/purify/models"
)

// GetDomainConfig returns a handler for GET /api/v1/config/domains?url=...
// looking up the override for a single URL's registrable domain.
func GetDomainConfig(store *domainconfig.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawURL := c.Query("url")
		if rawURL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: "url query parameter is required",
			}})
			return
		}
		if store == nil {
			c.JSON(http.StatusOK, gin.H{"config": nil})
			return
		}
		cfg := store.Get(rawURL)
		c.JSON(http.StatusOK, gin.H{"config": cfg})
	}
}

// PostDomainConfig returns a handler for POST /api/v1/config/domains:
// upserts a domain override (scrape allowance, proxy policy, path rules).
func PostDomainConfig(store *domainconfig.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg models.DomainConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}
		if store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeConfiguration, Message: "domain config store not configured",
			}})
			return
		}
		if err := store.Upsert(&cfg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInternal, Message: err.Error(),
			}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"config": cfg})
	}
}
