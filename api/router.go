package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/api/handler"
	"github.com/use-agent/purify/api/middleware"
	"github.com/use-agent/purify/cleaner"
	"github.com/use-agent/purify/config"
	"github.com/use-agent/purify/domainconfig"
	"github.com/use-agent/purify/llm"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/scraper"
	"github.com/use-agent/purify/search"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(sc *scraper.Scraper, cl *cleaner.Cleaner, llmClient *llm.Client, cfg *config.Config, orc *orchestrator.Orchestrator, searchClient *search.Client, domainCfg *domainconfig.Store, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(sc, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Scrape
	protected.POST("/scrape", handler.Scrape(orc))
	protected.POST("/scrape/stream", handler.ScrapeStream(orc))

	// Search
	protected.POST("/search", handler.Search(searchClient))
	protected.POST("/search-and-scrape", handler.SearchAndScrape(searchClient, orc))
	protected.POST("/search-and-scrape/stream", handler.SearchAndScrapeStream(searchClient, orc))

	// Research
	protected.POST("/research", handler.Research(orc))

	// Domain config
	protected.GET("/config/domains", handler.GetDomainConfig(domainCfg))
	protected.POST("/config/domains", handler.PostDomainConfig(domainCfg))

	// Extract (structured extraction via LLM)
	protected.POST("/extract", handler.Extract(sc, cl, llmClient))

	// Batch
	protected.POST("/batch/scrape", handler.PostBatch(orc))
	protected.GET("/batch/:id", handler.GetBatch())

	// Crawl
	protected.POST("/crawl", handler.PostCrawl(orc))
	protected.GET("/crawl/:id", handler.GetCrawl())

	// Map
	protected.POST("/map", handler.PostMap(orc))

	return r
}
