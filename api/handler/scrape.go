package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/search"
)

// Scrape returns a handler for POST /api/v1/scrape: fetches every URL
// in the request bounded by the orchestrator's configured concurrency
// and returns results in input order.
func Scrape(orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequestV2
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}
		req.Options.Defaults()
		results := orc.Scrape(c.Request.Context(), req.URLs, req.Options)
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// ScrapeStream returns a handler for POST /api/v1/scrape/stream: sends
// one SSE "result" event per URL as it completes, in completion order.
func ScrapeStream(orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequestV2
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}
		req.Options.Defaults()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		stream := orc.StreamScrape(c.Request.Context(), req.URLs, req.Options)
		for result := range stream {
			writeSSE(c, "result", result)
		}
		writeSSE(c, "done", gin.H{"total": len(req.URLs)})
	}
}

// Search returns a handler for POST /api/v1/search.
func Search(sr *search.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}
		if sr == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeConfiguration, Message: "search client not configured",
			}})
			return
		}

		responses := sr.MultiSearch(c.Request.Context(), req.Keywords, false)
		merged := &models.SearchResponse{}
		for _, r := range responses {
			if r == nil {
				continue
			}
			merged.Results = append(merged.Results, r.Results...)
		}
		merged.Total = len(merged.Results)
		c.JSON(http.StatusOK, merged)
	}
}

// SearchAndScrape returns a handler for POST /api/v1/search-and-scrape:
// runs the search, then scrapes every unique URL found in the results.
func SearchAndScrape(sr *search.Client, orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchAndScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}
		req.Options.Defaults()
		if sr == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeConfiguration, Message: "search client not configured",
			}})
			return
		}

		responses := sr.MultiSearch(c.Request.Context(), req.Keywords, false)
		urls := search.ExtractURLsFromResults(responses)
		results := orc.Scrape(c.Request.Context(), urls, req.Options)
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

// SearchAndScrapeStream is the SSE variant of SearchAndScrape.
func SearchAndScrapeStream(sr *search.Client, orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchAndScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}
		req.Options.Defaults()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		if sr == nil {
			writeSSE(c, "error", gin.H{"error": "search client not configured"})
			return
		}
		responses := sr.MultiSearch(c.Request.Context(), req.Keywords, false)
		urls := search.ExtractURLsFromResults(responses)
		stream := orc.StreamScrape(c.Request.Context(), urls, req.Options)
		for result := range stream {
			writeSSE(c, "result", result)
		}
		writeSSE(c, "done", gin.H{"total": len(urls)})
	}
}

// Research returns a handler for POST /api/v1/research: streams one
// SSE "page" event per scraped page, then a final "done" event.
func Research(orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ResearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
				Code: models.ErrCodeInvalidInput, Message: err.Error(),
			}})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		opts := models.ResearchOptions{
			Country:    req.Country,
			Effort:     req.Effort,
			Freshness:  req.Freshness,
			SafeSearch: req.SafeSearch,
		}
		opts.Options.Defaults()

		pages, done := orc.Research(c.Request.Context(), req.Query, opts)
		for pages != nil || done != nil {
			select {
			case event, ok := <-pages:
				if !ok {
					pages = nil
					continue
				}
				writeSSE(c, "page", event)
			case event, ok := <-done:
				if !ok {
					done = nil
					continue
				}
				writeSSE(c, "done", event)
				done = nil
			}
		}
	}
}

// writeSSE writes a single SSE event to the response.
func writeSSE(c *gin.Context, event string, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, jsonData)
	c.Writer.Flush()
}
