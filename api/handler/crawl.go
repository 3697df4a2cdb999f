package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/webhook"
)

// crawlStore holds all in-flight and completed crawl jobs.
var crawlStore sync.Map

func init() {
	// Background goroutine to expire crawl jobs older than 1 hour.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-1 * time.Hour).Unix()
			crawlStore.Range(func(key, value any) bool {
				job := value.(*models.CrawlJob)
				if job.CreatedAt < cutoff {
					crawlStore.Delete(key)
				}
				return true
			})
		}
	}()
}

// PostCrawl returns a handler for POST /api/v1/crawl.
func PostCrawl(orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CrawlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.CrawlResponse{
				Status: "failed",
			})
			return
		}

		// Apply defaults.
		if req.MaxDepth == 0 {
			req.MaxDepth = 3
		}
		if req.MaxPages == 0 {
			req.MaxPages = 100
		}
		if req.Scope == "" {
			req.Scope = "subdomain"
		}

		jobID := "crawl-" + randomID()
		job := &models.CrawlJob{
			ID:            jobID,
			Status:        "processing",
			CreatedAt:     time.Now().Unix(),
			WebhookURL:    req.WebhookURL,
			WebhookSecret: req.WebhookSecret,
		}
		crawlStore.Store(jobID, job)

		// Launch BFS crawl in background.
		go runCrawl(orc, job, req)

		c.JSON(http.StatusOK, models.CrawlResponse{
			ID:     jobID,
			Status: "processing",
		})
	}
}

// GetCrawl returns a handler for GET /api/v1/crawl/:id.
func GetCrawl() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		val, ok := crawlStore.Load(jobID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "crawl job not found",
				},
			})
			return
		}

		job := val.(*models.CrawlJob)
		c.JSON(http.StatusOK, models.CrawlStatusResponse{
			ID:        job.ID,
			Status:    job.Status,
			Completed: job.Completed,
			Total:     job.Total,
			Results:   job.Results,
		})
	}
}

// bfsItem represents a URL to be crawled at a given depth.
type bfsItem struct {
	url   string
	depth int
}

// runCrawl performs BFS crawling starting from the request URL,
// scraping each level of the frontier through a single orchestrator
// Scrape call so the browser/domain/cache bookkeeping lives in one
// place instead of being reimplemented per endpoint.
func runCrawl(orc *orchestrator.Orchestrator, job *models.CrawlJob, req models.CrawlRequest) {
	baseURL, err := url.Parse(req.URL)
	if err != nil {
		job.Status = "failed"
		return
	}

	visited := map[string]struct{}{req.URL: {}}
	var results []*models.ScrapeResponse

	opts := models.FetchOptions{
		UseCache:     true,
		GetTextData:  true,
		GetOverview:  true,
		GetLinks:     true,
		GetMainImage: true,
	}
	opts.Defaults()

	frontier := []bfsItem{{url: req.URL, depth: 0}}

	for len(frontier) > 0 && len(results) < req.MaxPages {
		levelURLs := make([]string, 0, len(frontier))
		for _, item := range frontier {
			if len(results)+len(levelURLs) >= req.MaxPages {
				break
			}
			levelURLs = append(levelURLs, item.url)
		}
		depthByURL := make(map[string]int, len(frontier))
		for _, item := range frontier {
			depthByURL[item.url] = item.depth
		}

		scraped := orc.Scrape(context.Background(), levelURLs, opts)

		var nextFrontier []bfsItem
		for _, r := range scraped {
			resp := scrapeResultToResponse(r)
			results = append(results, resp)
			job.Completed = len(results)
			job.Results = results

			depth := depthByURL[r.URL]
			if depth >= req.MaxDepth || !resp.Success {
				continue
			}
			for _, link := range resp.Links.Internal {
				linkURL := link.Href
				if isExcluded(linkURL, req.ExcludePatterns) {
					continue
				}
				if !isInScope(linkURL, baseURL, req.Scope) {
					continue
				}
				if _, seen := visited[linkURL]; seen {
					continue
				}
				visited[linkURL] = struct{}{}
				nextFrontier = append(nextFrontier, bfsItem{url: linkURL, depth: depth + 1})
			}
		}

		frontier = nextFrontier
	}

	job.Total = len(results)
	failedCount := 0
	for _, r := range results {
		if !r.Success {
			failedCount++
		}
	}

	switch {
	case failedCount == len(results) && len(results) > 0:
		job.Status = "failed"
	case failedCount > 0:
		job.Status = "partial"
	default:
		job.Status = "completed"
	}

	slog.Info("crawl job finished",
		"id", job.ID,
		"status", job.Status,
		"total", job.Total,
	)

	if job.WebhookURL != "" {
		webhook.DeliverAsync(job.WebhookURL, job.WebhookSecret, webhook.NewJobEvent("crawl.completed", job.ID, job))
	}
}

// isInScope checks whether a link URL is within the crawl scope relative to the base URL.
func isInScope(linkURL string, baseURL *url.URL, scope string) bool {
	parsed, err := url.Parse(linkURL)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	switch scope {
	case "page":
		// Only the exact starting page.
		return false
	case "domain":
		// Same exact domain.
		return strings.EqualFold(parsed.Host, baseURL.Host)
	case "subdomain":
		// Same base domain (e.g., docs.example.com and www.example.com both match example.com).
		return sameBaseDomain(parsed.Host, baseURL.Host)
	default:
		return strings.EqualFold(parsed.Host, baseURL.Host)
	}
}

// sameBaseDomain checks if two hosts share the same base domain.
// For example, "docs.example.com" and "www.example.com" both have base domain "example.com".
func sameBaseDomain(host1, host2 string) bool {
	d1 := baseDomain(host1)
	d2 := baseDomain(host2)
	return strings.EqualFold(d1, d2)
}

// baseDomain extracts the base domain from a host.
// "docs.example.com" -> "example.com", "example.com" -> "example.com"
func baseDomain(host string) string {
	// Strip port if present.
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

// isExcluded checks whether a URL path matches any of the exclude patterns.
func isExcluded(rawURL string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	for _, pattern := range patterns {
		// Match against the path.
		if matched, _ := path.Match(pattern, parsed.Path); matched {
			return true
		}
		// Also match against the full URL, and against the last path
		// segment for patterns like "*.pdf".
		if matched, _ := path.Match(pattern, rawURL); matched {
			return true
		}
		if matched, _ := path.Match(pattern, path.Base(parsed.Path)); matched {
			return true
		}
	}
	return false
}
