package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/webhook"
)

// batchStore holds all in-flight and completed batch jobs.
var batchStore sync.Map

func init() {
	// Background goroutine to expire batch jobs older than 1 hour.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-1 * time.Hour).Unix()
			batchStore.Range(func(key, value any) bool {
				job := value.(*models.BatchJob)
				if job.CreatedAt < cutoff {
					batchStore.Delete(key)
				}
				return true
			})
		}
	}()
}

// PostBatch returns a handler for POST /api/v1/batch/scrape. It validates
// the request, creates a batch job, and delegates the actual scraping to
// the orchestrator's bounded Scrape pipeline instead of running its own
// ad hoc goroutine/semaphore loop against the scraper and cleaner.
func PostBatch(orc *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.BatchResponse{
				Status: "failed",
			})
			return
		}

		if len(req.URLs) > 100 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "maximum 100 URLs per batch",
				},
			})
			return
		}

		jobID := "batch-" + randomID()
		job := &models.BatchJob{
			ID:        jobID,
			Status:    "processing",
			Total:     len(req.URLs),
			Results:   make([]*models.ScrapeResponse, len(req.URLs)),
			CreatedAt: time.Now().Unix(),
		}
		batchStore.Store(jobID, job)

		go runBatch(orc, job, req)

		c.JSON(http.StatusOK, models.BatchResponse{
			ID:     jobID,
			Status: "processing",
			Total:  len(req.URLs),
		})
	}
}

// GetBatch returns a handler for GET /api/v1/batch/:id.
func GetBatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		val, ok := batchStore.Load(jobID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: "batch job not found",
				},
			})
			return
		}

		job := val.(*models.BatchJob)
		c.JSON(http.StatusOK, models.BatchStatusResponse{
			ID:        job.ID,
			Status:    job.Status,
			Completed: job.Completed,
			Total:     job.Total,
			Results:   job.Results,
		})
	}
}

// runBatch hands the whole URL list to the orchestrator in one Scrape
// call — concurrency, domain gating, caching and failure logging are
// the orchestrator's concern now, not the handler's.
func runBatch(orc *orchestrator.Orchestrator, job *models.BatchJob, req models.BatchRequest) {
	opts := batchFetchOptions(req.Options)
	results := orc.Scrape(context.Background(), req.URLs, opts)

	failedCount := 0
	for i, r := range results {
		resp := scrapeResultToResponse(r)
		job.Results[i] = resp
		if !resp.Success {
			failedCount++
		}
	}
	job.Completed = len(results)

	switch {
	case failedCount == job.Total && job.Total > 0:
		job.Status = "failed"
	case failedCount > 0:
		job.Status = "partial"
	default:
		job.Status = "completed"
	}

	slog.Info("batch job finished",
		"id", job.ID,
		"status", job.Status,
		"completed", job.Total-failedCount,
		"failed", failedCount,
		"total", job.Total,
	)

	if req.WebhookURL != "" {
		webhook.DeliverAsync(req.WebhookURL, req.WebhookSecret, webhook.NewJobEvent("batch.completed", job.ID, job))
	}
}

// batchFetchOptions builds the orchestrator's FetchOptions for a batch,
// always requesting the fields a ScrapeResponse needs (text, overview,
// links, main image). The BatchOptions fields (output format, extract
// mode, wait, timeout, stealth) are not consulted.
func batchFetchOptions(o models.BatchOptions) models.FetchOptions {
	opts := models.FetchOptions{
		UseCache:     true,
		GetTextData:  true,
		GetOverview:  true,
		GetLinks:     true,
		GetMainImage: true,
	}
	opts.Defaults()
	return opts
}

// scrapeResultToResponse adapts the orchestrator's ScrapeResult to the
// legacy ScrapeResponse shape the batch/crawl/map surface was already
// returning to callers.
func scrapeResultToResponse(r models.ScrapeResult) *models.ScrapeResponse {
	resp := &models.ScrapeResponse{
		Success: r.Status == "success",
		Content: r.TextData,
		Metadata: models.Metadata{
			SourceURL: r.URL,
		},
		Error: r.Error,
	}
	if r.Overview != nil {
		resp.Metadata.Title = r.Overview.PageTitle
		resp.Metadata.SiteName = r.Overview.Site
	}
	if r.MainImage != nil {
		resp.Images = []models.Image{{Src: r.MainImage.Src, Alt: r.MainImage.Alt}}
	}
	if r.Links != nil {
		resp.Links = *r.Links
	}
	return resp
}

// randomID generates a short random hex string for job IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
