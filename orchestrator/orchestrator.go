// Package orchestrator ties the fetcher, cache, domain-config store,
// parser façade, and failure log into the request-facing Scrape/
// StreamScrape/Research operations, replacing the ad hoc per-endpoint
// job stores with one shared per-URL pipeline.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/purify/cache"
	"github.com/use-agent/purify/cleaner"
	"github.com/use-agent/purify/domainconfig"
	"github.com/use-agent/purify/failurelog"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/scraper"
	"github.com/use-agent/purify/search"
	"github.com/use-agent/purify/urlx"
)

// OCRHook extracts text from binary content (PDF/image bytes). Left
// nil by default — OCR is out of scope — in which case PDF/image URLs
// fail with an unsupported-content-type error instead of silently
// returning empty text.
type OCRHook func(ctx context.Context, content []byte, contentType models.ContentType) (string, error)

// Orchestrator wires together one fetch/parse/cache pipeline, shared
// across the Scrape/StreamScrape/Research entry points.
type Orchestrator struct {
	fetcher     *scraper.Fetcher
	cleaner     *cleaner.Cleaner
	cacheStore  *cache.Store
	domainCfg   *domainconfig.Store
	failureLog  *failurelog.Log
	search      *search.Client
	ocrHook     OCRHook

	scrapeConcurrency   int
	researchConcurrency int
	defaultCacheTTL     time.Duration
}

// New constructs an Orchestrator. cacheStore, domainCfg, failureLog,
// and search may be nil (the corresponding step is skipped); ocrHook
// may be nil (PDF/image URLs fail as unsupported content).
func New(fetcher *scraper.Fetcher, cln *cleaner.Cleaner, cacheStore *cache.Store, domainCfg *domainconfig.Store, failureLog *failurelog.Log, searchClient *search.Client, ocrHook OCRHook, scrapeConcurrency, researchConcurrency int, defaultCacheTTL time.Duration) *Orchestrator {
	if scrapeConcurrency <= 0 {
		scrapeConcurrency = 10
	}
	if researchConcurrency <= 0 {
		researchConcurrency = 10
	}
	if defaultCacheTTL <= 0 {
		defaultCacheTTL = 30 * 24 * time.Hour
	}
	return &Orchestrator{
		fetcher:             fetcher,
		cleaner:             cln,
		cacheStore:          cacheStore,
		domainCfg:           domainCfg,
		failureLog:          failureLog,
		search:              searchClient,
		ocrHook:             ocrHook,
		scrapeConcurrency:   scrapeConcurrency,
		researchConcurrency: researchConcurrency,
		defaultCacheTTL:     defaultCacheTTL,
	}
}

// Scrape fetches every URL bounded by ScrapeConcurrency and returns
// results in INPUT order: each worker writes into its own
// pre-allocated slot rather than appending as results complete.
func (o *Orchestrator) Scrape(ctx context.Context, urls []string, opts models.FetchOptions) []models.ScrapeResult {
	results := make([]models.ScrapeResult, len(urls))
	sem := make(chan struct{}, o.scrapeConcurrency)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.scrapeOne(ctx, u, opts, models.OutputRich)
		}(i, u)
	}
	wg.Wait()
	return results
}

// StreamScrape is like Scrape but sends each result on an unbuffered
// channel as soon as it completes (COMPLETION order, not input order),
// closing the channel once every worker has finished.
func (o *Orchestrator) StreamScrape(ctx context.Context, urls []string, opts models.FetchOptions) <-chan models.ScrapeResult {
	return o.streamScrape(ctx, urls, opts, models.OutputRich, o.scrapeConcurrency)
}

func (o *Orchestrator) streamScrape(ctx context.Context, urls []string, opts models.FetchOptions, mode models.OutputMode, concurrency int) <-chan models.ScrapeResult {
	out := make(chan models.ScrapeResult)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			result := o.scrapeOne(ctx, u, opts, mode)
			select {
			case out <- result:
			case <-ctx.Done():
			}
		}(u)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Research runs a search, extracts a unique URL set capped by the
// requested effort level, and streams each scraped page as a
// ResearchPageEvent, followed always by one final ResearchDoneEvent —
// even when zero URLs were scraped successfully.
func (o *Orchestrator) Research(ctx context.Context, query string, opts models.ResearchOptions) (<-chan models.ResearchPageEvent, <-chan models.ResearchDoneEvent) {
	pages := make(chan models.ResearchPageEvent)
	done := make(chan models.ResearchDoneEvent, 1)

	go func() {
		defer close(pages)
		defer close(done)
		start := time.Now()

		if o.search == nil {
			done <- models.ResearchDoneEvent{ExecutionTimeMs: time.Since(start).Milliseconds()}
			return
		}

		resp, err := o.search.SearchWithRetry(ctx, query, false)
		if err != nil || resp == nil {
			done <- models.ResearchDoneEvent{ExecutionTimeMs: time.Since(start).Milliseconds()}
			return
		}

		urlCap := models.EffortConcurrencyCap[opts.Effort]
		if urlCap <= 0 {
			urlCap = models.EffortConcurrencyCap["medium"]
		}
		urls := search.ExtractURLsFromResults([]*models.SearchResponse{resp})
		if len(urls) > urlCap {
			urls = urls[:urlCap]
		}

		researchOpts := opts.Options
		researchOpts.OutputMode = models.OutputResearch

		stream := o.streamScrape(ctx, urls, researchOpts, models.OutputResearch, o.researchConcurrency)

		var scraped int
		var textParts []string
		for result := range stream {
			event := models.ResearchPageEvent{URL: result.URL}
			if result.Status == "success" {
				scraped++
				event.ScrapedContent = result.AIResearchContent
				if event.ScrapedContent == "" {
					event.ScrapedContent = result.TextData
				}
				if event.ScrapedContent != "" {
					textParts = append(textParts, event.ScrapedContent)
				}
			} else if result.Error != nil {
				event.ScrapeFailureReason = result.Error.Message
			}
			select {
			case pages <- event:
			case <-ctx.Done():
			}
		}

		done <- models.ResearchDoneEvent{
			TotalURLs:       len(urls),
			Scraped:         scraped,
			TextContent:     strings.Join(textParts, "\n\n"),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
	}()

	return pages, done
}

// scrapeOne runs the full per-URL pipeline: validate → domain-config
// gate → cache probe → fetch-with-retry → failure log → content-type
// branch → cache store (awaited inline, before the result is
// returned, per the ordering guarantee that a result is never visible
// to a caller before its cache write lands).
func (o *Orchestrator) scrapeOne(ctx context.Context, rawURL string, opts models.FetchOptions, mode models.OutputMode) models.ScrapeResult {
	now := time.Now()
	result := models.ScrapeResult{URL: rawURL, ScrapedAt: now}

	corrected, err := urlx.ValidateAndCorrect(rawURL)
	if err != nil {
		return errorResult(result, models.ErrCodeInvalidInput, err.Error())
	}
	result.URL = corrected

	if o.domainCfg != nil && !o.domainCfg.IsScrapeAllowed(corrected) {
		return errorResult(result, models.ErrCodeDomainDisallowed, "domain does not permit scraping")
	}

	info, err := urlx.Canonicalize(corrected)
	if err != nil {
		return errorResult(result, models.ErrCodeInvalidInput, err.Error())
	}
	pageName := info.UniquePageName

	if opts.UseCache && o.cacheStore != nil {
		if content, ok := o.cacheStore.Get(pageName); ok {
			result.Status = "success"
			result.FromCache = true
			applyParseResult(&result, content, opts)
			return result
		}
	}

	fetched := o.fetcher.FetchWithRetry(ctx, corrected)
	result.StatusCode = fetched.StatusCode
	result.ContentType = fetched.ContentType
	if fetched.CMSPrimary != nil {
		result.CMS = fetched.CMSPrimary
	}
	if fetched.Firewall != "" {
		fw := fetched.Firewall
		result.Firewall = &fw
	}

	if fetched.Failed {
		o.logFailure(ctx, corrected, info.Domain, fetched)
		reason := models.FailureRequestError
		if fetched.FailedPrimaryReason != nil {
			reason = *fetched.FailedPrimaryReason
		}
		return errorResult(result, models.FailureReasonToErrCode(reason), failureMessage(fetched))
	}

	content, contentErr := o.extractContent(ctx, fetched, corrected, mode)
	if contentErr != nil {
		o.logFailure(ctx, corrected, info.Domain, fetched)
		return errorResult(result, models.ErrCodeUnsupportedContent, contentErr.Error())
	}

	if opts.UseCache && o.cacheStore != nil {
		ttl := o.defaultCacheTTL
		if opts.CacheTTLDays > 0 {
			ttl = time.Duration(opts.CacheTTLDays) * 24 * time.Hour
		}
		if err := o.cacheStore.Set(pageName, content, fetched.ContentType, len(content.TextData), ttl); err != nil {
			slog.Warn("orchestrator: cache write failed", "url", corrected, "error", err)
		}
	}

	result.Status = "success"
	applyParseResult(&result, content, opts)
	return result
}

// extractContent dispatches on content type the way spec.md's
// orchestrator does: HTML goes through the parser façade; structured
// text formats get light normalization; PDF/image require an OCR hook.
func (o *Orchestrator) extractContent(ctx context.Context, fetched *models.FetchResponse, sourceURL string, mode models.OutputMode) (models.ParseResult, error) {
	switch fetched.ContentType {
	case models.ContentHTML:
		if o.cleaner == nil {
			return models.ParseResult{}, fmt.Errorf("no parser configured")
		}
		return o.cleaner.Parse(fetched.Content, sourceURL, mode)

	case models.ContentJSON:
		var v any
		text := fetched.Content
		if err := json.Unmarshal([]byte(fetched.Content), &v); err == nil {
			if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
				text = string(pretty)
			}
		}
		return models.ParseResult{TextData: text, AIResearchContent: text}, nil

	case models.ContentXML:
		text := collapseWhitespace(stripXMLTags(fetched.Content))
		return models.ParseResult{TextData: text, AIResearchContent: text}, nil

	case models.ContentMarkdown, models.ContentPlainText:
		text := strings.TrimSpace(fetched.Content)
		return models.ParseResult{TextData: text, AIResearchContent: text}, nil

	case models.ContentPDF, models.ContentImage:
		if o.ocrHook == nil {
			return models.ParseResult{}, fmt.Errorf("unsupported content type: %s (no OCR hook configured)", fetched.ContentType)
		}
		text, err := o.ocrHook(ctx, fetched.ContentBytes, fetched.ContentType)
		if err != nil {
			return models.ParseResult{}, err
		}
		return models.ParseResult{TextData: text, AIResearchContent: text}, nil

	default:
		return models.ParseResult{}, fmt.Errorf("unsupported content type: %s", fetched.ContentType)
	}
}

func (o *Orchestrator) logFailure(ctx context.Context, targetURL, domain string, fetched *models.FetchResponse) {
	if o.failureLog == nil {
		return
	}
	reason := models.FailureRequestError
	message := ""
	if len(fetched.FailedReasons) > 0 {
		reason = fetched.FailedReasons[0].Kind
		message = fetched.FailedReasons[0].Message
	}
	o.failureLog.Append(ctx, models.FailureLogEntry{
		TargetURL:       targetURL,
		DomainName:      domain,
		FailureReason:   reason,
		FailureCategory: models.FailureCategory[reason],
		StatusCode:      fetched.StatusCode,
		ErrorLog:        message,
		ProxyUsed:       fetched.ProxyUsed,
		AttemptCount:    1,
		CreatedAt:       time.Now(),
	})
}

func failureMessage(fetched *models.FetchResponse) string {
	if len(fetched.FailedReasons) == 0 {
		return "fetch failed"
	}
	return fetched.FailedReasons[0].Message
}

func errorResult(result models.ScrapeResult, code, message string) models.ScrapeResult {
	result.Status = "error"
	result.Error = &models.ErrorDetail{Code: code, Message: message}
	return result
}

func applyParseResult(result *models.ScrapeResult, content models.ParseResult, opts models.FetchOptions) {
	if opts.GetOverview {
		result.Overview = &content.Overview
	}
	if opts.GetOrganizedData {
		result.OrganizedData = content.OrganizedData
	}
	if opts.GetTextData {
		result.TextData = content.TextData
	}
	result.AIResearchContent = content.AIResearchContent
	if opts.GetMainImage {
		result.MainImage = content.MainImage
	}
	result.Hashes = content.Hashes
	if opts.GetLinks {
		result.Links = content.Links
	}
	if opts.GetContentFilterRemovalDetails {
		result.ContentFilterRemovalDetails = content.ContentFilterRemovalDetails
	}
}

var xmlTagRe = regexp.MustCompile(`<[^>]+>`)
var whitespaceRe = regexp.MustCompile(`\s+`)

func stripXMLTags(s string) string {
	return xmlTagRe.ReplaceAllString(s, " ")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
