package scraper

import "net/http"

// ScrapeResult holds the output of a single scrape operation.
type ScrapeResult struct {
	// RawHTML is the raw page HTML.
	RawHTML string

	// Title is the page title.
	Title string

	// StatusCode is the HTTP status code of the navigation response.
	StatusCode int

	// FinalURL is the URL after any redirects.
	FinalURL string

	// EngineUsed records which engine produced the result (e.g. "http", "rod", "rod-stealth").
	EngineUsed string

	// FetchMethod records how the page was fetched: "browser" on the
	// direct rod path, or the dispatcher's engine name ("http", "rod",
	// "rod-stealth") when the dispatcher produced the result.
	// Used by the extract handler for metadata.
	FetchMethod string

	// Headers holds the response headers, when the fetch path captured
	// them (plain HTTP fetches only — rod's page.HTML() path has no
	// response-header hook, so this is nil for browser-fetched results).
	Headers http.Header
}
