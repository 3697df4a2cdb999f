package models

// SearchResultItem is one search hit.
type SearchResultItem struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SearchResponse is the response for POST /api/v1/search.
type SearchResponse struct {
	Results []SearchResultItem `json:"results"`
	Total   int                `json:"total"`
}

// ResearchPageEvent is one SSE frame emitted per completed page during
// a research run.
type ResearchPageEvent struct {
	URL                string `json:"url"`
	Title              string `json:"title,omitempty"`
	ScrapedContent     string `json:"scraped_content,omitempty"`
	ScrapeFailureReason string `json:"scrape_failure_reason,omitempty"`
}

// ResearchDoneEvent is the final SSE frame of a research run.
type ResearchDoneEvent struct {
	TotalURLs       int    `json:"total_urls"`
	Scraped         int    `json:"scraped"`
	TextContent     string `json:"text_content"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}
