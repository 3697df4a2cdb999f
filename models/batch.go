package models

// BatchRequest is the payload for POST /api/v1/batch/scrape.
type BatchRequest struct {
	// URLs is the list of target pages to scrape. Required.
	URLs []string `json:"urls" binding:"required,min=1,max=100"`

	// Options is validated on binding; batchFetchOptions does not read
	// it, so every URL is scraped with the same fixed FetchOptions.
	Options BatchOptions `json:"options"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// BatchOptions are the shared scrape settings a batch request may carry.
// They are validated but not applied to the batch's fetches.
type BatchOptions struct {
	OutputFormat       string `json:"output_format,omitempty" binding:"omitempty,oneof=markdown html text"`
	ExtractMode        string `json:"extract_mode,omitempty" binding:"omitempty,oneof=readability raw"`
	WaitForNetworkIdle *bool  `json:"wait_for_network_idle,omitempty"`
	Timeout            int    `json:"timeout,omitempty" binding:"omitempty,min=1,max=120"`
	Stealth            bool   `json:"stealth,omitempty"`
}

// BatchResponse is the immediate response for POST /api/v1/batch/scrape.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Results   []*ScrapeResponse `json:"results,omitempty"`
}

// BatchJob tracks an in-progress batch scrape operation.
type BatchJob struct {
	ID        string
	Status    string // "processing", "completed", "failed", "partial"
	Total     int
	Completed int
	Results   []*ScrapeResponse
	CreatedAt int64 // unix timestamp
}
