package models

// FetchOptions controls how much of the parse result a scrape computes
// and which cache/proxy/transport policy applies. Mirrors the
// options shape of the source engine's FetchOptions.
type FetchOptions struct {
	UseCache             bool       `json:"use_cache"`
	CacheTTLDays         int        `json:"cache_ttl_days,omitempty" binding:"omitempty,min=1,max=365"`
	ProxyType            ProxyType  `json:"proxy_type,omitempty"`
	UseImpersonation     bool       `json:"use_impersonation"`
	UseBrowserFallback   bool       `json:"use_browser_fallback"`
	ForceBrowser         bool       `json:"force_browser"`
	OutputMode           OutputMode `json:"output_mode,omitempty"`

	GetTextData               bool `json:"get_text_data"`
	GetOrganizedData          bool `json:"get_organized_data"`
	GetStructuredData         bool `json:"get_structured_data"`
	GetLinks                  bool `json:"get_links"`
	GetMainImage               bool `json:"get_main_image"`
	GetOverview                bool `json:"get_overview"`
	GetContentFilterRemovalDetails bool `json:"get_content_filter_removal_details"`

	StructuredSchema map[string]any `json:"structured_schema,omitempty"`

	IncludeHighlightingMarkers bool `json:"include_highlighting_markers"`
	IncludeMedia               bool `json:"include_media"`
	IncludeAnchors              bool `json:"include_anchors"`
	AnchorSize                  int  `json:"anchor_size,omitempty" binding:"omitempty,min=0"`
}

// DefaultFetchOptions mirrors the source's FetchOptions field defaults.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		UseCache:                   true,
		CacheTTLDays:               30,
		ProxyType:                  ProxyDatacenter,
		UseImpersonation:           true,
		OutputMode:                 OutputRich,
		GetTextData:                true,
		GetMainImage:               true,
		IncludeHighlightingMarkers: true,
		IncludeMedia:               true,
		IncludeAnchors:             true,
		AnchorSize:                 100,
	}
}

// Defaults fills CacheTTLDays, ProxyType, OutputMode and AnchorSize
// from DefaultFetchOptions when they are zero-valued. Boolean fields
// are left exactly as decoded: a false value is never replaced by a
// true default.
func (o *FetchOptions) Defaults() {
	d := DefaultFetchOptions()
	if o.CacheTTLDays == 0 {
		o.CacheTTLDays = d.CacheTTLDays
	}
	if o.ProxyType == "" {
		o.ProxyType = d.ProxyType
	}
	if o.OutputMode == "" {
		o.OutputMode = d.OutputMode
	}
	if o.AnchorSize == 0 {
		o.AnchorSize = d.AnchorSize
	}
}

// ScrapeRequestV2 is the payload for POST /api/v1/scrape per SPEC_FULL.
type ScrapeRequestV2 struct {
	URLs    []string     `json:"urls" binding:"required,min=1,max=100,dive,url"`
	Options FetchOptions `json:"options"`
}

// SearchRequest is the payload for POST /api/v1/search.
type SearchRequest struct {
	Keywords    []string `json:"keywords" binding:"required,min=1,max=10"`
	Country     string   `json:"country,omitempty"`
	Count       int      `json:"count,omitempty" binding:"omitempty,min=1,max=20"`
	Offset      int      `json:"offset,omitempty" binding:"omitempty,min=0"`
	Freshness   string   `json:"freshness,omitempty"`
	SafeSearch  string   `json:"safe_search,omitempty"`
}

// SearchAndScrapeRequest is the payload for POST /api/v1/search-and-scrape.
type SearchAndScrapeRequest struct {
	Keywords               []string     `json:"keywords" binding:"required,min=1,max=10"`
	Country                string       `json:"country,omitempty"`
	TotalResultsPerKeyword int          `json:"total_results_per_keyword,omitempty" binding:"omitempty,min=1,max=20"`
	Options                FetchOptions `json:"options"`
}

// ResearchRequest is the payload for POST /api/v1/research.
type ResearchRequest struct {
	Query      string `json:"query" binding:"required"`
	Country    string `json:"country,omitempty"`
	Effort     string `json:"effort,omitempty" binding:"omitempty,oneof=low medium high extreme"`
	Freshness  string `json:"freshness,omitempty"`
	SafeSearch string `json:"safe_search,omitempty"`
}

// ResearchOptions controls an orchestrator Research call: the search
// parameters plus the FetchOptions applied to every discovered URL.
type ResearchOptions struct {
	Country    string
	Effort     string
	Freshness  string
	SafeSearch string
	Options    FetchOptions
}

// EffortConcurrencyCap maps a research effort level to its URL cap.
var EffortConcurrencyCap = map[string]int{
	"low":     10,
	"medium":  25,
	"high":    50,
	"extreme": 100,
}
