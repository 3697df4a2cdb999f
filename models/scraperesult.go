package models

import "time"

// ScrapeResult is the public per-URL response shape returned by the
// orchestrator, combining fetch/parse outcome with a subset of
// parse-result fields selected by the request's FetchOptions.
type ScrapeResult struct {
	Status     string      `json:"status"` // "success" | "error"
	URL        string      `json:"url"`
	ScrapedAt  time.Time   `json:"scraped_at"`
	FromCache  bool        `json:"from_cache"`
	ContentType ContentType `json:"content_type,omitempty"`
	StatusCode int         `json:"status_code,omitempty"`
	CMS        *CMS        `json:"cms,omitempty"`
	Firewall   *Firewall   `json:"firewall,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`

	Overview                   *Overview      `json:"overview,omitempty"`
	OrganizedData              any            `json:"organized_data,omitempty"`
	TextData                   string         `json:"text_data,omitempty"`
	AIResearchContent          string         `json:"ai_research_content,omitempty"`
	MainImage                  *ImageRef      `json:"main_image,omitempty"`
	Hashes                     *PageHashes    `json:"hashes,omitempty"`
	Links                      *LinksResult   `json:"links,omitempty"`
	ContentFilterRemovalDetails []FilterRemoval `json:"content_filter_removal_details,omitempty"`
	StructuredData             map[string]any `json:"structured_data,omitempty"`
}

// Overview summarizes a parsed page for quick triage by a caller.
type Overview struct {
	Site                string `json:"site"`
	PageTitle           string `json:"page_title"`
	CharCount           int    `json:"char_count"`
	TableCount          int    `json:"table_count"`
	ListCount           int    `json:"list_count"`
	CodeBlockCount      int    `json:"code_block_count"`
	HasStructuredContent bool  `json:"has_structured_content"`
}

// ImageRef is a resolved image reference (e.g. a page's main image).
type ImageRef struct {
	Src     string `json:"src"`
	Alt     string `json:"alt,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// PageHashes carries content fingerprints for dedup and change detection.
// SimHash fingerprints the projected text content; DOMSimHash fingerprints
// the tag-shingle structure of the raw document, which lets a caller tell
// a reflow/ad-swap (DOM changed, text similar) apart from a real content
// change (both changed) across repeat fetches of the same page.
type PageHashes struct {
	SimHash    uint64 `json:"simhash,omitempty"`
	DOMSimHash uint64 `json:"dom_simhash,omitempty"`
}

// LinksResult is the extracted link catalog for a page.
type LinksResult struct {
	Internal []Link `json:"internal,omitempty"`
	External []Link `json:"external,omitempty"`
}

// Link is one anchor harvested from the page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text,omitempty"`
}

// Image is an <img> harvested by the link/image catalog pass (distinct
// from doctree.Image, which carries the full extraction-tree shape).
type Image struct {
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// OGMetadata is the Open Graph metadata harvested from <meta> tags.
type OGMetadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Type        string `json:"type,omitempty"`
}

// FilterRemoval records why a subtree was filtered, for
// get_content_filter_removal_details.
type FilterRemoval struct {
	Selector  string `json:"selector"`
	MatchType string `json:"match_type"`
	Trigger   string `json:"trigger_item"`
}

// ParseResult is the parser façade's full output before projection
// into a ScrapeResult subset.
type ParseResult struct {
	Overview                    Overview
	OrganizedData               any
	TextData                    string
	AIResearchContent           string
	MainImage                   *ImageRef
	Hashes                      *PageHashes
	Links                       *LinksResult
	ContentFilterRemovalDetails []FilterRemoval
}
