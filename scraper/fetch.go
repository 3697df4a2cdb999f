package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/purify/models"
)

// cloudflareRetrySelectors match a Cloudflare Turnstile challenge
// widget; matching any other entry in retrySelectors is a generic
// block rather than a named-firewall one.
var cloudflareRetrySelectors = []string{
	`#turnstile-wrapper iframe[src^="https://challenges.cloudflare.com"]`,
}

var retrySelectors = []string{
	cloudflareRetrySelectors[0],
	`div#infoDiv0 a[href*="//www.google.com/policies/terms/"]`,
	`iframe[src*="_Incapsula_Resource"]`,
}

var cloudflareRetrySet = map[string]bool{cloudflareRetrySelectors[0]: true}

var blockTitleKeywords = []string{"cloudflare", "attention required", "just a moment"}

// urlExtensionContentType is consulted when the response carries no
// usable Content-Type header.
var urlExtensionContentType = map[string]models.ContentType{
	"pdf": models.ContentPDF, "json": models.ContentJSON, "xml": models.ContentXML,
	"md": models.ContentMarkdown, "txt": models.ContentPlainText,
	"jpg": models.ContentImage, "jpeg": models.ContentImage, "png": models.ContentImage,
	"gif": models.ContentImage, "webp": models.ContentImage, "bmp": models.ContentImage,
	"tiff": models.ContentImage, "svg": models.ContentImage,
}

var contentTypeExtension = map[models.ContentType]string{
	models.ContentHTML:      "html",
	models.ContentMarkdown:  "md",
	models.ContentPDF:       "pdf",
	models.ContentJSON:      "json",
	models.ContentXML:       "xml",
	models.ContentPlainText: "txt",
}

// Fetcher wraps a Scraper's HTTP transport to produce classified
// models.FetchResponse values: content-type detection, block/firewall
// inference, CMS detection, and published/modified date harvesting.
type Fetcher struct {
	scraper *Scraper
}

// NewFetcher builds a Fetcher over an already-initialized Scraper.
func NewFetcher(s *Scraper) *Fetcher {
	return &Fetcher{scraper: s}
}

// Fetch performs a single fetch attempt against rawURL and classifies
// the result. It never returns a Go error — transport failures are
// recorded as a request_error failure reason on the response.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, proxy string) *models.FetchResponse {
	resp := &models.FetchResponse{
		RequestURL:  rawURL,
		ResponseURL: rawURL,
		RequestType: models.RequestNormal,
		ProxyUsed:   proxy != "",
		Firewall:    models.FirewallNone,
	}

	res, err := f.scraper.httpFetcher.fetchWithMeta(ctx, rawURL, proxy)
	if err != nil {
		resp.AppendFailure(models.FailureRequestError, err.Error())
		resp.RecomputeFailed()
		return resp
	}

	resp.ResponseURL = res.FinalURL
	resp.StatusCode = res.StatusCode
	resp.ContentBytes = res.Body
	resp.ResponseHeaders = flattenHeaders(res.Headers)
	resp.ContentTypeRaw = res.Headers.Get("Content-Type")

	ct, extractable := classifyContentType(resp.ContentTypeRaw, rawURL)
	resp.ContentType = ct
	if ext, ok := contentTypeExtension[ct]; ok {
		resp.Extension = ext
	}
	if !models.BinaryContentTypes[ct] {
		resp.Content = string(res.Body)
	}

	isHTML := ct == models.ContentHTML
	var doc *goquery.Document
	if isHTML {
		doc, err = goquery.NewDocumentFromReader(strings.NewReader(resp.Content))
		if err != nil {
			resp.AppendFailure(models.FailureParseError, err.Error())
			doc = nil
		} else {
			resp.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}

	if resp.StatusCode >= 400 {
		resp.AppendFailure(models.FailureBadStatus, fmt.Sprintf("status code %d", resp.StatusCode))
	}
	if !isHTML && !extractable {
		resp.AppendFailure(models.FailureNonHTMLContent, resp.ContentTypeRaw)
	}

	if doc != nil {
		detectBlock(resp, doc)
		detectCMS(resp, doc, resp.Content)
		detectLowTextContent(resp, doc)
		detectDates(resp, doc)
	}

	detectFirewall(resp, res.Headers)
	resp.RecomputeFailed()
	return resp
}

// FetchWithRetry retries a failed fetch once with no proxy when the
// first attempt (through proxy) hit a retryable failure — the source
// fetcher's ladder also tries an alternate proxy first, a step
// collapsed here since the ambient config carries a single default
// proxy rather than a rotation pool.
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) *models.FetchResponse {
	proxy := f.scraper.browserCfg.DefaultProxy
	resp := f.Fetch(ctx, rawURL, proxy)
	if !resp.IsRetryable() || proxy == "" {
		return resp
	}
	return f.Fetch(ctx, rawURL, "")
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}

// classifyContentType maps a raw Content-Type header (falling back to
// the URL's extension when the header is absent or generic) to a
// ContentType, reporting whether it is one the orchestrator knows how
// to extract from.
func classifyContentType(contentTypeRaw, rawURL string) (models.ContentType, bool) {
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentTypeRaw, ";", 2)[0]))
	var ct models.ContentType
	switch {
	case mime == "text/html" || mime == "application/xhtml+xml":
		ct = models.ContentHTML
	case mime == "application/pdf":
		ct = models.ContentPDF
	case mime == "application/json" || strings.HasSuffix(mime, "+json"):
		ct = models.ContentJSON
	case mime == "application/xml" || mime == "text/xml" || strings.HasSuffix(mime, "+xml"):
		ct = models.ContentXML
	case mime == "text/markdown":
		ct = models.ContentMarkdown
	case mime == "text/plain":
		ct = models.ContentPlainText
	case strings.HasPrefix(mime, "image/"):
		ct = models.ContentImage
	}
	if ct == "" {
		if fromExt, ok := detectContentTypeFromURL(rawURL); ok {
			ct = fromExt
		} else if mime == "" {
			ct = models.ContentHTML
		} else {
			ct = models.ContentOther
		}
	}
	return ct, models.ExtractableContentTypes[ct]
}

func detectContentTypeFromURL(rawURL string) (models.ContentType, bool) {
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return "", false
	}
	ct, ok := urlExtensionContentType[strings.ToLower(path[i+1:])]
	return ct, ok
}

// detectBlock mirrors the fetcher's RETRY_CSS_SELECTORS and
// block-title checks: a matching selector or a block-indicating
// <title> marks the fetch as failed with a cloudflare_block or
// generic blocked reason.
func detectBlock(resp *models.FetchResponse, doc *goquery.Document) {
	for _, sel := range retrySelectors {
		if doc.Find(sel).Length() == 0 {
			continue
		}
		if cloudflareRetrySet[sel] {
			resp.AppendFailure(models.FailureCloudflare, "selector: "+sel)
		} else {
			resp.AppendFailure(models.FailureBlocked, "selector: "+sel)
		}
	}
	title := strings.ToLower(resp.Title)
	if title == "" {
		return
	}
	for _, kw := range blockTitleKeywords {
		if strings.Contains(title, kw) {
			resp.AppendFailure(models.FailureCloudflare, "title indicates block: "+resp.Title)
			return
		}
	}
}

// detectCMS ports the generator-meta / marker-string CMS sniffing:
// a <meta name="generator"> match sets the primary CMS; a secondary
// marker string found in the raw body when a different CMS is already
// primary is recorded as an "other" hit rather than overriding it.
func detectCMS(resp *models.FetchResponse, doc *goquery.Document, rawContent string) {
	var primary *models.CMS
	var other []models.CMS
	addOther := func(c models.CMS) {
		if primary != nil && *primary == c {
			return
		}
		for _, o := range other {
			if o == c {
				return
			}
		}
		other = append(other, c)
	}
	set := func(c models.CMS) {
		if primary == nil {
			v := c
			primary = &v
		} else if *primary != c {
			addOther(c)
		}
	}

	generator := strings.ToLower(doc.Find(`meta[name="generator"]`).AttrOr("content", ""))
	if strings.Contains(generator, "wordpress") {
		set(models.CMSWordPress)
	} else if doc.Find(`meta[content*="shopify"]`).Length() > 0 {
		set(models.CMSShopify)
	}

	lowerContent := strings.ToLower(rawContent)
	if strings.Contains(lowerContent, "wp-content") || strings.Contains(lowerContent, "wp-includes") {
		set(models.CMSWordPress)
	}
	if strings.Contains(lowerContent, "cdn.shopify.com") || strings.Contains(lowerContent, "shopify") {
		set(models.CMSShopify)
	}

	if primary == nil {
		v := models.CMSUnknown
		primary = &v
	}
	resp.CMSPrimary = primary
	resp.CMSOther = other
}

// detectLowTextContent strips nav/header/footer/script/style/noscript
// from a clone of <body> and flags pages with fewer than 100
// characters of remaining text — a proxy for "served a shell, not
// content" independent of the block-selector checks above.
func detectLowTextContent(resp *models.FetchResponse, doc *goquery.Document) {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return
	}
	clone := body.Clone()
	clone.Find("nav, header, footer, script, noscript, style").Remove()
	text := strings.TrimSpace(clone.Text())
	if len(text) < 100 {
		resp.AppendFailure(models.FailureLowTextContent, fmt.Sprintf("text length %d", len(text)))
	}
}

// detectDates harvests published/modified timestamps from <meta> tags
// first, falling back to JSON-LD (including @graph arrays) when either
// is still missing.
func detectDates(resp *models.FetchResponse, doc *goquery.Document) {
	meta := map[string]string{}
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok {
			name, ok = s.Attr("property")
		}
		if !ok {
			name, ok = s.Attr("http-equiv")
		}
		if !ok || name == "" {
			return
		}
		meta[strings.ToLower(name)] = s.AttrOr("content", "")
	})

	published := firstNonEmpty(meta["article:published_time"], meta["og:article:published_time"], meta["datepublished"], meta["date"])
	modified := firstNonEmpty(meta["article:modified_time"], meta["og:article:modified_time"], meta["datemodified"], meta["last-modified"])

	if published == "" || modified == "" {
		doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
			if published != "" && modified != "" {
				return
			}
			var data any
			if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
				return
			}
			p, m := jsonLDDates(data)
			if published == "" {
				published = p
			}
			if modified == "" {
				modified = m
			}
		})
	}

	if published != "" {
		resp.PublishedAt = &published
	}
	if modified != "" {
		resp.ModifiedAt = &modified
	}
}

func jsonLDDates(node any) (published, modified string) {
	switch v := node.(type) {
	case map[string]any:
		if p, ok := v["datePublished"].(string); ok {
			published = p
		}
		if m, ok := v["dateModified"].(string); ok {
			modified = m
		}
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				p, m := jsonLDDates(item)
				if published == "" {
					published = p
				}
				if modified == "" {
					modified = m
				}
			}
		}
	case []any:
		for _, item := range v {
			p, m := jsonLDDates(item)
			if published == "" {
				published = p
			}
			if modified == "" {
				modified = m
			}
		}
	}
	return published, modified
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// detectFirewall infers the edge/WAF provider from response headers.
// A cloudflare_block failure (detected from page content, not headers)
// always wins over a header-based AWS WAF guess, matching the source
// fetcher's assignment order.
func detectFirewall(resp *models.FetchResponse, headers http.Header) {
	server := strings.ToLower(headers.Get("Server"))
	if headers.Get("Cf-Ray") != "" || strings.Contains(server, "cloudflare") {
		resp.Firewall = models.FirewallCloudflare
	} else if headers.Get("X-Amzn-Requestid") != "" && strings.Contains(server, "aws") {
		resp.Firewall = models.FirewallAWSWAF
	}
	for _, r := range resp.FailedReasons {
		if r.Kind == models.FailureCloudflare {
			resp.Firewall = models.FirewallCloudflare
		}
	}
	for k := range headers {
		if strings.HasPrefix(strings.ToLower(k), "x-datadome") {
			resp.Firewall = models.FirewallDataDome
		}
	}
}
