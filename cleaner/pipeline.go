package cleaner

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	nethtml "golang.org/x/net/html"

	"github.com/use-agent/purify/doctree"
	"github.com/use-agent/purify/domainconfig"
	"github.com/use-agent/purify/domainfilter"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/simhash"
)

// Cleaner orchestrates two independent extraction strategies:
//
//   - the legacy two-stage pipeline (readability/pruning → markdown),
//     still reachable via Clean/ExtractMode=auto;
//   - the structured façade (Parse), which runs the transformer,
//     content filter, and doctree extractor/projector to produce a
//     models.ParseResult.
//
// The converter is created once and reused across all requests (goroutine-safe).
type Cleaner struct {
	mdConverter  *converter.Converter
	domainFilter *domainfilter.Filter
	domainCfg    *domainconfig.Store
}

// NewCleaner initialises the Cleaner with a pre-configured Markdown
// converter. filter and cfg may be nil (Parse then applies no
// domain-specific blocking/overrides).
func NewCleaner(filter *domainfilter.Filter, cfg *domainconfig.Store) *Cleaner {
	return &Cleaner{
		mdConverter:  newMarkdownConverter(),
		domainFilter: filter,
		domainCfg:    cfg,
	}
}

// CleanOptions carries optional content-filtering parameters for the pipeline.
type CleanOptions struct {
	IncludeTags []string
	ExcludeTags []string
	CSSSelector string

	// Citations rewrites inline Markdown links into reference-style
	// citations once format == "markdown". Ignored for other formats.
	Citations bool
}

// Clean runs the full pipeline and returns a partial ScrapeResponse
// (Content + Metadata + Tokens filled; Timing is left to the API layer).
//
// Flow:
//  1. Estimate original tokens from raw HTML.
//  1b. Apply include/exclude tag filters (if provided).
//  2. Stage 1: go-readability extracts main content.
//     Fallback: if extraction fails or content is too short, use raw HTML.
//  3. Stage 2: convert to the requested output format.
//  4. Estimate cleaned tokens and compute savings.
//  5. Assemble and return the partial response.
func (c *Cleaner) Clean(rawHTML string, sourceURL string, format string, extractMode string, opts ...CleanOptions) (*models.ScrapeResponse, error) {
	// ── 1. Original token estimate ──────────────────────────────────
	originalTokens := EstimateTokens(rawHTML)

	// ── 1b. Content filtering (include/exclude tags, CSS selector) ──
	if len(opts) > 0 {
		o := opts[0]
		if o.CSSSelector != "" {
			if selected, err := ApplyCSSSelector(rawHTML, o.CSSSelector); err == nil {
				rawHTML = selected
			}
		}
		rawHTML = FilterContent(rawHTML, o.IncludeTags, o.ExcludeTags)
	}

	// ── 2. Stage 1: Content extraction ──────────────────────────────
	var article readability.Article
	switch extractMode {
	case "raw":
		// Skip readability; use the full rendered HTML as-is.
		article = fallbackArticle(rawHTML)

	case "pruning":
		// Scoring-based content extraction.
		prunedHTML, err := PruneContent(rawHTML, sourceURL)
		if err != nil {
			slog.Warn("pruning: extraction failed, falling back to raw HTML",
				"url", sourceURL, "error", err,
			)
			prunedHTML = rawHTML
		}
		// Build an Article from pruned HTML. Metadata comes from
		// readability on the original HTML so we get title/author/etc.
		metaArticle, _ := ExtractContent(rawHTML, sourceURL)
		article = readability.Article{
			Title:       metaArticle.Title,
			Byline:      metaArticle.Byline,
			Excerpt:     metaArticle.Excerpt,
			SiteName:    metaArticle.SiteName,
			Language:    metaArticle.Language,
			Content:     prunedHTML,
			TextContent: stripTags(prunedHTML),
		}

	case "auto":
		// Run both readability and pruning concurrently, pick the
		// result with more extracted text content.
		article = autoExtract(rawHTML, sourceURL)

	default:
		// "readability" (default).
		article, _ = ExtractContent(rawHTML, sourceURL)
	}

	// ── 3. Stage 2: Format conversion ───────────────────────────────
	var content string
	var err error

	switch format {
	case "markdown", "":
		content, err = ToMarkdown(c.mdConverter, article.Content, sourceURL)
		if err != nil {
			return nil, models.NewScrapeError(
				models.ErrCodeReadability,
				"markdown conversion failed",
				err,
			)
		}
		if len(opts) > 0 && opts[0].Citations {
			content = ConvertToCitations(content)
		}
	case "html":
		// Return the readability-cleaned HTML as-is.
		content = article.Content
	case "text":
		// Return the plain text extracted by readability.
		content = article.TextContent
	default:
		// Defensive: treat unknown formats as markdown.
		content, err = ToMarkdown(c.mdConverter, article.Content, sourceURL)
		if err != nil {
			return nil, models.NewScrapeError(
				models.ErrCodeReadability,
				"markdown conversion failed",
				err,
			)
		}
	}

	// ── 4. Cleaned token estimate + savings ─────────────────────────
	cleanedTokens := EstimateTokens(content)
	savingsPercent := SavingsPercent(originalTokens, cleanedTokens)

	// ── 5. Extract links, images, OG metadata from raw HTML ────────
	links := ExtractLinks(rawHTML, sourceURL)
	images := ExtractImages(rawHTML, sourceURL)
	ogMeta := ExtractOGMetadata(rawHTML)

	// ── 6. Assemble partial response ────────────────────────────────
	return &models.ScrapeResponse{
		Success: true,
		Content: content,
		Metadata: models.Metadata{
			Title:       article.Title,
			Description: article.Excerpt,
			SiteName:    article.SiteName,
			Author:      article.Byline,
			Language:    article.Language,
			SourceURL:   sourceURL,
		},
		Links:      links,
		Images:     images,
		OGMetadata: ogMeta,
		Tokens: models.TokenInfo{
			OriginalEstimate: originalTokens,
			CleanedEstimate:  cleanedTokens,
			SavingsPercent:   savingsPercent,
		},
		// Timing, StatusCode, FinalURL are left zero-valued.
		// The API handler layer fills them in.
	}, nil
}

// autoExtract runs both Readability and Pruning concurrently, then picks the
// result that extracted more meaningful text content.
func autoExtract(rawHTML, sourceURL string) readability.Article {
	var (
		readabilityArticle readability.Article
		prunedHTML         string
		pruneErr           error
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		readabilityArticle, _ = ExtractContent(rawHTML, sourceURL)
	}()

	go func() {
		defer wg.Done()
		prunedHTML, pruneErr = PruneContent(rawHTML, sourceURL)
	}()

	wg.Wait()

	// If pruning failed, use readability result.
	if pruneErr != nil {
		slog.Warn("auto: pruning failed, using readability result",
			"url", sourceURL, "error", pruneErr,
		)
		return readabilityArticle
	}

	prunedText := stripTags(prunedHTML)
	readabilityText := strings.TrimSpace(readabilityArticle.TextContent)

	// Pick the result with more extracted text. If readability produced
	// very little (< MinContentLength), prefer pruning, and vice versa.
	// When both are substantial, prefer whichever has more content.
	useReadability := len(readabilityText) >= len(prunedText)

	// Quality check: if the longer result is >10x the shorter, it may
	// contain too much noise — prefer the shorter one if it still has
	// a reasonable amount of content.
	if useReadability && len(prunedText) > MinContentLength {
		if len(readabilityText) > 10*len(prunedText) {
			useReadability = false
		}
	} else if !useReadability && len(readabilityText) > MinContentLength {
		if len(prunedText) > 10*len(readabilityText) {
			useReadability = true
		}
	}

	if useReadability {
		return readabilityArticle
	}

	// Build Article from pruned result, with metadata from readability.
	return readability.Article{
		Title:       readabilityArticle.Title,
		Byline:      readabilityArticle.Byline,
		Excerpt:     readabilityArticle.Excerpt,
		SiteName:    readabilityArticle.SiteName,
		Language:    readabilityArticle.Language,
		Content:     prunedHTML,
		TextContent: prunedText,
	}
}

// stripTags is a simple helper that extracts visible text from an HTML
// fragment by parsing it with goquery. Returns trimmed plain text.
func stripTags(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}

var droppedTags = []string{"script", "head", "link", "style", "svg", "noscript"}

// Parse runs the structured extraction façade: transform → drop
// non-content tags → mark content-filter matches (base rules merged
// with any domain-specific path overrides) → apply main_content
// overrides → build the doctree → project via the standard rule set
// → assemble a ParseResult. mode=research skips image/link harvesting
// and fills only the research-content projection, the page overview and
// the text fingerprint.
func (c *Cleaner) Parse(rawHTML, sourceURL string, mode models.OutputMode) (models.ParseResult, error) {
	root, err := nethtml.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return models.ParseResult{}, models.NewScrapeError(models.ErrCodeInvalidInput, "html parse failed", err)
	}

	Transform(root)

	flattener := &Flattener{BaseURL: sourceURL, Filter: c.domainFilter}
	flattener.Flatten(root)

	doc := goquery.NewDocumentFromNode(root)
	for _, tag := range droppedTags {
		doc.Find(tag).Remove()
	}

	var baseRules []models.BaseConfigRule
	var overrides models.PathOverridesByType
	if c.domainCfg != nil {
		baseRules = c.domainCfg.BaseRules()
		overrides = c.domainCfg.OverridesForPath(sourceURL)
	}
	rules := mergeContentFilterRules(baseRules, overrides.ContentFilter)
	Mark(doc, rules)

	if selectors := mainContentSelectors(overrides.MainContent); len(selectors) > 0 {
		ApplyMainContent(doc, selectors)
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}

	extractor := doctree.Extractor{BaseURL: sourceURL, Filter: c.domainFilter}
	tree := extractor.Extract(body)

	stdRules := doctree.StandardRules()

	result := models.ParseResult{}

	if mode == models.OutputResearch {
		content, _ := doctree.Project(tree, stdRules["ai_research_content"]).(string)
		result.AIResearchContent = content
		result.Overview = buildOverview(sourceURL, doc, tree)
		result.Hashes = &models.PageHashes{SimHash: simhash.Fingerprint(content)}
		return result, nil
	}

	content, _ := doctree.Project(tree, stdRules["ai_content"]).(string)
	result.TextData = content
	organized := doctree.Project(tree, stdRules["organized_data"])
	result.OrganizedData = organized
	result.Overview = buildOverview(sourceURL, doc, tree)

	linksResult := ExtractLinks(rawHTML, sourceURL)
	result.Links = &linksResult

	if images := ExtractImages(rawHTML, sourceURL); len(images) > 0 {
		result.MainImage = &models.ImageRef{Src: images[0].Src, Alt: images[0].Alt}
	}

	result.ContentFilterRemovalDetails = collectFilterRemovals(tree)
	result.Hashes = &models.PageHashes{
		SimHash:    simhash.Fingerprint(content),
		DOMSimHash: simhash.FingerprintDOM(rawHTML),
	}

	return result, nil
}

// mergeContentFilterRules converts base rules to cleaner.Rule and
// applies path overrides on top in order: "add" appends a rule built
// from the override's SelectorType/MatchType/Values, "remove" drops
// any base rule with the same Attribute, "replace_all_with" discards
// every prior rule and starts over from this override alone.
func mergeContentFilterRules(base []models.BaseConfigRule, overrides []models.PathOverride) []Rule {
	rules := make([]Rule, 0, len(base))
	for i, b := range base {
		rules = append(rules, Rule{
			Name: "base_" + itoa(i), Attribute: b.Attribute,
			Exact: b.Exact, Partial: b.Partial, Regex: b.Regex,
		})
	}
	for i, ov := range overrides {
		r := overrideToRule(i, ov)
		switch ov.Action {
		case "remove":
			filtered := rules[:0]
			for _, existing := range rules {
				if existing.Attribute != ov.SelectorType {
					filtered = append(filtered, existing)
				}
			}
			rules = filtered
		case "replace_all_with":
			rules = []Rule{r}
		default: // "add"
			rules = append(rules, r)
		}
	}
	return rules
}

func overrideToRule(i int, ov models.PathOverride) Rule {
	r := Rule{Name: "override_" + itoa(i), Attribute: ov.SelectorType}
	switch ov.MatchType {
	case "partial":
		r.Partial = ov.Values
	case "regex":
		r.Regex = ov.Values
	default:
		r.Exact = ov.Values
	}
	return r
}

func mainContentSelectors(overrides []models.PathOverride) []string {
	var out []string
	for _, ov := range overrides {
		if ov.IsActive {
			out = append(out, ov.Values...)
		}
	}
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func buildOverview(sourceURL string, doc *goquery.Document, tree *doctree.OrganizedData) *models.Overview {
	title := strings.TrimSpace(doc.Find("title").First().Text())
	tableCount, listCount, codeCount := 0, 0, 0
	var walk func(*doctree.Header)
	walk = func(h *doctree.Header) {
		for _, c := range h.Children {
			switch v := c.(type) {
			case *doctree.Header:
				walk(v)
			case *doctree.Table:
				tableCount++
			case *doctree.List:
				listCount++
			case *doctree.Code:
				codeCount++
			}
		}
	}
	if tree != nil && tree.Root != nil {
		walk(tree.Root)
	}
	text, _ := doctree.Project(tree, doctree.StandardRules()["ai_content"]).(string)
	return &models.Overview{
		Site:                 sourceURL,
		PageTitle:            title,
		CharCount:            len([]rune(text)),
		TableCount:           tableCount,
		ListCount:            listCount,
		CodeBlockCount:       codeCount,
		HasStructuredContent: tableCount > 0 || listCount > 0,
	}
}

// collectFilterRemovals walks the tree for nodes an ancestor
// content-filter wrapper marked, reporting each one's FilterDetail.
func collectFilterRemovals(tree *doctree.OrganizedData) []models.FilterRemoval {
	var out []models.FilterRemoval
	var walk func(doctree.Node)
	walk = func(n doctree.Node) {
		meta := n.Meta()
		if meta.Filtered && meta.FilterDetails != nil {
			out = append(out, models.FilterRemoval{
				Selector:  meta.FilterDetails.Selector,
				MatchType: meta.FilterDetails.MatchType,
				Trigger:   meta.FilterDetails.Trigger,
			})
		}
		if h, ok := n.(*doctree.Header); ok {
			for _, c := range h.Children {
				walk(c)
			}
		}
	}
	if tree != nil && tree.Root != nil {
		walk(tree.Root)
	}
	return out
}
