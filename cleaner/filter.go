package cleaner

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FilterContent applies CSS-selector-based content filtering to raw HTML.
//
// Processing order:
//  1. Remove elements matching excludeTags (if any).
//  2. Keep only elements matching includeTags (if any).
//
// Returns the filtered HTML string. If both slices are empty, returns
// the input unchanged.
func FilterContent(html string, includeTags, excludeTags []string) string {
	if len(includeTags) == 0 && len(excludeTags) == 0 {
		return html
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}

	// Step 1: Remove excluded elements.
	for _, selector := range excludeTags {
		doc.Find(selector).Remove()
	}

	// Step 2: Keep only included elements.
	if len(includeTags) > 0 {
		// Build a combined selector: "article, main, .content"
		combined := strings.Join(includeTags, ", ")
		matches := doc.Find(combined)
		if matches.Length() > 0 {
			// Collect the outer HTML of all matching elements.
			var buf strings.Builder
			matches.Each(func(_ int, s *goquery.Selection) {
				h, err := goquery.OuterHtml(s)
				if err == nil {
					buf.WriteString(h)
				}
			})
			return buf.String()
		}
		// If no elements match the include selectors, return
		// the (already exclude-filtered) HTML as a fallback.
	}

	// Return the modified document HTML.
	result, err := doc.Html()
	if err != nil {
		return html
	}
	return result
}

// Rule is one content-filter predicate. Attribute names a dimension
// to match against: "tag", "text", "class", "style", "id", "role",
// "aria-hidden", "hidden", or an arbitrary HTML attribute name. Exact
// entries must equal the dimension's value exactly; Partial entries
// match as a substring; Regex entries are compiled and searched. A
// "class" entry may be space-joined tokens, all of which must be
// present on the element. A "style" entry has the form "prop:value".
type Rule struct {
	Name      string
	Attribute string
	Exact     []string
	Partial   []string
	Regex     []string
}

// Match reports whether s satisfies r, and if so the match type and
// the specific trigger item that matched.
func (r Rule) Match(s *goquery.Selection) (matched bool, matchType, trigger string) {
	val, ok := dimensionValue(s, r.Attribute)
	if !ok {
		return false, "", ""
	}
	for _, want := range r.Exact {
		if r.Attribute == "class" {
			if classTokensPresent(val, want) {
				return true, "exact", want
			}
			continue
		}
		if r.Attribute == "style" {
			if styleDeclPresent(val, want) {
				return true, "exact", want
			}
			continue
		}
		if val == want {
			return true, "exact", want
		}
	}
	for _, want := range r.Partial {
		if strings.Contains(val, want) {
			return true, "partial", want
		}
	}
	for _, pat := range r.Regex {
		re, err := regexp.Compile(pat)
		if err != nil {
			continue
		}
		if re.MatchString(val) {
			return true, "regex", pat
		}
	}
	return false, "", ""
}

func dimensionValue(s *goquery.Selection, attribute string) (string, bool) {
	switch attribute {
	case "tag":
		return goquery.NodeName(s), true
	case "text":
		return strings.TrimSpace(s.Text()), true
	default:
		v, exists := s.Attr(attribute)
		return v, exists
	}
}

func classTokensPresent(classAttr, want string) bool {
	have := map[string]bool{}
	for _, tok := range strings.Fields(classAttr) {
		have[tok] = true
	}
	for _, tok := range strings.Fields(want) {
		if !have[tok] {
			return false
		}
	}
	return true
}

func styleDeclPresent(styleAttr, want string) bool {
	prop, value, ok := strings.Cut(want, ":")
	if !ok {
		return strings.Contains(styleAttr, want)
	}
	prop = strings.TrimSpace(prop)
	value = strings.TrimSpace(value)
	for _, decl := range strings.Split(styleAttr, ";") {
		p, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(p), prop) && strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

// Mark wraps every element matching any rule in a synthetic
// <content-filter type="rule-name" match-type="exact|partial|regex"
// trigger-item="…"> element. It never removes content — the element
// extractor derives ElementMetadata.Filtered by walking ancestors for
// a content-filter tag, so downstream projection rules (not this
// pass) decide what survives.
func Mark(doc *goquery.Document, rules []Rule) {
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Closest("content-filter").Length() > 0 {
			return // already wrapped by an earlier, containing match
		}
		for _, rule := range rules {
			matched, matchType, trigger := rule.Match(s)
			if !matched {
				continue
			}
			wrapContentFilter(s, rule.Name, matchType, trigger)
			return
		}
	})
}

func wrapContentFilter(s *goquery.Selection, ruleName, matchType, trigger string) {
	h, err := goquery.OuterHtml(s)
	if err != nil {
		return
	}
	wrapped := "<content-filter type=\"" + htmlEscapeAttr(ruleName) +
		"\" match-type=\"" + htmlEscapeAttr(matchType) +
		"\" trigger-item=\"" + htmlEscapeAttr(trigger) + "\">" + h + "</content-filter>"
	s.ReplaceWithHtml(wrapped)
}

func htmlEscapeAttr(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// Remove drops every element matching any rule outright, for callers
// that want hard deletion instead of the mark-then-project flow.
func Remove(doc *goquery.Document, rules []Rule) {
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, rule := range rules {
			if matched, _, _ := rule.Match(s); matched {
				s.Remove()
				return
			}
		}
	})
}

// ApplyMainContent replaces the document body's children with deep
// copies of every element matched by the selectors in order, when
// selectors is non-empty. Later selectors' matches are appended after
// earlier ones even if they overlap in the DOM.
func ApplyMainContent(doc *goquery.Document, selectors []string) {
	if len(selectors) == 0 {
		return
	}
	var parts []string
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if h, err := goquery.OuterHtml(s); err == nil {
				parts = append(parts, h)
			}
		})
	}
	if len(parts) == 0 {
		return
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return
	}
	body.SetHtml(strings.Join(parts, ""))
}
