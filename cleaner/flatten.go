package cleaner

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/purify/domainfilter"
	"github.com/use-agent/purify/urlx"
)

var (
	inlineElements = map[string]bool{
		"a": true, "abbr": true, "acronym": true, "b": true, "bdi": true, "bdo": true,
		"big": true, "br": true, "button": true, "cite": true, "code": true, "data": true,
		"datalist": true, "del": true, "dfn": true, "em": true, "i": true, "img": true,
		"input": true, "ins": true, "kbd": true, "label": true, "map": true, "mark": true,
		"meter": true, "noscript": true, "object": true, "output": true, "progress": true,
		"q": true, "ruby": true, "s": true, "samp": true, "select": true, "small": true,
		"span": true, "strong": true, "sub": true, "sup": true, "textarea": true,
		"time": true, "tt": true, "u": true, "var": true, "wbr": true, "td": true,
		"source": true,
	}

	blockElements = map[string]bool{
		"address": true, "article": true, "aside": true, "blockquote": true,
		"canvas": true, "dd": true, "div": true, "dl": true, "dt": true,
		"fieldset": true, "figcaption": true, "figure": true, "footer": true,
		"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
		"h6": true, "header": true, "hr": true, "li": true, "main": true, "nav": true,
		"ol": true, "p": true, "pre": true, "section": true, "table": true,
		"ul": true, "video": true, "picture": true, "audio": true,
	}

	mediaElements = map[string]bool{
		"img": true, "video": true, "audio": true, "figure": true, "picture": true, "embed": true,
	}

	jsSchemeRe = regexp.MustCompile(`(?i)^javascript:`)
)

// Flattener collapses runs of inline markup into single
// span.flattened-text nodes carrying the rendered text plus a
// markdown-formatted "fmt-txt" attribute, the way the scraper-service
// original's HTMLFlattener does over a BeautifulSoup tree. Filter
// is consulted so a link into a blocked host is never promoted to its
// markdown anchor form (falls back to plain text instead).
type Flattener struct {
	BaseURL string
	Filter  *domainfilter.Filter
}

// Flatten mutates root in place.
func (f *Flattener) Flatten(root *html.Node) {
	f.flattenChildren(root)
}

func (f *Flattener) flattenChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			if f.isProtected(c) {
				c = next
				continue
			}
			f.flattenChildren(c)
			name := tagName(c)
			if inlineElements[name] && name != "a" {
				if hasBlockChildren(c) {
					c.Data = "div"
					c.DataAtom = 0
				} else {
					f.joinInlineChildren(c)
				}
			}
			if blockElements[name] {
				f.joinConsecutiveInlines(c)
			}
		} else if c.Type == html.CommentNode {
			// left in place
		}
		c = next
	}
}

// isProtected mirrors the original's is_protected: <pre> is always
// protected; a <code> with more than one descendant and multi-word
// text is promoted to <pre> and protected, otherwise it's unwrapped;
// media tags are protected; an already-flattened span is protected
// (idempotent under re-flattening).
func (f *Flattener) isProtected(n *html.Node) bool {
	name := tagName(n)
	if name == "pre" {
		return true
	}
	if name == "code" {
		if countDescendants(n) > 1 && len(strings.Fields(textContent(n))) > 1 {
			n.Data = "pre"
			n.DataAtom = 0
			return true
		}
		unwrap(n)
		return false
	}
	if mediaElements[name] {
		return true
	}
	if name == "span" && hasClass(n, "flattened-text") {
		return true
	}
	return false
}

func (f *Flattener) joinInlineChildren(n *html.Node)      { f.joinRun(n) }
func (f *Flattener) joinConsecutiveInlines(n *html.Node)  { f.joinRun(n) }

// joinRun walks n's children, buffering adjacent text/inline runs
// into a single flattened-text span and leaving media/comment/other
// children untouched in their original position.
func (f *Flattener) joinRun(n *html.Node) {
	var newChildren []*html.Node
	var textBuf, fmtBuf []string

	flush := func() {
		if len(textBuf) == 0 {
			return
		}
		span := &html.Node{
			Type: html.ElementNode,
			Data: "span",
			Attr: []html.Attribute{
				{Key: "class", Val: "flattened-text"},
				{Key: "fmt-txt", Val: strings.Join(filterEmpty(fmtBuf), " ")},
			},
		}
		text := strings.Join(filterEmpty(textBuf), " ")
		if text != "" {
			span.AppendChild(&html.Node{Type: html.TextNode, Data: text})
			newChildren = append(newChildren, span)
		}
		textBuf, fmtBuf = nil, nil
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.CommentNode:
			flush()
			newChildren = append(newChildren, c)
		case html.TextNode:
			if s := strings.TrimSpace(c.Data); s != "" {
				textBuf = append(textBuf, s)
				fmtBuf = append(fmtBuf, s)
			}
		case html.ElementNode:
			name := tagName(c)
			switch {
			case mediaElements[name]:
				flush()
				newChildren = append(newChildren, c)
			case name == "a" && !containsMedia(c):
				text := strings.TrimSpace(textContent(c))
				href := strings.TrimSpace(attrVal(c, "href"))
				full := urlx.Join(f.BaseURL, href)
				isData, _ := urlx.IsDataURL(full)
				if text != "" && href != "" && !isData && f.isReadableURL(full) {
					textBuf = append(textBuf, text)
					fmtBuf = append(fmtBuf, "["+text+"]("+full+")")
				} else {
					plain := strings.Join(strings.Fields(textContent(c)), " ")
					textBuf = append(textBuf, plain)
					fmtBuf = append(fmtBuf, plain)
				}
			case inlineElements[name]:
				if f.isProtected(c) || containsMedia(c) {
					flush()
					newChildren = append(newChildren, c)
				} else {
					plain := strings.Join(strings.Fields(textContent(c)), " ")
					textBuf = append(textBuf, plain)
					fmtBuf = append(fmtBuf, plain)
				}
			default:
				flush()
				newChildren = append(newChildren, c)
			}
		default:
			flush()
			newChildren = append(newChildren, c)
		}
	}
	flush()

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range newChildren {
		c.Parent = nil
		c.NextSibling, c.PrevSibling = nil, nil
		n.AppendChild(c)
	}
}

// isReadableURL rejects javascript:/data: schemes, accepts tel:/mailto:
// unconditionally, and otherwise requires an http/https/ftp/ftps scheme
// with a host — plus rejects hosts the injected domain filter blocks.
func (f *Flattener) isReadableURL(u string) bool {
	if u == "" {
		return false
	}
	if jsSchemeRe.MatchString(u) {
		return false
	}
	if isData, _ := urlx.IsDataURL(u); isData {
		return false
	}
	lower := strings.ToLower(u)
	if strings.HasPrefix(lower, "tel:") || strings.HasPrefix(lower, "mailto:") {
		return true
	}
	info, err := urlx.Canonicalize(u)
	if err != nil {
		return false
	}
	if f.Filter != nil && f.Filter.ShouldBlock(u) {
		return false
	}
	switch info.Scheme {
	case "http", "https", "ftp", "ftps":
		return true
	}
	return false
}

func hasBlockChildren(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && blockElements[tagName(c)] {
			return true
		}
	}
	return false
}

func containsMedia(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if mediaElements[tagName(c)] {
				return true
			}
			if containsMedia(c) {
				return true
			}
		}
	}
	return false
}

func countDescendants(n *html.Node) int {
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count++
		count += countDescendants(c)
	}
	return count
}

func unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}

func tagName(n *html.Node) string {
	if n.DataAtom != 0 {
		return n.DataAtom.String()
	}
	return strings.ToLower(n.Data)
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, tok := range strings.Fields(attrVal(n, "class")) {
		if tok == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func filterEmpty(ss []string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
