package cleaner

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// videoIframePattern is one known-provider iframe-src rule.
type videoIframePattern struct {
	domain      string
	pathPattern *regexp.Regexp
	provider    string
}

var videoIframePatterns = []videoIframePattern{
	{"youtube.com", regexp.MustCompile(`/embed/`), "youtube"},
	{"youtube-nocookie.com", regexp.MustCompile(`/embed/`), "youtube"},
	{"youtube.com", regexp.MustCompile(`/watch`), "youtube"},
	{"player.vimeo.com", regexp.MustCompile(`/video/`), "vimeo"},
	{"vimeo.com", regexp.MustCompile(`/video/`), "vimeo"},
	{"facebook.com", regexp.MustCompile(`/plugins/video`), "facebook"},
	{"dailymotion.com", regexp.MustCompile(`/embed/video/`), "dailymotion"},
	{"player.twitch.tv", regexp.MustCompile(`channel=|video=`), "twitch"},
	{"instagram.com", regexp.MustCompile(`/p/`), "instagram"},
	{"tiktok.com", regexp.MustCompile(`/embed`), "tiktok"},
	{"rumble.com", regexp.MustCompile(`/embed/`), "rumble"},
	{"ted.com", regexp.MustCompile(`/talks/embed`), "ted"},
}

// Transform runs the pre-flatten repair passes over an already-parsed
// tree: orphan <li> wrapping, bsp-carousel rewriting, content-header
// preservation, and known-provider video-iframe rewriting.
func Transform(root *html.Node) {
	wrapOrphanLists(root)
	rewriteBspCarousels(root)
	preserveContentHeaders(root)
	rewriteVideoIframes(root)
}

// wrapOrphanLists wraps runs of consecutive <li> siblings whose parent
// is not <ul>/<ol> in a synthetic <ul>, mirroring orphan_li_fixer.
func wrapOrphanLists(root *html.Node) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		var run []*html.Node
		flush := func() {
			if len(run) == 0 {
				return
			}
			parent := run[0].Parent
			ul := &html.Node{Type: html.ElementNode, Data: "ul"}
			parent.InsertBefore(ul, run[0])
			for _, li := range run {
				parent.RemoveChild(li)
				ul.AppendChild(li)
			}
			run = nil
		}
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode {
				if tagName(c) == "li" {
					p := tagName(n)
					if p != "ul" && p != "ol" {
						run = append(run, c)
						c = next
						continue
					}
				}
				flush()
				walk(c)
			}
			c = next
		}
		flush()
	}
	walk(root)
}

func rewriteBspCarousels(root *html.Node) {
	for _, carousel := range findAll(root, "bsp-carousel") {
		container := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{{Key: "class", Val: "transformed-carousel"}}}

		title := "Untitled Carousel"
		if titleEl := findFirstWithClass(carousel, "h2", "Carousel-title"); titleEl != nil {
			if v := attrVal(titleEl, "data-override-title"); v != "" {
				title = v
			} else {
				title = strings.TrimSpace(textContent(titleEl))
			}
		}
		titleP := &html.Node{Type: html.ElementNode, Data: "p"}
		titleP.AppendChild(&html.Node{Type: html.TextNode, Data: "Carousel: " + title})
		container.AppendChild(titleP)

		ul := &html.Node{Type: html.ElementNode, Data: "ul"}
		container.AppendChild(ul)

		for _, slide := range findAllWithClass(carousel, "div", "Carousel-slide") {
			description := ""
			if descEl := findFirstWithClass(slide, "span", "CarouselSlide-infoDescription"); descEl != nil {
				description = strings.TrimSpace(textContent(descEl))
			}
			var picture *html.Node
			for _, p := range findAll(slide, "picture") {
				picture = p
				break
			}
			text := description
			if text == "" {
				text = "[Slide " + attrVal(slide, "data-slidenumber") + "]"
			}
			li := &html.Node{Type: html.ElementNode, Data: "li"}
			li.AppendChild(&html.Node{Type: html.TextNode, Data: text})
			ul.AppendChild(li)
			if picture != nil {
				li2 := &html.Node{Type: html.ElementNode, Data: "li"}
				if picture.Parent != nil {
					picture.Parent.RemoveChild(picture)
				}
				li2.AppendChild(picture)
				ul.AppendChild(li2)
			}
		}

		replaceNode(carousel, container)
	}
}

func preserveContentHeaders(root *html.Node) {
	for _, header := range findAll(root, "header") {
		if !isContentHeader(header) {
			continue
		}
		div := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{
			{Key: "class", Val: "preserved-content"},
			{Key: "data-original-tag", Val: "header"},
		}}
		for c := header.FirstChild; c != nil; {
			next := c.NextSibling
			header.RemoveChild(c)
			div.AppendChild(c)
			c = next
		}
		replaceNode(header, div)
	}
}

func isContentHeader(header *html.Node) bool {
	hasHeading := len(findAny(header, "h1", "h2", "h3")) > 0
	hasTime := len(findAll(header, "time")) > 0
	if hasHeading || hasTime {
		return true
	}
	navElements := findAny(header, "nav", "menu")
	listElements := findAny(header, "ul", "ol")
	listWithLinks := false
	for _, ul := range listElements {
		if len(findAll(ul, "a")) > 2 {
			listWithLinks = true
			break
		}
	}
	if len(navElements) > 0 || listWithLinks {
		return false
	}
	return true
}

func rewriteVideoIframes(root *html.Node) {
	for _, iframe := range findAll(root, "iframe") {
		var validSrc, provider string
		for _, attr := range iframe.Attr {
			if !strings.Contains(strings.ToLower(attr.Key), "src") || attr.Val == "" {
				continue
			}
			u, err := url.Parse(attr.Val)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				continue
			}
			for _, pat := range videoIframePatterns {
				if strings.Contains(u.Host, pat.domain) && pat.pathPattern.MatchString(u.Path) {
					validSrc = attr.Val
					provider = pat.provider
					break
				}
			}
			if validSrc != "" {
				break
			}
		}
		if validSrc == "" {
			continue
		}
		video := &html.Node{Type: html.ElementNode, Data: "video", Attr: []html.Attribute{{Key: "provider", Val: provider}}}
		if w := attrVal(iframe, "width"); w != "" {
			video.Attr = append(video.Attr, html.Attribute{Key: "width", Val: w})
		}
		if h := attrVal(iframe, "height"); h != "" {
			video.Attr = append(video.Attr, html.Attribute{Key: "height", Val: h})
		}
		source := &html.Node{Type: html.ElementNode, Data: "source", Attr: []html.Attribute{
			{Key: "src", Val: validSrc},
			{Key: "type", Val: "unknown"},
		}}
		video.AppendChild(source)
		replaceNode(iframe, video)
	}
}

func replaceNode(old, replacement *html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	parent.InsertBefore(replacement, old)
	parent.RemoveChild(old)
}

func findAll(root *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && tagName(c) == tag {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findAny(root *html.Node, tags ...string) []*html.Node {
	want := map[string]bool{}
	for _, t := range tags {
		want[t] = true
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && want[tagName(c)] {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func findFirstWithClass(root *html.Node, tag, class string) *html.Node {
	matches := findAllWithClass(root, tag, class)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func findAllWithClass(root *html.Node, tag, class string) []*html.Node {
	var out []*html.Node
	for _, n := range findAll(root, tag) {
		if hasClass(n, class) {
			out = append(out, n)
		}
	}
	return out
}
