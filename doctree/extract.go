package doctree

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/use-agent/purify/domainfilter"
	"github.com/use-agent/purify/urlx"
)

// imageSourceAttrs is the ranked attribute list the extractor scans
// for an <img>'s real source, in order of preference.
var imageSourceAttrs = []string{
	"src", "data-src", "data-lazy", "data-original", "data-lazy-src",
	"data-original-src", "data-url", "data-hi-res-src", "data-full-src",
	"lazy-src", "nitro-lazy-src", "srcset",
}

var videoProviderHosts = map[string]string{
	"youtube.com": "youtube", "youtu.be": "youtube",
	"vimeo.com": "vimeo", "dailymotion.com": "dailymotion",
	"facebook.com": "facebook", "twitch.tv": "twitch",
	"instagram.com": "instagram", "tiktok.com": "tiktok",
	"rumble.com": "rumble", "ted.com": "ted",
}

// Extractor walks a filtered DOM into an OrganizedData tree.
type Extractor struct {
	BaseURL string
	Filter  *domainfilter.Filter
}

// Extract builds the document tree from body.
func (e *Extractor) Extract(body *goquery.Selection) *OrganizedData {
	root := &Header{Level: 0, Text: "unassociated"}
	stack := []*Header{root}

	body.Contents().Each(func(_ int, s *goquery.Selection) {
		e.walk(s, &stack)
	})

	return &OrganizedData{Root: root}
}

func top(stack []*Header) *Header { return stack[len(stack)-1] }

func (e *Extractor) walk(s *goquery.Selection, stack *[]*Header) {
	node := s.Get(0)
	if node == nil {
		return
	}

	if node.Type == html.TextNode {
		text := strings.TrimSpace(node.Data)
		if text != "" {
			t := top(*stack)
			t.Children = append(t.Children, &Text{Content: text})
		}
		return
	}
	if node.Type != html.ElementNode {
		return
	}

	tag := strings.ToLower(node.Data)
	filtered, detail := filterInfo(s)

	switch {
	case tag == "h1" || tag == "h2" || tag == "h3" || tag == "h4" || tag == "h5" || tag == "h6":
		level, _ := strconv.Atoi(tag[1:])
		h := &Header{Level: level, Text: strings.TrimSpace(s.Text()), Metadata: ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}}
		for len(*stack) > 1 && top(*stack).Level >= level {
			*stack = (*stack)[:len(*stack)-1]
		}
		parent := top(*stack)
		parent.Children = append(parent.Children, h)
		*stack = append(*stack, h)

	case tag == "pre" || (tag == "code" && isMultiWord(s)):
		code := &Code{Content: s.Text(), Metadata: ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}}
		appendChild(top(*stack), code)

	case tag == "blockquote":
		quote := &Quote{Content: strings.TrimSpace(s.Text()), Metadata: ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}}
		appendChild(top(*stack), quote)

	case tag == "ul" || tag == "ol":
		l := e.extractList(s, tag == "ol")
		l.Metadata = ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}
		appendChild(top(*stack), l)

	case tag == "table":
		if isDataTable(s) {
			tbl := e.extractTable(s)
			tbl.Metadata = ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}
			appendChild(top(*stack), tbl)
		} else {
			s.Contents().Each(func(_ int, child *goquery.Selection) { e.walk(child, stack) })
		}

	case tag == "img":
		if img := e.extractImage(s); img != nil {
			img.Metadata = ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}
			appendChild(top(*stack), img)
		}

	case tag == "picture" || tag == "figure":
		if img := e.extractPictureOrFigure(s, tag); img != nil {
			img.Metadata = ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}
			appendChild(top(*stack), img)
		}

	case tag == "audio":
		a := e.extractAudio(s)
		a.Metadata = ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}
		appendChild(top(*stack), a)

	case tag == "video":
		v := e.extractVideo(s)
		v.Metadata = ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}
		appendChild(top(*stack), v)

	case (tag == "p" || tag == "span" || tag == "a" || tag == "th") && s.Children().Length() == 0:
		text := strings.TrimSpace(s.Text())
		if text != "" {
			t := &Text{Content: text, FmtText: s.AttrOr("fmt-txt", ""), Metadata: ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}}
			appendChild(top(*stack), t)
		}

	case tag == "span" && hasClass(s, "flattened-text"):
		t := &Text{Content: strings.TrimSpace(s.Text()), FmtText: s.AttrOr("fmt-txt", ""), Metadata: ElementMetadata{Tag: tag, Filtered: filtered, FilterDetails: detail}}
		appendChild(top(*stack), t)

	default:
		s.Contents().Each(func(_ int, child *goquery.Selection) { e.walk(child, stack) })
	}
}

func appendChild(h *Header, n Node) {
	h.Children = append(h.Children, n)
}

func hasClass(s *goquery.Selection, class string) bool {
	classes := strings.Fields(s.AttrOr("class", ""))
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

func isMultiWord(s *goquery.Selection) bool {
	if s.Children().Length() <= 1 {
		return false
	}
	return len(strings.Fields(s.Text())) > 1
}

func filterInfo(s *goquery.Selection) (bool, *FilterDetail) {
	var detail *FilterDetail
	filtered := false
	for n := s; n.Length() > 0; n = n.Parent() {
		if goquery.NodeName(n) == "content-filter" {
			filtered = true
			detail = &FilterDetail{
				Selector:  n.AttrOr("type", ""),
				MatchType: n.AttrOr("match-type", ""),
				Trigger:   n.AttrOr("trigger-item", ""),
			}
			break
		}
		if n.Parent().Length() == 0 {
			break
		}
	}
	return filtered, detail
}

func (e *Extractor) extractList(s *goquery.Selection, ordered bool) *List {
	l := &List{Ordered: ordered}
	s.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		if nested := li.ChildrenFiltered("ul, ol"); nested.Length() > 0 {
			nestedList := e.extractList(nested.First(), goquery.NodeName(nested.First()) == "ol")
			l.Items = append(l.Items, ListItem{Nested: nestedList})
			return
		}
		text := strings.TrimSpace(li.Text())
		l.Items = append(l.Items, ListItem{Node: &Text{Content: text, FmtText: li.AttrOr("fmt-txt", "")}})
	})
	return l
}

func isDataTable(s *goquery.Selection) bool {
	if role, ok := s.Attr("role"); ok && role == "table" {
		return true
	}
	if s.Find("th").Length() > 0 {
		return true
	}
	if s.Find("thead").Length() > 0 || s.Find("caption").Length() > 0 {
		return true
	}
	if border, ok := s.Attr("border"); ok && border == "1" {
		return true
	}
	if s.Find("table").Length() > 0 {
		return false
	}
	if role, ok := s.Attr("role"); ok && role == "presentation" {
		return false
	}

	counts := map[int]int{}
	total := 0
	s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		n := tr.Find("td, th").Length()
		counts[n]++
		total++
	})
	if total < 2 {
		return false
	}
	maxCount := 0
	mode := 0
	for cols, c := range counts {
		if c > maxCount {
			maxCount = c
			mode = cols
		}
	}
	if mode == 1 {
		return false
	}
	return float64(maxCount)/float64(total) >= 0.9
}

func (e *Extractor) extractTable(s *goquery.Selection) *Table {
	t := &Table{}

	headerRow := s.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = s.Find("tr").First()
		if headerRow.Find("th").Length() == 0 {
			headerRow = goquery.Selection{}
		}
	}
	if headerRow.Length() > 0 {
		headerRow.Find("th, td").Each(func(i int, cell *goquery.Selection) {
			t.Headers = append(t.Headers, strings.TrimSpace(cell.Text()))
		})
	}

	bodyRows := s.Find("tbody tr")
	if bodyRows.Length() == 0 {
		bodyRows = s.Find("tr")
	}
	maxCols := len(t.Headers)
	var rawRows [][]string
	bodyRows.Each(func(i int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 && headerRow.Length() > 0 && tr.Get(0) == headerRow.Get(0) {
			return
		}
		var cells []string
		tr.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(cell.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if len(cells) > maxCols {
			maxCols = len(cells)
		}
		rawRows = append(rawRows, cells)
	})

	if len(t.Headers) == 0 {
		for i := 0; i < maxCols; i++ {
			t.Headers = append(t.Headers, "col"+strconv.Itoa(i+1))
		}
	}
	for len(t.Headers) < maxCols {
		t.Headers = append(t.Headers, "col"+strconv.Itoa(len(t.Headers)+1))
	}

	for _, cells := range rawRows {
		row := TableRow{}
		for i, h := range t.Headers {
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			row[h] = []Node{&Text{Content: val}}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

var trackingPixelB64 = []string{
	"R0lGODlhAQABAIAAAAAAAP", // common 1x1 gif signature prefix
}

func (e *Extractor) extractImage(s *goquery.Selection) *Image {
	var candidate, firstData string
	for _, attr := range imageSourceAttrs {
		val, ok := s.Attr(attr)
		if !ok || val == "" {
			continue
		}
		if attr == "srcset" {
			val = firstSrcsetCandidate(val)
		}
		resolved := urlx.Join(e.BaseURL, val)
		isData, _ := urlx.IsDataURL(resolved)
		if isData {
			if firstData == "" {
				firstData = resolved
			}
			continue
		}
		if e.Filter != nil && e.Filter.ShouldBlock(resolved) {
			continue
		}
		candidate = resolved
		break
	}
	if candidate == "" {
		candidate = firstData
	}
	if candidate == "" {
		return nil
	}

	isData, _ := urlx.IsDataURL(candidate)
	width := attrInt(s, "width")
	height := attrInt(s, "height")
	if (width == 0 || width == 1) && (height == 0 || height == 1) {
		return nil
	}
	if isData && isTrackingPixel(candidate) {
		return nil
	}

	return &Image{
		Src:       candidate,
		Alt:       s.AttrOr("alt", ""),
		Width:     width,
		Height:    height,
		Title:     s.AttrOr("title", ""),
		IsDataURL: isData,
	}
}

func isTrackingPixel(dataURL string) bool {
	for _, sig := range trackingPixelB64 {
		if strings.Contains(dataURL, sig) {
			return true
		}
	}
	return false
}

func firstSrcsetCandidate(srcset string) string {
	parts := strings.Split(srcset, ",")
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func attrInt(s *goquery.Selection, attr string) int {
	v, ok := s.Attr(attr)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(v, "px"))
	if err != nil {
		return 0
	}
	return n
}

func (e *Extractor) extractPictureOrFigure(s *goquery.Selection, tag string) *Image {
	var sources []string
	s.Find("source").Each(func(_ int, src *goquery.Selection) {
		if srcset, ok := src.Attr("srcset"); ok {
			if c := firstSrcsetCandidate(srcset); c != "" {
				sources = append(sources, urlx.Join(e.BaseURL, c))
			}
		}
	})

	img := s.Find("img").First()
	var base *Image
	if img.Length() > 0 {
		base = e.extractImage(img)
	}
	if base == nil && len(sources) == 0 {
		return nil
	}
	if base == nil {
		base = &Image{Src: sources[0]}
	}
	if base.IsDataURL && len(sources) > 0 {
		base.Src = sources[0]
		base.IsDataURL = false
	}
	base.AllSources = sources

	if tag == "figure" {
		if cap := s.Find("figcaption").First(); cap.Length() > 0 {
			base.Caption = strings.TrimSpace(cap.Text())
		}
	}
	return base
}

func (e *Extractor) extractAudio(s *goquery.Selection) *Audio {
	a := &Audio{Src: s.AttrOr("src", "")}
	s.Find("source").Each(func(_ int, src *goquery.Selection) {
		if v, ok := src.Attr("src"); ok {
			a.Sources = append(a.Sources, urlx.Join(e.BaseURL, v))
		}
	})
	a.Controls = s.Is("[controls]")
	a.Autoplay = s.Is("[autoplay]")
	a.Loop = s.Is("[loop]")
	a.Muted = s.Is("[muted]")
	return a
}

func (e *Extractor) extractVideo(s *goquery.Selection) *Video {
	v := &Video{Src: s.AttrOr("src", "")}
	if v.Src == "" {
		if src := s.Find("source").First(); src.Length() > 0 {
			v.Src = src.AttrOr("src", "")
		}
	}
	s.Find("source").Each(func(_ int, src *goquery.Selection) {
		if val, ok := src.Attr("src"); ok {
			v.Sources = append(v.Sources, urlx.Join(e.BaseURL, val))
		}
	})
	if poster, ok := s.Attr("poster"); ok {
		v.Poster = urlx.Join(e.BaseURL, poster)
	}
	v.Provider = s.AttrOr("provider", "")
	v.Controls = s.Is("[controls]")
	v.Autoplay = s.Is("[autoplay]")
	v.Loop = s.Is("[loop]")
	v.Muted = s.Is("[muted]")
	v.Playsinline = s.Is("[playsinline]")
	return v
}

// ProviderForIframeSrc resolves a known video provider from an iframe
// src host. The HTML transformer's iframe→video rewrite keeps its own
// provider table (cleaner/transform.go) and does not call it.
func ProviderForIframeSrc(src string) (provider string, ok bool) {
	for host, p := range videoProviderHosts {
		if strings.Contains(src, host) {
			return p, true
		}
	}
	return "", false
}
