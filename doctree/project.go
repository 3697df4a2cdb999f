package doctree

import (
	"fmt"
	"strings"
)

// ProjectionOptions are the per-rule flags from spec.md §4.7.
type ProjectionOptions struct {
	Data                    bool // mutually exclusive with Content
	Content                 bool
	RemoveFormatting        bool
	RemoveAnchors           bool
	RemoveFiltered          bool
	OrganizeByHeaders       bool
}

// Rule is a named projection descriptor.
type Rule struct {
	Name    string
	Allowed map[Kind]bool
	Options ProjectionOptions
}

func allKinds() map[Kind]bool {
	return map[Kind]bool{
		KindHeader: true, KindText: true, KindCode: true, KindQuote: true,
		KindList: true, KindTable: true, KindImage: true, KindAudio: true, KindVideo: true,
	}
}

func only(kinds ...Kind) map[Kind]bool {
	m := map[Kind]bool{}
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// StandardRules returns the stable-named rule set callers reference:
// ai_content, ai_research_content, markdown_renderable, organized_data,
// document_outline, tables, lists, images, videos, audios, code_blocks.
func StandardRules() map[string]Rule {
	return map[string]Rule{
		"ai_content": {
			Name: "ai_content", Allowed: allKinds(),
			Options: ProjectionOptions{Content: true, RemoveFiltered: true},
		},
		"ai_research_content": {
			Name: "ai_research_content",
			Allowed: only(KindHeader, KindText, KindTable, KindList, KindQuote),
			Options: ProjectionOptions{Content: true, RemoveFormatting: true, RemoveAnchors: true, RemoveFiltered: true},
		},
		"markdown_renderable": {
			Name: "markdown_renderable", Allowed: allKinds(),
			Options: ProjectionOptions{Content: true},
		},
		"organized_data": {
			Name: "organized_data", Allowed: allKinds(),
			Options: ProjectionOptions{Data: true},
		},
		"document_outline": {
			Name: "document_outline", Allowed: only(KindHeader),
			Options: ProjectionOptions{Content: true, OrganizeByHeaders: true},
		},
		"tables": {
			Name: "tables", Allowed: only(KindTable),
			Options: ProjectionOptions{Data: true},
		},
		"lists": {
			Name: "lists", Allowed: only(KindList),
			Options: ProjectionOptions{Data: true},
		},
		"images": {
			Name: "images", Allowed: only(KindImage),
			Options: ProjectionOptions{Data: true},
		},
		"videos": {
			Name: "videos", Allowed: only(KindVideo),
			Options: ProjectionOptions{Data: true},
		},
		"audios": {
			Name: "audios", Allowed: only(KindAudio),
			Options: ProjectionOptions{Data: true},
		},
		"code_blocks": {
			Name: "code_blocks", Allowed: only(KindCode),
			Options: ProjectionOptions{Data: true},
		},
	}
}

// Record is one entry of a "data"-shaped projection.
type Record map[string]any

// Project traverses tree under rule, emitting only allowed node
// kinds; a disallowed node's descendants are still extracted if they
// are themselves allowed, except that a disallowed table is dropped
// together with its cells. Projecting the same tree twice with the
// same rule yields equal output (pure function of tree+rule).
func Project(tree *OrganizedData, rule Rule) any {
	if rule.Options.OrganizeByHeaders {
		return organizeByHeaders(tree.Root, rule)
	}
	if rule.Options.Data {
		var records []Record
		collectData(tree.Root, rule, &records)
		return records
	}
	var lines []string
	collectContent(tree.Root, rule, &lines)
	return strings.Join(lines, "\n")
}

func allowed(rule Rule, k Kind) bool { return rule.Allowed[k] }

func skipFiltered(rule Rule, n Node) bool {
	return rule.Options.RemoveFiltered && n.Meta().Filtered
}

func collectContent(h *Header, rule Rule, out *[]string) {
	if skipFiltered(rule, h) {
		return
	}
	if h.Level > 0 && allowed(rule, KindHeader) {
		prefix := strings.Repeat("#", h.Level)
		if rule.Options.RemoveFormatting {
			*out = append(*out, h.Text)
		} else {
			*out = append(*out, prefix+" "+h.Text)
		}
	}
	for _, c := range h.Children {
		renderNodeContent(c, rule, out)
	}
}

func renderNodeContent(n Node, rule Rule, out *[]string) {
	if skipFiltered(rule, n) {
		return
	}
	switch v := n.(type) {
	case *Header:
		collectContent(v, rule, out)
	case *Text:
		if !allowed(rule, KindText) {
			return
		}
		if rule.Options.RemoveAnchors || rule.Options.RemoveFormatting || v.FmtText == "" {
			*out = append(*out, v.Content)
		} else {
			*out = append(*out, v.FmtText)
		}
	case *Code:
		if !allowed(rule, KindCode) {
			return
		}
		*out = append(*out, "```"+v.Language+"\n"+v.Content+"\n```")
	case *Quote:
		if !allowed(rule, KindQuote) {
			return
		}
		*out = append(*out, "> "+v.Content)
	case *List:
		if !allowed(rule, KindList) {
			renderListContentInline(v, rule, out)
			return
		}
		*out = append(*out, renderList(v, rule, 0)...)
	case *Table:
		if !allowed(rule, KindTable) {
			return
		}
		*out = append(*out, renderTable(v)...)
	case *Image:
		if !allowed(rule, KindImage) {
			return
		}
		*out = append(*out, fmt.Sprintf("![%s](%s %q)", v.Alt, v.Src, v.Caption))
	case *Audio:
		if !allowed(rule, KindAudio) {
			return
		}
		*out = append(*out, fmt.Sprintf("[audio](%s)", v.Src))
	case *Video:
		if !allowed(rule, KindVideo) {
			return
		}
		*out = append(*out, fmt.Sprintf("[video](%s)", v.Src))
	}
}

// renderListContentInline extracts a disallowed list's allowed
// descendants directly, per the projector's "extract descendants of a
// disallowed node" rule.
func renderListContentInline(l *List, rule Rule, out *[]string) {
	for _, item := range l.Items {
		if item.Nested != nil {
			renderListContentInline(item.Nested, rule, out)
		} else if item.Node != nil {
			renderNodeContent(item.Node, rule, out)
		}
	}
}

func renderList(l *List, rule Rule, depth int) []string {
	var lines []string
	indent := strings.Repeat("  ", depth)
	for _, item := range l.Items {
		if item.Nested != nil {
			lines = append(lines, renderList(item.Nested, rule, depth+1)...)
			continue
		}
		if item.Node == nil {
			continue
		}
		var sub []string
		renderNodeContent(item.Node, rule, &sub)
		for _, s := range sub {
			if rule.Options.RemoveFormatting {
				lines = append(lines, s)
			} else {
				lines = append(lines, indent+"- "+s)
			}
		}
	}
	return lines
}

func renderTable(t *Table) []string {
	var lines []string
	lines = append(lines, strings.Join(t.Headers, " | "))
	for _, row := range t.Rows {
		var cells []string
		for _, h := range t.Headers {
			var parts []string
			for _, n := range row[h] {
				var sub []string
				renderNodeContent(n, Rule{Allowed: allKinds()}, &sub)
				parts = append(parts, sub...)
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return lines
}

func collectData(h *Header, rule Rule, out *[]Record) {
	if skipFiltered(rule, h) {
		return
	}
	if h.Level > 0 && allowed(rule, KindHeader) {
		*out = append(*out, Record{"type": "header", "level": h.Level, "content": h.Text})
	}
	for _, c := range h.Children {
		renderNodeData(c, rule, out)
	}
}

func renderNodeData(n Node, rule Rule, out *[]Record) {
	if skipFiltered(rule, n) {
		return
	}
	switch v := n.(type) {
	case *Header:
		collectData(v, rule, out)
	case *Text:
		if allowed(rule, KindText) {
			*out = append(*out, Record{"type": "text", "content": v.Content})
		}
	case *Code:
		if allowed(rule, KindCode) {
			*out = append(*out, Record{"type": "code", "content": v.Content, "language": v.Language})
		}
	case *Quote:
		if allowed(rule, KindQuote) {
			*out = append(*out, Record{"type": "quote", "content": v.Content})
		}
	case *List:
		if allowed(rule, KindList) {
			var flat []string
			flattenList(v, &flat)
			*out = append(*out, Record{"type": "list", "content": flat})
		} else {
			for _, item := range v.Items {
				if item.Node != nil {
					renderNodeData(item.Node, rule, out)
				}
				if item.Nested != nil {
					renderNodeData(&Header{Level: 0, Children: []Node{item.Nested}}, rule, out)
				}
			}
		}
	case *Table:
		if allowed(rule, KindTable) {
			var rows []Record
			for _, r := range v.Rows {
				rec := Record{}
				for _, h := range v.Headers {
					var parts []string
					for _, n := range r[h] {
						if t, ok := n.(*Text); ok {
							parts = append(parts, t.Content)
						}
					}
					rec[h] = strings.Join(parts, " ")
				}
				rows = append(rows, rec)
			}
			*out = append(*out, Record{"type": "table", "rows": rows})
		}
	case *Image:
		if allowed(rule, KindImage) {
			*out = append(*out, Record{"type": "image", "src": v.Src, "alt": v.Alt, "width": v.Width, "height": v.Height, "caption": v.Caption})
		}
	case *Audio:
		if allowed(rule, KindAudio) {
			*out = append(*out, Record{"type": "audio", "src": v.Src, "sources": v.Sources})
		}
	case *Video:
		if allowed(rule, KindVideo) {
			*out = append(*out, Record{"type": "video", "src": v.Src, "sources": v.Sources, "provider": v.Provider})
		}
	}
}

func flattenList(l *List, out *[]string) {
	for _, item := range l.Items {
		if item.Nested != nil {
			flattenList(item.Nested, out)
			continue
		}
		if t, ok := item.Node.(*Text); ok {
			*out = append(*out, t.Content)
		}
	}
}

// organizeByHeaders maps header text (de-duplicated with a "(n)"
// suffix) to that header's rendered subtree content.
func organizeByHeaders(root *Header, rule Rule) map[string]string {
	out := map[string]string{}
	seen := map[string]int{}
	var walk func(h *Header)
	walk = func(h *Header) {
		if h.Level > 0 {
			key := h.Text
			if n := seen[key]; n > 0 {
				key = fmt.Sprintf("%s (%d)", h.Text, n)
			}
			seen[h.Text]++
			var lines []string
			collectContent(h, Rule{Allowed: allKinds()}, &lines)
			out[key] = strings.Join(lines, "\n")
		}
		for _, c := range h.Children {
			if sub, ok := c.(*Header); ok {
				walk(sub)
			}
		}
	}
	walk(root)
	return out
}
