// Package doctree builds a typed document tree from filtered HTML and
// projects it into named output shapes (content, data,
// organize-by-headers).
package doctree

// Kind discriminates the tagged-variant Node implementations.
type Kind string

const (
	KindHeader Kind = "header"
	KindText   Kind = "text"
	KindCode   Kind = "code"
	KindQuote  Kind = "quote"
	KindList   Kind = "list"
	KindTable  Kind = "table"
	KindImage  Kind = "image"
	KindAudio  Kind = "audio"
	KindVideo  Kind = "video"
)

// ElementMetadata is embedded in every node. Filtered is true iff an
// ancestor in the pre-removal DOM was wrapped by a content-filter
// marker element.
type ElementMetadata struct {
	Tag           string
	Attributes    map[string]string
	Filtered      bool
	FilterDetails *FilterDetail
}

// FilterDetail records why a node's ancestor was marked.
type FilterDetail struct {
	Selector  string
	MatchType string
	Trigger   string
}

// Node is implemented by every document-tree variant. Children never
// hold a pointer back to an ancestor — the header stack during
// extraction only ever appends into a parent's Children slice, so the
// tree has no cycles.
type Node interface {
	Kind() Kind
	Meta() *ElementMetadata
}

// Header is a section heading; level 0 is the synthetic root
// "unassociated" heading holding content that precedes any real
// heading.
type Header struct {
	Level    int
	Text     string
	Children []Node
	Metadata ElementMetadata
}

func (h *Header) Kind() Kind              { return KindHeader }
func (h *Header) Meta() *ElementMetadata  { return &h.Metadata }

// Text is a flattened inline run. FmtText, when present, is the
// markdown-formatted form carried in the flattener's fmt-txt attribute.
type Text struct {
	Content  string
	FmtText  string
	Metadata ElementMetadata
}

func (t *Text) Kind() Kind             { return KindText }
func (t *Text) Meta() *ElementMetadata { return &t.Metadata }

// Code is a fenced code block.
type Code struct {
	Content  string
	Language string
	Metadata ElementMetadata
}

func (c *Code) Kind() Kind             { return KindCode }
func (c *Code) Meta() *ElementMetadata { return &c.Metadata }

// Quote is a blockquote.
type Quote struct {
	Content  string
	Metadata ElementMetadata
}

func (q *Quote) Kind() Kind             { return KindQuote }
func (q *Quote) Meta() *ElementMetadata { return &q.Metadata }

// ListItem is either a leaf node or a nested List, preserving
// arbitrary nesting depth the way the source's python-style nested
// list does.
type ListItem struct {
	Node   Node
	Nested *List
}

// List is an ordered or unordered list.
type List struct {
	Ordered  bool
	Items    []ListItem
	Metadata ElementMetadata
}

func (l *List) Kind() Kind             { return KindList }
func (l *List) Meta() *ElementMetadata { return &l.Metadata }

// TableRow is one row's cells, indexed by column header.
type TableRow map[string][]Node

// Table is a data table (see the extractor's data-vs-layout heuristic).
type Table struct {
	Headers  []string
	Rows     []TableRow
	Metadata ElementMetadata
}

func (t *Table) Kind() Kind             { return KindTable }
func (t *Table) Meta() *ElementMetadata { return &t.Metadata }

// Image is a resolved image reference.
type Image struct {
	Src         string
	Alt         string
	Width       int
	Height      int
	Title       string
	Caption     string
	AllSources  []string
	IsDataURL   bool
	Metadata    ElementMetadata
}

func (i *Image) Kind() Kind             { return KindImage }
func (i *Image) Meta() *ElementMetadata { return &i.Metadata }

// Audio is an <audio> element.
type Audio struct {
	Src      string
	Sources  []string
	Controls bool
	Autoplay bool
	Loop     bool
	Muted    bool
	Metadata ElementMetadata
}

func (a *Audio) Kind() Kind             { return KindAudio }
func (a *Audio) Meta() *ElementMetadata { return &a.Metadata }

// Video is a <video>, possibly rewritten from a known-provider iframe
// by the HTML transformer.
type Video struct {
	Src        string
	Sources    []string
	Tracks     []string
	Poster     string
	Provider   string
	Controls   bool
	Autoplay   bool
	Loop       bool
	Muted      bool
	Playsinline bool
	Metadata   ElementMetadata
}

func (v *Video) Kind() Kind             { return KindVideo }
func (v *Video) Meta() *ElementMetadata { return &v.Metadata }

// OrganizedData is the tree root: a synthetic level-0 header holding
// everything that precedes the first real heading, plus sibling
// top-level headers.
type OrganizedData struct {
	Root *Header
}
