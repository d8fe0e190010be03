// Package document is the structured-document view the scanners work on.
// It hides the rendering engine behind two capabilities: querying nodes by
// CSS selector and flattening a node into normalized text.
package document

import (
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Node is a handle to one element of a rendered document
type Node interface {
	// Query returns the descendants matching selector in document order.
	Query(selector string) []Node
	// Closest returns the nearest ancestor-or-self matching selector, or nil.
	Closest(selector string) Node
	// Parent returns the parent element, or nil at the root.
	Parent() Node
	// Cell returns the idx-th (1-based) direct td/th child, or nil.
	Cell(idx int) Node
	// Text returns the flattened, whitespace-collapsed text of the node.
	Text() string
}

// Document is a rendered page
type Document interface {
	Query(selector string) []Node
	URL() string
}

var wsRun = regexp.MustCompile(`\s+`)

// Normalize collapses whitespace runs to one space and trims both ends
func Normalize(s string) string {
	return strings.TrimSpace(wsRun.ReplaceAllString(s, " "))
}

// Flatten returns the normalized text of n, or "" for a nil node
func Flatten(n Node) string {
	if n == nil {
		return ""
	}
	return n.Text()
}

// Parse reads an HTML document from r
func Parse(r io.Reader, url string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return &htmlDocument{doc: doc, url: url}, nil
}

// ParseString parses an in-memory HTML document
func ParseString(s string) (Document, error) {
	return Parse(strings.NewReader(s), "")
}

type htmlDocument struct {
	doc *goquery.Document
	url string
}

// Query never fails: goquery treats an invalid selector as matching nothing.
func (d *htmlDocument) Query(selector string) []Node {
	return wrap(d.doc.Find(selector))
}

func (d *htmlDocument) URL() string { return d.url }

type htmlNode struct {
	sel *goquery.Selection
}

func (n *htmlNode) Query(selector string) []Node {
	return wrap(n.sel.Find(selector))
}

func (n *htmlNode) Closest(selector string) Node {
	c := n.sel.Closest(selector)
	if c.Length() == 0 {
		return nil
	}
	return &htmlNode{sel: c.First()}
}

func (n *htmlNode) Parent() Node {
	p := n.sel.Parent()
	if p.Length() == 0 || p.Nodes[0].Type != html.ElementNode {
		return nil
	}
	return &htmlNode{sel: p}
}

func (n *htmlNode) Cell(idx int) Node {
	if idx < 1 {
		return nil
	}
	cells := n.sel.ChildrenFiltered("td, th")
	if idx > cells.Length() {
		return nil
	}
	return &htmlNode{sel: cells.Eq(idx - 1)}
}

func (n *htmlNode) Text() string {
	var b strings.Builder
	for _, root := range n.sel.Nodes {
		collectText(root, &b)
	}
	return Normalize(b.String())
}

// collectText appends every descendant text node followed by a space,
// so adjacent cells never run together.
func collectText(n *html.Node, b *strings.Builder) {
	if n == nil {
		return
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func wrap(sel *goquery.Selection) []Node {
	nodes := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &htmlNode{sel: s})
	})
	return nodes
}
