// Package markup parses XML into an element tree that can be queried by
// element and attribute name.
//
// The tree is built from encoding/xml tokens as golang.org/x/net/html nodes so
// the goquery traversal API can be used on it. Names are matched exactly,
// without CSS selector parsing, so any XML name (Cyrillic included) works.
package markup

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

type Document struct {
	doc *goquery.Document
}

// Node is a single element. The zero Node is empty: lookups on it find
// nothing and every attribute is absent.
type Node struct {
	sel *goquery.Selection
}

func Parse(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	root := &html.Node{Type: html.DocumentNode}
	cur := root
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &html.Node{Type: html.ElementNode, Data: t.Name.Local}
			for _, a := range t.Attr {
				n.Attr = append(n.Attr, html.Attribute{Namespace: a.Name.Space, Key: a.Name.Local, Val: a.Value})
			}
			cur.AppendChild(n)
			cur = n
		case xml.EndElement:
			if cur.Parent != nil {
				cur = cur.Parent
			}
		case xml.CharData:
			cur.AppendChild(&html.Node{Type: html.TextNode, Data: string(t)})
		}
	}

	if !hasElement(root) {
		return nil, errors.New("decode xml: no root element")
	}
	return &Document{doc: goquery.NewDocumentFromNode(root)}, nil
}

// Find returns every element with the given name, in document order.
func (d *Document) Find(name string) []Node {
	if d == nil || d.doc == nil {
		return nil
	}
	return nodes(d.doc.Find("*").FilterFunction(named(name)))
}

func (d *Document) Root() Node {
	if d == nil || d.doc == nil {
		return Node{}
	}
	return Node{sel: d.doc.Children().First()}
}

func (n Node) Exists() bool {
	return n.sel != nil && n.sel.Length() > 0
}

func (n Node) Name() string {
	if !n.Exists() {
		return ""
	}
	return goquery.NodeName(n.sel)
}

// Children returns direct child elements with the given name.
func (n Node) Children(name string) []Node {
	if !n.Exists() {
		return nil
	}
	return nodes(n.sel.Children().FilterFunction(named(name)))
}

// Find returns all descendant elements with the given name.
func (n Node) Find(name string) []Node {
	if !n.Exists() {
		return nil
	}
	return nodes(n.sel.Find("*").FilterFunction(named(name)))
}

// First returns the first descendant element with the given name.
func (n Node) First(name string) Node {
	if !n.Exists() {
		return Node{}
	}
	found := n.sel.Find("*").FilterFunction(named(name)).First()
	if found.Length() == 0 {
		return Node{}
	}
	return Node{sel: found}
}

func (n Node) Attr(name string) (string, bool) {
	if !n.Exists() {
		return "", false
	}
	return n.sel.Attr(name)
}

func (n Node) AttrOr(name, fallback string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return fallback
}

func (n Node) Text() string {
	if !n.Exists() {
		return ""
	}
	return n.sel.Text()
}

func hasElement(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return true
		}
	}
	return false
}

func named(name string) func(int, *goquery.Selection) bool {
	return func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == name
	}
}

func nodes(sel *goquery.Selection) []Node {
	out := make([]Node, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, Node{sel: s})
	})
	return out
}
