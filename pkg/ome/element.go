package ome

// A minimal XML tree. encoding/xml's struct mapping drops anything it
// wasn't told about and rewrites namespace prefixes on the way out,
// so OME-XML documents are kept as a raw tree instead: names keep
// their prefixes, attributes keep their order, and unknown elements
// survive a round trip.

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// A Node is one item of element content.
type Node interface {
	writeTo(b *bytes.Buffer)
}

type Text string
type Comment string
type ProcInst struct {
	Target string
	Inst   string
}

type Attr struct {
	Name  string // may carry a prefix, e.g. "xmlns:xsi"
	Value string
}

type Element struct {
	Name    string
	Attrs   []Attr
	Content []Node
}

func NewElement(name string, attrs ...Attr) *Element {
	return &Element{Name: name, Attrs: attrs}
}

// LocalName strips any namespace prefix.
func LocalName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func prefixOf(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i+1]
	}
	return ""
}

// Sibling returns a name in the same namespace prefix as e
func (e *Element) Sibling(local string) string { return prefixOf(e.Name) + local }

func (e *Element) Local() string { return LocalName(e.Name) }

func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces the value in place, or appends a new attribute
func (e *Element) SetAttr(name, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

func (e *Element) Children() []*Element {
	out := []*Element{}
	for _, n := range e.Content {
		if child, ok := n.(*Element); ok {
			out = append(out, child)
		}
	}
	return out
}

func (e *Element) ChildrenNamed(local string) []*Element {
	out := []*Element{}
	for _, child := range e.Children() {
		if child.Local() == local {
			out = append(out, child)
		}
	}
	return out
}

func (e *Element) FirstChild(local string) *Element {
	for _, child := range e.Children() {
		if child.Local() == local {
			return child
		}
	}
	return nil
}

func (e *Element) AppendChild(children ...*Element) {
	for _, c := range children {
		e.Content = append(e.Content, c)
	}
}

// RemoveChildren drops every child element with the given local name.
func (e *Element) RemoveChildren(local string) {
	kept := e.Content[:0]
	for _, n := range e.Content {
		if child, ok := n.(*Element); ok && child.Local() == local {
			continue
		}
		kept = append(kept, n)
	}
	e.Content = kept
}

// InsertAfterLast puts children directly after the last child element
// called `local`. If there is none, they go in front of the first child
// named in `before`, or at the end.
func (e *Element) InsertAfterLast(local string, before []string, children ...*Element) {
	at := -1
	for i, n := range e.Content {
		if child, ok := n.(*Element); ok && child.Local() == local {
			at = i + 1
		}
	}
	if at < 0 {
		at = len(e.Content)
	findBefore:
		for i, n := range e.Content {
			if child, ok := n.(*Element); ok {
				for _, b := range before {
					if child.Local() == b {
						at = i
						break findBefore
					}
				}
			}
		}
	}

	nodes := make([]Node, 0, len(e.Content)+len(children))
	nodes = append(nodes, e.Content[:at]...)
	for _, c := range children {
		nodes = append(nodes, c)
	}
	e.Content = append(nodes, e.Content[at:]...)
}

// String gives a short one-line summary, handy in logs.
func (e *Element) String() string {
	str := "<" + e.Name
	for _, a := range e.Attrs {
		str += fmt.Sprintf(" %s=%q", a.Name, a.Value)
	}
	return str + ">"
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\t", "&#x9;", "\n", "&#xA;", "\r", "&#xD;")
)

func (t Text) writeTo(b *bytes.Buffer)    { b.WriteString(textEscaper.Replace(string(t))) }
func (c Comment) writeTo(b *bytes.Buffer) { b.WriteString("<!--" + string(c) + "-->") }
func (p ProcInst) writeTo(b *bytes.Buffer) {
	b.WriteString("<?" + p.Target)
	if p.Inst != "" {
		b.WriteString(" " + p.Inst)
	}
	b.WriteString("?>")
}

func (e *Element) writeTo(b *bytes.Buffer) {
	b.WriteString("<" + e.Name)
	for _, a := range e.Attrs {
		b.WriteString(" " + a.Name + `="` + attrEscaper.Replace(a.Value) + `"`)
	}
	if len(e.Content) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteString(">")
	for _, n := range e.Content {
		n.writeTo(b)
	}
	b.WriteString("</" + e.Name + ">")
}

func rawName(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

// parseTree reads the prolog and the single root element.
func parseTree(r io.Reader) ([]Node, *Element, error) {
	d := xml.NewDecoder(r)
	prolog := []Node{}
	stack := []*Element{}
	var root *Element

	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, nil, fmt.Errorf("xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: rawName(t.Name)}
			for _, a := range t.Attr {
				el.Attrs = append(el.Attrs, Attr{Name: rawName(a.Name), Value: a.Value})
			}
			if len(stack) > 0 {
				stack[len(stack)-1].AppendChild(el)
			} else if root != nil {
				return nil, nil, fmt.Errorf("xml: more than one root element")
			} else {
				root = el
			}
			stack = append(stack, el)

		case xml.EndElement:
			if len(stack) == 0 || stack[len(stack)-1].Name != rawName(t.Name) {
				return nil, nil, fmt.Errorf("xml: unexpected </%s>", rawName(t.Name))
			}
			stack = stack[:len(stack)-1]

		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Content = append(top.Content, Text(string(t)))
			}

		case xml.Comment:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Content = append(top.Content, Comment(string(t)))
			} else if root == nil {
				prolog = append(prolog, Comment(string(t)))
			}

		case xml.ProcInst:
			if root == nil {
				prolog = append(prolog, ProcInst{Target: t.Target, Inst: string(t.Inst)})
			}
		}
	}

	if root == nil {
		return nil, nil, fmt.Errorf("xml: no root element")
	}
	if len(stack) > 0 {
		return nil, nil, fmt.Errorf("xml: <%s> not closed", stack[len(stack)-1].Name)
	}
	return prolog, root, nil
}
