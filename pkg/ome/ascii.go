package ome

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// The micro sign has a compatibility decomposition to Greek mu, which
// would transliterate to "m"; in units it means micro.
var microReplacer = strings.NewReplacer("µ", "u")

// ToASCII transliterates text to plain ASCII: accents are stripped,
// Greek and other scripts are spelled out in Latin letters, and
// symbols are written out (° -> deg).
func ToASCII(s string) string {
	s = norm.NFKC.String(microReplacer.Replace(s))
	s = unidecode.Unidecode(s)

	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
}

// FoldToASCII transliterates every attribute value, text and comment in
// the document. Folding happens before serialisation, so characters
// that fold to XML markup (curly quotes to '"') still get escaped.
func (d *Document) FoldToASCII() {
	for i, n := range d.Prolog {
		if c, ok := n.(Comment); ok {
			d.Prolog[i] = foldComment(c)
		}
	}
	d.Root.foldToASCII()
}

func (e *Element) foldToASCII() {
	for i := range e.Attrs {
		e.Attrs[i].Value = ToASCII(e.Attrs[i].Value)
	}
	for i, n := range e.Content {
		switch n := n.(type) {
		case Text:
			e.Content[i] = Text(ToASCII(string(n)))
		case Comment:
			e.Content[i] = foldComment(n)
		case *Element:
			n.foldToASCII()
		}
	}
}

// Comments may not contain "--", which an em dash folds to.
func foldComment(c Comment) Comment {
	s := ToASCII(string(c))
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return Comment(strings.TrimSuffix(s, "-"))
}
