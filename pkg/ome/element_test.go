package ome

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTripKeepsPrefixesAndUnknowns(t *testing.T) {
	in := `<?xml version="1.0" encoding="UTF-8"?><!-- made by hand -->` +
		`<ome:OME xmlns:ome="http://www.openmicroscopy.org/Schemas/OME/2016-06" xmlns:x="urn:extra">` +
		`<ome:Image ID="Image:0"><x:Custom a="1 &amp; 2">text &lt;here&gt;</x:Custom></ome:Image>` +
		`</ome:OME>`

	doc := mustParse(t, in)
	assert.Equal(t, "ome:OME", doc.Root.Name)
	require.Len(t, doc.Images(), 1)

	out := string(doc.Marshal())
	assert.Equal(t, in, out)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	tests := map[string]string{
		"not ome":    `<Foo/>`,
		"unbalanced": `<OME><Image></OME>`,
		"empty":      ``,
		"two roots":  `<OME/><OME/>`,
		"unclosed":   `<OME><Image>`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestMarshalAddsDeclaration(t *testing.T) {
	doc := mustParse(t, `<OME/>`)
	assert.True(t, strings.HasPrefix(doc.String(), `<?xml version="1.0" encoding="UTF-8"?><OME/>`))
}

func TestAttributeEscaping(t *testing.T) {
	e := NewElement("X", Attr{"v", "a\"b<c>\n&"})
	doc := &Document{Root: NewElement("OME")}
	doc.Root.AppendChild(e)

	back := mustParse(t, doc.String())
	v, ok := back.Root.FirstChild("X").Attr("v")
	require.True(t, ok)
	assert.Equal(t, "a\"b<c>\n&", v)
}

func TestInsertAfterLast(t *testing.T) {
	pix := NewElement("Pixels")
	pix.AppendChild(NewElement("Channel", Attr{"ID", "a"}), NewElement("TiffData"), NewElement("Plane"))

	pix.InsertAfterLast("Channel", afterChannels, NewElement("Channel", Attr{"ID", "b"}))
	names := []string{}
	for _, c := range pix.Children() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Channel", "Channel", "TiffData", "Plane"}, names)

	empty := NewElement("Pixels")
	empty.AppendChild(NewElement("TiffData"))
	empty.InsertAfterLast("Channel", afterChannels, NewElement("Channel"))
	assert.Equal(t, "Channel", empty.Children()[0].Name)

	tail := NewElement("Pixels")
	tail.InsertAfterLast("Plane", nil, NewElement("Plane"))
	assert.Len(t, tail.Children(), 1)
}

func TestRemoveChildren(t *testing.T) {
	pix := NewElement("Pixels")
	pix.AppendChild(NewElement("Channel"), NewElement("TiffData"), NewElement("TiffData"))
	pix.RemoveChildren("TiffData")
	assert.Len(t, pix.Children(), 1)
	assert.Empty(t, TiffData(pix))
}
