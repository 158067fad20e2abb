package ome

import (
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToASCII(t *testing.T) {
	tests := map[string]string{
		"plain":           "plain",
		"0.23 µm":         "0.23 um",
		"Café run – 2°C":  "Cafe run - 2degC",
		"Zürich Ångström": "Zurich Angstrom",
		"“quoted”…":       `"quoted"...`,
		"Straße ± 1×2":    "Strasse +- 1x2",
		"ﬁne":             "fine",
		`<a b="é">ñ</a>`:  `<a b="e">n</a>`,

		// Marker names
		"IFN-γ":     "IFN-g",
		"IFN-β":     "IFN-b",
		"TNF-α":     "TNF-a",
		"β-catenin": "b-catenin",
		"ΔNp63":     "DNp63",
	}
	for in, want := range tests {
		got := ToASCII(in)
		assert.Equal(t, want, got, in)
		for _, r := range got {
			assert.LessOrEqual(t, r, rune(unicode.MaxASCII))
		}
	}
}

func TestFoldToASCIIKeepsDocumentWellFormed(t *testing.T) {
	doc := mustParse(t, `<!-- run — day 2 --><OME><Image ID="Image:0"><Pixels SizeC="2">`+
		`<Channel ID="Channel:0" Name="“CD3” stain"/><Channel ID="Channel:1" Name="IFN-γ &amp; TNF-α"/>`+
		`</Pixels></Image><!-- 37°C — ok --><Note>a ＜b＞ “c”</Note></OME>`)

	doc.FoldToASCII()
	out := doc.String()
	for _, r := range out {
		require.LessOrEqual(t, r, rune(unicode.MaxASCII), out)
	}

	again, err := Parse([]byte(out))
	require.NoError(t, err, out)

	pix, err := again.FirstPixels()
	require.NoError(t, err)
	assert.Equal(t, []string{`"CD3" stain`, "IFN-g & TNF-a"}, attrsOf(Channels(pix), "Name"))
	assert.Equal(t, Text(`a <b> "c"`), again.Root.FirstChild("Note").Content[0])
	assert.NotContains(t, out, "---")
}
