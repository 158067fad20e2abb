package ome

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// cometXML builds an OME-XML block shaped like the ones the COMET
// instrument writes: one image, nChannels channels and planes, and a
// cycle annotation with one record per channel.
func cometXML(nChannels int, firstCycle int, names ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06" ` +
		`xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" UUID="urn:uuid:0000" Creator="Horizon">`)
	b.WriteString(`<Instrument ID="Instrument:0"><Microscope Manufacturer="Lunaphore"/></Instrument>`)
	b.WriteString(fmt.Sprintf(`<Image ID="Image:0" Name="slide"><Pixels ID="Pixels:0" DimensionOrder="XYCZT" `+
		`Type="uint16" SizeX="64" SizeY="48" SizeZ="1" SizeT="1" SizeC="%d" `+
		`PhysicalSizeX="0.23" PhysicalSizeXUnit="µm" PhysicalSizeY="0.23">`, nChannels))
	for c := 0; c < nChannels; c++ {
		b.WriteString(fmt.Sprintf(`<Channel ID="Channel:%d" Name="%s" SamplesPerPixel="1"><LightPath/></Channel>`, c, names[c]))
	}
	b.WriteString(fmt.Sprintf(`<TiffData IFD="0" PlaneCount="%d"/>`, nChannels))
	for c := 0; c < nChannels; c++ {
		b.WriteString(fmt.Sprintf(`<Plane TheC="%d" TheT="0" TheZ="0" ExposureTime="100"/>`, c))
	}
	b.WriteString(`</Pixels></Image>`)
	b.WriteString(`<StructuredAnnotations><XMLAnnotation ID="Annotation:0" Namespace="lunaphore.com/horizon"><Value>`)
	b.WriteString(`<ChannelCycles>`)
	for c := 0; c < nChannels; c++ {
		b.WriteString(fmt.Sprintf(`<ChannelPriv ID="Channel:0:%d" CycleID="%d" FluorescenceChannel="%s"/>`,
			c, firstCycle+c/2, names[c]))
	}
	b.WriteString(`</ChannelCycles></Value></XMLAnnotation>`)
	b.WriteString(`<CommentAnnotation ID="Annotation:1"><Value>Café run – 2°C</Value></CommentAnnotation>`)
	b.WriteString(`</StructuredAnnotations></OME>`)
	return b.String()
}

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := Parse([]byte(s))
	require.NoError(t, err)
	return doc
}

func attrsOf(elements []*Element, name string) []string {
	out := []string{}
	for _, e := range elements {
		v, _ := e.Attr(name)
		out = append(out, v)
	}
	return out
}
