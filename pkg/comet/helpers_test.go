package comet

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abworrall/comet-fixer/pkg/ometiff"
)

// slide is a procedural stained tissue stand-in: bright rectangles on
// a faintly noisy background, defined at every integer point so shifted
// views of it can be rendered exactly.
type slide struct {
	rects []image.Rectangle
	amps  []int
}

func newSlide(seed int64, n, span int) slide {
	rng := rand.New(rand.NewSource(seed))
	s := slide{}
	for i := 0; i < n; i++ {
		x, y := rng.Intn(span), rng.Intn(span)
		w, h := 12+rng.Intn(40), 12+rng.Intn(40)
		s.rects = append(s.rects, image.Rect(x, y, x+w, y+h))
		s.amps = append(s.amps, 800+rng.Intn(4000))
	}
	return s
}

func (s slide) at(x, y int) uint16 {
	v := int((uint32(x)*73856093 ^ uint32(y)*19349663) & 0x7F)
	p := image.Point{x, y}
	for i, r := range s.rects {
		if p.In(r) {
			v += s.amps[i]
		}
	}
	return uint16(v)
}

// view renders the slide as seen by a camera whose top left pixel sits
// on slide point `origin`.
func (s slide) view(size int, origin image.Point) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray16(x, y, color.Gray16{s.at(x+origin.X, y+origin.Y)})
		}
	}
	return img
}

type planes []*image.Gray16

func (p planes) Size() image.Point                    { return p[0].Bounds().Size() }
func (p planes) NumChannels() int                     { return len(p) }
func (p planes) BitsPerSample() int                   { return 16 }
func (p planes) Channel(c int) (*image.Gray16, error) { return p[c], nil }

// cometXML is the shape of the OME-XML the instrument writes: channels,
// planes, and a cycle annotation with one record per channel, two
// channels per cycle.
func cometXML(size int, names ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<OME xmlns="http://www.openmicroscopy.org/Schemas/OME/2016-06" UUID="urn:uuid:1234">`)
	b.WriteString(fmt.Sprintf(`<Image ID="Image:0" Name="slide"><Pixels ID="Pixels:0" DimensionOrder="XYCZT" `+
		`Type="uint16" SizeX="%d" SizeY="%d" SizeZ="1" SizeT="1" SizeC="%d" PhysicalSizeX="0.23" PhysicalSizeXUnit="µm">`,
		size, size, len(names)))
	for c, name := range names {
		b.WriteString(fmt.Sprintf(`<Channel ID="Channel:%d" Name="%s" SamplesPerPixel="1"/>`, c, name))
	}
	b.WriteString(fmt.Sprintf(`<TiffData IFD="0" PlaneCount="%d"/>`, len(names)))
	for c := range names {
		b.WriteString(fmt.Sprintf(`<Plane TheC="%d" TheT="0" TheZ="0"/>`, c))
	}
	b.WriteString(`</Pixels></Image>`)
	b.WriteString(`<StructuredAnnotations><XMLAnnotation ID="Annotation:0"><Value><ChannelCycles>`)
	for c, name := range names {
		b.WriteString(fmt.Sprintf(`<ChannelPriv ID="Channel:0:%d" CycleID="%d" FluorescenceChannel="%s"/>`, c, 1+c/2, name))
	}
	b.WriteString(`</ChannelCycles></Value></XMLAnnotation></StructuredAnnotations></OME>`)
	return b.String()
}

func writeInput(t *testing.T, name string, p planes, desc string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), name)
	opts := ometiff.WriteOptions{TileSize: 128, DownscaleFactor: 2, Description: desc}
	require.NoError(t, ometiff.WritePyramid(filename, p, 0.23, opts))
	return filename
}

func testConfig() Config {
	c := NewConfig()
	c.NKeypoints = 500
	c.ThumbnailSize = 256
	c.Register.BlockSize = 256
	c.TileSize = 128
	c.DownscaleFactor = 2
	c.Workers = 2
	return c
}
