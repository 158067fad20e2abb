package ometiff

import (
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

// testMosaic is a stack of planes held in memory
type testMosaic struct {
	planes []*image.Gray16
	bits   int
}

func (m testMosaic) Size() image.Point                    { return m.planes[0].Bounds().Size() }
func (m testMosaic) NumChannels() int                     { return len(m.planes) }
func (m testMosaic) BitsPerSample() int                   { return m.bits }
func (m testMosaic) Channel(c int) (*image.Gray16, error) { return m.planes[c], nil }

// pattern fills a plane with values that differ per pixel and per channel
func pattern(w, h, c int, max uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint32(x*7+y*13+c*101) % (uint32(max) + 1)
			img.SetGray16(x, y, color.Gray16{uint16(v)})
		}
	}
	return img
}

func assertSamePixels(t *testing.T, want, got *image.Gray16, msg ...interface{}) {
	t.Helper()
	if !assert.Equal(t, want.Bounds(), got.Bounds(), msg...) {
		return
	}
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if want.Gray16At(x, y) != got.Gray16At(x, y) {
				assert.Fail(t, "pixel mismatch", "at (%d,%d): want %d, got %d %v",
					x, y, want.Gray16At(x, y).Y, got.Gray16At(x, y).Y, msg)
				return
			}
		}
	}
}

type memEntry struct {
	tag, typ uint16
	count    uint32
	val      uint32 // inline value, already left-justified for SHORTs
}

// stripTIFF assembles a small big-endian, 16 bit, uncompressed
// TIFF with two rows per strip, by hand. With predict set the samples
// are stored as horizontal differences.
func stripTIFF(img *image.Gray16, predict bool) []byte {
	be := binary.BigEndian
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	const rowsPerStrip = 2
	nStrips := (h + rowsPerStrip - 1) / rowsPerStrip
	if nStrips > 2 {
		panic("stripTIFF only does up to two strips")
	}

	short := func(v uint16) uint32 { return uint32(v) << 16 }
	entries := []memEntry{
		{tImageWidth, dtShort, 1, short(uint16(w))},
		{tImageLength, dtShort, 1, short(uint16(h))},
		{tBitsPerSample, dtShort, 1, short(16)},
		{tCompression, dtShort, 1, short(compressionNone)},
		{tPhotometric, dtShort, 1, short(photometricBlackIsZero)},
		{tStripOffsets, dtShort, uint32(nStrips), 0},
		{tRowsPerStrip, dtShort, 1, short(rowsPerStrip)},
		{tStripByteCounts, dtShort, uint32(nStrips), 0},
	}
	if predict {
		entries = append(entries, memEntry{tPredictor, dtShort, 1, short(predictorHorizontal)})
	}

	dataStart := 8 + 2 + len(entries)*12 + 4
	var offsets, counts [2]uint16
	for s := 0; s < nStrips; s++ {
		rows := rowsPerStrip
		if (s+1)*rowsPerStrip > h {
			rows = h - s*rowsPerStrip
		}
		offsets[s] = uint16(dataStart + s*rowsPerStrip*w*2)
		counts[s] = uint16(rows * w * 2)
	}
	entries[5].val = uint32(offsets[0])<<16 | uint32(offsets[1])
	entries[7].val = uint32(counts[0])<<16 | uint32(counts[1])

	b := []byte{'M', 'M', 0, 42}
	b = be.AppendUint32(b, 8)
	b = be.AppendUint16(b, uint16(len(entries)))
	for _, e := range entries {
		b = be.AppendUint16(b, e.tag)
		b = be.AppendUint16(b, e.typ)
		b = be.AppendUint32(b, e.count)
		b = be.AppendUint32(b, e.val)
	}
	b = be.AppendUint32(b, 0)

	for y := 0; y < h; y++ {
		prev := uint16(0)
		for x := 0; x < w; x++ {
			v := img.Gray16At(x, y).Y
			if predict {
				b = be.AppendUint16(b, v-prev)
			} else {
				b = be.AppendUint16(b, v)
			}
			prev = v
		}
	}
	return b
}
