package ometiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// A Page is one single-channel image plane at one resolution, stored
// either as tiles or as strips.
type Page struct {
	Width, Height  int
	BitsPerSample  int
	Compression    int
	Predictor      int
	NewSubfileType int
	Description    string

	// Chunk layout; for strips, ChunkW is the image width and ChunkH the rows per strip
	Tiled          bool
	ChunkW, ChunkH int
	Offsets        []uint64
	ByteCounts     []uint64
	SubIFDs        []uint64

	order binary.ByteOrder
}

func (p *Page) String() string {
	layout := "strips"
	if p.Tiled {
		layout = "tiles"
	}
	return fmt.Sprintf("Page[%dx%d, %dbit, comp=%d, %d %s of %dx%d]",
		p.Width, p.Height, p.BitsPerSample, p.Compression, len(p.Offsets), layout, p.ChunkW, p.ChunkH)
}

func (p *Page) Bounds() image.Rectangle { return image.Rect(0, 0, p.Width, p.Height) }

// IsReduced is true for the downsampled pages of the legacy (non-SubIFD) pyramid layout
func (p *Page) IsReduced() bool { return p.NewSubfileType&1 == 1 }

func newPage(d *ifd, order binary.ByteOrder) (*Page, error) {
	p := &Page{
		Width:          int(d.uint(order, tImageWidth, 0)),
		Height:         int(d.uint(order, tImageLength, 0)),
		BitsPerSample:  int(d.uint(order, tBitsPerSample, 1)),
		Compression:    int(d.uint(order, tCompression, compressionNone)),
		Predictor:      int(d.uint(order, tPredictor, predictorNone)),
		NewSubfileType: int(d.uint(order, tNewSubfileType, 0)),
		SubIFDs:        d.uints(order, tSubIFDs),
		order:          order,
	}
	if e, exists := d.Entries[tImageDescription]; exists {
		p.Description = e.String()
	}

	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("ifd@%d: bad image size %dx%d", d.Offset, p.Width, p.Height)
	}
	if spp := d.uint(order, tSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, spp)
	}
	if sf := d.uint(order, tSampleFormat, sampleFormatUint); sf != sampleFormatUint {
		return nil, fmt.Errorf("%w: sample format %d", ErrUnsupported, sf)
	}
	if p.BitsPerSample != 8 && p.BitsPerSample != 16 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, p.BitsPerSample)
	}
	switch p.Compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, p.Compression)
	}
	if p.Predictor != predictorNone && p.Predictor != predictorHorizontal {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupported, p.Predictor)
	}

	if _, exists := d.Entries[tTileWidth]; exists {
		p.Tiled = true
		p.ChunkW = int(d.uint(order, tTileWidth, 0))
		p.ChunkH = int(d.uint(order, tTileLength, 0))
		p.Offsets = d.uints(order, tTileOffsets)
		p.ByteCounts = d.uints(order, tTileByteCounts)
	} else {
		p.ChunkW = p.Width
		p.ChunkH = int(d.uint(order, tRowsPerStrip, uint64(p.Height)))
		if p.ChunkH > p.Height {
			p.ChunkH = p.Height
		}
		p.Offsets = d.uints(order, tStripOffsets)
		p.ByteCounts = d.uints(order, tStripByteCounts)
	}

	if p.ChunkW <= 0 || p.ChunkH <= 0 {
		return nil, fmt.Errorf("ifd@%d: bad chunk size %dx%d", d.Offset, p.ChunkW, p.ChunkH)
	}
	if want := p.chunksAcross() * p.chunksDown(); len(p.Offsets) < want || len(p.ByteCounts) < want {
		return nil, fmt.Errorf("ifd@%d: want %d chunks, have %d offsets and %d bytecounts",
			d.Offset, want, len(p.Offsets), len(p.ByteCounts))
	}

	return p, nil
}

func (p *Page) chunksAcross() int { return (p.Width + p.ChunkW - 1) / p.ChunkW }
func (p *Page) chunksDown() int   { return (p.Height + p.ChunkH - 1) / p.ChunkH }

func (p *Page) chunkRect(cx, cy int) image.Rectangle {
	return image.Rect(cx*p.ChunkW, cy*p.ChunkH, (cx+1)*p.ChunkW, (cy+1)*p.ChunkH)
}

// readRegion decodes every chunk that intersects `r`, copying its
// samples into dst (whose bounds are r, and may extend outside the page).
func (p *Page) readRegion(src io.ReaderAt, dst *image.Gray16) error {
	r := dst.Bounds().Intersect(p.Bounds())
	if r.Empty() {
		return nil
	}

	cx0, cy0 := r.Min.X/p.ChunkW, r.Min.Y/p.ChunkH
	cx1, cy1 := (r.Max.X-1)/p.ChunkW, (r.Max.Y-1)/p.ChunkH

	for cy := cy0; cy <= cy1; cy++ {
		for cx := cx0; cx <= cx1; cx++ {
			chunk, err := p.decodeChunk(src, cx, cy)
			if err != nil {
				return err
			}
			p.copyChunk(chunk, cx, cy, dst, r)
		}
	}
	return nil
}

// decodeChunk returns the decompressed, un-predicted samples of one
// tile or strip, as host-order uint16s.
func (p *Page) decodeChunk(src io.ReaderAt, cx, cy int) ([]uint16, error) {
	idx := cy*p.chunksAcross() + cx
	if !p.Tiled {
		idx = cy
	}

	raw := make([]byte, p.ByteCounts[idx])
	if _, err := src.ReadAt(raw, int64(p.Offsets[idx])); err != nil {
		return nil, fmt.Errorf("chunk %d read: %w", idx, err)
	}

	rows := p.ChunkH
	if !p.Tiled && (cy+1)*p.ChunkH > p.Height {
		rows = p.Height - cy*p.ChunkH
	}
	bytesPerSample := p.BitsPerSample / 8
	want := p.ChunkW * rows * bytesPerSample

	var data []byte
	switch p.Compression {
	case compressionNone:
		data = raw

	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		var err error
		if data, err = io.ReadAll(rc); err != nil && len(data) < want {
			return nil, fmt.Errorf("chunk %d lzw: %w", idx, err)
		}

	case compressionDeflate, compressionDeflateOld:
		rc, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("chunk %d deflate: %w", idx, err)
		}
		defer rc.Close()
		if data, err = io.ReadAll(rc); err != nil {
			return nil, fmt.Errorf("chunk %d deflate: %w", idx, err)
		}
	}

	if len(data) < want {
		return nil, fmt.Errorf("chunk %d: short data, %d bytes for %d", idx, len(data), want)
	}

	samples := make([]uint16, p.ChunkW*rows)
	for i := range samples {
		if bytesPerSample == 1 {
			samples[i] = uint16(data[i])
		} else {
			samples[i] = p.order.Uint16(data[2*i:])
		}
	}

	if p.Predictor == predictorHorizontal {
		mask := uint16(0xFFFF)
		if bytesPerSample == 1 {
			mask = 0xFF
		}
		for y := 0; y < rows; y++ {
			row := samples[y*p.ChunkW : (y+1)*p.ChunkW]
			for x := 1; x < len(row); x++ {
				row[x] = (row[x] + row[x-1]) & mask
			}
		}
	}

	return samples, nil
}

func (p *Page) copyChunk(chunk []uint16, cx, cy int, dst *image.Gray16, r image.Rectangle) {
	cr := p.chunkRect(cx, cy).Intersect(r)
	origin := p.chunkRect(cx, cy).Min
	for y := cr.Min.Y; y < cr.Max.Y; y++ {
		srcRow := chunk[(y-origin.Y)*p.ChunkW:]
		for x := cr.Min.X; x < cr.Max.X; x++ {
			v := srcRow[x-origin.X]
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = uint8(v >> 8)
			dst.Pix[i+1] = uint8(v)
		}
	}
}
