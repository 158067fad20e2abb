package ometiff

import (
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/abworrall/comet-fixer/pkg/ome"
)

// A Reader gives access to the channels and resolution levels of a
// pyramidal OME-TIFF. Pyramid[level][channel] is the page holding that
// plane.
type Reader struct {
	Filename         string
	Pyramid          [][]*Page
	LevelDownsamples []float64
	PixelSize        float64 // microns per pixel at level 0

	src    io.ReaderAt
	closer io.Closer
	header header
}

// Open reads the directory structure of the file; no pixel data is
// decoded until a region is asked for.
func Open(filename string) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open '%s': %w", filename, err)
	}

	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("'%s': %w", filename, err)
	}
	r.Filename = filename
	r.closer = f
	return r, nil
}

// NewReader works on anything that can be read at random offsets.
func NewReader(src io.ReaderAt) (*Reader, error) {
	r := &Reader{src: src, PixelSize: 1.0}

	h, err := readHeader(src)
	if err != nil {
		return nil, err
	}
	r.header = h

	dirs, err := readIFDChain(src, h)
	if err != nil {
		return nil, err
	}

	// Group the top level pages into channels; each channel is a full
	// resolution page, plus its SubIFDs or the reduced pages that follow it.
	channels := [][]*Page{}
	for _, d := range dirs {
		p, err := newPage(d, h.Order)
		if err != nil {
			return nil, err
		}

		if p.IsReduced() {
			if len(channels) == 0 {
				return nil, fmt.Errorf("reduced resolution page before any full resolution page")
			}
			channels[len(channels)-1] = append(channels[len(channels)-1], p)
			continue
		}

		levels := []*Page{p}
		for _, off := range p.SubIFDs {
			sd, err := readIFD(src, h, int64(off))
			if err != nil {
				return nil, fmt.Errorf("subifd: %w", err)
			}
			sp, err := newPage(sd, h.Order)
			if err != nil {
				return nil, fmt.Errorf("subifd: %w", err)
			}
			levels = append(levels, sp)
		}
		channels = append(channels, levels)
	}

	if err := r.buildPyramid(channels); err != nil {
		return nil, err
	}

	if desc := r.OMEXML(); desc != "" {
		if doc, err := ome.Parse([]byte(desc)); err == nil {
			if ps, ok := doc.PhysicalSizeX(); ok && ps > 0 {
				r.PixelSize = ps
			}
		}
	}

	return r, nil
}

// buildPyramid transposes per-channel level lists into Pyramid[level][channel]
func (r *Reader) buildPyramid(channels [][]*Page) error {
	nLevels := math.MaxInt
	for _, levels := range channels {
		if len(levels) < nLevels {
			nLevels = len(levels)
		}
	}

	base := channels[0][0]
	for c, levels := range channels {
		if levels[0].Width != base.Width || levels[0].Height != base.Height {
			return fmt.Errorf("channel %d is %dx%d, channel 0 is %dx%d",
				c, levels[0].Width, levels[0].Height, base.Width, base.Height)
		}
	}

	r.Pyramid = make([][]*Page, nLevels)
	r.LevelDownsamples = make([]float64, nLevels)
	for l := 0; l < nLevels; l++ {
		r.Pyramid[l] = make([]*Page, len(channels))
		for c := range channels {
			r.Pyramid[l][c] = channels[c][l]
		}
		r.LevelDownsamples[l] = float64(base.Width) / float64(channels[0][l].Width)
	}
	return nil
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) String() string {
	str := fmt.Sprintf("Reader[%s, %d channels, pixel %.4fum\n", filepath.Base(r.Filename), r.NumChannels(), r.PixelSize)
	for l, pages := range r.Pyramid {
		str += fmt.Sprintf("  level %d (x%.2f): %s\n", l, r.LevelDownsamples[l], pages[0])
	}
	return str + "]"
}

func (r *Reader) NumChannels() int   { return len(r.Pyramid[0]) }
func (r *Reader) NumLevels() int     { return len(r.Pyramid) }
func (r *Reader) BitsPerSample() int { return r.Pyramid[0][0].BitsPerSample }

// LevelSize is the width and height of a pyramid level.
func (r *Reader) LevelSize(level int) image.Point {
	p := r.Pyramid[level][0]
	return image.Point{p.Width, p.Height}
}

// OMEXML is the ImageDescription of the first page.
func (r *Reader) OMEXML() string { return r.Pyramid[0][0].Description }

// ThumbnailLevelOfSize picks the level whose largest dimension is
// closest to `size` pixels.
func (r *Reader) ThumbnailLevelOfSize(size int) int {
	best, bestDiff := 0, math.MaxInt
	for l := range r.Pyramid {
		sz := r.LevelSize(l)
		diff := sz.X
		if sz.Y > diff {
			diff = sz.Y
		}
		diff -= size
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = l, diff
		}
	}
	return best
}

func (r *Reader) checkIndex(level, c int) error {
	if level < 0 || level >= r.NumLevels() {
		return fmt.Errorf("level %d out of range [0,%d)", level, r.NumLevels())
	}
	if c < 0 || c >= r.NumChannels() {
		return fmt.Errorf("channel %d out of range [0,%d)", c, r.NumChannels())
	}
	return nil
}

// ReadLevelChannel decodes a whole plane.
func (r *Reader) ReadLevelChannel(level, c int) (*image.Gray16, error) {
	if err := r.checkIndex(level, c); err != nil {
		return nil, err
	}
	return r.ReadRegion(level, c, r.Pyramid[level][c].Bounds())
}

// ReadRegion returns the samples inside rect. The rectangle may run
// off the edge of the plane; those pixels are zero. Safe for
// concurrent use.
func (r *Reader) ReadRegion(level, c int, rect image.Rectangle) (*image.Gray16, error) {
	if err := r.checkIndex(level, c); err != nil {
		return nil, err
	}
	dst := image.NewGray16(rect)
	if err := r.Pyramid[level][c].readRegion(r.src, dst); err != nil {
		return nil, fmt.Errorf("level %d channel %d: %w", level, c, err)
	}
	return dst, nil
}
