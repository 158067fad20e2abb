package comet

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/abworrall/comet-fixer/pkg/ometiff"
)

// A Layer is one of the input pyramids.
type Layer struct {
	LoadFilename string
	*ometiff.Reader
}

func (l Layer) String() string {
	return fmt.Sprintf("%s: %d channels, %d bit, %v, %d levels, pixel %.4fum",
		l.Filename(), l.NumChannels(), l.BitsPerSample(), l.LevelSize(0), l.NumLevels(), l.PixelSize)
}

func (l Layer) Filename() string {
	return filepath.Base(l.LoadFilename)
}

func loadLayer(filename string) (Layer, error) {
	r, err := ometiff.Open(filename)
	if err != nil {
		return Layer{}, err
	}
	return Layer{LoadFilename: filename, Reader: r}, nil
}

// Thumbnail reads a channel at the level closest to `size` pixels
// across, and returns it with the level's downsample factor.
func (l Layer) Thumbnail(size, c int) (*image.Gray16, float64, error) {
	level := l.ThumbnailLevelOfSize(size)
	img, err := l.ReadLevelChannel(level, c)
	if err != nil {
		return nil, 0, fmt.Errorf("%s thumbnail: %w", l.Filename(), err)
	}
	return img, l.LevelDownsamples[level] / l.LevelDownsamples[0], nil
}

// plane exposes one full resolution channel of a layer for registration
type plane struct {
	r *ometiff.Reader
	c int
}

func (p plane) Bounds() image.Rectangle {
	return image.Rectangle{Max: p.r.LevelSize(0)}
}

func (p plane) ReadRegion(r image.Rectangle) (*image.Gray16, error) {
	return p.r.ReadRegion(0, p.c, r)
}
