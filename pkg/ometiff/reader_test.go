package ometiff

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestReadStripsBigEndian(t *testing.T) {
	img := pattern(5, 3, 0, 4000)

	for _, predict := range []bool{false, true} {
		r, err := NewReader(bytes.NewReader(stripTIFF(img, predict)))
		require.NoError(t, err)

		assert.Equal(t, 1, r.NumChannels())
		assert.Equal(t, 1, r.NumLevels())
		assert.Equal(t, 16, r.BitsPerSample())
		assert.Equal(t, 1.0, r.PixelSize, "no OME-XML, no pixel size")
		assert.False(t, r.Pyramid[0][0].Tiled)

		got, err := r.ReadLevelChannel(0, 0)
		require.NoError(t, err)
		assertSamePixels(t, img, got, "predict", predict)
	}
}

func TestReadRegionOffTheEdge(t *testing.T) {
	img := pattern(5, 3, 0, 4000)
	r, err := NewReader(bytes.NewReader(stripTIFF(img, false)))
	require.NoError(t, err)

	rect := image.Rect(3, 1, 8, 6)
	got, err := r.ReadRegion(0, 0, rect)
	require.NoError(t, err)
	assert.Equal(t, rect, got.Bounds())

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			want := uint16(0)
			if (image.Point{x, y}).In(img.Bounds()) {
				want = img.Gray16At(x, y).Y
			}
			assert.Equal(t, want, got.Gray16At(x, y).Y, "(%d,%d)", x, y)
		}
	}

	_, err = r.ReadRegion(1, 0, rect)
	assert.Error(t, err)
	_, err = r.ReadRegion(0, 1, rect)
	assert.Error(t, err)
}

func TestReadXImageTIFF(t *testing.T) {
	img := pattern(70, 45, 2, 65535)

	for _, comp := range []tiff.CompressionType{tiff.Uncompressed, tiff.Deflate} {
		var buf bytes.Buffer
		require.NoError(t, tiff.Encode(&buf, img, &tiff.Options{Compression: comp}))

		r, err := NewReader(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)

		got, err := r.ReadLevelChannel(0, 0)
		require.NoError(t, err)
		assertSamePixels(t, img, got, "compression", comp)
	}
}

func TestReadRejectsUnsupported(t *testing.T) {
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, rgba, nil))

	_, err := NewReader(bytes.NewReader(buf.Bytes()))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewReader(bytes.NewReader([]byte("PK\x03\x04 not a tiff")))
	assert.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "nope.ome.tiff"))
	assert.Error(t, err)
}

func TestReadIFDChainLoop(t *testing.T) {
	b := stripTIFF(pattern(2, 2, 0, 100), false)
	// Point the IFD's next pointer back at itself
	nextPos := 8 + 2 + 8*12
	b[nextPos+3] = 8

	_, err := NewReader(bytes.NewReader(b))
	assert.ErrorContains(t, err, "loops")
}

func TestThumbnailLevelOfSize(t *testing.T) {
	r := &Reader{Pyramid: [][]*Page{
		{{Width: 8000, Height: 6000}},
		{{Width: 2000, Height: 1500}},
		{{Width: 500, Height: 375}},
		{{Width: 125, Height: 94}},
	}}

	assert.Equal(t, 0, r.ThumbnailLevelOfSize(10000))
	assert.Equal(t, 1, r.ThumbnailLevelOfSize(1300))
	assert.Equal(t, 2, r.ThumbnailLevelOfSize(1000))
	assert.Equal(t, 3, r.ThumbnailLevelOfSize(1))
}

func TestOpenFile(t *testing.T) {
	img := pattern(5, 3, 0, 4000)
	filename := filepath.Join(t.TempDir(), "strips.tif")
	require.NoError(t, os.WriteFile(filename, stripTIFF(img, false), 0644))

	r, err := Open(filename)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, filename, r.Filename)
	assert.Contains(t, r.String(), "strips.tif")
	assert.Equal(t, image.Point{5, 3}, r.LevelSize(0))
}
