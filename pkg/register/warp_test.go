package register

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

func TestGrayPlaneReadRegion(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	img.SetGray16(3, 3, color.Gray16{77})
	img.SetGray16(0, 0, color.Gray16{11})

	got, err := GrayPlane{img}.ReadRegion(image.Rect(2, 2, 6, 6))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(2, 2, 6, 6), got.Bounds())
	assert.Equal(t, uint16(77), got.Gray16At(3, 3).Y)
	assert.Equal(t, uint16(0), got.Gray16At(5, 5).Y)
}

func TestInterpolator(t *testing.T) {
	for _, name := range []string{"nearest", "bilinear", "catmullrom", ""} {
		interp, err := Interpolator(name)
		assert.NoError(t, err)
		assert.NotNil(t, interp)
	}
	_, err := Interpolator("lanczos")
	assert.Error(t, err)
}

func TestBlockAffineTransformOutsideIsZero(t *testing.T) {
	moving := image.NewGray16(image.Rect(0, 0, 50, 50))
	draw.Draw(moving, moving.Bounds(), image.NewUniform(color.Gray16{1000}), image.Point{}, draw.Src)

	size := image.Point{100, 80}
	mxs := make([]emath.Aff3, 4)
	for i := range mxs {
		mxs[i] = emath.Identity()
	}

	out, err := BlockAffineTransform(size, GrayPlane{moving}, mxs, 50, draw.NearestNeighbor, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rectangle{Max: size}, out.Bounds())
	assert.Equal(t, uint16(1000), out.Gray16At(10, 10).Y)
	assert.Equal(t, uint16(1000), out.Gray16At(49, 49).Y)
	assert.Equal(t, uint16(0), out.Gray16At(60, 10).Y)
	assert.Equal(t, uint16(0), out.Gray16At(10, 70).Y)
}

func TestBlockAffineTransformMatrixCount(t *testing.T) {
	moving := image.NewGray16(image.Rect(0, 0, 10, 10))
	_, err := BlockAffineTransform(image.Point{100, 100}, GrayPlane{moving}, []emath.Aff3{emath.Identity()}, 50, draw.BiLinear, 1)
	assert.Error(t, err)
}

func TestBlockAffineTransformPerBlock(t *testing.T) {
	s := newScene(5, 100, image.Rect(-30, -30, 230, 130))
	size := image.Point{200, 100}
	ref := s.render(size, image.Point{0, 0})

	// Left half of moving is the scene shifted one way, right half the other
	left := s.render(size, image.Point{-3, 0})
	right := s.render(size, image.Point{0, 2})
	moving := image.NewGray16(image.Rectangle{Max: size})
	draw.Draw(moving, image.Rect(0, 0, 100, 100), left, image.Point{}, draw.Src)
	draw.Draw(moving, image.Rect(100, 0, 200, 100), right, image.Point{100, 0}, draw.Src)

	// moving(p) = ref(p - d), so ref(p) = moving(p + d)
	mxs := []emath.Aff3{
		emath.Identity().Translate(3, 0),
		emath.Identity().Translate(0, -2),
	}
	out, err := BlockAffineTransform(size, GrayPlane{moving}, mxs, 100, draw.NearestNeighbor, 2)
	require.NoError(t, err)

	for y := 5; y < 95; y++ {
		for x := 5; x < 95; x++ {
			require.Equal(t, ref.Gray16At(x, y), out.Gray16At(x, y), "(%d,%d)", x, y)
		}
		for x := 105; x < 195; x++ {
			require.Equal(t, ref.Gray16At(x, y), out.Gray16At(x, y), "(%d,%d)", x, y)
		}
	}
}
