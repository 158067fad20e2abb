package register

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

// rotatedAligner has a moving image that is the reference, rotated a
// little and translated, with half size thumbnails of each.
func rotatedAligner(t *testing.T) (*Aligner, emath.Aff3) {
	t.Helper()
	s := newScene(21, 220, image.Rect(-40, -40, 560, 560))
	ref := s.render(image.Point{512, 512}, image.Point{0, 0})

	truth := emath.Identity().Translate(18, -11).Mult(emath.RotateAbout(1.5, 256, 256))
	moving := warp(ref, truth)

	return &Aligner{
		RefImg:                    GrayPlane{ref},
		MovingImg:                 GrayPlane{moving},
		RefThumbnail:              half(ref),
		MovingThumbnail:           half(moving),
		RefThumbnailDownFactor:    2,
		MovingThumbnailDownFactor: 2,
		Config:                    Config{BlockSize: 128, Workers: 4},
	}, truth
}

func TestCoarseRegisterAffine(t *testing.T) {
	a, truth := rotatedAligner(t)
	require.NoError(t, a.CoarseRegisterAffine(1000))

	assert.GreaterOrEqual(t, len(a.Matches), 3)
	for _, p := range [][2]float64{{100, 100}, {400, 150}, {256, 400}} {
		assert.Less(t, dist(a.CoarseAffine, truth, p[0], p[1]), 9.0, "at %v: %s vs %s", p, a.CoarseAffine, truth)
	}
	assert.Contains(t, a.String(), "inliers")

	before, after, err := a.Quality()
	require.NoError(t, err)
	assert.Greater(t, after, before)
	assert.Greater(t, after, 0.7)
}

func TestCoarseThenFine(t *testing.T) {
	a, truth := rotatedAligner(t)
	require.NoError(t, a.CoarseRegisterAffine(1000))
	require.NoError(t, a.ComputeShifts())
	a.ConstrainShifts()

	mxs := a.BlockAffineMatrices()
	require.Len(t, mxs, 16)

	// Every block's centre should land within a couple of pixels of the truth
	for i, m := range mxs {
		c := a.Blocks[i].Rect.Min.Add(a.Blocks[i].Rect.Size().Div(2))
		assert.Less(t, dist(m, truth, float64(c.X), float64(c.Y)), 4.0, "block %d %s", i, a.Blocks[i])
	}
}

func TestCoarseRegisterAffineFailures(t *testing.T) {
	a := &Aligner{}
	assert.Error(t, a.CoarseRegisterAffine(100), "no thumbnails")

	blank := image.NewGray16(image.Rect(0, 0, 64, 64))
	a = &Aligner{
		RefThumbnail:              blank,
		MovingThumbnail:           blank,
		RefThumbnailDownFactor:    1,
		MovingThumbnailDownFactor: 1,
	}
	assert.Error(t, a.CoarseRegisterAffine(100), "nothing to match")

	a.RefThumbnailDownFactor = 0
	assert.Error(t, a.CoarseRegisterAffine(100))

	_, _, err := a.Quality()
	assert.Error(t, err)
	assert.Error(t, a.PlotMatchResult(filepath.Join(t.TempDir(), "x.png")))
}

func TestPlotMatchResult(t *testing.T) {
	a, _ := rotatedAligner(t)
	require.NoError(t, a.CoarseRegisterAffine(500))

	filename := filepath.Join(t.TempDir(), "matches.png")
	require.NoError(t, a.PlotMatchResult(filename))

	st, err := os.Stat(filename)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(1000))
}

func TestNCC(t *testing.T) {
	g1 := emath.NewFloatGrid(4, 1)
	g2 := emath.NewFloatGrid(4, 1)
	for x, v := range []float64{1, 2, 3, 4} {
		g1.Set(x, 0, v)
		g2.Set(x, 0, 10-v)
	}
	assert.InDelta(t, 1.0, NCC(&g1, &g1, nil), 1e-9)
	assert.InDelta(t, -1.0, NCC(&g1, &g2, nil), 1e-9)
	assert.Equal(t, 0.0, NCC(&g1, &g2, []bool{false, false, false, false}))

	flat := emath.NewFloatGrid(4, 1)
	assert.Equal(t, 0.0, NCC(&g1, &flat, nil))
}
