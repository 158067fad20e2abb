package register

import (
	"fmt"
	"image"
	"log"
	"math"

	"golang.org/x/image/draw"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

// NCC is the normalised cross correlation of two same sized grids,
// over the pixels where mask is true (all of them, if mask is nil).
// It is 1 for identical images, and around 0 for unrelated ones.
func NCC(g1, g2 *emath.FloatGrid, mask []bool) float64 {
	v1, v2 := g1.Values(), g2.Values()
	n, sum1, sum2 := 0.0, 0.0, 0.0
	for i := range v1 {
		if mask != nil && !mask[i] {
			continue
		}
		sum1 += v1[i]
		sum2 += v2[i]
		n++
	}
	if n == 0 {
		return 0
	}
	mean1, mean2 := sum1/n, sum2/n

	cov, var1, var2 := 0.0, 0.0, 0.0
	for i := range v1 {
		if mask != nil && !mask[i] {
			continue
		}
		d1, d2 := v1[i]-mean1, v2[i]-mean2
		cov += d1 * d2
		var1 += d1 * d1
		var2 += d2 * d2
	}
	if var1 == 0 || var2 == 0 {
		return 0
	}
	return cov / math.Sqrt(var1*var2)
}

// thumbnailNCC warps the moving thumbnail onto the reference thumbnail
// with m, and correlates the two where they overlap.
func (a *Aligner) thumbnailNCC(m emath.Aff3, name string) (float64, error) {
	ref := ContrastStretch(a.RefThumbnail)
	rb := a.RefThumbnail.Bounds()

	warped := image.NewGray16(image.Rect(0, 0, rb.Dx(), rb.Dy()))
	if err := warpBlock(warped, GrayPlane{a.MovingThumbnail}, m, draw.BiLinear); err != nil {
		return 0, err
	}
	moving := ContrastStretch(warped)

	mb := a.MovingThumbnail.Bounds()
	mask := make([]bool, rb.Dx()*rb.Dy())
	for y := 0; y < rb.Dy(); y++ {
		for x := 0; x < rb.Dx(); x++ {
			mx, my := m.Apply(float64(x)+0.5, float64(y)+0.5)
			mask[y*rb.Dx()+x] = mx >= float64(mb.Min.X) && my >= float64(mb.Min.Y) &&
				mx < float64(mb.Max.X) && my < float64(mb.Max.Y)
		}
	}

	if a.Config.Verbosity > 1 {
		diff := ref.NewFromThis()
		for y := 0; y < diff.Dy(); y++ {
			for x := 0; x < diff.Dx(); x++ {
				diff.Set(x, y, math.Abs(ref.Get(x, y)-moving.Get(x, y)))
			}
		}
		title := fmt.Sprintf("%s: %s", name, m)
		if err := diff.ToImg(title, fmt.Sprintf("diff-%s.png", name)); err != nil {
			log.Printf("diff image: %v\n", err)
		}
	}

	return NCC(&ref, &moving, mask), nil
}

// Quality measures how well the thumbnails line up, before
// registration (scaling only) and after the coarse affine.
func (a *Aligner) Quality() (float64, float64, error) {
	if !a.coarseDone {
		return 0, 0, fmt.Errorf("no registration to measure yet")
	}

	scaleOnly := emath.Identity().Scale(a.RefThumbnailDownFactor/a.MovingThumbnailDownFactor,
		a.RefThumbnailDownFactor/a.MovingThumbnailDownFactor)
	before, err := a.thumbnailNCC(scaleOnly, "before")
	if err != nil {
		return 0, 0, err
	}
	after, err := a.thumbnailNCC(a.ThumbnailAffine, "after")
	if err != nil {
		return 0, 0, err
	}
	return before, after, nil
}
