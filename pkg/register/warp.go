package register

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/sync/errgroup"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

func f64Aff3(m emath.Aff3) f64.Aff3 { return f64.Aff3(m) }

// Interpolator maps a name onto one of the x/image/draw kernels.
func Interpolator(name string) (draw.Interpolator, error) {
	switch name {
	case "nearest", "nearestneighbor":
		return draw.NearestNeighbor, nil
	case "", "bilinear", "linear":
		return draw.BiLinear, nil
	case "catmullrom", "cubic":
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("unknown interpolation '%s' (nearest, bilinear, catmullrom)", name)
}

// BlockAffineTransform warps one channel of the moving image into the
// reference frame. Each blockSize square of the output is warped with
// its own affine (see BlockAffineMatrices), reading just the part of
// the moving image it needs. Output pixels with no moving pixel behind
// them are zero.
func BlockAffineTransform(refSize image.Point, moving Plane, mxs []emath.Aff3, blockSize int, interp draw.Interpolator, nWorkers int) (*image.Gray16, error) {
	dst := image.NewGray16(image.Rectangle{Max: refSize})
	rects, _, _ := blockGrid(dst.Bounds(), blockSize)
	if len(rects) != len(mxs) {
		return nil, fmt.Errorf("%d block matrices for %d blocks", len(mxs), len(rects))
	}
	if nWorkers < 1 {
		nWorkers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(nWorkers)
	for i, r := range rects {
		i, r := i, r
		g.Go(func() error {
			// Blocks are disjoint, so they can share dst's pixels
			sub := dst.SubImage(r).(*image.Gray16)
			if err := warpBlock(sub, moving, mxs[i], interp); err != nil {
				return fmt.Errorf("block %v: %w", r, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}
