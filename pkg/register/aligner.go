package register

// Two stage registration of a moving image onto a reference image:
// a coarse affine from feature matches between thumbnails, then a
// per-block translation from phase correlation at full resolution.

import (
	"fmt"
	"image"
	"log"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

type Aligner struct {
	RefImg    Plane
	MovingImg Plane

	RefThumbnail              *image.Gray16
	MovingThumbnail           *image.Gray16
	RefThumbnailDownFactor    float64
	MovingThumbnailDownFactor float64

	Config Config

	// Results of CoarseRegisterAffine. Both map reference coordinates
	// onto moving coordinates.
	ThumbnailAffine emath.Aff3
	CoarseAffine    emath.Aff3
	Matches         []Match // the RANSAC inliers
	coarseDone      bool

	// Results of ComputeShifts and ConstrainShifts
	Blocks       []Block
	BlocksAcross int
	BlocksDown   int
}

func (a *Aligner) String() string {
	str := fmt.Sprintf("Aligner[thumbs x%.2f/x%.2f", a.RefThumbnailDownFactor, a.MovingThumbnailDownFactor)
	if a.coarseDone {
		str += fmt.Sprintf(", coarse %s (%d inliers)", a.CoarseAffine, len(a.Matches))
	}
	if len(a.Blocks) > 0 {
		str += fmt.Sprintf(", %dx%d blocks", a.BlocksAcross, a.BlocksDown)
	}
	return str + "]"
}

// CoarseRegisterAffine estimates an affine transform between the two
// thumbnails from up to nKeypoints corner features in each, and scales
// it up to full resolution.
func (a *Aligner) CoarseRegisterAffine(nKeypoints int) error {
	cfg := a.Config.WithDefaults()
	if a.RefThumbnail == nil || a.MovingThumbnail == nil {
		return fmt.Errorf("coarse registration needs both thumbnails")
	}
	if a.RefThumbnailDownFactor <= 0 || a.MovingThumbnailDownFactor <= 0 {
		return fmt.Errorf("thumbnail down factors must be positive (%f, %f)",
			a.RefThumbnailDownFactor, a.MovingThumbnailDownFactor)
	}

	ref := ContrastStretch(a.RefThumbnail)
	ref = ref.GaussianBlur()
	moving := ContrastStretch(a.MovingThumbnail)
	moving = moving.GaussianBlur()

	refKps := DetectKeypoints(ref, nKeypoints)
	movingKps := DetectKeypoints(moving, nKeypoints)
	matches := MatchKeypoints(refKps, movingKps, cfg.RatioTest, cfg.Workers)

	if cfg.Verbosity > 0 {
		log.Printf("Coarse: %d ref keypoints, %d moving keypoints, %d matches\n",
			len(refKps), len(movingKps), len(matches))
	}

	thumbAffine, inliers, err := RansacAffine(matches, cfg.RansacIters, cfg.RansacTolerance)
	if err != nil {
		return fmt.Errorf("coarse registration: %w", err)
	}
	if len(inliers) < 3 {
		return fmt.Errorf("coarse registration: only %d inlier matches", len(inliers))
	}

	a.ThumbnailAffine = thumbAffine
	a.CoarseAffine = thumbAffine.Rescale(a.RefThumbnailDownFactor, a.MovingThumbnailDownFactor)
	a.Matches = inliers
	a.coarseDone = true

	if cfg.Verbosity > 0 {
		log.Printf("Coarse: %d inliers, thumbnail affine %s\n", len(inliers), thumbAffine)
		log.Printf("Coarse: full resolution affine %s\n", a.CoarseAffine)
	}
	return nil
}

// BlockAffineMatrices returns, for each block in row-major order, the
// affine that maps reference coordinates in that block onto the
// moving image. Before ComputeShifts, each is just the coarse affine.
func (a *Aligner) BlockAffineMatrices() []emath.Aff3 {
	mxs := make([]emath.Aff3, len(a.Blocks))
	for i, b := range a.Blocks {
		mxs[i] = a.CoarseAffine.Translate(b.ShiftX, b.ShiftY)
	}
	return mxs
}
