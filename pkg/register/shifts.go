package register

import (
	"fmt"
	"image"
	"log"
	"math"
	"sort"
	"sync"

	"github.com/skypies/util/histogram"
	"golang.org/x/image/draw"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

// A Block is a square of the reference image, and the translation that
// fine tunes the coarse affine over it: reference point p lands on the
// moving image at CoarseAffine(p + shift).
type Block struct {
	Rect      image.Rectangle
	ShiftX    float64
	ShiftY    float64
	PeakRatio float64
	Valid     bool
}

func (b Block) String() string {
	str := fmt.Sprintf("Block[%v (%6.2f,%6.2f) peak:%.1f", b.Rect.Min, b.ShiftX, b.ShiftY, b.PeakRatio)
	if !b.Valid {
		str += " INVALID"
	}
	return str + "]"
}

func (b Block) magnitude() float64 { return math.Hypot(b.ShiftX, b.ShiftY) }

// blockGrid cuts a plane into blockSize squares, row-major; the last
// row and column may be smaller.
func blockGrid(bounds image.Rectangle, blockSize int) ([]image.Rectangle, int, int) {
	across := (bounds.Dx() + blockSize - 1) / blockSize
	down := (bounds.Dy() + blockSize - 1) / blockSize
	rects := make([]image.Rectangle, 0, across*down)
	for by := 0; by < down; by++ {
		for bx := 0; bx < across; bx++ {
			r := image.Rect(bx*blockSize, by*blockSize, (bx+1)*blockSize, (by+1)*blockSize)
			rects = append(rects, r.Add(bounds.Min).Intersect(bounds))
		}
	}
	return rects, across, down
}

// movingRegion is the part of the moving image that `m` maps the
// reference rectangle r onto, padded for the interpolation kernel.
func movingRegion(r image.Rectangle, m emath.Aff3, pad int) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range []image.Point{r.Min, {r.Max.X, r.Min.Y}, {r.Min.X, r.Max.Y}, r.Max} {
		x, y := m.Apply(float64(p.X), float64(p.Y))
		minX, minY = math.Min(minX, x), math.Min(minY, y)
		maxX, maxY = math.Max(maxX, x), math.Max(maxY, y)
	}
	return image.Rect(int(math.Floor(minX))-pad, int(math.Floor(minY))-pad,
		int(math.Ceil(maxX))+pad, int(math.Ceil(maxY))+pad)
}

// warpBlock fills dst (whose bounds are in reference coordinates) with
// the moving image, mapped through m. Reference pixels that land
// outside the moving image stay zero.
func warpBlock(dst *image.Gray16, moving Plane, m emath.Aff3, interp draw.Interpolator) error {
	region := movingRegion(dst.Bounds(), m, 3).Intersect(moving.Bounds().Inset(-3))
	if region.Empty() {
		return nil
	}
	src, err := moving.ReadRegion(region)
	if err != nil {
		return err
	}
	inv, err := m.Invert()
	if err != nil {
		return err
	}
	interp.Transform(dst, f64Aff3(inv), src, src.Bounds(), draw.Src, nil)
	return nil
}

type shiftJob struct {
	// Inputs
	Index int
	Rect  image.Rectangle

	// Outputs
	Block Block
	Err   error
}

// ComputeShifts runs phase correlation on each block of the reference
// image against the coarsely aligned moving image, using a pool of
// goroutines.
func (a *Aligner) ComputeShifts() error {
	if !a.coarseDone {
		return fmt.Errorf("ComputeShifts needs CoarseRegisterAffine to have run")
	}
	cfg := a.Config.WithDefaults()

	rects, across, down := blockGrid(a.RefImg.Bounds(), cfg.BlockSize)
	a.Blocks = make([]Block, len(rects))
	a.BlocksAcross, a.BlocksDown = across, down

	var wg sync.WaitGroup
	jobsChan := make(chan shiftJob, len(rects))
	resultsChan := make(chan shiftJob, len(rects))

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			correlators := map[image.Point]*phaseCorrelator{}
			for job := range jobsChan {
				job.Block, job.Err = a.shiftForBlock(job.Rect, cfg, correlators)
				resultsChan <- job
			}
		}()
	}

	for i, r := range rects {
		jobsChan <- shiftJob{Index: i, Rect: r}
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	var firstErr error
	nValid := 0
	for result := range resultsChan {
		if result.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("block %v: %w", result.Rect, result.Err)
		}
		a.Blocks[result.Index] = result.Block
		if result.Block.Valid {
			nValid++
		}
		if cfg.Verbosity > 1 {
			log.Printf(" -- %s\n", result.Block)
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if cfg.Verbosity > 0 {
		log.Printf("Fine: %d of %d blocks have a clear phase correlation peak\n", nValid, len(rects))
	}
	return nil
}

func (a *Aligner) shiftForBlock(r image.Rectangle, cfg Config, correlators map[image.Point]*phaseCorrelator) (Block, error) {
	b := Block{Rect: r}

	refImg, err := a.RefImg.ReadRegion(r)
	if err != nil {
		return b, err
	}
	warped := image.NewGray16(r)
	if err := warpBlock(warped, a.MovingImg, a.CoarseAffine, draw.BiLinear); err != nil {
		return b, err
	}

	sz := r.Size()
	pc, exists := correlators[sz]
	if !exists {
		pc = newPhaseCorrelator(sz.X, sz.Y)
		correlators[sz] = pc
	}

	ref := emath.NewFloatGridFromGray16(refImg)
	mov := emath.NewFloatGridFromGray16(warped)
	b.ShiftX, b.ShiftY, b.PeakRatio = pc.Correlate(&ref, &mov)

	// A shift of more than half the block is indistinguishable from wrap around
	tooFar := math.Abs(b.ShiftX) >= float64(sz.X)/2 || math.Abs(b.ShiftY) >= float64(sz.Y)/2
	b.Valid = b.PeakRatio >= cfg.MinPeakRatio && !tooFar
	return b, nil
}

// ConstrainShifts throws out shifts that can't be trusted: blocks with a
// weak correlation peak, and blocks whose shift is much larger than is
// typical (beyond the median plus three robust standard deviations).
// Their shifts are replaced by the median of their valid neighbours,
// or of all valid blocks if there are no valid neighbours, or zero if
// there are no valid blocks at all.
func (a *Aligner) ConstrainShifts() {
	cfg := a.Config.WithDefaults()

	mags := []float64{}
	for _, b := range a.Blocks {
		if b.Valid {
			mags = append(mags, b.magnitude())
		}
	}
	if len(mags) > 0 {
		med := median(mags)
		devs := make([]float64, len(mags))
		for i, m := range mags {
			devs[i] = math.Abs(m - med)
		}
		// Shifts are sub-pixel, so don't get fussier than a pixel
		limit := med + math.Max(3*1.4826*median(devs), 1)
		for i := range a.Blocks {
			if a.Blocks[i].Valid && a.Blocks[i].magnitude() > limit {
				a.Blocks[i].Valid = false
			}
		}
	}

	globalX, globalY := []float64{}, []float64{}
	for _, b := range a.Blocks {
		if b.Valid {
			globalX = append(globalX, b.ShiftX)
			globalY = append(globalY, b.ShiftY)
		}
	}

	fixed := make([]Block, len(a.Blocks))
	copy(fixed, a.Blocks)
	nFixed := 0
	for i, b := range a.Blocks {
		if b.Valid {
			continue
		}
		nFixed++
		bx, by := i%a.BlocksAcross, i/a.BlocksAcross
		xs, ys := []float64{}, []float64{}
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := bx+dx, by+dy
				if nx < 0 || ny < 0 || nx >= a.BlocksAcross || ny >= a.BlocksDown {
					continue
				}
				if n := a.Blocks[ny*a.BlocksAcross+nx]; n.Valid {
					xs = append(xs, n.ShiftX)
					ys = append(ys, n.ShiftY)
				}
			}
		}
		if len(xs) == 0 {
			xs, ys = globalX, globalY
		}
		fixed[i].ShiftX, fixed[i].ShiftY = 0, 0
		if len(xs) > 0 {
			fixed[i].ShiftX, fixed[i].ShiftY = median(xs), median(ys)
		}
	}
	a.Blocks = fixed

	if cfg.Verbosity > 0 {
		log.Printf("Fine: replaced the shifts of %d of %d blocks\n", nFixed, len(a.Blocks))
		log.Printf("Fine: shift magnitudes, in tenths of a pixel: %v\n", shiftHistogram(mags))
	}
}

func shiftHistogram(mags []float64) *histogram.Histogram {
	h := histogram.Histogram{NumBuckets: 40, ValMin: 0, ValMax: 400}
	for _, m := range mags {
		h.Add(histogram.ScalarVal(int(math.Min(m*10, 399))))
	}
	return &h
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
