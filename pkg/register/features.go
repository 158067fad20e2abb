package register

import (
	"image"
	"math"
	"sort"

	"github.com/codahale/hdrhistogram"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

const (
	descRadius = 8 // descriptors sample a (2*descRadius+1) square around the keypoint
	descStep   = 2
	descDim    = (2*descRadius/descStep + 1) * (2*descRadius/descStep + 1)
	nmsRadius  = 3
)

type Keypoint struct {
	X, Y     int
	Response float64
	Desc     []float64
}

// A Match pairs a keypoint in the reference thumbnail with one in the
// moving thumbnail.
type Match struct {
	Ref, Moving Keypoint
	Dist        float64
}

// ContrastStretch converts a thumbnail into floats, clipping at the
// 0.5 and 99.5 percentiles and scaling into [0,1]. It copes with
// slides that are mostly dark background with a few bright cells.
func ContrastStretch(img *image.Gray16) emath.FloatGrid {
	fg := emath.NewFloatGridFromGray16(img)

	// The histogram can't track zero, so everything is recorded one up
	hist := hdrhistogram.New(1, 0x10000, 3)
	for _, v := range fg.Values() {
		hist.RecordValue(int64(v) + 1)
	}
	lo := float64(hist.ValueAtQuantile(0.5) - 1)
	hi := float64(hist.ValueAtQuantile(99.5) - 1)
	if hi <= lo {
		lo, hi = float64(hist.Min()-1), float64(hist.Max()-1)
	}

	fg.Normalize(lo, hi)
	return fg
}

// DetectKeypoints finds up to n Shi-Tomasi corners, strongest first.
// A corner must be the maximum of its neighbourhood, and be at least
// 1% as strong as the strongest corner.
func DetectKeypoints(fg emath.FloatGrid, n int) []Keypoint {
	w, h := fg.Dx(), fg.Dy()
	gx, gy := fg.Gradients()

	ixx, iyy, ixy := emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h), emath.NewFloatGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := gx.Get(x, y), gy.Get(x, y)
			ixx.Set(x, y, dx*dx)
			iyy.Set(x, y, dy*dy)
			ixy.Set(x, y, dx*dy)
		}
	}
	// Two passes of the 3-tap blur is close enough to a 5x5 gaussian window
	ixx, iyy, ixy = ixx.GaussianBlur().GaussianBlur(), iyy.GaussianBlur().GaussianBlur(), ixy.GaussianBlur().GaussianBlur()

	resp := emath.NewFloatGrid(w, h)
	maxResp := 0.0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a, c, b := ixx.Get(x, y), iyy.Get(x, y), ixy.Get(x, y)
			lambdaMin := (a+c)/2 - math.Sqrt((a-c)*(a-c)/4+b*b)
			resp.Set(x, y, lambdaMin)
			if lambdaMin > maxResp {
				maxResp = lambdaMin
			}
		}
	}
	if maxResp <= 0 {
		return nil
	}

	kps := []Keypoint{}
	threshold := 0.01 * maxResp
	for y := descRadius; y < h-descRadius; y++ {
		for x := descRadius; x < w-descRadius; x++ {
			v := resp.Get(x, y)
			if v < threshold || !isLocalMax(&resp, x, y, v) {
				continue
			}
			kps = append(kps, Keypoint{X: x, Y: y, Response: v})
		}
	}

	sort.Slice(kps, func(i, j int) bool { return kps[i].Response > kps[j].Response })
	if len(kps) > n {
		kps = kps[:n]
	}
	for i := range kps {
		kps[i].Desc = describe(fg, kps[i].X, kps[i].Y)
	}
	return kps
}

// Ties go to the pixel that comes first, so a flat plateau yields one corner
func isLocalMax(resp *emath.FloatGrid, x, y int, v float64) bool {
	for dy := -nmsRadius; dy <= nmsRadius; dy++ {
		for dx := -nmsRadius; dx <= nmsRadius; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := resp.GetClamped(x+dx, y+dy)
			if n > v || (n == v && (dy < 0 || (dy == 0 && dx < 0))) {
				return false
			}
		}
	}
	return true
}

// describe samples a patch around (x,y), normalised to zero mean and
// unit length, so that the descriptors of two images with different
// stains can still be compared.
func describe(fg emath.FloatGrid, x, y int) []float64 {
	d := make([]float64, 0, descDim)
	sum := 0.0
	for dy := -descRadius; dy <= descRadius; dy += descStep {
		for dx := -descRadius; dx <= descRadius; dx += descStep {
			v := fg.GetClamped(x+dx, y+dy)
			d = append(d, v)
			sum += v
		}
	}
	mean := sum / float64(len(d))
	norm := 0.0
	for i := range d {
		d[i] -= mean
		norm += d[i] * d[i]
	}
	if norm = math.Sqrt(norm); norm > 0 {
		for i := range d {
			d[i] /= norm
		}
	}
	return d
}

func descDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// nearest returns the index of the closest and the second closest
// distance, among the candidates.
func nearest(d []float64, cands []Keypoint) (int, float64, float64) {
	best, d1, d2 := -1, math.MaxFloat64, math.MaxFloat64
	for i := range cands {
		dist := descDist(d, cands[i].Desc)
		if dist < d1 {
			best, d1, d2 = i, dist, d1
		} else if dist < d2 {
			d2 = dist
		}
	}
	return best, d1, d2
}

// MatchKeypoints pairs keypoints that are each other's nearest
// neighbour, and whose nearest neighbour is clearly closer than the
// runner up (Lowe's ratio test, on distances).
func MatchKeypoints(ref, moving []Keypoint, ratio float64, nWorkers int) []Match {
	if len(ref) == 0 || len(moving) == 0 {
		return nil
	}

	fwd := make([]int, len(ref))
	fwdOK := make([]bool, len(ref))
	back := make([]int, len(moving))

	parallelFor(len(ref), nWorkers, func(i int) {
		j, d1, d2 := nearest(ref[i].Desc, moving)
		fwd[i] = j
		fwdOK[i] = d2 == math.MaxFloat64 || math.Sqrt(d1) < ratio*math.Sqrt(d2)
	})
	parallelFor(len(moving), nWorkers, func(j int) {
		back[j], _, _ = nearest(moving[j].Desc, ref)
	})

	matches := []Match{}
	for i, j := range fwd {
		if fwdOK[i] && back[j] == i {
			matches = append(matches, Match{Ref: ref[i], Moving: moving[j], Dist: descDist(ref[i].Desc, moving[j].Desc)})
		}
	}
	return matches
}
