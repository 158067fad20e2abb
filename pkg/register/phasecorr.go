package register

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

// A phaseCorrelator finds the translation between two same-sized
// grids. It holds FFT plans and scratch space, so each goroutine
// needs its own.
type phaseCorrelator struct {
	w, h          int
	rowFFT        *fourier.CmplxFFT
	colFFT        *fourier.CmplxFFT
	winX, winY    []float64
	a, b          []complex128
	rowIn, rowOut []complex128
	colIn, colOut []complex128
}

func newPhaseCorrelator(w, h int) *phaseCorrelator {
	return &phaseCorrelator{
		w:      w,
		h:      h,
		rowFFT: fourier.NewCmplxFFT(w),
		colFFT: fourier.NewCmplxFFT(h),
		winX:   hann(w),
		winY:   hann(h),
		a:      make([]complex128, w*h),
		b:      make([]complex128, w*h),
		rowIn:  make([]complex128, w),
		rowOut: make([]complex128, w),
		colIn:  make([]complex128, h),
		colOut: make([]complex128, h),
	}
}

func hann(n int) []float64 {
	win := make([]float64, n)
	if n == 1 {
		win[0] = 1
		return win
	}
	for i := range win {
		win[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// load puts the mean-subtracted, windowed grid into dst
func (pc *phaseCorrelator) load(dst []complex128, fg *emath.FloatGrid) {
	mean, _ := fg.MeanStdDev()
	for y := 0; y < pc.h; y++ {
		for x := 0; x < pc.w; x++ {
			dst[y*pc.w+x] = complex((fg.Get(x, y)-mean)*pc.winX[x]*pc.winY[y], 0)
		}
	}
}

// fft2 transforms data in place, rows then columns. The inverse is
// left unnormalised.
func (pc *phaseCorrelator) fft2(data []complex128, inverse bool) {
	for y := 0; y < pc.h; y++ {
		copy(pc.rowIn, data[y*pc.w:(y+1)*pc.w])
		if inverse {
			pc.rowFFT.Sequence(pc.rowOut, pc.rowIn)
		} else {
			pc.rowFFT.Coefficients(pc.rowOut, pc.rowIn)
		}
		copy(data[y*pc.w:], pc.rowOut)
	}
	for x := 0; x < pc.w; x++ {
		for y := 0; y < pc.h; y++ {
			pc.colIn[y] = data[y*pc.w+x]
		}
		if inverse {
			pc.colFFT.Sequence(pc.colOut, pc.colIn)
		} else {
			pc.colFFT.Coefficients(pc.colOut, pc.colIn)
		}
		for y := 0; y < pc.h; y++ {
			data[y*pc.w+x] = pc.colOut[y]
		}
	}
}

// Correlate returns the shift d such that moving(p) ~= ref(p-d), and
// how far the correlation peak stands above the rest of the surface,
// in standard deviations. Featureless input has a ratio of zero.
func (pc *phaseCorrelator) Correlate(ref, moving *emath.FloatGrid) (float64, float64, float64) {
	pc.load(pc.a, moving)
	pc.load(pc.b, ref)
	pc.fft2(pc.a, false)
	pc.fft2(pc.b, false)

	const eps = 1e-12
	for i := range pc.a {
		cross := pc.a[i] * cmplx.Conj(pc.b[i])
		if mag := cmplx.Abs(cross); mag > eps {
			pc.a[i] = cross / complex(mag, 0)
		} else {
			pc.a[i] = 0
		}
	}
	pc.fft2(pc.a, true)

	surface := emath.NewFloatGrid(pc.w, pc.h)
	peakX, peakY, peak := 0, 0, math.Inf(-1)
	for y := 0; y < pc.h; y++ {
		for x := 0; x < pc.w; x++ {
			v := real(pc.a[y*pc.w+x])
			surface.Set(x, y, v)
			if v > peak {
				peakX, peakY, peak = x, y, v
			}
		}
	}

	mean, sd := surface.MeanStdDev()
	if sd <= 0 {
		return 0, 0, 0
	}
	ratio := (peak - mean) / sd

	at := func(x, y int) float64 {
		return surface.Get((x+pc.w)%pc.w, (y+pc.h)%pc.h)
	}
	dx := float64(wrap(peakX, pc.w)) + subPixel(at(peakX-1, peakY), peak, at(peakX+1, peakY))
	dy := float64(wrap(peakY, pc.h)) + subPixel(at(peakX, peakY-1), peak, at(peakX, peakY+1))

	return dx, dy, ratio
}

// wrap maps an FFT index onto a signed shift
func wrap(i, n int) int {
	if i > n/2 {
		return i - n
	}
	return i
}

// subPixel fits a parabola through three samples around a peak
func subPixel(left, centre, right float64) float64 {
	denom := left - 2*centre + right
	if denom >= 0 {
		return 0
	}
	off := (left - right) / (2 * denom)
	return emath.Clamp(off, -0.5, 0.5)
}
