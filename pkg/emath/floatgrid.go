package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a grid of floats, with some operations. Registration
// does all of its arithmetic on these, rather than on the raw samples.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

func (g1 *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Values() []float64       { return fg.values }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

// GetClamped treats the grid as extending its edge values forever
func (fg *FloatGrid) GetClamped(x, y int) float64 {
	return fg.Get(IntMin(IntMax(x, 0), fg.Dx()-1), IntMin(IntMax(y, 0), fg.Dy()-1))
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// NewFloatGridFromGray16 copies the raw sample values out of img.
func NewFloatGridFromGray16(img *image.Gray16) FloatGrid {
	b := img.Bounds()
	fg := NewFloatGrid(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			fg.Set(x, y, float64(img.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
		}
	}
	return fg
}

// ToGray16 rounds and clamps the grid values into [0,0xFFFF].
func (fg *FloatGrid) ToGray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, fg.Dx(), fg.Dy()))
	for y := 0; y < fg.Dy(); y++ {
		for x := 0; x < fg.Dx(); x++ {
			v := Clamp(math.Round(fg.Get(x, y)), 0, 0xFFFF)
			img.SetGray16(x, y, color.Gray16{uint16(v)})
		}
	}
	return img
}

// Crop returns a copy of the values inside r, which is clipped to the grid.
func (fg *FloatGrid) Crop(r image.Rectangle) FloatGrid {
	r = r.Intersect(image.Rect(0, 0, fg.Dx(), fg.Dy()))
	out := NewFloatGrid(r.Dx(), r.Dy())
	for y := 0; y < r.Dy(); y++ {
		copy(out.values[y*out.stride:(y+1)*out.stride], fg.values[(r.Min.Y+y)*fg.stride+r.Min.X:])
	}
	return out
}

func (g1 FloatGrid) GaussianBlur() FloatGrid {
	width := g1.Dx()
	height := g1.Dy()
	g2 := g1.NewFromThis()
	if width < 2 || height < 2 {
		copy(g2.values, g1.values)
		return g2
	}

	T := g1.NewFromThis()

	//--- X blur, build up in T
	for y := 0; y < height; y++ {
		for x := 1; x < width-1; x++ {
			t := 2.0 * g1.Get(x, y)
			t += g1.Get(x-1, y)
			t += g1.Get(x+1, y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y, (3.0*g1.Get(0, y)+g1.Get(1, y))/4.0)
		T.Set(width-1, y, (3.0*g1.Get(width-1, y)+g1.Get(width-2, y))/4.0)
	}

	//--- Y blur, read from T and generate output
	for x := 0; x < width; x++ {
		for y := 1; y < height-1; y++ {
			t := 2.0 * T.Get(x, y)
			t += T.Get(x, y-1)
			t += T.Get(x, y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0, (3.0*T.Get(x, 0)+T.Get(x, 1))/4.0)
		g2.Set(x, height-1, (3.0*T.Get(x, height-1)+T.Get(x, height-2))/4.0)
	}

	return g2
}

// Gradients returns the central-difference derivatives in x and y.
// The edges reuse the edge value, so gradients there are halved.
func (H *FloatGrid) Gradients() (FloatGrid, FloatGrid) {
	gx, gy := H.NewFromThis(), H.NewFromThis()
	for y := 0; y < H.Dy(); y++ {
		for x := 0; x < H.Dx(); x++ {
			gx.Set(x, y, (H.GetClamped(x+1, y)-H.GetClamped(x-1, y))/2.0)
			gy.Set(x, y, (H.GetClamped(x, y+1)-H.GetClamped(x, y-1))/2.0)
		}
	}
	return gx, gy
}

// DownSample returns a grid that is 1/4 of the size, averaging the values from the
// original.
func (g1 *FloatGrid) DownSample() FloatGrid {
	width := g1.Dx() / 2
	height := g1.Dy() / 2
	g2 := NewFloatGrid(width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := g1.Get(2*x, 2*y)
			p += g1.Get(2*x+1, 2*y)
			p += g1.Get(2*x, 2*y+1)
			p += g1.Get(2*x+1, 2*y+1)
			g2.Set(x, y, p/4.0)
		}
	}

	return g2
}

// Normalize linearly maps [lo,hi] onto [0,1], clamping outside values.
func (fg *FloatGrid) Normalize(lo, hi float64) {
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	for i := range fg.values {
		fg.values[i] = Clamp((fg.values[i]-lo)/span, 0, 1)
	}
}

func (fg *FloatGrid) MeanStdDev() (float64, float64) {
	if len(fg.values) == 0 {
		return 0, 0
	}
	sum, sumSq := 0.0, 0.0
	for _, v := range fg.values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(fg.values))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

func (I *FloatGrid) FindMaxMinLumAtPercentile(minPrct, maxPrct float64) (float64, float64) {
	vI := []float64{}

	for i := 0; i < len(I.values); i++ {
		if val := I.values[i]; val != 0.0 {
			vI = append(vI, val)
		}
	}
	if len(vI) == 0 {
		return 0, 0
	}

	sort.Float64s(vI)

	iMin := int(minPrct * float64(len(vI)))
	iMax := int(maxPrct * float64(len(vI)))
	if iMin < 0 {
		iMin = 0
	}
	if iMax >= len(vI) {
		iMax = len(vI) - 1
	}

	return vI[iMin], vI[iMax]
}

func (fg *FloatGrid) Stats() string {
	min := math.MaxFloat64
	max := -1.0 * min

	for i := 0; i < len(fg.values); i++ {
		if fg.values[i] > max {
			max = fg.values[i]
		}
		if fg.values[i] < min {
			min = fg.values[i]
		}
	}
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, based on the range of values in the grid, and gamma scaling the
// gray to look normal for human vision
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := math.MaxFloat64, -math.MaxFloat64
	for i := 0; i < len(fg.values); i++ {
		if fg.values[i] > max {
			max = fg.values[i]
		}
		if fg.values[i] < min {
			min = fg.values[i]
		}
	}
	if max <= min {
		max = min + 1
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			lum := fg.Get(x, y)
			gray := GammaExpand_F64((lum - min) / (max - min))
			col := color.RGBA64{uint16(gray * 65535.0), uint16(gray * 65535.0), uint16(gray * 65535.0), 0xFFFF}
			img.Set(x, y, col)
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0, 1)
	dc.DrawString(title, 20, 20)
	return dc.SavePNG(filename)
}
