package register

import (
	"image"
	"image/color"
	"math/rand"

	"golang.org/x/image/draw"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

type sceneRect struct {
	r   image.Rectangle
	amp int
}

// A scene is a procedural test slide: overlapping rectangles of
// different brightness, plus a little deterministic noise. It is
// defined everywhere, so shifted copies can be rendered exactly.
type scene struct {
	rects []sceneRect
}

func newScene(seed int64, n int, span image.Rectangle) scene {
	rng := rand.New(rand.NewSource(seed))
	s := scene{}
	for i := 0; i < n; i++ {
		w, h := 10+rng.Intn(50), 10+rng.Intn(50)
		x := span.Min.X + rng.Intn(span.Dx())
		y := span.Min.Y + rng.Intn(span.Dy())
		s.rects = append(s.rects, sceneRect{image.Rect(x, y, x+w, y+h), 1000 + rng.Intn(5000)})
	}
	return s
}

func (s scene) at(x, y int) uint16 {
	v := int((uint32(x)*73856093 ^ uint32(y)*19349663) & 0xFF)
	p := image.Point{x, y}
	for _, r := range s.rects {
		if p.In(r.r) {
			v += r.amp
		}
	}
	if v > 0xFFFF {
		v = 0xFFFF
	}
	return uint16(v)
}

// render draws the scene as seen through a window whose top left
// corner is at `origin`.
func (s scene) render(size, origin image.Point) *image.Gray16 {
	img := image.NewGray16(image.Rectangle{Max: size})
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			img.SetGray16(x, y, color.Gray16{s.at(x+origin.X, y+origin.Y)})
		}
	}
	return img
}

// warp returns an image where dst(m(p)) = src(p)
func warp(src *image.Gray16, m emath.Aff3) *image.Gray16 {
	dst := image.NewGray16(src.Bounds())
	draw.CatmullRom.Transform(dst, f64Aff3(m), src, src.Bounds(), draw.Src, nil)
	return dst
}

func half(img *image.Gray16) *image.Gray16 {
	fg := emath.NewFloatGridFromGray16(img)
	small := fg.DownSample()
	return small.ToGray16()
}

func dist(m1, m2 emath.Aff3, x, y float64) float64 {
	x1, y1 := m1.Apply(x, y)
	x2, y2 := m2.Apply(x, y)
	dx, dy := x1-x2, y1-y2
	return dx*dx + dy*dy
}
