package register

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/abworrall/comet-fixer/pkg/emath"
)

// PlotMatchResult saves a PNG with the two thumbnails side by side, and
// a line joining each pair of inlier keypoints.
func (a *Aligner) PlotMatchResult(filename string) error {
	if !a.coarseDone {
		return fmt.Errorf("no match result to plot yet")
	}

	ref := ContrastStretch(a.RefThumbnail)
	moving := ContrastStretch(a.MovingThumbnail)

	w := ref.Dx() + moving.Dx()
	h := emath.IntMax(ref.Dy(), moving.Dy())
	dc := gg.NewContext(w, h)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.DrawImage(grayImage(ref), 0, 0)
	dc.DrawImage(grayImage(moving), ref.Dx(), 0)

	dc.SetLineWidth(1)
	for i, m := range a.Matches {
		// Spread the hues around the wheel so neighbouring lines can be told apart
		hue := float64((i * 137) % 360)
		dc.SetColor(colorful.Hsv(hue, 0.9, 1.0))
		x1, y1 := float64(m.Ref.X), float64(m.Ref.Y)
		x2, y2 := float64(m.Moving.X+ref.Dx()), float64(m.Moving.Y)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
		dc.DrawCircle(x1, y1, 2)
		dc.DrawCircle(x2, y2, 2)
		dc.Fill()
	}

	dc.SetRGB(1, 0, 1)
	dc.DrawString(fmt.Sprintf("%d inliers; %s", len(a.Matches), a.ThumbnailAffine), 10, 20)
	return dc.SavePNG(filename)
}

// grayImage renders a [0,1] grid as an 8 bit image
func grayImage(fg emath.FloatGrid) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, fg.Dx(), fg.Dy()))
	for y := 0; y < fg.Dy(); y++ {
		for x := 0; x < fg.Dx(); x++ {
			img.SetGray(x, y, color.Gray{uint8(emath.Clamp(fg.Get(x, y), 0, 1)*255 + 0.5)})
		}
	}
	return img
}
