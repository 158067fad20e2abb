package register

import (
	"image"

	"golang.org/x/image/draw"
)

// A Plane is one full resolution image channel that can be read a
// piece at a time. Coordinates are level 0 pixels, with the origin at
// the top left of the plane.
type Plane interface {
	Bounds() image.Rectangle
	ReadRegion(r image.Rectangle) (*image.Gray16, error)
}

// GrayPlane is a Plane that is already in memory.
type GrayPlane struct {
	*image.Gray16
}

// ReadRegion copies out the pixels inside r; anything outside the
// plane is zero.
func (p GrayPlane) ReadRegion(r image.Rectangle) (*image.Gray16, error) {
	dst := image.NewGray16(r)
	draw.Draw(dst, r, p.Gray16, r.Min, draw.Src)
	return dst, nil
}
