package emath

// Some basic affine transformations, used in image registration

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64" // Will be "image/math/f64" at some point, hopefully make this file redundant
)

// Use a local type so we can hang methods off it. The layout is row
// major: x' = m[0]*x + m[1]*y + m[2], y' = m[3]*x + m[4]*y + m[5]
type Aff3 f64.Aff3

// Cut-n-pasted from image@0.7.0/draw/scale:matMul
func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

func Identity() Aff3 {
	return Aff3{1, 0, 0, 0, 1, 0}
}

// Remember they compose back to front - rightmost operations performed first

func (m1 Aff3) Translate(tx, ty float64) Aff3 {
	return m1.Mult(Aff3{1, 0, tx, 0, 1, ty})
}

func (m1 Aff3) Rotate(thetaDeg float64) Aff3 {
	cosTheta := math.Cos(thetaDeg * math.Pi / 180.0)
	sinTheta := math.Sin(thetaDeg * math.Pi / 180.0)
	return m1.Mult(Aff3{cosTheta, -1 * sinTheta, 0, sinTheta, cosTheta, 0})
}

func (m1 Aff3) Scale(sx, sy float64) Aff3 {
	return m1.Mult(Aff3{sx, 0, 0, 0, sy, 0})
}

func RotateAbout(thetaDeg, x, y float64) Aff3 {
	return Identity().Translate(x, y).Rotate(thetaDeg).Translate(-1*x, -1*y)
}

func (m Aff3) Det() float64 { return m[0]*m[4] - m[1]*m[3] }

// Invert returns the inverse transform. A singular matrix yields an
// error, rather than a silently wrong identity.
func (m Aff3) Invert() (Aff3, error) {
	det := m.Det()
	if math.Abs(det) < 1e-12 {
		return Aff3{}, fmt.Errorf("affine %s is singular", m)
	}
	inv := 1.0 / det
	a, b := m[4]*inv, -m[1]*inv
	d, e := -m[3]*inv, m[0]*inv
	return Aff3{a, b, -(a*m[2] + b*m[5]), d, e, -(d*m[2] + e*m[5])}, nil
}

func (m Aff3) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Rescale converts a transform that works in a downsampled coordinate
// space (e.g. thumbnails) into full resolution coordinates. The input
// side was downsampled by `inFactor`, the output side by `outFactor`.
func (m Aff3) Rescale(inFactor, outFactor float64) Aff3 {
	return Identity().Scale(outFactor, outFactor).Mult(m).Mult(Identity().Scale(1/inFactor, 1/inFactor))
}

func (m Aff3) TranslationPart() (float64, float64) { return m[2], m[5] }

func (m Aff3) String() string {
	return fmt.Sprintf("Aff3[%8.5f %8.5f %10.3f | %8.5f %8.5f %10.3f]", m[0], m[1], m[2], m[3], m[4], m[5])
}
