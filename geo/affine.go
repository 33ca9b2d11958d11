package geo

import (
	"fmt"
	"math"
)

// Affine is a six-parameter geotransform in GDAL parameter order:
// [originX, scaleX, shearX, originY, shearY, scaleY].
type Affine struct {
	A    [6]float64
	Code string
}

// NewAffine builds an affine transform from the georeferencing block
// of the metadata service.
func NewAffine(translateX, translateY, scaleX, scaleY, shearX, shearY float64, srsCode string) *Affine {
	return &Affine{
		A:    [6]float64{translateX, scaleX, shearX, translateY, shearY, scaleY},
		Code: srsCode,
	}
}

func (af *Affine) Fwd(x, y float64) (float64, float64) {
	X := af.A[0] + x*af.A[1] + y*af.A[2]
	Y := af.A[3] + x*af.A[4] + y*af.A[5]
	return X, Y
}

func (af *Affine) Rev(X, Y float64) (float64, float64) {
	det := af.A[1]*af.A[5] - af.A[2]*af.A[4]
	if det == 0 {
		return math.NaN(), math.NaN()
	}
	dx := X - af.A[0]
	dy := Y - af.A[3]
	x := (dx*af.A[5] - dy*af.A[2]) / det
	y := (dy*af.A[1] - dx*af.A[4]) / det
	return x, y
}

func (af *Affine) Shift(dx, dy float64) Transform {
	oX, oY := af.Fwd(dx, dy)
	return &Affine{
		A:    [6]float64{oX, af.A[1], af.A[2], oY, af.A[4], af.A[5]},
		Code: af.Code,
	}
}

func (af *Affine) Proj() string {
	return af.Code
}

func (af *Affine) String() string {
	return fmt.Sprintf("Affine(%v, %s)", af.A, af.Code)
}

func roundToEven32(v float64) int32 {
	return int32(math.RoundToEven(v))
}
