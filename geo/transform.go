// Package geo maps between pixel and world coordinates for platform
// imagery. Ortho products carry a six-parameter affine georeference;
// non-ortho products carry rational polynomial coefficients. Both are
// immutable values; composing a pixel shift returns a new transform.
package geo

// Transform converts image pixel coordinates to world coordinates and
// back. Fwd takes pixel (x, y); Rev takes world (X, Y) at the default
// height and returns fractional pixel coordinates.
type Transform interface {
	Fwd(x, y float64) (float64, float64)
	Rev(X, Y float64) (float64, float64)
	// Shift composes the transform with a pixel-origin shift, so the
	// shifted transform maps crop-local pixels to the same world
	// coordinates as the parent.
	Shift(dx, dy float64) Transform
	Proj() string
}

// Call applies Fwd to each (x, y) row of points.
func Call(t Transform, points [][2]float64) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		X, Y := t.Fwd(p[0], p[1])
		out[i] = [2]float64{X, Y}
	}
	return out
}

// RevInt runs Rev and rounds to int32 pixel indices with banker's
// rounding.
func RevInt(t Transform, X, Y float64) (int32, int32) {
	x, y := t.Rev(X, Y)
	return roundToEven32(x), roundToEven32(y)
}
