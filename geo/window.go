package geo

import (
	"fmt"
)

// Window is a pixel-aligned rectangle, half open: [X, X+W) x [Y, Y+H).
type Window struct {
	X, Y, W, H int
}

func (w Window) Empty() bool {
	return w.W <= 0 || w.H <= 0
}

// Intersect clips w against other; the result may be empty.
func (w Window) Intersect(other Window) Window {
	x0 := maxInt(w.X, other.X)
	y0 := maxInt(w.Y, other.Y)
	x1 := minInt(w.X+w.W, other.X+other.W)
	y1 := minInt(w.Y+w.H, other.Y+other.H)
	return Window{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func (w Window) Contains(other Window) bool {
	return other.X >= w.X && other.Y >= w.Y &&
		other.X+other.W <= w.X+w.W && other.Y+other.H <= w.Y+w.H
}

func (w Window) String() string {
	return fmt.Sprintf("Window(x:%d y:%d w:%d h:%d)", w.X, w.Y, w.W, w.H)
}

// BBox is [xMin, yMin, xMax, yMax] in world coordinates.
type BBox [4]float64

func (b BBox) Intersects(other BBox) bool {
	return b[0] < other[2] && other[0] < b[2] && b[1] < other[3] && other[1] < b[3]
}

func (b BBox) Intersect(other BBox) BBox {
	return BBox{
		maxFloat(b[0], other[0]),
		maxFloat(b[1], other[1]),
		minFloat(b[2], other[2]),
		minFloat(b[3], other[3]),
	}
}

// WindowFromBBox converts a world bbox to the smallest pixel window
// covering it under the given transform.
func WindowFromBBox(t Transform, b BBox) Window {
	// all four corners: shear and RPC curvature can flip extremes
	corners := [][2]float64{
		{b[0], b[1]}, {b[2], b[1]}, {b[0], b[3]}, {b[2], b[3]},
	}
	x0, y0 := t.Rev(corners[0][0], corners[0][1])
	x1, y1 := x0, y0
	for _, c := range corners[1:] {
		x, y := t.Rev(c[0], c[1])
		x0 = minFloat(x0, x)
		y0 = minFloat(y0, y)
		x1 = maxFloat(x1, x)
		y1 = maxFloat(y1, y)
	}
	ix0 := int(roundToEven32(x0))
	iy0 := int(roundToEven32(y0))
	ix1 := int(roundToEven32(x1))
	iy1 := int(roundToEven32(y1))
	return Window{X: ix0, Y: iy0, W: ix1 - ix0, H: iy1 - iy0}
}

// BBoxFromWindow maps a pixel window back to its world bbox.
func BBoxFromWindow(t Transform, w Window) BBox {
	corners := [][2]float64{
		{float64(w.X), float64(w.Y)},
		{float64(w.X + w.W), float64(w.Y)},
		{float64(w.X), float64(w.Y + w.H)},
		{float64(w.X + w.W), float64(w.Y + w.H)},
	}
	X0, Y0 := t.Fwd(corners[0][0], corners[0][1])
	X1, Y1 := X0, Y0
	for _, c := range corners[1:] {
		X, Y := t.Fwd(c[0], c[1])
		X0 = minFloat(X0, X)
		Y0 = minFloat(Y0, Y)
		X1 = maxFloat(X1, X)
		Y1 = maxFloat(Y1, Y)
	}
	return BBox{X0, Y0, X1, Y1}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
