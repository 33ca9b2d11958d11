package geo

import (
	"math"
	"testing"
)

func TestAffineRoundTrip(t *testing.T) {
	af := NewAffine(-105.0, 39.76, 0.0001, -0.0001, 0.0, 0.0, "EPSG:4326")

	points := [][2]float64{{0, 0}, {100, 200}, {511, 511}, {3, 7}}
	for _, p := range points {
		X, Y := af.Fwd(p[0], p[1])
		x, y := af.Rev(X, Y)
		if x != p[0] || y != p[1] {
			t.Errorf("affine round trip failed for %v: got (%v, %v)", p, x, y)
		}
	}
}

func TestAffineShiftComposes(t *testing.T) {
	af := NewAffine(-105.0, 39.76, 0.0001, -0.0001, 0.0, 0.0, "EPSG:4326")
	shifted := af.Shift(128, 256)

	X0, Y0 := shifted.Fwd(0, 0)
	X1, Y1 := af.Fwd(128, 256)
	if X0 != X1 || Y0 != Y1 {
		t.Errorf("shift does not compose: (%v, %v) != (%v, %v)", X0, Y0, X1, Y1)
	}
}

func testRPC() *RPC {
	// near-linear RPC centered on a small scene; the higher order terms
	// perturb it slightly so the Newton refinement actually works
	r := &RPC{
		LonOffset: -104.995, LonScale: 0.05,
		LatOffset: 39.755, LatScale: 0.05,
		HeightOffset: 1600, HeightScale: 500,
		SampOffset: 8192, SampScale: 8192,
		LineOffset: 8192, LineScale: 8192,
	}
	r.SampNumCoefs[1] = 1.01
	r.SampNumCoefs[2] = 0.005
	r.SampNumCoefs[7] = 0.0005
	r.SampDenCoefs[0] = 1
	r.LineNumCoefs[1] = -0.004
	r.LineNumCoefs[2] = -0.998
	r.LineNumCoefs[8] = 0.0003
	r.LineDenCoefs[0] = 1
	return r
}

func TestRPCRoundTripHalfPixel(t *testing.T) {
	r := testRPC()
	for _, p := range [][2]float64{{0, 0}, {100, 100}, {8192, 8192}, {16000, 16000}, {300, 15000}} {
		lon, lat := r.Fwd(p[0], p[1])
		x, y := r.Rev(lon, lat)
		if math.Abs(x-p[0]) > 0.5 || math.Abs(y-p[1]) > 0.5 {
			t.Errorf("rpc round trip error for %v: got (%v, %v)", p, x, y)
		}
	}
}

func TestRPCShift(t *testing.T) {
	r := testRPC()
	shifted := r.Shift(100, 200)

	lon, lat := r.Fwd(100, 200)
	x, y := shifted.Rev(lon, lat)
	if math.Abs(x) > 0.5 || math.Abs(y) > 0.5 {
		t.Errorf("shifted rev not near origin: (%v, %v)", x, y)
	}
}

func TestWindowIntersect(t *testing.T) {
	a := Window{X: 0, Y: 0, W: 100, H: 100}
	b := Window{X: 50, Y: 60, W: 100, H: 100}
	got := a.Intersect(b)
	want := Window{X: 50, Y: 60, W: 50, H: 40}
	if got != want {
		t.Errorf("intersect: got %v, want %v", got, want)
	}

	c := Window{X: 200, Y: 200, W: 10, H: 10}
	if !a.Intersect(c).Empty() {
		t.Errorf("disjoint windows should intersect empty")
	}
}

func TestReprojectBBox(t *testing.T) {
	b := BBox{-105.00, 39.75, -104.99, 39.76}
	m, err := ReprojectBBox(b, "EPSG:4326", "EPSG:3857")
	if err != nil {
		t.Fatalf("reproject error: %v", err)
	}
	back, err := ReprojectBBox(m, "EPSG:3857", "EPSG:4326")
	if err != nil {
		t.Fatalf("reproject error: %v", err)
	}
	for i := range b {
		if math.Abs(back[i]-b[i]) > 1e-9 {
			t.Errorf("bbox round trip at %d: %v != %v", i, back[i], b[i])
		}
	}

	_, err = ReprojectBBox(b, "EPSG:4326", "EPSG:32613")
	if err == nil {
		t.Errorf("expected error for unsupported projection")
	}
}

func TestWKT2BBox(t *testing.T) {
	b := BBox{-105.00, 39.75, -104.99, 39.76}
	got, err := WKT2BBox(BBox2WKT(b))
	if err != nil {
		t.Fatalf("wkt parse error: %v", err)
	}
	for i := range b {
		if math.Abs(got[i]-b[i]) > 1e-6 {
			t.Errorf("wkt bbox at %d: %v != %v", i, got[i], b[i])
		}
	}
}

func TestGeoJSONBBox(t *testing.T) {
	doc := []byte(`{"type": "Polygon", "coordinates": [[[-105.0, 39.75], [-104.99, 39.75], [-104.99, 39.76], [-105.0, 39.76], [-105.0, 39.75]]]}`)
	got, err := GeoJSONBBox(doc)
	if err != nil {
		t.Fatalf("geojson bbox error: %v", err)
	}
	want := BBox{-105.0, 39.75, -104.99, 39.76}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("geojson bbox at %d: %v != %v", i, got[i], want[i])
		}
	}
}
