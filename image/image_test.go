package image

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rdatools/rda/client"
	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/geotiff"
	"github.com/rdatools/rda/graph"
	"github.com/rdatools/rda/utils"
)

const (
	testTile = 64
	testOrgX = -105.0
	testOrgY = 40.0
	testRes  = 1e-4
)

type seekBuf struct {
	data []byte
	pos  int64
}

func (b *seekBuf) Write(p []byte) (int, error) {
	if need := b.pos + int64(len(p)); need > int64(len(b.data)) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += int64(len(p))
	return len(p), nil
}

func (b *seekBuf) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = offset
	case io.SeekCurrent:
		b.pos += offset
	case io.SeekEnd:
		b.pos = int64(len(b.data)) + offset
	}
	return b.pos, nil
}

func testGrid() client.ImageGrid {
	return client.ImageGrid{
		MinX: 10, MinY: 20, MaxX: 309, MaxY: 219,
		MinTileX: 0, MaxTileX: 5, MinTileY: 0, MaxTileY: 4,
		TileXSize: testTile, TileYSize: testTile,
		NumBands: 3, DataType: utils.DTypeFloat,
	}
}

func tileSample(tx, ty, band, x, y int) float32 {
	return float32(tx*100000 + ty*10000 + band*1000 + y*testTile + x)
}

func encodeTile(t *testing.T, tx, ty int) []byte {
	t.Helper()
	buf := &seekBuf{}
	w, err := geotiff.NewWriter(buf, &geotiff.Options{
		Width: testTile, Height: testTile,
		NumBands:   3,
		RasterType: "Float32",
		TileWidth:  testTile, TileHeight: testTile,
	})
	require.NoError(t, err)
	bands := make([]utils.Raster, 3)
	for b := range bands {
		band := &utils.Float32Raster{Data: make([]float32, testTile*testTile), Width: testTile, Height: testTile}
		for y := 0; y < testTile; y++ {
			for x := 0; x < testTile; x++ {
				band.Data[y*testTile+x] = tileSample(tx, ty, b, x, y)
			}
		}
		bands[b] = band
	}
	require.NoError(t, w.WriteBands(0, 0, bands))
	require.NoError(t, w.Close())
	return buf.data
}

// testServer stands in for the graph registry and tile service.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" && r.URL.Path == "/graph" {
			fmt.Fprint(w, `{"id": "g1"}`)
			return
		}
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case len(parts) == 4 && parts[0] == "metadata" && parts[3] == "image.json":
			json.NewEncoder(w).Encode(testGrid())
		case len(parts) == 4 && parts[0] == "metadata" && parts[3] == "georeferencing.json":
			json.NewEncoder(w).Encode(client.Georef{
				TranslateX: testOrgX, TranslateY: testOrgY,
				ScaleX: testRes, ScaleY: -testRes,
				SpatialReferenceSystemCode: "EPSG:4326",
			})
		case len(parts) == 3 && parts[0] == "display-stats":
			json.NewEncoder(w).Encode(client.DisplayStats{Bands: []client.BandStats{
				{Offset: 0, Scale: 0.001},
				{Offset: 0, Scale: 0.001},
				{Offset: 0, Scale: 0.001},
			}})
		case len(parts) == 5 && parts[0] == "tile" && strings.HasSuffix(parts[4], ".tif"):
			tx, errX := strconv.Atoi(parts[3])
			ty, errY := strconv.Atoi(strings.TrimSuffix(parts[4], ".tif"))
			if errX != nil || errY != nil {
				http.Error(w, "bad tile path", 400)
				return
			}
			w.Write(encodeTile(t, tx, ty))
		default:
			http.NotFound(w, r)
		}
	}))
}

func testImage(t *testing.T, srv *httptest.Server) *Image {
	t.Helper()
	cfg := &utils.Config{
		BaseURL: srv.URL,
		TileURL: srv.URL,
		Token:   "tok0",
		Retry:   utils.RetryPolicy{MaxRetries: 4, BackoffStart: time.Millisecond},
	}
	cfg.SetDefaults()
	c := client.New(cfg)

	op, err := graph.NewOp("DigitalGlobeStrip", map[string]interface{}{"catId": "103001007B8DD400"})
	require.NoError(t, err)
	img, err := New(context.Background(), c, op)
	require.NoError(t, err)
	return img
}

func TestShapeAndSliceAlgebra(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	b, h, w := img.Shape()
	require.Equal(t, 3, b)
	require.Equal(t, 200, h)
	require.Equal(t, 300, w)

	sub, err := img.Slice(15, 115, 30, 170)
	require.NoError(t, err)
	sb, sh, sw := sub.Shape()
	require.Equal(t, b, sb)
	require.Equal(t, 100, sh)
	require.Equal(t, 140, sw)

	// crop composes with the geotransform
	wantX, wantY := img.Transform().Fwd(30, 15)
	gotX, gotY := sub.Transform().Fwd(0, 0)
	require.Equal(t, wantX, gotX)
	require.Equal(t, wantY, gotY)

	_, err = img.Slice(0, 300, 0, 10)
	require.Error(t, err)
}

func TestTransformOrigin(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	// view origin is the valid region origin (absolute pixel 10, 20)
	x, y := img.Transform().Fwd(0, 0)
	require.InDelta(t, testOrgX+10*testRes, x, 1e-12)
	require.InDelta(t, testOrgY-20*testRes, y, 1e-12)
}

func TestAOI(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	ulx, uly := img.Transform().Fwd(0, 0)
	lrx, lry := img.Transform().Fwd(100, 80)
	sub, err := img.AOI(geo.BBox{ulx, lry, lrx, uly}, "")
	require.NoError(t, err)
	_, sh, sw := sub.Shape()
	require.Equal(t, 80, sh)
	require.Equal(t, 100, sw)

	gx, gy := sub.Transform().Fwd(0, 0)
	require.InDelta(t, ulx, gx, 1e-12)
	require.InDelta(t, uly, gy, 1e-12)

	_, err = img.AOI(geo.BBox{0, 0, 1, 1}, "")
	require.ErrorIs(t, err, utils.ErrAOIDisjoint)
}

func TestRandomWindows(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	win, err := img.RandWindow(50, 60)
	require.NoError(t, err)
	_, h, w := win.Shape()
	require.Equal(t, 50, h)
	require.Equal(t, 60, w)

	// a shape larger than the image clips
	win, err = img.RandWindow(1000, 1000)
	require.NoError(t, err)
	_, h, w = win.Shape()
	require.Equal(t, 200, h)
	require.Equal(t, 300, w)

	it := img.IterWindows(7, 32, 32)
	count := 0
	for {
		win, ok, err := it.Next()
		if !ok {
			break
		}
		require.NoError(t, err)
		require.NotNil(t, win)
		count++
	}
	require.Equal(t, 7, count)
}

func TestWindowAt(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	cx, cy := img.Transform().Fwd(150, 100)
	sub, err := img.WindowAt(geo.BBox{cx, cy, cx, cy}, "", 40, 60)
	require.NoError(t, err)
	_, h, w := sub.Shape()
	require.Equal(t, 40, h)
	require.Equal(t, 60, w)

	// centered on the centroid
	gx, gy := sub.Transform().Fwd(30, 20)
	require.InDelta(t, cx, gx, testRes)
	require.InDelta(t, cy, gy, testRes)

	ex, ey := img.Transform().Fwd(2, 2)
	_, err = img.WindowAt(geo.BBox{ex, ey, ex, ey}, "", 40, 60)
	require.ErrorIs(t, err, utils.ErrAOIOutOfBounds)
}

func TestWindowCover(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	// 200x300 with 64x64 windows: ceil counts with padding
	padded, err := img.WindowCover(64, 64, true)
	require.NoError(t, err)
	require.Len(t, padded, 4*5)

	full, err := img.WindowCover(64, 64, false)
	require.NoError(t, err)
	require.Len(t, full, 3*4)
	for _, w := range full {
		_, h, ww := w.Shape()
		require.Equal(t, 64, h)
		require.Equal(t, 64, ww)
	}
}

func TestReadValues(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	sub, err := img.Slice(10, 40, 20, 70)
	require.NoError(t, err)
	rasters, err := sub.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, rasters, 3)

	for b, r := range rasters {
		band, ok := r.(*utils.Float32Raster)
		require.True(t, ok)
		require.Equal(t, 50, band.Width)
		require.Equal(t, 30, band.Height)

		// view pixel (5, 5) is absolute pixel (10+20+5, 20+10+5)
		gx, gy := 35, 35
		want := tileSample(gx/testTile, gy/testTile, b, gx%testTile, gy%testTile)
		require.Equal(t, want, band.Data[5*band.Width+5])

		// a pixel past a tile boundary
		gx, gy = 10+20+45, 20+10+25
		want = tileSample(gx/testTile, gy/testTile, b, gx%testTile, gy%testTile)
		require.Equal(t, want, band.Data[25*band.Width+45])
	}
}

func TestReadBandSelection(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	sub, err := img.Slice(0, 8, 0, 8)
	require.NoError(t, err)
	rasters, err := sub.Read(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rasters, 1)

	band := rasters[0].(*utils.Float32Raster)
	want := tileSample(10/testTile, 20/testTile, 2, 10%testTile, 20%testTile)
	require.Equal(t, want, band.Data[0])
}

func TestPaddedCoverRead(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	covers, err := img.WindowCover(64, 64, true)
	require.NoError(t, err)
	last := covers[len(covers)-1]

	// the padded window's shape matches what Read yields
	b, h, w := last.Shape()
	require.Equal(t, 3, b)
	require.Equal(t, 64, h)
	require.Equal(t, 64, w)

	rasters, err := last.Read(context.Background())
	require.NoError(t, err)
	band := rasters[0].(*utils.Float32Raster)
	require.Equal(t, 64, band.Width)
	require.Equal(t, 64, band.Height)

	// beyond the image the padding is zero; 200 % 64 = 8 valid rows,
	// 300 % 64 = 44 valid columns in the last window
	require.Zero(t, band.Data[10*64+2])
	require.Zero(t, band.Data[2*64+50])
	require.NotZero(t, band.Data[2*64+2])
}

func TestRGBScaling(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	sub, err := img.Slice(0, 8, 0, 8)
	require.NoError(t, err)
	rgb, err := sub.RGB(context.Background())
	require.NoError(t, err)
	require.Len(t, rgb, 3)

	// default triple for a 3-band view is (2, 1, 0)
	want := tileSample(0, 0, 2, 10, 20) * 0.001
	require.Equal(t, uint8(want), rgb[0].Data[0])
}

func TestWriteGeoTIFFRoundTrip(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	sub, err := img.Slice(10, 138, 20, 148)
	require.NoError(t, err)

	buf := &seekBuf{}
	require.NoError(t, sub.WriteGeoTIFF(context.Background(), buf))

	decoded, err := geotiff.Decode(buf.data)
	require.NoError(t, err)
	require.Equal(t, 128, decoded.Width)
	require.Equal(t, 128, decoded.Height)
	require.Len(t, decoded.Bands, 3)

	// pixel values survive the trip
	band := decoded.Bands[0].(*utils.Float32Raster)
	gx, gy := 10+20+70, 20+10+90
	want := tileSample(gx/testTile, gy/testTile, 0, gx%testTile, gy%testTile)
	require.Equal(t, want, band.Data[90*128+70])

	// georeferencing survives the trip
	tr, err := geotiff.DecodeTransform(buf.data)
	require.NoError(t, err)
	wantX, wantY := sub.Transform().Fwd(0, 0)
	gotX, gotY := tr.Fwd(0, 0)
	require.InDelta(t, wantX, gotX, 1e-9)
	require.InDelta(t, wantY, gotY, 1e-9)
	require.Equal(t, "EPSG:4326", tr.Proj())
}

func TestTemplateImageRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case len(parts) == 3 && parts[0] == "template" && parts[2] == "metadata":
			json.NewEncoder(w).Encode(client.ImageMetadata{
				Image: testGrid(),
				Georef: &client.Georef{
					TranslateX: testOrgX, TranslateY: testOrgY,
					ScaleX: testRes, ScaleY: -testRes,
					SpatialReferenceSystemCode: "EPSG:4326",
				},
			})
		case len(parts) == 5 && parts[0] == "template" && parts[2] == "tile":
			if r.URL.Query().Get("nodeId") != "n1" || r.URL.Query().Get("acquisition") != "cat123" {
				http.Error(w, "missing template variables", 400)
				return
			}
			tx, _ := strconv.Atoi(parts[3])
			ty, _ := strconv.Atoi(parts[4])
			w.Write(encodeTile(t, tx, ty))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := &utils.Config{
		BaseURL: srv.URL,
		TileURL: srv.URL,
		Token:   "tok0",
		Retry:   utils.RetryPolicy{MaxRetries: 4, BackoffStart: time.Millisecond},
	}
	cfg.SetDefaults()
	c := client.New(cfg)

	img, err := TemplateImage(context.Background(), c, "tpl1", "n1", map[string]string{"acquisition": "cat123"})
	require.NoError(t, err)
	b, h, w := img.Shape()
	require.Equal(t, 3, b)
	require.Equal(t, 200, h)
	require.Equal(t, 300, w)

	sub, err := img.Slice(0, 8, 0, 8)
	require.NoError(t, err)
	rasters, err := sub.Read(context.Background())
	require.NoError(t, err)
	band := rasters[0].(*utils.Float32Raster)
	require.Equal(t, tileSample(0, 0, 0, 10, 20), band.Data[0])
}

func TestMaterialize(t *testing.T) {
	var submitted client.MaterializeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case r.Method == "POST" && r.URL.Path == "/graph":
			fmt.Fprint(w, `{"id": "g1"}`)
		case len(parts) == 4 && parts[0] == "metadata" && parts[3] == "image.json":
			json.NewEncoder(w).Encode(testGrid())
		case len(parts) == 4 && parts[0] == "metadata" && parts[3] == "georeferencing.json":
			json.NewEncoder(w).Encode(client.Georef{
				TranslateX: testOrgX, TranslateY: testOrgY,
				ScaleX: testRes, ScaleY: -testRes,
				SpatialReferenceSystemCode: "EPSG:4326",
			})
		case r.Method == "POST" && r.URL.Path == "/template/materialize":
			json.NewDecoder(r.Body).Decode(&submitted)
			fmt.Fprint(w, `{"jobId": "job42", "status": "SUBMITTED"}`)
		case r.URL.Path == "/template/materialize/status/job42":
			fmt.Fprint(w, `{"jobId": "job42", "status": "SUCCEEDED"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	img := testImage(t, srv)

	jobID, err := img.Materialize(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, "job42", jobID)
	require.Equal(t, "g1", submitted.GraphID)
	require.Equal(t, "TIF", submitted.OutputFormat)
	require.NotNil(t, submitted.Bounds)

	status, err := img.MaterializeStatus(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", status.Status)
}

func TestGeoInterface(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()
	img := testImage(t, srv)

	f, err := img.GeoInterface()
	require.NoError(t, err)
	require.NotNil(t, f)
}
