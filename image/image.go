package image

import (
	"fmt"
	"math/rand"

	"golang.org/x/net/context"

	geom "github.com/nci/geometry"

	"github.com/rdatools/rda/client"
	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/graph"
	"github.com/rdatools/rda/utils"
)

// Image is a lazy view over a registered graph node's tile grid.
// Construction and subsetting never touch tiles; only Read and the
// writers do. All pixel coordinates are relative to the view origin,
// which starts at the top-left corner of the valid region.
type Image struct {
	client *client.Client
	op     *graph.Op

	graphID string
	nodeID  string
	meta    *client.ImageMetadata

	// window is the view in grid-relative pixels, origin at the
	// top-left of tile (minTileX, minTileY).
	window    geo.Window
	bands     []int
	transform geo.Transform
	tileURL   func(tileX, tileY int) string

	// pad target shape for cover windows; zero when the view is not
	// padded.
	padH, padW int
}

// New registers the graph rooted at op and builds the image view over
// its valid region.
func New(ctx context.Context, c *client.Client, op *graph.Op) (*Image, error) {
	if op == nil {
		return nil, fmt.Errorf("nil root op: %w", utils.ErrBadGraph)
	}
	graphID, err := c.Register(ctx, op.Graph())
	if err != nil {
		return nil, err
	}
	nodeID := op.ID()
	meta, err := c.Metadata(ctx, graphID, nodeID)
	if err != nil {
		return nil, err
	}
	img, err := fromMetadata(c, meta, func(tileX, tileY int) string {
		return c.TileURL(graphID, nodeID, tileX, tileY)
	})
	if err != nil {
		return nil, err
	}
	img.op = op
	img.graphID = graphID
	img.nodeID = nodeID
	return img, nil
}

// fromMetadata builds the view: full grid trimmed to the valid region,
// transform composed with the region's pixel origin.
func fromMetadata(c *client.Client, meta *client.ImageMetadata, tileURL func(int, int) string) (*Image, error) {
	grid := &meta.Image
	if grid.TileXSize <= 0 || grid.TileYSize <= 0 {
		return nil, fmt.Errorf("metadata carries bad tile shape %dx%d", grid.TileXSize, grid.TileYSize)
	}
	t, err := meta.Transform()
	if err != nil {
		return nil, err
	}

	// The metadata transform is anchored at absolute pixel (0, 0);
	// shift it to the valid region's origin.
	t = t.Shift(float64(grid.MinX), float64(grid.MinY))

	win := geo.Window{
		X: grid.MinX - grid.MinTileX*grid.TileXSize,
		Y: grid.MinY - grid.MinTileY*grid.TileYSize,
		W: grid.MaxX - grid.MinX + 1,
		H: grid.MaxY - grid.MinY + 1,
	}
	gridWin := geo.Window{W: grid.NumXTiles() * grid.TileXSize, H: grid.NumYTiles() * grid.TileYSize}
	win = win.Intersect(gridWin)
	if win.Empty() {
		return nil, fmt.Errorf("metadata valid region lies outside its tile grid")
	}

	bands := make([]int, grid.NumBands)
	for i := range bands {
		bands[i] = i
	}
	return &Image{
		client:    c,
		meta:      meta,
		window:    win,
		bands:     bands,
		transform: t,
		tileURL:   tileURL,
	}, nil
}

// Shape returns (bands, height, width) of the view. A padded cover
// window reports its pad target, matching what Read yields.
func (i *Image) Shape() (int, int, int) {
	h, w := i.window.H, i.window.W
	if i.padH > 0 {
		h = i.padH
	}
	if i.padW > 0 {
		w = i.padW
	}
	return len(i.bands), h, w
}

func (i *Image) GraphID() string { return i.graphID }

func (i *Image) NodeID() string { return i.nodeID }

func (i *Image) Metadata() *client.ImageMetadata { return i.meta }

// Transform is the geotransform anchored at the view origin, so
// Fwd(0, 0) is the world position of the view's top-left pixel.
func (i *Image) Transform() geo.Transform { return i.transform }

func (i *Image) Proj() string { return i.transform.Proj() }

// RasterType names the element type of the view's pixels.
func (i *Image) RasterType() (string, error) {
	return i.meta.RasterType()
}

func (i *Image) clone() *Image {
	dup := *i
	dup.bands = append([]int(nil), i.bands...)
	return &dup
}

// Bands returns a view over the selected bands, in the given order.
// Indices address the current view's bands.
func (i *Image) Bands(idx ...int) (*Image, error) {
	sel := make([]int, len(idx))
	for n, b := range idx {
		if b < 0 || b >= len(i.bands) {
			return nil, fmt.Errorf("band index %d out of range [0, %d)", b, len(i.bands))
		}
		sel[n] = i.bands[b]
	}
	dup := i.clone()
	dup.bands = sel
	return dup, nil
}

// Slice returns the view over the half-open pixel window
// [y0:y1, x0:x1], with the transform shifted accordingly.
func (i *Image) Slice(y0, y1, x0, x1 int) (*Image, error) {
	if y0 < 0 || x0 < 0 || y1 > i.window.H || x1 > i.window.W || y0 >= y1 || x0 >= x1 {
		return nil, fmt.Errorf("bad pixel window [%d:%d, %d:%d] for shape (%d, %d)", y0, y1, x0, x1, i.window.H, i.window.W)
	}
	dup := i.clone()
	dup.window = geo.Window{X: i.window.X + x0, Y: i.window.Y + y0, W: x1 - x0, H: y1 - y0}
	dup.transform = i.transform.Shift(float64(x0), float64(y0))
	dup.padH, dup.padW = 0, 0
	return dup, nil
}

// AOI crops the view to the intersection with a world bbox. The bbox
// is given in fromProj, defaulting to WGS84 when empty.
func (i *Image) AOI(bbox geo.BBox, fromProj string) (*Image, error) {
	if fromProj == "" {
		fromProj = "EPSG:4326"
	}
	b := bbox
	if fromProj != i.Proj() {
		var err error
		b, err = geo.ReprojectBBox(bbox, fromProj, i.Proj())
		if err != nil {
			return nil, err
		}
	}
	win := geo.WindowFromBBox(i.transform, b)
	win = win.Intersect(geo.Window{W: i.window.W, H: i.window.H})
	if win.Empty() {
		return nil, fmt.Errorf("bbox %v does not intersect the image: %w", bbox, utils.ErrAOIDisjoint)
	}
	return i.Slice(win.Y, win.Y+win.H, win.X, win.X+win.W)
}

// AOIWKT crops to the bounding box of a POLYGON wkt.
func (i *Image) AOIWKT(wkt, fromProj string) (*Image, error) {
	b, err := geo.WKT2BBox(wkt)
	if err != nil {
		return nil, err
	}
	return i.AOI(b, fromProj)
}

// AOIGeoJSON crops to the bounding box of a GeoJSON geometry or
// feature.
func (i *Image) AOIGeoJSON(data []byte, fromProj string) (*Image, error) {
	b, err := geo.GeoJSONBBox(data)
	if err != nil {
		return nil, err
	}
	return i.AOI(b, fromProj)
}

// AOIGeometry crops to the bounding box of a decoded geometry.
func (i *Image) AOIGeometry(g geom.Geometry, fromProj string) (*Image, error) {
	b, err := geo.GeometryBBox(g)
	if err != nil {
		return nil, err
	}
	return i.AOI(b, fromProj)
}

// RandWindow returns a uniformly random window of the given shape,
// clipped to the image bounds.
func (i *Image) RandWindow(h, w int) (*Image, error) {
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("bad window shape (%d, %d)", h, w)
	}
	if h > i.window.H {
		h = i.window.H
	}
	if w > i.window.W {
		w = i.window.W
	}
	y0 := rand.Intn(i.window.H - h + 1)
	x0 := rand.Intn(i.window.W - w + 1)
	return i.Slice(y0, y0+h, x0, x0+w)
}

// WindowIter yields random windows of a fixed shape. Count below zero
// makes it infinite.
type WindowIter struct {
	img       *Image
	h, w      int
	remaining int
}

func (it *WindowIter) Next() (*Image, bool, error) {
	if it.remaining == 0 {
		return nil, false, nil
	}
	if it.remaining > 0 {
		it.remaining--
	}
	win, err := it.img.RandWindow(it.h, it.w)
	if err != nil {
		return nil, false, err
	}
	return win, true, nil
}

// IterWindows returns an iterator over count random windows of shape
// (h, w); pass a negative count for an unbounded sequence.
func (i *Image) IterWindows(count, h, w int) *WindowIter {
	return &WindowIter{img: i, h: h, w: w, remaining: count}
}

// WindowAt returns a window of shape (h, w) centered on the centroid
// of the geometry's bounding box. The geometry bbox is in fromProj
// (WGS84 when empty). The window must fit entirely inside the image.
func (i *Image) WindowAt(bbox geo.BBox, fromProj string, h, w int) (*Image, error) {
	if fromProj == "" {
		fromProj = "EPSG:4326"
	}
	b := bbox
	if fromProj != i.Proj() {
		var err error
		b, err = geo.ReprojectBBox(bbox, fromProj, i.Proj())
		if err != nil {
			return nil, err
		}
	}
	cx := (b[0] + b[2]) / 2
	cy := (b[1] + b[3]) / 2
	px, py := geo.RevInt(i.transform, cx, cy)
	x0 := int(px) - w/2
	y0 := int(py) - h/2
	if x0 < 0 || y0 < 0 || x0+w > i.window.W || y0+h > i.window.H {
		return nil, fmt.Errorf("window (%d, %d) at (%d, %d) leaves the image: %w", h, w, y0, x0, utils.ErrAOIOutOfBounds)
	}
	return i.Slice(y0, y0+h, x0, x0+w)
}

// WindowCover returns the row-major sequence of windows of shape
// (h, w) covering the view. With pad, trailing windows keep the exact
// shape and read as zero beyond the image edge; without it, partial
// windows are dropped.
func (i *Image) WindowCover(h, w int, pad bool) ([]*Image, error) {
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("bad window shape (%d, %d)", h, w)
	}
	var out []*Image
	for y0 := 0; y0 < i.window.H; y0 += h {
		for x0 := 0; x0 < i.window.W; x0 += w {
			y1 := y0 + h
			x1 := x0 + w
			if y1 > i.window.H || x1 > i.window.W {
				if !pad {
					continue
				}
				win, err := i.Slice(y0, minInt(y1, i.window.H), x0, minInt(x1, i.window.W))
				if err != nil {
					return nil, err
				}
				win.padH, win.padW = h, w
				out = append(out, win)
				continue
			}
			win, err := i.Slice(y0, y1, x0, x1)
			if err != nil {
				return nil, err
			}
			out = append(out, win)
		}
	}
	return out, nil
}

// GeoInterface returns the view's footprint as a GeoJSON feature in
// the image projection.
func (i *Image) GeoInterface() (*geom.Feature, error) {
	b := geo.BBoxFromWindow(i.transform, geo.Window{W: i.window.W, H: i.window.H})
	return geo.BBoxFeature(b)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
