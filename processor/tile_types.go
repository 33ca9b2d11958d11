package processor

import (
	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/utils"
)

// TileGrid is the tile layout of one registered image: absolute tile
// index bounds and the fixed tile shape. Pixel coordinates inside the
// processor are grid-relative, with (0, 0) at the top-left corner of
// tile (MinTileX, MinTileY).
type TileGrid struct {
	MinTileX, MaxTileX int
	MinTileY, MaxTileY int
	TileXSize          int
	TileYSize          int
}

func (g TileGrid) NumXTiles() int {
	return g.MaxTileX - g.MinTileX + 1
}

func (g TileGrid) NumYTiles() int {
	return g.MaxTileY - g.MinTileY + 1
}

// GeoTileRequest asks for one rectangular read out of a registered
// image. TileURL closes over graph vs template addressing so the
// pipeline never needs to know which one it serves.
type GeoTileRequest struct {
	TileURL    func(tileX, tileY int) string
	Token      string
	Grid       TileGrid
	RasterType string
	NumBands   int
	Window     geo.Window
	Bands      []int
	Strict     bool
}

// GeoTileGranule is one tile GET plus where its pixels land in the
// output window.
type GeoTileGranule struct {
	URL          string
	TileX, TileY int
	// Crop is the used sub-rectangle in tile-local pixels; OffX/OffY
	// is its placement in the output window.
	Crop       geo.Window
	OffX, OffY int
	RasterType string
	NumBands   int
	Height     int
	Width      int
	Strict     bool
}

// TileResult is one fetched and decoded granule: a full tile of
// per-band rasters. Zeroed indicates a terminal fetch failure that was
// downgraded to an empty tile.
type TileResult struct {
	Granule *GeoTileGranule
	Bands   []utils.Raster
	Zeroed  bool
}
