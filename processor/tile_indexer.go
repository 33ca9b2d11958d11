package processor

import (
	"fmt"

	"golang.org/x/net/context"

	"github.com/rdatools/rda/geo"
)

// TileIndexer turns a window read into the set of tile granules that
// intersect it. Tiles outside the grid are never emitted.
type TileIndexer struct {
	Context context.Context
	In      chan *GeoTileRequest
	Out     chan *GeoTileGranule
	Error   chan error
}

func NewTileIndexer(ctx context.Context, errChan chan error) *TileIndexer {
	return &TileIndexer{
		Context: ctx,
		In:      make(chan *GeoTileRequest, 100),
		Out:     make(chan *GeoTileGranule, 100),
		Error:   errChan,
	}
}

func (p *TileIndexer) Run() {
	defer close(p.Out)
	for geoReq := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("tile indexer context has been cancelled: %v", p.Context.Err())
			return
		default:
			if err := p.index(geoReq); err != nil {
				p.Error <- err
				return
			}
		}
	}
}

func (p *TileIndexer) index(geoReq *GeoTileRequest) error {
	grid := geoReq.Grid
	if grid.TileXSize <= 0 || grid.TileYSize <= 0 {
		return fmt.Errorf("tile indexer: bad tile shape %dx%d", grid.TileXSize, grid.TileYSize)
	}
	win := geoReq.Window
	gridWin := geo.Window{X: 0, Y: 0, W: grid.NumXTiles() * grid.TileXSize, H: grid.NumYTiles() * grid.TileYSize}
	win = win.Intersect(gridWin)
	if win.Empty() {
		return fmt.Errorf("tile indexer: window %v outside tile grid", geoReq.Window)
	}

	tx0 := win.X / grid.TileXSize
	ty0 := win.Y / grid.TileYSize
	tx1 := (win.X + win.W - 1) / grid.TileXSize
	ty1 := (win.Y + win.H - 1) / grid.TileYSize

	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			tileWin := geo.Window{
				X: tx * grid.TileXSize,
				Y: ty * grid.TileYSize,
				W: grid.TileXSize,
				H: grid.TileYSize,
			}
			used := tileWin.Intersect(win)
			if used.Empty() {
				continue
			}
			p.Out <- &GeoTileGranule{
				URL:        geoReq.TileURL(tx+grid.MinTileX, ty+grid.MinTileY),
				TileX:      tx + grid.MinTileX,
				TileY:      ty + grid.MinTileY,
				Crop:       geo.Window{X: used.X - tileWin.X, Y: used.Y - tileWin.Y, W: used.W, H: used.H},
				OffX:       used.X - win.X,
				OffY:       used.Y - win.Y,
				RasterType: geoReq.RasterType,
				NumBands:   geoReq.NumBands,
				Width:      grid.TileXSize,
				Height:     grid.TileYSize,
				Strict:     geoReq.Strict,
			}
		}
	}
	return nil
}
