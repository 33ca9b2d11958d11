package processor

import (
	"fmt"

	"golang.org/x/net/context"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/utils"
)

// RasterMerger collects tile results for one request and assembles
// them into window sized rasters, one per selected band.
type RasterMerger struct {
	Context context.Context
	In      chan *TileResult
	Out     chan []utils.Raster
	Error   chan error
}

func NewRasterMerger(ctx context.Context, errChan chan error) *RasterMerger {
	return &RasterMerger{
		Context: ctx,
		In:      make(chan *TileResult, 100),
		Out:     make(chan []utils.Raster, 100),
		Error:   errChan,
	}
}

// Run drains In until it closes, placing each granule crop at its
// window offset, then emits the assembled band stack.
func (m *RasterMerger) Run(req *GeoTileRequest) {
	defer close(m.Out)

	bandSel := req.Bands
	if len(bandSel) == 0 {
		bandSel = make([]int, req.NumBands)
		for i := range bandSel {
			bandSel[i] = i
		}
	}

	canvas := make([]utils.Raster, len(bandSel))
	for i := range canvas {
		band, err := utils.NewRaster(req.RasterType, req.Window.W, req.Window.H)
		if err != nil {
			m.sendError(err)
			return
		}
		canvas[i] = band
	}

	for res := range m.In {
		select {
		case <-m.Context.Done():
			m.sendError(fmt.Errorf("raster merger context has been cancelled: %v", m.Context.Err()))
			return
		default:
		}
		for i, b := range bandSel {
			if b < 0 || b >= len(res.Bands) {
				m.sendError(fmt.Errorf("band index %d out of range, tile has %d bands", b, len(res.Bands)))
				return
			}
			if err := placeCrop(canvas[i], res.Bands[b], res.Granule.Crop, res.Granule.OffX, res.Granule.OffY); err != nil {
				m.sendError(err)
				return
			}
		}
	}

	select {
	case m.Out <- canvas:
	case <-m.Context.Done():
	}
}

// placeCrop copies the crop region of src into dst at (offX, offY).
// The crop is clamped to the source extent so short tiles never read
// out of bounds.
func placeCrop(dst utils.Raster, src utils.Raster, crop geo.Window, offX, offY int) error {
	dstW, dstH, err := utils.RasterShape(dst)
	if err != nil {
		return err
	}
	srcW, srcH, err := utils.RasterShape(src)
	if err != nil {
		return err
	}
	for row := 0; row < crop.H; row++ {
		sy := crop.Y + row
		dy := offY + row
		if sy < 0 || sy >= srcH || dy < 0 || dy >= dstH {
			continue
		}
		for col := 0; col < crop.W; col++ {
			sx := crop.X + col
			dx := offX + col
			if sx < 0 || sx >= srcW || dx < 0 || dx >= dstW {
				continue
			}
			if err := copySample(dst, dy*dstW+dx, src, sy*srcW+sx); err != nil {
				return err
			}
		}
	}
	return nil
}

func copySample(dst utils.Raster, di int, src utils.Raster, si int) error {
	switch d := dst.(type) {
	case *utils.ByteRaster:
		s, ok := src.(*utils.ByteRaster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.Int16Raster:
		s, ok := src.(*utils.Int16Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.UInt16Raster:
		s, ok := src.(*utils.UInt16Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.Int32Raster:
		s, ok := src.(*utils.Int32Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.UInt32Raster:
		s, ok := src.(*utils.UInt32Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.Int64Raster:
		s, ok := src.(*utils.Int64Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.UInt64Raster:
		s, ok := src.(*utils.UInt64Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.Float32Raster:
		s, ok := src.(*utils.Float32Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	case *utils.Float64Raster:
		s, ok := src.(*utils.Float64Raster)
		if !ok {
			return rasterTypeMismatch(dst, src)
		}
		d.Data[di] = s.Data[si]
	default:
		return fmt.Errorf("unsupported raster type %T", dst)
	}
	return nil
}

func rasterTypeMismatch(dst, src utils.Raster) error {
	return fmt.Errorf("raster type mismatch: destination %T, source %T", dst, src)
}

func (m *RasterMerger) sendError(err error) {
	select {
	case m.Error <- err:
	default:
	}
}
