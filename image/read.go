package image

import (
	"fmt"

	"golang.org/x/net/context"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/metrics"
	"github.com/rdatools/rda/processor"
	"github.com/rdatools/rda/utils"
)

// ReadLogger, when set, receives one record per materialized read.
var ReadLogger metrics.Logger

// Read realizes the view: every intersecting tile is fetched
// concurrently and assembled into one raster per band. Band indices,
// when given, address the view's bands; omitted means all of them.
// Tiles that fail terminally come back as zeros unless the client is
// configured for strict reads, in which case the read errors.
func (i *Image) Read(ctx context.Context, bands ...int) ([]utils.Raster, error) {
	view := i
	if len(bands) > 0 {
		var err error
		view, err = i.Bands(bands...)
		if err != nil {
			return nil, err
		}
	}

	rType, err := view.RasterType()
	if err != nil {
		return nil, err
	}
	cfg := view.client.Config()

	collector := metrics.NewCollector(ReadLogger)
	collector.Info.GraphID = view.graphID
	collector.Info.NodeID = view.nodeID
	collector.Info.Window = [4]int{view.window.X, view.window.Y, view.window.W, view.window.H}

	errChan := make(chan error, 100)
	pipe := processor.NewTilePipeline(ctx, view.client.HTTP(), cfg.FetchConcurrency, cfg.Retry, view.client.Token(), errChan)
	pipe.Collector = collector
	pipe.Verbose = cfg.Verbose

	req := &processor.GeoTileRequest{
		TileURL: view.tileURL,
		Grid: processor.TileGrid{
			MinTileX: view.meta.Image.MinTileX, MaxTileX: view.meta.Image.MaxTileX,
			MinTileY: view.meta.Image.MinTileY, MaxTileY: view.meta.Image.MaxTileY,
			TileXSize: view.meta.Image.TileXSize, TileYSize: view.meta.Image.TileYSize,
		},
		RasterType: rType,
		NumBands:   view.meta.Image.NumBands,
		Window:     view.window,
		Bands:      view.bands,
		Strict:     cfg.StrictReads,
	}

	out := pipe.Process(req)
	var rasters []utils.Raster
	var readErr error
	done := false
	for !done {
		select {
		case res, ok := <-out:
			if !ok {
				done = true
				break
			}
			rasters = res
		case err := <-errChan:
			if cfg.StrictReads && readErr == nil {
				readErr = err
			}
		case <-ctx.Done():
			collector.Log()
			return nil, ctx.Err()
		}
	}
	collector.Log()

	if cfg.StrictReads && readErr == nil {
		select {
		case readErr = <-errChan:
		default:
		}
	}
	if readErr != nil {
		return nil, readErr
	}
	if rasters == nil {
		select {
		case err := <-errChan:
			return nil, err
		default:
			return nil, fmt.Errorf("read produced no rasters for window %v", view.window)
		}
	}
	if view.padH > 0 || view.padW > 0 {
		return padRasters(rasters, rType, view.padW, view.padH)
	}
	return rasters, nil
}

// padRasters grows each raster to (padH, padW) with zeros on the
// right and bottom.
func padRasters(rasters []utils.Raster, rType string, padW, padH int) ([]utils.Raster, error) {
	out := make([]utils.Raster, len(rasters))
	for n, r := range rasters {
		w, h, err := utils.RasterShape(r)
		if err != nil {
			return nil, err
		}
		if w == padW && h == padH {
			out[n] = r
			continue
		}
		grown, err := utils.NewRaster(rType, padW, padH)
		if err != nil {
			return nil, err
		}
		if err := copyRegion(grown, r, w, h, padW); err != nil {
			return nil, err
		}
		out[n] = grown
	}
	return out, nil
}

func copyRegion(dst, src utils.Raster, w, h, dstW int) error {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v, err := utils.RasterSample(src, x, y)
			if err != nil {
				return err
			}
			if err := setSample(dst, y*dstW+x, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func setSample(r utils.Raster, idx int, v float64) error {
	switch t := r.(type) {
	case *utils.ByteRaster:
		t.Data[idx] = uint8(v)
	case *utils.Int16Raster:
		t.Data[idx] = int16(v)
	case *utils.UInt16Raster:
		t.Data[idx] = uint16(v)
	case *utils.Int32Raster:
		t.Data[idx] = int32(v)
	case *utils.UInt32Raster:
		t.Data[idx] = uint32(v)
	case *utils.Int64Raster:
		t.Data[idx] = int64(v)
	case *utils.UInt64Raster:
		t.Data[idx] = uint64(v)
	case *utils.Float32Raster:
		t.Data[idx] = float32(v)
	case *utils.Float64Raster:
		t.Data[idx] = v
	default:
		return fmt.Errorf("unsupported raster type %T", r)
	}
	return nil
}

// RGB reads three bands and scales them to display bytes using the
// server's display statistics. Band indices default to the natural
// RGB triple for the band count: (4, 2, 1) for 5 or more bands,
// (2, 1, 0) for three or four, band 0 everywhere for less.
func (i *Image) RGB(ctx context.Context, bands ...int) ([]*utils.ByteRaster, error) {
	if len(bands) == 0 {
		switch {
		case len(i.bands) >= 5:
			bands = []int{4, 2, 1}
		case len(i.bands) >= 3:
			bands = []int{2, 1, 0}
		default:
			bands = []int{0, 0, 0}
		}
	}
	if len(bands) != 3 {
		return nil, fmt.Errorf("rgb export needs exactly 3 bands, got %d", len(bands))
	}

	stats, err := i.client.DisplayStats(ctx, i.graphID, i.nodeID)
	if err != nil {
		return nil, err
	}
	rasters, err := i.Read(ctx, bands...)
	if err != nil {
		return nil, err
	}

	out := make([]*utils.ByteRaster, 3)
	for n, r := range rasters {
		srcBand := i.bands[bands[n]]
		if srcBand >= len(stats.Bands) {
			return nil, fmt.Errorf("display statistics carry %d bands, band %d requested", len(stats.Bands), srcBand)
		}
		bs := stats.Bands[srcBand]
		w, h, err := utils.RasterShape(r)
		if err != nil {
			return nil, err
		}
		scaled := &utils.ByteRaster{Data: make([]uint8, w*h), Width: w, Height: h}
		for idx := 0; idx < w*h; idx++ {
			v, err := utils.RasterSample(r, idx%w, idx/w)
			if err != nil {
				return nil, err
			}
			d := (v + bs.Offset) * bs.Scale
			if d < 0 {
				d = 0
			} else if d > 255 {
				d = 255
			}
			scaled.Data[idx] = uint8(d)
		}
		out[n] = scaled
	}
	return out, nil
}

// readWindow fetches a sub-window of the view without building an
// intermediate Image. Used by the GeoTIFF writer.
func (i *Image) readWindow(ctx context.Context, win geo.Window) ([]utils.Raster, error) {
	sub, err := i.Slice(win.Y, win.Y+win.H, win.X, win.X+win.W)
	if err != nil {
		return nil, err
	}
	return sub.Read(ctx)
}
