package image

import (
	"io"
	"os"

	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"

	"github.com/rdatools/rda/geo"
	"github.com/rdatools/rda/geotiff"
	"github.com/rdatools/rda/utils"
)

type writeChunk struct {
	tileX, tileY int
	bands        []utils.Raster
}

// WriteGeoTIFF streams the view into a tiled GeoTIFF. Output tiles
// match the service tile shape; chunk reads run on the configured
// worker pool while a single goroutine owns the seekable sink.
func (i *Image) WriteGeoTIFF(ctx context.Context, ws io.WriteSeeker) error {
	rType, err := i.RasterType()
	if err != nil {
		return err
	}
	tileW := i.meta.Image.TileXSize
	tileH := i.meta.Image.TileYSize

	w, err := geotiff.NewWriter(ws, &geotiff.Options{
		Width:      i.window.W,
		Height:     i.window.H,
		NumBands:   len(i.bands),
		RasterType: rType,
		TileWidth:  tileW,
		TileHeight: tileH,
		Transform:  i.transform,
		Proj:       i.Proj(),
	})
	if err != nil {
		return err
	}

	chunks := make(chan *writeChunk, i.client.Config().ReadWorkers)
	writerDone := make(chan struct{})
	var writeErr error

	go func() {
		defer close(writerDone)
		for c := range chunks {
			if writeErr == nil {
				writeErr = w.WriteBands(c.tileX, c.tileY, c.bands)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.client.Config().ReadWorkers)
	for ty := 0; ty*tileH < i.window.H; ty++ {
		for tx := 0; tx*tileW < i.window.W; tx++ {
			tx, ty := tx, ty
			g.Go(func() error {
				win := geo.Window{
					X: tx * tileW,
					Y: ty * tileH,
					W: minInt(tileW, i.window.W-tx*tileW),
					H: minInt(tileH, i.window.H-ty*tileH),
				}
				bands, err := i.readWindow(gctx, win)
				if err != nil {
					return err
				}
				select {
				case chunks <- &writeChunk{tileX: tx, tileY: ty, bands: bands}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
	}
	err = g.Wait()
	close(chunks)
	<-writerDone
	if err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}
	return w.Close()
}

// WriteGeoTIFFFile is WriteGeoTIFF against a file path.
func (i *Image) WriteGeoTIFFFile(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := i.WriteGeoTIFF(ctx, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
