package processor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/ioutil"
	"log"
	"net/http"
	"time"

	_ "golang.org/x/image/tiff"
	"golang.org/x/net/context"

	"github.com/rdatools/rda/geotiff"
	"github.com/rdatools/rda/metrics"
	"github.com/rdatools/rda/utils"
)

// TileFetcher retrieves granules concurrently, decodes them and emits
// full-tile raster stacks. Terminal failures become zero tiles unless
// the granule is strict.
type TileFetcher struct {
	Context   context.Context
	In        chan *GeoTileGranule
	Out       chan *TileResult
	Error     chan error
	Client    *http.Client
	limiter   *fetchSlots
	Policy    utils.RetryPolicy
	Token     string
	Collector *metrics.Collector
	Verbose   bool
}

func NewTileFetcher(ctx context.Context, httpClient *http.Client, concLimit int, policy utils.RetryPolicy, token string, errChan chan error) *TileFetcher {
	return &TileFetcher{
		Context: ctx,
		In:      make(chan *GeoTileGranule, 100),
		Out:     make(chan *TileResult, 100),
		Error:   errChan,
		Client:  httpClient,
		limiter: newFetchSlots(concLimit),
		Policy:  policy,
		Token:   token,
	}
}

func (f *TileFetcher) Run() {
	// Out must not close while fetch goroutines are live: emit would
	// race a send on a closed channel.
	defer func() {
		f.limiter.Wait()
		close(f.Out)
	}()
	for gran := range f.In {
		select {
		case <-f.Context.Done():
			f.sendError(fmt.Errorf("tile fetcher context has been cancelled: %v", f.Context.Err()))
			return
		default:
			f.limiter.Acquire()
			go func(g *GeoTileGranule) {
				defer f.limiter.Release()
				f.fetchOne(g)
			}(gran)
		}
	}
}

func (f *TileFetcher) fetchOne(g *GeoTileGranule) {
	bands, err := f.fetchWithRetry(g)
	if err != nil {
		if f.Collector != nil {
			f.Collector.AddFailure()
		}
		f.sendError(fmt.Errorf("%s: %v: %w", g.URL, err, utils.ErrTileFetch))
		if g.Strict {
			return
		}
		zero, zerr := zeroBands(g)
		if zerr != nil {
			f.sendError(zerr)
			return
		}
		f.emit(&TileResult{Granule: g, Bands: zero, Zeroed: true})
		return
	}
	f.emit(&TileResult{Granule: g, Bands: bands})
}

func (f *TileFetcher) emit(res *TileResult) {
	select {
	case f.Out <- res:
	case <-f.Context.Done():
	}
}

func (f *TileFetcher) fetchWithRetry(g *GeoTileGranule) ([]utils.Raster, error) {
	var lastErr error
	for attempt := 0; attempt < f.Policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if f.Collector != nil {
				f.Collector.AddRetry()
			}
			select {
			case <-time.After(f.Policy.Backoff(attempt - 1)):
			case <-f.Context.Done():
				return nil, f.Context.Err()
			}
		}

		req, err := http.NewRequest("GET", g.URL, nil)
		if err != nil {
			return nil, err
		}
		req = req.WithContext(f.Context)
		if len(f.Token) > 0 {
			req.Header.Set("Authorization", "Bearer "+f.Token)
		}

		resp, err := f.Client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("GET request to %s failed: %v", g.URL, err)
			if f.Verbose {
				log.Printf("tile fetcher: %v, attempt %d", lastErr, attempt+1)
			}
			continue
		}

		body, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("error reading tile body from %s: %v", g.URL, err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			bands, err := decodeTile(body, g)
			if err != nil {
				return nil, err
			}
			if f.Collector != nil {
				f.Collector.AddTile(int64(len(body)))
			}
			return bands, nil
		case resp.StatusCode == 429 || resp.StatusCode >= 500:
			lastErr = utils.HTTPStatusError(resp.StatusCode, g.URL, "")
			continue
		default:
			return nil, utils.HTTPStatusError(resp.StatusCode, g.URL, "")
		}
	}
	return nil, fmt.Errorf("%v: %w", lastErr, utils.ErrMaxTries)
}

func zeroBands(g *GeoTileGranule) ([]utils.Raster, error) {
	out := make([]utils.Raster, g.NumBands)
	for i := range out {
		band, err := utils.NewRaster(g.RasterType, g.Width, g.Height)
		if err != nil {
			return nil, err
		}
		out[i] = band
	}
	return out, nil
}

func isTIFF(data []byte) bool {
	return len(data) >= 4 &&
		(bytes.Equal(data[:4], []byte{'I', 'I', 42, 0}) ||
			bytes.Equal(data[:4], []byte{'M', 'M', 0, 42}))
}

// decodeTile decodes a tile payload into per-band rasters. TIFF goes
// through the multi-band decoder; anything else through the generic
// image decoders, bands leading.
func decodeTile(data []byte, g *GeoTileGranule) ([]utils.Raster, error) {
	if isTIFF(data) {
		img, err := geotiff.Decode(data)
		if err != nil {
			return nil, err
		}
		if len(img.Bands) < g.NumBands {
			return nil, fmt.Errorf("tile has %d bands, expected %d", len(img.Bands), g.NumBands)
		}
		return img.Bands[:g.NumBands], nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("undecodable tile payload: %v", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch t := img.(type) {
	case *image.Gray:
		band := &utils.ByteRaster{Data: make([]uint8, w*h), Width: w, Height: h}
		for y := 0; y < h; y++ {
			copy(band.Data[y*w:(y+1)*w], t.Pix[y*t.Stride:y*t.Stride+w])
		}
		return []utils.Raster{band}, nil
	case *image.Gray16:
		band := &utils.UInt16Raster{Data: make([]uint16, w*h), Width: w, Height: h}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := y*t.Stride + 2*x
				band.Data[y*w+x] = uint16(t.Pix[off])<<8 | uint16(t.Pix[off+1])
			}
		}
		return []utils.Raster{band}, nil
	default:
		bands := make([]*utils.ByteRaster, 3)
		for i := range bands {
			bands[i] = &utils.ByteRaster{Data: make([]uint8, w*h), Width: w, Height: h}
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, gr, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				bands[0].Data[y*w+x] = uint8(r >> 8)
				bands[1].Data[y*w+x] = uint8(gr >> 8)
				bands[2].Data[y*w+x] = uint8(bl >> 8)
			}
		}
		out := make([]utils.Raster, 0, g.NumBands)
		for i := 0; i < len(bands) && len(out) < g.NumBands; i++ {
			out = append(out, bands[i])
		}
		if len(out) < g.NumBands {
			return nil, fmt.Errorf("tile has %d bands, expected %d", len(out), g.NumBands)
		}
		return out, nil
	}
}

func (f *TileFetcher) sendError(err error) {
	select {
	case f.Error <- err:
	default:
	}
}
