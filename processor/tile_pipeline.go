package processor

import (
	"net/http"

	"golang.org/x/net/context"

	"github.com/rdatools/rda/metrics"
	"github.com/rdatools/rda/utils"
)

// TilePipeline chains the indexer, fetcher and merger stages for one
// window read. Construct a fresh pipeline per request.
type TilePipeline struct {
	Context    context.Context
	Error      chan error
	HTTPClient *http.Client
	ConcLimit  int
	Policy     utils.RetryPolicy
	Token      string
	Collector  *metrics.Collector
	Verbose    bool
}

func NewTilePipeline(ctx context.Context, httpClient *http.Client, concLimit int, policy utils.RetryPolicy, token string, errChan chan error) *TilePipeline {
	return &TilePipeline{
		Context:    ctx,
		Error:      errChan,
		HTTPClient: httpClient,
		ConcLimit:  concLimit,
		Policy:     policy,
		Token:      token,
	}
}

// Process runs the request through the pipeline and returns the channel
// on which the assembled band stack arrives. Errors are delivered on the
// pipeline error channel; the output channel closes without a value when
// the request fails outright.
func (p *TilePipeline) Process(req *GeoTileRequest) chan []utils.Raster {
	indexer := NewTileIndexer(p.Context, p.Error)
	fetcher := NewTileFetcher(p.Context, p.HTTPClient, p.ConcLimit, p.Policy, p.Token, p.Error)
	fetcher.Collector = p.Collector
	fetcher.Verbose = p.Verbose
	merger := NewRasterMerger(p.Context, p.Error)

	fetcher.In = indexer.Out
	merger.In = fetcher.Out

	go indexer.Run()
	go fetcher.Run()
	go merger.Run(req)

	indexer.In <- req
	close(indexer.In)

	return merger.Out
}
