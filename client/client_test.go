package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rdatools/rda/graph"
	"github.com/rdatools/rda/utils"
)

func testConfig(baseURL string) *utils.Config {
	cfg := &utils.Config{
		BaseURL: baseURL,
		TileURL: baseURL,
		Token:   "tok0",
		Retry:   utils.RetryPolicy{MaxRetries: 5, BackoffStart: time.Millisecond},
	}
	cfg.SetDefaults()
	return cfg
}

func imagePayload() ImageGrid {
	return ImageGrid{
		MinX: 3, MinY: 5, MaxX: 1020, MaxY: 2040,
		MinTileX: 0, MaxTileX: 3, MinTileY: 0, MaxTileY: 7,
		TileXSize: 256, TileYSize: 256,
		NumBands: 8, DataType: utils.DTypeFloat,
	}
}

func TestRegisterMemoized(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/graph", r.URL.Path)
		require.Equal(t, "Bearer tok0", r.Header.Get("Authorization"))
		atomic.AddInt32(&posts, 1)
		fmt.Fprint(w, `{"id": "g123"}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	op, err := graph.NewOp("DigitalGlobeStrip", map[string]interface{}{"catId": "x"})
	require.NoError(t, err)

	id1, err := c.Register(context.Background(), op.Graph())
	require.NoError(t, err)
	id2, err := c.Register(context.Background(), op.Graph())
	require.NoError(t, err)
	require.Equal(t, "g123", id1)
	require.Equal(t, id1, id2)
	require.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestMetadataGeorefAndCache(t *testing.T) {
	var gets int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&gets, 1)
		switch r.URL.Path {
		case "/metadata/g1/n1/image.json":
			json.NewEncoder(w).Encode(imagePayload())
		case "/metadata/g1/n1/georeferencing.json":
			json.NewEncoder(w).Encode(Georef{TranslateX: -105, TranslateY: 40, ScaleX: 1e-4, ScaleY: -1e-4, SpatialReferenceSystemCode: "EPSG:4326"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	md, err := c.Metadata(context.Background(), "g1", "n1")
	require.NoError(t, err)
	require.NotNil(t, md.Georef)
	require.Nil(t, md.RPCs)
	require.Equal(t, 8, md.Image.NumBands)

	tr, err := md.Transform()
	require.NoError(t, err)
	require.Equal(t, "EPSG:4326", tr.Proj())

	// second call comes from the TTL cache
	_, err = c.Metadata(context.Background(), "g1", "n1")
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&gets))
}

func TestMetadataRPCFallback(t *testing.T) {
	coefs := make([]float64, 20)
	coefs[0] = 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/metadata/g2/n1/image.json":
			json.NewEncoder(w).Encode(imagePayload())
		case "/metadata/g2/n1/georeferencing.json":
			http.NotFound(w, r)
		case "/metadata/g2/n1/rpcs.json":
			json.NewEncoder(w).Encode(RPCs{
				LineNumCoefs: coefs, LineDenCoefs: coefs,
				SampleNumCoefs: coefs, SampleDenCoefs: coefs,
				LonScale: 1, LatScale: 1, HeightScale: 1,
				SampleScale: 1, LineScale: 1,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	md, err := c.Metadata(context.Background(), "g2", "n1")
	require.NoError(t, err)
	require.Nil(t, md.Georef)
	require.NotNil(t, md.RPCs)

	_, err = md.Transform()
	require.NoError(t, err)
}

func TestRetryOn500(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, `{"error": "transient"}`, 500)
			return
		}
		fmt.Fprint(w, `{"id": "g9"}`)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	op, _ := graph.NewOp("Format", nil)
	id, err := c.Register(context.Background(), op.Graph())
	require.NoError(t, err)
	require.Equal(t, "g9", id)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestMaxTries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", 429)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	op, _ := graph.NewOp("Format", nil)
	_, err := c.Register(context.Background(), op.Graph())
	require.ErrorIs(t, err, utils.ErrMaxTries)
}

func TestNotFoundAndBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metadata/missing/n/image.json" {
			http.NotFound(w, r)
			return
		}
		http.Error(w, `{"error": "malformed graph"}`, 400)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Metadata(context.Background(), "missing", "n")
	require.ErrorIs(t, err, utils.ErrNotFound)

	op, _ := graph.NewOp("Format", nil)
	_, err = c.Register(context.Background(), op.Graph())
	require.ErrorIs(t, err, utils.ErrBadRequest)
	require.Contains(t, err.Error(), "malformed graph")
}

func TestTokenRefreshOn401(t *testing.T) {
	var refreshes int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshes, 1)
		fmt.Fprint(w, `{"access_token": "tok1"}`)
	})
	mux.HandleFunc("/graph", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok1" {
			http.Error(w, "expired", 401)
			return
		}
		fmt.Fprint(w, `{"id": "g1"}`)
	})

	cfg := testConfig(srv.URL)
	cfg.TokenRefreshURL = srv.URL + "/refresh"
	c := New(cfg)

	op, _ := graph.NewOp("Format", nil)
	id, err := c.Register(context.Background(), op.Graph())
	require.NoError(t, err)
	require.Equal(t, "g1", id)
	require.Equal(t, int32(1), atomic.LoadInt32(&refreshes))
	require.Equal(t, "tok1", c.Token())
}

func TestTileURLs(t *testing.T) {
	c := New(testConfig("https://rda.example.com/v1"))
	require.Equal(t,
		"https://rda.example.com/v1/tile/g1/n1/4/7.tif",
		c.TileURL("g1", "n1", 4, 7))

	u := c.TemplateTileURL("t1", "n2", 1, 2, map[string]string{"catalogId": "abc"})
	require.Contains(t, u, "/template/t1/tile/1/2?")
	require.Contains(t, u, "catalogId=abc")
	require.Contains(t, u, "nodeId=n2")
}
