// Package client talks to the platform's graph registry and tile
// service over HTTPS. One Client per process; all images share it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rdatools/rda/graph"
	"github.com/rdatools/rda/utils"
)

type Client struct {
	cfg    *utils.Config
	http   *http.Client
	caches *metaCache

	tokenMu sync.Mutex
	token   string

	graphIDMu sync.Mutex
	graphIDs  map[string]string
}

func New(cfg *utils.Config) *Client {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				MaxIdleConnsPerHost: cfg.FetchConcurrency,
			},
		},
		caches:   newMetaCache(cfg),
		token:    cfg.Token,
		graphIDs: map[string]string{},
	}
}

func (c *Client) Config() *utils.Config {
	return c.cfg
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.token
}

// refreshToken serializes refreshes: concurrent 401s trigger one POST
// to the refresh endpoint; latecomers reuse the replaced token.
func (c *Client) refreshToken(ctx context.Context, stale string) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != stale {
		return nil
	}
	if len(c.cfg.TokenRefreshURL) == 0 {
		return fmt.Errorf("no token refresh endpoint configured: %w", utils.ErrUnauthorized)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.TokenRefreshURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("token refresh failed: %v", err)
	}
	if resp.StatusCode != 200 {
		return utils.HTTPStatusError(resp.StatusCode, c.cfg.TokenRefreshURL, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	err = json.Unmarshal(body, &payload)
	if err != nil || len(payload.AccessToken) == 0 {
		return fmt.Errorf("token refresh returned no token")
	}
	c.token = payload.AccessToken
	return nil
}

// Get issues an authenticated GET against an arbitrary platform URL
// with the client retry policy applied. The image factory uses it for
// the strip metadata side queries.
func (c *Client) Get(ctx context.Context, reqURL string) ([]byte, error) {
	return c.do(ctx, "GET", reqURL, nil)
}

// do performs one HTTP round trip with the unified retry policy:
// transport errors, 429 and 5xx retry with exponential backoff; a 401
// triggers one token refresh before surfacing.
func (c *Client) do(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	refreshed := false
	var lastErr error

	for attempt := 0; attempt < c.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.Retry.Backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.Token())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s %s failed: %v", method, reqURL, err)
			if c.cfg.Verbose {
				log.Printf("client: %v, attempt %d", lastErr, attempt+1)
			}
			continue
		}

		respBody, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("error reading response from %s: %v", reqURL, err)
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil
		case resp.StatusCode == 401 && !refreshed:
			stale := c.Token()
			if err := c.refreshToken(ctx, stale); err != nil {
				return nil, err
			}
			refreshed = true
			attempt--
			continue
		case resp.StatusCode == 429 || resp.StatusCode >= 500:
			lastErr = utils.HTTPStatusError(resp.StatusCode, reqURL, serverMessage(respBody))
			if c.cfg.Verbose {
				log.Printf("client: %v, attempt %d", lastErr, attempt+1)
			}
			continue
		default:
			return nil, utils.HTTPStatusError(resp.StatusCode, reqURL, serverMessage(respBody))
		}
	}
	return nil, fmt.Errorf("%v: %w", lastErr, utils.ErrMaxTries)
}

func serverMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error) > 0 {
			return payload.Error
		}
		if len(payload.Message) > 0 {
			return payload.Message
		}
	}
	return ""
}

// Register posts the canonical graph payload and returns the server
// assigned graph id. Registration is idempotent server side; the id is
// memoized per canonical payload.
func (c *Client) Register(ctx context.Context, g *graph.Graph) (string, error) {
	payload, err := g.CanonicalJSON()
	if err != nil {
		return "", err
	}

	c.graphIDMu.Lock()
	if id, ok := c.graphIDs[string(payload)]; ok {
		c.graphIDMu.Unlock()
		return id, nil
	}
	c.graphIDMu.Unlock()

	body, err := c.do(ctx, "POST", c.cfg.BaseURL+"/graph", payload)
	if err != nil {
		return "", err
	}
	id := parseIDResponse(body)
	if len(id) == 0 {
		return "", fmt.Errorf("graph registry returned no id")
	}

	c.graphIDMu.Lock()
	c.graphIDs[string(payload)] = id
	c.graphIDMu.Unlock()
	return id, nil
}

func parseIDResponse(body []byte) string {
	var asObj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &asObj); err == nil && len(asObj.ID) > 0 {
		return asObj.ID
	}
	var asStr string
	if err := json.Unmarshal(body, &asStr); err == nil {
		return asStr
	}
	return strings.TrimSpace(string(body))
}

// Metadata fetches and caches the image metadata for a (graph, node)
// pair. The georeferencing block 404s for non-ortho products, in which
// case the rpcs block is fetched instead.
func (c *Client) Metadata(ctx context.Context, graphID, nodeID string) (*ImageMetadata, error) {
	cacheKey := "md/" + graphID + "/" + nodeID
	if data, ok := c.caches.get(cacheKey); ok {
		md := &ImageMetadata{}
		if err := json.Unmarshal(data, md); err == nil {
			return md, nil
		}
	}

	base := fmt.Sprintf("%s/metadata/%s/%s", c.cfg.BaseURL, graphID, nodeID)

	body, err := c.do(ctx, "GET", base+"/image.json", nil)
	if err != nil {
		return nil, err
	}
	md := &ImageMetadata{}
	err = json.Unmarshal(body, &md.Image)
	if err != nil {
		return nil, fmt.Errorf("error parsing image metadata for %s/%s: %v", graphID, nodeID, err)
	}

	geoBody, err := c.do(ctx, "GET", base+"/georeferencing.json", nil)
	if err == nil {
		md.Georef = &Georef{}
		if err := json.Unmarshal(geoBody, md.Georef); err != nil {
			return nil, fmt.Errorf("error parsing georeferencing for %s/%s: %v", graphID, nodeID, err)
		}
	} else if isNotFound(err) {
		rpcBody, err := c.do(ctx, "GET", base+"/rpcs.json", nil)
		if err != nil {
			return nil, fmt.Errorf("product has neither georef nor rpcs: %v", err)
		}
		md.RPCs = &RPCs{}
		if err := json.Unmarshal(rpcBody, md.RPCs); err != nil {
			return nil, fmt.Errorf("error parsing rpcs for %s/%s: %v", graphID, nodeID, err)
		}
	} else {
		return nil, err
	}

	if data, err := json.Marshal(md); err == nil {
		c.caches.put(cacheKey, data)
	}
	return md, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, utils.ErrNotFound)
}

// DisplayStats fetches per-band display scaling for RGB export.
func (c *Client) DisplayStats(ctx context.Context, graphID, nodeID string) (*DisplayStats, error) {
	cacheKey := "ds/" + graphID + "/" + nodeID
	if data, ok := c.caches.get(cacheKey); ok {
		ds := &DisplayStats{}
		if err := json.Unmarshal(data, ds); err == nil {
			return ds, nil
		}
	}

	reqURL := fmt.Sprintf("%s/display-stats/%s/%s", c.cfg.BaseURL, graphID, nodeID)
	body, err := c.do(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	ds := &DisplayStats{}
	err = json.Unmarshal(body, ds)
	if err != nil {
		return nil, fmt.Errorf("error parsing display stats for %s/%s: %v", graphID, nodeID, err)
	}
	c.caches.put(cacheKey, body)
	return ds, nil
}

// RegisterTemplate stores a named graph template server side.
func (c *Client) RegisterTemplate(ctx context.Context, tpl *graph.Graph) (string, error) {
	payload, err := tpl.CanonicalJSON()
	if err != nil {
		return "", err
	}
	body, err := c.do(ctx, "POST", c.cfg.BaseURL+"/template", payload)
	if err != nil {
		return "", err
	}
	id := parseIDResponse(body)
	if len(id) == 0 {
		return "", fmt.Errorf("template registry returned no id")
	}
	return id, nil
}

// TemplateMetadata is Metadata over a server-stored template with
// name-substituted parameters.
func (c *Client) TemplateMetadata(ctx context.Context, templateID, nodeID string, params map[string]string) (*ImageMetadata, error) {
	cacheKey := "tmd/" + templateID + "/" + nodeID + "/" + flattenParams(params)
	if data, ok := c.caches.get(cacheKey); ok {
		md := &ImageMetadata{}
		if err := json.Unmarshal(data, md); err == nil {
			return md, nil
		}
	}

	vals := url.Values{}
	if len(nodeID) > 0 {
		vals.Set("nodeId", nodeID)
	}
	for k, v := range params {
		vals.Set(k, v)
	}
	reqURL := fmt.Sprintf("%s/template/%s/metadata?%s", c.cfg.BaseURL, templateID, vals.Encode())
	body, err := c.do(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	md := &ImageMetadata{}
	err = json.Unmarshal(body, md)
	if err != nil {
		return nil, fmt.Errorf("error parsing template metadata for %s: %v", templateID, err)
	}
	if md.Georef == nil && md.RPCs == nil {
		return nil, fmt.Errorf("template metadata for %s carries neither georef nor rpcs", templateID)
	}
	c.caches.put(cacheKey, body)
	return md, nil
}

func flattenParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}
	return sb.String()
}

// Materialize submits an async bulk render job.
func (c *Client) Materialize(ctx context.Context, req *MaterializeRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	body, err := c.do(ctx, "POST", c.cfg.BaseURL+"/template/materialize", payload)
	if err != nil {
		return "", err
	}
	var status MaterializeStatus
	if err := json.Unmarshal(body, &status); err == nil && len(status.JobID) > 0 {
		return status.JobID, nil
	}
	id := parseIDResponse(body)
	if len(id) == 0 {
		return "", fmt.Errorf("materialize returned no job id")
	}
	return id, nil
}

func (c *Client) MaterializeStatus(ctx context.Context, jobID string) (*MaterializeStatus, error) {
	reqURL := fmt.Sprintf("%s/template/materialize/status/%s", c.cfg.BaseURL, jobID)
	body, err := c.do(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	status := &MaterializeStatus{}
	err = json.Unmarshal(body, status)
	if err != nil {
		return nil, fmt.Errorf("error parsing materialize status for %s: %v", jobID, err)
	}
	return status, nil
}

// TileURL addresses one graph tile on the tile service.
func (c *Client) TileURL(graphID, nodeID string, tileX, tileY int) string {
	return fmt.Sprintf("%s/tile/%s/%s/%d/%d.tif", c.cfg.TileURL, graphID, nodeID, tileX, tileY)
}

// TemplateTileURL addresses one template tile, with template variables
// passed as query parameters.
func (c *Client) TemplateTileURL(templateID, nodeID string, tileX, tileY int, params map[string]string) string {
	vals := url.Values{}
	if len(nodeID) > 0 {
		vals.Set("nodeId", nodeID)
	}
	for k, v := range params {
		vals.Set(k, v)
	}
	return fmt.Sprintf("%s/template/%s/tile/%d/%d?%s", c.cfg.TileURL, templateID, tileX, tileY, vals.Encode())
}

// HTTP exposes the shared transport for the tile fetcher; one
// connection pool per process.
func (c *Client) HTTP() *http.Client {
	return c.http
}
