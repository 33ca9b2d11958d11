// Package metrics records per-read fetch statistics as JSON lines.
package metrics

import (
	"bytes"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type ReadInfo struct {
	ReadID      string        `json:"read_id"`
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	GraphID     string        `json:"graph_id"`
	NodeID      string        `json:"node_id"`
	Window      [4]int        `json:"window"`
	NumTiles    int64         `json:"num_tiles"`
	NumRetries  int64         `json:"num_retries"`
	NumFailed   int64         `json:"num_failed"`
	BytesRead   int64         `json:"bytes_read"`
}

// Collector accumulates counters for one read; the fetch path bumps
// them from many goroutines.
type Collector struct {
	Info ReadInfo

	numTiles   int64
	numRetries int64
	numFailed  int64
	bytesRead  int64

	start  time.Time
	logger Logger
}

func NewCollector(logger Logger) *Collector {
	return &Collector{
		Info: ReadInfo{
			ReadID:  uuid.New().String(),
			ReqTime: time.Now().Format(time.RFC3339),
		},
		start:  time.Now(),
		logger: logger,
	}
}

func (c *Collector) AddTile(bytesRead int64) {
	atomic.AddInt64(&c.numTiles, 1)
	atomic.AddInt64(&c.bytesRead, bytesRead)
}

func (c *Collector) AddRetry() {
	atomic.AddInt64(&c.numRetries, 1)
}

func (c *Collector) AddFailure() {
	atomic.AddInt64(&c.numFailed, 1)
}

func (c *Collector) Log() {
	if c == nil || c.logger == nil {
		return
	}
	c.Info.ReqDuration = time.Since(c.start)
	c.Info.NumTiles = atomic.LoadInt64(&c.numTiles)
	c.Info.NumRetries = atomic.LoadInt64(&c.numRetries)
	c.Info.NumFailed = atomic.LoadInt64(&c.numFailed)
	c.Info.BytesRead = atomic.LoadInt64(&c.bytesRead)
	c.logger.Log(&c.Info)
}

func (i *ReadInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
