package utils

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultFetchConcurrency = 64
	DefaultReadWorkers      = 8
	DefaultMaxRetries       = 5
	DefaultBackoffStart     = 500 * time.Millisecond
	DefaultConnectTimeout   = 30 * time.Second
	DefaultRequestTimeout   = 300 * time.Second
	DefaultMetadataTTL      = 60 * time.Second
)

// RetryPolicy is shared by the registry client and the tile fetcher.
// Historically the two carried different retry counts; they are unified
// here and overridable in one place.
type RetryPolicy struct {
	MaxRetries   int           `yaml:"max_retries"`
	BackoffStart time.Duration `yaml:"backoff_start"`
}

func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BackoffStart
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Config is the process-wide client configuration. One value per
// process, shared by all images.
type Config struct {
	BaseURL          string        `yaml:"base_url"`
	TileURL          string        `yaml:"tile_url"`
	Token            string        `yaml:"token"`
	TokenRefreshURL  string        `yaml:"token_refresh_url"`
	FetchConcurrency int           `yaml:"fetch_concurrency"`
	ReadWorkers      int           `yaml:"read_workers"`
	Retry            RetryPolicy   `yaml:"retry"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MetadataTTL      time.Duration `yaml:"metadata_ttl"`
	MemcachedAddress string        `yaml:"memcached_address"`
	StrictReads      bool          `yaml:"strict_reads"`
	Verbose          bool          `yaml:"verbose"`
}

// LoadConfig reads a yaml config file and applies environment
// overrides on top of it.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}
	if len(configFile) > 0 {
		data, err := ioutil.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file %s: %v", configFile, err)
		}
		err = yaml.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %v", configFile, err)
		}
	}
	cfg.LoadEnv()
	cfg.SetDefaults()
	return cfg, nil
}

func (cfg *Config) LoadEnv() {
	if v := os.Getenv("RDA_TOKEN"); len(v) > 0 {
		cfg.Token = v
	}
	if v := os.Getenv("RDA_BASE_URL"); len(v) > 0 {
		cfg.BaseURL = v
	}
	if v := os.Getenv("RDA_TILE_URL"); len(v) > 0 {
		cfg.TileURL = v
	}
	if v := os.Getenv("RDA_FETCH_CONCURRENCY"); len(v) > 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FetchConcurrency = n
		}
	}
	if v := os.Getenv("RDA_READ_WORKERS"); len(v) > 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReadWorkers = n
		}
	}
	if v := os.Getenv("RDA_MAX_RETRIES"); len(v) > 0 {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retry.MaxRetries = n
		}
	}
}

func (cfg *Config) SetDefaults() {
	if len(cfg.BaseURL) == 0 {
		cfg.BaseURL = "https://rda.geobigdata.io/v1"
	}
	if len(cfg.TileURL) == 0 {
		cfg.TileURL = cfg.BaseURL
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	if cfg.ReadWorkers <= 0 {
		cfg.ReadWorkers = DefaultReadWorkers
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = DefaultMaxRetries
	}
	if cfg.Retry.BackoffStart <= 0 {
		cfg.Retry.BackoffStart = DefaultBackoffStart
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = DefaultMetadataTTL
	}
}
