package client

import (
	"log"
	"time"

	"github.com/coocood/freecache"
	"github.com/nci/gomemcache/memcache"

	"github.com/rdatools/rda/utils"
)

const localCacheSize = 32 * 1024 * 1024

// metaCache fronts the metadata and display-stats endpoints: a small
// in-process TTL cache, plus a shared memcached lookaside when one is
// configured. Both are hints; a miss just refetches.
type metaCache struct {
	local   *freecache.Cache
	mc      *memcache.Client
	ttl     time.Duration
	verbose bool
}

func newMetaCache(cfg *utils.Config) *metaCache {
	c := &metaCache{
		local:   freecache.NewCache(localCacheSize),
		ttl:     cfg.MetadataTTL,
		verbose: cfg.Verbose,
	}
	if len(cfg.MemcachedAddress) > 0 {
		c.mc = memcache.New(cfg.MemcachedAddress)
	}
	return c
}

func (c *metaCache) get(key string) ([]byte, bool) {
	data, err := c.local.Get([]byte(key))
	if err == nil {
		return data, true
	}
	if c.mc != nil {
		item, err := c.mc.Get(key)
		if err == nil && item != nil {
			c.local.Set([]byte(key), item.Value, int(c.ttl.Seconds()))
			return item.Value, true
		}
	}
	return nil, false
}

func (c *metaCache) put(key string, value []byte) {
	err := c.local.Set([]byte(key), value, int(c.ttl.Seconds()))
	if err != nil && c.verbose {
		log.Printf("metadata cache set error for %s: %v", key, err)
	}
	if c.mc != nil {
		err := c.mc.Set(&memcache.Item{Key: key, Value: value, Expiration: int32(c.ttl.Seconds())})
		if err != nil && c.verbose {
			log.Printf("memcached set error for %s: %v", key, err)
		}
	}
}
