// Package cache keeps the last known price per trading pair.
package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const numShards = 16

// PriceCache is a sharded last-price table keyed by upper-case pair.
type PriceCache struct {
	shards [numShards]*priceShard
	now    func() time.Time
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]priceEntry
}

type priceEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// Quote is a cached price with its age.
type Quote struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	c := &PriceCache{now: time.Now}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{items: make(map[string]priceEntry)}
	}
	return c
}

func key(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

func (c *PriceCache) shard(k string) *priceShard {
	h := fnv.New32a()
	h.Write([]byte(k))
	return c.shards[h.Sum32()%numShards]
}

// Set stores the price of pair.
func (c *PriceCache) Set(pair string, price decimal.Decimal) {
	k := key(pair)
	s := c.shard(k)
	s.mu.Lock()
	s.items[k] = priceEntry{price: price, updatedAt: c.now()}
	s.mu.Unlock()
}

// Get returns the last price of pair.
func (c *PriceCache) Get(pair string) (decimal.Decimal, bool) {
	q, ok := c.Quote(pair)
	return q.Price, ok
}

// Quote returns the last price of pair with its update time.
func (c *PriceCache) Quote(pair string) (Quote, bool) {
	k := key(pair)
	s := c.shard(k)
	s.mu.RLock()
	e, ok := s.items[k]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	return Quote{Pair: k, Price: e.price, UpdatedAt: e.updatedAt}, true
}

// Delete removes pair from the cache.
func (c *PriceCache) Delete(pair string) {
	k := key(pair)
	s := c.shard(k)
	s.mu.Lock()
	delete(s.items, k)
	s.mu.Unlock()
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge.
func (c *PriceCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.updatedAt.Before(cutoff) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns every cached quote.
func (c *PriceCache) All() []Quote {
	var out []Quote
	for _, s := range c.shards {
		s.mu.RLock()
		for k, e := range s.items {
			out = append(out, Quote{Pair: k, Price: e.price, UpdatedAt: e.updatedAt})
		}
		s.mu.RUnlock()
	}
	return out
}
