package pricing

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
)

const numShards = 16

// Cache holds the latest resolved price per symbol, sharded to keep lock contention low
type Cache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]domain.MarketPrice
}

// NewCache creates an empty price cache
func NewCache() *Cache {
	c := &Cache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]domain.MarketPrice),
		}
	}
	return c
}

func (c *Cache) shard(symbol string) *priceShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a price under its symbol
func (c *Cache) Set(price domain.MarketPrice) {
	shard := c.shard(price.Symbol)
	shard.mu.Lock()
	shard.items[price.Symbol] = price
	shard.mu.Unlock()
}

// Get returns the cached price regardless of age
func (c *Cache) Get(symbol string) (domain.MarketPrice, bool) {
	shard := c.shard(symbol)
	shard.mu.RLock()
	price, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return price, ok
}

// Delete removes a symbol from the cache
func (c *Cache) Delete(symbol string) {
	shard := c.shard(symbol)
	shard.mu.Lock()
	delete(shard.items, symbol)
	shard.mu.Unlock()
}

// Len returns total items across all shards
func (c *Cache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries observed before cutoff and returns how many were dropped
func (c *Cache) Cleanup(cutoff time.Time) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, price := range shard.items {
			if price.ObservedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
