package state

import (
	"strings"
	"sync"
	"time"
)

// MarkPriceCache holds the latest mark price per symbol. Written by the
// pipeline's cache-update stage, read concurrently by risk calculation and
// the query API. Last-write-wins; updates carrying an older event time
// than the current entry are ignored.
type MarkPriceCache struct {
	mu      sync.RWMutex
	entries map[string]markPriceEntry
}

type markPriceEntry struct {
	price     float64
	updatedAt time.Time
}

func NewMarkPriceCache() *MarkPriceCache {
	return &MarkPriceCache{entries: make(map[string]markPriceEntry)}
}

// Update stores a mark price. Returns false when the update was discarded
// as stale.
func (c *MarkPriceCache) Update(symbol string, price float64, eventTime time.Time) bool {
	if price <= 0 {
		return false
	}
	key := strings.ToUpper(symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[key]; ok && eventTime.Before(cur.updatedAt) {
		return false
	}
	c.entries[key] = markPriceEntry{price: price, updatedAt: eventTime}
	return true
}

// Get returns the latest mark price for a symbol.
func (c *MarkPriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	return e.price, true
}

// UpdatedAt returns when the symbol's mark price was last written.
func (c *MarkPriceCache) UpdatedAt(symbol string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToUpper(symbol)]
	if !ok {
		return time.Time{}, false
	}
	return e.updatedAt, true
}

// Symbols returns every symbol with a known mark price.
func (c *MarkPriceCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	return out
}
