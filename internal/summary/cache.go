package summary

import (
	"sync"

	"github.com/amperelab/cellkit/internal/cell"
)

// Cache memoizes Summarize results by dataset fingerprint. Summarize is
// deterministic, so a fingerprint hit is always exact. Safe for concurrent
// use.
type Cache struct {
	mu sync.RWMutex
	m  map[string][]cell.SummaryRecord
}

// NewCache returns an empty summary cache.
func NewCache() *Cache {
	return &Cache{m: make(map[string][]cell.SummaryRecord)}
}

// Summarize returns the cached records for ds, computing and caching them on
// a miss. Callers must not mutate the returned slice.
func (c *Cache) Summarize(ds *cell.Dataset) []cell.SummaryRecord {
	key := ds.Fingerprint()

	c.mu.RLock()
	records, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		return records
	}

	records = Summarize(ds)
	c.mu.Lock()
	c.m[key] = records
	c.mu.Unlock()
	return records
}
