package pulse

import (
	"strconv"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/ygrebnov/errorc"
)

// Cached returns a scope that memoises up to capacity metric handles in an
// LRU cache, avoiding the definition cost of hot, repeatedly re-looked-up
// ad-hoc metrics. A full cache evicts the least recently used handle per
// insertion. capacity must be positive.
func Cached(target Scope, capacity int) (Scope, error) {
	if capacity <= 0 {
		return nil, errorc.With(ErrInvalidConfig,
			errorc.String("cache_capacity", strconv.Itoa(capacity)),
			errorc.String("", "cache capacity must be positive"),
		)
	}
	return &cached{target: target, entries: lru.New(capacity)}, nil
}

type cached struct {
	target Scope

	mu      sync.Mutex // lru.Cache is not safe for concurrent use
	entries *lru.Cache
}

type cacheEntry struct {
	kind  Kind
	write InputMetric
}

func (c *cached) Metric(name string, kind Kind) (InputMetric, error) {
	c.mu.Lock()
	if v, ok := c.entries.Get(name); ok {
		e := v.(cacheEntry)
		c.mu.Unlock()
		if e.kind != kind {
			return nil, kindConflict(name, e.kind, kind)
		}
		return e.write, nil
	}
	c.mu.Unlock()

	// Define outside the lock; the enclosed scope deduplicates by name.
	w, err := c.target.Metric(name, kind)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries.Add(name, cacheEntry{kind: kind, write: w})
	c.mu.Unlock()
	return w, nil
}

func (c *cached) Flush() error { return c.target.Flush() }

func (c *cached) Close() error {
	c.mu.Lock()
	c.entries.Clear()
	c.mu.Unlock()
	return c.target.Close()
}
