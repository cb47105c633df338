// Package cache memoizes fetch results for the duration of one cycle.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// Result is the outcome of fetching one URL, success or failure.
type Result struct {
	Observation tracker.Observation
	Err         error
	// Attempts is the number of network attempts the fetch used.
	Attempts int
}

// Cycle caches results by URL. Concurrent Do calls for the same URL share a
// single execution of fn. A Cycle is discarded when its run ends.
type Cycle struct {
	mu      sync.RWMutex
	results map[string]Result
	group   singleflight.Group
}

// New returns an empty cycle cache.
func New() *Cycle {
	return &Cycle{results: make(map[string]Result)}
}

// Get returns the cached result for url.
func (c *Cycle) Get(url string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[url]
	return r, ok
}

// Put stores a result for url.
func (c *Cycle) Put(url string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[url] = result
}

// Len reports the number of cached URLs.
func (c *Cycle) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Do returns the cached result for url or runs fn once, shared by every
// concurrent caller. shared is false only for the caller whose fn ran.
// Results produced after ctx ended are not cached, so a cancelled fetch is
// never mistaken for a real failure later.
func (c *Cycle) Do(ctx context.Context, url string, fn func(context.Context) Result) (result Result, shared bool) {
	if r, ok := c.Get(url); ok {
		return r, true
	}
	executed := false
	v, _, _ := c.group.Do(url, func() (any, error) {
		if r, ok := c.Get(url); ok {
			return r, nil
		}
		executed = true
		r := fn(ctx)
		if ctx.Err() == nil {
			c.Put(url, r)
		}
		return r, nil
	})
	return v.(Result), !executed
}
