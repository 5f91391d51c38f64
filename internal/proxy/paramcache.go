package proxy

import (
	"sync"

	"studioproxy/pkg/types"
)

// ParamCache remembers the last generation parameters successfully applied
// to the live session, per model. Entries are written only after the
// session confirms an apply, so a miss means parameters must be
// (re)applied before that model's first use.
//
// The internal mutex is the parameter-cache lock of the hierarchy: it is
// always the last lock taken, and reads are safe without the processing
// lock. Writes happen from code paths that already hold processing (the
// worker's post-apply put) or model-switching (the coordinator's restore).
type ParamCache struct {
	mu      sync.Mutex
	entries map[string]types.GenParams
}

func NewParamCache() *ParamCache {
	return &ParamCache{entries: make(map[string]types.GenParams)}
}

// Get returns the last-applied parameter set for model, or ok=false on a
// miss. It never mutates the cache.
func (c *ParamCache) Get(model string) (types.GenParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[model]
	return p, ok
}

// Put overwrites the entry for model. Call only after the session
// confirmed a successful parameter application.
func (c *ParamCache) Put(model string, params types.GenParams) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[model] = params
}

// Drop removes the entry for model, forcing a reapply on next use.
func (c *ParamCache) Drop(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, model)
}

// Reset clears all entries. Used on explicit session reset or detected
// session loss.
func (c *ParamCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]types.GenParams)
}

// Len returns the number of cached models.
func (c *ParamCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
