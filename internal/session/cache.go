package session

import (
	lru "github.com/hashicorp/golang-lru"
)

// cacheSize bounds the placement cache: it only ever needs to remember the
// handful of targets one REPL invocation is actively querying.
const cacheSize = 32

type cacheKey struct {
	pid     int
	library string
}

// PlacementCache remembers a previously resolved Placement for (pid,
// library) so a REPL issuing several queries against the same long-lived
// target does not re-parse /proc/<pid>/maps each time. A hit is still
// sanity-checked by Lookup before being trusted; Evict is for when a
// target has gone away or been re-executed.
type PlacementCache struct {
	lru *lru.Cache
}

// NewPlacementCache returns an empty, bounded cache.
func NewPlacementCache() *PlacementCache {
	c, err := lru.New(cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize
		// never is.
		panic(err)
	}
	return &PlacementCache{lru: c}
}

// Get returns the cached placement for (pid, library), if any.
func (c *PlacementCache) Get(pid int, library string) (Placement, bool) {
	v, ok := c.lru.Get(cacheKey{pid, library})
	if !ok {
		return Placement{}, false
	}
	return v.(Placement), true
}

// Put records p as the placement for (pid, library).
func (c *PlacementCache) Put(pid int, library string, p Placement) {
	c.lru.Add(cacheKey{pid, library}, p)
}

// Evict removes any cached placement for (pid, library), e.g. after an
// attach to pid fails because the process is gone.
func (c *PlacementCache) Evict(pid int, library string) {
	c.lru.Remove(cacheKey{pid, library})
}
