// Package live is the synchronization layer between the store and connected
// clients. A shared Cache holds one entry per (entity kind, key); per-room
// feeds seed an entry with a point read, attach a single store subscription
// that replaces the entry wholesale on every push, and run all mutations
// through a three-phase protocol: cancel any in-flight refetch, apply the
// post-mutation value optimistically, then commit. A failed commit rolls
// the entry back, and a reconciling refetch follows either way.
package live

import "sync"

// Cache is an explicit, injectable snapshot cache. It is the only shared
// mutable state of the layer and must only be mutated through the feed
// protocol; listeners observe every installed value.
//
// Two optimistic mutations racing a third one's rollback can transiently
// restore a value older than the later optimistic apply. That divergence is
// bounded and self-healing: the next subscription push or reconciling
// refetch replaces the entry with authoritative state.
type Cache struct {
	mu           sync.Mutex
	entries      map[string]*entry
	nextListener int
}

type entry struct {
	value any
	ok    bool
	// gen counts mutations begun against this key. A refetch started at an
	// older generation is stale and its result is discarded.
	gen       uint64
	listeners map[int]func(any)
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{listeners: make(map[int]func(any))}
		c.entries[key] = e
	}
	return e
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !e.ok {
		return nil, false
	}
	return e.value, true
}

// Replace installs value wholesale and notifies listeners. Used for remote
// pushes, optimistic applies and rollbacks alike: remote state always wins
// over unseen optimistic state once it arrives.
func (c *Cache) Replace(key string, value any) {
	c.mu.Lock()
	e := c.entryLocked(key)
	e.value = value
	e.ok = true
	fns := listenerSnapshot(e)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
}

// Begin marks the start of a mutation against key: it bumps the generation,
// which logically cancels every in-flight refetch so a stale response
// cannot clobber the upcoming optimistic value. Returns the new generation.
func (c *Cache) Begin(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.gen++
	return e.gen
}

// ReplaceIfCurrent installs a refetch result only when no mutation began
// after the refetch was started at gen.
func (c *Cache) ReplaceIfCurrent(key string, gen uint64, value any) bool {
	c.mu.Lock()
	e := c.entryLocked(key)
	if e.gen != gen {
		c.mu.Unlock()
		return false
	}
	e.value = value
	e.ok = true
	fns := listenerSnapshot(e)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(value)
	}
	return true
}

// Listen registers fn for every value installed under key. The returned
// function removes the listener.
func (c *Cache) Listen(key string, fn func(any)) func() {
	c.mu.Lock()
	e := c.entryLocked(key)
	id := c.nextListener
	c.nextListener++
	e.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			delete(e.listeners, id)
		}
		c.mu.Unlock()
	}
}

// Drop discards the entry for key. Listeners registered under the key are
// discarded with it.
func (c *Cache) Drop(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func listenerSnapshot(e *entry) []func(any) {
	fns := make([]func(any), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	return fns
}
