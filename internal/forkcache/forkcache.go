// Package forkcache implements the shared forked-EVM cache: a process-wide,
// mutex-guarded map keyed by (rpc, block) that lazily instantiates a forked
// EVM on first reference and hands every later caller the same instance.
// Both the quote engine's fork variants and the trade replayer share this
// cache so a block that's already been forked for one purpose is reused by
// the other.
package forkcache

import "sync"

// Key identifies one forked EVM instance.
type Key struct {
	RPC   string
	Block uint64
}

// entry serializes access to one fork: callers hold entry.mu for the
// duration of their call, per the "exclusive access for the duration of
// their call" resource policy — forks are not assumed goroutine-safe.
type entry struct {
	mu   sync.Mutex
	fork interface{}
}

// Cache is the process-wide map of forked EVM instances.
type Cache struct {
	mu    sync.Mutex
	forks map[Key]*entry
}

func New() *Cache { return &Cache{forks: make(map[Key]*entry)} }

// Acquire returns the fork for key, creating it via create on first
// reference, and a release function the caller must invoke exactly once
// when done — no other caller can touch this fork until release runs.
func (c *Cache) Acquire(key Key, create func() (interface{}, error)) (fork interface{}, release func(), err error) {
	c.mu.Lock()
	e, ok := c.forks[key]
	if !ok {
		e = &entry{}
		c.forks[key] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if e.fork == nil {
		f, err := create()
		if err != nil {
			e.mu.Unlock()
			return nil, nil, err
		}
		e.fork = f
	}
	return e.fork, e.mu.Unlock, nil
}

// Len reports how many distinct (rpc, block) forks are currently cached,
// used by tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.forks)
}
