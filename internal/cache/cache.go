// Package cache provides the bounded artifact cache with pluggable eviction.
package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/coffeefilter/internal/types"
)

// DefaultCapacity is the number of artifacts kept when none is configured.
const DefaultCapacity = 100

// ArtifactCache maps source keys to compiled artifacts. Every operation is
// atomic; the number of entries never exceeds the capacity once Put returns.
type ArtifactCache struct {
	entries  map[string]*types.Artifact
	policy   Policy
	capacity int
	mutex    sync.Mutex
	// Statistics tracking (atomic for lock-free reads)
	hits      int64
	misses    int64
	puts      int64
	removals  int64
	evictions int64
	onEvict   func(key string)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int     `json:"entries" yaml:"entries"`
	Capacity  int     `json:"capacity" yaml:"capacity"`
	Bytes     int64   `json:"bytes" yaml:"bytes"`
	Hits      int64   `json:"hits" yaml:"hits"`
	Misses    int64   `json:"misses" yaml:"misses"`
	Puts      int64   `json:"puts" yaml:"puts"`
	Removals  int64   `json:"removals" yaml:"removals"`
	Evictions int64   `json:"evictions" yaml:"evictions"`
	HitRate   float64 `json:"hit_rate" yaml:"hit_rate"`
}

// Option configures an ArtifactCache.
type Option func(*ArtifactCache)

// WithPolicy replaces the default LRU policy.
func WithPolicy(p Policy) Option {
	return func(c *ArtifactCache) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithEvictionCallback registers fn to run, outside the cache lock, for each
// key evicted because of capacity.
func WithEvictionCallback(fn func(key string)) Option {
	return func(c *ArtifactCache) {
		c.onEvict = fn
	}
}

// New creates a cache holding at most capacity artifacts.
func New(capacity int, opts ...Option) (*ArtifactCache, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache capacity must be at least 1, got %d", capacity)
	}

	c := &ArtifactCache{
		entries:  make(map[string]*types.Artifact, capacity),
		policy:   NewPolicy(LRU),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the artifact for key and marks it most recently used. It does
// not check freshness.
func (c *ArtifactCache) Get(key string) (*types.Artifact, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	artifact, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.policy.OnGet(key)
	atomic.AddInt64(&c.hits, 1)
	return artifact, true
}

// Put inserts or replaces the artifact for key, marks it most recently used
// and evicts until the cache is within capacity.
func (c *ArtifactCache) Put(key string, artifact *types.Artifact) {
	if artifact == nil {
		return
	}

	var evicted []string
	func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()

		c.entries[key] = artifact
		c.policy.OnPut(key)
		atomic.AddInt64(&c.puts, 1)

		for len(c.entries) > c.capacity {
			victim, ok := c.policy.Evict()
			if !ok {
				break
			}
			delete(c.entries, victim)
			atomic.AddInt64(&c.evictions, 1)
			evicted = append(evicted, victim)
		}
	}()

	if c.onEvict != nil {
		for _, key := range evicted {
			c.onEvict(key)
		}
	}
}

// Remove drops key. It reports whether an entry was present.
func (c *ArtifactCache) Remove(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.policy.Remove(key)
	atomic.AddInt64(&c.removals, 1)
	return true
}

// Peek returns the artifact for key without touching recency or counters.
func (c *ArtifactCache) Peek(key string) (*types.Artifact, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	artifact, ok := c.entries[key]
	return artifact, ok
}

// Len returns the number of cached artifacts.
func (c *ArtifactCache) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Capacity returns the configured maximum entry count.
func (c *ArtifactCache) Capacity() int {
	return c.capacity
}

// Keys lists cached keys from most to least recently used (for LRU).
func (c *ArtifactCache) Keys() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.policy.Keys()
}

// Clear drops every entry. Counters are kept.
func (c *ArtifactCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key := range c.entries {
		c.policy.Remove(key)
	}
	c.entries = make(map[string]*types.Artifact, c.capacity)
}

// Stats returns a snapshot of the cache counters.
func (c *ArtifactCache) Stats() Stats {
	c.mutex.Lock()
	entries := len(c.entries)
	var size int64
	for _, artifact := range c.entries {
		size += int64(artifact.Size())
	}
	c.mutex.Unlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:   entries,
		Capacity:  c.capacity,
		Bytes:     size,
		Hits:      hits,
		Misses:    misses,
		Puts:      atomic.LoadInt64(&c.puts),
		Removals:  atomic.LoadInt64(&c.removals),
		Evictions: atomic.LoadInt64(&c.evictions),
		HitRate:   rate,
	}
}
