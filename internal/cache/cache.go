// Package cache memoizes capability-membership queries in a bounded TTL+LRU
// cache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang/groupcache/lru"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

const (
	DefaultMaxSize       = 1000
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Observer receives cache traffic. Telemetry implements it.
type Observer interface {
	ObserveCacheLookup(hit bool)
	ObserveCacheEviction()
}

type Options struct {
	// MaxSize bounds the number of entries. Zero means DefaultMaxSize.
	MaxSize int
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration
	// WarmTTL applies to entries inserted by Warm. Zero means 4*DefaultTTL.
	WarmTTL time.Duration
	// EnableStats turns on hit/miss/eviction counting.
	EnableStats   bool
	SweepInterval time.Duration
	// WarmPairs are the capability pairs Warm precomputes.
	WarmPairs [][]string

	Clock    clock.PassiveClock
	Observer Observer
	Logger   logr.Logger
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	// HitRate is Hits/(Hits+Misses), or 0 before any lookup.
	HitRate float64
}

type entry struct {
	value      any
	insertedAt time.Time
	ttl        time.Duration
	hits       uint64
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) > e.ttl
}

// Cache is a thread-safe TTL+LRU cache. Entries expire passively on read and
// actively through Sweep; at capacity the least recently used entry is evicted
// before a new key is inserted.
type Cache struct {
	opts Options

	mu sync.Mutex
	// order tracks recency. It is unbounded; capacity is enforced in Set so
	// evictions can be counted before insertion.
	order *lru.Cache
	// entries mirrors order for iteration during sweeps.
	entries map[string]*entry

	hits      uint64
	misses    uint64
	evictions uint64
}

func New(opts Options) *Cache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.WarmTTL <= 0 {
		opts.WarmTTL = 4 * opts.DefaultTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	c := &Cache{
		opts:    opts,
		entries: make(map[string]*entry),
	}
	c.order = &lru.Cache{
		OnEvicted: func(key lru.Key, _ interface{}) {
			delete(c.entries, key.(string))
		},
	}
	return c
}

// Get returns the value for key. An expired entry is removed and reported as
// a miss. A hit marks the entry most recently used.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.order.Get(key)
	if !ok {
		c.recordLookup(false)
		return nil, false
	}
	e := v.(*entry)
	if e.expired(c.opts.Clock.Now()) {
		c.order.Remove(key)
		c.recordLookup(false)
		return nil, false
	}
	e.hits++
	c.recordLookup(true)
	return e.value, true
}

// Set stores value under key for ttl (DefaultTTL when zero). Updating an
// existing key never evicts.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
}

func (c *Cache) setLocked(key string, value any, ttl time.Duration) {
	if _, exists := c.entries[key]; !exists && c.order.Len() >= c.opts.MaxSize {
		c.order.RemoveOldest()
		c.recordEviction()
	}
	e := &entry{value: value, insertedAt: c.opts.Clock.Now(), ttl: ttl}
	c.entries[key] = e
	c.order.Add(key, e)
}

// Has reports whether key holds an unexpired entry. It does not affect
// recency or statistics.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && !e.expired(c.opts.Clock.Now())
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	c.order.Remove(key)
	return true
}

// Clear removes every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Clear()
	c.entries = make(map[string]*entry)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// ResetStats zeroes the hit, miss and eviction counters.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Clock.Now()
	var expired []string
	for k, e := range c.entries {
		if e.expired(now) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		c.order.Remove(k)
	}
	return len(expired)
}

// Run sweeps expired entries every SweepInterval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	log := c.opts.Logger.WithName("cache")
	wait.UntilWithContext(ctx, func(context.Context) {
		if n := c.Sweep(); n > 0 {
			log.V(1).Info("swept expired entries", "count", n)
		}
	}, c.opts.SweepInterval)
}

// Observers are called with c.mu held and must not call back into the cache.
func (c *Cache) recordLookup(hit bool) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveCacheLookup(hit)
	}
	if !c.opts.EnableStats {
		return
	}
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

func (c *Cache) recordEviction() {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveCacheEviction()
	}
	if c.opts.EnableStats {
		c.evictions++
	}
}
