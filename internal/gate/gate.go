// Package gate answers capability membership questions for feature gates.
package gate

import (
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/clock"

	"github.com/bayleafwalker/bindery-runtime/internal/cache"
	"github.com/bayleafwalker/bindery-runtime/internal/capability"
)

// Check kinds reported to the Recorder.
const (
	KindSingle = "single"
	KindAll    = "all"
	KindAny    = "any"
)

// Recorder receives the latency of every check.
type Recorder interface {
	ObserveCapabilityCheck(kind string, d time.Duration)
}

type Options struct {
	// Cache memoizes answers. Nil disables memoization.
	Cache *cache.Cache
	// EnableWarming precomputes common answers whenever the set changes.
	EnableWarming bool
	Recorder      Recorder
	Clock         clock.PassiveClock
}

// Checker holds the resolved capability set. It is safe for concurrent use
// and never fails: an unset checker denies everything.
type Checker struct {
	opts Options

	// mu orders set replacement against memoization so a stale answer is
	// never cached after the set changes.
	mu   sync.RWMutex
	caps sets.Set[string]
}

func New(opts Options) *Checker {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Checker{opts: opts}
}

// SetCapabilities replaces the capability set and invalidates memoized
// answers.
func (c *Checker) SetCapabilities(caps sets.Set[string]) {
	cp := caps.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps = cp
	if c.opts.Cache == nil {
		return
	}
	c.opts.Cache.Clear()
	if c.opts.EnableWarming {
		membership := make(map[string]bool, cp.Len())
		for k := range cp {
			membership[k] = true
		}
		c.opts.Cache.Warm(sets.List(cp.Union(sets.New(capability.Vocabulary()...))), membership)
	}
}

// Capabilities returns a copy of the current set.
func (c *Checker) Capabilities() sets.Set[string] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.caps == nil {
		return sets.New[string]()
	}
	return c.caps.Clone()
}

func (c *Checker) Has(name string) bool {
	defer c.observe(KindSingle, c.opts.Clock.Now())
	return c.memo(cache.SingleKey(name), func(s sets.Set[string]) bool {
		return s.Has(name)
	})
}

// HasAll reports whether every capability is present. No capabilities is
// trivially true.
func (c *Checker) HasAll(names ...string) bool {
	defer c.observe(KindAll, c.opts.Clock.Now())
	if len(names) == 0 {
		return true
	}
	return c.memo(cache.ComboKey(names, cache.ModeAll), func(s sets.Set[string]) bool {
		return s.HasAll(names...)
	})
}

// HasAny reports whether at least one capability is present. No capabilities
// is false.
func (c *Checker) HasAny(names ...string) bool {
	defer c.observe(KindAny, c.opts.Clock.Now())
	if len(names) == 0 {
		return false
	}
	return c.memo(cache.ComboKey(names, cache.ModeAny), func(s sets.Set[string]) bool {
		return s.HasAny(names...)
	})
}

func (c *Checker) memo(key string, eval func(sets.Set[string]) bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.caps == nil {
		return false
	}
	if c.opts.Cache == nil {
		return eval(c.caps)
	}
	if v, ok := c.opts.Cache.Get(key); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	result := eval(c.caps)
	c.opts.Cache.Set(key, result, 0)
	return result
}

func (c *Checker) observe(kind string, start time.Time) {
	if c.opts.Recorder != nil {
		c.opts.Recorder.ObserveCapabilityCheck(kind, c.opts.Clock.Since(start))
	}
}
