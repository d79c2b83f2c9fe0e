package cache

import (
	"sort"
	"strings"
)

// Mode is the combination mode of a multi-capability check.
type Mode string

const (
	ModeAll Mode = "all"
	ModeAny Mode = "any"
)

// SingleKey is the cache key of a single-capability check.
func SingleKey(capability string) string {
	return "single:" + capability
}

// ComboKey is the cache key of a combined check. The capability list is
// sorted first, so the key does not depend on argument order.
func ComboKey(capabilities []string, mode Mode) string {
	sorted := make([]string, len(capabilities))
	copy(sorted, capabilities)
	sort.Strings(sorted)
	return "combo:" + strings.Join(sorted, ",") + ":" + string(mode)
}

// Warm inserts membership answers for every capability in capabilities and
// for the configured WarmPairs, using WarmTTL. Calling it again overwrites the
// same keys, so the cache never grows beyond what one call inserts (and never
// beyond MaxSize).
func (c *Cache) Warm(capabilities []string, membership map[string]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, capability := range capabilities {
		c.setLocked(SingleKey(capability), membership[capability], c.opts.WarmTTL)
		n++
	}
	for _, pair := range c.opts.WarmPairs {
		if len(pair) == 0 {
			continue
		}
		all, some := true, false
		for _, capability := range pair {
			all = all && membership[capability]
			some = some || membership[capability]
		}
		c.setLocked(ComboKey(pair, ModeAll), all, c.opts.WarmTTL)
		c.setLocked(ComboKey(pair, ModeAny), some, c.opts.WarmTTL)
		n += 2
	}
	c.opts.Logger.V(1).Info("warmed capability cache", "entries", n)
	return n
}
