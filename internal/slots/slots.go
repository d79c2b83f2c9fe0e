// Package slots manages named extension points that modules contribute
// capability-gated content to.
package slots

import (
	"cmp"
	"slices"
	"sync"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Contribution is one registered piece of content for a slot.
type Contribution struct {
	ID                   string
	Slot                 string
	Content              any
	RequiredCapabilities []string
	Priority             int
	OwnerID              string

	seq uint64
}

type Options struct {
	Priority int
	// OwnerID groups contributions for bulk removal, typically a module id.
	OwnerID string
}

// Registry holds contributions per slot. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	slots map[string][]*Contribution
	seq   uint64
}

func New() *Registry {
	return &Registry{slots: make(map[string][]*Contribution)}
}

// Register adds content to slot and returns the contribution id.
func (r *Registry) Register(slot string, content any, required []string, opts Options) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	c := &Contribution{
		ID:                   uuid.NewString(),
		Slot:                 slot,
		Content:              content,
		RequiredCapabilities: append([]string(nil), required...),
		Priority:             opts.Priority,
		OwnerID:              opts.OwnerID,
		seq:                  r.seq,
	}
	r.slots[slot] = append(r.slots[slot], c)
	return c.ID
}

// Unregister removes contribution id from slot.
func (r *Registry) Unregister(slot, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.slots[slot]
	i := slices.IndexFunc(list, func(c *Contribution) bool { return c.ID == id })
	if i < 0 {
		return false
	}
	r.set(slot, slices.Delete(list, i, i+1))
	return true
}

// UnregisterOwner removes every contribution of owner across all slots and
// returns how many were removed.
func (r *Registry) UnregisterOwner(owner string) int {
	if owner == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for slot, list := range r.slots {
		kept := slices.DeleteFunc(list, func(c *Contribution) bool { return c.OwnerID == owner })
		n += len(list) - len(kept)
		r.set(slot, kept)
	}
	return n
}

func (r *Registry) set(slot string, list []*Contribution) {
	if len(list) == 0 {
		delete(r.slots, slot)
		return
	}
	r.slots[slot] = list
}

// Contributions returns the contributions of slot whose required
// capabilities are all in caps, highest priority first. Equal priorities keep
// registration order.
func (r *Registry) Contributions(slot string, caps sets.Set[string]) []Contribution {
	r.mu.RLock()
	var out []Contribution
	for _, c := range r.slots[slot] {
		if caps.HasAll(c.RequiredCapabilities...) {
			cp := *c
			cp.RequiredCapabilities = slices.Clone(c.RequiredCapabilities)
			out = append(out, cp)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Contribution) int {
		if a.Priority != b.Priority {
			return cmp.Compare(b.Priority, a.Priority)
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// HasContributions reports whether Contributions would return anything.
func (r *Registry) HasContributions(slot string, caps sets.Set[string]) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.slots[slot] {
		if caps.HasAll(c.RequiredCapabilities...) {
			return true
		}
	}
	return false
}

// Slots returns the names of slots with at least one contribution, sorted.
func (r *Registry) Slots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of contributions across all slots.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.slots {
		n += len(list)
	}
	return n
}

// Clear removes every contribution.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = make(map[string][]*Contribution)
}
