// Package profile provides the business attribute profile that capability
// resolution starts from.
package profile

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/bayleafwalker/bindery-runtime/internal/capability"
)

// Store supplies business attributes and notifies subscribers when they
// change.
type Store interface {
	BusinessAttributes(ctx context.Context) (capability.Attributes, error)
	Subscribe(fn func(capability.Attributes)) (cancel func())
}

// subscribers is the notification fan-out shared by the stores.
type subscribers struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(capability.Attributes)
}

func (s *subscribers) add(fn func(capability.Attributes)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[uint64]func(capability.Attributes))
	}
	id := s.next
	s.next++
	s.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.fns, id)
		})
	}
}

func (s *subscribers) notify(attrs capability.Attributes) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	fns := make([]func(capability.Attributes), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(maps.Clone(attrs))
	}
}

// MemoryStore keeps the profile in memory.
type MemoryStore struct {
	subs subscribers

	mu    sync.RWMutex
	attrs capability.Attributes
}

func NewMemoryStore(attrs capability.Attributes) *MemoryStore {
	return &MemoryStore{attrs: maps.Clone(attrs)}
}

func (m *MemoryStore) BusinessAttributes(context.Context) (capability.Attributes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.attrs), nil
}

// Set replaces the profile and notifies subscribers.
func (m *MemoryStore) Set(attrs capability.Attributes) {
	m.mu.Lock()
	m.attrs = maps.Clone(attrs)
	m.mu.Unlock()
	m.subs.notify(attrs)
}

func (m *MemoryStore) Subscribe(fn func(capability.Attributes)) func() {
	return m.subs.add(fn)
}
