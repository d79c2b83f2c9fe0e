// Package events delivers module lifecycle events to typed observers.
package events

import (
	"sync"
	"sync/atomic"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

// Observer receives lifecycle events. Implementations must not block; slow
// consumers should use a ChannelObserver.
type Observer interface {
	OnModuleEvent(binderyv1alpha1.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(binderyv1alpha1.Event)

func (f ObserverFunc) OnModuleEvent(e binderyv1alpha1.Event) { f(e) }

// Emitter is what the registry and loader publish through.
type Emitter interface {
	Emit(binderyv1alpha1.Event)
}

// Bus fans events out synchronously to its observers in subscription order.
// Emit is called outside registry locks, so observers may query the registry.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	observers []subscription
}

type subscription struct {
	id       uint64
	observer Observer
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe adds o and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, subscription{id: id, observer: o})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.observers {
		if s.id == id {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

func (b *Bus) Emit(e binderyv1alpha1.Event) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	for i, s := range b.observers {
		observers[i] = s.observer
	}
	b.mu.RUnlock()

	for _, o := range observers {
		o.OnModuleEvent(e)
	}
}

// Len returns the number of subscribed observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Reset drops every observer.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = nil
}

// ChannelObserver buffers events on a bounded channel. When the buffer is full
// the event is dropped and counted rather than blocking the emitter.
type ChannelObserver struct {
	ch      chan binderyv1alpha1.Event
	dropped atomic.Uint64
}

func NewChannelObserver(buffer int) *ChannelObserver {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelObserver{ch: make(chan binderyv1alpha1.Event, buffer)}
}

func (c *ChannelObserver) OnModuleEvent(e binderyv1alpha1.Event) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side of the buffer.
func (c *ChannelObserver) Events() <-chan binderyv1alpha1.Event {
	return c.ch
}

// Dropped reports how many events were discarded because the buffer was full.
func (c *ChannelObserver) Dropped() uint64 {
	return c.dropped.Load()
}
