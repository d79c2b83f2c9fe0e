// Package registry is the central store of registered modules and their
// lifecycle state.
//
// The registry owns every state transition. Mutations are synchronous and
// complete under the registry lock; lifecycle hooks run outside that lock,
// serialized per module, so a hook may read the registry without deadlocking.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
	"github.com/bayleafwalker/bindery-runtime/internal/events"
)

const (
	DefaultLoadTimeThreshold = 5 * time.Second
	DefaultMemoryThreshold   = 50 << 20
)

type Options struct {
	Emitter events.Emitter
	Clock   clock.PassiveClock
	Logger  logr.Logger

	// LoadTimeThreshold and MemoryThreshold mark a loaded module degraded.
	LoadTimeThreshold time.Duration
	MemoryThreshold   int64
}

type entry struct {
	def *binderyv1alpha1.Module

	state    binderyv1alpha1.ModuleState
	instance any
	err      error
	active   bool
	loadedAt time.Time

	loadDuration time.Duration
	health       *binderyv1alpha1.HealthReport

	// op serializes activate/deactivate/unregister for this module.
	op sync.Mutex
}

// Registry tracks module definitions and their state.
type Registry struct {
	opts Options
	log  logr.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if opts.LoadTimeThreshold <= 0 {
		opts.LoadTimeThreshold = DefaultLoadTimeThreshold
	}
	if opts.MemoryThreshold <= 0 {
		opts.MemoryThreshold = DefaultMemoryThreshold
	}
	return &Registry{
		opts:    opts,
		log:     opts.Logger.WithName("registry"),
		entries: make(map[string]*entry),
	}
}

// Register adds m in the idle state. The definition is copied; later changes
// to m have no effect.
func (r *Registry) Register(m *binderyv1alpha1.Module) error {
	if err := ValidateModule(m); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.entries[m.ID]; exists {
		r.mu.Unlock()
		return apperrors.WithMetadata(apperrors.CodeDuplicateModule,
			fmt.Sprintf("module %q already registered", m.ID),
			map[string]string{"module": m.ID})
	}
	r.entries[m.ID] = &entry{def: m.DeepCopy(), state: binderyv1alpha1.ModuleStateIdle}
	r.order = append(r.order, m.ID)
	r.mu.Unlock()

	r.log.V(1).Info("registered module", "module", m.ID, "version", m.Version)
	r.emit(binderyv1alpha1.EventRegistered, m.ID, nil)
	return nil
}

// Unregister removes id. An active module is deactivated first and its
// deactivation hook must succeed. Unregistering during an in-flight load is
// refused. It returns false when id was not registered.
func (r *Registry) Unregister(ctx context.Context, id string) (bool, error) {
	e := r.lookup(id)
	if e == nil {
		return false, nil
	}

	e.op.Lock()
	defer e.op.Unlock()

	r.mu.RLock()
	state, active := e.state, e.active
	r.mu.RUnlock()

	if state == binderyv1alpha1.ModuleStateLoading {
		return false, apperrors.WithMetadata(apperrors.CodeLoadInFlight,
			fmt.Sprintf("module %q is loading", id), map[string]string{"module": id})
	}
	if active {
		if err := r.deactivateLocked(ctx, id, e); err != nil {
			return false, err
		}
	}

	r.mu.Lock()
	if r.entries[id] != e {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.log.V(1).Info("unregistered module", "module", id)
	r.emit(binderyv1alpha1.EventUnregistered, id, nil)
	return true, nil
}

// SetLoading moves id from idle or error to loading.
func (r *Registry) SetLoading(id string) error {
	err := r.transition(id, func(e *entry) error {
		if e.state != binderyv1alpha1.ModuleStateIdle && e.state != binderyv1alpha1.ModuleStateError {
			return invalidTransition(id, e.state, binderyv1alpha1.ModuleStateLoading)
		}
		e.state = binderyv1alpha1.ModuleStateLoading
		e.err = nil
		return nil
	})
	if err != nil {
		return err
	}
	r.emit(binderyv1alpha1.EventLoading, id, nil)
	return nil
}

// SetInstance records the loaded instance and moves id from loading to
// loaded. instance may be nil for modules without runtime state.
func (r *Registry) SetInstance(id string, instance any) error {
	err := r.transition(id, func(e *entry) error {
		if e.state != binderyv1alpha1.ModuleStateLoading {
			return invalidTransition(id, e.state, binderyv1alpha1.ModuleStateLoaded)
		}
		e.state = binderyv1alpha1.ModuleStateLoaded
		e.instance = instance
		e.loadedAt = r.opts.Clock.Now()
		return nil
	})
	if err != nil {
		return err
	}
	r.emit(binderyv1alpha1.EventLoaded, id, nil)
	return nil
}

// SetError records cause and moves id from loading to error.
func (r *Registry) SetError(id string, cause error) error {
	err := r.transition(id, func(e *entry) error {
		if e.state != binderyv1alpha1.ModuleStateLoading {
			return invalidTransition(id, e.state, binderyv1alpha1.ModuleStateError)
		}
		e.state = binderyv1alpha1.ModuleStateError
		e.err = cause
		e.instance = nil
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Error(cause, "module load failed", "module", id)
	r.emit(binderyv1alpha1.EventError, id, cause)
	return nil
}

// Reset returns an inactive loaded or errored module to idle, dropping its
// instance, error and metrics.
func (r *Registry) Reset(id string) error {
	changed := false
	err := r.transition(id, func(e *entry) error {
		switch {
		case e.active:
			return apperrors.Newf(apperrors.CodeInvalidTransition, "module %q is active; deactivate before reset", id)
		case e.state == binderyv1alpha1.ModuleStateIdle:
			return nil
		case e.state == binderyv1alpha1.ModuleStateLoading:
			return invalidTransition(id, e.state, binderyv1alpha1.ModuleStateIdle)
		}
		changed = true
		e.state = binderyv1alpha1.ModuleStateIdle
		e.instance = nil
		e.err = nil
		e.loadedAt = time.Time{}
		e.loadDuration = 0
		e.health = nil
		return nil
	})
	if err != nil || !changed {
		return err
	}
	r.emit(binderyv1alpha1.EventUnloaded, id, nil)
	return nil
}

// RecordLoadMetrics stores how long the last load of id took.
func (r *Registry) RecordLoadMetrics(id string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.loadDuration = d
	}
}

// Activate runs the instance's OnActivate hook and marks id active. It is a
// no-op for an active module. The flag is not changed when the hook fails.
func (r *Registry) Activate(ctx context.Context, id string) error {
	e := r.lookup(id)
	if e == nil {
		return notFound(id)
	}

	e.op.Lock()
	defer e.op.Unlock()

	r.mu.RLock()
	state, active, instance := e.state, e.active, e.instance
	r.mu.RUnlock()

	if active {
		return nil
	}
	if state != binderyv1alpha1.ModuleStateLoaded {
		return apperrors.WithMetadata(apperrors.CodeNotLoaded,
			fmt.Sprintf("module %q is %s, not loaded", id, state), map[string]string{"module": id})
	}
	if h, ok := instance.(binderyv1alpha1.Activatable); ok {
		if err := h.OnActivate(ctx); err != nil {
			return hookFailed(id, "OnActivate", err)
		}
	}

	r.mu.Lock()
	e.active = true
	r.mu.Unlock()

	r.log.V(1).Info("activated module", "module", id)
	r.emit(binderyv1alpha1.EventActivated, id, nil)
	return nil
}

// Deactivate runs OnDeactivate and clears the active flag. It is a no-op for
// an inactive module.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	e := r.lookup(id)
	if e == nil {
		return notFound(id)
	}

	e.op.Lock()
	defer e.op.Unlock()
	return r.deactivateLocked(ctx, id, e)
}

func (r *Registry) deactivateLocked(ctx context.Context, id string, e *entry) error {
	r.mu.RLock()
	active, instance := e.active, e.instance
	r.mu.RUnlock()

	if !active {
		return nil
	}
	if h, ok := instance.(binderyv1alpha1.Deactivatable); ok {
		if err := h.OnDeactivate(ctx); err != nil {
			return hookFailed(id, "OnDeactivate", err)
		}
	}

	r.mu.Lock()
	e.active = false
	r.mu.Unlock()

	r.log.V(1).Info("deactivated module", "module", id)
	r.emit(binderyv1alpha1.EventDeactivated, id, nil)
	return nil
}

// Get returns a copy of the definition of id.
func (r *Registry) Get(id string) (*binderyv1alpha1.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.def.DeepCopy(), true
}

func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// IDs returns registered module ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns copies of every definition in registration order.
func (r *Registry) List() []*binderyv1alpha1.Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*binderyv1alpha1.Module, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].def.DeepCopy())
	}
	return out
}

// State returns the load state of id. Unknown modules report false.
func (r *Registry) State(id string) (binderyv1alpha1.ModuleState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return "", false
	}
	return e.state, true
}

// Instance returns the loaded instance of id, if any.
func (r *Registry) Instance(id string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.state != binderyv1alpha1.ModuleStateLoaded {
		return nil, false
	}
	return e.instance, true
}

// Err returns the recorded load error of id.
func (r *Registry) Err(id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.err
	}
	return nil
}

func (r *Registry) IsActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.active
}

// Clear drops every entry without running hooks. Intended for test and
// runtime reset paths that have already unloaded modules.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
	r.order = nil
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) transition(id string, fn func(e *entry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return notFound(id)
	}
	return fn(e)
}

func (r *Registry) emit(t binderyv1alpha1.EventType, id string, cause error) {
	if r.opts.Emitter == nil {
		return
	}
	ev := binderyv1alpha1.Event{Type: t, ModuleID: id, Time: r.opts.Clock.Now()}
	if cause != nil {
		ev.Error = cause.Error()
	}
	r.opts.Emitter.Emit(ev)
}

func notFound(id string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("module %q not registered", id), map[string]string{"module": id})
}

func invalidTransition(id string, from, to binderyv1alpha1.ModuleState) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
		fmt.Sprintf("module %q: cannot move from %s to %s", id, from, to),
		map[string]string{"module": id, "from": string(from), "to": string(to)})
}

func hookFailed(id, hook string, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeHookFailed,
		fmt.Sprintf("module %q %s", id, hook),
		map[string]string{"module": id, "hook": hook}, cause)
}
