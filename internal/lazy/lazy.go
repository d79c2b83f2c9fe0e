// Package lazy defers loading capability-gated features until first use.
//
// Each capability has its own small state machine: not-loaded, loading,
// loaded or error. A failed load may be retried by calling Load again.
package lazy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"

	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
)

type State string

const (
	StateNotLoaded State = "not-loaded"
	StateLoading   State = "loading"
	StateLoaded    State = "loaded"
	StateError     State = "error"
)

// LoadFunc produces the feature bundle for a capability.
type LoadFunc func(ctx context.Context) (any, error)

// Gate decides whether a capability is enabled.
type Gate interface {
	Has(capability string) bool
}

type Options struct {
	// Gate, when set, refuses loads for disabled capabilities.
	Gate   Gate
	Clock  clock.WithTicker
	Logger logr.Logger
}

// Stats aggregates load activity across all capabilities.
type Stats struct {
	Registered int
	Loaded     int
	Loading    int
	Errored    int
	// LoadRate is Loaded/Registered, or 0 with nothing registered.
	LoadRate        float64
	Attempts        int
	Failures        int
	AverageLoadTime time.Duration
}

type entry struct {
	load     LoadFunc
	state    State
	value    any
	err      error
	duration time.Duration
}

type Loader struct {
	opts Options
	log  logr.Logger

	mu        sync.Mutex
	entries   map[string]*entry
	attempts  int
	failures  int
	successes int
	total     time.Duration

	flight singleflight.Group
	queue  workqueue.TypedDelayingInterface[string]
}

func New(opts Options) *Loader {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	return &Loader{
		opts:    opts,
		log:     opts.Logger.WithName("lazy"),
		entries: make(map[string]*entry),
		queue: workqueue.NewTypedDelayingQueueWithConfig(workqueue.TypedDelayingQueueConfig[string]{
			Name:  "bindery_lazy_preload",
			Clock: opts.Clock,
		}),
	}
}

// Register sets the load function of capability. Re-registering replaces the
// function and resets the capability to not-loaded.
func (l *Loader) Register(capability string, fn LoadFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[capability] = &entry{load: fn, state: StateNotLoaded}
}

// Load returns the bundle for capability, loading it on first use.
// Concurrent calls share one load.
func (l *Loader) Load(ctx context.Context, capability string) (any, error) {
	if l.opts.Gate != nil && !l.opts.Gate.Has(capability) {
		return nil, apperrors.WithMetadata(apperrors.CodeCapabilityDisabled,
			fmt.Sprintf("capability %q is not enabled", capability),
			map[string]string{"capability": capability})
	}

	l.mu.Lock()
	e, ok := l.entries[capability]
	if ok && e.state == StateLoaded {
		v := e.value
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("no loader registered for capability %q", capability),
			map[string]string{"capability": capability})
	}

	ch := l.flight.DoChan(capability, func() (any, error) {
		return l.load(context.WithoutCancel(ctx), capability)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (l *Loader) load(ctx context.Context, capability string) (any, error) {
	l.mu.Lock()
	e, ok := l.entries[capability]
	if !ok {
		l.mu.Unlock()
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no loader registered for capability %q", capability)
	}
	if e.state == StateLoaded {
		v := e.value
		l.mu.Unlock()
		return v, nil
	}
	e.state = StateLoading
	e.err = nil
	l.attempts++
	fn := e.load
	l.mu.Unlock()

	start := l.opts.Clock.Now()
	v, err := fn(ctx)
	d := l.opts.Clock.Since(start)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[capability] != e {
		// Re-registered or reset while loading.
		return v, err
	}
	if err != nil {
		err = apperrors.WrapWithMetadata(apperrors.CodeLoadFailure,
			fmt.Sprintf("capability %q failed to load", capability),
			map[string]string{"capability": capability}, err)
		e.state = StateError
		e.err = err
		l.failures++
		l.log.V(1).Info("capability load failed", "capability", capability, "error", err.Error())
		return nil, err
	}
	e.state = StateLoaded
	e.value = v
	e.duration = d
	l.successes++
	l.total += d
	l.log.V(1).Info("capability loaded", "capability", capability, "duration", d)
	return v, nil
}

// SchedulePreload loads capability after delay once Run is processing the
// queue.
func (l *Loader) SchedulePreload(capability string, delay time.Duration) {
	l.queue.AddAfter(capability, delay)
}

// Run processes scheduled preloads until ctx is done.
func (l *Loader) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	defer l.queue.ShutDown()
	for i := 0; i < workers; i++ {
		go wait.UntilWithContext(ctx, l.worker, time.Second)
	}
	<-ctx.Done()
}

func (l *Loader) worker(ctx context.Context) {
	for {
		capability, quit := l.queue.Get()
		if quit {
			return
		}
		if _, err := l.Load(ctx, capability); err != nil {
			l.log.V(1).Info("scheduled preload failed", "capability", capability, "error", err.Error())
		}
		l.queue.Done(capability)
	}
}

// State returns the state of capability. Unregistered capabilities report
// not-loaded.
func (l *Loader) State(capability string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[capability]; ok {
		return e.state
	}
	return StateNotLoaded
}

// Err returns the last load error of capability.
func (l *Loader) Err(capability string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[capability]; ok {
		return e.err
	}
	return nil
}

// Reset drops the loaded bundle of capability so the next Load fetches it
// again.
func (l *Loader) Reset(capability string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[capability]; ok {
		l.entries[capability] = &entry{load: e.load, state: StateNotLoaded}
	}
}

func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{
		Registered: len(l.entries),
		Attempts:   l.attempts,
		Failures:   l.failures,
	}
	for _, e := range l.entries {
		switch e.state {
		case StateLoaded:
			s.Loaded++
		case StateLoading:
			s.Loading++
		case StateError:
			s.Errored++
		}
	}
	if s.Registered > 0 {
		s.LoadRate = float64(s.Loaded) / float64(s.Registered)
	}
	if l.successes > 0 {
		s.AverageLoadTime = l.total / time.Duration(l.successes)
	}
	return s
}
