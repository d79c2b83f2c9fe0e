// Package loader turns registered module definitions into live instances.
//
// Loads for the same module share one in-flight operation. The operation is
// detached from the caller that started it, bounded by LoadTimeout, and
// limited to MaxConcurrentLoads at a time across all modules.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
	"github.com/bayleafwalker/bindery-runtime/internal/registry"
)

const (
	DefaultMaxConcurrentLoads = 4
	DefaultLoadTimeout        = 30 * time.Second

	tracerName = "github.com/bayleafwalker/bindery-runtime/internal/loader"
)

// Observer receives the outcome of every load attempt.
type Observer interface {
	ObserveModuleLoad(id string, d time.Duration, err error)
}

type Options struct {
	MaxConcurrentLoads int
	LoadTimeout        time.Duration

	Observer       Observer
	TracerProvider trace.TracerProvider
	Clock          clock.PassiveClock
	Logger         logr.Logger
}

// Result is the per-module outcome of LoadMany.
type Result struct {
	Instance any
	Err      error
}

type Loader struct {
	reg  *registry.Registry
	src  Source
	opts Options
	log  logr.Logger

	tracer trace.Tracer
	sem    *semaphore.Weighted
	flight singleflight.Group
	queue  workqueue.TypedInterface[string]

	late sync.WaitGroup
}

func New(reg *registry.Registry, src Source, opts Options) *Loader {
	if opts.MaxConcurrentLoads <= 0 {
		opts.MaxConcurrentLoads = DefaultMaxConcurrentLoads
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Loader{
		reg:    reg,
		src:    src,
		opts:   opts,
		log:    opts.Logger.WithName("loader"),
		tracer: tp.Tracer(tracerName),
		sem:    semaphore.NewWeighted(int64(opts.MaxConcurrentLoads)),
		queue: workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[string]{
			Name: "bindery_preload",
		}),
	}
}

// Load returns the instance of id, loading it first if needed. Concurrent
// calls for one id share a single load. ctx only bounds how long this caller
// waits; cancelling it does not abort a load other callers may be waiting on.
func (l *Loader) Load(ctx context.Context, id string) (any, error) {
	if inst, ok := l.reg.Instance(id); ok {
		return inst, nil
	}
	if !l.reg.Has(id) {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("module %q not registered", id), map[string]string{"module": id})
	}

	ch := l.flight.DoChan(id, func() (any, error) {
		return l.load(context.WithoutCancel(ctx), id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

type outcome struct {
	instance any
	err      error
}

func (l *Loader) load(ctx context.Context, id string) (any, error) {
	ctx, span := l.tracer.Start(ctx, "module.load", trace.WithAttributes(attribute.String("bindery.module.id", id)))
	defer span.End()

	if inst, ok := l.reg.Instance(id); ok {
		return inst, nil
	}
	def, ok := l.reg.Get(id)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "module %q not registered", id)
	}
	span.SetAttributes(attribute.String("bindery.module.version", def.Version))

	if err := l.reg.SetLoading(id); err != nil {
		span.RecordError(err)
		return nil, err
	}
	start := l.opts.Clock.Now()

	ctx, cancel := context.WithTimeout(ctx, l.opts.LoadTimeout)
	defer cancel()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, l.fail(span, id, start, l.timeoutErr(id, err))
	}
	defer l.sem.Release(1)

	done := make(chan outcome, 1)
	go func() {
		inst, err := l.resolve(ctx, def)
		done <- outcome{instance: inst, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, l.fail(span, id, start, o.err)
		}
		if err := l.reg.SetInstance(id, o.instance); err != nil {
			// The module was reset or removed while loading.
			l.unloadQuietly(id, o.instance)
			span.RecordError(err)
			return nil, err
		}
		d := l.opts.Clock.Since(start)
		l.reg.RecordLoadMetrics(id, d)
		l.observe(id, d, nil)
		span.SetStatus(otelcodes.Ok, "")
		l.log.V(1).Info("loaded module", "module", id, "duration", d)
		return o.instance, nil

	case <-ctx.Done():
		err := l.fail(span, id, start, l.timeoutErr(id, ctx.Err()))
		l.late.Add(1)
		go l.discardLate(id, done)
		return nil, err
	}
}

// resolve obtains the instance and runs its load hooks in order. Any error
// here is a load failure.
func (l *Loader) resolve(ctx context.Context, def *binderyv1alpha1.Module) (any, error) {
	inst, err := l.src.Resolve(ctx, def)
	if err != nil {
		return nil, loadFailure(def.ID, "resolve", err)
	}
	if h, ok := inst.(binderyv1alpha1.Loadable); ok {
		if err := h.OnLoad(ctx); err != nil {
			return nil, loadFailure(def.ID, "OnLoad", err)
		}
	}
	if h, ok := inst.(binderyv1alpha1.Initializable); ok {
		if err := h.OnInit(ctx); err != nil {
			return nil, loadFailure(def.ID, "OnInit", err)
		}
	}
	return inst, nil
}

func (l *Loader) fail(span trace.Span, id string, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	if serr := l.reg.SetError(id, err); serr != nil {
		l.log.V(1).Info("could not record load error", "module", id, "error", serr.Error())
	}
	l.observe(id, l.opts.Clock.Since(start), err)
	return err
}

// discardLate waits for an abandoned load and unloads whatever it produced.
func (l *Loader) discardLate(id string, done <-chan outcome) {
	defer l.late.Done()
	o := <-done
	if o.err != nil {
		return
	}
	l.log.Info("discarding module instance that finished after timeout", "module", id)
	l.unloadQuietly(id, o.instance)
}

func (l *Loader) unloadQuietly(id string, inst any) {
	h, ok := inst.(binderyv1alpha1.Unloadable)
	if !ok {
		return
	}
	if err := h.OnUnload(context.Background()); err != nil {
		l.log.Error(err, "unload of discarded instance failed", "module", id)
	}
}

func (l *Loader) observe(id string, d time.Duration, err error) {
	if l.opts.Observer != nil {
		l.opts.Observer.ObserveModuleLoad(id, d, err)
	}
}

func (l *Loader) timeoutErr(id string, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeLoadTimeout,
		fmt.Sprintf("module %q did not load within %s", id, l.opts.LoadTimeout),
		map[string]string{"module": id}, cause)
}

func loadFailure(id, step string, cause error) error {
	return apperrors.WrapWithMetadata(apperrors.CodeLoadFailure,
		fmt.Sprintf("module %q %s", id, step),
		map[string]string{"module": id, "step": step}, cause)
}

// LoadMany loads ids in parallel. A failure is reported in that module's
// Result and does not affect the others.
func (l *Loader) LoadMany(ctx context.Context, ids []string) map[string]Result {
	var (
		mu  sync.Mutex
		out = make(map[string]Result, len(ids))
		g   errgroup.Group
	)
	for _, id := range ids {
		g.Go(func() error {
			inst, err := l.Load(ctx, id)
			mu.Lock()
			out[id] = Result{Instance: inst, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Preload queues ids for loading by the Run workers and returns immediately.
// Failures are logged only.
func (l *Loader) Preload(ids ...string) {
	for _, id := range ids {
		l.queue.Add(id)
	}
}

// Pending returns the number of queued preloads.
func (l *Loader) Pending() int {
	return l.queue.Len()
}

// Run processes preloads with the given number of workers until ctx is done.
func (l *Loader) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	defer l.queue.ShutDown()

	l.log.Info("starting preload workers", "workers", workers)
	for i := 0; i < workers; i++ {
		go wait.UntilWithContext(ctx, l.worker, time.Second)
	}
	<-ctx.Done()
	l.log.Info("stopping preload workers")
}

func (l *Loader) worker(ctx context.Context) {
	for l.processNext(ctx) {
	}
}

func (l *Loader) processNext(ctx context.Context) bool {
	id, quit := l.queue.Get()
	if quit {
		return false
	}
	defer l.queue.Done(id)

	if _, err := l.Load(ctx, id); err != nil {
		l.log.V(1).Info("preload failed", "module", id, "error", err.Error())
	}
	return true
}

// Unload deactivates id if needed, runs its OnUnload hook and returns it to
// idle. A failing hook leaves the module loaded.
func (l *Loader) Unload(ctx context.Context, id string) error {
	if !l.reg.Has(id) {
		return apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("module %q not registered", id), map[string]string{"module": id})
	}
	if err := l.reg.Deactivate(ctx, id); err != nil {
		return err
	}
	if inst, ok := l.reg.Instance(id); ok {
		if h, ok := inst.(binderyv1alpha1.Unloadable); ok {
			if err := h.OnUnload(ctx); err != nil {
				return apperrors.WrapWithMetadata(apperrors.CodeHookFailed,
					fmt.Sprintf("module %q OnUnload", id),
					map[string]string{"module": id, "hook": "OnUnload"}, err)
			}
		}
	}
	if err := l.reg.Reset(id); err != nil {
		return err
	}
	l.log.V(1).Info("unloaded module", "module", id)
	return nil
}

// Wait blocks until loads abandoned after a timeout have finished.
func (l *Loader) Wait() {
	l.late.Wait()
}
