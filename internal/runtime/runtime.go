// Package runtime assembles the registry, loaders, capability gate, slots and
// telemetry into one Runtime. Applications and tests each construct their own;
// nothing is process-wide.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/bootstrap"
	"github.com/bayleafwalker/bindery-runtime/internal/cache"
	"github.com/bayleafwalker/bindery-runtime/internal/capability"
	"github.com/bayleafwalker/bindery-runtime/internal/config"
	"github.com/bayleafwalker/bindery-runtime/internal/events"
	"github.com/bayleafwalker/bindery-runtime/internal/federation"
	"github.com/bayleafwalker/bindery-runtime/internal/gate"
	"github.com/bayleafwalker/bindery-runtime/internal/lazy"
	"github.com/bayleafwalker/bindery-runtime/internal/loader"
	"github.com/bayleafwalker/bindery-runtime/internal/profile"
	"github.com/bayleafwalker/bindery-runtime/internal/registry"
	"github.com/bayleafwalker/bindery-runtime/internal/slots"
	"github.com/bayleafwalker/bindery-runtime/internal/telemetry"
)

type Options struct {
	Config config.Config

	// Factories build local module instances, keyed by module id.
	Factories map[string]loader.Factory
	// Fetcher resolves modules that name a remote. When nil and
	// Config.Loader.BaseURL is set, New dials the federation server.
	Fetcher federation.Fetcher
	// RemoteFactories turn fetched descriptors into instances, keyed by entry.
	RemoteFactories map[string]federation.Factory

	// Publisher, when set, receives every lifecycle event on
	// Config.NATSSubject.<type>.
	Publisher events.Publisher

	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	Clock          clock.WithTicker
	Logger         logr.Logger
}

type Runtime struct {
	cfg config.Config
	log logr.Logger

	bus       *events.Bus
	registry  *registry.Registry
	cache     *cache.Cache
	gate      *gate.Checker
	local     *loader.LocalSource
	remote    *federation.Source
	loader    *loader.Loader
	lazy      *lazy.Loader
	slots     *slots.Registry
	telemetry *telemetry.Recorder
	bootstrap *bootstrap.Bootstrapper

	unsubscribe []func()
	closers     []func() error
}

func New(opts Options) (*Runtime, error) {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	cfg := opts.Config

	rec, err := telemetry.NewRecorder(telemetry.Options{Registerer: opts.Registerer})
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:       cfg,
		log:       opts.Logger.WithName("runtime"),
		bus:       events.NewBus(),
		slots:     slots.New(),
		telemetry: rec,
		local:     loader.NewLocalSource(),
	}

	r.registry = registry.New(registry.Options{
		Emitter: r.bus,
		Clock:   opts.Clock,
		Logger:  opts.Logger,
	})
	r.cache = cache.New(cache.Options{
		MaxSize:       cfg.Cache.MaxSize,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		EnableStats:   cfg.Cache.EnableStats,
		SweepInterval: cfg.Cache.SweepInterval,
		WarmPairs:     capability.CommonPairs,
		Clock:         opts.Clock,
		Observer:      rec,
		Logger:        opts.Logger,
	})
	r.gate = gate.New(gate.Options{
		Cache:         r.cache,
		EnableWarming: cfg.Cache.EnableWarming,
		Recorder:      rec,
		Clock:         opts.Clock,
	})

	for id, f := range opts.Factories {
		r.local.Add(id, f)
	}
	src := &loader.FallbackSource{Fallback: r.local, Log: r.log}
	fetcher := opts.Fetcher
	if fetcher == nil && cfg.Loader.BaseURL != "" {
		client, closeFn, err := federation.Dial(cfg.Loader.BaseURL, cfg.Loader.FederationScope)
		if err != nil {
			return nil, err
		}
		fetcher = client
		r.closers = append(r.closers, closeFn)
	}
	if fetcher != nil {
		r.remote = federation.NewSource(fetcher, federation.SourceOptions{
			Factories:     opts.RemoteFactories,
			EnableCaching: cfg.Loader.EnableCaching,
			Logger:        opts.Logger,
		})
		src.Primary = r.remote
	}

	r.loader = loader.New(r.registry, src, loader.Options{
		MaxConcurrentLoads: cfg.Loader.MaxConcurrentLoads,
		LoadTimeout:        cfg.Loader.LoadTimeout,
		Observer:           rec,
		TracerProvider:     opts.TracerProvider,
		Clock:              opts.Clock,
		Logger:             opts.Logger,
	})
	r.lazy = lazy.New(lazy.Options{
		Gate:   r.gate,
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	r.bootstrap = bootstrap.New(r.registry, r.loader, r.registry, bootstrap.Options{
		Concurrency: cfg.BootstrapConcurrency,
		Logger:      opts.Logger,
	})

	r.unsubscribe = append(r.unsubscribe,
		r.bus.Subscribe(events.ObserverFunc(r.bindSlots)),
		r.bus.Subscribe(rec),
	)
	if opts.Publisher != nil {
		r.unsubscribe = append(r.unsubscribe,
			r.bus.Subscribe(events.NewNATSObserver(opts.Publisher, cfg.NATSSubject, opts.Logger)))
		r.closers = append(r.closers, opts.Publisher.Close)
	}
	return r, nil
}

// bindSlots keeps a module's declared slot contributions registered exactly
// while it is active.
func (r *Runtime) bindSlots(e binderyv1alpha1.Event) {
	switch e.Type {
	case binderyv1alpha1.EventActivated:
		def, ok := r.registry.Get(e.ModuleID)
		if !ok {
			return
		}
		for _, s := range def.Slots {
			r.slots.Register(s.Slot, s.Contribution, s.RequiredCapabilities, slots.Options{
				Priority: s.Priority,
				OwnerID:  e.ModuleID,
			})
		}
	case binderyv1alpha1.EventDeactivated, binderyv1alpha1.EventUnregistered:
		if n := r.slots.UnregisterOwner(e.ModuleID); n > 0 {
			r.log.V(1).Info("removed slot contributions", "module", e.ModuleID, "count", n)
		}
	}
}

// AddFactory registers a local constructor for id.
func (r *Runtime) AddFactory(id string, f loader.Factory) {
	r.local.Add(id, f)
}

func (r *Runtime) RegisterModule(m *binderyv1alpha1.Module) error {
	return r.registry.Register(m)
}

// UnregisterModule deactivates, unloads and removes id. It returns false when
// id was not registered.
func (r *Runtime) UnregisterModule(ctx context.Context, id string) (bool, error) {
	if state, ok := r.registry.State(id); ok && state == binderyv1alpha1.ModuleStateLoaded {
		if err := r.loader.Unload(ctx, id); err != nil {
			return false, err
		}
	}
	return r.registry.Unregister(ctx, id)
}

func (r *Runtime) HasModule(id string) bool {
	return r.registry.Has(id)
}

func (r *Runtime) Module(id string) (*binderyv1alpha1.Module, bool) {
	return r.registry.Get(id)
}

func (r *Runtime) ModuleState(id string) (binderyv1alpha1.ModuleState, bool) {
	return r.registry.State(id)
}

func (r *Runtime) IsActive(id string) bool {
	return r.registry.IsActive(id)
}

// ModuleIDs lists registered modules in registration order.
func (r *Runtime) ModuleIDs() []string {
	return r.registry.IDs()
}

// ResolveDependencies checks id against the current capability set.
func (r *Runtime) ResolveDependencies(id string) (registry.Resolution, error) {
	return r.registry.ResolveDependencies(id, r.gate.Capabilities())
}

func (r *Runtime) LoadModule(ctx context.Context, id string) (any, error) {
	return r.loader.Load(ctx, id)
}

func (r *Runtime) LoadModules(ctx context.Context, ids ...string) map[string]loader.Result {
	return r.loader.LoadMany(ctx, ids)
}

// PreloadModules queues ids for the background workers started by Run.
func (r *Runtime) PreloadModules(ids ...string) {
	r.loader.Preload(ids...)
}

func (r *Runtime) UnloadModule(ctx context.Context, id string) error {
	return r.loader.Unload(ctx, id)
}

func (r *Runtime) ActivateModule(ctx context.Context, id string) error {
	return r.registry.Activate(ctx, id)
}

func (r *Runtime) DeactivateModule(ctx context.Context, id string) error {
	return r.registry.Deactivate(ctx, id)
}

func (r *Runtime) PerformHealthCheck(id string) binderyv1alpha1.HealthReport {
	return r.registry.PerformHealthCheck(id)
}

func (r *Runtime) Statistics() registry.Statistics {
	return r.registry.Statistics()
}

// ApplyAttributes resolves attrs and makes the result the current capability
// set.
func (r *Runtime) ApplyAttributes(attrs capability.Attributes) sets.Set[string] {
	caps := capability.Resolve(attrs)
	r.gate.SetCapabilities(caps)
	r.log.V(1).Info("capabilities updated", "count", caps.Len())
	return caps
}

// SyncProfile applies the attributes of store now and on every change until
// the returned cancel is called.
func (r *Runtime) SyncProfile(ctx context.Context, store profile.Store) (cancel func(), err error) {
	attrs, err := store.BusinessAttributes(ctx)
	if err != nil {
		return func() {}, fmt.Errorf("read business attributes: %w", err)
	}
	r.ApplyAttributes(attrs)
	return store.Subscribe(func(a capability.Attributes) { r.ApplyAttributes(a) }), nil
}

func (r *Runtime) Capabilities() sets.Set[string] {
	return r.gate.Capabilities()
}

func (r *Runtime) HasCapability(name string) bool {
	return r.gate.Has(name)
}

func (r *Runtime) HasAllCapabilities(names ...string) bool {
	return r.gate.HasAll(names...)
}

func (r *Runtime) HasAnyCapability(names ...string) bool {
	return r.gate.HasAny(names...)
}

// RegisterContribution adds content to slot outside any module's lifecycle.
func (r *Runtime) RegisterContribution(slot string, content any, required []string, opts slots.Options) string {
	return r.slots.Register(slot, content, required, opts)
}

func (r *Runtime) UnregisterContribution(slot, id string) bool {
	return r.slots.Unregister(slot, id)
}

// Contributions returns the contributions to slot enabled by the current
// capability set.
func (r *Runtime) Contributions(slot string) []slots.Contribution {
	return r.slots.Contributions(slot, r.gate.Capabilities())
}

func (r *Runtime) HasContributions(slot string) bool {
	return r.slots.HasContributions(slot, r.gate.Capabilities())
}

// RegisterCapabilityLoader sets the bundle loader of a capability.
func (r *Runtime) RegisterCapabilityLoader(name string, fn lazy.LoadFunc) {
	r.lazy.Register(name, fn)
}

// LoadCapability loads the bundle of an enabled capability.
func (r *Runtime) LoadCapability(ctx context.Context, name string) (any, error) {
	return r.lazy.Load(ctx, name)
}

func (r *Runtime) CapabilityState(name string) lazy.State {
	return r.lazy.State(name)
}

func (r *Runtime) LazyStats() lazy.Stats {
	return r.lazy.Stats()
}

// Subscribe adds o to the lifecycle event stream.
func (r *Runtime) Subscribe(o events.Observer) (unsubscribe func()) {
	return r.bus.Subscribe(o)
}

// Plan computes the bootstrap plan for the current capability set without
// running it.
func (r *Runtime) Plan() bootstrap.Plan {
	return bootstrap.NewPlan(r.registry, r.gate.Capabilities())
}

// Bootstrap loads and activates every module the current capability set
// enables, dependencies first.
func (r *Runtime) Bootstrap(ctx context.Context) bootstrap.Result {
	res := r.bootstrap.Run(ctx, r.gate.Capabilities())
	r.log.Info("bootstrap finished",
		"initialized", len(res.Initialized),
		"failed", len(res.Failed),
		"skipped", len(res.Skipped),
		"cycles", len(res.Cycles))
	return res
}

func (r *Runtime) BusinessModel() capability.BusinessModel {
	return capability.DetectBusinessModel(r.gate.Capabilities())
}

func (r *Runtime) UpgradeSuggestions() []capability.Suggestion {
	return capability.SuggestUpgrades(r.gate.Capabilities())
}

func (r *Runtime) Recommendations() []telemetry.Recommendation {
	return r.telemetry.Recommendations()
}

func (r *Runtime) Telemetry() telemetry.Snapshot {
	return r.telemetry.Snapshot()
}

func (r *Runtime) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Run drives the cache sweeper and the preload workers until ctx is done. It
// may be called once per Runtime.
func (r *Runtime) Run(ctx context.Context) {
	workers := r.cfg.Loader.PreloadWorkers
	var g wait.Group
	g.StartWithContext(ctx, r.cache.Run)
	g.StartWithContext(ctx, func(ctx context.Context) { r.loader.Run(ctx, workers) })
	g.StartWithContext(ctx, func(ctx context.Context) { r.lazy.Run(ctx, workers) })
	g.Wait()
}

// Reset unregisters every module, newest first, and clears slots, cache,
// descriptors and telemetry. The capability set is kept.
func (r *Runtime) Reset(ctx context.Context) error {
	ids := r.registry.IDs()
	slices.Reverse(ids)

	var errs []error
	for _, id := range ids {
		if _, err := r.UnregisterModule(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	r.slots.Clear()
	r.cache.Clear()
	r.cache.ResetStats()
	r.telemetry.Reset()
	if r.remote != nil {
		r.remote.Purge()
	}
	return errors.Join(errs...)
}

// Close waits for abandoned loads and releases connections.
func (r *Runtime) Close() error {
	r.loader.Wait()
	for _, u := range r.unsubscribe {
		u()
	}
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
