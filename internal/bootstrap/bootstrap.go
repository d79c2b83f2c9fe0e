// Package bootstrap brings up every module the current capability set allows,
// in dependency order.
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
	"github.com/bayleafwalker/bindery-runtime/internal/registry"
)

const DefaultConcurrency = 4

// Loader loads a registered module.
type Loader interface {
	Load(ctx context.Context, id string) (any, error)
}

// Activator activates a loaded module.
type Activator interface {
	Activate(ctx context.Context, id string) error
}

// Plan is the initialization order for one capability set.
type Plan struct {
	// Levels holds the modules to initialize. Modules in one level do not
	// depend on each other; every dependency sits in an earlier level.
	Levels [][]string
	// Skipped modules are excluded, in registration order.
	Skipped []string
	Cycles  [][]string
	Reasons map[string]error
}

// Order flattens Levels.
func (p Plan) Order() []string {
	var out []string
	for _, level := range p.Levels {
		out = append(out, level...)
	}
	return out
}

// Result buckets every registered module by outcome.
type Result struct {
	Initialized []string
	Failed      []string
	Skipped     []string
	Cycles      [][]string
	Reasons     map[string]error
}

// NewPlan computes the initialization order of the modules in reg given the
// available capabilities. A module is skipped when it lacks a required
// capability, when a dependency is unregistered or skipped, or when it sits
// on a dependency cycle.
func NewPlan(reg *registry.Registry, caps sets.Set[string]) Plan {
	mods := reg.List()
	plan := Plan{Reasons: make(map[string]error)}
	skipped := sets.New[string]()

	skip := func(id string, err error) {
		skipped.Insert(id)
		plan.Reasons[id] = err
	}

	for _, m := range mods {
		if missing := missingCapabilities(m, caps); len(missing) > 0 {
			skip(m.ID, apperrors.WithMetadata(apperrors.CodeCapabilityDisabled,
				fmt.Sprintf("module %q requires capabilities %s", m.ID, strings.Join(missing, ", ")),
				map[string]string{"module": m.ID}))
		}
	}

	cascade := func() {
		for changed := true; changed; {
			changed = false
			for _, m := range mods {
				if skipped.Has(m.ID) {
					continue
				}
				for _, dep := range m.DependsOn {
					if reg.Has(dep) && !skipped.Has(dep) {
						continue
					}
					skip(m.ID, apperrors.WithMetadata(apperrors.CodeDependencyUnsatisfied,
						fmt.Sprintf("module %q depends on unavailable module %q", m.ID, dep),
						map[string]string{"module": m.ID, "dependency": dep}))
					changed = true
					break
				}
			}
		}
	}
	cascade()

	g := reg.Graph().Subgraph(func(id string) bool { return !skipped.Has(id) })
	plan.Cycles = g.Cycles()
	for _, cycle := range plan.Cycles {
		for _, id := range cycle {
			skip(id, apperrors.WithMetadata(apperrors.CodeCycleDetected,
				fmt.Sprintf("module %q is on dependency cycle %s", id, strings.Join(cycle, " -> ")),
				map[string]string{"module": id}))
		}
	}
	if len(plan.Cycles) > 0 {
		cascade()
		g = g.Subgraph(func(id string) bool { return !skipped.Has(id) })
	}

	plan.Levels, _ = g.TopologicalLevels()
	for _, m := range mods {
		if skipped.Has(m.ID) {
			plan.Skipped = append(plan.Skipped, m.ID)
		}
	}
	return plan
}

func missingCapabilities(m *binderyv1alpha1.Module, caps sets.Set[string]) []string {
	var missing []string
	for _, c := range m.RequiredCapabilities {
		if !caps.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

type Options struct {
	// Concurrency bounds how many modules of one level initialize at once.
	Concurrency int
	Logger      logr.Logger
}

type Bootstrapper struct {
	reg       *registry.Registry
	loader    Loader
	activator Activator
	opts      Options
	log       logr.Logger
}

func New(reg *registry.Registry, loader Loader, activator Activator, opts Options) *Bootstrapper {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	return &Bootstrapper{
		reg:       reg,
		loader:    loader,
		activator: activator,
		opts:      opts,
		log:       opts.Logger.WithName("bootstrap"),
	}
}

// Run loads and activates every module of the plan for caps, level by level.
// A failing module is recorded and its dependents are skipped; its siblings
// are unaffected.
func (b *Bootstrapper) Run(ctx context.Context, caps sets.Set[string]) Result {
	plan := NewPlan(b.reg, caps)
	res := Result{
		Skipped: append([]string(nil), plan.Skipped...),
		Cycles:  plan.Cycles,
		Reasons: plan.Reasons,
	}
	if len(plan.Cycles) > 0 {
		b.log.Info("dependency cycles excluded from bootstrap", "cycles", plan.Cycles)
	}

	unavailable := sets.New[string](plan.Skipped...)
	for _, level := range plan.Levels {
		errs := make([]error, len(level))
		ran := make([]bool, len(level))

		var g errgroup.Group
		g.SetLimit(b.opts.Concurrency)
		for i, id := range level {
			if dep, blocked := b.blockedBy(id, unavailable); blocked {
				errs[i] = apperrors.WithMetadata(apperrors.CodeDependencyUnsatisfied,
					fmt.Sprintf("module %q depends on module %q which did not initialize", id, dep),
					map[string]string{"module": id, "dependency": dep})
				continue
			}
			ran[i] = true
			g.Go(func() error {
				errs[i] = b.initialize(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		for i, id := range level {
			switch {
			case errs[i] == nil:
				res.Initialized = append(res.Initialized, id)
			case !ran[i]:
				res.Skipped = append(res.Skipped, id)
				res.Reasons[id] = errs[i]
				unavailable.Insert(id)
			default:
				res.Failed = append(res.Failed, id)
				res.Reasons[id] = errs[i]
				unavailable.Insert(id)
				b.log.Error(errs[i], "module failed to initialize", "module", id)
			}
		}
	}

	b.log.Info("bootstrap complete",
		"initialized", len(res.Initialized), "failed", len(res.Failed), "skipped", len(res.Skipped))
	return res
}

func (b *Bootstrapper) initialize(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.loader.Load(ctx, id); err != nil {
		return err
	}
	return b.activator.Activate(ctx, id)
}

func (b *Bootstrapper) blockedBy(id string, unavailable sets.Set[string]) (string, bool) {
	m, ok := b.reg.Get(id)
	if !ok {
		return id, true
	}
	for _, dep := range m.DependsOn {
		if unavailable.Has(dep) {
			return dep, true
		}
	}
	return "", false
}
