package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/sets"
	clocktesting "k8s.io/utils/clock/testing"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
	"github.com/bayleafwalker/bindery-runtime/internal/events"
)

func mod(id string, required []string, deps ...string) *binderyv1alpha1.Module {
	return &binderyv1alpha1.Module{
		ID:                   id,
		Version:              "1.0.0",
		RequiredCapabilities: required,
		DependsOn:            deps,
	}
}

type hooks struct {
	activated, deactivated int
	activateErr            error
	deactivateErr          error
	memory                 int64
}

func (h *hooks) OnActivate(context.Context) error {
	if h.activateErr != nil {
		return h.activateErr
	}
	h.activated++
	return nil
}

func (h *hooks) OnDeactivate(context.Context) error {
	if h.deactivateErr != nil {
		return h.deactivateErr
	}
	h.deactivated++
	return nil
}

func (h *hooks) MemoryBytes() int64 { return h.memory }

type recorder struct {
	events []binderyv1alpha1.Event
}

func (r *recorder) Emit(e binderyv1alpha1.Event) { r.events = append(r.events, e) }

func (r *recorder) types() []binderyv1alpha1.EventType {
	out := make([]binderyv1alpha1.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func newRegistry(t *testing.T) (*Registry, *recorder, *clocktesting.FakeClock) {
	t.Helper()
	rec := &recorder{}
	clk := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	return New(Options{Emitter: rec, Clock: clk}), rec, clk
}

// loadWith drives id through loading to loaded with instance.
func loadWith(t *testing.T, r *Registry, id string, instance any) {
	t.Helper()
	require.NoError(t, r.SetLoading(id))
	require.NoError(t, r.SetInstance(id, instance))
}

func TestRegister_Validation(t *testing.T) {
	r, _, _ := newRegistry(t)

	tests := []struct {
		name string
		m    *binderyv1alpha1.Module
	}{
		{"nil", nil},
		{"empty id", mod("", nil)},
		{"underscore and uppercase", mod("Invalid_ID", nil)},
		{"bad version", &binderyv1alpha1.Module{ID: "pos", Version: "one"}},
		{"missing version", &binderyv1alpha1.Module{ID: "pos"}},
		{"blank capability", mod("pos", []string{"pos_system", " "})},
		{"duplicate capability", mod("pos", []string{"pos_system", "pos_system"})},
		{"bad dependency id", mod("pos", nil, "Not_Valid")},
		{"self conflict", &binderyv1alpha1.Module{ID: "pos", Version: "1.0.0", Conflicts: []string{"pos"}}},
		{"constraint without dependency", &binderyv1alpha1.Module{ID: "pos", Version: "1.0.0", VersionConstraints: map[string]string{"other": "^1"}}},
		{"bad constraint", &binderyv1alpha1.Module{ID: "pos", Version: "1.0.0", DependsOn: []string{"other"}, VersionConstraints: map[string]string{"other": ">>1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
	assert.Empty(t, r.IDs())
}

func TestRegister_Duplicate(t *testing.T) {
	r, rec, _ := newRegistry(t)

	require.NoError(t, r.Register(mod("valid-id-2", nil)))
	err := r.Register(mod("valid-id-2", nil))

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateModule))
	assert.Equal(t, []string{"valid-id-2"}, r.IDs())
	assert.Equal(t, []binderyv1alpha1.EventType{binderyv1alpha1.EventRegistered}, rec.types())
}

func TestRegister_CopiesDefinition(t *testing.T) {
	r, _, _ := newRegistry(t)
	m := mod("pos", []string{"pos_system"})
	require.NoError(t, r.Register(m))

	m.RequiredCapabilities[0] = "mutated"

	got, ok := r.Get("pos")
	require.True(t, ok)
	assert.Equal(t, []string{"pos_system"}, got.RequiredCapabilities)
}

func TestStateMachine(t *testing.T) {
	r, rec, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("pos", nil)))

	state, _ := r.State("pos")
	assert.Equal(t, binderyv1alpha1.ModuleStateIdle, state)

	// idle -> loaded is not allowed
	err := r.SetInstance("pos", nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	require.NoError(t, r.SetLoading("pos"))
	assert.True(t, errors.Is(r.SetLoading("pos"), apperrors.ErrInvalidTransition))

	boom := errors.New("boom")
	require.NoError(t, r.SetError("pos", boom))
	state, _ = r.State("pos")
	assert.Equal(t, binderyv1alpha1.ModuleStateError, state)
	assert.Equal(t, boom, r.Err("pos"))

	// retry from error
	require.NoError(t, r.SetLoading("pos"))
	assert.NoError(t, r.Err("pos"))
	require.NoError(t, r.SetInstance("pos", "instance"))

	inst, ok := r.Instance("pos")
	require.True(t, ok)
	assert.Equal(t, "instance", inst)

	require.NoError(t, r.Reset("pos"))
	state, _ = r.State("pos")
	assert.Equal(t, binderyv1alpha1.ModuleStateIdle, state)
	_, ok = r.Instance("pos")
	assert.False(t, ok)

	assert.Equal(t, []binderyv1alpha1.EventType{
		binderyv1alpha1.EventRegistered,
		binderyv1alpha1.EventLoading,
		binderyv1alpha1.EventError,
		binderyv1alpha1.EventLoading,
		binderyv1alpha1.EventLoaded,
		binderyv1alpha1.EventUnloaded,
	}, rec.types())
	assert.Equal(t, "boom", rec.events[2].Error)
}

func TestTransitions_UnknownModule(t *testing.T) {
	r, _, _ := newRegistry(t)

	for _, err := range []error{
		r.SetLoading("ghost"),
		r.SetInstance("ghost", nil),
		r.SetError("ghost", errors.New("x")),
		r.Reset("ghost"),
		r.Activate(context.Background(), "ghost"),
		r.Deactivate(context.Background(), "ghost"),
	} {
		assert.True(t, errors.Is(err, apperrors.ErrNotFound), "got %v", err)
	}
}

func TestActivate(t *testing.T) {
	ctx := context.Background()
	r, rec, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("pos", nil)))

	err := r.Activate(ctx, "pos")
	assert.True(t, errors.Is(err, apperrors.ErrNotLoaded))

	h := &hooks{}
	loadWith(t, r, "pos", h)

	require.NoError(t, r.Activate(ctx, "pos"))
	require.NoError(t, r.Activate(ctx, "pos"))
	assert.Equal(t, 1, h.activated, "second activate is a no-op")
	assert.True(t, r.IsActive("pos"))

	require.NoError(t, r.Deactivate(ctx, "pos"))
	require.NoError(t, r.Deactivate(ctx, "pos"))
	assert.Equal(t, 1, h.deactivated)
	assert.False(t, r.IsActive("pos"))

	assert.Contains(t, rec.types(), binderyv1alpha1.EventActivated)
	assert.Contains(t, rec.types(), binderyv1alpha1.EventDeactivated)
}

func TestActivate_HookFailureLeavesFlag(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("pos", nil)))
	h := &hooks{activateErr: errors.New("no printer")}
	loadWith(t, r, "pos", h)

	err := r.Activate(ctx, "pos")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrHookFailed))
	assert.ErrorContains(t, err, "no printer")
	assert.False(t, r.IsActive("pos"))

	h.activateErr = nil
	require.NoError(t, r.Activate(ctx, "pos"))
	h.deactivateErr = errors.New("stuck")
	assert.Error(t, r.Deactivate(ctx, "pos"))
	assert.True(t, r.IsActive("pos"))
}

func TestActivate_InstanceWithoutHooks(t *testing.T) {
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("pos", nil)))
	loadWith(t, r, "pos", nil)

	require.NoError(t, r.Activate(context.Background(), "pos"))
	assert.True(t, r.IsActive("pos"))
}

func TestReset_RequiresInactive(t *testing.T) {
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("pos", nil)))
	loadWith(t, r, "pos", nil)
	require.NoError(t, r.Activate(context.Background(), "pos"))

	assert.True(t, errors.Is(r.Reset("pos"), apperrors.ErrInvalidTransition))
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown module", func(t *testing.T) {
		r, _, _ := newRegistry(t)
		ok, err := r.Unregister(ctx, "ghost")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("active module is deactivated first", func(t *testing.T) {
		r, rec, _ := newRegistry(t)
		require.NoError(t, r.Register(mod("pos", nil)))
		h := &hooks{}
		loadWith(t, r, "pos", h)
		require.NoError(t, r.Activate(ctx, "pos"))

		ok, err := r.Unregister(ctx, "pos")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, h.deactivated)
		assert.False(t, r.Has("pos"))
		_, found := r.LastHealth("pos")
		assert.False(t, found)

		types := rec.types()
		assert.Equal(t, []binderyv1alpha1.EventType{
			binderyv1alpha1.EventDeactivated,
			binderyv1alpha1.EventUnregistered,
		}, types[len(types)-2:])
	})

	t.Run("refused while loading", func(t *testing.T) {
		r, _, _ := newRegistry(t)
		require.NoError(t, r.Register(mod("pos", nil)))
		require.NoError(t, r.SetLoading("pos"))

		ok, err := r.Unregister(ctx, "pos")
		assert.False(t, ok)
		assert.True(t, errors.Is(err, apperrors.ErrLoadInFlight))
		assert.True(t, r.Has("pos"))
	})

	t.Run("deactivation failure keeps module", func(t *testing.T) {
		r, _, _ := newRegistry(t)
		require.NoError(t, r.Register(mod("pos", nil)))
		loadWith(t, r, "pos", &hooks{deactivateErr: errors.New("stuck")})
		require.NoError(t, r.Activate(ctx, "pos"))

		ok, err := r.Unregister(ctx, "pos")
		assert.False(t, ok)
		assert.True(t, errors.Is(err, apperrors.ErrHookFailed))
		assert.True(t, r.Has("pos"))
	})
}

func TestResolveDependencies(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("customers", []string{"customer_management"})))
	require.NoError(t, r.Register(mod("catalog", []string{"product_catalog"}, "customers")))
	require.NoError(t, r.Register(&binderyv1alpha1.Module{
		ID:                   "pos",
		Version:              "2.1.0",
		RequiredCapabilities: []string{"pos_system", "payment_gateway"},
		OptionalCapabilities: []string{"loyalty_program"},
		DependsOn:            []string{"catalog", "customers", "printing"},
		Conflicts:            []string{"legacy-pos"},
	}))
	require.NoError(t, r.Register(mod("legacy-pos", nil)))

	_, err := r.ResolveDependencies("ghost", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	caps := sets.New("customer_management", "product_catalog", "pos_system")
	res, err := r.ResolveDependencies("pos", caps)
	require.NoError(t, err)

	assert.False(t, res.Satisfied)
	assert.Equal(t, []string{"payment_gateway"}, res.MissingCapabilities)
	assert.Equal(t, []string{"loyalty_program"}, res.MissingOptional)
	assert.Equal(t, []string{"printing"}, res.MissingModules)
	assert.Empty(t, res.Conflicts, "inactive conflicts are ignored")
	assert.Equal(t, []string{"customers", "catalog", "pos"}, res.LoadOrder)

	resErr := res.Err()
	require.Error(t, resErr)
	assert.True(t, errors.Is(resErr, apperrors.ErrDependencyUnsatisfied))
	assert.ErrorContains(t, resErr, "payment_gateway")

	loadWith(t, r, "legacy-pos", nil)
	require.NoError(t, r.Activate(ctx, "legacy-pos"))
	res, _ = r.ResolveDependencies("pos", caps)
	assert.Equal(t, []string{"legacy-pos"}, res.Conflicts)

	res, _ = r.ResolveDependencies("catalog", caps)
	assert.True(t, res.Satisfied)
	assert.NoError(t, res.Err())
}

func TestResolveDependencies_SatisfiedIffAllListsEmpty(t *testing.T) {
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("base", nil)))
	require.NoError(t, r.Register(mod("feature", []string{"a", "b"}, "base")))

	for _, caps := range []sets.Set[string]{
		sets.New("a", "b"),
		sets.New("a", "b", "c"),
		sets.New("a"),
		sets.New[string](),
	} {
		res, err := r.ResolveDependencies("feature", caps)
		require.NoError(t, err)
		want := caps.HasAll("a", "b")
		assert.Equal(t, want, res.Satisfied, "caps=%v", sets.List(caps))
	}
}

func TestResolveDependencies_VersionConstraints(t *testing.T) {
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(&binderyv1alpha1.Module{ID: "payments", Version: "1.4.2"}))
	require.NoError(t, r.Register(&binderyv1alpha1.Module{
		ID:                 "checkout",
		Version:            "1.0.0",
		DependsOn:          []string{"payments"},
		VersionConstraints: map[string]string{"payments": "^2.0.0"},
	}))

	res, err := r.ResolveDependencies("checkout", nil)
	require.NoError(t, err)
	assert.False(t, res.Satisfied)
	require.Len(t, res.IncompatibleVersions, 1)
	assert.Equal(t, VersionMismatch{ModuleID: "payments", Constraint: "^2.0.0", Version: "1.4.2"}, res.IncompatibleVersions[0])
}

func TestResolveDependencies_CycleTerminates(t *testing.T) {
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("a", nil, "b")))
	require.NoError(t, r.Register(mod("b", nil, "a")))

	res, err := r.ResolveDependencies("a", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, res.LoadOrder)
}

func TestPerformHealthCheck(t *testing.T) {
	r, _, clk := newRegistry(t)
	require.NoError(t, r.Register(mod("pos", nil)))
	require.NoError(t, r.Register(mod("broken", nil)))
	require.NoError(t, r.Register(mod("heavy", nil)))
	require.NoError(t, r.Register(mod("idle", nil)))

	loadWith(t, r, "pos", &hooks{memory: 1 << 20})
	r.RecordLoadMetrics("pos", 200*time.Millisecond)

	require.NoError(t, r.SetLoading("broken"))
	require.NoError(t, r.SetError("broken", errors.New("remote unreachable")))

	loadWith(t, r, "heavy", &hooks{memory: 80 << 20})
	r.RecordLoadMetrics("heavy", 6*time.Second)

	report := r.PerformHealthCheck("pos")
	assert.Equal(t, binderyv1alpha1.HealthHealthy, report.Status)
	assert.Equal(t, clk.Now(), report.CheckedAt)

	report = r.PerformHealthCheck("broken")
	assert.Equal(t, binderyv1alpha1.HealthUnhealthy, report.Status)
	assert.Contains(t, report.Issues[0], "remote unreachable")

	report = r.PerformHealthCheck("heavy")
	assert.Equal(t, binderyv1alpha1.HealthDegraded, report.Status)
	assert.Len(t, report.Issues, 2)

	assert.Equal(t, binderyv1alpha1.HealthHealthy, r.PerformHealthCheck("idle").Status)
	assert.Equal(t, binderyv1alpha1.HealthUnhealthy, r.PerformHealthCheck("ghost").Status)

	last, ok := r.LastHealth("heavy")
	require.True(t, ok)
	assert.Equal(t, binderyv1alpha1.HealthDegraded, last.Status)
}

func TestStatistics(t *testing.T) {
	r, _, _ := newRegistry(t)
	assert.Equal(t, Statistics{}, r.Statistics())

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Register(mod(id, nil)))
	}
	loadWith(t, r, "a", &hooks{memory: 100})
	loadWith(t, r, "b", &hooks{memory: 50})
	r.RecordLoadMetrics("a", 100*time.Millisecond)
	r.RecordLoadMetrics("b", 300*time.Millisecond)
	require.NoError(t, r.Activate(context.Background(), "a"))
	require.NoError(t, r.SetLoading("c"))
	require.NoError(t, r.SetError("c", errors.New("x")))

	s := r.Statistics()
	assert.Equal(t, Statistics{
		Total:            4,
		Idle:             1,
		Loaded:           2,
		Active:           1,
		Errored:          1,
		AverageLoadTime:  200 * time.Millisecond,
		TotalMemoryBytes: 150,
	}, s)
}

func TestRegistry_WithBus(t *testing.T) {
	bus := events.NewBus()
	ch := events.NewChannelObserver(8)
	bus.Subscribe(ch)
	r := New(Options{Emitter: bus})

	require.NoError(t, r.Register(mod("pos", nil)))

	select {
	case e := <-ch.Events():
		assert.Equal(t, binderyv1alpha1.EventRegistered, e.Type)
		assert.Equal(t, "pos", e.ModuleID)
	default:
		t.Fatal("expected registered event")
	}
}

func TestGraph(t *testing.T) {
	r, _, _ := newRegistry(t)
	require.NoError(t, r.Register(mod("a", nil)))
	require.NoError(t, r.Register(mod("b", nil, "a", "missing")))

	g := r.Graph()
	assert.Equal(t, []string{"a", "b"}, g.Nodes())
	assert.Equal(t, []string{"a"}, g.DependenciesOf("b"))
}
