package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

func newRecorder(t *testing.T, th *Thresholds) (*Recorder, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	r, err := NewRecorder(Options{Registerer: reg, Thresholds: th})
	require.NoError(t, err)
	return r, reg
}

func TestNewRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewRecorder(Options{Registerer: reg})
	require.NoError(t, err)
	_, err = NewRecorder(Options{Registerer: reg})
	assert.Error(t, err)
}

func TestRecorder_Metrics(t *testing.T) {
	r, reg := newRecorder(t, nil)

	r.ObserveCacheLookup(true)
	r.ObserveCacheLookup(true)
	r.ObserveCacheLookup(false)
	r.ObserveCacheEviction()
	r.ObserveModuleLoad("pos", 10*time.Millisecond, nil)
	r.ObserveModuleLoad("crm", 5*time.Millisecond, errors.New("boom"))
	r.OnModuleEvent(binderyv1alpha1.Event{Type: binderyv1alpha1.EventActivated})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.cacheEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.m.moduleEvents.WithLabelValues("activated")))

	expected := `
# HELP bindery_runtime_module_loads_total Module load attempts, by outcome.
# TYPE bindery_runtime_module_loads_total counter
bindery_runtime_module_loads_total{outcome="failure"} 1
bindery_runtime_module_loads_total{outcome="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bindery_runtime_module_loads_total"))
}

func TestRecorder_SnapshotWithNoTraffic(t *testing.T) {
	r, _ := newRecorder(t, nil)
	assert.Equal(t, Snapshot{}, r.Snapshot())
	assert.Empty(t, r.Recommendations())
}

func TestRecorder_Snapshot(t *testing.T) {
	r, _ := newRecorder(t, nil)
	r.ObserveCapabilityCheck("single", 2*time.Microsecond)
	r.ObserveCapabilityCheck("all", 4*time.Microsecond)
	r.ObserveCacheLookup(true)
	r.ObserveCacheLookup(false)
	r.ObserveCacheLookup(true)
	r.ObserveCacheLookup(true)
	r.ObserveModuleLoad("pos", 100*time.Millisecond, nil)
	r.ObserveModuleLoad("tables", 300*time.Millisecond, nil)
	r.ObserveModuleLoad("crm", time.Second, errors.New("boom"))

	s := r.Snapshot()
	assert.EqualValues(t, 2, s.Checks)
	assert.Equal(t, 3*time.Microsecond, s.AverageCheckTime)
	assert.InDelta(t, 0.75, s.HitRate, 1e-9)
	assert.Equal(t, 3, s.Loads)
	assert.Equal(t, 1, s.FailedLoads)
	assert.Equal(t, 200*time.Millisecond, s.AverageLoadTime)
	assert.Equal(t, "tables", s.SlowestModule)
	assert.Equal(t, 300*time.Millisecond, s.SlowestLoadTime)

	r.Reset()
	assert.Equal(t, Snapshot{}, r.Snapshot())
}

func TestRecorder_Recommendations(t *testing.T) {
	th := DefaultThresholds
	th.MinLookups = 4
	th.MinLoadsForRates = 2
	r, _ := newRecorder(t, &th)

	for i := 0; i < 4; i++ {
		r.ObserveCacheLookup(i == 0)
	}
	r.ObserveCapabilityCheck("single", 5*time.Millisecond)
	r.ObserveModuleLoad("reports", 3*time.Second, nil)
	r.ObserveModuleLoad("pos", 10*time.Millisecond, nil)
	r.ObserveModuleLoad("crm", 0, errors.New("boom"))

	var kinds []string
	for _, rec := range r.Recommendations() {
		kinds = append(kinds, rec.Kind)
		if rec.Kind == RecommendPreload {
			assert.Equal(t, "reports", rec.Subject)
		}
	}
	assert.Equal(t, []string{
		RecommendCacheHitRate,
		RecommendSlowChecks,
		RecommendPreload,
		RecommendLoadFailureRate,
	}, kinds)
}

func TestNewRecorder_WithoutRegisterer(t *testing.T) {
	r, err := NewRecorder(Options{})
	require.NoError(t, err)
	r.ObserveCacheLookup(true)
	assert.EqualValues(t, 1, r.Snapshot().CacheHits)
}
