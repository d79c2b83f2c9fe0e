// Package telemetry records runtime performance as Prometheus metrics and an
// in-process snapshot used for tuning recommendations.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bindery_runtime"

type metrics struct {
	checkDuration  *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	loadDuration   *prometheus.HistogramVec
	loadsTotal     *prometheus.CounterVec
	moduleEvents   *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capability_check_duration_seconds",
				Help:      "Time taken to answer a capability check, by kind.",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
			},
			[]string{"kind"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Capability cache lookups, by result.",
			},
			[]string{"result"},
		),
		cacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Capability cache entries evicted at capacity.",
			},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_load_duration_seconds",
				Help:      "Time taken to load a module, by outcome.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		loadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_loads_total",
				Help:      "Module load attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		moduleEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_events_total",
				Help:      "Module lifecycle events, by type.",
			},
			[]string{"type"},
		),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.checkDuration,
		m.cacheLookups,
		m.cacheEvictions,
		m.loadDuration,
		m.loadsTotal,
		m.moduleEvents,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
