package telemetry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

// Thresholds tune Recommendations.
type Thresholds struct {
	MinHitRate       float64
	MinLookups       uint64
	SlowCheck        time.Duration
	SlowModuleLoad   time.Duration
	MaxFailureRate   float64
	MinLoadsForRates int
}

var DefaultThresholds = Thresholds{
	MinHitRate:       0.7,
	MinLookups:       100,
	SlowCheck:        time.Millisecond,
	SlowModuleLoad:   2 * time.Second,
	MaxFailureRate:   0.1,
	MinLoadsForRates: 5,
}

type Options struct {
	// Registerer receives the collectors. Nil keeps them unregistered.
	Registerer prometheus.Registerer
	Thresholds *Thresholds
}

// Snapshot is an aggregate of everything recorded so far.
type Snapshot struct {
	Checks           uint64
	AverageCheckTime time.Duration
	CacheHits        uint64
	CacheMisses      uint64
	CacheEvictions   uint64
	HitRate          float64
	Loads            int
	FailedLoads      int
	AverageLoadTime  time.Duration
	SlowestModule    string
	SlowestLoadTime  time.Duration
}

// Recommendation is one tuning suggestion.
type Recommendation struct {
	Kind    string
	Subject string
	Message string
}

const (
	RecommendCacheHitRate    = "cache-hit-rate"
	RecommendSlowChecks      = "slow-checks"
	RecommendPreload         = "preload"
	RecommendLoadFailureRate = "load-failure-rate"
)

// Recorder implements the cache, gate, loader and event observers.
type Recorder struct {
	m  *metrics
	th Thresholds

	mu          sync.Mutex
	checks      uint64
	checkTime   time.Duration
	hits        uint64
	misses      uint64
	evictions   uint64
	loads       int
	failedLoads int
	loadTime    time.Duration
	moduleLoad  map[string]time.Duration
}

func NewRecorder(opts Options) (*Recorder, error) {
	th := DefaultThresholds
	if opts.Thresholds != nil {
		th = *opts.Thresholds
	}
	r := &Recorder{
		m:          newMetrics(),
		th:         th,
		moduleLoad: make(map[string]time.Duration),
	}
	if opts.Registerer != nil {
		if err := r.m.register(opts.Registerer); err != nil {
			return nil, fmt.Errorf("register telemetry metrics: %w", err)
		}
	}
	return r, nil
}

func (r *Recorder) ObserveCapabilityCheck(kind string, d time.Duration) {
	r.m.checkDuration.WithLabelValues(kind).Observe(d.Seconds())
	r.mu.Lock()
	r.checks++
	r.checkTime += d
	r.mu.Unlock()
}

func (r *Recorder) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.m.cacheLookups.WithLabelValues(result).Inc()
	r.mu.Lock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()
}

func (r *Recorder) ObserveCacheEviction() {
	r.m.cacheEvictions.Inc()
	r.mu.Lock()
	r.evictions++
	r.mu.Unlock()
}

func (r *Recorder) ObserveModuleLoad(id string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.m.loadDuration.WithLabelValues(outcome).Observe(d.Seconds())
	r.m.loadsTotal.WithLabelValues(outcome).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	if err != nil {
		r.failedLoads++
		return
	}
	r.loadTime += d
	r.moduleLoad[id] = d
}

func (r *Recorder) OnModuleEvent(e binderyv1alpha1.Event) {
	r.m.moduleEvents.WithLabelValues(string(e.Type)).Inc()
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		Checks:         r.checks,
		CacheHits:      r.hits,
		CacheMisses:    r.misses,
		CacheEvictions: r.evictions,
		Loads:          r.loads,
		FailedLoads:    r.failedLoads,
	}
	if r.checks > 0 {
		s.AverageCheckTime = r.checkTime / time.Duration(r.checks)
	}
	if lookups := r.hits + r.misses; lookups > 0 {
		s.HitRate = float64(r.hits) / float64(lookups)
	}
	if ok := r.loads - r.failedLoads; ok > 0 {
		s.AverageLoadTime = r.loadTime / time.Duration(ok)
	}
	for _, id := range r.sortedModules() {
		if d := r.moduleLoad[id]; d > s.SlowestLoadTime {
			s.SlowestModule, s.SlowestLoadTime = id, d
		}
	}
	return s
}

// Recommendations inspects the current snapshot against the thresholds.
func (r *Recorder) Recommendations() []Recommendation {
	s := r.Snapshot()
	var out []Recommendation

	if lookups := s.CacheHits + s.CacheMisses; lookups >= r.th.MinLookups && s.HitRate < r.th.MinHitRate {
		out = append(out, Recommendation{
			Kind:    RecommendCacheHitRate,
			Subject: "cache",
			Message: fmt.Sprintf("cache hit rate is %.0f%%; enable warming or raise the cache size", s.HitRate*100),
		})
	}
	if s.Checks > 0 && s.AverageCheckTime > r.th.SlowCheck {
		out = append(out, Recommendation{
			Kind:    RecommendSlowChecks,
			Subject: "gate",
			Message: fmt.Sprintf("capability checks average %s", s.AverageCheckTime),
		})
	}

	r.mu.Lock()
	for _, id := range r.sortedModules() {
		if d := r.moduleLoad[id]; d > r.th.SlowModuleLoad {
			out = append(out, Recommendation{
				Kind:    RecommendPreload,
				Subject: id,
				Message: fmt.Sprintf("module %s took %s to load; preload it", id, d),
			})
		}
	}
	r.mu.Unlock()

	if s.Loads >= r.th.MinLoadsForRates {
		if rate := float64(s.FailedLoads) / float64(s.Loads); rate > r.th.MaxFailureRate {
			out = append(out, Recommendation{
				Kind:    RecommendLoadFailureRate,
				Subject: "loader",
				Message: fmt.Sprintf("%d of %d module loads failed", s.FailedLoads, s.Loads),
			})
		}
	}
	return out
}

// Reset clears the snapshot. Prometheus counters are cumulative and are not
// reset.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks, r.checkTime = 0, 0
	r.hits, r.misses, r.evictions = 0, 0, 0
	r.loads, r.failedLoads, r.loadTime = 0, 0, 0
	r.moduleLoad = make(map[string]time.Duration)
}

func (r *Recorder) sortedModules() []string {
	ids := make([]string, 0, len(r.moduleLoad))
	for id := range r.moduleLoad {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
