package registry

import (
	"fmt"
	"time"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

// PerformHealthCheck reports the health of id. It never fails: unknown and
// errored modules are unhealthy, slow or memory-heavy loaded modules are
// degraded.
func (r *Registry) PerformHealthCheck(id string) binderyv1alpha1.HealthReport {
	report := binderyv1alpha1.HealthReport{
		ModuleID:  id,
		Status:    binderyv1alpha1.HealthHealthy,
		CheckedAt: r.opts.Clock.Now(),
	}

	r.mu.RLock()
	e, ok := r.entries[id]
	var (
		state    binderyv1alpha1.ModuleState
		loadErr  error
		instance any
		loadTime time.Duration
	)
	if ok {
		state, loadErr, instance, loadTime = e.state, e.err, e.instance, e.loadDuration
	}
	r.mu.RUnlock()

	switch {
	case !ok:
		report.Status = binderyv1alpha1.HealthUnhealthy
		report.Issues = []string{"module not registered"}
		return report
	case state == binderyv1alpha1.ModuleStateError:
		report.Status = binderyv1alpha1.HealthUnhealthy
		msg := "module unavailable"
		if loadErr != nil {
			msg += ": " + loadErr.Error()
		}
		report.Issues = []string{msg}
	case state == binderyv1alpha1.ModuleStateLoaded:
		if loadTime > r.opts.LoadTimeThreshold {
			report.Status = binderyv1alpha1.HealthDegraded
			report.Issues = append(report.Issues, fmt.Sprintf("slow load: %s exceeds %s", loadTime, r.opts.LoadTimeThreshold))
		}
		if mr, ok := instance.(binderyv1alpha1.MemoryReporter); ok {
			if mem := mr.MemoryBytes(); mem > r.opts.MemoryThreshold {
				report.Status = binderyv1alpha1.HealthDegraded
				report.Issues = append(report.Issues, fmt.Sprintf("high memory: %d bytes exceeds %d", mem, r.opts.MemoryThreshold))
			}
		}
	}

	r.mu.Lock()
	if cur, ok := r.entries[id]; ok && cur == e {
		stored := report
		e.health = &stored
	}
	r.mu.Unlock()
	return report
}

// LastHealth returns the most recent health report of id.
func (r *Registry) LastHealth(id string) (binderyv1alpha1.HealthReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.health == nil {
		return binderyv1alpha1.HealthReport{}, false
	}
	return *e.health, true
}

// Statistics summarizes the registry.
type Statistics struct {
	Total   int
	Idle    int
	Loading int
	Loaded  int
	Active  int
	Errored int

	// AverageLoadTime is averaged over modules with recorded load metrics.
	AverageLoadTime  time.Duration
	TotalMemoryBytes int64
}

func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		s        Statistics
		sum      time.Duration
		measured int
	)
	s.Total = len(r.entries)
	for _, e := range r.entries {
		switch e.state {
		case binderyv1alpha1.ModuleStateIdle:
			s.Idle++
		case binderyv1alpha1.ModuleStateLoading:
			s.Loading++
		case binderyv1alpha1.ModuleStateLoaded:
			s.Loaded++
		case binderyv1alpha1.ModuleStateError:
			s.Errored++
		}
		if e.active {
			s.Active++
		}
		if e.loadDuration > 0 {
			sum += e.loadDuration
			measured++
		}
		if mr, ok := e.instance.(binderyv1alpha1.MemoryReporter); ok {
			s.TotalMemoryBytes += mr.MemoryBytes()
		}
	}
	if measured > 0 {
		s.AverageLoadTime = sum / time.Duration(measured)
	}
	return s
}
