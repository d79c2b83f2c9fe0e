// Package healthz exposes module health through controller-runtime's healthz
// handlers.
package healthz

import (
	"errors"
	"net/http"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/healthz"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

// Source reports module health.
type Source interface {
	ModuleIDs() []string
	PerformHealthCheck(id string) binderyv1alpha1.HealthReport
}

// ModuleChecker fails while id is unhealthy. Degraded modules pass.
func ModuleChecker(src Source, id string) healthz.Checker {
	return func(*http.Request) error {
		report := src.PerformHealthCheck(id)
		if report.Status != binderyv1alpha1.HealthUnhealthy {
			return nil
		}
		if len(report.Issues) == 0 {
			return errors.New("unhealthy")
		}
		return errors.New(strings.Join(report.Issues, "; "))
	}
}

// Checks returns a ping check plus one check per registered module, named
// "module-<id>".
func Checks(src Source) map[string]healthz.Checker {
	checks := map[string]healthz.Checker{"ping": healthz.Ping}
	for _, id := range src.ModuleIDs() {
		checks["module-"+id] = ModuleChecker(src, id)
	}
	return checks
}

// Handler serves the aggregate at "/" and each check at "/<name>". The set of
// checks follows the registered modules on every request; mount it under a
// prefix with http.StripPrefix.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		(&healthz.Handler{Checks: Checks(src)}).ServeHTTP(w, req)
	})
}
