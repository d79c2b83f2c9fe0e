package healthz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

type fakeSource map[string]binderyv1alpha1.HealthReport

func (f fakeSource) ModuleIDs() []string {
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	return ids
}

func (f fakeSource) PerformHealthCheck(id string) binderyv1alpha1.HealthReport {
	return f[id]
}

func get(t *testing.T, h http.Handler, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestModuleChecker(t *testing.T) {
	src := fakeSource{
		"pos":     {Status: binderyv1alpha1.HealthHealthy},
		"kitchen": {Status: binderyv1alpha1.HealthDegraded, Issues: []string{"slow load"}},
		"billing": {Status: binderyv1alpha1.HealthUnhealthy, Issues: []string{"module unavailable: boom"}},
	}
	assert.NoError(t, ModuleChecker(src, "pos")(nil))
	assert.NoError(t, ModuleChecker(src, "kitchen")(nil))

	err := ModuleChecker(src, "billing")(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "module unavailable")
}

func TestHandler(t *testing.T) {
	src := fakeSource{
		"pos":     {Status: binderyv1alpha1.HealthHealthy},
		"billing": {Status: binderyv1alpha1.HealthUnhealthy},
	}
	h := Handler(src)

	assert.Equal(t, http.StatusOK, get(t, h, "/ping"))
	assert.Equal(t, http.StatusOK, get(t, h, "/module-pos"))
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/module-billing"))
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/"))

	src["billing"] = binderyv1alpha1.HealthReport{Status: binderyv1alpha1.HealthHealthy}
	assert.Equal(t, http.StatusOK, get(t, h, "/"))

	assert.Equal(t, http.StatusNotFound, get(t, h, "/module-missing"))
}
