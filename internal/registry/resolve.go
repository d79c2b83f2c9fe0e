package registry

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/bayleafwalker/bindery-runtime/internal/apperrors"
	"github.com/bayleafwalker/bindery-runtime/internal/graph"
	"github.com/bayleafwalker/bindery-runtime/internal/semver"
)

// VersionMismatch is a dependency whose registered version does not satisfy
// the dependent's constraint.
type VersionMismatch struct {
	ModuleID   string
	Constraint string
	Version    string
}

// Resolution is the structured result of ResolveDependencies.
type Resolution struct {
	ModuleID string

	MissingCapabilities  []string
	MissingModules       []string
	Conflicts            []string
	IncompatibleVersions []VersionMismatch

	// MissingOptional lists optional capabilities that are not available. It
	// does not affect Satisfied.
	MissingOptional []string

	// LoadOrder lists id and its registered transitive dependencies,
	// dependencies first.
	LoadOrder []string

	Satisfied bool
}

// Err returns a DependencyUnsatisfied error describing r, or nil when r is
// satisfied.
func (r Resolution) Err() error {
	if r.Satisfied {
		return nil
	}
	var parts []string
	if len(r.MissingCapabilities) > 0 {
		parts = append(parts, "missing capabilities: "+strings.Join(r.MissingCapabilities, ", "))
	}
	if len(r.MissingModules) > 0 {
		parts = append(parts, "missing modules: "+strings.Join(r.MissingModules, ", "))
	}
	if len(r.Conflicts) > 0 {
		parts = append(parts, "active conflicts: "+strings.Join(r.Conflicts, ", "))
	}
	for _, v := range r.IncompatibleVersions {
		parts = append(parts, fmt.Sprintf("%s@%s does not satisfy %s", v.ModuleID, v.Version, v.Constraint))
	}
	return apperrors.WithMetadata(apperrors.CodeDependencyUnsatisfied,
		fmt.Sprintf("module %q: %s", r.ModuleID, strings.Join(parts, "; ")),
		map[string]string{"module": r.ModuleID})
}

// ResolveDependencies checks id against the available capabilities and the
// current registry contents. Only an unknown id is an error; unmet
// requirements are reported in the Resolution.
func (r *Registry) ResolveDependencies(id string, available sets.Set[string]) (Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Resolution{}, notFound(id)
	}
	def := e.def
	res := Resolution{ModuleID: id}

	for _, c := range def.RequiredCapabilities {
		if !available.Has(c) {
			res.MissingCapabilities = append(res.MissingCapabilities, c)
		}
	}
	for _, c := range def.OptionalCapabilities {
		if !available.Has(c) {
			res.MissingOptional = append(res.MissingOptional, c)
		}
	}
	for _, dep := range def.DependsOn {
		depEntry, ok := r.entries[dep]
		if !ok {
			res.MissingModules = append(res.MissingModules, dep)
			continue
		}
		if raw, ok := def.VersionConstraints[dep]; ok {
			if match, err := semver.Check(depEntry.def.Version, raw); err != nil || !match {
				res.IncompatibleVersions = append(res.IncompatibleVersions, VersionMismatch{
					ModuleID:   dep,
					Constraint: raw,
					Version:    depEntry.def.Version,
				})
			}
		}
	}
	for _, c := range def.Conflicts {
		if other, ok := r.entries[c]; ok && other.active {
			res.Conflicts = append(res.Conflicts, c)
		}
	}

	res.LoadOrder = r.graphLocked().PostOrder(id)
	res.Satisfied = len(res.MissingCapabilities) == 0 &&
		len(res.MissingModules) == 0 &&
		len(res.Conflicts) == 0 &&
		len(res.IncompatibleVersions) == 0
	return res, nil
}

// Graph returns the dependency graph of the registered modules. Edges to
// unregistered modules are omitted.
func (r *Registry) Graph() *graph.Graph {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.graphLocked()
}

func (r *Registry) graphLocked() *graph.Graph {
	g := graph.New()
	for _, id := range r.order {
		g.AddNode(id)
	}
	for _, id := range r.order {
		for _, dep := range r.entries[id].def.DependsOn {
			if _, ok := r.entries[dep]; ok {
				g.AddDependency(id, dep)
			}
		}
	}
	return g
}
