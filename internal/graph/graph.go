// Package graph models module dependencies as an adjacency-list graph with
// cycle detection and topological ordering.
//
// A Graph is built per resolution request and is not safe for concurrent
// mutation. Every traversal follows node insertion order, so results are
// deterministic.
package graph

import "slices"

// Graph is a directed graph where an edge id -> dep means id depends on dep.
type Graph struct {
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

func New() *Graph {
	return &Graph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
}

// AddNode adds id if not already present.
func (g *Graph) AddNode(id string) {
	if _, ok := g.deps[id]; ok {
		return
	}
	g.order = append(g.order, id)
	g.deps[id] = nil
}

// AddDependency records that id depends on dep, adding either node as
// needed. Duplicate edges are ignored. A self edge is kept and reported as a
// cycle.
func (g *Graph) AddDependency(id, dep string) {
	g.AddNode(id)
	g.AddNode(dep)
	for _, d := range g.deps[id] {
		if d == dep {
			return
		}
	}
	g.deps[id] = append(g.deps[id], dep)
	g.dependents[dep] = append(g.dependents[dep], id)
}

func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// Nodes returns node ids in insertion order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Graph) Len() int { return len(g.order) }

// DependenciesOf returns the direct dependencies of id.
func (g *Graph) DependenciesOf(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// DependentsOf returns the nodes that directly depend on id.
func (g *Graph) DependentsOf(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Subgraph returns the graph induced by the nodes for which keep returns true.
func (g *Graph) Subgraph(keep func(id string) bool) *Graph {
	sub := New()
	for _, id := range g.order {
		if keep(id) {
			sub.AddNode(id)
		}
	}
	for _, id := range sub.order {
		for _, dep := range g.deps[id] {
			if sub.Has(dep) {
				sub.AddDependency(id, dep)
			}
		}
	}
	return sub
}

// Cycles returns every strongly connected component that forms a cycle: those
// with more than one node, and single nodes with a self edge. Components and
// their members follow insertion order.
func (g *Graph) Cycles() [][]string {
	t := tarjan{
		g:       g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, id := range g.order {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}

	pos := make(map[string]int, len(g.order))
	for i, id := range g.order {
		pos[id] = i
	}
	var cycles [][]string
	for _, scc := range t.components {
		if len(scc) == 1 && !g.selfLoop(scc[0]) {
			continue
		}
		slices.SortFunc(scc, func(a, b string) int { return pos[a] - pos[b] })
		cycles = append(cycles, scc)
	}
	// Tarjan emits components in reverse topological order.
	slices.SortFunc(cycles, func(a, b []string) int { return pos[a[0]] - pos[b[0]] })
	return cycles
}

func (g *Graph) selfLoop(id string) bool {
	for _, d := range g.deps[id] {
		if d == id {
			return true
		}
	}
	return false
}

type tarjan struct {
	g          *Graph
	next       int
	index      map[string]int
	lowlink    map[string]int
	onStack    map[string]bool
	stack      []string
	components [][]string
}

func (t *tarjan) strongConnect(v string) {
	t.index[v] = t.next
	t.lowlink[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.deps[v] {
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			t.lowlink[v] = min(t.lowlink[v], t.lowlink[w])
		} else if t.onStack[w] {
			t.lowlink[v] = min(t.lowlink[v], t.index[w])
		}
	}

	if t.lowlink[v] != t.index[v] {
		return
	}
	var scc []string
	for {
		n := len(t.stack) - 1
		w := t.stack[n]
		t.stack = t.stack[:n]
		t.onStack[w] = false
		scc = append(scc, w)
		if w == v {
			break
		}
	}
	t.components = append(t.components, scc)
}

// TopologicalLevels orders the graph with Kahn's algorithm. Every node in a
// level depends only on nodes in earlier levels, so the members of one level
// are independent of each other. Nodes that never become ready (cycle members
// and everything depending on them) are returned in blocked, in insertion
// order.
func (g *Graph) TopologicalLevels() (levels [][]string, blocked []string) {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
	}

	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	placed := 0
	for len(ready) > 0 {
		levels = append(levels, ready)
		placed += len(ready)
		var next []string
		for _, id := range ready {
			for _, dependent := range g.dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed < len(g.order) {
		for _, id := range g.order {
			if indegree[id] > 0 {
				blocked = append(blocked, id)
			}
		}
	}
	return levels, blocked
}

// TopologicalOrder flattens TopologicalLevels.
func (g *Graph) TopologicalOrder() (order []string, blocked []string) {
	levels, blocked := g.TopologicalLevels()
	for _, level := range levels {
		order = append(order, level...)
	}
	return order, blocked
}

// PostOrder returns the nodes reachable from start in depth-first post-order:
// every dependency precedes its dependents and start comes last. Each node is
// visited once, so cycles terminate. An unknown start yields nil.
func (g *Graph) PostOrder(start string) []string {
	if !g.Has(start) {
		return nil
	}
	visited := make(map[string]bool)
	var out []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.deps[id] {
			visit(dep)
		}
		out = append(out, id)
	}
	visit(start)
	return out
}

// Dependents returns, in insertion order, every node that transitively depends
// on any of ids. An id is included itself only when it sits on a cycle.
func (g *Graph) Dependents(ids ...string) []string {
	seen := make(map[string]bool)
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[id] {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
	var out []string
	for _, id := range g.order {
		if seen[id] {
			out = append(out, id)
		}
	}
	return out
}
