package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(edges map[string][]string, nodes ...string) *Graph {
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
		for _, dep := range edges[n] {
			g.AddDependency(n, dep)
		}
	}
	return g
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestAddDependency_IgnoresDuplicates(t *testing.T) {
	g := New()
	g.AddDependency("orders", "catalog")
	g.AddDependency("orders", "catalog")

	assert.Equal(t, []string{"orders", "catalog"}, g.Nodes())
	assert.Equal(t, []string{"catalog"}, g.DependenciesOf("orders"))
	assert.Equal(t, []string{"orders"}, g.DependentsOf("catalog"))
}

func TestTopologicalLevels_DependenciesFirst(t *testing.T) {
	g := build(map[string][]string{
		"pos":       {"catalog", "payments"},
		"tables":    {"pos"},
		"kitchen":   {"pos"},
		"payments":  {"customers"},
		"catalog":   {"customers"},
		"reporting": nil,
	}, "tables", "kitchen", "pos", "payments", "catalog", "customers", "reporting")

	levels, blocked := g.TopologicalLevels()
	require.Empty(t, blocked)

	assert.Equal(t, [][]string{
		{"customers", "reporting"},
		{"payments", "catalog"},
		{"pos"},
		{"tables", "kitchen"},
	}, levels)

	order, _ := g.TopologicalOrder()
	for _, id := range g.Nodes() {
		for _, dep := range g.DependenciesOf(id) {
			assert.Less(t, indexOf(order, dep), indexOf(order, id), "%s must precede %s", dep, id)
		}
	}
}

func TestTopologicalLevels_LevelsAreIndependent(t *testing.T) {
	g := build(map[string][]string{
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	}, "a", "b", "c", "d")

	levels, _ := g.TopologicalLevels()
	for _, level := range levels {
		for _, x := range level {
			for _, y := range level {
				assert.NotContains(t, g.DependenciesOf(x), y)
			}
		}
	}
}

func TestTopologicalLevels_CycleIsBlocked(t *testing.T) {
	g := build(map[string][]string{
		"a": {"b"},
		"b": {"a"},
		"d": {"a"},
	}, "a", "b", "c", "d")

	levels, blocked := g.TopologicalLevels()

	assert.Equal(t, [][]string{{"c"}}, levels)
	assert.Equal(t, []string{"a", "b", "d"}, blocked)
}

func TestCycles(t *testing.T) {
	g := build(map[string][]string{
		"a":    {"b"},
		"b":    {"a"},
		"self": {"self"},
		"x":    {"y"},
		"y":    {"z"},
		"z":    {"x"},
		"d":    {"a"},
	}, "d", "a", "b", "c", "self", "x", "y", "z")

	assert.Equal(t, [][]string{{"a", "b"}, {"self"}, {"x", "y", "z"}}, g.Cycles())
}

func TestCycles_AcyclicGraph(t *testing.T) {
	g := build(map[string][]string{"b": {"a"}}, "a", "b")
	assert.Empty(t, g.Cycles())
}

func TestPostOrder(t *testing.T) {
	g := build(map[string][]string{
		"app":       {"billing", "auth"},
		"billing":   {"auth", "db"},
		"auth":      {"db"},
		"unrelated": {"db"},
	}, "app", "billing", "auth", "db", "unrelated")

	assert.Equal(t, []string{"db", "auth", "billing", "app"}, g.PostOrder("app"))
	assert.Nil(t, g.PostOrder("missing"))
}

func TestPostOrder_TerminatesOnCycle(t *testing.T) {
	g := build(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}, "a", "b", "c")

	assert.Equal(t, []string{"c", "b", "a"}, g.PostOrder("a"))
}

func TestSubgraph(t *testing.T) {
	g := build(map[string][]string{
		"c": {"b"},
		"b": {"a"},
	}, "a", "b", "c")

	sub := g.Subgraph(func(id string) bool { return id != "a" })

	assert.Equal(t, []string{"b", "c"}, sub.Nodes())
	assert.Empty(t, sub.DependenciesOf("b"))
	assert.Equal(t, []string{"b"}, sub.DependenciesOf("c"))
}

func TestDependents_Transitive(t *testing.T) {
	g := build(map[string][]string{
		"b": {"a"},
		"c": {"b"},
		"d": nil,
	}, "a", "b", "c", "d")

	assert.Equal(t, []string{"b", "c"}, g.Dependents("a"))
	assert.Empty(t, g.Dependents("d"))
}
