package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDependantsOfDirectAndTransitive(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	g.AddDependency("b", "a") // b depends on a
	g.AddDependency("c", "b") // c depends on b

	require.ElementsMatch(t, []string{"b", "c"}, g.DependantsOf("a"))
	require.ElementsMatch(t, []string{"c"}, g.DependantsOf("b"))
	require.Empty(t, g.DependantsOf("c"))
}

func TestDependantsOfToleratesCycle(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddDependency("a", "b")
	g.AddDependency("b", "a")

	// Neither direction should hang or panic on the cycle.
	require.ElementsMatch(t, []string{"a"}, g.DependantsOf("b"))
	require.ElementsMatch(t, []string{"b"}, g.DependantsOf("a"))
}

func TestAddDependencyIgnoresUnknownKeys(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddDependency("a", "ghost")
	g.AddDependency("ghost", "a")

	require.Empty(t, g.Dependencies("a"))
	require.Empty(t, g.DependantsOf("a"))
}

func TestOverallOrderPreservesInsertion(t *testing.T) {
	g := New()
	g.AddNode("c")
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("a") // re-adding is a no-op

	require.Equal(t, []string{"c", "a", "b"}, g.OverallOrder())
}

func TestDependenciesReturnsDirectOnly(t *testing.T) {
	g := New()
	g.AddNode("a")
	g.AddNode("b")
	g.AddNode("c")
	g.AddDependency("c", "a")
	g.AddDependency("c", "b")

	require.ElementsMatch(t, []string{"a", "b"}, g.Dependencies("c"))
}
