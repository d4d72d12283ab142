// Package depgraph models a directed, possibly-cyclic dependency graph over
// queued build jobs. It deliberately avoids topological sort, which is
// undefined on a cyclic graph — PossibleJobs needs an answer even when the
// queue contains a dependency cycle.
package depgraph

// Graph is an arena of nodes addressed by index, with edges stored as
// adjacency lists of indices. Keying by index rather than by pointer keeps
// the arena cheap to rebuild every AssignJobs cycle.
type Graph struct {
	keys   []string       // index -> key, insertion order preserved
	index  map[string]int // key -> index
	edges  [][]int        // index -> dependency indices (job -> what it depends on)
	rev    [][]int        // index -> dependant indices (who depends on this job)
}

func New() *Graph {
	return &Graph{index: map[string]int{}}
}

// AddNode registers a job key, returning its index. Re-adding an existing
// key is a no-op and returns the original index.
func (g *Graph) AddNode(key string) int {
	if i, ok := g.index[key]; ok {
		return i
	}
	i := len(g.keys)
	g.keys = append(g.keys, key)
	g.index[key] = i
	g.edges = append(g.edges, nil)
	g.rev = append(g.rev, nil)
	return i
}

// AddDependency records that job key depends on job dep. Both must already
// be registered via AddNode; unknown dependencies are the caller's
// responsibility to skip (per spec.md §4.1, unresolved pkgnames are
// silently dropped before this is ever called).
func (g *Graph) AddDependency(key, dep string) {
	ki, ok := g.index[key]
	if !ok {
		return
	}
	di, ok := g.index[dep]
	if !ok {
		return
	}
	g.edges[ki] = append(g.edges[ki], di)
	g.rev[di] = append(g.rev[di], ki)
}

// OverallOrder returns node keys in insertion order — the order the
// traversal in PossibleJobs is required to use for determinism (§8,
// property 5: cycle tolerance must still be deterministic given insertion
// order).
func (g *Graph) OverallOrder() []string {
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}

// DependantsOf returns every node that transitively depends on key
// (directly or through a chain), safe on cyclic graphs.
func (g *Graph) DependantsOf(key string) []string {
	start, ok := g.index[key]
	if !ok {
		return nil
	}
	seen := map[int]bool{start: true}
	var order []int
	queue := []int{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, dependant := range g.rev[n] {
			if seen[dependant] {
				continue
			}
			seen[dependant] = true
			order = append(order, dependant)
			queue = append(queue, dependant)
		}
	}
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = g.keys[idx]
	}
	return out
}

// Dependencies returns the direct dependency keys of key.
func (g *Graph) Dependencies(key string) []string {
	i, ok := g.index[key]
	if !ok {
		return nil
	}
	out := make([]string, len(g.edges[i]))
	for j, idx := range g.edges[i] {
		out[j] = g.keys[idx]
	}
	return out
}
