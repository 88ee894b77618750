package engine

import (
	"fmt"
	"sort"

	"github.com/picklr-io/strata/internal/ir"
)

// Graph is the directed acyclic graph of project resources.
// Edges point from a dependent to its dependencies. A Graph is immutable once built.
type Graph struct {
	nodes map[string]*graphNode
	order []string // topological order, dependencies first
}

type graphNode struct {
	res      *ir.Resource
	edges    []string // resources this node depends on
	revEdges []string // resources that depend on this node
}

// BuildGraph constructs the resource graph. Every dependency must name a resource in
// the set; resources of kind source are the only external (never built) nodes and
// must be declared like any other resource.
func BuildGraph(resources []*ir.Resource) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*graphNode, len(resources)),
	}

	for _, res := range resources {
		if res.UniqueID == "" {
			return nil, fmt.Errorf("resource %q has no unique id", res.Name)
		}
		if _, dup := g.nodes[res.UniqueID]; dup {
			return nil, fmt.Errorf("duplicate resource id %s", res.UniqueID)
		}
		g.nodes[res.UniqueID] = &graphNode{res: res}
	}

	for _, res := range resources {
		node := g.nodes[res.UniqueID]
		seen := make(map[string]bool)
		for _, dep := range res.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := g.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, res.UniqueID, dep)
			}
			node.edges = append(node.edges, dep)
		}
		sort.Strings(node.edges)
	}

	for id, node := range g.nodes {
		for _, dep := range node.edges {
			g.nodes[dep].revEdges = append(g.nodes[dep].revEdges, id)
		}
	}
	for _, node := range g.nodes {
		sort.Strings(node.revEdges)
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// topoSort performs Kahn's algorithm. Ties are broken by id so the order is stable.
func (g *Graph) topoSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	var queue []string
	for id, node := range g.nodes {
		inDegree[id] = len(node.edges)
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		var released []string
		for _, dependent := range g.nodes[id].revEdges {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(sorted) != len(g.nodes) {
		return nil, &CycleError{Path: g.findCycle(inDegree)}
	}
	return sorted, nil
}

// findCycle walks the nodes left with a positive in-degree after Kahn's algorithm
// and returns one cycle through them.
func (g *Graph) findCycle(inDegree map[string]int) []string {
	var remaining []string
	for id, deg := range inDegree {
		if deg > 0 {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	sort.Strings(remaining)

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.nodes[id].edges {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string{}, stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range remaining {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return remaining
}

// Len returns the number of resources in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Resource returns the resource for id, or nil.
func (g *Graph) Resource(id string) *ir.Resource {
	if node, ok := g.nodes[id]; ok {
		return node.res
	}
	return nil
}

// Order returns all ids in dependency-respecting order.
func (g *Graph) Order() []string {
	return g.order
}

// Resources returns every resource in topological order.
func (g *Graph) Resources() []*ir.Resource {
	out := make([]*ir.Resource, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id].res)
	}
	return out
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	if node, ok := g.nodes[id]; ok {
		return node.edges
	}
	return nil
}

// Dependents returns the resources that depend directly on id.
func (g *Graph) Dependents(id string) []string {
	if node, ok := g.nodes[id]; ok {
		return node.revEdges
	}
	return nil
}

// Ancestors returns everything the seeds depend on, up to depth hops away.
// A negative depth walks the whole upstream graph. Seeds are not included.
func (g *Graph) Ancestors(seeds []string, depth int) []string {
	return g.walk(seeds, depth, func(n *graphNode) []string { return n.edges })
}

// Descendants returns everything depending on the seeds, up to depth hops away.
// A negative depth walks the whole downstream graph. Seeds are not included.
func (g *Graph) Descendants(seeds []string, depth int) []string {
	return g.walk(seeds, depth, func(n *graphNode) []string { return n.revEdges })
}

// TransitiveDeps returns every upstream resource of id.
func (g *Graph) TransitiveDeps(id string) []string {
	return g.Ancestors([]string{id}, -1)
}

func (g *Graph) walk(seeds []string, depth int, next func(*graphNode) []string) []string {
	visited := make(map[string]bool)
	var frontier []string
	for _, s := range seeds {
		if _, ok := g.nodes[s]; ok && !visited[s] {
			visited[s] = true
			frontier = append(frontier, s)
		}
	}

	var found []string
	for hop := 0; len(frontier) > 0 && (depth < 0 || hop < depth); hop++ {
		var nextFrontier []string
		for _, id := range frontier {
			for _, n := range next(g.nodes[id]) {
				if visited[n] {
					continue
				}
				visited[n] = true
				found = append(found, n)
				nextFrontier = append(nextFrontier, n)
			}
		}
		frontier = nextFrontier
	}

	sort.Strings(found)
	return found
}

// Restrict returns ids in topological order, keeping only members of set.
func (g *Graph) Restrict(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, id := range g.order {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}
