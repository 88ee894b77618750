package resolve

import (
	"fmt"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
)

// NodeView is the read-only view of a resource handed to templates.
type NodeView struct {
	UniqueID string
	Name     string
	Kind     string
	Package  string
	Tags     []string
	Config   map[string]string

	resolver ReferenceResolver
}

// Relation resolves the node the same way a ref to it would.
func (v NodeView) Relation() (ir.Relation, error) {
	if v.resolver == nil {
		return ir.Relation{}, &ResolutionError{UniqueID: v.UniqueID, Reason: "no resolver bound"}
	}
	return v.resolver.ResolveReference(v.UniqueID)
}

func (v NodeView) env() map[string]any {
	tags := v.Tags
	if tags == nil {
		tags = []string{}
	}
	config := v.Config
	if config == nil {
		config = map[string]string{}
	}
	return map[string]any{
		"unique_id": v.UniqueID,
		"name":      v.Name,
		"kind":      v.Kind,
		"package":   v.Package,
		"tags":      tags,
		"config":    config,
	}
}

// Lookup lets templates inspect the resource graph. Predicates are expr-lang
// expressions over unique_id, name, kind, package, tags and config.
type Lookup struct {
	graph    *engine.Graph
	resolver ReferenceResolver
	programs *programCache
}

type programCache struct {
	mu       sync.Mutex
	programs map[string]*exprvm.Program
}

// NewLookup returns a lookup over g whose views resolve relations through resolver.
func NewLookup(g *engine.Graph, resolver ReferenceResolver) *Lookup {
	return &Lookup{
		graph:    g,
		resolver: resolver,
		programs: &programCache{programs: make(map[string]*exprvm.Program)},
	}
}

// WithResolver returns a lookup sharing the graph and compiled predicates but
// resolving through resolver.
func (l *Lookup) WithResolver(resolver ReferenceResolver) *Lookup {
	return &Lookup{graph: l.graph, resolver: resolver, programs: l.programs}
}

func (l *Lookup) view(res *ir.Resource) NodeView {
	return NodeView{
		UniqueID: res.UniqueID,
		Name:     res.Name,
		Kind:     string(res.Kind),
		Package:  res.Package,
		Tags:     res.Tags,
		Config:   res.Config,
		resolver: l.resolver,
	}
}

// Nodes returns every node in dependency order.
func (l *Lookup) Nodes() []NodeView {
	resources := l.graph.Resources()
	out := make([]NodeView, 0, len(resources))
	for _, res := range resources {
		out = append(out, l.view(res))
	}
	return out
}

// Get returns the node with the given unique id.
func (l *Lookup) Get(id string) (NodeView, error) {
	res := l.graph.Resource(id)
	if res == nil {
		return NodeView{}, fmt.Errorf("node %s not found", id)
	}
	return l.view(res), nil
}

// ByName returns every node named name, in dependency order.
func (l *Lookup) ByName(name string) []NodeView {
	var out []NodeView
	for _, res := range l.graph.Resources() {
		if res.Name == name {
			out = append(out, l.view(res))
		}
	}
	return out
}

// Where returns the nodes matching predicate, in dependency order.
func (l *Lookup) Where(predicate string) ([]NodeView, error) {
	program, err := l.compile(predicate)
	if err != nil {
		return nil, err
	}
	var out []NodeView
	for _, res := range l.graph.Resources() {
		v := l.view(res)
		got, err := exprlang.Run(program, v.env())
		if err != nil {
			return nil, fmt.Errorf("evaluate %q on %s: %w", predicate, res.UniqueID, err)
		}
		if matched, _ := got.(bool); matched {
			out = append(out, v)
		}
	}
	return out, nil
}

// First returns the first node matching predicate in dependency order.
func (l *Lookup) First(predicate string) (NodeView, error) {
	nodes, err := l.Where(predicate)
	if err != nil {
		return NodeView{}, err
	}
	if len(nodes) == 0 {
		return NodeView{}, fmt.Errorf("no node matches %q", predicate)
	}
	return nodes[0], nil
}

func (l *Lookup) compile(predicate string) (*exprvm.Program, error) {
	c := l.programs
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[predicate]; ok {
		return p, nil
	}
	p, err := exprlang.Compile(predicate, exprlang.Env(NodeView{}.env()), exprlang.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", predicate, err)
	}
	c.programs[predicate] = p
	return p, nil
}
