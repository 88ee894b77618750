// Package resolve maps resource references to the relations a render should read,
// redirecting references to unselected resources toward another environment's snapshot
// when deferral is enabled.
package resolve

import (
	"fmt"
	"sort"
	"sync"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// ResolutionError reports a reference that cannot be bound to any relation.
// It fails the node being rendered only.
type ResolutionError struct {
	UniqueID string
	Reason   string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", engine.ErrDeferralResolution, e.UniqueID, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return engine.ErrDeferralResolution }

// ReferenceResolver binds a unique id to a relation.
type ReferenceResolver interface {
	ResolveReference(id string) (ir.Relation, error)
}

// Options configures a Resolver for one invocation.
type Options struct {
	Graph     *engine.Graph
	Selected  map[string]bool
	Target    *ir.Target
	Alternate *ir.Snapshot // snapshot of the environment to defer to
	Defer     bool
}

// Binding is the outcome of resolving one reference.
type Binding struct {
	Relation ir.Relation
	Deferred bool
}

// Resolver resolves references for one scheduler run. Deferred bindings are
// memoised and safe for concurrent use.
type Resolver struct {
	opts Options

	mu       sync.Mutex
	bindings map[string]Binding
}

// NewResolver returns a resolver for opts.
func NewResolver(opts Options) *Resolver {
	if opts.Selected == nil {
		opts.Selected = map[string]bool{}
	}
	return &Resolver{
		opts:     opts,
		bindings: make(map[string]Binding),
	}
}

// ResolveReference returns the relation a reference to id should read.
func (r *Resolver) ResolveReference(id string) (ir.Relation, error) {
	b, err := r.Resolve(id)
	if err != nil {
		return ir.Relation{}, err
	}
	return b.Relation, nil
}

// Resolve is ResolveReference that also reports whether the binding was deferred.
func (r *Resolver) Resolve(id string) (Binding, error) {
	r.mu.Lock()
	if b, ok := r.bindings[id]; ok {
		r.mu.Unlock()
		return b, nil
	}
	r.mu.Unlock()

	b, err := r.bind(id)
	if err != nil {
		return Binding{}, err
	}

	r.mu.Lock()
	r.bindings[id] = b
	r.mu.Unlock()
	return b, nil
}

func (r *Resolver) bind(id string) (Binding, error) {
	var res *ir.Resource
	if r.opts.Graph != nil {
		res = r.opts.Graph.Resource(id)
	}

	if res != nil && res.Kind == ir.KindSource {
		return Binding{Relation: RelationFor(res, r.opts.Target)}, nil
	}

	if r.opts.Selected[id] || !r.opts.Defer {
		if res == nil {
			return Binding{}, &ResolutionError{UniqueID: id, Reason: "not found in the project"}
		}
		return Binding{Relation: RelationFor(res, r.opts.Target)}, nil
	}

	if node := r.opts.Alternate.Node(id); node != nil && node.Relation != nil && !node.Relation.IsZero() {
		logging.Debug("deferring reference", "unique_id", id, "relation", node.Relation.String())
		return Binding{Relation: *node.Relation, Deferred: true}, nil
	}
	if res != nil {
		return Binding{Relation: RelationFor(res, r.opts.Target)}, nil
	}
	return Binding{}, &ResolutionError{UniqueID: id, Reason: "not found in the project or the deferral snapshot"}
}

// Deferred returns the ids whose references were redirected to the alternate snapshot.
func (r *Resolver) Deferred() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, b := range r.bindings {
		if b.Deferred {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// RelationFor returns the relation res has in target. Sources keep their declared
// relation. Otherwise config.database overrides the target database, config.schema is
// appended to the target schema, and config.alias replaces the name.
func RelationFor(res *ir.Resource, target *ir.Target) ir.Relation {
	if res.Kind == ir.KindSource && res.Relation != nil {
		return *res.Relation
	}

	var rel ir.Relation
	if target != nil {
		rel.Database = target.Database
		rel.Schema = target.Schema
	}
	if db := res.ConfigValue("database"); db != "" {
		rel.Database = db
	}
	if custom := res.ConfigValue("schema"); custom != "" {
		if rel.Schema == "" {
			rel.Schema = custom
		} else {
			rel.Schema = rel.Schema + "_" + custom
		}
	}
	rel.Identifier = res.Name
	if alias := res.ConfigValue("alias"); alias != "" {
		rel.Identifier = alias
	}
	return rel
}
