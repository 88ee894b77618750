// Package render turns resource templates into executable statements. References
// inside a template are bound through the deferral resolver.
package render

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/resolve"
)

// Output is a rendered resource.
type Output struct {
	Statement string
	Relation  ir.Relation // relation this resource builds in the current target
	Deferred  []string    // references that were redirected to the alternate snapshot
}

// Context is the data a template executes against.
type Context struct {
	Graph  *resolve.Lookup
	Target *ir.Target
	This   ir.Relation
	Name   string
	Config map[string]string
}

// Renderer renders resources for one invocation.
type Renderer struct {
	graph    *engine.Graph
	resolver *resolve.Resolver
	lookup   *resolve.Lookup
	target   *ir.Target
}

// New returns a renderer binding references through resolver.
func New(g *engine.Graph, resolver *resolve.Resolver, target *ir.Target) *Renderer {
	return &Renderer{
		graph:    g,
		resolver: resolver,
		lookup:   resolve.NewLookup(g, resolver),
		target:   target,
	}
}

// Render executes res.Raw as a template against a Context. Available functions:
//
//	ref "name" | ref "package" "name"   relation of a model or seed
//	source "name"                       relation of a declared source
//	metric "name"                       name of a declared metric
//	graph                               *resolve.Lookup over the project
//	config "key"                        config value of the resource
//	this                                relation the resource builds
//	target                              the current target
func (r *Renderer) Render(res *ir.Resource) (*Output, error) {
	rec := &recorder{resolver: r.resolver, deferred: make(map[string]bool)}
	this := resolve.RelationFor(res, r.target)

	funcs := template.FuncMap{
		"ref": func(args ...string) (string, error) {
			id, err := r.findRef(res, args)
			if err != nil {
				return "", rec.fail(err)
			}
			rel, err := rec.ResolveReference(id)
			if err != nil {
				return "", err
			}
			return rel.String(), nil
		},
		"source": func(args ...string) (string, error) {
			if len(args) == 0 || len(args) > 2 {
				return "", rec.fail(fmt.Errorf("source takes one or two arguments, got %d", len(args)))
			}
			id := ir.UniqueIDFor(ir.KindSource, res.Package, strings.Join(args, "."))
			rel, err := rec.ResolveReference(id)
			if err != nil {
				return "", err
			}
			return rel.String(), nil
		},
		"metric": func(name string) (string, error) {
			id := ir.UniqueIDFor(ir.KindMetric, res.Package, name)
			if !r.graph.Has(id) {
				return "", rec.fail(&resolve.ResolutionError{UniqueID: id, Reason: "metric not found"})
			}
			return name, nil
		},
		"graph": func() *resolve.Lookup {
			return r.lookup.WithResolver(rec)
		},
		"config": func(key string) string {
			return res.ConfigValue(key)
		},
		"this": func() string {
			return this.String()
		},
		"target": func() *ir.Target {
			return r.target
		},
	}

	tmpl, err := template.New(res.UniqueID).Option("missingkey=error").Funcs(funcs).Parse(res.Raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", res.UniqueID, err)
	}

	var b strings.Builder
	data := Context{
		Graph:  r.lookup.WithResolver(rec),
		Target: r.target,
		This:   this,
		Name:   res.Name,
		Config: res.Config,
	}
	if err := tmpl.Execute(&b, data); err != nil {
		if cause := rec.firstErr(); cause != nil && !errors.Is(err, cause) {
			return nil, fmt.Errorf("render %s: %w", res.UniqueID, cause)
		}
		return nil, fmt.Errorf("render %s: %w", res.UniqueID, err)
	}

	return &Output{
		Statement: strings.TrimSpace(b.String()),
		Relation:  this,
		Deferred:  rec.list(),
	}, nil
}

// findRef maps ref arguments to a unique id. A bare name is looked up in the
// resource's own package first, then across packages.
func (r *Renderer) findRef(res *ir.Resource, args []string) (string, error) {
	var pkg, name string
	switch len(args) {
	case 1:
		pkg, name = res.Package, args[0]
	case 2:
		pkg, name = args[0], args[1]
	default:
		return "", fmt.Errorf("ref takes one or two arguments, got %d", len(args))
	}

	for _, kind := range []ir.Kind{ir.KindModel, ir.KindSeed} {
		if id := ir.UniqueIDFor(kind, pkg, name); r.graph.Has(id) {
			return id, nil
		}
	}
	if len(args) == 1 {
		for _, v := range r.lookup.ByName(name) {
			if kind := ir.Kind(v.Kind); kind == ir.KindModel || kind == ir.KindSeed {
				return v.UniqueID, nil
			}
		}
	}
	// Not in the project; the resolver may still find it in the deferral snapshot.
	return ir.UniqueIDFor(ir.KindModel, pkg, name), nil
}

// recorder tracks the bindings one render redirected and the first failure.
type recorder struct {
	resolver *resolve.Resolver

	mu       sync.Mutex
	deferred map[string]bool
	err      error
}

func (rec *recorder) ResolveReference(id string) (ir.Relation, error) {
	b, err := rec.resolver.Resolve(id)
	if err != nil {
		return ir.Relation{}, rec.fail(err)
	}
	if b.Deferred {
		rec.mu.Lock()
		rec.deferred[id] = true
		rec.mu.Unlock()
	}
	return b.Relation, nil
}

func (rec *recorder) fail(err error) error {
	rec.mu.Lock()
	if rec.err == nil {
		rec.err = err
	}
	rec.mu.Unlock()
	return err
}

func (rec *recorder) firstErr() error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.err
}

func (rec *recorder) list() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]string, 0, len(rec.deferred))
	for id := range rec.deferred {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
