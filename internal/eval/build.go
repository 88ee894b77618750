package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/render"
)

// build turns a declaration into a project. Dependencies come from explicit
// depends_on entries and from the ref, source and metric calls in each template.
func build(decl *projectDecl, dir string) (*ir.Project, error) {
	if decl.Name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	pkg := decl.Name

	p := &ir.Project{Name: decl.Name, DefaultTarget: decl.DefaultTarget}
	for _, t := range decl.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target without a name")
		}
		p.Targets = append(p.Targets, &ir.Target{
			Name:     t.Name,
			Adapter:  t.Adapter,
			Database: t.Database,
			Schema:   t.Schema,
			Threads:  t.Threads,
			Options:  t.Options,
		})
	}

	b := &builder{
		pkg:         pkg,
		dir:         dir,
		names:       make(map[ir.Kind]map[string]string),
		explicit:    make(map[*ir.Resource][]string),
		metricModel: make(map[*ir.Resource]string),
	}

	for _, s := range decl.Sources {
		if !enabled(s.Config) {
			continue
		}
		ident := s.Identifier
		if ident == "" {
			ident = s.Name
			if i := strings.LastIndex(ident, "."); i >= 0 {
				ident = ident[i+1:]
			}
		}
		b.add(&ir.Resource{
			Kind:     ir.KindSource,
			Name:     s.Name,
			Config:   s.Config,
			Tags:     s.Tags,
			Relation: &ir.Relation{Database: s.Database, Schema: s.Schema, Identifier: ident},
		})
	}

	for _, group := range []struct {
		kind  ir.Kind
		decls []*resourceDecl
	}{
		{ir.KindSeed, decl.Seeds},
		{ir.KindModel, decl.Models},
		{ir.KindTest, decl.Tests},
	} {
		for _, d := range group.decls {
			if !enabled(d.Config) {
				continue
			}
			raw, err := b.body(d)
			if err != nil {
				return nil, err
			}
			res := &ir.Resource{
				Kind:   group.kind,
				Name:   d.Name,
				Path:   splitPath(d.Path),
				Raw:    raw,
				Config: d.Config,
				Tags:   d.Tags,
			}
			b.add(res)
			b.explicit[res] = d.DependsOn
		}
	}

	for _, m := range decl.Metrics {
		if !enabled(m.Config) {
			continue
		}
		config := make(map[string]string, len(m.Config)+4)
		for k, v := range m.Config {
			config[k] = v
		}
		setIf(config, "label", m.Label)
		setIf(config, "calculation_method", m.CalculationMethod)
		setIf(config, "timestamp", m.Timestamp)
		setIf(config, "time_grains", strings.Join(m.TimeGrains, ","))

		res := &ir.Resource{Kind: ir.KindMetric, Name: m.Name, Raw: m.Expression, Config: config, Tags: m.Tags}
		b.add(res)
		b.metricModel[res] = modelName(m.Model)
	}

	if b.err != nil {
		return nil, b.err
	}
	if err := b.link(); err != nil {
		return nil, err
	}
	p.Resources = b.resources
	return p, nil
}

type builder struct {
	pkg         string
	dir         string
	resources   []*ir.Resource
	names       map[ir.Kind]map[string]string
	explicit    map[*ir.Resource][]string
	metricModel map[*ir.Resource]string
	err         error
}

func (b *builder) add(res *ir.Resource) {
	if res.Name == "" {
		b.err = fmt.Errorf("%s without a name", res.Kind)
		return
	}
	res.Package = b.pkg
	res.UniqueID = ir.UniqueIDFor(res.Kind, b.pkg, res.Name)
	if b.names[res.Kind] == nil {
		b.names[res.Kind] = make(map[string]string)
	}
	if _, dup := b.names[res.Kind][res.Name]; dup && b.err == nil {
		b.err = fmt.Errorf("duplicate %s %q", res.Kind, res.Name)
	}
	b.names[res.Kind][res.Name] = res.UniqueID
	b.resources = append(b.resources, res)
}

func (b *builder) body(d *resourceDecl) (string, error) {
	if d.File == "" {
		return d.SQL, nil
	}
	if d.SQL != "" {
		return "", fmt.Errorf("%s: set either sql or file, not both", d.Name)
	}
	path := d.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", d.Name, err)
	}
	return string(data), nil
}

// link resolves every reference to a unique id and fills DependsOn.
func (b *builder) link() error {
	for _, res := range b.resources {
		deps := make(map[string]bool)

		if model, ok := b.metricModel[res]; ok {
			id, err := b.lookup(res, model, ir.KindModel, ir.KindSeed)
			if err != nil {
				return err
			}
			deps[id] = true
		}

		for _, name := range b.explicit[res] {
			id, err := b.lookup(res, name, ir.KindModel, ir.KindSeed, ir.KindSource, ir.KindMetric)
			if err != nil {
				return err
			}
			deps[id] = true
		}

		if res.Kind.Executable() && res.Raw != "" {
			refs, err := render.ExtractReferences(res.Raw)
			if err != nil {
				return fmt.Errorf("%s: %w", res.UniqueID, err)
			}
			for _, args := range refs.Refs {
				id, err := b.lookupRef(res, args)
				if err != nil {
					return err
				}
				deps[id] = true
			}
			for _, args := range refs.Sources {
				id, err := b.lookup(res, args[0], ir.KindSource)
				if err != nil {
					return err
				}
				deps[id] = true
			}
			for _, name := range refs.Metrics {
				id, err := b.lookup(res, name, ir.KindMetric)
				if err != nil {
					return err
				}
				deps[id] = true
			}
		}

		delete(deps, res.UniqueID)
		res.DependsOn = make([]string, 0, len(deps))
		for id := range deps {
			res.DependsOn = append(res.DependsOn, id)
		}
		sort.Strings(res.DependsOn)
	}
	return nil
}

func (b *builder) lookup(from *ir.Resource, name string, kinds ...ir.Kind) (string, error) {
	if strings.Count(name, ".") >= 2 {
		for _, kind := range kinds {
			if strings.HasPrefix(name, string(kind)+".") {
				return name, nil
			}
		}
	}
	for _, kind := range kinds {
		if id, ok := b.names[kind][name]; ok {
			return id, nil
		}
	}
	return "", fmt.Errorf("%s references %q, which is not declared in the project", from.UniqueID, name)
}

// lookupRef resolves ref('name') or ref('package', 'name'). A project holds a
// single package, so naming any other package is an error.
func (b *builder) lookupRef(from *ir.Resource, args []string) (string, error) {
	switch len(args) {
	case 1:
		return b.lookup(from, args[0], ir.KindModel, ir.KindSeed)
	case 2:
		if args[0] != b.pkg {
			return "", fmt.Errorf("%s references %q in package %q, but the project only declares package %q",
				from.UniqueID, args[1], args[0], b.pkg)
		}
		return b.lookup(from, args[1], ir.KindModel, ir.KindSeed)
	}
	return "", fmt.Errorf("%s: ref takes one or two arguments, got %d", from.UniqueID, len(args))
}

func enabled(config map[string]string) bool {
	v, ok := config["enabled"]
	return !ok || !strings.EqualFold(v, "false")
}

func splitPath(p string) []string {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func setIf(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// modelName accepts either a bare model name or ref('name').
func modelName(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "ref(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "ref("), ")")
		s = strings.Trim(s, `'" `)
	}
	return s
}
