package selector

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// Combine is the policy applied between whitespace-separated intersections.
type Combine int

const (
	CombineUnion Combine = iota
	CombineIntersection
)

// ParseCombine maps "union" / "intersection" to a Combine policy.
func ParseCombine(s string) (Combine, error) {
	switch strings.ToLower(s) {
	case "", "union":
		return CombineUnion, nil
	case "intersection":
		return CombineIntersection, nil
	}
	return CombineUnion, fmt.Errorf("unknown selector combine policy %q", s)
}

// Set is a set of unique ids.
type Set map[string]bool

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s Set) intersect(other Set) Set {
	out := make(Set)
	for id := range s {
		if other[id] {
			out[id] = true
		}
	}
	return out
}

func (s Set) union(other Set) {
	for id := range other {
		s[id] = true
	}
}

// Selector is a parsed --select / --exclude pair.
type Selector struct {
	Include *Union
	Exclude *Union
	Combine Combine
}

// New parses a select and exclude expression. An empty exclude removes nothing.
func New(selectExpr, excludeExpr string, combine Combine) (*Selector, error) {
	include, err := Parse(selectExpr)
	if err != nil {
		return nil, err
	}
	exclude, err := Parse(excludeExpr)
	if err != nil {
		return nil, err
	}
	return &Selector{Include: include, Exclude: exclude, Combine: combine}, nil
}

// Select evaluates the selector against the graph and classification.
func (s *Selector) Select(g *engine.Graph, cls *engine.ClassificationMap) (Set, error) {
	selected, err := evaluate(s.Include, g, cls, s.Combine)
	if err != nil {
		return nil, err
	}
	if s.Exclude.Empty() {
		return selected, nil
	}
	excluded, err := evaluate(s.Exclude, g, cls, CombineUnion)
	if err != nil {
		return nil, err
	}
	for id := range excluded {
		delete(selected, id)
	}
	logging.Debug("selector evaluated", "select", s.Include.String(), "exclude", s.Exclude.String(), "selected", len(selected))
	return selected, nil
}

// Evaluate evaluates sel with whitespace-separated parts combined as a union.
func Evaluate(sel *Union, g *engine.Graph, cls *engine.ClassificationMap) (Set, error) {
	return evaluate(sel, g, cls, CombineUnion)
}

func evaluate(sel *Union, g *engine.Graph, cls *engine.ClassificationMap, combine Combine) (Set, error) {
	if sel.Empty() {
		all := make(Set, g.Len())
		for _, id := range g.Order() {
			all[id] = true
		}
		return all, nil
	}

	var result Set
	for _, inter := range sel.Parts {
		var part Set
		for _, c := range inter.Parts {
			matched, err := evaluateCriterion(c, g, cls)
			if err != nil {
				return nil, err
			}
			if part == nil {
				part = matched
			} else {
				part = part.intersect(matched)
			}
		}
		switch {
		case result == nil:
			result = part
		case combine == CombineIntersection:
			result = result.intersect(part)
		default:
			result.union(part)
		}
	}
	return result, nil
}

func evaluateCriterion(c Criterion, g *engine.Graph, cls *engine.ClassificationMap) (Set, error) {
	seeds, err := seed(c, g, cls)
	if err != nil {
		return nil, err
	}

	out := make(Set, len(seeds))
	for _, id := range seeds {
		out[id] = true
	}
	if c.Children {
		for _, id := range g.Descendants(seeds, c.ChildrenDepth) {
			out[id] = true
		}
	}
	if c.Parents {
		for _, id := range g.Ancestors(seeds, c.ParentsDepth) {
			out[id] = true
		}
	}
	if c.ChildrensParents {
		children := append(append([]string(nil), seeds...), g.Descendants(seeds, Unbounded)...)
		for _, id := range children {
			out[id] = true
		}
		for _, id := range g.Ancestors(children, Unbounded) {
			out[id] = true
		}
	}
	return out, nil
}

// seed returns the ids a criterion's method matches before graph operators apply.
func seed(c Criterion, g *engine.Graph, cls *engine.ClassificationMap) ([]string, error) {
	if c.Method == MethodState {
		return seedState(c.Value, cls)
	}

	var match func(*ir.Resource) bool
	switch c.Method {
	case MethodFQN:
		match = func(r *ir.Resource) bool { return matchFQN(c.Value, r) }
	case MethodTag:
		match = func(r *ir.Resource) bool {
			for _, t := range r.Tags {
				if glob(c.Value, t) {
					return true
				}
			}
			return false
		}
	case MethodResourceType:
		match = func(r *ir.Resource) bool { return string(r.Kind) == c.Value }
	case MethodUniqueID:
		match = func(r *ir.Resource) bool { return glob(c.Value, r.UniqueID) }
	case MethodPackage:
		match = func(r *ir.Resource) bool { return glob(c.Value, r.Package) }
	case MethodConfig:
		key := strings.Join(c.Args, ".")
		match = func(r *ir.Resource) bool {
			v, ok := r.Config[key]
			return ok && strings.EqualFold(v, c.Value)
		}
	default:
		return nil, &SyntaxError{Input: c.String(), Reason: fmt.Sprintf("unknown method %q", c.Method)}
	}

	var ids []string
	for _, r := range g.Resources() {
		if match(r) {
			ids = append(ids, r.UniqueID)
		}
	}
	return ids, nil
}

func seedState(value string, cls *engine.ClassificationMap) ([]string, error) {
	if cls == nil {
		return nil, fmt.Errorf("%w: state:%s requires a comparison snapshot (--state)", engine.ErrSelectionInputMissing, value)
	}
	switch value {
	case StateNew:
		return cls.IDs(engine.New), nil
	case StateModified:
		return cls.IDs(engine.Modified), nil
	case StateUnmodified:
		return cls.IDs(engine.Unmodified), nil
	case StateRemoved:
		return append([]string(nil), cls.Removed...), nil
	case StateChanged:
		ids := append(cls.IDs(engine.New), cls.IDs(engine.Modified)...)
		sort.Strings(ids)
		return ids, nil
	}
	return nil, &SyntaxError{Input: "state:" + value, Reason: fmt.Sprintf("unknown state %q", value)}
}

// matchFQN matches a bare name, a dotted FQN, or a dotted FQN prefix. The package
// segment may be omitted. Each segment may use path.Match wildcards.
func matchFQN(value string, r *ir.Resource) bool {
	parts := strings.Split(value, ".")
	if len(parts) == 1 && glob(value, r.Name) {
		return true
	}
	fqn := r.FQN()
	if prefixMatch(parts, fqn) {
		return true
	}
	return prefixMatch(parts, fqn[1:])
}

func prefixMatch(parts, fqn []string) bool {
	if len(parts) > len(fqn) {
		return false
	}
	for i, p := range parts {
		if !glob(p, fqn[i]) {
			return false
		}
	}
	return true
}

func glob(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
