package selector

import (
	"strconv"
	"strings"
)

// Method names accepted before the ':' of a criterion.
const (
	MethodFQN          = "fqn"
	MethodTag          = "tag"
	MethodState        = "state"
	MethodResourceType = "resource_type"
	MethodUniqueID     = "unique_id"
	MethodConfig       = "config"
	MethodPackage      = "package"
)

// Values accepted by the state method.
const (
	StateNew        = "new"
	StateModified   = "modified"
	StateRemoved    = "removed"
	StateUnmodified = "unmodified"
	StateChanged    = "changed"
)

// Unbounded is the depth of a '+' operator written without a number.
const Unbounded = -1

// Criterion is a single selector method with its graph operators.
type Criterion struct {
	Method string
	Args   []string // dotted arguments, e.g. the key of config.materialized
	Value  string

	Parents          bool
	ParentsDepth     int
	Children         bool
	ChildrenDepth    int
	ChildrensParents bool
}

func (c Criterion) String() string {
	var b strings.Builder
	if c.ChildrensParents {
		b.WriteByte('@')
	}
	if c.Parents {
		writeDepth(&b, c.ParentsDepth)
		b.WriteByte('+')
	}
	b.WriteString(c.Method)
	for _, a := range c.Args {
		b.WriteByte('.')
		b.WriteString(a)
	}
	b.WriteByte(':')
	b.WriteString(c.Value)
	if c.Children {
		b.WriteByte('+')
		writeDepth(&b, c.ChildrenDepth)
	}
	return b.String()
}

// Intersection holds comma-joined criteria; a node must match all of them.
type Intersection struct {
	Parts []Criterion
}

func (i Intersection) String() string {
	parts := make([]string, len(i.Parts))
	for n, c := range i.Parts {
		parts[n] = c.String()
	}
	return strings.Join(parts, ",")
}

// Union holds the whitespace-separated intersections of one selector string.
// A Union with no parts selects every node.
type Union struct {
	Parts []Intersection
}

func (u *Union) String() string {
	if u == nil {
		return ""
	}
	parts := make([]string, len(u.Parts))
	for n, i := range u.Parts {
		parts[n] = i.String()
	}
	return strings.Join(parts, " ")
}

// Empty reports whether the selector has no criteria.
func (u *Union) Empty() bool {
	return u == nil || len(u.Parts) == 0
}

func writeDepth(b *strings.Builder, depth int) {
	if depth >= 0 {
		b.WriteString(strconv.Itoa(depth))
	}
}

