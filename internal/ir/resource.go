package ir

import (
	"fmt"
	"strings"
)

// Kind is the resource type of a graph node.
type Kind string

const (
	KindModel  Kind = "model"
	KindMetric Kind = "metric"
	KindSource Kind = "source"
	KindTest   Kind = "test"
	KindSeed   Kind = "seed"
)

// Executable reports whether resources of this kind produce a statement that is run
// against the warehouse.
func (k Kind) Executable() bool {
	switch k {
	case KindModel, KindTest, KindSeed:
		return true
	}
	return false
}

// Resource is a single buildable or derived unit of the project.
type Resource struct {
	UniqueID  string            `json:"unique_id"`
	Kind      Kind              `json:"resource_type"`
	Package   string            `json:"package_name"`
	Name      string            `json:"name"`
	Path      []string          `json:"path,omitempty"` // directory segments between package and name
	Raw       string            `json:"raw,omitempty"`  // SQL template or metric expression
	Config    map[string]string `json:"config,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`

	// Relation is only populated for sources (declared location) or for
	// resources read back from a snapshot.
	Relation    *Relation `json:"relation,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// FQN returns the fully-qualified name: package, path segments, name.
func (r *Resource) FQN() []string {
	fqn := make([]string, 0, len(r.Path)+2)
	fqn = append(fqn, r.Package)
	fqn = append(fqn, r.Path...)
	return append(fqn, r.Name)
}

// ConfigValue returns a config entry or the empty string.
func (r *Resource) ConfigValue(key string) string {
	if r.Config == nil {
		return ""
	}
	return r.Config[key]
}

// HasTag reports whether the resource carries tag.
func (r *Resource) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UniqueIDFor builds the canonical identifier <kind>.<package>.<name>.
func UniqueIDFor(kind Kind, pkg, name string) string {
	return fmt.Sprintf("%s.%s.%s", kind, pkg, name)
}

// Relation is the database/schema/identifier triple a resource resolves to.
type Relation struct {
	Database   string `json:"database,omitempty"`
	Schema     string `json:"schema,omitempty"`
	Identifier string `json:"identifier"`
}

// String renders the relation as a quoted, dot-separated name. Empty parts are omitted.
func (r Relation) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Database, r.Schema, r.Identifier} {
		if p != "" {
			parts = append(parts, fmt.Sprintf("%q", p))
		}
	}
	return strings.Join(parts, ".")
}

// IsZero reports whether no part of the relation is set.
func (r Relation) IsZero() bool {
	return r.Database == "" && r.Schema == "" && r.Identifier == ""
}
