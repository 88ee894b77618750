package ir

import "fmt"

// Project is the evaluated project definition.
type Project struct {
	Name          string
	DefaultTarget string
	Targets       []*Target
	Resources     []*Resource
}

// Target is an environment the project can be built into.
type Target struct {
	Name     string            `json:"name"`
	Adapter  string            `json:"adapter"`
	Database string            `json:"database"`
	Schema   string            `json:"schema"`
	Threads  int               `json:"threads"`
	Options  map[string]string `json:"options,omitempty"`
}

// Target returns the named target, or the default target when name is empty.
func (p *Project) Target(name string) (*Target, error) {
	if name == "" {
		name = p.DefaultTarget
	}
	if name == "" && len(p.Targets) == 1 {
		return p.Targets[0], nil
	}
	for _, t := range p.Targets {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("target %q not found in project %q", name, p.Name)
}
