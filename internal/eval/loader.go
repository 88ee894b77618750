// Package eval loads a project definition from strata.yml, strata.hcl or strata.pkl.
package eval

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

// ProjectFiles are the entry points searched for, in order.
var ProjectFiles = []string{"strata.yml", "strata.yaml", "strata.hcl", "strata.pkl"}

// FindProjectFile returns the first project file present in dir.
func FindProjectFile(dir string) (string, error) {
	for _, name := range ProjectFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no project file (%v) found in %s", ProjectFiles, dir)
}

// Load evaluates the project in projectDir, choosing the loader by file extension.
func (e *Evaluator) Load(ctx context.Context) (*ir.Project, error) {
	path, err := FindProjectFile(e.projectDir)
	if err != nil {
		return nil, err
	}
	logging.Debug("loading project", "path", path)

	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		return LoadYAML(path)
	case ".hcl":
		return LoadHCL(path)
	default:
		return e.LoadPkl(ctx, path)
	}
}

// LoadYAML loads a YAML project file.
func LoadYAML(path string) (*ir.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file %s: %w", path, err)
	}

	var decl projectDecl
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&decl); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return build(&decl, filepath.Dir(path))
}

// LoadHCL loads an HCL project file.
func LoadHCL(path string) (*ir.Project, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var decl projectDecl
	if diags := gohcl.DecodeBody(file.Body, nil, &decl); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	return build(&decl, filepath.Dir(path))
}
