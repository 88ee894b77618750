package eval

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/picklr-io/strata/internal/ir"
)

// Evaluator loads projects rooted at a directory.
type Evaluator struct {
	projectDir string
	properties map[string]string
}

func NewEvaluator(projectDir string) *Evaluator {
	if abs, err := filepath.Abs(projectDir); err == nil {
		projectDir = abs
	}
	return &Evaluator{
		projectDir: projectDir,
	}
}

// WithProperties sets external properties visible to PKL projects as read("prop:name").
func (e *Evaluator) WithProperties(props map[string]string) *Evaluator {
	e.properties = props
	return e
}

// ProjectDir returns the directory the evaluator loads from.
func (e *Evaluator) ProjectDir() string {
	return e.projectDir
}

// LoadPkl evaluates a PKL project module. When the project directory holds a
// PklProject file its dependencies are resolved through it.
func (e *Evaluator) LoadPkl(ctx context.Context, entryPoint string) (*ir.Project, error) {
	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(e.properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range e.properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := e.newPklEvaluator(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var decl projectDecl
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &decl); err != nil {
		return nil, fmt.Errorf("failed to evaluate project: %w", err)
	}
	return build(&decl, e.projectDir)
}

func (e *Evaluator) newPklEvaluator(ctx context.Context, opts []func(*pkl.EvaluatorOptions)) (pkl.Evaluator, error) {
	if _, err := os.Stat(filepath.Join(e.projectDir, "PklProject")); err != nil {
		return pkl.NewEvaluator(ctx, opts...)
	}
	u, err := url.Parse("file://" + e.projectDir + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}
	return pkl.NewProjectEvaluator(ctx, u, opts...)
}
