package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/selector"
)

var graphFlags selectionFlags

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the resource graph in DOT format",
	Long: `Generates a visual representation of the resource graph in Graphviz DOT
format. Selected nodes are filled when --select is given. Pipe the output to
'dot' to generate an image:

  strata graph -s state:modified+ --state .strata/prod | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func init() {
	graphFlags.register(graphCmd)
}

var kindShapes = map[ir.Kind]string{
	ir.KindModel:  "box",
	ir.KindSeed:   "box3d",
	ir.KindSource: "cylinder",
	ir.KindMetric: "diamond",
	ir.KindTest:   "note",
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := loadProject(ctx)
	if err != nil {
		return err
	}

	g, err := engine.BuildGraph(project.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	var selected selector.Set
	if graphFlags.selectExpr() != "" || graphFlags.excludeExpr() != "" {
		snap, err := readSnapshot(ctx, graphFlags.state)
		if err != nil {
			return err
		}
		var cls *engine.ClassificationMap
		if snap != nil {
			if _, err := engine.FingerprintGraph(g); err != nil {
				return err
			}
			if cls, err = engine.Diff(g, snap); err != nil {
				return err
			}
		}
		combine, err := selector.ParseCombine(graphFlags.combine)
		if err != nil {
			return err
		}
		sel, err := selector.New(graphFlags.selectExpr(), graphFlags.excludeExpr(), combine)
		if err != nil {
			return err
		}
		if selected, err = sel.Select(g, cls); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "digraph strata {")
	fmt.Fprintln(out, "  rankdir = \"LR\";")
	fmt.Fprintln(out)

	for _, res := range g.Resources() {
		style := ""
		if selected[res.UniqueID] {
			style = ", style = filled"
		}
		fmt.Fprintf(out, "  %q [shape = %s%s];\n", res.UniqueID, kindShapes[res.Kind], style)
	}
	fmt.Fprintln(out)

	// edges point from a dependency to its dependents
	for _, id := range g.Order() {
		for _, dep := range g.Dependencies(id) {
			fmt.Fprintf(out, "  %q -> %q;\n", dep, id)
		}
	}

	fmt.Fprintln(out, "}")
	return nil
}
