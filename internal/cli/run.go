package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/metrics"
	"github.com/picklr-io/strata/internal/state"
	"github.com/picklr-io/strata/internal/task"
)

var (
	runFlags       invocationFlags
	runFullRefresh bool
	runMetricsOut  string
	runWriteState  string

	compileFlags invocationFlags
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the selected nodes",
	Long: `Renders and executes every selected model, seed and test in dependency order.
Selected metrics and sources are part of the selection but are never executed.

After the run the snapshot of the target is written to --write-state
(default <project-dir>/.strata/<target>).`,
	RunE: runRun,
}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Render the selected nodes without executing them",
	RunE:  runCompile,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&runFullRefresh, "full-refresh", false, "Rebuild incremental relations from scratch")
	runCmd.Flags().StringVar(&runMetricsOut, "metrics-out", "", "Write Prometheus metrics for this run to a textfile")
	runCmd.Flags().StringVar(&runWriteState, "write-state", "", "Where to write the snapshot of this run (path or s3://bucket/key)")

	compileFlags.register(compileCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := loadProject(ctx)
	if err != nil {
		return err
	}
	target, err := project.Target(runFlags.target)
	if err != nil {
		return err
	}
	req, err := runFlags.request(ctx, project)
	if err != nil {
		return err
	}

	location := runWriteState
	if location == "" {
		location = filepath.Join(projectDir, workDir, target.Name)
	}
	backend, err := state.Open(ctx, location)
	if err != nil {
		return err
	}

	var recorder *metrics.PrometheusRecorder
	if runMetricsOut != "" {
		recorder = metrics.NewPrometheusRecorder(nil)
	}
	s, err := newSession(ctx, runFlags.combine, recorder)
	if err != nil {
		return err
	}
	defer s.close()
	if err := ctx.Err(); err != nil {
		return err
	}

	inv, err := s.engine.Run(runContext(ctx), task.RunRequest{
		CompileRequest: req,
		FullRefresh:    runFullRefresh,
		Persist:        backend,
	})
	if inv != nil {
		printResults(cmd.OutOrStdout(), inv, false)
	}
	if recorder != nil {
		if werr := recorder.WriteTextfile(runMetricsOut); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	if err := s.interrupted(inv.ID); err != nil {
		return err
	}
	if inv.Failed() {
		return fmt.Errorf("%d of %d nodes failed", inv.Results.Count(ir.StatusError), len(inv.Results.Results))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", backend.Location())
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	project, err := loadProject(ctx)
	if err != nil {
		return err
	}
	req, err := compileFlags.request(ctx, project)
	if err != nil {
		return err
	}

	s, err := newSession(ctx, compileFlags.combine, nil)
	if err != nil {
		return err
	}
	defer s.close()

	inv, err := s.engine.Compile(runContext(ctx), req)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), inv, true)
	if err := s.interrupted(inv.ID); err != nil {
		return err
	}
	if inv.Failed() {
		return fmt.Errorf("%d of %d nodes failed to compile", inv.Results.Count(ir.StatusError), len(inv.Results.Results))
	}
	return nil
}
