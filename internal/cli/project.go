package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/picklr-io/strata/adapters"
	"github.com/picklr-io/strata/internal/eval"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
	"github.com/picklr-io/strata/internal/metrics"
	"github.com/picklr-io/strata/internal/runs"
	"github.com/picklr-io/strata/internal/selector"
	"github.com/picklr-io/strata/internal/state"
	"github.com/picklr-io/strata/internal/task"
)

// workDir is where strata keeps snapshots and run history inside a project.
const workDir = ".strata"

// loadDotEnv loads <dir>/.env. Variables already set in the environment win.
func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logging.Debug("loaded environment file", "path", path)
	return nil
}

func loadProject(ctx context.Context) (*ir.Project, error) {
	p, err := eval.NewEvaluator(projectDir).WithProperties(properties).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return p, nil
}

// readSnapshot reads the snapshot at location, or returns nil when location is empty.
func readSnapshot(ctx context.Context, location string) (*ir.Snapshot, error) {
	if location == "" {
		return nil, nil
	}
	backend, err := state.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	return backend.Read(ctx)
}

// session is one command's engine together with the run registry tracking it.
type session struct {
	engine *task.Engine
	runs   *runs.Registry
	done   chan struct{}
	close  func()
}

// newSession wires the built-in adapters and run history into a task engine.
// When ctx ends (SIGINT or SIGTERM) every active run is killed, so its nodes
// stop being started and the history records it as killed.
func newSession(ctx context.Context, combine string, recorder *metrics.PrometheusRecorder) (*session, error) {
	c, err := selector.ParseCombine(combine)
	if err != nil {
		return nil, err
	}

	adapterRegistry := adapters.Builtin()
	var runOpts []runs.Option
	history, err := openHistory()
	if err != nil {
		logging.Warn("run history disabled", "error", err)
	} else {
		runOpts = append(runOpts, runs.WithHistory(history))
	}
	runRegistry := runs.NewRegistry(runOpts...)

	opts := []task.Option{task.WithCombine(c), task.WithRuns(runRegistry)}
	if recorder != nil {
		opts = append(opts, task.WithRecorder(recorder))
	}

	s := &session{
		engine: task.NewEngine(adapterRegistry, opts...),
		runs:   runRegistry,
		done:   make(chan struct{}),
	}
	s.close = func() {
		close(s.done)
		if err := adapterRegistry.Close(); err != nil {
			logging.Warn("failed to close adapters", "error", err)
		}
		if history != nil {
			_ = history.Close()
		}
	}
	go killOnDone(ctx, runRegistry, s.done)
	return s, nil
}

// killOnDone kills every active run of reg once ctx ends, unless done closes first.
func killOnDone(ctx context.Context, reg *runs.Registry, done <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}
	for _, row := range reg.Ps(true, false) {
		status := reg.Kill(row.ID)
		logging.Warn("interrupted, stopping invocation", "run_id", row.ID, "method", row.Method, "status", status)
	}
}

// runContext detaches the engine from command cancellation; killOnDone cancels
// the invocation instead.
func runContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// interrupted returns an error when the invocation id was killed.
func (s *session) interrupted(id string) error {
	row, err := s.runs.Poll(id)
	if err != nil || row.State != runs.StateKilled {
		return nil
	}
	return fmt.Errorf("invocation %s was interrupted", id)
}

func openHistory() (*runs.SQLiteHistory, error) {
	dir := filepath.Join(projectDir, workDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return runs.OpenSQLiteHistory(filepath.Join(dir, "runs.db"))
}

// selectionFlags are shared by every command that evaluates a selector.
type selectionFlags struct {
	selects  []string
	excludes []string
	state    string
	combine  string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.selects, "select", "s", nil, "Selector expression; repeat or separate with spaces to combine")
	cmd.Flags().StringArrayVar(&f.excludes, "exclude", nil, "Selector expression whose nodes are removed from the selection")
	cmd.Flags().StringVar(&f.state, "state", "", "Snapshot to compare against (path or s3://bucket/key)")
	cmd.Flags().StringVar(&f.combine, "selector-combine", "union", "How space-separated selector parts combine (union, intersection)")
}

func (f *selectionFlags) selectExpr() string  { return strings.Join(f.selects, " ") }
func (f *selectionFlags) excludeExpr() string { return strings.Join(f.excludes, " ") }

// invocationFlags extend selectionFlags with what compile and run need.
type invocationFlags struct {
	selectionFlags
	target     string
	deferOn    bool
	deferState string
	threads    int
}

func (f *invocationFlags) register(cmd *cobra.Command) {
	f.selectionFlags.register(cmd)
	cmd.Flags().StringVarP(&f.target, "target", "t", "", "Target to build into (project default when empty)")
	cmd.Flags().BoolVar(&f.deferOn, "defer", false, "Resolve references to unselected nodes from the deferral snapshot")
	cmd.Flags().StringVar(&f.deferState, "defer-state", "", "Snapshot to defer to (defaults to --state)")
	cmd.Flags().IntVar(&f.threads, "threads", 0, "Number of nodes to build concurrently (target threads when zero)")
}

func (f *invocationFlags) request(ctx context.Context, project *ir.Project) (task.CompileRequest, error) {
	req := task.CompileRequest{
		Project: project,
		Target:  f.target,
		Select:  f.selectExpr(),
		Exclude: f.excludeExpr(),
		Defer:   f.deferOn,
		Threads: f.threads,
	}
	var err error
	if req.State, err = readSnapshot(ctx, f.state); err != nil {
		return req, err
	}
	if req.DeferState, err = readSnapshot(ctx, f.deferState); err != nil {
		return req, err
	}
	return req, nil
}
