// Package task runs the ls, compile and run invocations: it builds the graph,
// diffs it against a snapshot, selects the working set and drives the scheduler.
package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/engine"
	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
	"github.com/picklr-io/strata/internal/metrics"
	"github.com/picklr-io/strata/internal/render"
	"github.com/picklr-io/strata/internal/resolve"
	"github.com/picklr-io/strata/internal/runs"
	"github.com/picklr-io/strata/internal/selector"
	"github.com/picklr-io/strata/internal/state"
)

// Engine orchestrates invocations against a project.
type Engine struct {
	registry *adapter.Registry
	recorder metrics.Recorder
	runs     *runs.Registry
	retry    *engine.RetryPolicy
	combine  selector.Combine
	timeout  time.Duration
	onEvent  func(engine.NodeEvent)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder reports metrics to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithRuns tracks every invocation in reg.
func WithRuns(reg *runs.Registry) Option {
	return func(e *Engine) { e.runs = reg }
}

// WithRetryPolicy replaces engine.DefaultRetryPolicy for adapter calls.
func WithRetryPolicy(p *engine.RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithCombine sets how whitespace-separated selector parts combine.
func WithCombine(c selector.Combine) Option {
	return func(e *Engine) { e.combine = c }
}

// WithNodeTimeout bounds the execution time of each node.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithEventHandler receives scheduler progress.
func WithEventHandler(fn func(engine.NodeEvent)) Option {
	return func(e *Engine) { e.onEvent = fn }
}

func NewEngine(registry *adapter.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		recorder: metrics.NoopRecorder{},
		retry:    engine.DefaultRetryPolicy(),
		combine:  selector.CombineUnion,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ListRequest selects nodes without executing anything.
type ListRequest struct {
	Project       *ir.Project
	Select        string
	Exclude       string
	State         *ir.Snapshot // required by state: selectors
	ResourceTypes []ir.Kind    // empty keeps every kind
}

// CompileRequest renders the selected nodes against a target.
type CompileRequest struct {
	Project    *ir.Project
	Target     string // project default when empty
	Select     string
	Exclude    string
	State      *ir.Snapshot
	Defer      bool
	DeferState *ir.Snapshot // State when nil
	Threads    int          // target threads when zero
}

// RunRequest renders and executes the selected nodes.
type RunRequest struct {
	CompileRequest
	FullRefresh bool

	// Persist receives the snapshot of the run when set. It is locked while written.
	Persist state.Backend
}

// Invocation is the outcome of a compile or run.
type Invocation struct {
	ID       string
	Selected []string // every selected id, executable or not
	Results  *ir.RunResults
	Snapshot *ir.Snapshot
}

// Failed reports whether any node errored.
func (i *Invocation) Failed() bool {
	return i.Results.Count(ir.StatusError) > 0
}

type prepared struct {
	graph    *engine.Graph
	cls      *engine.ClassificationMap
	selected selector.Set
}

func (e *Engine) prepare(p *ir.Project, selectExpr, excludeExpr string, snap *ir.Snapshot) (*prepared, error) {
	if p == nil {
		return nil, engine.WithStage(engine.StageLoading, errors.New("no project loaded"))
	}

	started := time.Now()
	g, err := engine.BuildGraph(p.Resources)
	if err != nil {
		return nil, engine.WithStage(engine.StageLoading, err)
	}
	e.recorder.ObserveStageDuration(string(engine.StageLoading), time.Since(started))

	started = time.Now()
	if _, err := engine.FingerprintGraph(g); err != nil {
		return nil, engine.WithStage(engine.StageFingerprinting, err)
	}
	e.recorder.ObserveStageDuration(string(engine.StageFingerprinting), time.Since(started))

	var cls *engine.ClassificationMap
	if snap != nil {
		started = time.Now()
		cls, err = engine.Diff(g, snap)
		if err != nil {
			return nil, engine.WithStage(engine.StageDiffing, err)
		}
		e.recorder.ObserveStageDuration(string(engine.StageDiffing), time.Since(started))
		logging.Debug("diffed against snapshot", "new", cls.Summary.New, "modified", cls.Summary.Modified,
			"removed", cls.Summary.Removed, "unmodified", cls.Summary.Unmodified)
	}

	started = time.Now()
	sel, err := selector.New(selectExpr, excludeExpr, e.combine)
	if err != nil {
		return nil, engine.WithStage(engine.StageSelection, err)
	}
	selected, err := sel.Select(g, cls)
	if err != nil {
		return nil, engine.WithStage(engine.StageSelection, err)
	}
	e.recorder.ObserveStageDuration(string(engine.StageSelection), time.Since(started))

	return &prepared{graph: g, cls: cls, selected: selected}, nil
}

// List returns the sorted ids the selector picks.
func (e *Engine) List(ctx context.Context, req ListRequest) ([]string, error) {
	id, _, finish, err := e.track(ctx, "ls", map[string]string{"select": req.Select})
	if err != nil {
		return nil, err
	}
	ids, err := e.list(req)
	finish(err)
	logging.Debug("listed nodes", "invocation_id", id, "count", len(ids))
	return ids, err
}

func (e *Engine) list(req ListRequest) ([]string, error) {
	prep, err := e.prepare(req.Project, req.Select, req.Exclude, req.State)
	if err != nil {
		return nil, err
	}
	if len(req.ResourceTypes) == 0 {
		return prep.selected.Sorted(), nil
	}

	kinds := make(map[ir.Kind]bool, len(req.ResourceTypes))
	for _, k := range req.ResourceTypes {
		kinds[k] = true
	}
	var out []string
	for _, id := range prep.selected.Sorted() {
		kind := ir.Kind("")
		if res := prep.graph.Resource(id); res != nil {
			kind = res.Kind
		} else if node := req.State.Node(id); node != nil {
			kind = node.Kind
		}
		if kinds[kind] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Compile renders every selected executable node without executing it.
func (e *Engine) Compile(ctx context.Context, req CompileRequest) (*Invocation, error) {
	return e.invoke(ctx, "compile", RunRequest{CompileRequest: req}, false)
}

// Run renders and executes every selected executable node, then persists the
// resulting snapshot when req.Persist is set. Node failures are reported in the
// results; the error is reserved for failures of the invocation itself.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*Invocation, error) {
	return e.invoke(ctx, "run", req, true)
}

func (e *Engine) invoke(ctx context.Context, method string, req RunRequest, execute bool) (inv *Invocation, err error) {
	started := time.Now()
	id, ctx, finish, err := e.track(ctx, method, map[string]string{
		"target": req.Target, "select": req.Select, "exclude": req.Exclude,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		finish(err)
		e.recorder.ObserveRunDuration(method, time.Since(started))
	}()
	ctx = logging.WithContext(ctx, "invocation_id", id)
	log := logging.FromContext(ctx)

	if req.Project == nil {
		return nil, engine.WithStage(engine.StageLoading, errors.New("no project loaded"))
	}
	target, err := req.Project.Target(req.Target)
	if err != nil {
		return nil, engine.WithStage(engine.StageLoading, err)
	}

	prep, err := e.prepare(req.Project, req.Select, req.Exclude, req.State)
	if err != nil {
		return nil, err
	}

	deferState := req.DeferState
	if deferState == nil {
		deferState = req.State
	}
	if req.Defer && deferState == nil {
		return nil, engine.WithStage(engine.StageResolution,
			fmt.Errorf("%w: deferral needs a snapshot to defer to", engine.ErrStateUnavailable))
	}

	executable := make(map[string]bool)
	for nodeID := range prep.selected {
		if res := prep.graph.Resource(nodeID); res != nil && res.Kind.Executable() {
			executable[nodeID] = true
		}
	}

	resolver := resolve.NewResolver(resolve.Options{
		Graph:     prep.graph,
		Selected:  prep.selected,
		Target:    target,
		Alternate: deferState,
		Defer:     req.Defer,
	})
	renderer := render.New(prep.graph, resolver, target)

	var exec adapter.Adapter
	if execute {
		exec, err = e.registry.For(target)
		if err != nil {
			return nil, engine.WithStage(engine.StageExecution, err)
		}
	}

	threads := req.Threads
	if threads <= 0 {
		threads = target.Threads
	}
	sched := engine.NewScheduler(threads)
	sched.Timeout = e.timeout
	sched.OnEvent = e.observe

	log.Info("starting invocation", "method", method, "target", target.Name,
		"selected", len(prep.selected), "executable", len(executable), "defer", req.Defer)

	results := sched.Run(ctx, prep.graph, executable, func(ctx context.Context, res *ir.Resource) (*ir.NodeResult, error) {
		out, err := renderer.Render(res)
		if err != nil {
			var rerr *resolve.ResolutionError
			if errors.As(err, &rerr) {
				return nil, engine.WithStage(engine.StageResolution, err)
			}
			return nil, engine.WithStage(engine.StageRendering, err)
		}
		rel := out.Relation
		result := &ir.NodeResult{Statement: out.Statement, Relation: &rel, Deferred: out.Deferred}
		if exec == nil {
			result.Message = "compiled"
			return result, nil
		}

		areq := &adapter.Request{
			Target:      target,
			Resource:    res,
			Statement:   out.Statement,
			Relation:    out.Relation,
			FullRefresh: req.FullRefresh,
		}
		var resp *adapter.Response
		err = e.retry.Do(ctx, func(ctx context.Context) error {
			var execErr error
			resp, execErr = exec.Execute(ctx, areq)
			return execErr
		}, func(attempt int, cause error) {
			e.recorder.IncRetry(res.UniqueID)
			log.Warn("retrying node", "unique_id", res.UniqueID, "attempt", attempt, "error", cause)
		})
		if err != nil {
			return result, engine.WithStage(engine.StageExecution, err)
		}
		result.Message = resp.Message
		return result, nil
	})
	results.InvocationID = id
	e.recorder.AddDeferred(len(resolver.Deferred()))

	// compiled nodes were rendered, not built
	built := results
	if !execute {
		built = &ir.RunResults{InvocationID: id}
	}
	build := func(prior *ir.Snapshot) *ir.Snapshot {
		snap := SnapshotOf(prep.graph, target, built, prior)
		snap.Metadata.Project = req.Project.Name
		return snap
	}

	inv = &Invocation{
		ID:       id,
		Selected: prep.selected.Sorted(),
		Results:  results,
	}

	if execute && req.Persist != nil {
		// a killed run still records what it built
		snap, err := persist(context.WithoutCancel(ctx), req.Persist, req.State, build)
		inv.Snapshot = snap
		if err != nil {
			return inv, engine.WithStage(engine.StagePersisting, err)
		}
	} else {
		inv.Snapshot = build(req.State)
	}

	log.Info("invocation finished", "success", results.Count(ir.StatusSuccess),
		"error", results.Count(ir.StatusError), "skipped", results.Count(ir.StatusSkipped), "elapsed", results.Elapsed)
	return inv, nil
}

// track registers the invocation with the run registry, when configured.
func (e *Engine) track(ctx context.Context, method string, tags map[string]string) (string, context.Context, func(error), error) {
	if e.runs == nil {
		return uuid.NewString(), ctx, func(error) {}, nil
	}
	id := e.runs.Add(method, tags)
	runCtx, err := e.runs.Start(ctx, id)
	if err != nil {
		return "", nil, nil, err
	}
	finish := func(err error) {
		_ = e.runs.Finish(context.WithoutCancel(runCtx), id, err)
	}
	return id, runCtx, finish, nil
}

func (e *Engine) observe(ev engine.NodeEvent) {
	if ev.Status != "started" {
		e.recorder.IncNodeResult(string(ev.Kind), ev.Status)
		if ev.Status != "skipped" {
			e.recorder.ObserveNodeDuration(string(ev.Kind), ev.Status, ev.Duration)
		}
	}
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

// persist writes the snapshot produced by build while holding the backend lock.
// build receives the snapshot already stored at the backend, or fallback when the
// backend holds none, so relations built by earlier runs are kept.
func persist(ctx context.Context, backend state.Backend, fallback *ir.Snapshot, build func(prior *ir.Snapshot) *ir.Snapshot) (*ir.Snapshot, error) {
	if err := backend.Lock(ctx); err != nil {
		return build(fallback), fmt.Errorf("failed to lock %s: %w", backend.Location(), err)
	}
	defer func() {
		if err := backend.Unlock(ctx); err != nil {
			logging.FromContext(ctx).Warn("failed to release state lock", "location", backend.Location(), "error", err)
		}
	}()

	prior, err := backend.Read(ctx)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.FromContext(ctx).Warn("replacing unreadable snapshot", "location", backend.Location(), "error", err)
		}
		prior = fallback
	}

	snap := build(prior)
	return snap, backend.Write(ctx, snap)
}
