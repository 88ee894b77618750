package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/picklr-io/strata/internal/ir"
	"github.com/picklr-io/strata/internal/logging"
)

const defaultConcurrency = 4

// Task executes one selected node. The returned result may carry the rendered
// statement, relation and deferred references; the scheduler owns id, status and timing.
type Task func(ctx context.Context, res *ir.Resource) (*ir.NodeResult, error)

// NodeEvent reports scheduler progress for one node.
type NodeEvent struct {
	UniqueID string
	Kind     ir.Kind
	Status   string // "started", "success", "error", "skipped"
	Duration time.Duration
	Error    error
}

// Scheduler executes a selected node set in dependency order with bounded concurrency.
type Scheduler struct {
	Concurrency int
	Timeout     time.Duration // per node, DefaultTimeout when zero
	OnEvent     func(NodeEvent)
}

// NewScheduler returns a scheduler running up to concurrency nodes at once.
func NewScheduler(concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Scheduler{Concurrency: concurrency}
}

// Run executes every selected node present in g. A node starts once all of its
// selected upstream nodes succeeded; upstream nodes outside the selection are
// assumed to exist already. When a node fails, its selected descendants are
// reported skipped without being attempted, while unrelated branches carry on.
func (s *Scheduler) Run(ctx context.Context, g *Graph, selected map[string]bool, task Task) *ir.RunResults {
	start := time.Now()
	ids := g.Restrict(selected)
	deps := selectedUpstream(g, selected, ids)

	concurrency := s.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logging.FromContext(ctx).Debug("scheduling nodes", "count", len(ids), "concurrency", concurrency)

	emit := func(ev NodeEvent) {
		if s.OnEvent != nil {
			s.OnEvent(ev)
		}
	}

	slots := make(map[string]*ir.NodeResult, len(ids))
	var completionOrder []string
	done := make(map[string]ir.Status, len(ids))
	doneMu := sync.Mutex{}
	doneCond := sync.NewCond(&doneMu)
	cancelled := false

	// Wake waiters when the caller cancels so they can record a skip instead of blocking.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			doneMu.Lock()
			cancelled = true
			doneMu.Unlock()
			doneCond.Broadcast()
		case <-stop:
		}
	}()

	finish := func(id string, res *ir.NodeResult) {
		doneMu.Lock()
		slots[id] = res
		done[id] = res.Status
		completionOrder = append(completionOrder, id)
		doneMu.Unlock()
		doneCond.Broadcast()
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res := g.Resource(id)

			skipCancelled := func() {
				skipped := &ir.NodeResult{UniqueID: id, Status: ir.StatusSkipped, Stage: string(StageExecution),
					Message: fmt.Sprintf("not started: %v", context.Cause(ctx))}
				emit(NodeEvent{UniqueID: id, Kind: res.Kind, Status: "skipped"})
				finish(id, skipped)
			}

			// Readiness gate.
			doneMu.Lock()
			for {
				if cancelled || ctx.Err() != nil {
					doneMu.Unlock()
					skipCancelled()
					return
				}
				blocked := ""
				ready := true
				for _, dep := range deps[id] {
					st, ok := done[dep]
					if !ok {
						ready = false
						continue
					}
					if st != ir.StatusSuccess {
						blocked = dep
						break
					}
				}
				if blocked != "" {
					doneMu.Unlock()
					skipped := &ir.NodeResult{UniqueID: id, Status: ir.StatusSkipped, Stage: string(StageExecution),
						Message: fmt.Sprintf("skipped because upstream %s did not succeed", blocked)}
					emit(NodeEvent{UniqueID: id, Kind: res.Kind, Status: "skipped"})
					finish(id, skipped)
					return
				}
				if ready {
					break
				}
				doneCond.Wait()
			}
			doneMu.Unlock()

			// A node waiting for a slot must not start once the run is cancelled.
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				skipCancelled()
				return
			}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				skipCancelled()
				return
			}

			started := time.Now()
			emit(NodeEvent{UniqueID: id, Kind: res.Kind, Status: "started"})

			nodeCtx, cancel := WithTimeout(ctx, s.Timeout)
			out, err := task(nodeCtx, res)
			cancel()

			if out == nil {
				out = &ir.NodeResult{}
			}
			out.UniqueID = id
			out.StartedAt = started
			out.Duration = time.Since(started)
			if err != nil {
				out.Status = ir.StatusError
				out.Message = err.Error()
				if out.Stage == "" {
					out.Stage = string(StageExecution)
					if st := StageOf(err); st != "" {
						out.Stage = string(st)
					}
				}
				logging.FromContext(ctx).Warn("node failed", "unique_id", id, "stage", out.Stage, "error", err)
				emit(NodeEvent{UniqueID: id, Kind: res.Kind, Status: "error", Duration: out.Duration, Error: err})
			} else {
				out.Status = ir.StatusSuccess
				emit(NodeEvent{UniqueID: id, Kind: res.Kind, Status: "success", Duration: out.Duration})
			}
			finish(id, out)
		}(id)
	}

	wg.Wait()
	close(stop)

	results := &ir.RunResults{Elapsed: time.Since(start)}
	for _, id := range completionOrder {
		results.Results = append(results.Results, slots[id])
	}
	return results
}

// selectedUpstream maps each selected node to the nearest selected nodes upstream of
// it. Paths through unselected nodes are followed so ordering between two selected
// nodes is kept even when the node between them is not part of the run.
func selectedUpstream(g *Graph, selected map[string]bool, ids []string) map[string][]string {
	out := make(map[string][]string, len(ids))
	for _, id := range ids {
		found := make(map[string]bool)
		visited := make(map[string]bool)
		stack := append([]string(nil), g.Dependencies(id)...)
		for len(stack) > 0 {
			dep := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if selected[dep] {
				found[dep] = true
				continue
			}
			stack = append(stack, g.Dependencies(dep)...)
		}
		list := make([]string, 0, len(found))
		for dep := range found {
			list = append(list, dep)
		}
		sort.Strings(list)
		out[id] = list
	}
	return out
}
