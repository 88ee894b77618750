// Package runs tracks engine invocations while they execute and keeps a
// history of finished ones.
package runs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/picklr-io/strata/internal/logging"
)

// ErrUnknownRun is returned for ids the registry does not hold.
var ErrUnknownRun = errors.New("unknown run id")

// State is the lifecycle state of an invocation.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateError   State = "error"
	StateKilled  State = "killed"
)

// Finished reports whether the state is terminal.
func (s State) Finished() bool {
	return s == StateSuccess || s == StateError || s == StateKilled
}

func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateRunning:
		return 1
	case StateSuccess:
		return 2
	case StateError:
		return 3
	}
	return 4
}

// Row is the externally visible view of one invocation.
type Row struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	State   State             `json:"state"`
	Start   time.Time         `json:"start,omitzero"`
	End     time.Time         `json:"end,omitzero"`
	Elapsed time.Duration     `json:"elapsed"`
	Tags    map[string]string `json:"tags,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// History persists rows beyond the lifetime of the process. Rows are appended
// when a run starts and again when it finishes.
type History interface {
	Append(ctx context.Context, row Row) error
	List(ctx context.Context, limit int) ([]Row, error)
	// Delete removes finished rows named in ids or that ended before endedBefore
	// (ignored when zero) and returns how many were removed.
	Delete(ctx context.Context, ids []string, endedBefore time.Time) (int, error)
	Close() error
}

// GCSettings bounds the number of finished runs kept in memory.
// Above MaxRecords the oldest finished runs are evicted; above ReapSize every
// run that ended more than MaxAge ago is evicted.
type GCSettings struct {
	MaxRecords int
	ReapSize   int
	MaxAge     time.Duration
}

// DefaultGCSettings keeps up to 1000 runs and reaps month-old runs past 500.
var DefaultGCSettings = GCSettings{MaxRecords: 1000, ReapSize: 500, MaxAge: 30 * 24 * time.Hour}

type run struct {
	row    Row
	cancel context.CancelFunc
}

// Registry holds every invocation of the current process.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*run
	history History
	gc      GCSettings
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithHistory appends every finished run to h.
func WithHistory(h History) Option {
	return func(r *Registry) { r.history = h }
}

// WithGCSettings replaces DefaultGCSettings.
func WithGCSettings(s GCSettings) Option {
	return func(r *Registry) { r.gc = s }
}

func withClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		runs: make(map[string]*run),
		gc:   DefaultGCSettings,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a pending invocation of method and returns its id.
func (r *Registry) Add(method string, tags map[string]string) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[id] = &run{row: Row{ID: id, Method: method, State: StatePending, Tags: maps.Clone(tags)}}
	r.gcAsRequired()
	return id
}

// Start marks id running. The returned context is cancelled by Kill.
func (r *Registry) Start(ctx context.Context, id string) (context.Context, error) {
	r.mu.Lock()
	t, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if t.row.State != StatePending {
		r.mu.Unlock()
		return nil, fmt.Errorf("run %s is %s, not %s", id, t.row.State, StatePending)
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.row.State = StateRunning
	t.row.Start = r.now()
	row := t.row
	history := r.history
	r.mu.Unlock()

	// other processes see the run as active until Finish replaces the row
	if history != nil {
		if err := history.Append(context.WithoutCancel(ctx), row); err != nil {
			logging.Warn("failed to record run start", "run_id", id, "error", err)
		}
	}
	return runCtx, nil
}

// Finish records the outcome of id. A killed run stays killed.
func (r *Registry) Finish(ctx context.Context, id string, runErr error) error {
	r.mu.Lock()
	t, ok := r.runs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if t.cancel != nil {
		t.cancel()
	}
	if t.row.State != StateKilled {
		t.row.State = StateSuccess
		if runErr != nil {
			t.row.State = StateError
		}
		t.row.End = r.now()
	}
	if runErr != nil {
		t.row.Error = runErr.Error()
	}
	t.row.Elapsed = elapsed(t.row, r.now())
	row := t.row
	history := r.history
	r.mu.Unlock()

	if history == nil {
		return nil
	}
	if err := history.Append(ctx, row); err != nil {
		logging.Warn("failed to record run history", "run_id", id, "error", err)
		return err
	}
	return nil
}

// Ps lists active and/or completed runs ordered by state, start time, then method.
func (r *Registry) Ps(active, completed bool) []Row {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var rows []Row
	for _, t := range r.runs {
		finished := t.row.State.Finished()
		if (finished && completed) || (!finished && active) {
			row := t.row
			row.Elapsed = elapsed(row, now)
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.State.rank() != b.State.rank() {
			return a.State.rank() < b.State.rank()
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.Method < b.Method
	})
	return rows
}

// Poll returns the current row for id.
func (r *Registry) Poll(id string) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.runs[id]
	if !ok {
		return Row{}, fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	row := t.row
	row.Elapsed = elapsed(row, r.now())
	return row, nil
}

// KillStatus is the outcome of Kill.
type KillStatus string

const (
	KillMissing    KillStatus = "missing"
	KillNotStarted KillStatus = "not_started"
	KillKilled     KillStatus = "killed"
	KillFinished   KillStatus = "finished"
)

// Kill cancels a running invocation. Pending runs are marked killed and will
// refuse to start.
func (r *Registry) Kill(id string) KillStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.runs[id]
	if !ok {
		return KillMissing
	}
	switch t.row.State {
	case StatePending:
		t.row.State = StateKilled
		t.row.End = r.now()
		return KillNotStarted
	case StateRunning:
		t.row.State = StateKilled
		t.row.End = r.now()
		t.cancel()
		return KillKilled
	}
	return KillFinished
}

// GCRequest names runs to remove, either explicitly or by end time.
type GCRequest struct {
	IDs    []string
	Before time.Time
}

// GCResult groups the requested ids by what happened to them in memory, and
// counts the rows removed from the history.
type GCResult struct {
	Deleted        []string `json:"deleted"`
	Missing        []string `json:"missing"`
	Running        []string `json:"running"`
	HistoryDeleted int      `json:"history_deleted"`
}

// GC removes finished runs from memory and from the history. Unfinished runs
// are never removed.
func (r *Registry) GC(ctx context.Context, req GCRequest) (GCResult, error) {
	r.mu.Lock()
	ids := append([]string(nil), req.IDs...)
	if !req.Before.IsZero() {
		ids = append(ids, r.endedBefore(req.Before)...)
	}
	res := r.remove(ids)
	history := r.history
	r.mu.Unlock()

	if history == nil {
		return res, nil
	}
	n, err := history.Delete(ctx, req.IDs, req.Before)
	if err != nil {
		return res, fmt.Errorf("failed to prune run history: %w", err)
	}
	res.HistoryDeleted = n
	return res, nil
}

func (r *Registry) remove(ids []string) GCResult {
	var res GCResult
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		t, ok := r.runs[id]
		switch {
		case !ok:
			res.Missing = append(res.Missing, id)
		case !t.row.State.Finished():
			res.Running = append(res.Running, id)
		default:
			delete(r.runs, id)
			res.Deleted = append(res.Deleted, id)
		}
	}
	sort.Strings(res.Deleted)
	return res
}

// gcAsRequired applies the GC settings. Callers hold r.mu.
func (r *Registry) gcAsRequired() {
	n := len(r.runs)
	var ids []string
	switch {
	case r.gc.MaxRecords > 0 && n > r.gc.MaxRecords:
		ids = r.oldestEnded(n - r.gc.MaxRecords)
	case r.gc.ReapSize > 0 && n > r.gc.ReapSize && r.gc.MaxAge > 0:
		ids = r.endedBefore(r.now().Add(-r.gc.MaxAge))
	}
	if len(ids) > 0 {
		res := r.remove(ids)
		logging.Debug("reaped finished runs", "count", len(res.Deleted))
	}
}

func (r *Registry) endedBefore(when time.Time) []string {
	var ids []string
	for id, t := range r.runs {
		if t.row.State.Finished() && !t.row.End.IsZero() && t.row.End.Before(when) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Registry) oldestEnded(n int) []string {
	var finished []Row
	for _, t := range r.runs {
		if t.row.State.Finished() && !t.row.End.IsZero() {
			finished = append(finished, t.row)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].End.Before(finished[j].End) })
	if n > len(finished) {
		n = len(finished)
	}
	ids := make([]string, 0, n)
	for _, row := range finished[:n] {
		ids = append(ids, row.ID)
	}
	return ids
}

// History returns the configured history, or nil.
func (r *Registry) History() History {
	return r.history
}

func elapsed(row Row, now time.Time) time.Duration {
	switch {
	case row.Start.IsZero():
		return 0
	case !row.End.IsZero():
		return row.End.Sub(row.Start)
	}
	return now.Sub(row.Start)
}
