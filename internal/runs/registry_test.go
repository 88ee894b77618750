package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(opts ...Option) (*Registry, *clock) {
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewRegistry(append([]Option{withClock(c.now)}, opts...)...), c
}

func TestRegistry_Lifecycle(t *testing.T) {
	r, c := newTestRegistry()

	id := r.Add("run", map[string]string{"target": "dev"})
	row, err := r.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, row.State)
	assert.Zero(t, row.Elapsed)

	_, err = r.Start(context.Background(), id)
	require.NoError(t, err)
	c.advance(2 * time.Second)

	row, err = r.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, row.State)
	assert.Equal(t, 2*time.Second, row.Elapsed)

	require.NoError(t, r.Finish(context.Background(), id, nil))
	c.advance(time.Minute)

	row, err = r.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, row.State)
	assert.Equal(t, 2*time.Second, row.Elapsed)
	assert.Equal(t, "dev", row.Tags["target"])
}

func TestRegistry_FinishWithError(t *testing.T) {
	r, _ := newTestRegistry()
	id := r.Add("run", nil)
	_, err := r.Start(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, r.Finish(context.Background(), id, errors.New("boom")))
	row, _ := r.Poll(id)
	assert.Equal(t, StateError, row.State)
	assert.Equal(t, "boom", row.Error)
}

func TestRegistry_PollUnknown(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Poll("nope")
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestRegistry_Kill(t *testing.T) {
	r, _ := newTestRegistry()

	assert.Equal(t, KillMissing, r.Kill("nope"))

	pending := r.Add("ls", nil)
	assert.Equal(t, KillNotStarted, r.Kill(pending))
	_, err := r.Start(context.Background(), pending)
	assert.Error(t, err)

	running := r.Add("run", nil)
	ctx, err := r.Start(context.Background(), running)
	require.NoError(t, err)
	assert.Equal(t, KillKilled, r.Kill(running))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	// the invocation reports its own failure afterwards; it stays killed
	require.NoError(t, r.Finish(context.Background(), running, ctx.Err()))
	row, _ := r.Poll(running)
	assert.Equal(t, StateKilled, row.State)
	assert.Equal(t, KillFinished, r.Kill(running))
}

func TestRegistry_Ps(t *testing.T) {
	r, c := newTestRegistry()

	done := r.Add("compile", nil)
	_, _ = r.Start(context.Background(), done)
	require.NoError(t, r.Finish(context.Background(), done, nil))

	c.advance(time.Second)
	b := r.Add("run", nil)
	_, _ = r.Start(context.Background(), b)
	a := r.Add("ls", nil)
	_, _ = r.Start(context.Background(), a)
	pending := r.Add("run", nil)

	active := r.Ps(true, false)
	require.Len(t, active, 3)
	assert.Equal(t, pending, active[0].ID)
	// same start time, ordered by method
	assert.Equal(t, a, active[1].ID)
	assert.Equal(t, b, active[2].ID)

	completed := r.Ps(false, true)
	require.Len(t, completed, 1)
	assert.Equal(t, done, completed[0].ID)

	assert.Len(t, r.Ps(true, true), 4)
	assert.Empty(t, r.Ps(false, false))
}

func TestRegistry_GC(t *testing.T) {
	r, c := newTestRegistry()

	old := r.Add("run", nil)
	_, _ = r.Start(context.Background(), old)
	require.NoError(t, r.Finish(context.Background(), old, nil))
	c.advance(time.Hour)

	running := r.Add("run", nil)
	_, _ = r.Start(context.Background(), running)

	res, err := r.GC(context.Background(), GCRequest{IDs: []string{running, "nope"}, Before: c.now().Add(-time.Minute)})
	require.NoError(t, err)
	assert.Zero(t, res.HistoryDeleted)
	assert.Equal(t, []string{old}, res.Deleted)
	assert.Equal(t, []string{"nope"}, res.Missing)
	assert.Equal(t, []string{running}, res.Running)

	_, err = r.Poll(old)
	assert.ErrorIs(t, err, ErrUnknownRun)
}

func TestRegistry_GCAsRequired(t *testing.T) {
	r, c := newTestRegistry(WithGCSettings(GCSettings{MaxRecords: 2}))

	var ids []string
	for range 3 {
		id := r.Add("run", nil)
		_, _ = r.Start(context.Background(), id)
		require.NoError(t, r.Finish(context.Background(), id, nil))
		c.advance(time.Second)
		ids = append(ids, id)
	}
	// every Add past MaxRecords evicts the oldest finished run
	r.Add("run", nil)

	_, err := r.Poll(ids[0])
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, err = r.Poll(ids[1])
	assert.ErrorIs(t, err, ErrUnknownRun)
	_, err = r.Poll(ids[2])
	assert.NoError(t, err)
}

func TestRegistry_History(t *testing.T) {
	h, err := OpenSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer h.Close()

	r, _ := newTestRegistry(WithHistory(h))
	id := r.Add("run", map[string]string{"select": "state:modified+"})
	_, err = r.Start(context.Background(), id)
	require.NoError(t, err)

	rows, err := h.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StateRunning, rows[0].State, "a started run is visible as active")

	require.NoError(t, r.Finish(context.Background(), id, nil))

	rows, err = h.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
	assert.Equal(t, StateSuccess, rows[0].State)
	assert.Equal(t, "state:modified+", rows[0].Tags["select"])
}

func TestRegistry_GCPrunesHistory(t *testing.T) {
	h, err := OpenSQLiteHistory(":memory:")
	require.NoError(t, err)
	defer h.Close()
	ctx := context.Background()

	r, c := newTestRegistry(WithHistory(h))
	old := r.Add("run", nil)
	_, _ = r.Start(ctx, old)
	require.NoError(t, r.Finish(ctx, old, nil))
	c.advance(48 * time.Hour)

	active := r.Add("run", nil)
	_, _ = r.Start(ctx, active)

	res, err := r.GC(ctx, GCRequest{IDs: []string{active}, Before: c.now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, []string{old}, res.Deleted)
	assert.Equal(t, []string{active}, res.Running)
	assert.Equal(t, 1, res.HistoryDeleted)

	rows, err := h.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, active, rows[0].ID)
}
