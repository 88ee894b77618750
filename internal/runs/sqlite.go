package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteHistory stores runs in a SQLite database.
type SQLiteHistory struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenSQLiteHistory opens (or creates) the history database at path.
// ":memory:" keeps it in memory.
func OpenSQLiteHistory(path string) (*SQLiteHistory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	h := &SQLiteHistory{db: db}
	if err := h.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return h, nil
}

func (h *SQLiteHistory) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		state TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		elapsed_ns INTEGER NOT NULL,
		tags TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Append inserts or replaces row.
func (h *SQLiteHistory) Append(ctx context.Context, row Row) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var tags []byte
	if row.Tags != nil {
		var err error
		if tags, err = json.Marshal(row.Tags); err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
	}

	_, err := h.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (id, method, state, started_at, ended_at, elapsed_ns, tags, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		row.ID, row.Method, string(row.State), unixNano(row.Start), unixNano(row.End), int64(row.Elapsed), tags, row.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// List returns the most recent runs first. A limit <= 0 returns every run.
func (h *SQLiteHistory) List(ctx context.Context, limit int) ([]Row, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		"SELECT id, method, state, started_at, ended_at, elapsed_ns, tags, error FROM runs ORDER BY started_at DESC, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var state string
		var started, ended, elapsedNs int64
		var tags []byte
		var errText sql.NullString
		if err := rows.Scan(&row.ID, &row.Method, &state, &started, &ended, &elapsedNs, &tags, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		row.State = State(state)
		row.Start = fromUnixNano(started)
		row.End = fromUnixNano(ended)
		row.Elapsed = time.Duration(elapsedNs)
		row.Error = errText.String
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &row.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags of %s: %w", row.ID, err)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Delete removes finished runs by id or end time.
func (h *SQLiteHistory) Delete(ctx context.Context, ids []string, endedBefore time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var conds []string
	var args []any
	if len(ids) > 0 {
		conds = append(conds, "id IN (?"+strings.Repeat(", ?", len(ids)-1)+")")
		for _, id := range ids {
			args = append(args, id)
		}
	}
	if !endedBefore.IsZero() {
		conds = append(conds, "(ended_at > 0 AND ended_at < ?)")
		args = append(args, endedBefore.UnixNano())
	}
	if len(conds) == 0 {
		return 0, nil
	}

	query := "DELETE FROM runs WHERE state IN (?, ?, ?) AND (" + strings.Join(conds, " OR ") + ")"
	args = append([]any{string(StateSuccess), string(StateError), string(StateKilled)}, args...)
	res, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return int(n), nil
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
