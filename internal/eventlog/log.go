package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lyzr/swarmx-controlplane/internal/apperror"
)

// Log is the durability spine of the control plane: every lifecycle event
// is appended here, durably, before any in-memory view is trusted.
type Log interface {
	Append(ctx context.Context, event Event) (Envelope, error)
	AppendBatch(ctx context.Context, events []Event) ([]Envelope, error)
	ReadFrom(ctx context.Context, sequence int64) ([]Envelope, error)
	ReadFiltered(ctx context.Context, filter Filter) ([]Envelope, error)
	Latest(ctx context.Context, n int) ([]Envelope, error)
	LastSequence(ctx context.Context) (int64, error)
	Compact(ctx context.Context, beforeSequence int64) (int, error)
	CompactBefore(ctx context.Context, ts time.Time) (int, error)
	Checkpoint(ctx context.Context) error
	Subscribe(fromSequence int64) Subscriber
	Close() error
}

// SQLiteLog persists the event journal in an embedded SQLite database in WAL
// mode, matching the schema and durability model spec'd for the control
// plane: events(id, sequence, event_type, event_json, workflow_id, node_id,
// created_at), synchronous = NORMAL.
type SQLiteLog struct {
	db *sql.DB

	// mu serializes sequence assignment so gapless ordering holds even if
	// Append is called from multiple goroutines concurrently.
	mu       sync.Mutex
	nextSeq  int64
	subsMu   sync.Mutex
	subs     map[*logSubscriber]struct{}
}

// Open opens (creating if absent) a SQLite-backed event log at path. Use
// ":memory:" for ephemeral/test logs.
func Open(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	l := &SQLiteLog{db: db, subs: make(map[*logSubscriber]struct{})}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.loadNextSequence(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	sequence INTEGER UNIQUE NOT NULL,
	event_type TEXT NOT NULL,
	event_json TEXT NOT NULL,
	workflow_id TEXT,
	node_id TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_sequence ON events(sequence);
CREATE INDEX IF NOT EXISTS idx_events_workflow_id ON events(workflow_id);
CREATE INDEX IF NOT EXISTS idx_events_node_id ON events(node_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);
`
	_, err := l.db.ExecContext(ctx, schema)
	return err
}

// loadNextSequence scans for the current maximum sequence on open, starting
// at 1 when the log is empty.
func (l *SQLiteLog) loadNextSequence(ctx context.Context) error {
	row := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM events")
	var max int64
	if err := row.Scan(&max); err != nil {
		return fmt.Errorf("scan max sequence: %w", err)
	}
	l.nextSeq = max + 1
	return nil
}

func (l *SQLiteLog) Append(ctx context.Context, event Event) (Envelope, error) {
	envs, err := l.AppendBatch(ctx, []Event{event})
	if err != nil {
		return Envelope{}, err
	}
	return envs[0], nil
}

func (l *SQLiteLog) AppendBatch(ctx context.Context, events []Event) ([]Envelope, error) {
	if len(events) == 0 {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events
		(id, sequence, event_type, event_json, workflow_id, node_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	defer stmt.Close()

	envs := make([]Envelope, 0, len(events))
	seq := l.nextSeq
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		env := Envelope{
			ID:       uuid.New(),
			Sequence: seq,
			Event:    ev,
			StoredAt: time.Now().UTC(),
		}
		var workflowID, nodeID interface{}
		if ev.WorkflowID != uuid.Nil {
			workflowID = ev.WorkflowID.String()
		}
		if ev.NodeID != uuid.Nil {
			nodeID = ev.NodeID.String()
		}
		if _, err := stmt.ExecContext(ctx, env.ID.String(), env.Sequence, string(ev.Type),
			string(payload), workflowID, nodeID, env.StoredAt.Format(time.RFC3339Nano)); err != nil {
			return nil, apperror.StorageUnavailable(err)
		}
		envs = append(envs, env)
		seq++
	}

	if err := tx.Commit(); err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	l.nextSeq = seq

	l.notifySubscribers()
	return envs, nil
}

func (l *SQLiteLog) ReadFrom(ctx context.Context, sequence int64) ([]Envelope, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, sequence, event_json, created_at FROM events
		WHERE sequence >= ? ORDER BY sequence ASC`, sequence)
	if err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	defer rows.Close()
	return scanEnvelopes(rows)
}

func (l *SQLiteLog) ReadFiltered(ctx context.Context, filter Filter) ([]Envelope, error) {
	// SQLite narrows by workflow_id/node_id/min-sequence cheaply via the
	// index; the remaining predicates (event-type set, time window) are
	// applied in-process since they're cheap relative to query planning for
	// an arbitrary set of types.
	query := "SELECT id, sequence, event_json, created_at FROM events WHERE sequence >= ?"
	args := []interface{}{filter.MinSequence}
	if filter.WorkflowID != nil {
		query += " AND workflow_id = ?"
		args = append(args, filter.WorkflowID.String())
	}
	if filter.NodeID != nil {
		query += " AND node_id = ?"
		args = append(args, filter.NodeID.String())
	}
	query += " ORDER BY sequence ASC"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	defer rows.Close()
	all, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Envelope, 0, len(all))
	for _, env := range all {
		if !filter.Matches(env) {
			continue
		}
		out = append(out, env)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *SQLiteLog) Latest(ctx context.Context, n int) ([]Envelope, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, sequence, event_json, created_at FROM events
		ORDER BY sequence DESC LIMIT ?`, n)
	if err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	defer rows.Close()
	envs, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Sequence < envs[j].Sequence })
	return envs, nil
}

func (l *SQLiteLog) LastSequence(ctx context.Context) (int64, error) {
	row := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM events")
	var max int64
	if err := row.Scan(&max); err != nil {
		return 0, apperror.StorageUnavailable(err)
	}
	return max, nil
}

func (l *SQLiteLog) Compact(ctx context.Context, beforeSequence int64) (int, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM events WHERE sequence < ?", beforeSequence)
	if err != nil {
		return 0, apperror.StorageUnavailable(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (l *SQLiteLog) CompactBefore(ctx context.Context, ts time.Time) (int, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", ts.Format(time.RFC3339Nano))
	if err != nil {
		return 0, apperror.StorageUnavailable(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Checkpoint flushes SQLite's WAL into the main database file so previously
// returned envelopes are durable beyond the journal.
func (l *SQLiteLog) Checkpoint(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return apperror.StorageUnavailable(err)
	}
	return nil
}

func (l *SQLiteLog) Close() error {
	l.subsMu.Lock()
	for s := range l.subs {
		close(s.notify)
	}
	l.subs = nil
	l.subsMu.Unlock()
	return l.db.Close()
}

func scanEnvelopes(rows *sql.Rows) ([]Envelope, error) {
	var out []Envelope
	for rows.Next() {
		var idStr, eventJSON, createdAt string
		var seq int64
		if err := rows.Scan(&idStr, &seq, &eventJSON, &createdAt); err != nil {
			return nil, apperror.StorageUnavailable(err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(eventJSON), &ev); err != nil {
			return nil, apperror.Internal(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		storedAt, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			storedAt = time.Time{}
		}
		out = append(out, Envelope{ID: id, Sequence: seq, Event: ev, StoredAt: storedAt})
	}
	return out, rows.Err()
}
