package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/qontinui/treeline/internal/domain"
)

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (and migrates) a SQLite-backed ledger.
func NewSQLiteLedger(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT,
			initial_state_ids TEXT,
			inconsistent INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			node_name TEXT,
			parent_node_id TEXT,
			ts INTEGER NOT NULL,
			duration_ms INTEGER,
			error TEXT,
			error_type TEXT,
			active_before TEXT,
			active_after TEXT,
			screenshot_ref TEXT,
			metadata TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, sequence)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// CreateRun creates a new run record.
func (l *SQLiteLedger) CreateRun(ctx context.Context, run *domain.Run) error {
	states, _ := json.Marshal(run.InitialStateIDs)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, workflow_name, status, started_at, error, initial_state_ids, inconsistent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.WorkflowID, run.WorkflowName, run.Status, run.StartedAt,
		nullable(run.Error), string(states), boolToInt(run.Inconsistent))
	return err
}

// GetRun retrieves a run by id. Returns nil when not found.
func (l *SQLiteLedger) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, workflow_name, status, started_at, ended_at, error, initial_state_ids, inconsistent
		 FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// UpdateRun persists a run's mutable fields.
func (l *SQLiteLedger) UpdateRun(ctx context.Context, run *domain.Run) error {
	var endedAt interface{}
	if run.EndedAt != nil {
		endedAt = *run.EndedAt
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, error = ?, inconsistent = ? WHERE run_id = ?`,
		run.Status, endedAt, nullable(run.Error), boolToInt(run.Inconsistent), run.RunID)
	return err
}

// ListRuns returns runs, newest first, optionally filtered by workflow.
func (l *SQLiteLedger) ListRuns(ctx context.Context, workflowID string, limit int) ([]domain.Run, error) {
	query := `SELECT run_id, workflow_id, workflow_name, status, started_at, ended_at, error, initial_state_ids, inconsistent FROM runs`
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = ?`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// AppendEvent inserts the event, ignoring duplicates by event_id.
func (l *SQLiteLedger) AppendEvent(ctx context.Context, e *domain.Event) (bool, error) {
	before, _ := json.Marshal(e.ActiveBefore)
	after, _ := json.Marshal(e.ActiveAfter)
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events
		 (event_id, run_id, sequence, event_type, node_id, node_type, node_name, parent_node_id,
		  ts, duration_ms, error, error_type, active_before, active_after, screenshot_ref, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.RunID, e.Sequence, e.Type, e.NodeID, e.NodeType, nullable(e.NodeName),
		nullable(e.ParentID), e.Ts, e.DurationMs, nullable(e.Error), nullable(e.ErrorType),
		string(before), string(after), nullable(e.ScreenshotRef), nullableRaw(e.Metadata))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetEvents replays events for a run ordered by sequence.
func (l *SQLiteLedger) GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, sequence, event_type, node_id, node_type, node_name, parent_node_id,
		ts, duration_ms, error, error_type, active_before, active_after, screenshot_ref, metadata
		FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := l.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of stored events for a run.
func (l *SQLiteLedger) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row *sql.Row) (*domain.Run, error) {
	run, err := scanRunFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func scanRunRows(rows *sql.Rows) (*domain.Run, error) {
	return scanRunFrom(rows)
}

func scanRunFrom(s rowScanner) (*domain.Run, error) {
	var run domain.Run
	var workflowName, errMsg, states sql.NullString
	var endedAt sql.NullTime
	var inconsistent int
	if err := s.Scan(&run.RunID, &run.WorkflowID, &workflowName, &run.Status,
		&run.StartedAt, &endedAt, &errMsg, &states, &inconsistent); err != nil {
		return nil, err
	}
	run.WorkflowName = workflowName.String
	run.Error = errMsg.String
	if endedAt.Valid {
		t := endedAt.Time
		run.EndedAt = &t
	}
	if states.Valid && states.String != "" {
		json.Unmarshal([]byte(states.String), &run.InitialStateIDs)
	}
	run.Inconsistent = inconsistent != 0
	return &run, nil
}

func scanEvent(s rowScanner) (*domain.Event, error) {
	var e domain.Event
	var nodeName, parentID, errMsg, errType, before, after, screenshot, metadata sql.NullString
	var durationMs sql.NullInt64
	if err := s.Scan(&e.EventID, &e.RunID, &e.Sequence, &e.Type, &e.NodeID, &e.NodeType,
		&nodeName, &parentID, &e.Ts, &durationMs, &errMsg, &errType,
		&before, &after, &screenshot, &metadata); err != nil {
		return nil, err
	}
	e.NodeName = nodeName.String
	e.ParentID = parentID.String
	e.Error = errMsg.String
	e.ErrorType = errType.String
	e.ScreenshotRef = screenshot.String
	if durationMs.Valid {
		d := durationMs.Int64
		e.DurationMs = &d
	}
	if before.Valid && before.String != "" {
		json.Unmarshal([]byte(before.String), &e.ActiveBefore)
	}
	if after.Valid && after.String != "" {
		json.Unmarshal([]byte(after.String), &e.ActiveAfter)
	}
	if metadata.Valid && metadata.String != "" {
		e.Metadata = json.RawMessage(metadata.String)
	}
	return &e, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableRaw(m json.RawMessage) interface{} {
	if len(m) == 0 {
		return nil
	}
	return string(m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
