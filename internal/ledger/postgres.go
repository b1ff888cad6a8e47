package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/qontinui/treeline/internal/domain"
)

// PostgresLedger implements Ledger using PostgreSQL.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger opens (and migrates) a Postgres-backed ledger.
func NewPostgresLedger(databaseURL string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	l := &PostgresLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return l, nil
}

func (l *PostgresLedger) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_name TEXT,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ,
			error TEXT,
			initial_state_ids JSONB,
			inconsistent BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			sequence BIGINT NOT NULL,
			event_type TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			node_name TEXT,
			parent_node_id TEXT,
			ts BIGINT NOT NULL,
			duration_ms BIGINT,
			error TEXT,
			error_type TEXT,
			active_before JSONB,
			active_after JSONB,
			screenshot_ref TEXT,
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, sequence)`,
	}

	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

// CreateRun creates a new run record.
func (l *PostgresLedger) CreateRun(ctx context.Context, run *domain.Run) error {
	states, _ := json.Marshal(run.InitialStateIDs)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, workflow_name, status, started_at, error, initial_state_ids, inconsistent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.RunID, run.WorkflowID, run.WorkflowName, run.Status, run.StartedAt,
		nullable(run.Error), string(states), run.Inconsistent)
	return err
}

// GetRun retrieves a run by id. Returns nil when not found.
func (l *PostgresLedger) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var workflowName, errMsg, states sql.NullString
	var endedAt sql.NullTime
	err := l.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, workflow_name, status, started_at, ended_at, error, initial_state_ids, inconsistent
		 FROM runs WHERE run_id = $1`, runID).
		Scan(&run.RunID, &run.WorkflowID, &workflowName, &run.Status,
			&run.StartedAt, &endedAt, &errMsg, &states, &run.Inconsistent)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
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
	return &run, nil
}

// UpdateRun persists a run's mutable fields.
func (l *PostgresLedger) UpdateRun(ctx context.Context, run *domain.Run) error {
	var endedAt interface{}
	if run.EndedAt != nil {
		endedAt = *run.EndedAt
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, ended_at = $2, error = $3, inconsistent = $4 WHERE run_id = $5`,
		run.Status, endedAt, nullable(run.Error), run.Inconsistent, run.RunID)
	return err
}

// ListRuns returns runs, newest first, optionally filtered by workflow.
func (l *PostgresLedger) ListRuns(ctx context.Context, workflowID string, limit int) ([]domain.Run, error) {
	query := `SELECT run_id, workflow_id, workflow_name, status, started_at, ended_at, error, initial_state_ids, inconsistent FROM runs`
	args := []interface{}{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1`
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
		var run domain.Run
		var workflowName, errMsg, states sql.NullString
		var endedAt sql.NullTime
		if err := rows.Scan(&run.RunID, &run.WorkflowID, &workflowName, &run.Status,
			&run.StartedAt, &endedAt, &errMsg, &states, &run.Inconsistent); err != nil {
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
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendEvent inserts the event, ignoring duplicates by event_id.
func (l *PostgresLedger) AppendEvent(ctx context.Context, e *domain.Event) (bool, error) {
	before, _ := json.Marshal(e.ActiveBefore)
	after, _ := json.Marshal(e.ActiveAfter)
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO events
		 (event_id, run_id, sequence, event_type, node_id, node_type, node_name, parent_node_id,
		  ts, duration_ms, error, error_type, active_before, active_after, screenshot_ref, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (event_id) DO NOTHING`,
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
func (l *PostgresLedger) GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, sequence, event_type, node_id, node_type, node_name, parent_node_id,
		ts, duration_ms, error, error_type, active_before, active_after, screenshot_ref, metadata
		FROM events WHERE run_id = $1 AND sequence > $2 ORDER BY sequence ASC`
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
func (l *PostgresLedger) CountEvents(ctx context.Context, runID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE run_id = $1`, runID).Scan(&n)
	return n, err
}
