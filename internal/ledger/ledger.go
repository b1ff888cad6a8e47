// Package ledger provides the append-only event store backing the
// reconstruction engine. Events are keyed by (run_id, sequence) and
// deduplicated by event_id; replay is ordered by sequence.
package ledger

import (
	"context"
	"strings"

	"github.com/qontinui/treeline/internal/domain"
)

// Ledger is the durable store contract. Implementations must make
// AppendEvent idempotent so that ingest retries never double-count.
type Ledger interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRuns(ctx context.Context, workflowID string, limit int) ([]domain.Run, error)

	// AppendEvent inserts the event if its event_id has not been seen.
	// It returns false (and no error) when the event was a duplicate.
	AppendEvent(ctx context.Context, event *domain.Event) (bool, error)
	// GetEvents replays a run's events ordered by sequence, starting
	// after the given sequence number. limit <= 0 means no limit.
	GetEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error)
	CountEvents(ctx context.Context, runID string) (int, error)

	Close() error
}

// Open selects a backend by URL scheme: postgres:// (or postgresql://)
// opens Postgres, anything else is treated as a SQLite DSN.
func Open(databaseURL string) (Ledger, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgresLedger(databaseURL)
	}
	return NewSQLiteLedger(databaseURL)
}
