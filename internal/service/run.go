package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/qontinui/treeline/internal/domain"
)

// StartRun creates a new run and registers it with the reconstruction
// and coverage engines.
func (s *Service) StartRun(ctx context.Context, req domain.RunCreateRequest) (*domain.Run, error) {
	if req.WorkflowID == "" {
		return nil, fmt.Errorf("workflow_id is required")
	}

	runID := req.RunID
	if runID == "" {
		runID = "run_" + uuid.New().String()[:8]
	}
	if existing, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, fmt.Errorf("failed to check run: %w", err)
	} else if existing != nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	}

	name := req.WorkflowName
	if name == "" {
		if def, ok := s.registry.GetWorkflow(req.WorkflowID); ok {
			name = def.Name
		}
	}

	run := &domain.Run{
		RunID:           runID,
		WorkflowID:      req.WorkflowID,
		WorkflowName:    name,
		Status:          domain.RunStatusRunning,
		StartedAt:       time.Now().UTC(),
		InitialStateIDs: req.InitialStateIDs,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.registerRun(run)
	return run, nil
}

// registerRun wires an existing run record into the in-memory engines.
func (s *Service) registerRun(run *domain.Run) {
	s.tree.StartRun(run)
	s.coverage.StartRun(run)
	s.mu.Lock()
	s.workflowByRun[run.RunID] = run.WorkflowID
	s.mu.Unlock()
}

// CompleteRun finalizes a run with a terminal status. A cancelled run's
// root node gets an end timestamp; in-flight node statuses are left as
// last observed.
func (s *Service) CompleteRun(ctx context.Context, runID string, req domain.RunCompleteRequest) (*domain.Run, error) {
	if !req.Status.Terminal() {
		return nil, fmt.Errorf("status %q is not terminal", req.Status)
	}
	run, err := s.ensureRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s already terminal (%s)", runID, run.Status)
	}

	// Release anything still waiting on a gap: the stream is over.
	s.buffer.Flush(runID)

	now := time.Now().UTC()
	run.Status = req.Status
	run.EndedAt = &now
	run.Error = req.Error
	run.Inconsistent = run.Inconsistent || s.tree.Inconsistent(runID)
	if err := s.store.UpdateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	if req.Status == domain.RunStatusCancelled {
		s.tree.ForceEnd(runID, now.UnixMilli(), req.Status)
	} else {
		s.tree.SetRunStatus(runID, req.Status)
	}

	s.coverage.TakeSnapshot(runID)
	s.coverage.FinishRun(runID)
	return run, nil
}

// CancelRun marks a run cancelled.
func (s *Service) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.CompleteRun(ctx, runID, domain.RunCompleteRequest{Status: domain.RunStatusCancelled})
}

// GetRun returns the run record, merged with the engine's consistency
// flag. Returns nil when not found.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, nil
	}
	run.Inconsistent = run.Inconsistent || s.tree.Inconsistent(runID)
	return run, nil
}

// ListRuns lists runs, optionally filtered by workflow.
func (s *Service) ListRuns(ctx context.Context, workflowID string, limit int) ([]domain.Run, error) {
	runs, err := s.store.ListRuns(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ensureRun makes sure a run's in-memory state exists, replaying the
// ledger when the run is only known durably (e.g. after a restart).
// Returns nil when the run does not exist at all.
func (s *Service) ensureRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, nil
	}
	if s.tree.HasRun(runID) {
		return run, nil
	}
	if err := s.replayRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// replayRun rebuilds the tree and coverage state from the ledger's
// ordered event stream. Reliability samples are not re-recorded: the
// cross-run window would double-count within a process lifetime.
func (s *Service) replayRun(ctx context.Context, run *domain.Run) error {
	events, err := s.store.GetEvents(ctx, run.RunID, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to replay run %s: %w", run.RunID, err)
	}

	s.registerRun(run)

	sort.SliceStable(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	seen := make([]string, 0, len(events))
	var prev, highest int64
	var gapSeen bool
	for i := range events {
		e := &events[i]
		seen = append(seen, e.EventID)
		if e.Sequence != prev+1 {
			// The live buffer releases everything past an unfilled gap
			// flagged, so replay flags the whole suffix the same way.
			gapSeen = true
		}
		prev = e.Sequence
		if e.Sequence > highest {
			highest = e.Sequence
		}
		if reason, err := s.tree.Apply(e, gapSeen); err != nil {
			return err
		} else if reason != "" {
			continue
		}
		s.coverage.Observe(e)
	}
	// Anything below the highest stored sequence is either a duplicate
	// or a filler for a gap already declared missing.
	s.buffer.MarkSeen(run.RunID, seen, highest)
	s.tree.SetRunStatus(run.RunID, run.Status)
	return nil
}

func timestamp(unixMs int64) time.Time {
	if unixMs == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(unixMs).UTC()
}
