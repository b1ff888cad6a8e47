package service

import (
	"context"
	"fmt"
	"time"

	"github.com/qontinui/treeline/internal/domain"
)

// TreeSnapshot materializes the run's display tree. Returns nil for
// unknown runs. Safe to call concurrently with ingestion: the engine
// copies under a read lock.
func (s *Service) TreeSnapshot(ctx context.Context, runID string) (*domain.ExecutionTree, error) {
	run, err := s.ensureRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return s.tree.Snapshot(runID), nil
}

// RunEvents replays a run's raw events from the ledger.
func (s *Service) RunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, int, error) {
	events, err := s.store.GetEvents(ctx, runID, afterSeq, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get run events: %w", err)
	}
	total, err := s.store.CountEvents(ctx, runID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count run events: %w", err)
	}
	return events, total, nil
}

// RunCoverage returns the run's current coverage. Returns nil for
// unknown runs.
func (s *Service) RunCoverage(ctx context.Context, runID string) (*domain.CoverageData, error) {
	run, err := s.ensureRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return s.coverage.RunCoverage(runID), nil
}

// WorkflowCoverage returns aggregate coverage across a workflow's runs.
func (s *Service) WorkflowCoverage(workflowID string) *domain.CoverageData {
	return s.coverage.WorkflowCoverage(workflowID)
}

// CoverageGaps lists a workflow's prioritized coverage gaps. Returns nil
// when the workflow has no registered definition.
func (s *Service) CoverageGaps(workflowID string) *domain.CoverageGaps {
	return s.coverage.Gaps(workflowID)
}

// CoverageHeatmap returns per-state visit intensity for a workflow.
func (s *Service) CoverageHeatmap(workflowID string) *domain.CoverageHeatmap {
	return s.coverage.Heatmap(workflowID)
}

// TakeCoverageSnapshot captures a point-in-time coverage record for a
// run's growth series.
func (s *Service) TakeCoverageSnapshot(ctx context.Context, runID string) (*domain.CoverageSnapshot, error) {
	run, err := s.ensureRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return s.coverage.TakeSnapshot(runID), nil
}

// CoverageSnapshots returns a run's captured coverage series.
func (s *Service) CoverageSnapshots(ctx context.Context, runID string) ([]domain.CoverageSnapshot, error) {
	run, err := s.ensureRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}
	return s.coverage.Snapshots(runID), nil
}

// TransitionReliability returns one transition's stats over the retained
// window (windowAge zero means the full window). Returns nil for
// transitions never observed.
func (s *Service) TransitionReliability(transitionID string, windowAge time.Duration) *domain.ReliabilityStats {
	return s.reliability.TransitionStats(transitionID, windowAge)
}

// WorkflowReliability aggregates all of a workflow's transition samples.
func (s *Service) WorkflowReliability(workflowID string, windowAge time.Duration) *domain.ReliabilityStats {
	return s.reliability.WorkflowStats(workflowID, windowAge)
}

// WorkflowTransitionReliability returns per-transition stats for a
// workflow, sorted by transition id.
func (s *Service) WorkflowTransitionReliability(workflowID string, windowAge time.Duration) []domain.ReliabilityStats {
	return s.reliability.WorkflowTransitionStats(workflowID, windowAge)
}

// RegisterWorkflow registers (or replaces) a workflow definition.
func (s *Service) RegisterWorkflow(def *domain.WorkflowDefinition) error {
	if def.WorkflowID == "" {
		return fmt.Errorf("workflow_id is required")
	}
	s.registry.Register(def)
	return nil
}

// GetWorkflow returns a registered workflow definition.
func (s *Service) GetWorkflow(workflowID string) (*domain.WorkflowDefinition, bool) {
	return s.registry.GetWorkflow(workflowID)
}
