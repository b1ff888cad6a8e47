package service

import (
	"context"
	"fmt"
	"log"

	"github.com/qontinui/treeline/internal/domain"
)

// IngestBatch accepts an ordered batch of events for one run. Duplicate
// events are no-ops, structurally invalid events are rejected with a
// reason, and everything else goes through the ledger and the ordering
// buffer. Safe to retry: the ledger append is idempotent by event id.
func (s *Service) IngestBatch(ctx context.Context, runID string, batch []domain.Event) (*domain.IngestResult, error) {
	run, err := s.ensureRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	result := &domain.IngestResult{RunID: runID}
	if run == nil {
		for _, e := range batch {
			result.Rejected++
			result.Rejections = append(result.Rejections, domain.RejectedEvent{
				EventID: e.EventID, NodeID: e.NodeID, Reason: domain.RejectRunNotFound,
			})
		}
		return result, nil
	}
	if run.Status.Terminal() {
		// A terminal run is immutable; nothing may land after completion.
		for _, e := range batch {
			result.Rejected++
			result.Rejections = append(result.Rejections, domain.RejectedEvent{
				EventID: e.EventID, NodeID: e.NodeID, Reason: domain.RejectRunTerminal,
			})
		}
		return result, nil
	}

	if s.policyEngine != nil {
		decision, reason, err := s.policyEngine.Evaluate(ctx, policyInput(runID, batch))
		if err != nil {
			return nil, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if decision != "allow" {
			log.Printf("run %s: batch of %d blocked by policy (%s)", runID, len(batch), reason)
			for _, e := range batch {
				result.Rejected++
				result.Rejections = append(result.Rejections, domain.RejectedEvent{
					EventID: e.EventID, NodeID: e.NodeID, Reason: domain.RejectPolicyBlock,
				})
			}
			return result, nil
		}
	}

	accepted := make(map[string]bool, len(batch))
	for i := range batch {
		event := batch[i]
		event.RunID = runID

		if reason := validate(&event); reason != "" {
			result.Rejected++
			result.Rejections = append(result.Rejections, domain.RejectedEvent{
				EventID: event.EventID, NodeID: event.NodeID, Reason: reason,
			})
			continue
		}

		inserted, err := s.store.AppendEvent(ctx, &event)
		if err != nil {
			// Ledger faults are the one escalated failure class; the
			// caller retries the whole batch and dedup absorbs it.
			return nil, fmt.Errorf("ledger append failed: %w", err)
		}
		if !inserted {
			result.Deduplicated++
			continue
		}
		if !s.buffer.Offer(&event) {
			result.Deduplicated++
			continue
		}
		accepted[event.EventID] = true
		result.Accepted++
	}

	// Rejections discovered while applying released events (terminal
	// overwrites, cycles) surface on this batch's result. Only the ones
	// belonging to this batch count against its accepted total; leftovers
	// from asynchronous gap releases were accepted by an earlier batch.
	for _, rej := range s.drainRejections(runID) {
		result.Rejected++
		if accepted[rej.EventID] {
			result.Accepted--
		}
		result.Rejections = append(result.Rejections, rej)
	}
	if result.Accepted < 0 {
		result.Accepted = 0
	}
	return result, nil
}

// validate checks the structural rules that never need engine state.
func validate(event *domain.Event) domain.RejectionReason {
	if !event.Type.Known() {
		return domain.RejectUnknownEventType
	}
	if event.NodeID == "" {
		return domain.RejectMissingNodeID
	}
	return ""
}

func policyInput(runID string, batch []domain.Event) map[string]interface{} {
	types := make([]string, 0, len(batch))
	for _, e := range batch {
		types = append(types, string(e.Type))
	}
	return map[string]interface{}{
		"run_id":      runID,
		"batch_size":  len(batch),
		"event_types": types,
	}
}
