// Package service composes the ledger, ordering buffer, reconstruction
// engine, and aggregators behind the external read/write contract.
package service

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/qontinui/treeline/internal/config"
	"github.com/qontinui/treeline/internal/coverage"
	"github.com/qontinui/treeline/internal/domain"
	"github.com/qontinui/treeline/internal/hub"
	"github.com/qontinui/treeline/internal/ingest"
	"github.com/qontinui/treeline/internal/ledger"
	"github.com/qontinui/treeline/internal/metadata"
	"github.com/qontinui/treeline/internal/reliability"
	"github.com/qontinui/treeline/internal/tree"
	"github.com/qontinui/treeline/policy"
)

type Service struct {
	store        ledger.Ledger
	buffer       *ingest.Buffer
	tree         *tree.Engine
	coverage     *coverage.Aggregator
	reliability  *reliability.Engine
	registry     *metadata.Registry
	policyEngine *policy.Engine
	hub          *hub.Hub
	config       *config.Config

	// workflowByRun caches run -> workflow for the apply path.
	mu            sync.RWMutex
	workflowByRun map[string]string
	// rejections collects apply-time rejections per run until the next
	// ingest result drains them.
	rejections map[string][]domain.RejectedEvent
}

func New(store ledger.Ledger, registry *metadata.Registry, policyEngine *policy.Engine, h *hub.Hub, cfg *config.Config) *Service {
	s := &Service{
		store:        store,
		tree:         tree.NewEngine(),
		registry:     registry,
		policyEngine: policyEngine,
		hub:          h,
		config:       cfg,

		workflowByRun: make(map[string]string),
		rejections:    make(map[string][]domain.RejectedEvent),
	}
	s.coverage = coverage.NewAggregator(registry, coverage.Thresholds{
		HighRunRatio:   cfg.CoverageHighRunRatio,
		MediumRunRatio: cfg.CoverageMediumRunRatio,
	})
	s.reliability = reliability.NewEngine(reliability.WindowConfig{
		MaxSamples: cfg.ReliabilityMaxSamples,
		MaxAge:     cfg.ReliabilityMaxAge,
	})
	s.buffer = ingest.NewBuffer(cfg.GapTimeout, s.apply)
	return s
}

// apply is the ordering buffer's sink: it folds one released event into
// the tree, coverage, and reliability engines and fans it out to live
// watchers. Per-run serialization is the buffer's responsibility.
func (s *Service) apply(rel ingest.Release) {
	event := rel.Event

	reason, err := s.tree.Apply(event, rel.OrderingGap)
	if err != nil {
		log.Printf("apply failed for event %s: %v", event.EventID, err)
		return
	}
	if reason != "" {
		log.Printf("run %s: event %s rejected (%s)", event.RunID, event.EventID, reason)
		s.mu.Lock()
		s.rejections[event.RunID] = append(s.rejections[event.RunID], domain.RejectedEvent{
			EventID: event.EventID,
			NodeID:  event.NodeID,
			Reason:  reason,
		})
		s.mu.Unlock()
		return
	}

	s.coverage.Observe(event)

	if event.NodeType == domain.NodeTypeTransition && event.Type.Terminal() {
		s.recordReliability(event)
	}

	if s.hub != nil {
		if data, err := json.Marshal(event); err == nil {
			s.hub.Publish(event.RunID, data)
		}
	}
}

func (s *Service) recordReliability(event *domain.Event) {
	// Duration stays nil when neither the event nor the reconstructed
	// node knows it (terminal seen without a start).
	var duration *int64
	if event.DurationMs != nil {
		d := *event.DurationMs
		duration = &d
	} else if n := s.tree.NodeView(event.RunID, event.NodeID); n != nil && n.DurationMs != nil {
		d := *n.DurationMs
		duration = &d
	}

	s.mu.RLock()
	workflowID := s.workflowByRun[event.RunID]
	s.mu.RUnlock()

	s.reliability.Record(domain.ReliabilitySample{
		TransitionID: event.NodeID,
		WorkflowID:   workflowID,
		DurationMs:   duration,
		Success:      event.Type.Completed(),
		ErrorType:    event.ErrorType,
		Timestamp:    timestamp(event.Ts),
	})
}

// drainRejections returns and clears the apply-time rejections recorded
// for a run since the last drain.
func (s *Service) drainRejections(runID string) []domain.RejectedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.rejections[runID]
	delete(s.rejections, runID)
	return out
}
