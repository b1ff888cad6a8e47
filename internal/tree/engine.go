// Package tree rebuilds a run's execution tree from its ordered event
// stream. Nodes are kept in a per-run arena keyed by id; parent links are
// validated so the arena stays acyclic even under anomalous input.
package tree

import (
	"fmt"
	"sync"

	"github.com/qontinui/treeline/internal/domain"
)

// node is the mutable arena entry behind the exported domain.Node view.
type node struct {
	domain.Node
	children []string // child ids ordered by first-seen sequence
	firstSeq int64
	// placeholder nodes were materialized from a child's parent
	// reference and are waiting for their own started event.
	placeholder bool
}

// runState holds everything the engine knows about one run.
type runState struct {
	mu sync.RWMutex

	run         domain.Run
	nodes       map[string]*node
	roots       []string // root ids ordered by first-seen sequence
	totalEvents int
}

// Engine maintains reconstruction state for all runs.
type Engine struct {
	mu   sync.RWMutex
	runs map[string]*runState
}

// NewEngine creates an empty reconstruction engine.
func NewEngine() *Engine {
	return &Engine{runs: make(map[string]*runState)}
}

// StartRun registers a run so its events have somewhere to land.
func (e *Engine) StartRun(run *domain.Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.runs[run.RunID]; ok {
		return
	}
	e.runs[run.RunID] = &runState{
		run:   *run,
		nodes: make(map[string]*node),
	}
}

// HasRun reports whether the run is materialized in memory.
func (e *Engine) HasRun(runID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.runs[runID]
	return ok
}

// DropRun evicts a run's in-memory state. It can always be rebuilt by
// replaying the ledger.
func (e *Engine) DropRun(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, runID)
}

func (e *Engine) state(runID string) *runState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runs[runID]
}

// Apply folds one event into the run's tree. orderingGap marks events
// that were released past an unfilled sequence gap. A rejection reason
// is returned for consistency violations; the event is then a no-op.
func (e *Engine) Apply(event *domain.Event, orderingGap bool) (domain.RejectionReason, error) {
	rs := e.state(event.RunID)
	if rs == nil {
		return domain.RejectRunNotFound, fmt.Errorf("run %s not registered", event.RunID)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if event.NodeID == "" {
		rs.run.Inconsistent = true
		return domain.RejectMissingNodeID, nil
	}

	n, reason := rs.applyNode(event)
	if reason != "" {
		rs.run.Inconsistent = true
		return reason, nil
	}
	if orderingGap {
		n.OrderingGap = true
	}
	rs.totalEvents++
	if rs.run.Status == domain.RunStatusPending {
		rs.run.Status = domain.RunStatusRunning
	}
	return "", nil
}

// applyNode mutates the arena for one event. Caller holds the write lock.
func (rs *runState) applyNode(event *domain.Event) (*node, domain.RejectionReason) {
	n, exists := rs.nodes[event.NodeID]

	switch {
	case event.Type.Started():
		if !exists {
			n = rs.newNode(event)
		} else if n.placeholder {
			// The placeholder created from a child's parent reference
			// is now backed by its own started event.
			n.placeholder = false
			n.firstSeq = minSeq(n.firstSeq, event.Sequence)
		}
		fill(n, event)
		if n.StartTs == 0 {
			n.StartTs = event.Ts
		}
		// A started event never regresses a terminal status; it only
		// backfills the start timestamp (Scenario B: completion seen
		// before the start after a gap release).
		if !n.Status.Terminal() {
			n.Status = domain.NodeStatusRunning
		}
		if reason := rs.attach(n, event); reason != "" {
			return n, reason
		}
		recomputeDuration(n)
		return n, ""

	case event.Type.Terminal():
		if exists && !n.placeholder && n.Status.Terminal() {
			// First terminal status wins.
			return n, domain.RejectTerminalStatusOverwrite
		}
		if !exists {
			// Terminal before started: materialize the node with an
			// unknown start so duration stays unknown, not guessed.
			n = rs.newNode(event)
		}
		n.placeholder = false
		fill(n, event)
		if event.Type.Completed() {
			n.Status = domain.NodeStatusSuccess
		} else {
			n.Status = domain.NodeStatusFailed
			n.Error = event.Error
		}
		n.EndTs = event.Ts
		if reason := rs.attach(n, event); reason != "" {
			return n, reason
		}
		recomputeDuration(n)
		return n, ""

	default:
		return n, domain.RejectUnknownEventType
	}
}

func (rs *runState) newNode(event *domain.Event) *node {
	n := &node{
		Node: domain.Node{
			ID:     event.NodeID,
			Type:   event.NodeType,
			Status: domain.NodeStatusPending,
		},
		firstSeq: event.Sequence,
	}
	rs.nodes[event.NodeID] = n
	return n
}

// fill copies per-event attributes that any lifecycle event may carry.
func fill(n *node, event *domain.Event) {
	if event.NodeName != "" {
		n.Name = event.NodeName
	}
	if event.NodeType != "" {
		n.Type = event.NodeType
	}
	if event.ScreenshotRef != "" {
		n.ScreenshotRef = event.ScreenshotRef
	}
	if event.DurationMs != nil {
		n.DurationMs = event.DurationMs
	}
}

// attach links the node under its parent, creating a pending placeholder
// when the parent has not been seen yet. A parent assignment that would
// close a cycle is rejected.
func (rs *runState) attach(n *node, event *domain.Event) domain.RejectionReason {
	if event.ParentID == "" {
		if n.ParentID == "" && !contains(rs.roots, n.ID) {
			rs.roots = append(rs.roots, n.ID)
		}
		return ""
	}
	if n.ParentID == event.ParentID {
		return ""
	}
	if n.ParentID != "" {
		// Single-owner invariant: the first parent reference sticks.
		return ""
	}
	if rs.wouldCycle(n.ID, event.ParentID) {
		return domain.RejectParentCycle
	}

	parent, ok := rs.nodes[event.ParentID]
	if !ok {
		parent = &node{
			Node: domain.Node{
				ID:     event.ParentID,
				Status: domain.NodeStatusPending,
			},
			firstSeq:    event.Sequence,
			placeholder: true,
		}
		rs.nodes[event.ParentID] = parent
	}
	n.ParentID = event.ParentID
	parent.children = append(parent.children, n.ID)
	return ""
}

// wouldCycle walks the parent chain from candidate up to the roots and
// reports whether it passes through id.
func (rs *runState) wouldCycle(id, candidate string) bool {
	for cur := candidate; cur != ""; {
		if cur == id {
			return true
		}
		p, ok := rs.nodes[cur]
		if !ok {
			return false
		}
		cur = p.ParentID
	}
	return false
}

func recomputeDuration(n *node) {
	if n.DurationMs != nil {
		return
	}
	if n.StartTs != 0 && n.EndTs != 0 {
		d := n.EndTs - n.StartTs
		n.DurationMs = &d
	}
}

// ForceEnd stamps an end time on the run's first root without touching
// node statuses, used when a run is cancelled externally.
func (e *Engine) ForceEnd(runID string, endTs int64, status domain.RunStatus) {
	rs := e.state(runID)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.run.Status = status
	for _, rootID := range rs.roots {
		root := rs.nodes[rootID]
		if root.EndTs == 0 {
			root.EndTs = endTs
			recomputeDuration(root)
		}
	}
}

// SetRunStatus updates the run-level status held by the engine.
func (e *Engine) SetRunStatus(runID string, status domain.RunStatus) {
	rs := e.state(runID)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	rs.run.Status = status
	rs.mu.Unlock()
}

// Inconsistent reports whether the run was flagged with a consistency
// violation.
func (e *Engine) Inconsistent(runID string) bool {
	rs := e.state(runID)
	if rs == nil {
		return false
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.run.Inconsistent
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func minSeq(a, b int64) int64 {
	if a <= b {
		return a
	}
	return b
}
