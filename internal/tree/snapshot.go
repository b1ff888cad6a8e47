package tree

import (
	"sort"

	"github.com/qontinui/treeline/internal/domain"
)

// Snapshot materializes the display tree for a run. The walk happens
// under the run's read lock, so the result is a consistent point-in-time
// copy that ingestion can never tear. Returns nil for unknown runs.
func (e *Engine) Snapshot(runID string) *domain.ExecutionTree {
	rs := e.state(runID)
	if rs == nil {
		return nil
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	tree := &domain.ExecutionTree{
		RunID:           runID,
		TotalEvents:     rs.totalEvents,
		WorkflowName:    rs.run.WorkflowName,
		Status:          rs.run.Status,
		InitialStateIDs: append([]string(nil), rs.run.InitialStateIDs...),
		Inconsistent:    rs.run.Inconsistent,
	}

	roots := append([]string(nil), rs.roots...)
	sort.SliceStable(roots, func(i, j int) bool {
		return rs.nodes[roots[i]].firstSeq < rs.nodes[roots[j]].firstSeq
	})
	for _, id := range roots {
		tree.RootNodes = append(tree.RootNodes, rs.materialize(id, 0))
	}

	// The tree's total duration is the root's end minus start, not the
	// sum of children: children may overlap in time.
	if len(tree.RootNodes) > 0 && tree.RootNodes[0].DurationMs != nil {
		d := *tree.RootNodes[0].DurationMs
		tree.DurationMs = &d
	}
	return tree
}

// materialize copies one node and its descendants depth-first, assigning
// nesting levels and ordering children by first-seen sequence.
func (rs *runState) materialize(id string, level int) domain.DisplayNode {
	n := rs.nodes[id]
	dn := domain.DisplayNode{
		Node:     n.Node, // struct copy; the arena node stays private
		Level:    level,
		Children: []domain.DisplayNode{},
	}
	if n.DurationMs != nil {
		d := *n.DurationMs
		dn.DurationMs = &d
	}

	children := append([]string(nil), n.children...)
	sort.SliceStable(children, func(i, j int) bool {
		return rs.nodes[children[i]].firstSeq < rs.nodes[children[j]].firstSeq
	})
	for _, childID := range children {
		dn.Children = append(dn.Children, rs.materialize(childID, level+1))
	}
	return dn
}

// NodeView returns a copy of a single node, or nil when unknown.
func (e *Engine) NodeView(runID, nodeID string) *domain.Node {
	rs := e.state(runID)
	if rs == nil {
		return nil
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	n, ok := rs.nodes[nodeID]
	if !ok {
		return nil
	}
	view := n.Node
	if n.DurationMs != nil {
		d := *n.DurationMs
		view.DurationMs = &d
	}
	return &view
}
