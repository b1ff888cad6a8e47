// Package coverage tracks which of a workflow's declared states and
// transitions a run actually exercised. Declared totals come from
// workflow definitions; events can only ever reveal a subset of them.
package coverage

import (
	"sort"
	"sync"
	"time"

	"github.com/qontinui/treeline/internal/domain"
)

// Thresholds configure gap prioritization. A transition or state is
// critical when it has zero historical executions, high when covered in
// fewer than HighRunRatio of runs, medium below MediumRunRatio, else low.
type Thresholds struct {
	HighRunRatio   float64
	MediumRunRatio float64
}

// DefaultThresholds mirror the documented defaults.
var DefaultThresholds = Thresholds{HighRunRatio: 0.10, MediumRunRatio: 0.50}

// DefinitionSource resolves a workflow's declared state/transition sets.
type DefinitionSource interface {
	GetWorkflow(workflowID string) (*domain.WorkflowDefinition, bool)
}

// runCoverage is one run's incremental coverage state.
type runCoverage struct {
	workflowID string

	// active is the current contiguous active-state interval: a state
	// toggling off and on again counts as a new visit.
	active map[string]bool

	stateVisits     map[string]int
	transitionExecs map[string]int
	lastVisited     map[string]time.Time

	snapshots    []domain.CoverageSnapshot
	nextSnapshot int
}

// workflowHistory accumulates cross-run coverage used for gap priority.
type workflowHistory struct {
	totalRuns       int
	stateRuns       map[string]int // runs in which the state was visited
	transitionRuns  map[string]int // runs in which the transition executed
	stateExecs      map[string]int
	transitionExecs map[string]int
	lastVisited     map[string]time.Time
}

// Aggregator maintains per-run and per-workflow coverage.
type Aggregator struct {
	defs       DefinitionSource
	thresholds Thresholds

	mu      sync.RWMutex
	runs    map[string]*runCoverage
	history map[string]*workflowHistory
}

// NewAggregator creates a coverage aggregator over the given definition
// source.
func NewAggregator(defs DefinitionSource, thresholds Thresholds) *Aggregator {
	return &Aggregator{
		defs:       defs,
		thresholds: thresholds,
		runs:       make(map[string]*runCoverage),
		history:    make(map[string]*workflowHistory),
	}
}

// StartRun seeds a run's coverage with its initial active states; the
// initial states count as first visits.
func (a *Aggregator) StartRun(run *domain.Run) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.runs[run.RunID]; ok {
		return
	}
	rc := &runCoverage{
		workflowID:      run.WorkflowID,
		active:          make(map[string]bool),
		stateVisits:     make(map[string]int),
		transitionExecs: make(map[string]int),
		lastVisited:     make(map[string]time.Time),
		nextSnapshot:    1,
	}
	now := run.StartedAt
	for _, id := range run.InitialStateIDs {
		rc.active[id] = true
		rc.stateVisits[id]++
		rc.lastVisited[id] = now
	}
	a.runs[run.RunID] = rc
}

// Observe folds one released event into the run's coverage.
func (a *Aggregator) Observe(event *domain.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.runs[event.RunID]
	if !ok {
		return
	}
	now := time.UnixMilli(event.Ts)

	if event.StatesChanged() {
		after := make(map[string]bool, len(event.ActiveAfter))
		for _, id := range event.ActiveAfter {
			after[id] = true
			if !rc.active[id] {
				// State entering the active set: a new visit.
				rc.stateVisits[id]++
				rc.lastVisited[id] = now
			}
		}
		rc.active = after
	}

	if event.Type == domain.EventTransitionCompleted {
		rc.transitionExecs[event.NodeID]++
	}
}

// FinishRun folds a completed run into its workflow's history and takes
// a final snapshot.
func (a *Aggregator) FinishRun(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.runs[runID]
	if !ok {
		return
	}
	h := a.historyFor(rc.workflowID)
	h.totalRuns++
	for id, n := range rc.stateVisits {
		h.stateRuns[id]++
		h.stateExecs[id] += n
		if t, ok := rc.lastVisited[id]; ok && t.After(h.lastVisited[id]) {
			h.lastVisited[id] = t
		}
	}
	for id, n := range rc.transitionExecs {
		h.transitionRuns[id]++
		h.transitionExecs[id] += n
	}
}

func (a *Aggregator) historyFor(workflowID string) *workflowHistory {
	h, ok := a.history[workflowID]
	if !ok {
		h = &workflowHistory{
			stateRuns:       make(map[string]int),
			transitionRuns:  make(map[string]int),
			stateExecs:      make(map[string]int),
			transitionExecs: make(map[string]int),
			lastVisited:     make(map[string]time.Time),
		}
		a.history[workflowID] = h
	}
	return h
}

// RunCoverage returns the coverage snapshot for one run, or nil when the
// run is unknown.
func (a *Aggregator) RunCoverage(runID string) *domain.CoverageData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rc, ok := a.runs[runID]
	if !ok {
		return nil
	}
	return a.buildCoverage(rc.workflowID, rc.stateVisits, rc.transitionExecs)
}

// WorkflowCoverage returns the aggregate coverage across all finished
// runs of a workflow.
func (a *Aggregator) WorkflowCoverage(workflowID string) *domain.CoverageData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.history[workflowID]
	if !ok {
		return a.buildCoverage(workflowID, map[string]int{}, map[string]int{})
	}
	return a.buildCoverage(workflowID, h.stateExecs, h.transitionExecs)
}

// buildCoverage computes counts and the percentage against declared
// totals. Percentage is nil when the workflow definition is unknown:
// never divide by a guessed total. Caller holds at least a read lock.
func (a *Aggregator) buildCoverage(workflowID string, visits, execs map[string]int) *domain.CoverageData {
	cov := &domain.CoverageData{
		StateVisitCounts:          copyCounts(visits),
		TransitionExecutionCounts: copyCounts(execs),
		UncoveredStates:           []string{},
		UncoveredTransitions:      []string{},
	}

	def, ok := a.defs.GetWorkflow(workflowID)
	if !ok {
		cov.StatesCovered = len(visits)
		cov.TransitionsCovered = len(execs)
		return cov
	}

	stateIDs := def.StateIDs()
	transitionIDs := def.TransitionIDs()
	cov.TotalStates = len(stateIDs)
	cov.TotalTransitions = len(transitionIDs)
	for _, id := range stateIDs {
		if visits[id] > 0 {
			cov.StatesCovered++
		} else {
			cov.UncoveredStates = append(cov.UncoveredStates, id)
		}
	}
	for _, id := range transitionIDs {
		if execs[id] > 0 {
			cov.TransitionsCovered++
		} else {
			cov.UncoveredTransitions = append(cov.UncoveredTransitions, id)
		}
	}
	sort.Strings(cov.UncoveredStates)
	sort.Strings(cov.UncoveredTransitions)

	total := cov.TotalStates + cov.TotalTransitions
	if total > 0 {
		pct := float64(cov.StatesCovered+cov.TransitionsCovered) / float64(total) * 100
		cov.CoveragePercentage = &pct
	}
	return cov
}

// TakeSnapshot captures a sequence-numbered point-in-time coverage
// record for the run and returns it.
func (a *Aggregator) TakeSnapshot(runID string) *domain.CoverageSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	rc, ok := a.runs[runID]
	if !ok {
		return nil
	}
	cov := a.buildCoverage(rc.workflowID, rc.stateVisits, rc.transitionExecs)
	snap := domain.CoverageSnapshot{
		RunID:              runID,
		SequenceNumber:     rc.nextSnapshot,
		CoveragePercentage: cov.CoveragePercentage,
		StatesCovered:      cov.StatesCovered,
		TotalStates:        cov.TotalStates,
		TransitionsCovered: cov.TransitionsCovered,
		TotalTransitions:   cov.TotalTransitions,
		Timestamp:          time.Now().UTC(),
	}
	rc.nextSnapshot++
	rc.snapshots = append(rc.snapshots, snap)
	return &snap
}

// Snapshots returns the run's captured coverage series.
func (a *Aggregator) Snapshots(runID string) []domain.CoverageSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rc, ok := a.runs[runID]
	if !ok {
		return nil
	}
	return append([]domain.CoverageSnapshot(nil), rc.snapshots...)
}

// Gaps lists a workflow's uncovered states and transitions, prioritized
// by historical coverage across all of its runs.
func (a *Aggregator) Gaps(workflowID string) *domain.CoverageGaps {
	a.mu.RLock()
	defer a.mu.RUnlock()

	def, ok := a.defs.GetWorkflow(workflowID)
	if !ok {
		return nil
	}
	h := a.history[workflowID]

	cov := a.WorkflowCoverageLocked(workflowID)
	gaps := &domain.CoverageGaps{
		WorkflowID:      workflowID,
		CurrentCoverage: cov.CoveragePercentage,
		Gaps:            []domain.CoverageGap{},
	}

	// A gap is any declared state or transition not exercised in every
	// run of the workflow; priority reflects how rarely it was covered.
	for _, s := range def.States {
		if h != nil && h.totalRuns > 0 && h.stateRuns[s.ID] >= h.totalRuns {
			continue
		}
		gaps.Gaps = append(gaps.Gaps, domain.CoverageGap{
			ID:       s.ID,
			Name:     s.Name,
			Type:     "state",
			Priority: a.priority(h, h.runsCoveredState(s.ID), h.execsState(s.ID)),
		})
	}
	for _, t := range def.Transitions {
		if h != nil && h.totalRuns > 0 && h.transitionRuns[t.ID] >= h.totalRuns {
			continue
		}
		gaps.Gaps = append(gaps.Gaps, domain.CoverageGap{
			ID:        t.ID,
			Name:      t.Name,
			Type:      "transition",
			FromState: t.FromState,
			ToState:   t.ToState,
			Priority:  a.priority(h, h.runsCoveredTransition(t.ID), h.execsTransition(t.ID)),
		})
	}

	gaps.TotalGaps = len(gaps.Gaps)
	for _, g := range gaps.Gaps {
		if g.Priority == domain.GapPriorityCritical {
			gaps.CriticalGaps++
		}
	}
	return gaps
}

// WorkflowCoverageLocked is WorkflowCoverage for callers already holding
// the aggregator lock.
func (a *Aggregator) WorkflowCoverageLocked(workflowID string) *domain.CoverageData {
	h, ok := a.history[workflowID]
	if !ok {
		return a.buildCoverage(workflowID, map[string]int{}, map[string]int{})
	}
	return a.buildCoverage(workflowID, h.stateExecs, h.transitionExecs)
}

func (a *Aggregator) priority(h *workflowHistory, runsCovered, execs int) domain.GapPriority {
	if execs == 0 {
		return domain.GapPriorityCritical
	}
	if h == nil || h.totalRuns == 0 {
		return domain.GapPriorityHigh
	}
	ratio := float64(runsCovered) / float64(h.totalRuns)
	switch {
	case ratio < a.thresholds.HighRunRatio:
		return domain.GapPriorityHigh
	case ratio < a.thresholds.MediumRunRatio:
		return domain.GapPriorityMedium
	default:
		return domain.GapPriorityLow
	}
}

// Heatmap builds the per-state visit heatmap for a workflow.
func (a *Aggregator) Heatmap(workflowID string) *domain.CoverageHeatmap {
	a.mu.RLock()
	defer a.mu.RUnlock()

	def, ok := a.defs.GetWorkflow(workflowID)
	if !ok {
		return nil
	}
	h := a.history[workflowID]

	hm := &domain.CoverageHeatmap{WorkflowID: workflowID, Cells: []domain.HeatmapCell{}}
	for _, s := range def.States {
		cell := domain.HeatmapCell{StateID: s.ID, StateName: s.Name}
		if h != nil {
			cell.VisitCount = h.stateExecs[s.ID]
			if t, ok := h.lastVisited[s.ID]; ok {
				lv := t
				cell.LastVisitedAt = &lv
			}
		}
		if cell.VisitCount > hm.MaxVisits {
			hm.MaxVisits = cell.VisitCount
		}
		hm.Cells = append(hm.Cells, cell)
	}
	if hm.MaxVisits > 0 {
		for i := range hm.Cells {
			hm.Cells[i].CoverageIntensity = float64(hm.Cells[i].VisitCount) / float64(hm.MaxVisits)
		}
	}
	return hm
}

// DropRun evicts a run's coverage state without folding it into history.
func (a *Aggregator) DropRun(runID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.runs, runID)
}

func (h *workflowHistory) runsCoveredState(id string) int {
	if h == nil {
		return 0
	}
	return h.stateRuns[id]
}

func (h *workflowHistory) runsCoveredTransition(id string) int {
	if h == nil {
		return 0
	}
	return h.transitionRuns[id]
}

func (h *workflowHistory) execsState(id string) int {
	if h == nil {
		return 0
	}
	return h.stateExecs[id]
}

func (h *workflowHistory) execsTransition(id string) int {
	if h == nil {
		return 0
	}
	return h.transitionExecs[id]
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
