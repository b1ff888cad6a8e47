package domain

import "time"

// CoverageData is the coverage snapshot for a run or workflow.
// CoveragePercentage is nil when the workflow's declared totals are
// unknown; it is never derived from events alone.
type CoverageData struct {
	CoveragePercentage *float64 `json:"coverage_percentage"`

	StatesCovered      int `json:"states_covered"`
	TotalStates        int `json:"total_states"`
	TransitionsCovered int `json:"transitions_covered"`
	TotalTransitions   int `json:"total_transitions"`

	UncoveredStates      []string `json:"uncovered_states"`
	UncoveredTransitions []string `json:"uncovered_transitions"`

	StateVisitCounts          map[string]int `json:"state_visit_counts"`
	TransitionExecutionCounts map[string]int `json:"transition_execution_counts"`
}

// CoverageSnapshot is a sequence-numbered point-in-time capture of a
// run's coverage, used to track coverage growth over the run.
type CoverageSnapshot struct {
	RunID              string    `json:"run_id"`
	SequenceNumber     int       `json:"sequence_number"`
	CoveragePercentage *float64  `json:"coverage_percentage"`
	StatesCovered      int       `json:"states_covered"`
	TotalStates        int       `json:"total_states"`
	TransitionsCovered int       `json:"transitions_covered"`
	TotalTransitions   int       `json:"total_transitions"`
	Timestamp          time.Time `json:"timestamp"`
}

// CoverageGap is an uncovered state or transition with a priority rank.
type CoverageGap struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      string      `json:"type"` // "state" or "transition"
	FromState string      `json:"from_state,omitempty"`
	ToState   string      `json:"to_state,omitempty"`
	Priority  GapPriority `json:"priority"`
}

// CoverageGaps is the gap analysis for one workflow.
type CoverageGaps struct {
	WorkflowID      string        `json:"workflow_id"`
	CurrentCoverage *float64      `json:"current_coverage"`
	Gaps            []CoverageGap `json:"gaps"`
	TotalGaps       int           `json:"total_gaps"`
	CriticalGaps    int           `json:"critical_gaps"`
}

// HeatmapCell is one state's visit intensity for heatmap rendering.
type HeatmapCell struct {
	StateID           string     `json:"state_id"`
	StateName         string     `json:"state_name"`
	VisitCount        int        `json:"visit_count"`
	LastVisitedAt     *time.Time `json:"last_visited_at,omitempty"`
	CoverageIntensity float64    `json:"coverage_intensity"`
}

// CoverageHeatmap is the per-state visit heatmap for a workflow or run.
type CoverageHeatmap struct {
	WorkflowID string        `json:"workflow_id"`
	RunID      string        `json:"run_id,omitempty"`
	Cells      []HeatmapCell `json:"cells"`
	MaxVisits  int           `json:"max_visits"`
}
