package domain

import "time"

// Run represents one execution session of a workflow under automation.
type Run struct {
	RunID        string     `json:"run_id"`
	WorkflowID   string     `json:"workflow_id"`
	WorkflowName string     `json:"workflow_name,omitempty"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	// InitialStateIDs are the active states when the run started.
	InitialStateIDs []string `json:"initial_state_ids,omitempty"`
	// Inconsistent is set when a consistency violation was recorded for
	// the run (terminal-status overwrite, parent cycle). The run keeps
	// accepting valid events.
	Inconsistent bool `json:"inconsistent,omitempty"`
}
