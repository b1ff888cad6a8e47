package domain

import "encoding/json"

// Event is one immutable fact about a node transition within a run.
// Events are deduplicated by EventID and ordered by Sequence; sequence
// numbers are monotonic per run but may have gaps due to batching.
type Event struct {
	EventID  string    `json:"event_id"`
	RunID    string    `json:"run_id"`
	Sequence int64     `json:"sequence"`
	Type     EventType `json:"event_type"`

	NodeID   string   `json:"node_id"`
	NodeType NodeType `json:"node_type"`
	NodeName string   `json:"node_name,omitempty"`
	// ParentID is empty only for the run's root node.
	ParentID string `json:"parent_node_id,omitempty"`

	// Ts is the emit time in Unix milliseconds.
	Ts         int64  `json:"timestamp"`
	DurationMs *int64 `json:"duration_ms,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`

	// Active state ids before and after the event, used for coverage
	// visit attribution.
	ActiveBefore []string `json:"active_states_before,omitempty"`
	ActiveAfter  []string `json:"active_states_after,omitempty"`

	// ScreenshotRef is an opaque reference into external object storage.
	ScreenshotRef string `json:"screenshot_ref,omitempty"`

	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// StatesChanged reports whether the event changed the active state set.
func (e *Event) StatesChanged() bool {
	if len(e.ActiveBefore) != len(e.ActiveAfter) {
		return true
	}
	before := make(map[string]bool, len(e.ActiveBefore))
	for _, s := range e.ActiveBefore {
		before[s] = true
	}
	for _, s := range e.ActiveAfter {
		if !before[s] {
			return true
		}
	}
	return false
}

// RejectedEvent reports why a single event in a batch was not applied.
type RejectedEvent struct {
	EventID string          `json:"event_id"`
	NodeID  string          `json:"node_id,omitempty"`
	Reason  RejectionReason `json:"reason"`
}

// IngestResult summarizes the outcome of ingesting one batch.
type IngestResult struct {
	RunID        string          `json:"run_id"`
	Accepted     int             `json:"accepted"`
	Deduplicated int             `json:"deduplicated"`
	Rejected     int             `json:"rejected"`
	Rejections   []RejectedEvent `json:"rejections,omitempty"`
}
