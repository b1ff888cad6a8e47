package domain

// Node is the materialized view over all events referencing one node id.
type Node struct {
	ID       string     `json:"id"`
	Type     NodeType   `json:"node_type"`
	Name     string     `json:"name"`
	Status   NodeStatus `json:"status"`
	ParentID string     `json:"parent_id,omitempty"`

	// StartTs/EndTs are Unix milliseconds; zero means unknown (the
	// corresponding lifecycle event was never seen).
	StartTs int64 `json:"start_ts,omitempty"`
	EndTs   int64 `json:"end_ts,omitempty"`
	// DurationMs is nil when either endpoint is unknown.
	DurationMs *int64 `json:"duration_ms,omitempty"`

	Error string `json:"error,omitempty"`

	// OrderingGap marks that an event for this node was released past an
	// unfilled sequence gap.
	OrderingGap bool `json:"ordering_gap,omitempty"`

	ScreenshotRef string `json:"screenshot_ref,omitempty"`
}

// DisplayNode is the nested query-time materialization of a Node.
type DisplayNode struct {
	Node
	Level    int           `json:"level"`
	Children []DisplayNode `json:"children"`
}

// ExecutionTree is the full reconstructed tree for one run.
type ExecutionTree struct {
	RunID           string        `json:"run_id"`
	RootNodes       []DisplayNode `json:"root_nodes"`
	TotalEvents     int           `json:"total_events"`
	WorkflowName    string        `json:"workflow_name,omitempty"`
	Status          RunStatus     `json:"status"`
	DurationMs      *int64        `json:"duration_ms,omitempty"`
	InitialStateIDs []string      `json:"initial_state_ids,omitempty"`
	Inconsistent    bool          `json:"inconsistent,omitempty"`
}
