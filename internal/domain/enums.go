// Package domain defines the core domain models for the telemetry engine.
package domain

// RunStatus represents the status of an automation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimeout   RunStatus = "timeout"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusPaused    RunStatus = "paused"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusTimeout, RunStatusCancelled:
		return true
	}
	return false
}

// NodeType identifies what kind of node an event describes.
type NodeType string

const (
	NodeTypeWorkflow   NodeType = "workflow"
	NodeTypeAction     NodeType = "action"
	NodeTypeTransition NodeType = "transition"
)

// NodeStatus represents the execution status of a tree node.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
)

// Terminal reports whether the node status is final.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusFailed
}

// EventType represents the lifecycle event types emitted by a runner.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"

	EventActionStarted   EventType = "action_started"
	EventActionCompleted EventType = "action_completed"
	EventActionFailed    EventType = "action_failed"

	EventTransitionStarted   EventType = "transition_started"
	EventTransitionCompleted EventType = "transition_completed"
	EventTransitionFailed    EventType = "transition_failed"
)

// Known reports whether the event type is one of the nine lifecycle types.
func (t EventType) Known() bool {
	switch t {
	case EventWorkflowStarted, EventWorkflowCompleted, EventWorkflowFailed,
		EventActionStarted, EventActionCompleted, EventActionFailed,
		EventTransitionStarted, EventTransitionCompleted, EventTransitionFailed:
		return true
	}
	return false
}

// Started reports whether the event opens a node's lifecycle.
func (t EventType) Started() bool {
	switch t {
	case EventWorkflowStarted, EventActionStarted, EventTransitionStarted:
		return true
	}
	return false
}

// Completed reports whether the event closes a node with success.
func (t EventType) Completed() bool {
	switch t {
	case EventWorkflowCompleted, EventActionCompleted, EventTransitionCompleted:
		return true
	}
	return false
}

// Failed reports whether the event closes a node with failure.
func (t EventType) Failed() bool {
	switch t {
	case EventWorkflowFailed, EventActionFailed, EventTransitionFailed:
		return true
	}
	return false
}

// Terminal reports whether the event closes a node's lifecycle.
func (t EventType) Terminal() bool {
	return t.Completed() || t.Failed()
}

// GapPriority ranks how urgent an uncovered state or transition is.
type GapPriority string

const (
	GapPriorityCritical GapPriority = "critical"
	GapPriorityHigh     GapPriority = "high"
	GapPriorityMedium   GapPriority = "medium"
	GapPriorityLow      GapPriority = "low"
)

// RejectionReason classifies why an ingested event was not applied.
type RejectionReason string

const (
	RejectTerminalStatusOverwrite RejectionReason = "terminal_status_overwrite"
	RejectParentCycle             RejectionReason = "parent_cycle"
	RejectUnknownEventType        RejectionReason = "unknown_event_type"
	RejectMissingNodeID           RejectionReason = "missing_node_id"
	RejectPolicyBlock             RejectionReason = "policy_block"
	RejectRunNotFound             RejectionReason = "run_not_found"
	RejectRunTerminal             RejectionReason = "run_terminal"
)
