package domain

// RunCreateRequest is the request body for starting a run.
type RunCreateRequest struct {
	RunID           string   `json:"run_id,omitempty"`
	WorkflowID      string   `json:"workflow_id"`
	WorkflowName    string   `json:"workflow_name,omitempty"`
	InitialStateIDs []string `json:"initial_state_ids,omitempty"`
}

// RunCompleteRequest is the request body for finishing a run.
type RunCompleteRequest struct {
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// EventBatchRequest is the ingest request: an ordered batch of events
// for one run.
type EventBatchRequest struct {
	Events []Event `json:"events"`
}
