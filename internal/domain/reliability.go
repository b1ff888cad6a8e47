package domain

import "time"

// ReliabilitySample is one observed transition execution. DurationMs is
// nil when the duration was never observed; such samples still count
// toward success rates but are excluded from duration percentiles.
type ReliabilitySample struct {
	TransitionID string    `json:"transition_id"`
	WorkflowID   string    `json:"workflow_id,omitempty"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	Success      bool      `json:"success"`
	ErrorType    string    `json:"error_type,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// FailureMode is one error-type bucket in a reliability breakdown.
type FailureMode struct {
	ErrorType string `json:"error_type"`
	Count     int    `json:"count"`
}

// ReliabilityStats aggregates a transition's samples over the retained
// window. Percentiles are exact over the retained samples: durations are
// sorted, median is the middle element (average of the two middles on an
// even count) and p95 is the element at ceil(0.95*n)-1, 0-indexed.
type ReliabilityStats struct {
	TransitionID string `json:"transition_id,omitempty"`
	WorkflowID   string `json:"workflow_id,omitempty"`

	TotalExecutions      int `json:"total_executions"`
	SuccessfulExecutions int `json:"successful_executions"`
	FailedExecutions     int `json:"failed_executions"`

	// SuccessRate is a percentage in [0,100].
	SuccessRate float64 `json:"success_rate"`

	AvgDurationMs    int64 `json:"avg_duration_ms"`
	MedianDurationMs int64 `json:"median_duration_ms"`
	P95DurationMs    int64 `json:"p95_duration_ms"`

	FailureModes []FailureMode `json:"failure_modes"`
}
