// Package policy gates batch ingestion through an OPA policy: event
// batches that violate the admission rules are rejected before they
// reach the ordering buffer.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA admission policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.ingest_policy.decision"),
		rego.Module("ingest_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the admission policy for one batch.
// Input keys: run_id, batch_size, event_types.
// Returns: decision (allow, block), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default decision.
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, "", nil
	}
	return "allow", "unexpected return type", nil
}

// DefaultPolicy admits the nine known lifecycle event types and caps the
// batch size.
const DefaultPolicy = `
package ingest_policy

default decision = "allow"

known_types = {
	"workflow_started", "workflow_completed", "workflow_failed",
	"action_started", "action_completed", "action_failed",
	"transition_started", "transition_completed", "transition_failed",
}

decision = "block" {
	t := input.event_types[_]
	not known_types[t]
}

decision = "block" {
	input.batch_size > 1000
}
`
