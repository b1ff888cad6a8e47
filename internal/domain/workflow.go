package domain

// StateDef is one declared state of a workflow's state machine.
type StateDef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// TransitionDef is one declared transition of a workflow's state machine.
type TransitionDef struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	FromState string `json:"from_state,omitempty" yaml:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty" yaml:"to_state,omitempty"`
}

// WorkflowDefinition declares a workflow's full state and transition id
// sets. Coverage totals come from here, never from observed events.
type WorkflowDefinition struct {
	WorkflowID  string          `json:"workflow_id" yaml:"workflow_id"`
	Name        string          `json:"name,omitempty" yaml:"name,omitempty"`
	States      []StateDef      `json:"states" yaml:"states"`
	Transitions []TransitionDef `json:"transitions" yaml:"transitions"`
}

// StateIDs returns the declared state id set.
func (w *WorkflowDefinition) StateIDs() []string {
	ids := make([]string, 0, len(w.States))
	for _, s := range w.States {
		ids = append(ids, s.ID)
	}
	return ids
}

// TransitionIDs returns the declared transition id set.
func (w *WorkflowDefinition) TransitionIDs() []string {
	ids := make([]string, 0, len(w.Transitions))
	for _, t := range w.Transitions {
		ids = append(ids, t.ID)
	}
	return ids
}
