package model

import "time"

// StateVersion is the persisted state document format version.
const StateVersion = 1

// StepRecord is one checkpointed step outcome. Records are append-only:
// once added to a story's StepsCompleted they are never edited.
type StepRecord struct {
	StepID      string  `json:"stepId"`
	Status      string  `json:"status"`
	StartedAt   string  `json:"startedAt"`
	CompletedAt *string `json:"completedAt"`
	AgentID     string  `json:"agentId"`
	ModelUsed   string  `json:"modelUsed"`
	TokensUsed  int     `json:"tokensUsed"`
	Error       *string `json:"error"`
}

// PipelineStory is one unit of dependency-tracked work. It is owned by the
// pipeline manager and mutated only through its status-update and
// checkpoint operations.
type PipelineStory struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Path           string       `json:"path"`
	Status         StoryStatus  `json:"status"`
	Dependencies   []string     `json:"dependencies"`
	Blocks         []string     `json:"blocks"`
	StepsCompleted []StepRecord `json:"stepsCompleted"`
	CurrentStep    *string      `json:"currentStep"`
	Epic           *string      `json:"epic,omitempty"`
}

// HasCompletedStep reports whether a step id is already checkpointed.
func (s *PipelineStory) HasCompletedStep(stepID string) bool {
	for _, rec := range s.StepsCompleted {
		if rec.StepID == stepID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy detached from the state document the
// original belongs to. Records are append-only, so sharing their
// pointer fields is safe.
func (s *PipelineStory) Clone() *PipelineStory {
	out := *s
	out.Dependencies = append([]string(nil), s.Dependencies...)
	out.Blocks = append([]string(nil), s.Blocks...)
	out.StepsCompleted = append([]StepRecord(nil), s.StepsCompleted...)
	if s.CurrentStep != nil {
		v := *s.CurrentStep
		out.CurrentStep = &v
	}
	if s.Epic != nil {
		v := *s.Epic
		out.Epic = &v
	}
	return &out
}

// PipelineState is the single unit of durable persistence: one JSON
// document shared by all cooperating worker processes.
type PipelineState struct {
	Version    int                       `json:"version"`
	Project    string                    `json:"project"`
	Stories    map[string]*PipelineStory `json:"stories"`
	CreatedAt  string                    `json:"createdAt"`
	UpdatedAt  string                    `json:"updatedAt"`
	LockHolder *string                   `json:"lockHolder"`
}

// Clone returns a deep copy of the whole document.
func (st *PipelineState) Clone() *PipelineState {
	out := *st
	out.Stories = make(map[string]*PipelineStory, len(st.Stories))
	for id, s := range st.Stories {
		out.Stories[id] = s.Clone()
	}
	if st.LockHolder != nil {
		v := *st.LockHolder
		out.LockHolder = &v
	}
	return &out
}

func NewPipelineState(project string) *PipelineState {
	now := time.Now().UTC().Format(time.RFC3339)
	return &PipelineState{
		Version:   StateVersion,
		Project:   project,
		Stories:   make(map[string]*PipelineStory),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
