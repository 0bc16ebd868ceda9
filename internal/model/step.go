package model

import "time"

// StepDefinition describes one step of a workflow. Definitions come from
// the step registry and are immutable once loaded.
type StepDefinition struct {
	ID          string
	AgentID     string
	Model       string
	MaxTurns    int
	TokenBudget int
	Timeout     time.Duration
	Description string
}

// StepContext is the isolated view a step runner receives. It carries only
// the step's own definition fields plus the output paths accumulated from
// prior steps in this run — never the full story history.
type StepContext struct {
	StepID          string
	StoryID         string
	StoryPath       string
	AgentID         string
	Model           string
	TokenBudget     int
	PreviousOutputs []string
}

// StepResult is what a step runner reports back.
type StepResult struct {
	StepID        string
	Status        string
	FilesModified []string
	FilesCreated  []string
	Output        string
	TokensUsed    int
	ModelUsed     string
	StartedAt     string
	CompletedAt   string
	Error         *string
}

func (r *StepResult) IsSuccess() bool {
	return r.Status == StepStatusCompleted && r.Error == nil
}

// Record converts a result into the append-only form checkpointed into
// the pipeline state.
func (r *StepResult) Record(agentID string) StepRecord {
	rec := StepRecord{
		StepID:     r.StepID,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		AgentID:    agentID,
		ModelUsed:  r.ModelUsed,
		TokensUsed: r.TokensUsed,
		Error:      r.Error,
	}
	if r.CompletedAt != "" {
		completed := r.CompletedAt
		rec.CompletedAt = &completed
	}
	return rec
}
