package model

import (
	"strings"
	"testing"
)

func TestNewTask_DefaultEstimate(t *testing.T) {
	task := NewTask("t1", "first", nil, 0)
	if task.EstimatedHours != DefaultEstimatedHours {
		t.Errorf("EstimatedHours = %v, want %v", task.EstimatedHours, DefaultEstimatedHours)
	}

	task = NewTask("t2", "second", []string{"t1"}, 2.5)
	if task.EstimatedHours != 2.5 {
		t.Errorf("EstimatedHours = %v, want 2.5", task.EstimatedHours)
	}
}

func TestNewPipelineState(t *testing.T) {
	state := NewPipelineState("demo")

	if state.Version != StateVersion {
		t.Errorf("Version = %d, want %d", state.Version, StateVersion)
	}
	if state.Project != "demo" {
		t.Errorf("Project = %q, want %q", state.Project, "demo")
	}
	if state.Stories == nil {
		t.Error("Stories map should be initialized")
	}
	if state.CreatedAt == "" || state.UpdatedAt == "" {
		t.Error("timestamps should be set")
	}
}

func TestHasCompletedStep(t *testing.T) {
	story := &PipelineStory{
		ID: "s1",
		StepsCompleted: []StepRecord{
			{StepID: "step-0", Status: StepStatusCompleted},
		},
	}

	if !story.HasCompletedStep("step-0") {
		t.Error("step-0 should be recorded")
	}
	if story.HasCompletedStep("step-1") {
		t.Error("step-1 should not be recorded")
	}
}

func TestStepResult_IsSuccess(t *testing.T) {
	errMsg := "boom"
	tests := []struct {
		name    string
		result  StepResult
		success bool
	}{
		{"completed", StepResult{Status: StepStatusCompleted}, true},
		{"completed with error", StepResult{Status: StepStatusCompleted, Error: &errMsg}, false},
		{"failed", StepResult{Status: StepStatusFailed}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.IsSuccess(); got != tt.success {
				t.Errorf("IsSuccess = %v, want %v", got, tt.success)
			}
		})
	}
}

func TestStepResult_Record(t *testing.T) {
	res := StepResult{
		StepID:      "step-1",
		Status:      StepStatusCompleted,
		ModelUsed:   "sonnet",
		TokensUsed:  1234,
		StartedAt:   "2026-01-02T10:00:00Z",
		CompletedAt: "2026-01-02T10:05:00Z",
	}
	rec := res.Record("builder")

	if rec.StepID != "step-1" || rec.AgentID != "builder" {
		t.Errorf("unexpected record identity: %+v", rec)
	}
	if rec.CompletedAt == nil || *rec.CompletedAt != "2026-01-02T10:05:00Z" {
		t.Errorf("CompletedAt not carried over: %+v", rec.CompletedAt)
	}
	if rec.TokensUsed != 1234 {
		t.Errorf("TokensUsed = %d, want 1234", rec.TokensUsed)
	}
}

func TestGenerateHolderID(t *testing.T) {
	a := GenerateHolderID()
	b := GenerateHolderID()

	if !strings.HasPrefix(a, "worker_") {
		t.Errorf("holder id %q missing worker_ prefix", a)
	}
	if a == b {
		t.Errorf("holder ids should be unique, both %q", a)
	}
}
