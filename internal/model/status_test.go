package model

import "testing"

func TestIsStoryTerminal(t *testing.T) {
	tests := []struct {
		status   StoryStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusReady, false},
		{StatusInProgress, false},
		{StatusInReview, false},
		{StatusDone, true},
		{StatusFailed, false},
		{StatusBlocked, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsStoryTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsStoryTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestValidateStoryTransition_HappyPath(t *testing.T) {
	chain := []StoryStatus{
		StatusPending,
		StatusReady,
		StatusInProgress,
		StatusInReview,
		StatusDone,
	}
	for i := 0; i < len(chain)-1; i++ {
		if err := ValidateStoryTransition(chain[i], chain[i+1]); err != nil {
			t.Errorf("transition %q → %q should be valid: %v", chain[i], chain[i+1], err)
		}
	}
}

func TestValidateStoryTransition_Invalid(t *testing.T) {
	tests := []struct {
		from, to StoryStatus
	}{
		{StatusDone, StatusPending},
		{StatusDone, StatusInProgress},
		{StatusPending, StatusDone},
		{StatusReady, StatusInReview},
		{StatusFailed, StatusDone},
	}
	for _, tt := range tests {
		if err := ValidateStoryTransition(tt.from, tt.to); err == nil {
			t.Errorf("transition %q → %q should be invalid", tt.from, tt.to)
		}
	}
}

func TestValidateStoryTransition_ManualRetry(t *testing.T) {
	if err := ValidateStoryTransition(StatusFailed, StatusPending); err != nil {
		t.Errorf("failed → pending retry should be valid: %v", err)
	}
	if err := ValidateStoryTransition(StatusBlocked, StatusReady); err != nil {
		t.Errorf("blocked → ready should be valid: %v", err)
	}
}

func TestValidateStoryTransition_UnknownStatus(t *testing.T) {
	if err := ValidateStoryTransition(StoryStatus("bogus"), StatusReady); err == nil {
		t.Error("unknown from-status should be rejected")
	}
	if err := ValidateStoryTransition(StatusPending, StoryStatus("bogus")); err == nil {
		t.Error("unknown to-status should be rejected")
	}
}
