package model

import "fmt"

type StoryStatus string

const (
	StatusPending    StoryStatus = "pending"
	StatusReady      StoryStatus = "ready"
	StatusInProgress StoryStatus = "in_progress"
	StatusInReview   StoryStatus = "in_review"
	StatusDone       StoryStatus = "done"
	StatusFailed     StoryStatus = "failed"
	StatusBlocked    StoryStatus = "blocked"
)

var validStatuses = map[StoryStatus]bool{
	StatusPending:    true,
	StatusReady:      true,
	StatusInProgress: true,
	StatusInReview:   true,
	StatusDone:       true,
	StatusFailed:     true,
	StatusBlocked:    true,
}

// done is the only fully terminal status. failed and blocked are
// terminal-unless-manually-retried: a retry resets them to pending,
// and a blocked story whose dependencies complete becomes ready.
var validStoryTransitions = map[StoryStatus]map[StoryStatus]bool{
	StatusPending: {
		StatusReady:      true,
		StatusInProgress: true,
		StatusBlocked:    true,
		StatusFailed:     true,
	},
	StatusReady: {
		StatusInProgress: true,
		StatusBlocked:    true,
		StatusFailed:     true,
	},
	StatusInProgress: {
		StatusInReview: true,
		StatusDone:     true,
		StatusFailed:   true,
	},
	StatusInReview: {
		StatusDone:       true,
		StatusInProgress: true, // review rework
		StatusFailed:     true,
	},
	StatusFailed: {
		StatusPending: true, // manual retry
	},
	StatusBlocked: {
		StatusPending: true, // manual retry
		StatusReady:   true, // dependencies completed
	},
}

func IsValidStatus(s StoryStatus) bool {
	return validStatuses[s]
}

func IsStoryTerminal(s StoryStatus) bool {
	return s == StatusDone
}

func ValidateStoryTransition(from, to StoryStatus) error {
	if !validStatuses[from] {
		return fmt.Errorf("unknown story status %q", from)
	}
	if !validStatuses[to] {
		return fmt.Errorf("unknown story status %q", to)
	}
	if IsStoryTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	if !validStoryTransitions[from][to] {
		return fmt.Errorf("invalid story transition: %q → %q", from, to)
	}
	return nil
}

// Step record / step result statuses.
const (
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)
