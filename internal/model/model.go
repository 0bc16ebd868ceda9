// Package model defines the data structures for Flowline's task graph,
// pipeline state, and step execution records.
package model

// DefaultEstimatedHours is assumed for tasks that carry no estimate.
const DefaultEstimatedHours = 1.0

// Task is the analyzer's input: one schedulable unit with its dependency edges.
type Task struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	DependsOn      []string `json:"dependsOn,omitempty"`
	EstimatedHours float64  `json:"estimatedHours"`
}

// NewTask builds a task, applying the default estimate when none is given.
func NewTask(id, name string, dependsOn []string, estimatedHours float64) Task {
	if estimatedHours <= 0 {
		estimatedHours = DefaultEstimatedHours
	}
	return Task{
		ID:             id,
		Name:           name,
		DependsOn:      dependsOn,
		EstimatedHours: estimatedHours,
	}
}

// Wave is one layer of mutually independent tasks. Every dependency of a
// task in wave N lies in a wave with a strictly smaller number.
type Wave struct {
	Number   int     `json:"number"`
	Tasks    []Task  `json:"tasks"`
	MaxHours float64 `json:"maxHours"`
}

// CriticalPath is the longest weighted dependency chain through the graph.
type CriticalPath struct {
	TaskIDs    []string `json:"taskIds"`
	TotalHours float64  `json:"totalHours"`
}

// WaveAnalysis is the full result of analyzing a task graph.
// TotalParallelHours is the sum of each wave's MaxHours and is never
// greater than TotalSequentialHours.
type WaveAnalysis struct {
	Waves                []Wave       `json:"waves"`
	CriticalPath         CriticalPath `json:"criticalPath"`
	TotalTasks           int          `json:"totalTasks"`
	TotalSequentialHours float64      `json:"totalSequentialHours"`
	TotalParallelHours   float64      `json:"totalParallelHours"`
}
