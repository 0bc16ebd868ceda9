// Package wave layers a task dependency graph into parallel-executable
// waves and computes the critical path.
package wave

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowline-dev/flowline/internal/model"
)

// CycleError reports that the dependency graph is not a DAG. No partial
// wave list is ever returned alongside it.
type CycleError struct {
	// Remaining holds the ids of tasks that could not be scheduled, i.e.
	// the tasks involved in (or downstream of) a cycle.
	Remaining []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among tasks: %s", strings.Join(e.Remaining, ", "))
}

// Analyze topologically layers tasks into waves and computes the longest
// weighted path. Dependencies referencing tasks outside the given set are
// ignored. Returns a *CycleError if the graph over the given tasks is cyclic.
func Analyze(tasks []model.Task) (*model.WaveAnalysis, error) {
	byID := make(map[string]model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		inDegree[t.ID] = 0
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // dependency outside this task set
			}
			dependents[dep] = append(dependents[dep], t.ID)
			inDegree[t.ID]++
		}
	}

	var queue []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	// Kahn's algorithm, draining the whole ready queue as one wave so that
	// every task's dependencies land in a strictly earlier wave.
	var waves []model.Wave
	var topoOrder []string
	processed := 0
	for len(queue) > 0 {
		snapshot := queue
		queue = nil
		sort.Strings(snapshot)

		wave := model.Wave{Number: len(waves) + 1}
		for _, id := range snapshot {
			task := byID[id]
			wave.Tasks = append(wave.Tasks, task)
			if task.EstimatedHours > wave.MaxHours {
				wave.MaxHours = task.EstimatedHours
			}
			topoOrder = append(topoOrder, id)
			processed++

			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					queue = append(queue, dep)
				}
			}
		}
		waves = append(waves, wave)
	}

	if processed < len(byID) {
		var remaining []string
		for id, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Remaining: remaining}
	}

	analysis := &model.WaveAnalysis{
		Waves:        waves,
		CriticalPath: criticalPath(byID, dependents, topoOrder),
		TotalTasks:   len(byID),
	}
	for _, t := range byID {
		analysis.TotalSequentialHours += t.EstimatedHours
	}
	for _, w := range waves {
		analysis.TotalParallelHours += w.MaxHours
	}
	return analysis, nil
}

// criticalPath runs longest-path dynamic programming over a topological
// order. A predecessor is recorded only on strict improvement, so equal
// paths keep whichever predecessor was found first; that tie-break is
// incidental, not a contract.
func criticalPath(byID map[string]model.Task, dependents map[string][]string, topoOrder []string) model.CriticalPath {
	if len(topoOrder) == 0 {
		return model.CriticalPath{}
	}

	distance := make(map[string]float64, len(topoOrder))
	predecessor := make(map[string]string, len(topoOrder))
	for _, id := range topoOrder {
		reach := distance[id] + byID[id].EstimatedHours
		for _, dep := range dependents[id] {
			if reach > distance[dep] {
				distance[dep] = reach
				predecessor[dep] = id
			}
		}
	}

	end := topoOrder[0]
	best := distance[end] + byID[end].EstimatedHours
	for _, id := range topoOrder[1:] {
		if total := distance[id] + byID[id].EstimatedHours; total > best {
			best = total
			end = id
		}
	}

	var path []string
	for id := end; ; {
		path = append(path, id)
		prev, ok := predecessor[id]
		if !ok {
			break
		}
		id = prev
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	return model.CriticalPath{TaskIDs: path, TotalHours: best}
}
