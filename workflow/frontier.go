package workflow

import "sort"

// Frontier computes the set of tasks eligible to run now: status queued or
// retry, with every dependency satisfied by a completed task. Emission order
// is creation order, which is stable and total (ordinal assigned at bulk
// insert). Cycles are rejected at spec-store time, so the frontier never
// detects them; an unsatisfiable graph simply yields an empty frontier while
// pending work remains, which the run handler terminal-fails.
func Frontier(tasks []Task) []Task {
	completed := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == TaskStatusCompleted {
			completed[t.TaskKey] = true
		}
	}

	ordered := make([]Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Ordinal < ordered[j].Ordinal
	})

	var frontier []Task
	for _, t := range ordered {
		if t.Status != TaskStatusQueued && t.Status != TaskStatusRetry {
			continue
		}
		if depsSatisfied(t, completed) {
			frontier = append(frontier, t)
		}
	}
	return frontier
}

func depsSatisfied(t Task, completed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Pending counts tasks whose status is anything other than completed.
func Pending(tasks []Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status != TaskStatusCompleted {
			n++
		}
	}
	return n
}
