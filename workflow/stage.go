package workflow

import "fmt"

// Stage is one of the discrete states of a workflow run. Stages progress
// monotonically; DeadLetter is reachable from every non-terminal stage and
// absorbs.
type Stage string

const (
	StageTaskRequested      Stage = "TaskRequested"
	StageSpecGenerated      Stage = "SpecGenerated"
	StageSubtasksDispatched Stage = "SubtasksDispatched"
	StagePRReviewed         Stage = "PRReviewed"
	StageMergeDecision      Stage = "MergeDecision"
	StageDeadLetter         Stage = "DeadLetter"
)

// transitions is the static table consulted on every stage change. No other
// moves are permitted.
var transitions = map[Stage][]Stage{
	StageTaskRequested:      {StageSpecGenerated, StageDeadLetter},
	StageSpecGenerated:      {StageSubtasksDispatched, StageDeadLetter},
	StageSubtasksDispatched: {StagePRReviewed, StageDeadLetter},
	StagePRReviewed:         {StageMergeDecision, StageDeadLetter},
	StageMergeDecision:      {StageDeadLetter},
	StageDeadLetter:         {},
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from → to is a permitted stage change.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a mutation attempts a stage move
// that is not in the table.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition: %s -> %s", e.From, e.To)
}

// RunStatus is the lifecycle status of a workflow run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusDeadLetter RunStatus = "dead_letter"
)

// Terminal reports whether the status absorbs: no further stage or status
// changes are permitted once a run reaches it.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusDeadLetter:
		return true
	default:
		return false
	}
}
