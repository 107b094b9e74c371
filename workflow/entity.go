// Package workflow holds the domain vocabulary shared by the store and the
// orchestrator: run stages, entity records, and the task frontier
// computation.
package workflow

import (
	"encoding/json"
	"time"
)

// Event records a single inbound webhook delivery. The delivery ID is
// globally unique; a redelivery is observable as a no-op.
type Event struct {
	ID            string          `json:"id"`
	DeliveryID    string          `json:"delivery_id"`
	EventType     string          `json:"event_type"`
	SourceOwner   string          `json:"source_owner"`
	SourceRepo    string          `json:"source_repo"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	WorkflowRunID string          `json:"workflow_run_id,omitempty"`
	Processed     bool            `json:"processed"`
	Error         string          `json:"error,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// Run is one logical execution of the orchestrator, progressing through the
// stage table until a terminal status.
type Run struct {
	ID               string         `json:"id"`
	IssueNumber      int            `json:"issue_number,omitempty"`
	PRNumber         int            `json:"pr_number,omitempty"`
	Status           RunStatus      `json:"status"`
	CurrentStage     Stage          `json:"current_stage"`
	SpecID           string         `json:"spec_id,omitempty"`
	SpecYAML         string         `json:"spec_yaml,omitempty"`
	DeadLetterReason string         `json:"dead_letter_reason,omitempty"`
	ExternalTaskRef  string         `json:"external_task_ref,omitempty"`
	TransitionCount  int            `json:"transition_count"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// TaskStatus is the scheduler-visible state of one DAG task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusRetry     TaskStatus = "retry"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusBlocked   TaskStatus = "blocked"
)

// Task is one unit of the run's dependency graph.
type Task struct {
	ID               string    `json:"id"`
	WorkflowRunID    string    `json:"workflow_run_id"`
	TaskKey          string    `json:"task_key"`
	Title            string    `json:"title"`
	OwnerRole        string    `json:"owner_role"`
	Status           TaskStatus `json:"status"`
	AttemptCount     int       `json:"attempt_count"`
	DefinitionOfDone []string  `json:"definition_of_done,omitempty"`
	DependsOn        []string  `json:"depends_on,omitempty"`
	LastResult       string    `json:"last_result,omitempty"`
	Ordinal          int       `json:"ordinal"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AttemptStatus is the outcome of one outer execution attempt.
type AttemptStatus string

const (
	AttemptStatusCompleted   AttemptStatus = "completed"
	AttemptStatusBlocked     AttemptStatus = "blocked"
	AttemptStatusNeedsReview AttemptStatus = "needs_review"
	AttemptStatusFailed      AttemptStatus = "failed"
)

// AgentAttempt is one execution attempt of a task. Append-only; one row per
// outer attempt, numbered monotonically per task.
type AgentAttempt struct {
	ID            string        `json:"id"`
	TaskID        string        `json:"task_id"`
	AgentRole     string        `json:"agent_role"`
	AttemptNumber int           `json:"attempt_number"`
	Status        AttemptStatus `json:"status"`
	Output        string        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	ErrorCategory string        `json:"error_category,omitempty"`
	BackoffMs     int64         `json:"backoff_delay_ms,omitempty"`
	DurationMs    int64         `json:"duration_ms"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Artifact kinds produced by the run handler.
const (
	ArtifactFormalSpec    = "formal_spec"
	ArtifactAgentResult   = "agent_result"
	ArtifactReviewSummary = "review_summary"
	ArtifactTaskBlocked   = "task_blocked"
	ArtifactUIAction      = "ui_action"
)

// Artifact is a produced blob attached to a run and optionally a task.
// Append-only.
type Artifact struct {
	ID            string            `json:"id"`
	WorkflowRunID string            `json:"workflow_run_id"`
	TaskID        string            `json:"task_id,omitempty"`
	Kind          string            `json:"kind"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Decision values for a merge decision.
const (
	DecisionApprove        = "approve"
	DecisionRequestChanges = "request_changes"
	DecisionBlock          = "block"
)

// MergeDecision records the review agent's verdict for a pull request.
// Append-only.
type MergeDecision struct {
	ID               string    `json:"id"`
	WorkflowRunID    string    `json:"workflow_run_id"`
	PRNumber         int       `json:"pr_number"`
	Decision         string    `json:"decision"`
	Rationale        string    `json:"rationale"`
	BlockingFindings []string  `json:"blocking_findings,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// StageTransition is the audit row emitted on every successful stage change.
// Append-only; exactly one row per change.
type StageTransition struct {
	ID             string            `json:"id"`
	WorkflowRunID  string            `json:"workflow_run_id"`
	FromStage      Stage             `json:"from_stage"`
	ToStage        Stage             `json:"to_stage"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TransitionedAt time.Time         `json:"transitioned_at"`
}

// AgentCommand is one command an executor agent ran, with its exit code.
type AgentCommand struct {
	Cmd      string `json:"cmd"`
	ExitCode int    `json:"exit_code"`
}

// AgentResult is the executor agent's structured output for one task.
type AgentResult struct {
	TaskID        string         `json:"task_id"`
	Status        AttemptStatus  `json:"status"`
	Summary       string         `json:"summary"`
	FilesChanged  []string       `json:"files_changed,omitempty"`
	CommandsRan   []AgentCommand `json:"commands_ran,omitempty"`
	OpenQuestions []string       `json:"open_questions,omitempty"`
	HandoffNotes  string         `json:"handoff_notes,omitempty"`
}

// MergeVerdict is the merge-decision agent's structured output.
type MergeVerdict struct {
	Decision         string   `json:"decision"`
	Rationale        string   `json:"rationale"`
	BlockingFindings []string `json:"blocking_findings,omitempty"`
}
