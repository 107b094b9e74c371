// Package agents maps the completion client onto the four opaque roles the
// orchestrator invokes: spec generation, subtask execution, review
// summarization, and merge decision. Each implementation owns its role
// prompt and parses model output strictly.
package agents

import (
	"context"

	"github.com/c360studio/ralph/formalspec"
	"github.com/c360studio/ralph/hosting"
	"github.com/c360studio/ralph/workflow"
)

// SpecContext is everything the spec generator sees about a task request.
type SpecContext struct {
	Repo           string
	Issue          *hosting.IssueContext
	CommitBaseline string
}

// TaskContext is one unit of work handed to the executor agent.
type TaskContext struct {
	Task     *workflow.Task
	SpecYAML string
	// Attempt is the outer attempt number, starting at 1. Later attempts
	// include the previous failure so the agent can change course.
	Attempt   int
	LastError string
}

// ReviewContext is what the review and merge-decision agents see.
type ReviewContext struct {
	Repo          string
	SpecYAML      string
	PR            *hosting.PullRequest
	TaskSummaries []string
	ReviewSummary string
}

// SpecGenerator produces a formal spec from the issue context.
type SpecGenerator interface {
	GenerateFormalSpec(ctx context.Context, sc SpecContext) (*formalspec.Spec, string, error)
}

// Executor performs one subtask and reports a structured result.
type Executor interface {
	ExecuteSubtask(ctx context.Context, tc TaskContext) (*workflow.AgentResult, error)
}

// Reviewer condenses the run's outputs into review prose.
type Reviewer interface {
	SummarizeReview(ctx context.Context, rc ReviewContext) (string, error)
}

// MergeDecider turns the review into an approve/request_changes/block
// verdict.
type MergeDecider interface {
	GenerateMergeDecision(ctx context.Context, rc ReviewContext) (*workflow.MergeVerdict, error)
}
