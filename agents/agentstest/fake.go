// Package agentstest provides scriptable agent fakes for orchestrator
// tests.
package agentstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360studio/ralph/agents"
	"github.com/c360studio/ralph/formalspec"
	"github.com/c360studio/ralph/workflow"
)

// Fake implements every agent role. Zero value succeeds with minimal
// outputs; set the Err or per-role hook fields to script behavior.
type Fake struct {
	mu sync.Mutex

	SpecYAML   string
	Verdict    *workflow.MergeVerdict
	ReviewText string

	SpecErr     error
	ExecuteErr  error
	ReviewErr   error
	DecisionErr error

	// ExecuteFn, when set, overrides the default per-task result.
	ExecuteFn func(tc agents.TaskContext) (*workflow.AgentResult, error)

	Executed []string
}

var (
	_ agents.SpecGenerator = (*Fake)(nil)
	_ agents.Executor      = (*Fake)(nil)
	_ agents.Reviewer      = (*Fake)(nil)
	_ agents.MergeDecider  = (*Fake)(nil)
)

// DefaultSpecYAML is a minimal valid two-task spec.
const DefaultSpecYAML = `spec_version: 1
spec_id: spec-fake
source:
  github:
    repo: c360studio/ralph
    issue: 1
    commit_baseline: abc
objective: Fake objective
acceptance_criteria: [works]
work_breakdown:
  - id: wb-1
    title: First
    owner_role: developer
    definition_of_done: [done]
  - id: wb-2
    title: Second
    owner_role: developer
    definition_of_done: [done]
    depends_on: [wb-1]
`

func (f *Fake) GenerateFormalSpec(_ context.Context, _ agents.SpecContext) (*formalspec.Spec, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SpecErr != nil {
		return nil, "", f.SpecErr
	}
	raw := f.SpecYAML
	if raw == "" {
		raw = DefaultSpecYAML
	}
	spec, err := formalspec.ParseAndValidate(raw)
	if err != nil {
		return nil, "", err
	}
	return spec, raw, nil
}

func (f *Fake) ExecuteSubtask(_ context.Context, tc agents.TaskContext) (*workflow.AgentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Executed = append(f.Executed, tc.Task.TaskKey)
	if f.ExecuteFn != nil {
		return f.ExecuteFn(tc)
	}
	if f.ExecuteErr != nil {
		return nil, f.ExecuteErr
	}
	return &workflow.AgentResult{
		TaskID:  tc.Task.ID,
		Status:  workflow.AttemptStatusCompleted,
		Summary: fmt.Sprintf("%s done", tc.Task.TaskKey),
	}, nil
}

func (f *Fake) SummarizeReview(_ context.Context, _ agents.ReviewContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReviewErr != nil {
		return "", f.ReviewErr
	}
	if f.ReviewText != "" {
		return f.ReviewText, nil
	}
	return "all tasks completed", nil
}

func (f *Fake) GenerateMergeDecision(_ context.Context, _ agents.ReviewContext) (*workflow.MergeVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DecisionErr != nil {
		return nil, f.DecisionErr
	}
	if f.Verdict != nil {
		return f.Verdict, nil
	}
	return &workflow.MergeVerdict{Decision: workflow.DecisionApprove, Rationale: "meets spec"}, nil
}
