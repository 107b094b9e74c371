package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/c360studio/ralph/classify"
	"github.com/c360studio/ralph/formalspec"
	"github.com/c360studio/ralph/llm"
	"github.com/c360studio/ralph/workflow"
)

const specGeneratorPrompt = `You are a software planning agent. Given a code
task from an issue tracker, produce a formal specification as YAML with
these fields: spec_version (always 1), spec_id, source.github.{repo,issue,
commit_baseline}, objective, acceptance_criteria (list), work_breakdown
(list of {id, title, owner_role, definition_of_done, depends_on}). Optional
fields: non_goals, constraints, design_notes, risk_checks, validation_plan,
stop_conditions. The work_breakdown dependency graph must be acyclic.
Respond with only the YAML document.`

const executorPrompt = `You are a code execution agent. Perform the subtask
described below against the given specification. Respond with only a JSON
object: {"task_id", "status" (completed|blocked|needs_review), "summary",
"files_changed", "commands_ran" ([{"cmd","exit_code"}]), "open_questions",
"handoff_notes"}.`

const reviewerPrompt = `You are a code review agent. Summarize the outcome
of the completed subtasks against the specification: what was built, what
risks remain, what a human reviewer should look at. Respond with plain
prose, no JSON.`

const mergeDeciderPrompt = `You are a merge gatekeeper. Given a
specification, a review summary, and task outcomes, decide whether the pull
request should merge. Respond with only a JSON object: {"decision"
(approve|request_changes|block), "rationale", "blocking_findings"
(list of strings, empty when approving)}.`

// LLMAgents implements all four agent roles on one completion client.
type LLMAgents struct {
	client      llm.Completer
	logger      *slog.Logger
	temperature *float64
}

// Option configures LLMAgents.
type Option func(*LLMAgents)

// WithTemperature sets the sampling temperature on every agent request.
func WithTemperature(t float64) Option {
	return func(a *LLMAgents) { a.temperature = &t }
}

var (
	_ SpecGenerator = (*LLMAgents)(nil)
	_ Executor      = (*LLMAgents)(nil)
	_ Reviewer      = (*LLMAgents)(nil)
	_ MergeDecider  = (*LLMAgents)(nil)
)

// NewLLMAgents wires the agent roles to a completion client.
func NewLLMAgents(client llm.Completer, logger *slog.Logger, opts ...Option) *LLMAgents {
	a := &LLMAgents{client: client, logger: logger.With("component", "agents")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *LLMAgents) request(system, user string) llm.Request {
	return llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: a.temperature,
	}
}

var yamlFencePattern = regexp.MustCompile("(?s)```(?:yaml|yml)?\\s*\\n(.*?)```")

// extractYAML strips a markdown fence when the model wraps its YAML in one.
func extractYAML(content string) string {
	if m := yamlFencePattern.FindStringSubmatch(content); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(content)
}

// GenerateFormalSpec asks the model for a spec and validates it before
// returning. A spec that fails validation is a fatal error; retrying the
// same prompt tends to reproduce the same shape.
func (a *LLMAgents) GenerateFormalSpec(ctx context.Context, sc SpecContext) (*formalspec.Spec, string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s\nCommit baseline: %s\n", sc.Repo, sc.CommitBaseline)
	if sc.Issue != nil {
		fmt.Fprintf(&sb, "Issue #%d: %s\n\n%s\n", sc.Issue.Number, sc.Issue.Title, sc.Issue.Body)
		if len(sc.Issue.Labels) > 0 {
			fmt.Fprintf(&sb, "\nLabels: %s\n", strings.Join(sc.Issue.Labels, ", "))
		}
	}

	resp, err := a.client.Complete(ctx, a.request(specGeneratorPrompt, sb.String()))
	if err != nil {
		return nil, "", fmt.Errorf("generate formal spec: %w", err)
	}

	rawYAML := extractYAML(resp.Content)
	spec, err := formalspec.ParseAndValidate(rawYAML)
	if err != nil {
		return nil, "", classify.Fatal(fmt.Errorf("generated spec invalid: %w", err))
	}

	a.logger.Info("formal spec generated",
		"spec_id", spec.SpecID,
		"work_items", len(spec.WorkBreakdown))
	return spec, rawYAML, nil
}

// ExecuteSubtask runs one work item through the executor agent.
func (a *LLMAgents) ExecuteSubtask(ctx context.Context, tc TaskContext) (*workflow.AgentResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subtask %s: %s (role: %s, attempt %d)\n\nSpecification:\n%s\n",
		tc.Task.TaskKey, tc.Task.Title, tc.Task.OwnerRole, tc.Attempt, tc.SpecYAML)
	if tc.LastError != "" {
		fmt.Fprintf(&sb, "\nPrevious attempt failed with: %s\n", tc.LastError)
	}

	resp, err := a.client.Complete(ctx, a.request(executorPrompt, sb.String()))
	if err != nil {
		return nil, fmt.Errorf("execute subtask %s: %w", tc.Task.TaskKey, err)
	}

	result, err := parseAgentResult(resp.Content)
	if err != nil {
		return nil, classify.Fatal(fmt.Errorf("subtask %s result: %w", tc.Task.TaskKey, err))
	}
	if result.TaskID == "" {
		result.TaskID = tc.Task.ID
	}
	return result, nil
}

func parseAgentResult(content string) (*workflow.AgentResult, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in agent output")
	}
	var result workflow.AgentResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("decode agent result: %w", err)
	}
	switch result.Status {
	case workflow.AttemptStatusCompleted, workflow.AttemptStatusBlocked, workflow.AttemptStatusNeedsReview:
	default:
		return nil, fmt.Errorf("unexpected result status %q", result.Status)
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("agent result missing summary")
	}
	return &result, nil
}

// SummarizeReview produces the review prose for the run.
func (a *LLMAgents) SummarizeReview(ctx context.Context, rc ReviewContext) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s\n\nSpecification:\n%s\n\nTask outcomes:\n", rc.Repo, rc.SpecYAML)
	for _, s := range rc.TaskSummaries {
		fmt.Fprintf(&sb, "- %s\n", s)
	}

	resp, err := a.client.Complete(ctx, a.request(reviewerPrompt, sb.String()))
	if err != nil {
		return "", fmt.Errorf("summarize review: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", classify.Fatal(fmt.Errorf("review summary empty"))
	}
	return summary, nil
}

// GenerateMergeDecision turns the review into a structured verdict.
func (a *LLMAgents) GenerateMergeDecision(ctx context.Context, rc ReviewContext) (*workflow.MergeVerdict, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Repository: %s\n\nSpecification:\n%s\n\nReview summary:\n%s\n", rc.Repo, rc.SpecYAML, rc.ReviewSummary)
	if rc.PR != nil {
		fmt.Fprintf(&sb, "\nPull request #%d: %s\n", rc.PR.Number, rc.PR.Title)
	}

	resp, err := a.client.Complete(ctx, a.request(mergeDeciderPrompt, sb.String()))
	if err != nil {
		return nil, fmt.Errorf("generate merge decision: %w", err)
	}

	verdict, err := parseMergeVerdict(resp.Content)
	if err != nil {
		return nil, classify.Fatal(fmt.Errorf("merge decision: %w", err))
	}
	return verdict, nil
}

func parseMergeVerdict(content string) (*workflow.MergeVerdict, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in decision output")
	}
	var verdict workflow.MergeVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	switch verdict.Decision {
	case workflow.DecisionApprove, workflow.DecisionRequestChanges, workflow.DecisionBlock:
	default:
		return nil, fmt.Errorf("unexpected decision %q", verdict.Decision)
	}
	if verdict.Rationale == "" {
		return nil, fmt.Errorf("verdict missing rationale")
	}
	if verdict.Decision == workflow.DecisionBlock && len(verdict.BlockingFindings) == 0 {
		return nil, fmt.Errorf("block verdict missing findings")
	}
	return &verdict, nil
}
