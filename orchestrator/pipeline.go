package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/ralph/agents"
	"github.com/c360studio/ralph/boundary"
	"github.com/c360studio/ralph/classify"
	"github.com/c360studio/ralph/formalspec"
	"github.com/c360studio/ralph/hosting"
	"github.com/c360studio/ralph/redact"
	"github.com/c360studio/ralph/retry"
	"github.com/c360studio/ralph/store"
	"github.com/c360studio/ralph/webhook"
	"github.com/c360studio/ralph/workflow"
)

// runFromSpec carries a run from a validated spec through task execution,
// review, and the merge decision.
func (s *Service) runFromSpec(ctx context.Context, env *webhook.Envelope, run *workflow.Run, meta boundary.Meta, logger *slog.Logger, gen specOutput) error {
	if err := s.store.StoreSpec(ctx, run.ID, gen.spec.SpecID, gen.raw); err != nil {
		return fmt.Errorf("store spec: %w", err)
	}
	if _, err := s.store.AddArtifact(ctx, store.ArtifactParams{
		WorkflowRunID: run.ID,
		Kind:          workflow.ArtifactFormalSpec,
		Content:       gen.raw,
		Metadata:      map[string]string{"spec_id": gen.spec.SpecID},
	}); err != nil {
		return fmt.Errorf("record spec artifact: %w", err)
	}

	if _, err := s.store.CreateTasks(ctx, run.ID, gen.spec.WorkBreakdown); err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}
	if err := s.store.UpdateRunStage(ctx, run.ID, workflow.StageSubtasksDispatched, nil); err != nil {
		return fmt.Errorf("dispatch subtasks: %w", err)
	}
	logger.Info("subtasks dispatched", "spec_id", gen.spec.SpecID, "tasks", len(gen.spec.WorkBreakdown))

	if err := s.executeTasks(ctx, run, meta, logger, gen.raw, gen.spec.Constraints); err != nil {
		return err
	}

	if err := s.store.UpdateRunStage(ctx, run.ID, workflow.StagePRReviewed, nil); err != nil {
		return fmt.Errorf("enter review stage: %w", err)
	}
	summary, err := s.reviewRun(ctx, run, meta, gen.raw)
	if err != nil {
		return err
	}

	pr, checksPassed, verdict, err := s.decideMerge(ctx, run, meta, gen.raw, summary)
	if err != nil {
		return err
	}
	if err := s.applyDecision(ctx, run, meta, pr, checksPassed, verdict); err != nil {
		return err
	}

	if err := s.store.UpdateRunStage(ctx, run.ID, workflow.StageMergeDecision, map[string]string{"decision": verdict.Decision}); err != nil {
		return fmt.Errorf("enter decision stage: %w", err)
	}

	pending, err := s.store.CountPendingTasks(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("count pending tasks: %w", err)
	}
	status := workflow.RunStatusCompleted
	if pending > 0 {
		status = workflow.RunStatusFailed
	}
	if err := s.store.MarkRunStatus(ctx, run.ID, status, ""); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	s.metrics.WorkflowRuns.WithLabelValues(string(status)).Inc()

	if err := s.store.MarkEventProcessed(ctx, env.Source.DeliveryID, nil); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	logger.Info("workflow run finished", "status", status, "pending_tasks", pending, "decision", verdict.Decision)
	return nil
}

// executeTasks drains the runnable frontier until it is empty. A task
// failure re-queues the task and never fails the run; only persistence
// errors surface.
func (s *Service) executeTasks(ctx context.Context, run *workflow.Run, meta boundary.Meta, logger *slog.Logger, specYAML string, constraints *formalspec.Constraints) error {
	for {
		frontier, err := s.store.ListRunnableTasks(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("list runnable tasks: %w", err)
		}
		if len(frontier) == 0 {
			return nil
		}
		for i := range frontier {
			if err := s.runTask(ctx, run, &frontier[i], meta, logger, specYAML, constraints); err != nil {
				return err
			}
		}
	}
}

func (s *Service) runTask(ctx context.Context, run *workflow.Run, task *workflow.Task, meta boundary.Meta, logger *slog.Logger, specYAML string, constraints *formalspec.Constraints) error {
	attemptNumber := task.AttemptCount + 1
	taskMeta := meta
	taskMeta.TaskKey = task.TaskKey

	// Attempt ceiling: a task that spent its outer budget is blocked, not
	// retried forever.
	if task.AttemptCount >= s.cfg.MaxTaskAttempts {
		logger.Warn("task attempt ceiling reached", "task_key", task.TaskKey, "attempts", task.AttemptCount)
		if err := s.store.MarkTaskBlocked(ctx, task.ID); err != nil {
			return fmt.Errorf("block task %s: %w", task.TaskKey, err)
		}
		if _, err := s.store.AddArtifact(ctx, store.ArtifactParams{
			WorkflowRunID: run.ID,
			TaskID:        task.ID,
			Kind:          workflow.ArtifactTaskBlocked,
			Content:       fmt.Sprintf("task %s blocked after %d attempts: %s", task.TaskKey, task.AttemptCount, task.LastResult),
		}); err != nil {
			return fmt.Errorf("record blocked artifact: %w", err)
		}
		return nil
	}

	if err := s.store.MarkTaskRunning(ctx, task.ID); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}

	tc := agents.TaskContext{
		Task:     task,
		SpecYAML: specYAML,
		Attempt:  attemptNumber,
	}
	if attemptNumber > 1 {
		tc.LastError = task.LastResult
	}

	start := time.Now()
	result, _, err := retry.Do(ctx, s.executorRetryConfig(), func(int) (*workflow.AgentResult, error) {
		return boundary.Call(ctx, s.boundary, "execute_subtask", taskMeta, func(ctx context.Context) (*workflow.AgentResult, error) {
			return s.executor.ExecuteSubtask(ctx, tc)
		})
	})
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		return s.recordTaskFailure(ctx, task, attemptNumber, durationMs, err, logger)
	}

	// A result that touches files outside the spec's path constraints is a
	// validation failure, same as any other rejected agent output.
	if err := constraints.CheckPathConstraints(result.FilesChanged); err != nil {
		return s.recordTaskFailure(ctx, task, attemptNumber, durationMs,
			classify.Validation(fmt.Errorf("subtask %s: %w", task.TaskKey, err)), logger)
	}

	if err := s.store.MarkTaskResult(ctx, task.ID, result.Summary, taskStatusFor(result.Status)); err != nil {
		return fmt.Errorf("record task result: %w", err)
	}
	if _, err := s.store.AddAgentAttempt(ctx, store.AttemptParams{
		TaskID:        task.ID,
		AgentRole:     task.OwnerRole,
		AttemptNumber: attemptNumber,
		Status:        result.Status,
		Output:        result.Summary,
		DurationMs:    durationMs,
	}); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	content, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode agent result: %w", err)
	}
	if _, err := s.store.AddArtifact(ctx, store.ArtifactParams{
		WorkflowRunID: run.ID,
		TaskID:        task.ID,
		Kind:          workflow.ArtifactAgentResult,
		Content:       string(content),
	}); err != nil {
		return fmt.Errorf("record result artifact: %w", err)
	}

	logger.Info("task attempt finished",
		"task_key", task.TaskKey,
		"attempt", attemptNumber,
		"status", result.Status)
	return nil
}

// recordTaskFailure registers a spent retry budget as one failed outer
// attempt and re-queues the task for the next frontier pass.
func (s *Service) recordTaskFailure(ctx context.Context, task *workflow.Task, attemptNumber int, durationMs int64, taskErr error, logger *slog.Logger) error {
	var backoffMs int64
	var exhausted *retry.ExhaustedError
	if errors.As(taskErr, &exhausted) {
		backoffMs = exhausted.LastBackoff.Milliseconds()
	}
	category := classify.Classify(taskErr)

	if _, err := s.store.AddAgentAttempt(ctx, store.AttemptParams{
		TaskID:        task.ID,
		AgentRole:     task.OwnerRole,
		AttemptNumber: attemptNumber,
		Status:        workflow.AttemptStatusFailed,
		Err:           taskErr,
		ErrorCategory: string(category.Disposition()),
		BackoffMs:     backoffMs,
		DurationMs:    durationMs,
	}); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if err := s.store.MarkTaskResult(ctx, task.ID, "blocked: "+taskErr.Error(), workflow.TaskStatusRetry); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}

	logger.Warn("task attempt failed",
		"task_key", task.TaskKey,
		"attempt", attemptNumber,
		"category", category,
		"error", redact.Error(taskErr))
	return nil
}

func taskStatusFor(status workflow.AttemptStatus) workflow.TaskStatus {
	switch status {
	case workflow.AttemptStatusBlocked:
		return workflow.TaskStatusBlocked
	default:
		// completed and needs_review both unblock dependents; the review
		// stage surfaces the open questions.
		return workflow.TaskStatusCompleted
	}
}

func (s *Service) reviewRun(ctx context.Context, run *workflow.Run, meta boundary.Meta, specYAML string) (string, error) {
	tasks, err := s.store.ListTasks(ctx, run.ID)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	summaries := make([]string, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, fmt.Sprintf("%s [%s]: %s", t.TaskKey, t.Status, t.LastResult))
	}

	summary, err := boundary.Call(ctx, s.boundary, "summarize_review", meta, func(ctx context.Context) (string, error) {
		return s.reviewer.SummarizeReview(ctx, agents.ReviewContext{
			Repo:          s.repo,
			SpecYAML:      specYAML,
			TaskSummaries: summaries,
		})
	})
	if err != nil {
		return "", fmt.Errorf("summarize review: %w", err)
	}

	if _, err := s.store.AddArtifact(ctx, store.ArtifactParams{
		WorkflowRunID: run.ID,
		Kind:          workflow.ArtifactReviewSummary,
		Content:       summary,
	}); err != nil {
		return "", fmt.Errorf("record review artifact: %w", err)
	}
	return summary, nil
}

func (s *Service) decideMerge(ctx context.Context, run *workflow.Run, meta boundary.Meta, specYAML, summary string) (*hosting.PullRequest, bool, *workflow.MergeVerdict, error) {
	pr, err := boundary.Call(ctx, s.boundary, "find_pull_request", meta, func(ctx context.Context) (*hosting.PullRequest, error) {
		return s.hosting.FindOpenPullRequest(ctx, run.IssueNumber)
	})
	if err != nil {
		return nil, false, nil, fmt.Errorf("find pull request: %w", err)
	}

	checksPassed := false
	if pr != nil {
		if err := s.store.SetRunPR(ctx, run.ID, pr.Number); err != nil {
			return nil, false, nil, fmt.Errorf("record pull request: %w", err)
		}
		checksPassed, err = boundary.Call(ctx, s.boundary, "check_status", meta, func(ctx context.Context) (bool, error) {
			return s.hosting.HasRequiredChecksPassed(ctx, pr.HeadSHA)
		})
		if err != nil {
			return nil, false, nil, fmt.Errorf("check status: %w", err)
		}
	}

	verdict, err := boundary.Call(ctx, s.boundary, "merge_decision", meta, func(ctx context.Context) (*workflow.MergeVerdict, error) {
		return s.decider.GenerateMergeDecision(ctx, agents.ReviewContext{
			Repo:          s.repo,
			SpecYAML:      specYAML,
			PR:            pr,
			ReviewSummary: summary,
		})
	})
	if err != nil {
		return nil, false, nil, fmt.Errorf("generate merge decision: %w", err)
	}

	prNumber := 0
	if pr != nil {
		prNumber = pr.Number
	}
	if _, err := s.store.AddMergeDecision(ctx, store.DecisionParams{
		WorkflowRunID:    run.ID,
		PRNumber:         prNumber,
		Decision:         verdict.Decision,
		Rationale:        verdict.Rationale,
		BlockingFindings: verdict.BlockingFindings,
	}); err != nil {
		return nil, false, nil, fmt.Errorf("record merge decision: %w", err)
	}
	return pr, checksPassed, verdict, nil
}

// applyDecision mutates the pull request (or the issue, when no PR exists)
// per the verdict. Everything posted back to the provider is redacted.
func (s *Service) applyDecision(ctx context.Context, run *workflow.Run, meta boundary.Meta, pr *hosting.PullRequest, checksPassed bool, verdict *workflow.MergeVerdict) error {
	if pr == nil {
		comment := fmt.Sprintf("Ralph finished run %s with decision %q.\n\n%s\n\nOpen a pull request referencing this issue to continue.",
			run.ID, verdict.Decision, redact.Text(verdict.Rationale))
		_, err := boundary.Call(ctx, s.boundary, "add_issue_comment", meta, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.hosting.AddIssueComment(ctx, run.IssueNumber, comment)
		})
		if err != nil {
			return fmt.Errorf("add issue comment: %w", err)
		}
		return s.recordUIAction(ctx, run.ID, "issue_comment", comment)
	}

	switch verdict.Decision {
	case workflow.DecisionApprove:
		if !checksPassed {
			return nil
		}
		_, err := boundary.Call(ctx, s.boundary, "approve_pull_request", meta, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.hosting.ApprovePullRequest(ctx, pr.Number, redact.Text(verdict.Rationale))
		})
		if err != nil {
			return fmt.Errorf("approve pull request: %w", err)
		}
		if err := s.recordUIAction(ctx, run.ID, "approve", fmt.Sprintf("approved pull request #%d", pr.Number)); err != nil {
			return err
		}
		if !s.autoMerge {
			return nil
		}
		_, err = boundary.Call(ctx, s.boundary, "enable_auto_merge", meta, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.hosting.EnableAutoMerge(ctx, pr)
		})
		if err != nil {
			return fmt.Errorf("enable auto-merge: %w", err)
		}
		return s.recordUIAction(ctx, run.ID, "auto_merge", fmt.Sprintf("enabled auto-merge on pull request #%d", pr.Number))
	case workflow.DecisionRequestChanges, workflow.DecisionBlock:
		_, err := boundary.Call(ctx, s.boundary, "request_changes", meta, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.hosting.RequestChanges(ctx, pr.Number,
				redact.Text(verdict.Rationale), redact.Strings(verdict.BlockingFindings))
		})
		if err != nil {
			return fmt.Errorf("request changes: %w", err)
		}
		return s.recordUIAction(ctx, run.ID, "request_changes", fmt.Sprintf("requested changes on pull request #%d", pr.Number))
	}
	return nil
}

// recordUIAction keeps an artifact per provider-facing mutation so the run
// view shows what was posted where.
func (s *Service) recordUIAction(ctx context.Context, runID, action, detail string) error {
	if _, err := s.store.AddArtifact(ctx, store.ArtifactParams{
		WorkflowRunID: runID,
		Kind:          workflow.ArtifactUIAction,
		Content:       detail,
		Metadata:      map[string]string{"action": action},
	}); err != nil {
		return fmt.Errorf("record ui action: %w", err)
	}
	return nil
}
