package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ralph/redact"
	"github.com/c360studio/ralph/workflow"
)

// AttemptParams describes one outer execution attempt of a task.
type AttemptParams struct {
	TaskID        string
	AgentRole     string
	AttemptNumber int
	Status        workflow.AttemptStatus
	Output        string
	Err           error
	ErrorCategory string
	BackoffMs     int64
	DurationMs    int64
}

// AddAgentAttempt appends an attempt row. Output and error are redacted at
// write. Keys embed the attempt number so per-task history lists in order.
func (s *Store) AddAgentAttempt(ctx context.Context, params AttemptParams) (*workflow.AgentAttempt, error) {
	attempt := &workflow.AgentAttempt{
		ID:            uuid.New().String(),
		TaskID:        params.TaskID,
		AgentRole:     params.AgentRole,
		AttemptNumber: params.AttemptNumber,
		Status:        params.Status,
		Output:        redact.Text(params.Output),
		Error:         redact.Error(params.Err),
		ErrorCategory: params.ErrorCategory,
		BackoffMs:     params.BackoffMs,
		DurationMs:    params.DurationMs,
		CreatedAt:     now(),
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return nil, fmt.Errorf("marshal attempt: %w", err)
	}

	key := fmt.Sprintf("%s.%06d", params.TaskID, params.AttemptNumber)
	if _, err := s.attempts.Create(ctx, key, data); err != nil {
		return nil, fmt.Errorf("store attempt: %w", err)
	}
	return attempt, nil
}

// ListAttempts returns a task's attempts in attempt order.
func (s *Store) ListAttempts(ctx context.Context, taskID string) ([]*workflow.AgentAttempt, error) {
	keys, err := s.attempts.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list attempt keys: %w", err)
	}

	var matched []string
	for _, key := range keys {
		if strings.HasPrefix(key, taskID+".") {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	attempts := make([]*workflow.AgentAttempt, 0, len(matched))
	for _, key := range matched {
		entry, err := s.attempts.Get(ctx, key)
		if err != nil {
			continue
		}
		var attempt workflow.AgentAttempt
		if err := json.Unmarshal(entry.Value(), &attempt); err != nil {
			continue
		}
		attempts = append(attempts, &attempt)
	}
	return attempts, nil
}

// ArtifactParams describes a produced blob.
type ArtifactParams struct {
	WorkflowRunID string
	TaskID        string
	Kind          string
	Content       string
	Metadata      map[string]string
}

// AddArtifact appends an artifact row, redacting content and metadata.
func (s *Store) AddArtifact(ctx context.Context, params ArtifactParams) (*workflow.Artifact, error) {
	var metadata map[string]string
	if params.Metadata != nil {
		metadata = redact.Structured(params.Metadata).(map[string]string)
	}

	artifact := &workflow.Artifact{
		ID:            uuid.New().String(),
		WorkflowRunID: params.WorkflowRunID,
		TaskID:        params.TaskID,
		Kind:          params.Kind,
		Content:       redact.Text(params.Content),
		Metadata:      metadata,
		CreatedAt:     now(),
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	if _, err := s.artifacts.Create(ctx, artifact.ID, data); err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	return artifact, nil
}

// ListArtifacts returns a run's artifacts, oldest first.
func (s *Store) ListArtifacts(ctx context.Context, runID string) ([]*workflow.Artifact, error) {
	keys, err := s.artifacts.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list artifact keys: %w", err)
	}

	var artifacts []*workflow.Artifact
	for _, key := range keys {
		entry, err := s.artifacts.Get(ctx, key)
		if err != nil {
			continue
		}
		var artifact workflow.Artifact
		if err := json.Unmarshal(entry.Value(), &artifact); err != nil {
			continue
		}
		if artifact.WorkflowRunID == runID {
			artifacts = append(artifacts, &artifact)
		}
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// DecisionParams describes a merge decision for a run's pull request.
type DecisionParams struct {
	WorkflowRunID    string
	PRNumber         int
	Decision         string
	Rationale        string
	BlockingFindings []string
}

// AddMergeDecision appends a merge decision row with redacted rationale and
// findings.
func (s *Store) AddMergeDecision(ctx context.Context, params DecisionParams) (*workflow.MergeDecision, error) {
	decision := &workflow.MergeDecision{
		ID:               uuid.New().String(),
		WorkflowRunID:    params.WorkflowRunID,
		PRNumber:         params.PRNumber,
		Decision:         params.Decision,
		Rationale:        redact.Text(params.Rationale),
		BlockingFindings: redact.Strings(params.BlockingFindings),
		CreatedAt:        now(),
	}

	data, err := json.Marshal(decision)
	if err != nil {
		return nil, fmt.Errorf("marshal decision: %w", err)
	}
	if _, err := s.decisions.Create(ctx, decision.ID, data); err != nil {
		return nil, fmt.Errorf("store decision: %w", err)
	}
	return decision, nil
}

// ListMergeDecisions returns a run's merge decisions, oldest first.
func (s *Store) ListMergeDecisions(ctx context.Context, runID string) ([]*workflow.MergeDecision, error) {
	keys, err := s.decisions.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list decision keys: %w", err)
	}

	var decisions []*workflow.MergeDecision
	for _, key := range keys {
		entry, err := s.decisions.Get(ctx, key)
		if err != nil {
			continue
		}
		var decision workflow.MergeDecision
		if err := json.Unmarshal(entry.Value(), &decision); err != nil {
			continue
		}
		if decision.WorkflowRunID == runID {
			decisions = append(decisions, &decision)
		}
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
	return decisions, nil
}
