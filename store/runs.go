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

// RunParams describes a new workflow run.
type RunParams struct {
	IssueNumber     int
	ExternalTaskRef string
}

// CreateRun inserts a run in the initial stage and returns it.
func (s *Store) CreateRun(ctx context.Context, params RunParams) (*workflow.Run, error) {
	run := &workflow.Run{
		ID:              uuid.New().String(),
		IssueNumber:     params.IssueNumber,
		ExternalTaskRef: params.ExternalTaskRef,
		Status:          workflow.RunStatusInProgress,
		CurrentStage:    workflow.StageTaskRequested,
		CreatedAt:       now(),
		UpdatedAt:       now(),
	}

	data, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	if _, err := s.runs.Create(ctx, run.ID, data); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*workflow.Run, error) {
	run, _, err := s.getRunEntry(ctx, runID)
	return run, err
}

func (s *Store) getRunEntry(ctx context.Context, runID string) (*workflow.Run, uint64, error) {
	entry, err := s.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("get run: %w", err)
	}

	var run workflow.Run
	if err := json.Unmarshal(entry.Value(), &run); err != nil {
		return nil, 0, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, entry.Revision(), nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*workflow.Run, error) {
	keys, err := s.runs.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list run keys: %w", err)
	}

	runs := make([]*workflow.Run, 0, len(keys))
	for _, key := range keys {
		run, _, err := s.getRunEntry(ctx, key)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// SetRunPR records the pull request number resolved for a run.
func (s *Store) SetRunPR(ctx context.Context, runID string, prNumber int) error {
	run, revision, err := s.getRunEntry(ctx, runID)
	if err != nil {
		return err
	}
	run.PRNumber = prNumber
	return s.putRun(ctx, run, revision)
}

// UpdateRunStage validates the stage move against the transition table,
// applies it with compare-and-swap on the run row, and appends exactly one
// StageTransition. A move to the current stage is a no-op. Terminal runs
// reject all moves.
func (s *Store) UpdateRunStage(ctx context.Context, runID string, to workflow.Stage, metadata map[string]string) error {
	run, revision, err := s.getRunEntry(ctx, runID)
	if err != nil {
		return err
	}

	if run.CurrentStage == to {
		return nil
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrRunTerminal, run.Status)
	}
	if !workflow.CanTransition(run.CurrentStage, to) {
		return &workflow.InvalidTransitionError{From: run.CurrentStage, To: to}
	}

	from := run.CurrentStage
	run.CurrentStage = to
	run.TransitionCount++
	if err := s.putRun(ctx, run, revision); err != nil {
		return err
	}

	return s.appendTransition(ctx, run, from, to, metadata)
}

// StoreSpec round-trip validates the YAML against the formal spec schema,
// persists it on the run, and transitions the stage to SpecGenerated in the
// same compare-and-swap write.
func (s *Store) StoreSpec(ctx context.Context, runID, specID, specYAML string) error {
	if _, err := validateSpecYAML(specYAML); err != nil {
		return err
	}

	run, revision, err := s.getRunEntry(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrRunTerminal, run.Status)
	}
	if !workflow.CanTransition(run.CurrentStage, workflow.StageSpecGenerated) {
		return &workflow.InvalidTransitionError{From: run.CurrentStage, To: workflow.StageSpecGenerated}
	}

	from := run.CurrentStage
	run.SpecID = specID
	run.SpecYAML = specYAML
	run.CurrentStage = workflow.StageSpecGenerated
	run.TransitionCount++
	if err := s.putRun(ctx, run, revision); err != nil {
		return err
	}

	return s.appendTransition(ctx, run, from, workflow.StageSpecGenerated, map[string]string{"spec_id": specID})
}

// MarkRunStatus sets a run's terminal status. dead_letter additionally
// validates and records the stage transition into DeadLetter with the
// redacted reason; completed and failed update the run row only.
func (s *Store) MarkRunStatus(ctx context.Context, runID string, status workflow.RunStatus, reason string) error {
	run, revision, err := s.getRunEntry(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrRunTerminal, run.Status)
	}

	if status != workflow.RunStatusDeadLetter {
		run.Status = status
		return s.putRun(ctx, run, revision)
	}

	if !workflow.CanTransition(run.CurrentStage, workflow.StageDeadLetter) {
		return &workflow.InvalidTransitionError{From: run.CurrentStage, To: workflow.StageDeadLetter}
	}

	from := run.CurrentStage
	run.Status = workflow.RunStatusDeadLetter
	run.CurrentStage = workflow.StageDeadLetter
	run.DeadLetterReason = redact.Text(reason)
	run.TransitionCount++
	if err := s.putRun(ctx, run, revision); err != nil {
		return err
	}

	return s.appendTransition(ctx, run, from, workflow.StageDeadLetter, map[string]string{"reason": run.DeadLetterReason})
}

func (s *Store) putRun(ctx context.Context, run *workflow.Run, revision uint64) error {
	run.UpdatedAt = now()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if _, err := s.runs.Update(ctx, run.ID, data, revision); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// appendTransition writes the audit row for a stage change. The key embeds
// the per-run sequence so history lists in order.
func (s *Store) appendTransition(ctx context.Context, run *workflow.Run, from, to workflow.Stage, metadata map[string]string) error {
	transition := workflow.StageTransition{
		ID:             uuid.New().String(),
		WorkflowRunID:  run.ID,
		FromStage:      from,
		ToStage:        to,
		Metadata:       metadata,
		TransitionedAt: now(),
	}

	data, err := json.Marshal(&transition)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	key := fmt.Sprintf("%s.%06d", run.ID, run.TransitionCount)
	if _, err := s.transitions.Create(ctx, key, data); err != nil {
		return fmt.Errorf("store transition: %w", err)
	}
	return nil
}

// ListTransitions returns a run's stage transitions in order.
func (s *Store) ListTransitions(ctx context.Context, runID string) ([]*workflow.StageTransition, error) {
	keys, err := s.transitions.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list transition keys: %w", err)
	}

	var matched []string
	for _, key := range keys {
		if strings.HasPrefix(key, runID+".") {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	transitions := make([]*workflow.StageTransition, 0, len(matched))
	for _, key := range matched {
		entry, err := s.transitions.Get(ctx, key)
		if err != nil {
			continue
		}
		var t workflow.StageTransition
		if err := json.Unmarshal(entry.Value(), &t); err != nil {
			continue
		}
		transitions = append(transitions, &t)
	}
	return transitions, nil
}
