package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/ralph/formalspec"
	"github.com/c360studio/ralph/redact"
	"github.com/c360studio/ralph/workflow"
)

// CreateTasks bulk-inserts the run's task DAG from the spec's
// work-breakdown. Ordinals record creation order for the scheduler's stable
// tie-break.
func (s *Store) CreateTasks(ctx context.Context, runID string, items []formalspec.WorkItem) ([]*workflow.Task, error) {
	tasks := make([]*workflow.Task, 0, len(items))
	for i, item := range items {
		task := &workflow.Task{
			ID:               uuid.New().String(),
			WorkflowRunID:    runID,
			TaskKey:          item.ID,
			Title:            item.Title,
			OwnerRole:        item.OwnerRole,
			Status:           workflow.TaskStatusQueued,
			DefinitionOfDone: item.DefinitionOfDone,
			DependsOn:        item.DependsOn,
			Ordinal:          i,
			CreatedAt:        now(),
			UpdatedAt:        now(),
		}

		data, err := json.Marshal(task)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", item.ID, err)
		}
		if _, err := s.tasks.Create(ctx, task.ID, data); err != nil {
			return nil, fmt.Errorf("store task %s: %w", item.ID, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (*workflow.Task, error) {
	entry, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}

	var task workflow.Task
	if err := json.Unmarshal(entry.Value(), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// ListTasks returns all tasks for a run in creation order.
func (s *Store) ListTasks(ctx context.Context, runID string) ([]workflow.Task, error) {
	keys, err := s.tasks.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list task keys: %w", err)
	}

	var tasks []workflow.Task
	for _, key := range keys {
		task, err := s.GetTask(ctx, key)
		if err != nil {
			continue
		}
		if task.WorkflowRunID == runID {
			tasks = append(tasks, *task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].Ordinal < tasks[j].Ordinal
	})
	return tasks, nil
}

// ListRunnableTasks returns the run's current frontier: queued or retry
// tasks whose dependencies are all completed, in creation order.
func (s *Store) ListRunnableTasks(ctx context.Context, runID string) ([]workflow.Task, error) {
	tasks, err := s.ListTasks(ctx, runID)
	if err != nil {
		return nil, err
	}
	return workflow.Frontier(tasks), nil
}

// CountPendingTasks counts the run's tasks whose status is not completed.
func (s *Store) CountPendingTasks(ctx context.Context, runID string) (int, error) {
	tasks, err := s.ListTasks(ctx, runID)
	if err != nil {
		return 0, err
	}
	return workflow.Pending(tasks), nil
}

// MarkTaskRunning moves a task to running.
func (s *Store) MarkTaskRunning(ctx context.Context, taskID string) error {
	return s.mutateTask(ctx, taskID, func(t *workflow.Task) {
		t.Status = workflow.TaskStatusRunning
	})
}

// MarkTaskResult records the outcome of one outer attempt: the redacted
// result summary, the next status, and the incremented attempt count.
func (s *Store) MarkTaskResult(ctx context.Context, taskID, result string, nextStatus workflow.TaskStatus) error {
	return s.mutateTask(ctx, taskID, func(t *workflow.Task) {
		t.Status = nextStatus
		t.AttemptCount++
		t.LastResult = redact.Text(result)
	})
}

// MarkTaskBlocked forces a task out of the retry loop without counting an
// attempt. Used by the attempt-ceiling policy.
func (s *Store) MarkTaskBlocked(ctx context.Context, taskID string) error {
	return s.mutateTask(ctx, taskID, func(t *workflow.Task) {
		t.Status = workflow.TaskStatusBlocked
	})
}

func (s *Store) mutateTask(ctx context.Context, taskID string, mutate func(*workflow.Task)) error {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	mutate(task)
	task.UpdatedAt = now()

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if _, err := s.tasks.Put(ctx, taskID, data); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}
