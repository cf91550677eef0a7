package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soochol/flowcast/internal/flow"
	"github.com/soochol/flowcast/internal/live"
	"github.com/soochol/flowcast/internal/repository"
)

// ErrInvalidInput is returned for writes that fail validation.
var ErrInvalidInput = errors.New("invalid input")

// Broadcaster is the fan-out side of the live hub.
type Broadcaster interface {
	Broadcast(ev live.Event) int
}

// StateService is the write path for workflow state. Every successful write
// is pushed to live listeners immediately; the per-connection pollers pick up
// writes made by other processes.
type StateService struct {
	repo repository.StateRepository
	bus  Broadcaster
	now  func() time.Time
}

// NewStateService creates a StateService. bus may be nil.
func NewStateService(repo repository.StateRepository, bus Broadcaster) *StateService {
	return &StateService{repo: repo, bus: bus, now: time.Now}
}

// WorkflowUpdate is a status change for one workflow.
type WorkflowUpdate struct {
	Name   string
	Status flow.Status
	Usage  *flow.Usage
}

// UpdateWorkflowStatus records a new status (and optionally usage) for a
// workflow, creating the record if it does not exist yet.
func (s *StateService) UpdateWorkflowStatus(ctx context.Context, id string, u WorkflowUpdate) (*flow.Workflow, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: workflow id is required", ErrInvalidInput)
	}
	if !u.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, u.Status)
	}

	now := s.now().UTC()
	wf, err := s.repo.GetWorkflow(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		wf = &flow.Workflow{ID: id, CreatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	if u.Name != "" {
		wf.Name = u.Name
	}
	wf.Status = u.Status
	if u.Usage != nil {
		wf.Usage = *u.Usage
	}
	wf.UpdatedAt = now

	if err := s.repo.SaveWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("save workflow: %w", err)
	}
	s.broadcast(live.Event{
		Type:       flow.EventWorkflowStatus,
		WorkflowID: id,
		Data:       flow.WorkflowStatusPayload(wf),
	})
	return wf, nil
}

// TaskUpdate carries the mutable fields of a task.
type TaskUpdate struct {
	Name   string
	Status flow.Status
	Input  map[string]any
	Output map[string]any
	Error  string
}

// UpsertTask creates or updates a task of a workflow. Fields left empty in
// the update keep their stored value, except Error which is replaced.
func (s *StateService) UpsertTask(ctx context.Context, workflowID, taskID string, u TaskUpdate) (*flow.Task, error) {
	if workflowID == "" || taskID == "" {
		return nil, fmt.Errorf("%w: workflow id and task id are required", ErrInvalidInput)
	}
	if !u.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, u.Status)
	}

	tasks, err := s.repo.ListTasks(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	now := s.now().UTC()
	task := &flow.Task{ID: taskID, WorkflowID: workflowID, CreatedAt: now}
	for _, t := range tasks {
		if t.ID == taskID {
			task = t
			break
		}
	}

	if u.Name != "" {
		task.Name = u.Name
	}
	if u.Input != nil {
		task.Input = u.Input
	}
	if u.Output != nil {
		task.Output = u.Output
	}
	task.Status = u.Status
	task.Error = u.Error
	task.UpdatedAt = now

	if err := s.repo.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("save task: %w", err)
	}
	s.broadcast(live.Event{
		Type:       flow.EventNodeUpdate,
		WorkflowID: workflowID,
		Data:       flow.TaskPayload(task),
	})
	return task, nil
}

// AddCheckpoint records a named checkpoint for a workflow.
func (s *StateService) AddCheckpoint(ctx context.Context, workflowID, name string, data map[string]any) (*flow.Checkpoint, error) {
	if workflowID == "" || name == "" {
		return nil, fmt.Errorf("%w: workflow id and name are required", ErrInvalidInput)
	}

	cp := &flow.Checkpoint{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Name:       name,
		Data:       data,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AddCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("add checkpoint: %w", err)
	}
	s.broadcast(live.Event{
		Type:       flow.EventCheckpoint,
		WorkflowID: workflowID,
		Data:       flow.CheckpointPayload(cp),
	})
	return cp, nil
}

func (s *StateService) broadcast(ev live.Event) {
	if s.bus != nil {
		s.bus.Broadcast(ev)
	}
}
