package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/soochol/flowcast/internal/flow"
	memstore "github.com/soochol/flowcast/internal/repository/memory"
)

var _ StateRepository = (*MemoryStateRepository)(nil)

// MemoryStateRepository is a thread-safe in-memory StateRepository. Values
// are copied on the way in and out so callers never share a record.
type MemoryStateRepository struct {
	workflows   *memstore.Store[*flow.Workflow]
	tasks       *memstore.Store[*flow.Task]
	checkpoints *memstore.Store[*flow.Checkpoint]
}

// NewMemoryStateRepository creates an empty in-memory repository.
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{
		workflows:   memstore.New(func(w *flow.Workflow) string { return w.ID }),
		tasks:       memstore.New(func(t *flow.Task) string { return taskKey(t.WorkflowID, t.ID) }),
		checkpoints: memstore.New(func(c *flow.Checkpoint) string { return c.ID }),
	}
}

func (r *MemoryStateRepository) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	wf, err := r.workflows.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	cp := *wf
	return &cp, nil
}

func (r *MemoryStateRepository) ListTasks(ctx context.Context, workflowID string) ([]*flow.Task, error) {
	found := r.tasks.Filter(ctx, func(t *flow.Task) bool { return t.WorkflowID == workflowID })

	out := make([]*flow.Task, 0, len(found))
	for _, t := range found {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryStateRepository) LatestCheckpoint(ctx context.Context, workflowID string) (*flow.Checkpoint, error) {
	found := r.checkpoints.Filter(ctx, func(c *flow.Checkpoint) bool { return c.WorkflowID == workflowID })

	var latest *flow.Checkpoint
	for _, c := range found {
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) ||
			(c.CreatedAt.Equal(latest.CreatedAt) && c.ID > latest.ID) {
			latest = c
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	cp.Data = maps.Clone(latest.Data)
	return &cp, nil
}

func (r *MemoryStateRepository) SaveWorkflow(ctx context.Context, wf *flow.Workflow) error {
	cp := *wf
	return r.workflows.Set(ctx, &cp)
}

func (r *MemoryStateRepository) SaveTask(ctx context.Context, t *flow.Task) error {
	next := cloneTask(t)
	r.tasks.Upsert(ctx, taskKey(t.WorkflowID, t.ID), func(cur *flow.Task, ok bool) *flow.Task {
		if ok {
			next.CreatedAt = cur.CreatedAt
		}
		return next
	})
	return nil
}

func (r *MemoryStateRepository) AddCheckpoint(ctx context.Context, c *flow.Checkpoint) error {
	cp := *c
	cp.Data = maps.Clone(c.Data)
	return r.checkpoints.Set(ctx, &cp)
}

// taskKey scopes a task id to its workflow; node ids repeat across workflows.
func taskKey(workflowID, taskID string) string { return workflowID + "/" + taskID }

func cloneTask(t *flow.Task) *flow.Task {
	cp := *t
	cp.Input = maps.Clone(t.Input)
	cp.Output = maps.Clone(t.Output)
	return &cp
}
