package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soochol/flowcast/internal/flow"
)

func TestMemoryStateRepository_Workflow(t *testing.T) {
	repo := NewMemoryStateRepository()
	ctx := context.Background()

	_, err := repo.GetWorkflow(ctx, "wf-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}

	wf := &flow.Workflow{ID: "wf-1", Status: flow.StatusRunning}
	if err := repo.SaveWorkflow(ctx, wf); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Mutating the caller's value must not leak into the store.
	wf.Status = flow.StatusFailed

	got, err := repo.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != flow.StatusRunning {
		t.Fatalf("status: got %q, want %q", got.Status, flow.StatusRunning)
	}
}

func TestMemoryStateRepository_TasksKeepCreatedAt(t *testing.T) {
	repo := NewMemoryStateRepository()
	ctx := context.Background()
	base := time.Now()

	repo.SaveTask(ctx, &flow.Task{ID: "t-b", WorkflowID: "wf-1", CreatedAt: base.Add(time.Second)})
	repo.SaveTask(ctx, &flow.Task{ID: "t-a", WorkflowID: "wf-1", CreatedAt: base})
	repo.SaveTask(ctx, &flow.Task{ID: "t-x", WorkflowID: "wf-2", CreatedAt: base})

	// Re-save with a later CreatedAt; the original creation time wins.
	repo.SaveTask(ctx, &flow.Task{ID: "t-a", WorkflowID: "wf-1", Status: flow.StatusCompleted, CreatedAt: base.Add(time.Hour)})

	tasks, err := repo.ListTasks(ctx, "wf-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "t-a" || tasks[1].ID != "t-b" {
		t.Fatalf("order: got %s,%s want t-a,t-b", tasks[0].ID, tasks[1].ID)
	}
	if tasks[0].Status != flow.StatusCompleted {
		t.Fatalf("status: got %q, want completed", tasks[0].Status)
	}
}

func TestMemoryStateRepository_LatestCheckpoint(t *testing.T) {
	repo := NewMemoryStateRepository()
	ctx := context.Background()
	base := time.Now()

	c, err := repo.LatestCheckpoint(ctx, "wf-1")
	if err != nil || c != nil {
		t.Fatalf("empty: got %v, %v; want nil, nil", c, err)
	}

	repo.AddCheckpoint(ctx, &flow.Checkpoint{ID: "cp-1", WorkflowID: "wf-1", Name: "a", CreatedAt: base})
	repo.AddCheckpoint(ctx, &flow.Checkpoint{ID: "cp-2", WorkflowID: "wf-1", Name: "b", CreatedAt: base.Add(time.Second)})
	repo.AddCheckpoint(ctx, &flow.Checkpoint{ID: "cp-3", WorkflowID: "wf-2", Name: "c", CreatedAt: base.Add(time.Hour)})

	c, err = repo.LatestCheckpoint(ctx, "wf-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if c == nil || c.ID != "cp-2" {
		t.Fatalf("latest: got %+v, want cp-2", c)
	}
}

func TestMemoryStateRepository_TaskIDsScopedToWorkflow(t *testing.T) {
	repo := NewMemoryStateRepository()
	ctx := context.Background()

	repo.SaveTask(ctx, &flow.Task{ID: "node-1", WorkflowID: "wf-1", Status: flow.StatusRunning})
	repo.SaveTask(ctx, &flow.Task{ID: "node-1", WorkflowID: "wf-2", Status: flow.StatusCompleted})

	for wf, want := range map[string]flow.Status{"wf-1": flow.StatusRunning, "wf-2": flow.StatusCompleted} {
		tasks, err := repo.ListTasks(ctx, wf)
		if err != nil {
			t.Fatalf("list %s: %v", wf, err)
		}
		if len(tasks) != 1 || tasks[0].Status != want {
			t.Fatalf("%s: got %+v, want one task with status %q", wf, tasks, want)
		}
	}
}
