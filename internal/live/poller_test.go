package live

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soochol/flowcast/internal/flow"
	"github.com/soochol/flowcast/internal/metrics"
	"github.com/soochol/flowcast/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type collector struct{ events []Event }

func (c *collector) emit(ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) types() []string {
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func (c *collector) reset() { c.events = nil }

func seedWorkflow(t *testing.T, repo *repository.MemoryStateRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.SaveWorkflow(ctx, &flow.Workflow{ID: "wf-1", Name: "nightly", Status: flow.StatusRunning, CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, repo.SaveTask(ctx, &flow.Task{ID: "t1", WorkflowID: "wf-1", Name: "fetch", Status: flow.StatusCompleted, CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, repo.SaveTask(ctx, &flow.Task{ID: "t2", WorkflowID: "wf-1", Name: "transform", Status: flow.StatusRunning, CreatedAt: t0.Add(time.Second), UpdatedAt: t0.Add(time.Second)}))
}

func TestPoller_InitialSyncThenQuiet(t *testing.T) {
	repo := repository.NewMemoryStateRepository()
	seedWorkflow(t, repo)
	p := NewPoller(repo, 0, 0, nil)
	snap := newSnapshot()
	var c collector
	ctx := context.Background()

	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	assert.Equal(t, []string{flow.EventWorkflowStatus, flow.EventNodeUpdate, flow.EventNodeUpdate}, c.types())
	assert.Equal(t, "t1", c.events[1].Data["taskId"])
	assert.Equal(t, "t2", c.events[2].Data["taskId"])

	c.reset()
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	assert.Empty(t, c.events)
}

func TestPoller_DetectsChanges(t *testing.T) {
	repo := repository.NewMemoryStateRepository()
	seedWorkflow(t, repo)
	p := NewPoller(repo, 0, 0, nil)
	snap := newSnapshot()
	var c collector
	ctx := context.Background()
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	c.reset()

	require.NoError(t, repo.SaveTask(ctx, &flow.Task{ID: "t2", WorkflowID: "wf-1", Name: "transform", Status: flow.StatusCompleted, CreatedAt: t0, UpdatedAt: t0.Add(5 * time.Second)}))
	require.NoError(t, repo.AddCheckpoint(ctx, &flow.Checkpoint{ID: "c1", WorkflowID: "wf-1", Name: "after-transform", CreatedAt: t0.Add(6 * time.Second)}))
	require.NoError(t, repo.SaveWorkflow(ctx, &flow.Workflow{ID: "wf-1", Name: "nightly", Status: flow.StatusCompleted, CreatedAt: t0, UpdatedAt: t0.Add(7 * time.Second)}))

	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	require.Equal(t, []string{flow.EventWorkflowStatus, flow.EventNodeUpdate, flow.EventCheckpoint}, c.types())
	assert.Equal(t, "completed", c.events[0].Data["status"])
	assert.Equal(t, "t2", c.events[1].Data["taskId"])
	assert.Equal(t, "after-transform", c.events[2].Data["name"])

	c.reset()
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	assert.Empty(t, c.events)
}

func TestPoller_SameStatusNewTimestamp(t *testing.T) {
	repo := repository.NewMemoryStateRepository()
	seedWorkflow(t, repo)
	p := NewPoller(repo, 0, 0, nil)
	snap := newSnapshot()
	var c collector
	ctx := context.Background()
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	c.reset()

	require.NoError(t, repo.SaveTask(ctx, &flow.Task{ID: "t2", WorkflowID: "wf-1", Status: flow.StatusRunning, UpdatedAt: t0.Add(time.Minute)}))
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	assert.Equal(t, []string{flow.EventNodeUpdate}, c.types())
}

func TestPoller_UnknownWorkflowEmitsNothing(t *testing.T) {
	p := NewPoller(repository.NewMemoryStateRepository(), 0, 0, nil)
	var c collector
	require.NoError(t, p.cycle(context.Background(), "missing", newSnapshot(), c.emit))
	assert.Empty(t, c.events)
}

type failingReader struct{ *repository.MemoryStateRepository }

func (failingReader) ListTasks(context.Context, string) ([]*flow.Task, error) {
	return nil, errors.New("connection reset")
}

func TestPoller_ReadErrorEndsCycle(t *testing.T) {
	p := NewPoller(failingReader{repository.NewMemoryStateRepository()}, 0, 0, nil)
	var c collector
	err := p.cycle(context.Background(), "wf-1", newSnapshot(), c.emit)
	assert.ErrorContains(t, err, "read tasks")
	assert.Empty(t, c.events)
}

func TestPoller_EmitErrorKeepsSnapshot(t *testing.T) {
	repo := repository.NewMemoryStateRepository()
	seedWorkflow(t, repo)
	p := NewPoller(repo, 0, 0, nil)
	snap := newSnapshot()

	err := p.cycle(context.Background(), "wf-1", snap, func(Event) error { return ErrConnClosed })
	assert.ErrorIs(t, err, ErrConnClosed)
	assert.Empty(t, snap.status)

	var c collector
	require.NoError(t, p.cycle(context.Background(), "wf-1", snap, c.emit))
	assert.Len(t, c.events, 3)
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	repo := repository.NewMemoryStateRepository()
	seedWorkflow(t, repo)
	p := NewPoller(repo, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, 16)
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, "wf-1", func(ev Event) error {
			events <- ev
			return nil
		})
	}()

	first := <-events
	assert.Equal(t, flow.EventWorkflowStatus, first.Type)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

// fixedTasksReader serves a task list the test controls.
type fixedTasksReader struct {
	*repository.MemoryStateRepository
	tasks []*flow.Task
}

func (r *fixedTasksReader) ListTasks(context.Context, string) ([]*flow.Task, error) {
	return r.tasks, nil
}

func TestPoller_ForgetsRemovedTasks(t *testing.T) {
	r := &fixedTasksReader{MemoryStateRepository: repository.NewMemoryStateRepository()}
	t1 := &flow.Task{ID: "t1", WorkflowID: "wf-1", Status: flow.StatusRunning, CreatedAt: t0, UpdatedAt: t0}
	t2 := &flow.Task{ID: "t2", WorkflowID: "wf-1", Status: flow.StatusRunning, CreatedAt: t0, UpdatedAt: t0}
	r.tasks = []*flow.Task{t1, t2}
	p := NewPoller(r, 0, 0, nil)
	snap := newSnapshot()
	var c collector
	ctx := context.Background()

	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	assert.Len(t, snap.tasks, 2)

	r.tasks = []*flow.Task{t1}
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	assert.Equal(t, []string{"t1"}, slices.Collect(maps.Keys(snap.tasks)))

	c.reset()
	r.tasks = []*flow.Task{t1, t2}
	require.NoError(t, p.cycle(ctx, "wf-1", snap, c.emit))
	require.Len(t, c.events, 1)
	assert.Equal(t, "t2", c.events[0].Data["taskId"])
}

func TestPoller_RunEndsWhenConnCloses(t *testing.T) {
	repo := repository.NewMemoryStateRepository()
	seedWorkflow(t, repo)
	m := metrics.New("test", prometheus.NewRegistry())
	p := NewPoller(repo, 10*time.Millisecond, time.Second, m)

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), "wf-1", func(Event) error { return ErrConnClosed })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller kept running on a closed connection")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.False(t, strings.Contains(rec.Body.String(), `result="error"`), rec.Body.String())
}
