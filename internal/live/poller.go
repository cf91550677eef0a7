package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/soochol/flowcast/internal/flow"
	"github.com/soochol/flowcast/internal/flow/ports"
	"github.com/soochol/flowcast/internal/metrics"
	"github.com/soochol/flowcast/internal/repository"
)

// Poll defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 5 * time.Second
)

// snapshot is the last state one poller observed. It is never shared between
// connections.
type snapshot struct {
	status     string
	tasks      map[string]string // task id → status:updatedAt
	checkpoint string            // name@createdAt of the latest checkpoint
}

func newSnapshot() *snapshot {
	return &snapshot{tasks: make(map[string]string)}
}

// Poller turns periodic reads of the workflow store into change events.
type Poller struct {
	reader   ports.StateReader
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewPoller creates a poller over reader. Zero durations fall back to the
// defaults.
func NewPoller(reader ports.StateReader, interval, timeout time.Duration, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{reader: reader, interval: interval, timeout: timeout, metrics: m}
}

// Run polls workflowID until ctx is cancelled or emit reports the connection
// closed, passing every detected change to emit. The first cycle runs
// immediately. Failed cycles are logged and the next tick retries.
func (p *Poller) Run(ctx context.Context, workflowID string, emit func(Event) error) error {
	snap := newSnapshot()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.cycle(ctx, workflowID, snap, emit); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrConnClosed) {
				return nil
			}
			slog.Warn("live: poll cycle failed", "workflow_id", workflowID, "err", err)
			p.metrics.PollCycle("error")
		} else {
			p.metrics.PollCycle("ok")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cycle performs one read-and-diff pass: workflow status, then tasks, then
// the latest checkpoint. The snapshot is updated only for emitted changes.
func (p *Poller) cycle(ctx context.Context, workflowID string, snap *snapshot, emit func(Event) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	wf, err := p.reader.GetWorkflow(ctx, workflowID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return fmt.Errorf("read workflow: %w", err)
	case string(wf.Status) != snap.status:
		if err := emit(Event{
			Type:       flow.EventWorkflowStatus,
			WorkflowID: workflowID,
			Data:       flow.WorkflowStatusPayload(wf),
		}); err != nil {
			return fmt.Errorf("emit workflow status: %w", err)
		}
		snap.status = string(wf.Status)
	}

	tasks, err := p.reader.ListTasks(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("read tasks: %w", err)
	}
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		seen[t.ID] = struct{}{}
		key := t.ChangeKey()
		if snap.tasks[t.ID] == key {
			continue
		}
		if err := emit(Event{
			Type:       flow.EventNodeUpdate,
			WorkflowID: workflowID,
			Data:       flow.TaskPayload(t),
		}); err != nil {
			return fmt.Errorf("emit task update: %w", err)
		}
		snap.tasks[t.ID] = key
	}
	maps.DeleteFunc(snap.tasks, func(id, _ string) bool {
		_, ok := seen[id]
		return !ok
	})

	cp, err := p.reader.LatestCheckpoint(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if cp != nil && cp.Identity() != snap.checkpoint {
		if err := emit(Event{
			Type:       flow.EventCheckpoint,
			WorkflowID: workflowID,
			Data:       flow.CheckpointPayload(cp),
		}); err != nil {
			return fmt.Errorf("emit checkpoint: %w", err)
		}
		snap.checkpoint = cp.Identity()
	}
	return nil
}
