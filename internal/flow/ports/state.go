package ports

import (
	"context"

	"github.com/soochol/flowcast/internal/flow"
)

// StateReader is the read-only query surface of the workflow store. The live
// poller depends on nothing else.
type StateReader interface {
	GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error)
	// ListTasks returns the workflow's tasks ordered by creation time.
	ListTasks(ctx context.Context, workflowID string) ([]*flow.Task, error)
	// LatestCheckpoint returns the most recent checkpoint, or nil when the
	// workflow has none.
	LatestCheckpoint(ctx context.Context, workflowID string) (*flow.Checkpoint, error)
}

// StateWriter is the CRUD sink used by the rest of the application.
type StateWriter interface {
	SaveWorkflow(ctx context.Context, wf *flow.Workflow) error
	SaveTask(ctx context.Context, t *flow.Task) error
	AddCheckpoint(ctx context.Context, c *flow.Checkpoint) error
}

// StateStore combines both sides of the store.
type StateStore interface {
	StateReader
	StateWriter
}
