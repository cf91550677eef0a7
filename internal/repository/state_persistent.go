package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soochol/flowcast/internal/db"
	"github.com/soochol/flowcast/internal/flow"
)

var _ StateRepository = (*PersistentStateRepository)(nil)

// PersistentStateRepository serves workflow state from PostgreSQL or SQLite.
// Unlike the in-memory variant it never caches: the live poller must observe
// writes made by other processes.
type PersistentStateRepository struct {
	db *db.DB
}

func NewPersistentStateRepository(database *db.DB) *PersistentStateRepository {
	return &PersistentStateRepository{db: database}
}

func (r *PersistentStateRepository) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	wf, err := r.db.GetWorkflow(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return wf, err
}

func (r *PersistentStateRepository) ListTasks(ctx context.Context, workflowID string) ([]*flow.Task, error) {
	return r.db.ListTasks(ctx, workflowID)
}

func (r *PersistentStateRepository) LatestCheckpoint(ctx context.Context, workflowID string) (*flow.Checkpoint, error) {
	return r.db.LatestCheckpoint(ctx, workflowID)
}

func (r *PersistentStateRepository) SaveWorkflow(ctx context.Context, wf *flow.Workflow) error {
	return r.db.UpsertWorkflow(ctx, wf)
}

func (r *PersistentStateRepository) SaveTask(ctx context.Context, t *flow.Task) error {
	return r.db.UpsertTask(ctx, t)
}

func (r *PersistentStateRepository) AddCheckpoint(ctx context.Context, c *flow.Checkpoint) error {
	return r.db.CreateCheckpoint(ctx, c)
}
