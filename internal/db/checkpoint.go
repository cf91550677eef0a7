package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/flowcast/internal/flow"
)

// LatestCheckpoint returns the most recently created checkpoint of a
// workflow, or nil when there is none.
func (d *DB) LatestCheckpoint(ctx context.Context, workflowID string) (*flow.Checkpoint, error) {
	c := &flow.Checkpoint{}
	var dataJSON []byte

	err := d.Pool.QueryRowContext(ctx, d.rebind(
		`SELECT id, workflow_id, name, data, created_at
		 FROM checkpoints WHERE workflow_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`), workflowID,
	).Scan(&c.ID, &c.WorkflowID, &c.Name, &dataJSON, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &c.Data); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s data: %w", c.ID, err)
		}
	}
	return c, nil
}

// CreateCheckpoint stores a new checkpoint.
func (d *DB) CreateCheckpoint(ctx context.Context, c *flow.Checkpoint) error {
	dataJSON, err := json.Marshal(c.Data)
	if err != nil {
		return fmt.Errorf("encode checkpoint data: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx, d.rebind(
		`INSERT INTO checkpoints (id, workflow_id, name, data, created_at)
		 VALUES ($1, $2, $3, $4, $5)`),
		c.ID, c.WorkflowID, c.Name, string(dataJSON), c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}
