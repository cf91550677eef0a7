package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soochol/flowcast/internal/flow"
)

// GetWorkflow retrieves a workflow by ID. It returns an error wrapping
// sql.ErrNoRows when the workflow does not exist.
func (d *DB) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	wf := &flow.Workflow{}
	var status string

	err := d.Pool.QueryRowContext(ctx, d.rebind(
		`SELECT id, owner_id, name, status, tokens_used, api_calls, cost_usd, created_at, updated_at
		 FROM workflows WHERE id = $1`), id,
	).Scan(&wf.ID, &wf.OwnerID, &wf.Name, &status,
		&wf.Usage.TokensUsed, &wf.Usage.APICalls, &wf.Usage.CostUSD,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	wf.Status = flow.Status(status)
	return wf, nil
}

// UpsertWorkflow inserts the workflow or updates its mutable columns.
func (d *DB) UpsertWorkflow(ctx context.Context, wf *flow.Workflow) error {
	_, err := d.Pool.ExecContext(ctx, d.rebind(
		`INSERT INTO workflows (id, owner_id, name, status, tokens_used, api_calls, cost_usd, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   status = EXCLUDED.status,
		   tokens_used = EXCLUDED.tokens_used,
		   api_calls = EXCLUDED.api_calls,
		   cost_usd = EXCLUDED.cost_usd,
		   updated_at = EXCLUDED.updated_at`),
		wf.ID, wf.OwnerID, wf.Name, string(wf.Status),
		wf.Usage.TokensUsed, wf.Usage.APICalls, wf.Usage.CostUSD,
		wf.CreatedAt.UTC(), wf.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}
