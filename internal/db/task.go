package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/soochol/flowcast/internal/flow"
)

// ListTasks returns every task of a workflow ordered by creation time.
func (d *DB) ListTasks(ctx context.Context, workflowID string) ([]*flow.Task, error) {
	rows, err := d.Pool.QueryContext(ctx, d.rebind(
		`SELECT id, workflow_id, name, status, input, output, error, created_at, updated_at
		 FROM tasks WHERE workflow_id = $1 ORDER BY created_at ASC, id ASC`), workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []*flow.Task
	for rows.Next() {
		t := &flow.Task{}
		var status string
		var inputJSON, outputJSON []byte

		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.Name, &status,
			&inputJSON, &outputJSON, &t.Error, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		t.Status = flow.Status(status)
		if len(inputJSON) > 0 {
			if err := json.Unmarshal(inputJSON, &t.Input); err != nil {
				return nil, fmt.Errorf("decode task %s input: %w", t.ID, err)
			}
		}
		if len(outputJSON) > 0 {
			if err := json.Unmarshal(outputJSON, &t.Output); err != nil {
				return nil, fmt.Errorf("decode task %s output: %w", t.ID, err)
			}
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return result, nil
}

// UpsertTask inserts the task or updates its mutable columns. Tasks are keyed
// by workflow and task id; created_at is kept from the first insert.
func (d *DB) UpsertTask(ctx context.Context, t *flow.Task) error {
	inputJSON, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("encode task input: %w", err)
	}
	outputJSON, err := json.Marshal(t.Output)
	if err != nil {
		return fmt.Errorf("encode task output: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx, d.rebind(
		`INSERT INTO tasks (id, workflow_id, name, status, input, output, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (workflow_id, id) DO UPDATE SET
		   name = EXCLUDED.name,
		   status = EXCLUDED.status,
		   input = EXCLUDED.input,
		   output = EXCLUDED.output,
		   error = EXCLUDED.error,
		   updated_at = EXCLUDED.updated_at`),
		t.ID, t.WorkflowID, t.Name, string(t.Status),
		string(inputJSON), string(outputJSON), t.Error,
		t.CreatedAt.UTC(), t.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}
