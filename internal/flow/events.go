package flow

// Event types streamed to live clients.
const (
	EventConnected      = "connected"
	EventWorkflowStatus = "workflow_status"
	EventNodeUpdate     = "node_update"
	EventCheckpoint     = "checkpoint"
)

// WorkflowStatusPayload builds the data of a workflow_status event.
func WorkflowStatusPayload(wf *Workflow) map[string]any {
	return map[string]any{
		"status": string(wf.Status),
		"usage":  wf.Usage,
	}
}

// TaskPayload builds the data of a node_update event from the task's full
// current fields.
func TaskPayload(t *Task) map[string]any {
	p := map[string]any{
		"taskId":    t.ID,
		"name":      t.Name,
		"status":    string(t.Status),
		"createdAt": t.CreatedAt,
		"updatedAt": t.UpdatedAt,
	}
	if t.Input != nil {
		p["input"] = t.Input
	}
	if t.Output != nil {
		p["output"] = t.Output
	}
	if t.Error != "" {
		p["error"] = t.Error
	}
	return p
}

// CheckpointPayload builds the data of a checkpoint event.
func CheckpointPayload(c *Checkpoint) map[string]any {
	p := map[string]any{
		"checkpointId": c.ID,
		"name":         c.Name,
		"createdAt":    c.CreatedAt,
	}
	if c.Data != nil {
		p["data"] = c.Data
	}
	return p
}
