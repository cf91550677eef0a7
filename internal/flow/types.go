package flow

import "time"

// Status is the lifecycle state of a workflow or one of its tasks.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Usage holds the aggregate counters tracked on a workflow.
type Usage struct {
	TokensUsed int64   `json:"tokensUsed"`
	APICalls   int64   `json:"apiCalls"`
	CostUSD    float64 `json:"costUsd"`
}

// Workflow is a single workflow execution record.
type Workflow struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is one node of a workflow execution.
type Task struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	Name       string         `json:"name"`
	Status     Status         `json:"status"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ChangeKey identifies the observable state of the task. Two reads of the
// same task with equal keys are considered unchanged.
func (t *Task) ChangeKey() string {
	return string(t.Status) + ":" + t.UpdatedAt.UTC().Format(time.RFC3339Nano)
}

// Checkpoint is a named snapshot persisted by a running workflow.
type Checkpoint struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflowId"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Identity returns the name+timestamp pair used to tell checkpoints apart.
func (c *Checkpoint) Identity() string {
	return c.Name + "@" + c.CreatedAt.UTC().Format(time.RFC3339Nano)
}
