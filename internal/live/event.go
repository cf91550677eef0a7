package live

import (
	"encoding/json"
	"maps"
)

// Wildcard is the workflow id under which global listeners register. They
// receive every broadcast with the originating workflow id attached.
const Wildcard = "*"

// Event is one typed message for the clients watching WorkflowID.
type Event struct {
	Type       string
	WorkflowID string
	Data       map[string]any
}

// encode serializes the event as a flat JSON object: Data plus the type
// discriminator, and the workflow id when withWorkflowID is set.
func (e Event) encode(withWorkflowID bool) ([]byte, error) {
	m := make(map[string]any, len(e.Data)+2)
	maps.Copy(m, e.Data)
	m["type"] = e.Type
	if withWorkflowID {
		m["workflowId"] = e.WorkflowID
	}
	return json.Marshal(m)
}
