package live

import (
	"sort"
	"sync"
)

// Stats is the aggregate view of the registry.
type Stats struct {
	ActiveWorkflows  int      `json:"activeWorkflows"`
	TotalConnections int      `json:"totalConnections"`
	WorkflowIDs      []string `json:"workflowIds"`
}

// Registry maps workflow ids to the connections watching them. A bucket
// exists only while it has at least one connection. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*Conn // workflowID → connID → conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		buckets: make(map[string]map[string]*Conn),
	}
}

// Register adds conn to the bucket for workflowID, creating it if needed.
func (r *Registry) Register(workflowID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[workflowID]
	if !ok {
		bucket = make(map[string]*Conn)
		r.buckets[workflowID] = bucket
	}
	bucket[conn.ID()] = conn
}

// Deregister removes conn and drops the bucket once empty. Removing a
// connection that was never registered is a no-op.
func (r *Registry) Deregister(workflowID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[workflowID]
	if !ok {
		return
	}
	delete(bucket, conn.ID())
	if len(bucket) == 0 {
		delete(r.buckets, workflowID)
	}
}

// ConnectionsFor returns a copy of the connections registered under
// workflowID.
func (r *Registry) ConnectionsFor(workflowID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.buckets[workflowID]
	out := make([]*Conn, 0, len(bucket))
	for _, c := range bucket {
		out = append(out, c)
	}
	return out
}

// All returns a copy of every registered connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Conn
	for _, bucket := range r.buckets {
		for _, c := range bucket {
			out = append(out, c)
		}
	}
	return out
}

// Stats reports bucket and connection counts. The wildcard bucket counts as
// a workflow id.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		ActiveWorkflows: len(r.buckets),
		WorkflowIDs:     make([]string, 0, len(r.buckets)),
	}
	for id, bucket := range r.buckets {
		s.TotalConnections += len(bucket)
		s.WorkflowIDs = append(s.WorkflowIDs, id)
	}
	sort.Strings(s.WorkflowIDs)
	return s
}
