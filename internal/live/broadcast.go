package live

import (
	"log/slog"

	"github.com/soochol/flowcast/internal/metrics"
)

// Broadcaster writes events to every connection watching a workflow and to
// every wildcard listener.
type Broadcaster struct {
	registry *Registry
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a Broadcaster over registry. m may be nil.
func NewBroadcaster(registry *Registry, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, metrics: m}
}

// Broadcast queues ev on the workflow's connections and on the wildcard
// bucket, and returns the number of connections that accepted it. It never
// blocks on a client: a closed connection or a full send queue drops the
// frame for that connection only, and deregistration is left to the
// connection's own lifecycle.
func (b *Broadcaster) Broadcast(ev Event) int {
	if ev.WorkflowID == "" || ev.WorkflowID == Wildcard {
		slog.Warn("live: broadcast without a concrete workflow id dropped", "type", ev.Type)
		return 0
	}

	direct := b.registry.ConnectionsFor(ev.WorkflowID)
	global := b.registry.ConnectionsFor(Wildcard)
	if len(direct) == 0 && len(global) == 0 {
		return 0
	}

	delivered := 0
	if len(direct) > 0 {
		data, err := ev.encode(false)
		if err != nil {
			slog.Error("live: encode broadcast", "type", ev.Type, "workflow_id", ev.WorkflowID, "err", err)
			return 0
		}
		delivered += b.writeAll(direct, ev, data)
	}
	if len(global) > 0 {
		data, err := ev.encode(true)
		if err != nil {
			slog.Error("live: encode broadcast", "type", ev.Type, "workflow_id", ev.WorkflowID, "err", err)
			return delivered
		}
		delivered += b.writeAll(global, ev, data)
	}
	return delivered
}

func (b *Broadcaster) writeAll(conns []*Conn, ev Event, data []byte) int {
	n := 0
	for _, c := range conns {
		if err := c.writeFrame(ev.Type, data); err != nil {
			slog.Debug("live: broadcast frame dropped",
				"conn_id", c.ID(), "workflow_id", ev.WorkflowID, "type", ev.Type, "err", err)
			b.metrics.WriteFailed()
			continue
		}
		b.metrics.EventSent(ev.Type)
		n++
	}
	return n
}
