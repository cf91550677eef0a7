package live

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/flowcast/internal/flow"
	"github.com/soochol/flowcast/internal/flow/ports"
	"github.com/soochol/flowcast/internal/metrics"
)

// DefaultKeepAliveInterval is how often an idle stream gets a comment line.
const DefaultKeepAliveInterval = 30 * time.Second

// HubConfig tunes per-connection background work. Zero values use the
// package defaults.
type HubConfig struct {
	PollInterval      time.Duration
	PollTimeout       time.Duration
	KeepAliveInterval time.Duration
}

// Hub owns the connection registry and runs each connection's lifecycle:
// registration, change polling, keep-alive and cleanup.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster
	poller      *Poller
	keepAlive   time.Duration
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewHub creates a hub that polls reader for changes. A nil reader disables
// polling; connections then only receive broadcasts.
func NewHub(reader ports.StateReader, cfg HubConfig, m *metrics.Metrics) *Hub {
	registry := NewRegistry()
	h := &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, m),
		keepAlive:   cfg.KeepAliveInterval,
		metrics:     m,
		now:         time.Now,
	}
	if h.keepAlive <= 0 {
		h.keepAlive = DefaultKeepAliveInterval
	}
	if reader != nil {
		h.poller = NewPoller(reader, cfg.PollInterval, cfg.PollTimeout, m)
	}
	return h
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Broadcast fans ev out to every interested connection.
func (h *Hub) Broadcast(ev Event) int { return h.broadcaster.Broadcast(ev) }

// Stats reports current connection counts.
func (h *Hub) Stats() Stats { return h.registry.Stats() }

// Serve opens conn, sends the connected event and streams until ctx is done
// or the connection is closed. On return the connection is closed and no
// longer registered.
func (h *Hub) Serve(ctx context.Context, conn *Conn) error {
	if !conn.markOpen() {
		return ErrConnClosed
	}
	h.metrics.ConnOpened()
	defer h.metrics.ConnClosed()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := conn.writeLoop(gctx); err != nil {
			h.metrics.WriteFailed()
			slog.Debug("live: stream write failed", "conn_id", conn.ID(), "workflow_id", conn.WorkflowID(), "err", err)
			conn.Close()
		}
		return nil
	})

	h.registry.Register(conn.WorkflowID(), conn)
	if err := h.send(conn, Event{
		Type:       flow.EventConnected,
		WorkflowID: conn.WorkflowID(),
		Data: map[string]any{
			"connectionId": conn.ID(),
			"workflowId":   conn.WorkflowID(),
			"timestamp":    h.now().UTC().Format(time.RFC3339Nano),
		},
	}); err != nil {
		cancel()
		_ = g.Wait()
		conn.Close()
		h.registry.Deregister(conn.WorkflowID(), conn)
		return err
	}
	slog.Info("live: stream opened",
		"conn_id", conn.ID(), "workflow_id", conn.WorkflowID(), "identity", conn.Identity())

	if h.poller != nil && !conn.IsWildcard() {
		g.Go(func() error {
			return h.poller.Run(gctx, conn.WorkflowID(), func(ev Event) error {
				return h.send(conn, ev)
			})
		})
	}
	g.Go(func() error {
		return h.runKeepAlive(gctx, conn)
	})

	select {
	case <-ctx.Done():
	case <-conn.Done():
	}
	cancel()
	_ = g.Wait()

	conn.Close()
	h.registry.Deregister(conn.WorkflowID(), conn)
	slog.Info("live: stream closed", "conn_id", conn.ID(), "workflow_id", conn.WorkflowID())
	return nil
}

// Shutdown closes every open connection without waiting on any client. Their
// Serve calls return and clean up after themselves.
func (h *Hub) Shutdown() {
	conns := h.registry.All()
	for _, c := range conns {
		c.Close()
	}
	if len(conns) > 0 {
		slog.Info("live: closed streams on shutdown", "count", len(conns))
	}
}

func (h *Hub) send(conn *Conn, ev Event) error {
	if err := conn.Send(ev); err != nil {
		h.metrics.WriteFailed()
		return err
	}
	h.metrics.EventSent(ev.Type)
	return nil
}

// runKeepAlive pings conn until ctx ends. A ping that cannot even be queued
// means the client stopped reading, so the connection is closed.
func (h *Hub) runKeepAlive(ctx context.Context, conn *Conn) error {
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.ping(h.now()); err != nil {
				conn.Close()
				return nil
			}
		}
	}
}
