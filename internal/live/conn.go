package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConnClosed is returned by writes on a connection that has been closed.
	ErrConnClosed = errors.New("live: connection closed")
	// ErrSendQueueFull is returned when a frame is dropped because the client
	// is not reading fast enough.
	ErrSendQueueFull = errors.New("live: send queue full")
)

const (
	// SendQueueSize is how many frames a connection buffers before new
	// frames are dropped.
	SendQueueSize = 64
	// WriteTimeout bounds a single frame write to the client.
	WriteTimeout = 10 * time.Second
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Conn is one client's event stream. Frames are queued without blocking and
// written in order by a single writer loop, so a slow client never stalls
// the caller. Every send after Close fails with ErrConnClosed.
type Conn struct {
	id         string
	workflowID string
	identity   string

	w           io.Writer
	flush       func()
	setDeadline func(time.Time) error

	mu    sync.Mutex
	state ConnState
	queue chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn prepares w for streaming: it sends the SSE response headers with
// intermediary buffering disabled. The connection starts in StateConnecting.
func NewConn(w http.ResponseWriter, workflowID, identity string) (*Conn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("live: streaming not supported")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := newConn(w, flusher.Flush, workflowID, identity)
	c.setDeadline = http.NewResponseController(w).SetWriteDeadline
	return c, nil
}

func newConn(w io.Writer, flush func(), workflowID, identity string) *Conn {
	if flush == nil {
		flush = func() {}
	}
	return &Conn{
		id:         uuid.NewString(),
		workflowID: workflowID,
		identity:   identity,
		w:          w,
		flush:      flush,
		queue:      make(chan []byte, SendQueueSize),
		done:       make(chan struct{}),
	}
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) WorkflowID() string { return c.workflowID }
func (c *Conn) Identity() string   { return c.identity }

// IsWildcard reports whether the connection listens to every workflow.
func (c *Conn) IsWildcard() bool { return c.workflowID == Wildcard }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// markOpen moves Connecting to Open. It fails if the connection was closed
// first.
func (c *Conn) markOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateOpen
	return true
}

// Close moves the connection to StateClosed and stops the writer loop. It
// never waits on the client and is safe to call any number of times; only
// the first call returns true.
func (c *Conn) Close() bool {
	closed := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
		closed = true
	})
	return closed
}

// Send queues ev as one SSE frame. Wildcard connections get the workflow id
// injected into the payload.
func (c *Conn) Send(ev Event) error {
	data, err := ev.encode(c.IsWildcard())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return c.writeFrame(ev.Type, data)
}

func (c *Conn) writeFrame(eventType string, data []byte) error {
	return c.enqueue(fmt.Appendf(nil, "event: %s\ndata: %s\n\n", eventType, data))
}

// ping queues an SSE comment line. Clients ignore it; proxies see traffic.
func (c *Conn) ping(now time.Time) error {
	return c.enqueue(fmt.Appendf(nil, ": keepalive %d\n\n", now.Unix()))
}

func (c *Conn) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrConnClosed
	}
	select {
	case c.queue <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// writeLoop writes queued frames until ctx ends or the connection closes.
// It returns the first write error; the caller owns closing the connection.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case frame := <-c.queue:
			if err := c.write(frame); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) write(frame []byte) error {
	if c.setDeadline != nil {
		// Recorders and other writers without deadline support return
		// http.ErrNotSupported; the write then runs unbounded.
		_ = c.setDeadline(time.Now().Add(WriteTimeout))
	}
	if _, err := c.w.Write(frame); err != nil {
		return err
	}
	c.flush()
	return nil
}
