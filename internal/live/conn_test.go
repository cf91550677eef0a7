package live

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConn_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	c, err := NewConn(rec, "wf-1", "user-1")
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, StateConnecting, c.State())
	assert.NotEmpty(t, c.ID())
}

func TestConn_SendFrame(t *testing.T) {
	c, buf := newTestConn("wf-1")
	require.True(t, c.markOpen())
	startWriter(t, c)

	require.NoError(t, c.Send(Event{Type: "node_update", WorkflowID: "wf-1", Data: map[string]any{"taskId": "t1"}}))

	frames := waitFrames(t, buf, 1)
	raw := buf.String()
	assert.True(t, raw[len(raw)-2:] == "\n\n")
	assert.Equal(t, "node_update", frames[0].Event)
	assert.Equal(t, "node_update", frames[0].Data["type"])
	assert.Equal(t, "t1", frames[0].Data["taskId"])
	assert.NotContains(t, frames[0].Data, "workflowId")
}

func TestConn_WildcardSendAddsWorkflowID(t *testing.T) {
	c, buf := newTestConn(Wildcard)
	require.True(t, c.markOpen())
	startWriter(t, c)

	require.NoError(t, c.Send(Event{Type: "checkpoint", WorkflowID: "wf-9", Data: map[string]any{}}))

	frames := waitFrames(t, buf, 1)
	assert.Equal(t, "wf-9", frames[0].Data["workflowId"])
}

func TestConn_CloseIdempotent(t *testing.T) {
	c, buf := newTestConn("wf-1")
	require.True(t, c.markOpen())

	var wg sync.WaitGroup
	results := make(chan bool, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Close()
		}()
	}
	wg.Wait()
	close(results)

	first := 0
	for r := range results {
		if r {
			first++
		}
	}
	assert.Equal(t, 1, first)
	assert.Equal(t, StateClosed, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed")
	}

	assert.ErrorIs(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}), ErrConnClosed)
	assert.ErrorIs(t, c.ping(time.Now()), ErrConnClosed)
	assert.Empty(t, buf.String())
}

func TestConn_MarkOpenAfterClose(t *testing.T) {
	c, _ := newTestConn("wf-1")
	c.Close()
	assert.False(t, c.markOpen())
	assert.Equal(t, StateClosed, c.State())
}

func TestConn_Ping(t *testing.T) {
	c, buf := newTestConn("wf-1")
	require.True(t, c.markOpen())
	startWriter(t, c)

	require.NoError(t, c.ping(time.Unix(1700000000, 0)))
	require.Eventually(t, func() bool { return buf.String() != "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ": keepalive 1700000000\n\n", buf.String())
	assert.Empty(t, parseFrames(t, buf.String()))
}

func TestConn_SendQueueFull(t *testing.T) {
	c, _ := newTestConn("wf-1")
	require.True(t, c.markOpen())

	for range SendQueueSize {
		require.NoError(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}))
	}
	assert.ErrorIs(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}), ErrSendQueueFull)
	assert.ErrorIs(t, c.ping(time.Now()), ErrSendQueueFull)

	assert.True(t, c.Close())
	assert.ErrorIs(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}), ErrConnClosed)
}

func TestConn_WriteLoopReturnsWriteError(t *testing.T) {
	c := newConn(failingWriter{}, nil, "wf-1", "user-1")
	require.True(t, c.markOpen())
	require.NoError(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}))

	assert.EqualError(t, c.writeLoop(context.Background()), "broken pipe")
}

func TestConn_CloseDoesNotWaitOnStalledWrite(t *testing.T) {
	w := newBlockingWriter()
	defer close(w.release)
	c := newConn(w, nil, "wf-1", "user-1")
	require.True(t, c.markOpen())

	go func() { _ = c.writeLoop(context.Background()) }()
	require.NoError(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}))
	<-w.entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited on a stalled write")
	}
	assert.ErrorIs(t, c.Send(Event{Type: "x", WorkflowID: "wf-1"}), ErrConnClosed)
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "ConnState(7)", ConnState(7).String())
}
