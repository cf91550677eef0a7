package live

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for a writer and a reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

type frame struct {
	Event string
	Data  map[string]any
}

// parseFrames decodes the event frames in raw, skipping comment lines.
func parseFrames(t *testing.T, raw string) []frame {
	t.Helper()
	var out []frame
	for _, block := range strings.Split(raw, "\n\n") {
		if strings.TrimSpace(block) == "" || strings.HasPrefix(block, ":") {
			continue
		}
		var f frame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f.Data))
			}
		}
		out = append(out, f)
	}
	return out
}

func eventTypes(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func newTestConn(workflowID string) (*Conn, *syncBuffer) {
	buf := &syncBuffer{}
	return newConn(buf, nil, workflowID, "user-1"), buf
}

// startWriter drains c's send queue into its writer until the test ends.
func startWriter(t *testing.T, c *Conn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.writeLoop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// waitFrames waits until buf holds n event frames and returns them.
func waitFrames(t *testing.T, buf *syncBuffer, n int) []frame {
	t.Helper()
	require.Eventually(t, func() bool { return len(parseFrames(t, buf.String())) >= n }, time.Second, 5*time.Millisecond)
	frames := parseFrames(t, buf.String())
	require.Len(t, frames, n)
	return frames
}

func containsKeepAlive(s string) bool { return strings.Contains(s, ": keepalive ") }

// toggleWriter accepts writes until breakNow is called.
type toggleWriter struct {
	mu     sync.Mutex
	broken bool
}

func (w *toggleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

func (w *toggleWriter) breakNow() {
	w.mu.Lock()
	w.broken = true
	w.mu.Unlock()
}

// blockingWriter stalls every write until release is closed, like a client
// whose TCP window is full.
type blockingWriter struct {
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newBlockingWriter() *blockingWriter {
	return &blockingWriter{release: make(chan struct{}), entered: make(chan struct{})}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return len(p), nil
}
