package events

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type syncBuffer struct {
	mu  chan struct{}
	buf bytes.Buffer
}

func newSyncBuffer() *syncBuffer {
	sb := &syncBuffer{mu: make(chan struct{}, 1)}
	sb.mu <- struct{}{}
	return sb
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	<-b.mu
	defer func() { b.mu <- struct{}{} }()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	<-b.mu
	defer func() { b.mu <- struct{}{} }()
	return b.buf.String()
}

func decodeLines(t *testing.T, raw string) []Event {
	t.Helper()
	var out []Event
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		out = append(out, ev)
	}
	return out
}

func TestEmitterWritesNDJSON(t *testing.T) {
	buf := newSyncBuffer()
	e := NewEmitter(buf, zap.NewNop())

	e.Message("scanning sources")
	e.Phase("1", "static_graph", "running", 0.5, map[string]any{"file": "a.sql"})
	e.Complete(map[string]any{"duration_ms": 10})
	e.Close()

	events := decodeLines(t, buf.String())
	require.Len(t, events, 3)
	assert.Equal(t, TypeMessage, events[0].Type)
	assert.Equal(t, "scanning sources", events[0].Message)
	assert.Equal(t, TypePhase, events[1].Type)
	assert.Equal(t, "static_graph", events[1].Name)
	assert.Equal(t, 0.5, events[1].Progress)
	assert.Equal(t, TypeComplete, events[2].Type)
}

func TestEmitterFileCompleteOnce(t *testing.T) {
	buf := newSyncBuffer()
	e := NewEmitter(buf, zap.NewNop())

	e.FileComplete("app", "proc.sql")
	e.FileComplete("app", "proc.sql")
	e.FileComplete("app", "other.sql")
	e.Close()

	events := decodeLines(t, buf.String())
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, "file_complete", ev.Message)
	}
	assert.Equal(t, "proc.sql", events[0].Details["file_name"])
	assert.Equal(t, "other.sql", events[1].Details["file_name"])
}

func TestEmitterErrorEvent(t *testing.T) {
	buf := newSyncBuffer()
	e := NewEmitter(buf, zap.NewNop())

	e.Error("graph_write", "write failed", "trace-1")
	e.Close()

	events := decodeLines(t, buf.String())
	require.Len(t, events, 1)
	assert.Equal(t, TypeError, events[0].Type)
	assert.Equal(t, "graph_write", events[0].ErrorType)
	assert.Equal(t, "trace-1", events[0].TraceID)
}

func TestEmitterDropsAfterClose(t *testing.T) {
	buf := newSyncBuffer()
	e := NewEmitter(buf, zap.NewNop())
	e.Close()
	e.Message("late")

	assert.Empty(t, strings.TrimSpace(buf.String()))
}

func TestEmitterConcurrentProducers(t *testing.T) {
	buf := newSyncBuffer()
	e := NewEmitter(buf, zap.NewNop())

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 25; j++ {
				e.Message("tick")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	e.Close()

	assert.Len(t, decodeLines(t, buf.String()), 100)
}
