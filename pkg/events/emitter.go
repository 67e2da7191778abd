package events

import (
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
)

// Emitter serialises events from concurrently processed files through one
// unbounded queue onto an io.Writer as NDJSON. Consumers see interleaved
// progress, but each file_complete message arrives exactly once per file.
type Emitter struct {
	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	closed  bool
	done    chan struct{}
	filesMu sync.Mutex
	files   map[string]struct{}

	out    io.Writer
	logger *zap.Logger
}

// NewEmitter starts the drain goroutine writing NDJSON to out.
func NewEmitter(out io.Writer, logger *zap.Logger) *Emitter {
	e := &Emitter{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		files:  make(map[string]struct{}),
		out:    out,
		logger: logger.Named("events"),
	}
	go e.drain()
	return e
}

// Emit enqueues an event. Never blocks; the queue is unbounded.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Message emits a plain progress message.
func (e *Emitter) Message(text string) {
	e.Emit(Event{Type: TypeMessage, Message: text})
}

// Data emits a graph delta for the current sub-batch.
func (e *Emitter) Data(delta graph.Delta) {
	e.Emit(Event{Type: TypeData, Graph: &delta})
}

// Phase emits a phase progress event.
func (e *Emitter) Phase(phase, name, status string, progress float64, details map[string]any) {
	e.Emit(Event{
		Type:     TypePhase,
		Phase:    phase,
		Name:     name,
		Status:   status,
		Progress: progress,
		Details:  details,
	})
}

// FileComplete emits the per-file completion message exactly once per
// (directory, file) pair; later calls for the same file are dropped.
func (e *Emitter) FileComplete(directory, fileName string) {
	key := directory + "/" + fileName

	e.filesMu.Lock()
	if _, seen := e.files[key]; seen {
		e.filesMu.Unlock()
		return
	}
	e.files[key] = struct{}{}
	e.filesMu.Unlock()

	e.Emit(Event{
		Type:    TypeMessage,
		Message: "file_complete",
		Details: map[string]any{"directory": directory, "file_name": fileName},
	})
}

// Complete emits the terminal success event.
func (e *Emitter) Complete(details map[string]any) {
	e.Emit(Event{Type: TypeComplete, Details: details})
}

// Error emits the terminal error event with its classification and trace id.
func (e *Emitter) Error(errorType, message, traceID string) {
	e.Emit(Event{Type: TypeError, ErrorType: errorType, Message: message, TraceID: traceID})
}

// Close drains remaining events and stops the writer goroutine.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	<-e.done
}

func (e *Emitter) drain() {
	defer close(e.done)

	enc := json.NewEncoder(e.out)
	for {
		e.mu.Lock()
		pending := e.queue
		e.queue = nil
		closed := e.closed
		e.mu.Unlock()

		for _, ev := range pending {
			if err := enc.Encode(ev); err != nil {
				e.logger.Warn("failed to encode event", zap.Error(err))
			}
		}

		if closed {
			// One final sweep for events enqueued before closed was set.
			e.mu.Lock()
			pending = e.queue
			e.queue = nil
			e.mu.Unlock()
			for _, ev := range pending {
				if err := enc.Encode(ev); err != nil {
					e.logger.Warn("failed to encode event", zap.Error(err))
				}
			}
			return
		}

		<-e.wake
	}
}
