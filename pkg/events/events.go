// Package events streams pipeline progress to the caller as
// newline-delimited JSON.
package events

import (
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
)

// Type enumerates the event kinds the pipeline emits.
type Type string

const (
	TypeMessage      Type = "message"
	TypeData         Type = "data"
	TypePhase        Type = "phase_event"
	TypeNode         Type = "node_event"
	TypeRelationship Type = "relationship_event"
	TypeCanvasUpdate Type = "canvas_update"
	TypeComplete     Type = "complete"
	TypeError        Type = "error"
)

// Event is one streamed progress record. Only the fields relevant to the
// event's type are populated.
type Event struct {
	Type    Type   `json:"type"`
	Message string `json:"message,omitempty"`

	// Graph carries the delta for data events, restricted to the current
	// sub-batch.
	Graph *graph.Delta `json:"graph,omitempty"`

	// Phase event fields.
	Phase    string         `json:"phase,omitempty"`
	Name     string         `json:"name,omitempty"`
	Status   string         `json:"status,omitempty"`
	Progress float64        `json:"progress,omitempty"`
	Details  map[string]any `json:"details,omitempty"`

	// Node / relationship event payloads.
	Node         *graph.NodeDelta         `json:"node,omitempty"`
	Relationship *graph.RelationshipDelta `json:"relationship,omitempty"`

	// Error event fields.
	ErrorType string `json:"errorType,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
}
