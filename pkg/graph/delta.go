package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// NodeDelta is one graph node touched by a write, in the wire shape the
// streaming consumers expect.
type NodeDelta struct {
	ID         string         `json:"Node ID"`
	Labels     []string       `json:"Labels"`
	Properties map[string]any `json:"Properties"`
}

// RelationshipDelta is one relationship touched by a write.
type RelationshipDelta struct {
	ID          string         `json:"Relationship ID"`
	Type        string         `json:"Type"`
	Properties  map[string]any `json:"Properties"`
	StartNodeID string         `json:"Start Node ID"`
	EndNodeID   string         `json:"End Node ID"`
}

// Delta is the deduplicated set of nodes and relationships touched by a batch
// of writes. It is what `data` events carry to the UI.
type Delta struct {
	Nodes         []NodeDelta         `json:"Nodes"`
	Relationships []RelationshipDelta `json:"Relationships"`
}

// StreamBatch is one sub-batch yielded by StreamGraph.
type StreamBatch struct {
	Delta        Delta
	Batch        int
	TotalBatches int
}

// deltaCollector accumulates graph entities across records, deduplicating by
// element id.
type deltaCollector struct {
	nodes     map[string]NodeDelta
	rels      map[string]RelationshipDelta
	nodeOrder []string
	relOrder  []string
}

func newDeltaCollector() *deltaCollector {
	return &deltaCollector{
		nodes: make(map[string]NodeDelta),
		rels:  make(map[string]RelationshipDelta),
	}
}

// addRecord captures every node, relationship and path value in a record.
func (c *deltaCollector) addRecord(record *neo4j.Record) {
	for _, value := range record.Values {
		c.addValue(value)
	}
}

func (c *deltaCollector) addValue(value any) {
	switch v := value.(type) {
	case dbtype.Node:
		c.addNode(v)
	case dbtype.Relationship:
		c.addRelationship(v)
	case dbtype.Path:
		for _, n := range v.Nodes {
			c.addNode(n)
		}
		for _, r := range v.Relationships {
			c.addRelationship(r)
		}
	case []any:
		for _, item := range v {
			c.addValue(item)
		}
	}
}

func (c *deltaCollector) addNode(n dbtype.Node) {
	if _, seen := c.nodes[n.ElementId]; seen {
		return
	}
	c.nodes[n.ElementId] = NodeDelta{
		ID:         n.ElementId,
		Labels:     n.Labels,
		Properties: n.Props,
	}
	c.nodeOrder = append(c.nodeOrder, n.ElementId)
}

func (c *deltaCollector) addRelationship(r dbtype.Relationship) {
	if _, seen := c.rels[r.ElementId]; seen {
		return
	}
	c.rels[r.ElementId] = RelationshipDelta{
		ID:          r.ElementId,
		Type:        r.Type,
		Properties:  r.Props,
		StartNodeID: r.StartElementId,
		EndNodeID:   r.EndElementId,
	}
	c.relOrder = append(c.relOrder, r.ElementId)
}

// delta returns the collected entities in first-seen order.
func (c *deltaCollector) delta() Delta {
	d := Delta{
		Nodes:         make([]NodeDelta, 0, len(c.nodeOrder)),
		Relationships: make([]RelationshipDelta, 0, len(c.relOrder)),
	}
	for _, id := range c.nodeOrder {
		d.Nodes = append(d.Nodes, c.nodes[id])
	}
	for _, id := range c.relOrder {
		d.Relationships = append(d.Relationships, c.rels[id])
	}
	return d
}

// Merge folds another delta into this one, deduplicating by id.
func (d *Delta) Merge(other Delta) {
	seenNodes := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		seenNodes[n.ID] = struct{}{}
	}
	for _, n := range other.Nodes {
		if _, ok := seenNodes[n.ID]; !ok {
			d.Nodes = append(d.Nodes, n)
			seenNodes[n.ID] = struct{}{}
		}
	}

	seenRels := make(map[string]struct{}, len(d.Relationships))
	for _, r := range d.Relationships {
		seenRels[r.ID] = struct{}{}
	}
	for _, r := range other.Relationships {
		if _, ok := seenRels[r.ID]; !ok {
			d.Relationships = append(d.Relationships, r)
			seenRels[r.ID] = struct{}{}
		}
	}
}
