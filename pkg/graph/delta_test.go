package graph

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, labels ...string) dbtype.Node {
	return dbtype.Node{ElementId: id, Labels: labels, Props: map[string]any{"name": id}}
}

func rel(id, from, to string) dbtype.Relationship {
	return dbtype.Relationship{ElementId: id, Type: "PARENT_OF", StartElementId: from, EndElementId: to}
}

func TestDeltaCollectorDeduplicates(t *testing.T) {
	c := newDeltaCollector()

	c.addRecord(&neo4j.Record{Values: []any{node("n1", "PROCEDURE"), rel("r1", "n1", "n2")}})
	c.addRecord(&neo4j.Record{Values: []any{node("n1", "PROCEDURE"), node("n2", "SELECT")}})
	c.addRecord(&neo4j.Record{Values: []any{rel("r1", "n1", "n2")}})

	d := c.delta()
	require.Len(t, d.Nodes, 2)
	require.Len(t, d.Relationships, 1)

	// First-seen order is preserved.
	assert.Equal(t, "n1", d.Nodes[0].ID)
	assert.Equal(t, "n2", d.Nodes[1].ID)
	assert.Equal(t, []string{"PROCEDURE"}, d.Nodes[0].Labels)
	assert.Equal(t, "PARENT_OF", d.Relationships[0].Type)
}

func TestDeltaCollectorHandlesPathsAndLists(t *testing.T) {
	c := newDeltaCollector()

	path := dbtype.Path{
		Nodes:         []dbtype.Node{node("n1"), node("n2")},
		Relationships: []dbtype.Relationship{rel("r1", "n1", "n2")},
	}
	c.addRecord(&neo4j.Record{Values: []any{path, []any{node("n3"), rel("r2", "n2", "n3")}}})

	d := c.delta()
	assert.Len(t, d.Nodes, 3)
	assert.Len(t, d.Relationships, 2)
}

func TestDeltaCollectorIgnoresScalars(t *testing.T) {
	c := newDeltaCollector()
	c.addRecord(&neo4j.Record{Values: []any{int64(1), "text", nil}})

	d := c.delta()
	assert.Empty(t, d.Nodes)
	assert.Empty(t, d.Relationships)
}

func TestDeltaMerge(t *testing.T) {
	a := Delta{
		Nodes:         []NodeDelta{{ID: "n1"}, {ID: "n2"}},
		Relationships: []RelationshipDelta{{ID: "r1"}},
	}
	b := Delta{
		Nodes:         []NodeDelta{{ID: "n2"}, {ID: "n3"}},
		Relationships: []RelationshipDelta{{ID: "r1"}, {ID: "r2"}},
	}

	a.Merge(b)
	require.Len(t, a.Nodes, 3)
	require.Len(t, a.Relationships, 2)
	assert.Equal(t, "n3", a.Nodes[2].ID)
	assert.Equal(t, "r2", a.Relationships[1].ID)
}
