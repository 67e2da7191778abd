package ast

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

func sourceLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + strings.Repeat("x", i%5)
	}
	return lines
}

func testProcessor(cache *models.DDLCache) *Processor {
	if cache == nil {
		cache = models.NewDDLCache()
	}
	return NewProcessor("app", "proc.sql", sourceLines(30), cache, "sales", "postgres", zap.NewNop())
}

func sampleAST() *Node {
	return &Node{
		Type: "FILE", StartLine: 1, EndLine: 30,
		Children: []*Node{{
			Type: "PROCEDURE", Name: "update_totals", StartLine: 1, EndLine: 30,
			Children: []*Node{
				{
					Type: "IF", StartLine: 5, EndLine: 20,
					Children: []*Node{
						{Type: "SELECT", StartLine: 7, EndLine: 10,
							Tables: []TableRef{{Name: "orders", Access: "r", Columns: []string{"id", "customer_id"}}}},
						{Type: "UPDATE", StartLine: 12, EndLine: 18, DMLKind: "UPDATE",
							Tables: []TableRef{{Schema: "sales", Name: "totals", Access: "w"}}},
					},
				},
				{Type: "ASSIGNMENT", StartLine: 22, EndLine: 23,
					Variables: []VarDecl{{Name: "v_total", Type: "NUMBER"}}},
			},
		}},
	}
}

func TestCollectNodesFlattensTree(t *testing.T) {
	p := testProcessor(nil)
	require.NoError(t, p.CollectNodes(sampleAST()))

	nodes := p.Nodes()
	require.Len(t, nodes, 6) // FILE, PROCEDURE, IF, SELECT, UPDATE, ASSIGNMENT

	file := nodes[0]
	assert.Equal(t, "FILE", file.NodeType)
	assert.Equal(t, 1, file.StartLine)
	assert.Equal(t, 30, file.EndLine)
	assert.False(t, file.Analyzable)

	proc := nodes[1]
	assert.Equal(t, "PROCEDURE", proc.NodeType)
	assert.Equal(t, "update_totals", proc.ProcedureName)
	assert.Equal(t, "sales", proc.SchemaName)
	assert.True(t, proc.HasChildren)
	assert.Same(t, file, proc.Parent)

	ifNode := nodes[2]
	assert.Equal(t, "IF", ifNode.NodeType)
	assert.Equal(t, 1, nodes[3].Depth()-ifNode.Depth())

	sel := nodes[3]
	assert.Equal(t, "SELECT", sel.NodeType)
	assert.False(t, sel.HasChildren)
	assert.NotEmpty(t, sel.NodeCode)
	assert.Empty(t, sel.SummarizedCode)

	// Units are keyed per file.
	units := p.Units()
	require.Len(t, units, 1)
	unit, ok := units["app/proc.sql#update_totals"]
	require.True(t, ok)
	assert.Same(t, proc, unit.ContainerNode)
}

func TestCollectNodesTableAndVariableResolution(t *testing.T) {
	p := testProcessor(nil)
	require.NoError(t, p.CollectNodes(sampleAST()))

	nodes := p.Nodes()
	sel := nodes[3]
	require.Len(t, sel.TableRefs, 1)
	// Schema-less reference resolves to the default schema, storage casing.
	assert.Equal(t, "sales", sel.TableRefs[0].Schema)
	assert.Equal(t, "ORDERS", sel.TableRefs[0].Name)

	upd := nodes[4]
	require.Len(t, upd.DMLRanges, 1)
	assert.Equal(t, "UPDATE", upd.DMLRanges[0].Kind)

	assign := nodes[5]
	require.Len(t, assign.Variables, 1)
	v := assign.Variables[0]
	assert.Equal(t, "update_totals", v.ProcedureName)
	assert.Equal(t, "LOCAL", v.ParameterType)
	assert.Equal(t, "Local", v.Scope)
}

func TestCollectNodesInvalidRange(t *testing.T) {
	p := testProcessor(nil)
	err := p.CollectNodes(&Node{
		Type: "FILE", StartLine: 1, EndLine: 10,
		Children: []*Node{{Type: "SELECT", StartLine: 8, EndLine: 3}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid line range")
}

func TestSkeletonCollapsesChildren(t *testing.T) {
	p := testProcessor(nil)
	require.NoError(t, p.CollectNodes(sampleAST()))

	ifNode := p.Nodes()[2]
	assert.Contains(t, ifNode.SummarizedCode, "-- <block lines 7-10>")
	assert.Contains(t, ifNode.SummarizedCode, "-- <block lines 12-18>")

	ctx := p.ContextSkeleton(ifNode)
	assert.Contains(t, ctx, "....")
	assert.NotContains(t, ctx, "<block lines")
}

func TestBuildQueriesShape(t *testing.T) {
	cache := models.NewDDLCache()
	cache.Tables[models.NewDDLMetaKey("sales", "orders")] = &models.DDLTableMeta{
		OriginalName: "orders",
		PrimaryKeys:  []string{"id"},
		Columns: map[string]models.DDLColumnMeta{
			"id":          {DType: "NUMBER"},
			"customer_id": {DType: "NUMBER", Nullable: true},
		},
	}
	cache.Tables[models.NewDDLMetaKey("sales", "customers")] = &models.DDLTableMeta{
		OriginalName: "customers",
		PrimaryKeys:  []string{"id"},
		Columns:      map[string]models.DDLColumnMeta{"id": {DType: "NUMBER"}},
	}

	p := testProcessor(cache)
	require.NoError(t, p.CollectNodes(sampleAST()))

	queries := p.BuildQueries()
	require.NotEmpty(t, queries)

	var hasFileMerge, hasParentOf, hasNext, hasFrom, hasWrites, hasInferredFK, hasScope bool
	containsCount := 0
	for _, q := range queries {
		switch {
		case strings.Contains(q.Cypher, "MERGE (n:`FILE`"):
			hasFileMerge = true
		case strings.Contains(q.Cypher, ":PARENT_OF"):
			hasParentOf = true
		case strings.Contains(q.Cypher, ":NEXT"):
			hasNext = true
		case strings.Contains(q.Cypher, "[r:CONTAINS]"):
			containsCount++
		case strings.Contains(q.Cypher, "[r:FROM]"):
			hasFrom = true
		case strings.Contains(q.Cypher, "[r:WRITES]"):
			hasWrites = true
		case strings.Contains(q.Cypher, "FK_TO_TABLE") && q.Params["src_column"] == "CUSTOMER_ID":
			hasInferredFK = true
		case strings.Contains(q.Cypher, "[r:SCOPE]"):
			hasScope = true
		}
	}
	assert.True(t, hasFileMerge, "FILE node merge")
	assert.True(t, hasParentOf, "PARENT_OF edge")
	assert.True(t, hasNext, "NEXT edge between siblings")
	// Every non-FILE node is contained by its file, the top-level
	// PROCEDURE included.
	assert.Equal(t, 5, containsCount, "CONTAINS from FILE to each node")
	assert.True(t, hasFrom, "FROM edge")
	assert.True(t, hasWrites, "WRITES edge")
	assert.True(t, hasInferredFK, "inferred FK from customer_id")
	assert.True(t, hasScope, "variable SCOPE edge")
}

func TestInferFK(t *testing.T) {
	cache := models.NewDDLCache()
	cache.Tables[models.NewDDLMetaKey("sales", "customers")] = &models.DDLTableMeta{
		OriginalName: "customers",
		PrimaryKeys:  []string{"id"},
		Columns:      map[string]models.DDLColumnMeta{"id": {}},
	}
	p := testProcessor(cache)

	ref := models.TableRef{Schema: "sales", Name: "ORDERS", Access: "r"}

	fk, ok := p.inferFK(ref, "customer_id")
	require.True(t, ok)
	assert.Equal(t, "CUSTOMERS", fk.tgtTable)
	assert.Equal(t, "id", fk.tgtColumn)

	_, ok = p.inferFK(ref, "total")
	assert.False(t, ok, "no _id suffix")

	_, ok = p.inferFK(ref, "widget_id")
	assert.False(t, ok, "no matching table")
}

func TestNodeLabelSanitization(t *testing.T) {
	assert.Equal(t, "SELECT", NodeLabel("select"))
	assert.Equal(t, "FOR_LOOP", NodeLabel("for loop"))
	assert.Equal(t, "STATEMENT", NodeLabel(""))
}
