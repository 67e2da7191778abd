package ddl

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

func testLoader() *Loader {
	cfg := &config.PipelineConfig{
		DDLBatchSize: 500,
		NameCase:     config.NameCaseOriginal,
		SourceDB:     "postgres",
	}
	return NewLoader(nil, nil, &sync.Mutex{}, cfg, zap.NewNop())
}

func TestResolveDefaultSchema(t *testing.T) {
	cache := models.NewDDLCache()
	cache.Schemas["sales"] = struct{}{}

	// Deepest path element matching a declared schema wins.
	assert.Equal(t, "sales", ResolveDefaultSchema("/ddl/sales/orders.sql", cache))
	assert.Equal(t, "sales", ResolveDefaultSchema("/ddl/sales/sub/orders.sql", cache))

	// No declared schema in the path: deepest folder.
	assert.Equal(t, "hr", ResolveDefaultSchema("/ddl/hr/emp.sql", cache))

	// Nothing usable: the fallback schema.
	assert.Equal(t, DefaultSchema, ResolveDefaultSchema("x.sql", models.NewDDLCache()))
}

func TestBuildRowsStorageNaming(t *testing.T) {
	l := testLoader()
	cache := models.NewDDLCache()

	parsed := []*ParsedTable{{
		Schema:    "Sales",
		Name:      "orders",
		Comment:   "Orders",
		TableType: "BASE TABLE",
		Columns: []ParsedColumn{
			{Name: "id", DType: "NUMBER", IsPK: true},
			{Name: "customer_id", DType: "NUMBER", Nullable: true},
		},
		PrimaryKeys: []string{"id"},
		ForeignKeys: []ParsedFK{{Column: "customer_id", RefSchema: "sales", RefTable: "customers", RefColumn: "id"}},
	}}

	rows := l.buildRows(parsed, cache)

	require.Len(t, rows.schemas, 1)
	assert.Equal(t, "sales", rows.schemas[0]["name"])
	assert.Equal(t, "postgres", rows.schemas[0]["db"])

	require.Len(t, rows.tables, 1)
	assert.Equal(t, "sales", rows.tables[0]["schema"])
	assert.Equal(t, "ORDERS", rows.tables[0]["name"])
	assert.Equal(t, "Orders", rows.tables[0]["description"])

	require.Len(t, rows.columns, 2)
	assert.Equal(t, "sales.orders.id", rows.columns[0]["fqn"])
	assert.Equal(t, "ID", rows.columns[0]["name"])
	assert.Equal(t, true, rows.columns[0]["pk_constraint"])
	assert.Equal(t, "sales.orders.customer_id", rows.columns[1]["fqn"])

	require.Len(t, rows.fks, 1)
	assert.Equal(t, "CUSTOMER_ID", rows.fks[0]["source_column"])
	assert.Equal(t, "CUSTOMERS", rows.fks[0]["ref_table"])

	meta := cache.Lookup("sales", "orders")
	require.NotNil(t, meta)
	assert.Equal(t, "Orders", meta.Description)
	assert.Contains(t, meta.Columns, "customer_id")
	assert.Equal(t, []string{"id"}, meta.PrimaryKeys)
}

func TestBuildRowsDuplicateSuppression(t *testing.T) {
	l := testLoader()
	cache := models.NewDDLCache()

	parsed := []*ParsedTable{
		{Schema: "s", Name: "t", Columns: []ParsedColumn{{Name: "a"}}},
		{Schema: "s", Name: "t", Columns: []ParsedColumn{{Name: "b"}}},
		{Schema: "s", Name: "u"},
	}

	rows := l.buildRows(parsed, cache)

	assert.Len(t, rows.schemas, 1)
	assert.Len(t, rows.tables, 2)
	// The duplicate definition of s.t contributes nothing.
	assert.Len(t, rows.columns, 1)
}
