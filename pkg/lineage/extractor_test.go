package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractInsertSelect(t *testing.T) {
	lin := Extract(`
		INSERT INTO dw.fact_orders (id, amount)
		SELECT o.id, o.amount
		FROM sales.orders o
		JOIN sales.customers c ON c.id = o.customer_id;
	`)

	require.Len(t, lin.Flows, 1)
	assert.Equal(t, TableName{Schema: "dw", Name: "fact_orders"}, lin.Flows[0].Target)
	assert.Equal(t, "INSERT", lin.Flows[0].Operation)

	require.Len(t, lin.Sources, 2)
	assert.Equal(t, TableName{Schema: "sales", Name: "orders"}, lin.Sources[0])
	assert.Equal(t, TableName{Schema: "sales", Name: "customers"}, lin.Sources[1])
	assert.True(t, lin.IsETL())
}

func TestExtractMergeAndUpdate(t *testing.T) {
	lin := Extract(`
		MERGE INTO dw.dim_customer d USING staging.customers s ON (d.id = s.id);
		UPDATE sales.totals t SET amount = 0;
	`)

	targets := lin.Targets()
	require.Len(t, targets, 2)
	assert.Equal(t, []string{"MERGE", "UPDATE"}, lin.Operations())
	assert.True(t, lin.IsETL(), "multiple targets alone make it ETL")
}

func TestExtractDeleteTargetNotASource(t *testing.T) {
	lin := Extract(`DELETE FROM sales.stale_rows WHERE created < sysdate - 30;`)

	require.Len(t, lin.Flows, 1)
	assert.Equal(t, "DELETE", lin.Flows[0].Operation)
	// DELETE FROM x also matches the FROM pattern; x must not count as a source.
	assert.Empty(t, lin.Sources)
	assert.False(t, lin.IsETL())
}

func TestExtractStripsComments(t *testing.T) {
	lin := Extract(`
		-- INSERT INTO commented.out VALUES (1)
		/* FROM ghost.table */
		SELECT 1 FROM real.source;
	`)

	assert.Empty(t, lin.Flows)
	require.Len(t, lin.Sources, 1)
	assert.Equal(t, "real.source", lin.Sources[0].String())
}

func TestExtractFiltersSystemObjects(t *testing.T) {
	lin := Extract(`
		SELECT sysdate FROM dual;
		SELECT * FROM information_schema.tables;
		SELECT 1 FROM sys.objects;
	`)
	assert.Empty(t, lin.Sources)
}

func TestExtractFiltersKeywords(t *testing.T) {
	// Subquery "FROM (" and "FROM SELECT" shapes must not produce tables.
	lin := Extract(`SELECT * FROM (SELECT id FROM orders) sub;`)
	require.Len(t, lin.Sources, 1)
	assert.Equal(t, "orders", lin.Sources[0].Name)
}

func TestExtractQuotedIdentifiers(t *testing.T) {
	lin := Extract(`INSERT INTO "DW" . "FACT" SELECT * FROM "SRC";`)
	require.Len(t, lin.Flows, 1)
	assert.Equal(t, TableName{Schema: "DW", Name: "FACT"}, lin.Flows[0].Target)
	require.Len(t, lin.Sources, 1)
	assert.Equal(t, "SRC", lin.Sources[0].Name)
}

func TestExtractDeduplicatesSources(t *testing.T) {
	lin := Extract(`
		SELECT 1 FROM sales.orders;
		SELECT 2 FROM SALES.ORDERS;
	`)
	assert.Len(t, lin.Sources, 1)
}

func TestIsETLReadOnlyFile(t *testing.T) {
	lin := Extract(`SELECT * FROM sales.orders JOIN sales.customers ON 1=1;`)
	assert.False(t, lin.IsETL())
	assert.Empty(t, lin.Targets())
}
