package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
)

func TestParseDDLBasicTable(t *testing.T) {
	script := `
CREATE TABLE sales.orders (
    id NUMBER PRIMARY KEY,
    customer_id NUMBER REFERENCES sales.customers.id,
    total NUMERIC(10,2) NOT NULL, -- order total
    note VARCHAR2(200)
);
COMMENT ON TABLE sales.orders IS 'Orders';
COMMENT ON COLUMN sales.orders.total IS 'Total amount';
`

	tables := ParseDDL(script, config.NameCaseOriginal)
	require.Len(t, tables, 1)

	orders := tables[0]
	assert.Equal(t, "sales", orders.Schema)
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "BASE TABLE", orders.TableType)
	assert.Equal(t, "Orders", orders.Comment)

	require.Len(t, orders.Columns, 4)
	assert.Equal(t, "id", orders.Columns[0].Name)
	assert.True(t, orders.Columns[0].IsPK)
	assert.Equal(t, []string{"id"}, orders.PrimaryKeys)

	total := orders.Columns[2]
	assert.Equal(t, "NUMERIC(10,2)", total.DType)
	assert.False(t, total.Nullable)
	assert.Equal(t, "Total amount", total.Comment)

	note := orders.Columns[3]
	assert.True(t, note.Nullable)

	require.Len(t, orders.ForeignKeys, 1)
	fk := orders.ForeignKeys[0]
	assert.Equal(t, "customer_id", fk.Column)
	assert.Equal(t, "sales", fk.RefSchema)
	assert.Equal(t, "customers", fk.RefTable)
	assert.Equal(t, "id", fk.RefColumn)
}

func TestParseDDLReferencesParenSyntax(t *testing.T) {
	script := `CREATE TABLE items (
    order_id INT,
    CONSTRAINT fk_ord FOREIGN KEY (order_id) REFERENCES sales.orders(id)
);`

	tables := ParseDDL(script, config.NameCaseOriginal)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].ForeignKeys, 1)

	fk := tables[0].ForeignKeys[0]
	assert.Equal(t, "order_id", fk.Column)
	assert.Equal(t, "sales", fk.RefSchema)
	assert.Equal(t, "orders", fk.RefTable)
	assert.Equal(t, "id", fk.RefColumn)
}

func TestParseDDLCompositePrimaryKey(t *testing.T) {
	script := `CREATE TABLE line_items (
    order_id INT,
    line_no INT,
    PRIMARY KEY (order_id, line_no)
);`

	tables := ParseDDL(script, config.NameCaseOriginal)
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"order_id", "line_no"}, tables[0].PrimaryKeys)
	assert.True(t, tables[0].Columns[0].IsPK)
	assert.True(t, tables[0].Columns[1].IsPK)
}

func TestParseDDLSchemalessTable(t *testing.T) {
	tables := ParseDDL(`CREATE TABLE plain (id INT);`, config.NameCaseOriginal)
	require.Len(t, tables, 1)
	assert.Empty(t, tables[0].Schema)
	assert.Equal(t, "plain", tables[0].Name)
}

func TestParseDDLView(t *testing.T) {
	tables := ParseDDL(`CREATE OR REPLACE VIEW rpt.daily AS SELECT 1;`, config.NameCaseOriginal)
	require.Len(t, tables, 1)
	assert.Equal(t, "VIEW", tables[0].TableType)
	assert.Equal(t, "rpt", tables[0].Schema)
	assert.Empty(t, tables[0].Columns)
}

func TestParseDDLMultipleStatements(t *testing.T) {
	script := `
CREATE TABLE a (id INT);
CREATE TABLE b (id INT, a_id INT REFERENCES a(id));
`
	tables := ParseDDL(script, config.NameCaseOriginal)
	require.Len(t, tables, 2)
	assert.Equal(t, "a", tables[0].Name)
	assert.Equal(t, "b", tables[1].Name)
	require.Len(t, tables[1].ForeignKeys, 1)
	assert.Equal(t, "a", tables[1].ForeignKeys[0].RefTable)
}

func TestParseDDLNestedParensAndStrings(t *testing.T) {
	script := `CREATE TABLE t (
    status VARCHAR(10) DEFAULT 'open, pending',
    amount DECIMAL(12,2) CHECK (amount > 0)
);`

	tables := ParseDDL(script, config.NameCaseOriginal)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].Columns, 2)
	assert.Equal(t, "status", tables[0].Columns[0].Name)
	assert.Equal(t, "amount", tables[0].Columns[1].Name)
}

func TestParseDDLEscapedCommentQuotes(t *testing.T) {
	script := `
CREATE TABLE t (id INT);
COMMENT ON TABLE t IS 'it''s a table';
`
	tables := ParseDDL(script, config.NameCaseOriginal)
	require.Len(t, tables, 1)
	assert.Equal(t, "it's a table", tables[0].Comment)
}

func TestApplyNameCase(t *testing.T) {
	assert.Equal(t, "Orders", ApplyNameCase("Orders", config.NameCaseOriginal))
	assert.Equal(t, "ORDERS", ApplyNameCase("Orders", config.NameCaseUppercase))
	assert.Equal(t, "orders", ApplyNameCase("Orders", config.NameCaseLowercase))
}
