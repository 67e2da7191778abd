package models

import "strings"

// DDLColumnMeta is per-column metadata extracted from DDL.
type DDLColumnMeta struct {
	DType       string
	Nullable    bool
	Description string
}

// DDLTableMeta is the cached DDL view of one table, consumed by the static
// graph builder so reused columns carry DDL-sourced types and comments.
type DDLTableMeta struct {
	Description    string
	Columns        map[string]DDLColumnMeta // keyed by lowercase column name
	OriginalSchema string
	OriginalName   string
	TableType      string // BASE TABLE or VIEW
	PrimaryKeys    []string
}

// DDLMetaKey keys the DDL table metadata cache by lowercase schema and table.
type DDLMetaKey struct {
	Schema string
	Table  string
}

// NewDDLMetaKey lowercases both parts.
func NewDDLMetaKey(schema, table string) DDLMetaKey {
	return DDLMetaKey{Schema: strings.ToLower(schema), Table: strings.ToLower(table)}
}

// DDLCache is the in-memory output of the DDL loader shared with later phases.
type DDLCache struct {
	// Tables maps (schema_lower, table_lower) to DDL metadata.
	Tables map[DDLMetaKey]*DDLTableMeta
	// Schemas is the lowercase set of schemas seen in DDL, used to resolve a
	// file's default schema from its directory path.
	Schemas map[string]struct{}
}

// NewDDLCache returns an empty cache.
func NewDDLCache() *DDLCache {
	return &DDLCache{
		Tables:  make(map[DDLMetaKey]*DDLTableMeta),
		Schemas: make(map[string]struct{}),
	}
}

// Lookup returns the metadata for a table, or nil.
func (c *DDLCache) Lookup(schema, table string) *DDLTableMeta {
	if c == nil {
		return nil
	}
	return c.Tables[NewDDLMetaKey(schema, table)]
}

// HasSchema reports whether the DDL declared the schema (case-insensitive).
func (c *DDLCache) HasSchema(schema string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Schemas[strings.ToLower(schema)]
	return ok
}

// ColumnFQN builds the lowercase fully-qualified column name.
func ColumnFQN(schema, table, column string) string {
	return strings.ToLower(schema + "." + table + "." + column)
}
