package ddl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

// DefaultSchema is the last-resort schema for tables whose DDL and directory
// give no hint.
const DefaultSchema = "public"

// Loader bulk-upserts parsed DDL into the graph with UNWIND batches and
// populates the in-memory DDL cache consumed by the static graph builder.
type Loader struct {
	writer  *graph.Writer
	emitter *events.Emitter
	cypher  *sync.Mutex
	cfg     *config.PipelineConfig
	logger  *zap.Logger
}

// NewLoader creates a DDL loader. The cypher mutex is the orchestrator's
// write-path lock.
func NewLoader(writer *graph.Writer, emitter *events.Emitter, cypher *sync.Mutex, cfg *config.PipelineConfig, logger *zap.Logger) *Loader {
	return &Loader{
		writer:  writer,
		emitter: emitter,
		cypher:  cypher,
		cfg:     cfg,
		logger:  logger.Named("ddl-loader"),
	}
}

// GraphSchemaName is the storage form of a schema identifier.
func GraphSchemaName(schema string) string { return strings.ToLower(schema) }

// GraphObjectName is the storage form of a table or column identifier.
func GraphObjectName(name string) string { return strings.ToUpper(name) }

// Run parses every .sql file under ddlDir and executes the six UNWIND
// batches: schemas, tables, BELONGS_TO, columns, HAS_COLUMN, foreign keys.
// A missing DDL directory is a warning, not a failure: the returned cache is
// empty and later phases fall back to the default schema.
func (l *Loader) Run(ctx context.Context, ddlDir string, gate graph.ContinueFunc) (*models.DDLCache, error) {
	cache := models.NewDDLCache()

	info, err := os.Stat(ddlDir)
	if err != nil || !info.IsDir() {
		l.logger.Warn("ddl directory not found, skipping phase", zap.String("dir", ddlDir))
		l.emitter.Message(fmt.Sprintf("DDL directory %s not found; continuing without DDL metadata", ddlDir))
		return cache, nil
	}

	parsed, err := l.parseDirectory(ddlDir, cache)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		l.emitter.Message("no tables found in DDL directory")
		return cache, nil
	}

	rows := l.buildRows(parsed, cache)

	l.logger.Info("ddl parsed",
		zap.Int("schemas", len(rows.schemas)),
		zap.Int("tables", len(rows.tables)),
		zap.Int("columns", len(rows.columns)),
		zap.Int("fks", len(rows.fks)))

	batches := []struct {
		name   string
		cypher string
		items  []map[string]any
	}{
		{"schemas", mergeSchemasCypher, rows.schemas},
		{"tables", mergeTablesCypher, rows.tables},
		{"belongs_to", mergeBelongsToCypher, rows.tables},
		{"columns", mergeColumnsCypher, rows.columns},
		{"has_column", mergeHasColumnCypher, rows.columns},
		{"foreign_keys", mergeForeignKeysCypher, rows.fks},
	}

	for i, b := range batches {
		if gate != nil && !gate() {
			return nil, fmt.Errorf("ddl load interrupted at batch %d", i)
		}

		l.cypher.Lock()
		delta, err := l.writer.BatchUnwind(ctx, b.cypher, b.items, l.cfg.DDLBatchSize)
		l.cypher.Unlock()
		if err != nil {
			return nil, err
		}

		l.emitter.Data(delta)
		l.emitter.Phase("0", "ddl_loader", "running", float64(i+1)/float64(len(batches)),
			map[string]any{"batch": b.name, "items": len(b.items)})
	}

	return cache, nil
}

// parseDirectory parses every SQL file and resolves each table's schema.
// Resolution order for schema-less tables: deepest path folder matching a
// schema declared anywhere in the DDL, then the deepest folder, then
// DefaultSchema.
func (l *Loader) parseDirectory(ddlDir string, cache *models.DDLCache) ([]*ParsedTable, error) {
	type fileTables struct {
		path   string
		tables []*ParsedTable
	}
	var all []fileTables

	err := filepath.Walk(ddlDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".sql") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read ddl file %s: %w", path, err)
		}
		all = append(all, fileTables{path: path, tables: ParseDDL(string(content), l.cfg.NameCase)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ddl directory: %w", err)
	}

	// First pass: collect explicitly declared schemas.
	for _, ft := range all {
		for _, t := range ft.tables {
			if t.Schema != "" {
				cache.Schemas[strings.ToLower(t.Schema)] = struct{}{}
			}
		}
	}

	// Second pass: resolve defaults from directory names.
	var parsed []*ParsedTable
	for _, ft := range all {
		for _, t := range ft.tables {
			if t.Schema == "" {
				t.Schema = ResolveDefaultSchema(ft.path, cache)
				cache.Schemas[strings.ToLower(t.Schema)] = struct{}{}
			}
			parsed = append(parsed, t)
		}
	}

	return parsed, nil
}

// ResolveDefaultSchema picks a schema for a file with schema-less DDL from
// its directory path.
func ResolveDefaultSchema(path string, cache *models.DDLCache) string {
	dirs := strings.Split(filepath.ToSlash(filepath.Dir(path)), "/")

	for i := len(dirs) - 1; i >= 0; i-- {
		if dirs[i] != "" && cache.HasSchema(dirs[i]) {
			return dirs[i]
		}
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if d := dirs[i]; d != "" && d != "." && d != ".." {
			return d
		}
	}
	return DefaultSchema
}

type ddlRows struct {
	schemas []map[string]any
	tables  []map[string]any
	columns []map[string]any
	fks     []map[string]any
}

// buildRows flattens parsed tables into the four UNWIND payload lists with
// pre-computed fqns and duplicate suppression, and fills the DDL cache.
func (l *Loader) buildRows(parsed []*ParsedTable, cache *models.DDLCache) *ddlRows {
	rows := &ddlRows{}
	db := l.cfg.SourceDB

	seenSchemas := make(map[string]struct{})
	seenTables := make(map[string]struct{})

	for _, t := range parsed {
		schema := GraphSchemaName(t.Schema)
		table := GraphObjectName(t.Name)
		tableKey := schema + "." + table

		if _, ok := seenSchemas[schema]; !ok {
			seenSchemas[schema] = struct{}{}
			rows.schemas = append(rows.schemas, map[string]any{"db": db, "name": schema})
		}

		if _, ok := seenTables[tableKey]; ok {
			continue
		}
		seenTables[tableKey] = struct{}{}

		rows.tables = append(rows.tables, map[string]any{
			"db":          db,
			"schema":      schema,
			"name":        table,
			"description": t.Comment,
			"table_type":  t.TableType,
		})

		meta := &models.DDLTableMeta{
			Description:    t.Comment,
			Columns:        make(map[string]models.DDLColumnMeta, len(t.Columns)),
			OriginalSchema: t.Schema,
			OriginalName:   t.Name,
			TableType:      t.TableType,
			PrimaryKeys:    t.PrimaryKeys,
		}
		cache.Tables[models.NewDDLMetaKey(t.Schema, t.Name)] = meta

		for _, col := range t.Columns {
			name := GraphObjectName(col.Name)
			rows.columns = append(rows.columns, map[string]any{
				"db":            db,
				"schema":        schema,
				"table":         table,
				"fqn":           models.ColumnFQN(schema, table, col.Name),
				"name":          name,
				"dtype":         col.DType,
				"nullable":      col.Nullable,
				"description":   col.Comment,
				"pk_constraint": col.IsPK,
			})
			meta.Columns[strings.ToLower(col.Name)] = models.DDLColumnMeta{
				DType:       col.DType,
				Nullable:    col.Nullable,
				Description: col.Comment,
			}
		}

		for _, fk := range t.ForeignKeys {
			refSchema := schema
			if fk.RefSchema != "" {
				refSchema = GraphSchemaName(fk.RefSchema)
			}
			rows.fks = append(rows.fks, map[string]any{
				"db":            db,
				"src_schema":    schema,
				"src_table":     table,
				"ref_schema":    refSchema,
				"ref_table":     GraphObjectName(fk.RefTable),
				"source_column": GraphObjectName(fk.Column),
				"target_column": GraphObjectName(fk.RefColumn),
			})
		}
	}

	return rows
}

const (
	mergeSchemasCypher = `
UNWIND $items AS item
MERGE (s:Schema {db: item.db, name: item.name})
RETURN s`

	mergeTablesCypher = `
UNWIND $items AS item
MERGE (t:Table {db: item.db, schema: item.schema, name: item.name})
SET t.table_type = item.table_type
FOREACH (_ IN CASE WHEN item.description <> '' THEN [1] ELSE [] END |
  SET t.description = item.description, t.description_source = 'ddl')
RETURN t`

	mergeBelongsToCypher = `
UNWIND $items AS item
MATCH (t:Table {db: item.db, schema: item.schema, name: item.name})
MATCH (s:Schema {db: item.db, name: item.schema})
MERGE (t)-[r:BELONGS_TO]->(s)
RETURN t, r, s`

	mergeColumnsCypher = `
UNWIND $items AS item
MERGE (c:Column {fqn: item.fqn})
SET c.name = item.name, c.dtype = item.dtype, c.nullable = item.nullable,
    c.pk_constraint = item.pk_constraint
FOREACH (_ IN CASE WHEN item.description <> '' THEN [1] ELSE [] END |
  SET c.description = item.description, c.description_source = 'ddl')
RETURN c`

	mergeHasColumnCypher = `
UNWIND $items AS item
MATCH (t:Table {db: item.db, schema: item.schema, name: item.table})
MATCH (c:Column {fqn: item.fqn})
MERGE (t)-[r:HAS_COLUMN]->(c)
RETURN t, r, c`

	mergeForeignKeysCypher = `
UNWIND $items AS item
MERGE (src:Table {db: item.db, schema: item.src_schema, name: item.src_table})
MERGE (tgt:Table {db: item.db, schema: item.ref_schema, name: item.ref_table})
MERGE (src)-[r:FK_TO_TABLE {sourceColumn: item.source_column, targetColumn: item.target_column}]->(tgt)
SET r.source = 'ddl', r.type = 'many_to_one'
RETURN src, r, tgt`
)
