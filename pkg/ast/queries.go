package ast

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

var labelSafeRe = regexp.MustCompile(`[^A-Z0-9_]`)

// NodeLabel sanitizes a node type into a Cypher label. Node types come from
// the parser's fixed vocabulary, but stray characters would break the query.
func NodeLabel(nodeType string) string {
	label := labelSafeRe.ReplaceAllString(strings.ToUpper(nodeType), "_")
	if label == "" {
		label = "STATEMENT"
	}
	return label
}

// BuildQueries emits the full static query list for this file in write order:
// node MERGEs first, then structural edges, then table and column structure,
// then variables. The caller streams them through the writer in sub-batches.
func (p *Processor) BuildQueries() []graph.Query {
	var queries []graph.Query

	queries = append(queries, p.nodeQueries()...)
	queries = append(queries, p.structureQueries()...)
	queries = append(queries, p.tableQueries()...)
	queries = append(queries, p.columnQueries()...)
	queries = append(queries, p.variableQueries()...)

	return queries
}

// nodeQueries MERGEs one labelled node per statement, keyed by
// (directory, file_name, start_line).
func (p *Processor) nodeQueries() []graph.Query {
	queries := make([]graph.Query, 0, len(p.nodes))

	for _, n := range p.nodes {
		params := map[string]any{
			"directory":    n.Directory,
			"file_name":    n.FileName,
			"start_line":   n.StartLine,
			"end_line":     n.EndLine,
			"name":         n.Name,
			"node_type":    n.NodeType,
			"has_children": n.HasChildren,
			"analyzable":   n.Analyzable,
			"token":        n.Token,
		}

		set := `SET n.end_line = $end_line, n.name = $name, n.node_type = $node_type,
		        n.has_children = $has_children, n.analyzable = $analyzable, n.token = $token`

		if n.HasChildren {
			params["summarized_code"] = n.SummarizedCode
			set += ", n.summarized_code = $summarized_code"
		} else {
			params["node_code"] = n.NodeCode
			set += ", n.node_code = $node_code"
		}

		if n.ProcedureName != "" {
			params["procedure_name"] = n.ProcedureName
			params["procedure_type"] = n.ProcedureType
			params["schema_name"] = n.SchemaName
			set += `, n.procedure_name = $procedure_name, n.procedure_type = $procedure_type,
			        n.schema_name = $schema_name`
		}

		queries = append(queries, graph.Query{
			Cypher: fmt.Sprintf(
				"MERGE (n:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n%s\nRETURN n",
				NodeLabel(n.NodeType), set),
			Params: params,
		})
	}

	return queries
}

// structureQueries emits PARENT_OF, sibling NEXT and file-level CONTAINS
// edges.
func (p *Processor) structureQueries() []graph.Query {
	var queries []graph.Query

	edge := func(relType string, from, to *models.StatementNode) graph.Query {
		return graph.Query{
			Cypher: fmt.Sprintf(
				"MATCH (a:`%s` {directory: $directory, file_name: $file_name, start_line: $from_start})\n"+
					"MATCH (b:`%s` {directory: $directory, file_name: $file_name, start_line: $to_start})\n"+
					"MERGE (a)-[r:%s]->(b)\nRETURN a, r, b",
				NodeLabel(from.NodeType), NodeLabel(to.NodeType), relType),
			Params: map[string]any{
				"directory":  from.Directory,
				"file_name":  from.FileName,
				"from_start": from.StartLine,
				"to_start":   to.StartLine,
			},
		}
	}

	fileNode := p.nodes[0]
	for _, n := range p.nodes {
		for i, child := range n.Children {
			queries = append(queries, edge("PARENT_OF", n, child))
			if i > 0 {
				queries = append(queries, edge("NEXT", n.Children[i-1], child))
			}
		}
		if n != fileNode {
			queries = append(queries, edge("CONTAINS", fileNode, n))
		}
	}

	return queries
}

// tableQueries MERGEs every referenced table and links statements to them
// with FROM, WRITES or EXECUTE edges. Remote tables additionally get a DBLink
// node and a DB_LINK edge carrying the access mode.
func (p *Processor) tableQueries() []graph.Query {
	var queries []graph.Query

	accessRel := map[string]string{"r": "FROM", "w": "WRITES", "x": "EXECUTE"}

	for _, n := range p.nodes {
		for _, ref := range n.TableRefs {
			relType, ok := accessRel[ref.Access]
			if !ok {
				relType = "FROM"
			}

			params := map[string]any{
				"directory":  n.Directory,
				"file_name":  n.FileName,
				"start_line": n.StartLine,
				"db":         p.db,
				"schema":     ref.Schema,
				"table":      ref.Name,
			}

			if ref.DBLink == "" {
				queries = append(queries, graph.Query{
					Cypher: fmt.Sprintf(
						"MATCH (s:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
							"MERGE (t:Table {db: $db, schema: $schema, name: $table})\n"+
							"MERGE (s)-[r:%s]->(t)\nRETURN s, r, t",
						NodeLabel(n.NodeType), relType),
					Params: params,
				})
				continue
			}

			params["db_link"] = ref.DBLink
			params["mode"] = ref.Access
			queries = append(queries, graph.Query{
				Cypher: fmt.Sprintf(
					"MATCH (s:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
						"MERGE (t:Table {db: $db, schema: $schema, name: $table})\n"+
						"MERGE (l:DBLink {name: $db_link})\n"+
						"MERGE (l)-[lc:CONTAINS]->(t)\n"+
						"MERGE (s)-[r:DB_LINK {mode: $mode}]->(t)\nRETURN s, r, t, l, lc",
					NodeLabel(n.NodeType)),
				Params: params,
			})
		}
	}

	return queries
}

// columnQueries MERGEs referenced columns, enriched from the DDL cache when
// metadata exists, and infers FK edges from *_id naming against cached
// tables.
func (p *Processor) columnQueries() []graph.Query {
	var queries []graph.Query
	seenColumns := make(map[string]struct{})
	seenFKs := make(map[string]struct{})

	for _, n := range p.nodes {
		for _, ref := range n.TableRefs {
			if ref.DBLink != "" {
				continue
			}
			for _, colName := range ref.Columns {
				fqn := models.ColumnFQN(ref.Schema, ref.Name, colName)
				if _, ok := seenColumns[fqn]; !ok {
					seenColumns[fqn] = struct{}{}
					queries = append(queries, p.mergeColumnQuery(ref, colName, fqn))
				}

				if fk, ok := p.inferFK(ref, colName); ok {
					if _, dup := seenFKs[fk.key()]; !dup {
						seenFKs[fk.key()] = struct{}{}
						queries = append(queries, fk.queries(p.db)...)
					}
				}
			}
		}
	}

	return queries
}

func (p *Processor) mergeColumnQuery(ref models.TableRef, colName, fqn string) graph.Query {
	upper := strings.ToUpper(colName)
	params := map[string]any{
		"db":     p.db,
		"schema": ref.Schema,
		"table":  ref.Name,
		"fqn":    fqn,
		"name":   upper,
	}

	set := "SET c.name = $name"
	if meta := p.ddlCache.Lookup(ref.Schema, ref.Name); meta != nil {
		if colMeta, ok := meta.Columns[strings.ToLower(colName)]; ok {
			params["dtype"] = colMeta.DType
			params["nullable"] = colMeta.Nullable
			set += ", c.dtype = $dtype, c.nullable = $nullable"
			if colMeta.Description != "" {
				params["description"] = colMeta.Description
				set += ", c.description = coalesce(c.description, $description)"
			}
		}
	}

	return graph.Query{
		Cypher: "MERGE (t:Table {db: $db, schema: $schema, name: $table})\n" +
			"MERGE (c:Column {fqn: $fqn})\n" + set + "\n" +
			"MERGE (t)-[r:HAS_COLUMN]->(c)\nRETURN t, r, c",
		Params: params,
	}
}

// inferredFK is a naming-convention foreign key: column x_id pointing at a
// cached table named x (or its plural) with an id-like primary key.
type inferredFK struct {
	srcSchema, srcTable, srcColumn string
	tgtSchema, tgtTable, tgtColumn string
}

func (fk inferredFK) key() string {
	return strings.ToLower(fk.srcSchema + "." + fk.srcTable + "." + fk.srcColumn +
		">" + fk.tgtSchema + "." + fk.tgtTable + "." + fk.tgtColumn)
}

func (fk inferredFK) queries(db string) []graph.Query {
	params := map[string]any{
		"db":          db,
		"src_schema":  fk.srcSchema,
		"src_table":   fk.srcTable,
		"tgt_schema":  fk.tgtSchema,
		"tgt_table":   fk.tgtTable,
		"src_column":  strings.ToUpper(fk.srcColumn),
		"tgt_column":  strings.ToUpper(fk.tgtColumn),
		"src_fqn":     models.ColumnFQN(fk.srcSchema, fk.srcTable, fk.srcColumn),
		"tgt_fqn":     models.ColumnFQN(fk.tgtSchema, fk.tgtTable, fk.tgtColumn),
	}

	return []graph.Query{
		{
			Cypher: `MERGE (src:Table {db: $db, schema: $src_schema, name: $src_table})
MERGE (tgt:Table {db: $db, schema: $tgt_schema, name: $tgt_table})
MERGE (src)-[r:FK_TO_TABLE {sourceColumn: $src_column, targetColumn: $tgt_column}]->(tgt)
ON CREATE SET r.source = 'inferred', r.type = 'many_to_one'
RETURN src, r, tgt`,
			Params: params,
		},
		{
			Cypher: `MERGE (sc:Column {fqn: $src_fqn})
MERGE (tc:Column {fqn: $tgt_fqn})
MERGE (sc)-[r:FK_TO]->(tc)
ON CREATE SET r.source = 'inferred'
RETURN sc, r, tc`,
			Params: params,
		},
	}
}

// inferFK resolves x_id columns against the DDL cache. The target table may
// be the stem or its plural, in any schema the cache knows; its key column is
// the declared single-column primary key, or "id" when the table has one.
func (p *Processor) inferFK(ref models.TableRef, colName string) (inferredFK, bool) {
	lower := strings.ToLower(colName)
	if !strings.HasSuffix(lower, "_id") || len(lower) <= 3 {
		return inferredFK{}, false
	}
	stem := strings.TrimSuffix(lower, "_id")

	for _, candidate := range []string{stem, inflection.Plural(stem), inflection.Singular(stem)} {
		for key, meta := range p.ddlCache.Tables {
			if !strings.EqualFold(key.Table, candidate) {
				continue
			}
			if strings.EqualFold(key.Table, strings.ToLower(ref.Name)) {
				continue // self reference
			}

			tgtColumn := ""
			if len(meta.PrimaryKeys) == 1 {
				tgtColumn = meta.PrimaryKeys[0]
			} else if _, ok := meta.Columns["id"]; ok {
				tgtColumn = "id"
			}
			if tgtColumn == "" {
				continue
			}

			return inferredFK{
				srcSchema: ref.Schema,
				srcTable:  ref.Name,
				srcColumn: colName,
				tgtSchema: strings.ToLower(key.Schema),
				tgtTable:  strings.ToUpper(meta.OriginalName),
				tgtColumn: tgtColumn,
			}, true
		}
	}

	return inferredFK{}, false
}

// variableQueries MERGEs Variable nodes keyed by procedure and name, stamps
// per-use line-range markers, and links them to their declaring unit with
// SCOPE edges.
func (p *Processor) variableQueries() []graph.Query {
	type varAgg struct {
		v    *models.Variable
		node *models.StatementNode
	}

	merged := make(map[string]*varAgg)
	var order []string

	for _, n := range p.nodes {
		for _, v := range n.Variables {
			key := strings.ToLower(v.Directory + "/" + v.FileName + "#" + v.ProcedureName + "#" + v.Name)
			if agg, ok := merged[key]; ok {
				agg.v.UsedRanges = append(agg.v.UsedRanges, v.UsedRanges...)
				continue
			}
			merged[key] = &varAgg{v: v, node: n}
			order = append(order, key)
		}
	}

	var queries []graph.Query
	for _, key := range order {
		agg := merged[key]
		v := agg.v

		used := make(map[string]any, len(v.UsedRanges))
		for _, r := range v.UsedRanges {
			used[fmt.Sprintf("%d_%d", r[0], r[1])] = "Used"
		}

		params := map[string]any{
			"directory":      v.Directory,
			"file_name":      v.FileName,
			"procedure_name": v.ProcedureName,
			"name":           v.Name,
			"type":           v.Type,
			"parameter_type": v.ParameterType,
			"value":          v.Value,
			"role":           v.Role,
			"scope":          v.Scope,
			"used":           used,
		}

		queries = append(queries, graph.Query{
			Cypher: `MERGE (v:Variable {directory: $directory, file_name: $file_name,
         procedure_name: $procedure_name, name: $name})
SET v.type = $type, v.parameter_type = $parameter_type, v.value = $value,
    v.role = $role, v.scope = $scope
SET v += $used
RETURN v`,
			Params: params,
		})

		if unit := p.unitNodeFor(agg.node); unit != nil {
			queries = append(queries, graph.Query{
				Cypher: fmt.Sprintf(
					"MATCH (u:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
						"MATCH (v:Variable {directory: $directory, file_name: $file_name, "+
						"procedure_name: $procedure_name, name: $name})\n"+
						"MERGE (u)-[r:SCOPE]->(v)\nRETURN u, r, v",
					NodeLabel(unit.NodeType)),
				Params: map[string]any{
					"directory":      v.Directory,
					"file_name":      v.FileName,
					"start_line":     unit.StartLine,
					"procedure_name": v.ProcedureName,
					"name":           v.Name,
				},
			})
		}
	}

	return queries
}

// unitNodeFor walks up to the enclosing unit node, falling back to the FILE
// node for globals.
func (p *Processor) unitNodeFor(node *models.StatementNode) *models.StatementNode {
	for n := node; n != nil; n = n.Parent {
		if unitTypes[n.NodeType] || n.NodeType == "FILE" {
			return n
		}
	}
	return nil
}
