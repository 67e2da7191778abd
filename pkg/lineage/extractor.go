// Package lineage regex-scans SQL sources for data movement: which tables a
// procedure reads, which it writes, and the table-to-table flows that makes
// it an ETL routine.
package lineage

import (
	"regexp"
	"sort"
	"strings"
)

// TableName is a schema-qualified table reference found in SQL text.
type TableName struct {
	Schema string
	Name   string
}

func (t TableName) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Flow is one write into a target table, tagged by operation.
type Flow struct {
	Target    TableName
	Operation string // INSERT, MERGE, UPDATE, DELETE
}

// FileLineage is the extraction result for one SQL file.
type FileLineage struct {
	Sources []TableName
	Flows   []Flow
}

// Targets returns the distinct target tables.
func (l *FileLineage) Targets() []TableName {
	seen := make(map[string]struct{})
	var out []TableName
	for _, f := range l.Flows {
		key := strings.ToLower(f.Target.String())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f.Target)
	}
	return out
}

// IsETL reports whether the file moves data: it reads sources and writes
// targets, or writes more than one target.
func (l *FileLineage) IsETL() bool {
	targets := l.Targets()
	return (len(l.Sources) > 0 && len(targets) > 0) || len(targets) > 1
}

// Operations returns the distinct operation kinds, sorted.
func (l *FileLineage) Operations() []string {
	seen := make(map[string]struct{})
	for _, f := range l.Flows {
		seen[f.Operation] = struct{}{}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

const identPattern = `"?([A-Za-z_][A-Za-z0-9_$#]*)"?(?:\s*\.\s*"?([A-Za-z_][A-Za-z0-9_$#]*)"?)?`

var (
	insertRe = regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+` + identPattern)
	mergeRe  = regexp.MustCompile(`(?i)\bMERGE\s+INTO\s+` + identPattern)
	updateRe = regexp.MustCompile(`(?i)\bUPDATE\s+` + identPattern + `\s+(?:\w+\s+)?SET\b`)
	deleteRe = regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+` + identPattern)

	fromRe = regexp.MustCompile(`(?i)\bFROM\s+` + identPattern)
	joinRe = regexp.MustCompile(`(?i)\bJOIN\s+` + identPattern)

	commentLineRe  = regexp.MustCompile(`--[^\n]*`)
	commentBlockRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// systemTables never participate in lineage.
var systemTables = map[string]bool{
	"dual":    true,
	"sysdate": true,
}

var systemSchemas = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
	"sys":                true,
	"mysql":              true,
}

// Extract scans one SQL file's text for lineage. Comments are stripped
// first; DELETE targets are excluded from the FROM-based source set.
func Extract(content string) *FileLineage {
	text := commentBlockRe.ReplaceAllString(content, " ")
	text = commentLineRe.ReplaceAllString(text, " ")

	lin := &FileLineage{}

	addFlow := func(re *regexp.Regexp, op string) map[string]bool {
		written := make(map[string]bool)
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			t := tableFromMatch(m)
			if t == nil {
				continue
			}
			lin.Flows = append(lin.Flows, Flow{Target: *t, Operation: op})
			written[strings.ToLower(t.String())] = true
		}
		return written
	}

	addFlow(insertRe, "INSERT")
	addFlow(mergeRe, "MERGE")
	addFlow(updateRe, "UPDATE")
	deleted := addFlow(deleteRe, "DELETE")

	seenSources := make(map[string]struct{})
	for _, re := range []*regexp.Regexp{fromRe, joinRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			t := tableFromMatch(m)
			if t == nil {
				continue
			}
			key := strings.ToLower(t.String())
			// DELETE FROM x also matches the FROM pattern.
			if deleted[key] {
				continue
			}
			if _, ok := seenSources[key]; ok {
				continue
			}
			seenSources[key] = struct{}{}
			lin.Sources = append(lin.Sources, *t)
		}
	}

	return lin
}

// tableFromMatch resolves the (first, second) identifier captures into a
// table name, dropping system objects and keywords.
func tableFromMatch(m []string) *TableName {
	first, second := m[1], m[2]

	t := TableName{Name: first}
	if second != "" {
		t.Schema = first
		t.Name = second
	}

	schemaLower := strings.ToLower(t.Schema)
	nameLower := strings.ToLower(t.Name)

	if systemTables[nameLower] || systemSchemas[schemaLower] || systemSchemas[nameLower] {
		return nil
	}
	if sqlKeywords[nameLower] {
		return nil
	}
	return &t
}

// sqlKeywords filters false positives of the FROM/JOIN patterns, e.g.
// "DELETE FROM ... WHERE EXISTS (SELECT 1 FROM (" subqueries.
var sqlKeywords = map[string]bool{
	"select": true, "where": true, "values": true, "set": true,
	"table":  true, "into": true, "using": true, "on": true,
}
