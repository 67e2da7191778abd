// Package ddl implements the bulk loader phase: regex-parse DDL files and
// upsert Schema, Table, Column and foreign-key structure into the graph.
// Parsing is deliberately regex-based, not a SQL parser; the job is to be
// fast, deterministic, and tolerant of hand-written dialects.
package ddl

import (
	"regexp"
	"strings"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
)

// ParsedColumn is one column definition extracted from a CREATE TABLE body.
type ParsedColumn struct {
	Name     string
	DType    string
	Nullable bool
	Comment  string
	IsPK     bool
}

// ParsedFK is one declared foreign key.
type ParsedFK struct {
	Column    string
	RefSchema string
	RefTable  string
	RefColumn string
}

// ParsedTable is one CREATE TABLE / CREATE VIEW statement.
type ParsedTable struct {
	Schema      string // may be empty when the DDL omits it
	Name        string
	Comment     string
	TableType   string // "BASE TABLE" or "VIEW"
	Columns     []ParsedColumn
	PrimaryKeys []string
	ForeignKeys []ParsedFK
}

var (
	createTableRe = regexp.MustCompile(
		`(?is)CREATE\s+(?:OR\s+REPLACE\s+)?(?:GLOBAL\s+TEMPORARY\s+)?(TABLE|VIEW)\s+` +
			`(?:"?([A-Za-z0-9_$#]+)"?\s*\.\s*)?"?([A-Za-z0-9_$#]+)"?\s*(\(|AS\b)`)

	tableCommentRe = regexp.MustCompile(
		`(?i)COMMENT\s+ON\s+TABLE\s+(?:"?([A-Za-z0-9_$#]+)"?\s*\.\s*)?"?([A-Za-z0-9_$#]+)"?\s+IS\s+'((?:[^']|'')*)'`)

	columnCommentRe = regexp.MustCompile(
		`(?i)COMMENT\s+ON\s+COLUMN\s+(?:"?([A-Za-z0-9_$#]+)"?\s*\.\s*)?"?([A-Za-z0-9_$#]+)"?\s*\.\s*"?([A-Za-z0-9_$#]+)"?\s+IS\s+'((?:[^']|'')*)'`)

	columnDefRe = regexp.MustCompile(
		`(?is)^"?([A-Za-z0-9_$#]+)"?\s+([A-Za-z0-9_]+(?:\s*\([^)]*\))?(?:\s+WITH(?:OUT)?\s+TIME\s+ZONE)?)(.*)$`)

	pkConstraintRe = regexp.MustCompile(`(?i)PRIMARY\s+KEY\s*\(([^)]+)\)`)

	fkConstraintRe = regexp.MustCompile(
		`(?i)FOREIGN\s+KEY\s*\(\s*"?([A-Za-z0-9_$#]+)"?\s*\)\s+REFERENCES\s+` + referencesTarget)

	// Matches both REFERENCES schema.table(col) and REFERENCES schema.table.col.
	inlineRefRe = regexp.MustCompile(`(?i)\bREFERENCES\s+` + referencesTarget)

	inlineCommentRe = regexp.MustCompile(`(?i)--\s*(.*)$`)
)

const referencesTarget = `(?:"?([A-Za-z0-9_$#]+)"?\s*\.\s*)?"?([A-Za-z0-9_$#]+)"?` +
	`(?:\s*\(\s*"?([A-Za-z0-9_$#]+)"?\s*\)|\s*\.\s*"?([A-Za-z0-9_$#]+)"?)?`

// ApplyNameCase normalizes an identifier per the configured policy.
func ApplyNameCase(ident string, nameCase config.NameCase) string {
	switch nameCase {
	case config.NameCaseUppercase:
		return strings.ToUpper(ident)
	case config.NameCaseLowercase:
		return strings.ToLower(ident)
	default:
		return ident
	}
}

// ParseDDL extracts every CREATE TABLE / CREATE VIEW from one DDL script.
// Identifiers are normalized with the given name-case policy. COMMENT ON
// statements anywhere in the script attach to their tables and columns.
func ParseDDL(script string, nameCase config.NameCase) []*ParsedTable {
	var tables []*ParsedTable
	index := make(map[string]*ParsedTable) // lowercase schema.table

	for _, loc := range createTableRe.FindAllStringSubmatchIndex(script, -1) {
		match := submatches(script, loc)
		kind := strings.ToUpper(match[1])

		t := &ParsedTable{
			Schema:    ApplyNameCase(match[2], nameCase),
			Name:      ApplyNameCase(match[3], nameCase),
			TableType: "BASE TABLE",
		}
		if kind == "VIEW" {
			t.TableType = "VIEW"
		}

		if match[4] == "(" {
			// loc[9] is the end of the opening paren submatch.
			body, ok := balancedBody(script, loc[9]-1)
			if ok {
				parseTableBody(t, body, nameCase)
			}
		}

		tables = append(tables, t)
		index[strings.ToLower(t.Schema+"."+t.Name)] = t
	}

	attachComments(script, index, nameCase)

	return tables
}

// balancedBody returns the contents of the parenthesized body whose opening
// paren is at openIdx.
func balancedBody(s string, openIdx int) (string, bool) {
	depth := 0
	inString := false
	for i := openIdx; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[openIdx+1 : i], true
			}
		}
	}
	return "", false
}

func parseTableBody(t *ParsedTable, body string, nameCase config.NameCase) {
	for _, item := range splitTopLevel(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		upper := strings.ToUpper(item)
		switch {
		case strings.HasPrefix(upper, "CONSTRAINT"), strings.HasPrefix(upper, "PRIMARY KEY"),
			strings.HasPrefix(upper, "FOREIGN KEY"), strings.HasPrefix(upper, "UNIQUE"),
			strings.HasPrefix(upper, "CHECK"), strings.HasPrefix(upper, "KEY"),
			strings.HasPrefix(upper, "INDEX"):
			parseConstraint(t, item, nameCase)
		default:
			parseColumnDef(t, item, nameCase)
		}
	}
}

func parseConstraint(t *ParsedTable, item string, nameCase config.NameCase) {
	if m := pkConstraintRe.FindStringSubmatch(item); m != nil &&
		!strings.Contains(strings.ToUpper(item), "FOREIGN") {
		for _, col := range strings.Split(m[1], ",") {
			name := ApplyNameCase(strings.Trim(strings.TrimSpace(col), `"`), nameCase)
			t.PrimaryKeys = append(t.PrimaryKeys, name)
			for i := range t.Columns {
				if strings.EqualFold(t.Columns[i].Name, name) {
					t.Columns[i].IsPK = true
				}
			}
		}
		return
	}

	if m := fkConstraintRe.FindStringSubmatch(item); m != nil {
		t.ForeignKeys = append(t.ForeignKeys, ParsedFK{
			Column:    ApplyNameCase(m[1], nameCase),
			RefSchema: ApplyNameCase(m[2], nameCase),
			RefTable:  ApplyNameCase(m[3], nameCase),
			RefColumn: ApplyNameCase(firstNonEmpty(m[4], m[5]), nameCase),
		})
	}
}

func parseColumnDef(t *ParsedTable, item string, nameCase config.NameCase) {
	comment := ""
	if m := inlineCommentRe.FindStringSubmatch(item); m != nil {
		comment = strings.TrimSpace(m[1])
		item = inlineCommentRe.ReplaceAllString(item, "")
	}

	m := columnDefRe.FindStringSubmatch(strings.TrimSpace(item))
	if m == nil {
		return
	}

	rest := m[3]
	restUpper := strings.ToUpper(rest)

	col := ParsedColumn{
		Name:     ApplyNameCase(m[1], nameCase),
		DType:    strings.ToUpper(collapseSpaces(m[2])),
		Nullable: !strings.Contains(restUpper, "NOT NULL"),
		Comment:  comment,
		IsPK:     strings.Contains(restUpper, "PRIMARY KEY"),
	}
	t.Columns = append(t.Columns, col)

	if col.IsPK {
		t.PrimaryKeys = append(t.PrimaryKeys, col.Name)
	}

	if ref := inlineRefRe.FindStringSubmatch(rest); ref != nil {
		t.ForeignKeys = append(t.ForeignKeys, ParsedFK{
			Column:    col.Name,
			RefSchema: ApplyNameCase(ref[1], nameCase),
			RefTable:  ApplyNameCase(ref[2], nameCase),
			RefColumn: ApplyNameCase(firstNonEmpty(ref[3], ref[4]), nameCase),
		})
	}
}

func attachComments(script string, index map[string]*ParsedTable, nameCase config.NameCase) {
	for _, m := range tableCommentRe.FindAllStringSubmatch(script, -1) {
		key := strings.ToLower(ApplyNameCase(m[1], nameCase) + "." + ApplyNameCase(m[2], nameCase))
		if t, ok := index[key]; ok {
			t.Comment = unescapeQuotes(m[3])
		}
	}

	for _, m := range columnCommentRe.FindAllStringSubmatch(script, -1) {
		key := strings.ToLower(ApplyNameCase(m[1], nameCase) + "." + ApplyNameCase(m[2], nameCase))
		t, ok := index[key]
		if !ok {
			continue
		}
		colName := ApplyNameCase(m[3], nameCase)
		for i := range t.Columns {
			if strings.EqualFold(t.Columns[i].Name, colName) {
				t.Columns[i].Comment = unescapeQuotes(m[4])
			}
		}
	}
}

// splitTopLevel splits a CREATE TABLE body on commas at paren depth zero.
func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	inString := false
	start := 0

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\'' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])
	return parts
}

func submatches(s string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := 0; i < len(loc); i += 2 {
		if loc[i] >= 0 {
			out[i/2] = s[loc[i]:loc[i+1]]
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func unescapeQuotes(s string) string {
	return strings.ReplaceAll(s, "''", "'")
}
