// Package prompts builds the LLM prompts for code block analysis, parent
// context generation, unit summary condensation and table enrichment.
package prompts

import (
	"fmt"
	"strings"
)

// BlockContext pairs one code block with its ancestor context for a batch
// analysis prompt.
type BlockContext struct {
	Index     int
	NodeType  string
	StartLine int
	EndLine   int
	Code      string // raw code for leaves, child-summary-substituted for parents
	Context   string // ancestor context chain, may be empty
}

// AnalysisSystemPrompt instructs the model to analyse PL/SQL blocks and
// answer in strict JSON.
const AnalysisSystemPrompt = `You are an expert PL/SQL and database analyst. ` +
	`You summarize legacy stored procedure code blocks precisely and concisely. ` +
	`Respond with JSON only, no prose, no markdown fences.`

// BuildBlockAnalysisPrompt creates the prompt for one LLM analysis batch.
// The response format is {"analysis":[{"index":n,"summary":"...","tables":[...],
// "calls":[...],"db_links":[...]}]}.
func BuildBlockAnalysisPrompt(blocks []BlockContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Code Block Analysis\n\n")
	prompt.WriteString("Summarize each numbered code block. For each block, report the tables it reads or writes, ")
	prompt.WriteString("any procedures or functions it calls, and any database links it references.\n\n")

	for _, b := range blocks {
		prompt.WriteString(fmt.Sprintf("## Block %d (%s, lines %d-%d)\n", b.Index, b.NodeType, b.StartLine, b.EndLine))
		if b.Context != "" {
			prompt.WriteString("Surrounding logic: " + b.Context + "\n")
		}
		prompt.WriteString("```sql\n")
		prompt.WriteString(b.Code)
		prompt.WriteString("\n```\n\n")
	}

	prompt.WriteString("Respond with JSON:\n")
	prompt.WriteString(`{"analysis":[{"index":1,"summary":"...",` +
		`"tables":[{"schema":"s","name":"t","access":"r|w|x","columns":["c"]}],` +
		`"calls":[{"name":"proc_name","scope":"internal|external"}],` +
		`"db_links":[{"table":"t","link":"l","mode":"r|w"}]}]}`)
	prompt.WriteString("\n")

	return prompt.String()
}

// ContextSystemPrompt instructs the model to describe a code skeleton.
const ContextSystemPrompt = `You are an expert PL/SQL analyst. Describe in one or two sentences ` +
	`what a code skeleton does, naming the conditions, loop variables and aliases a reader ` +
	`needs to understand the collapsed inner blocks. Respond with plain text only.`

// BuildParentContextPrompt creates the prompt that generates a parent node's
// natural-language context from its skeleton and ancestor contexts.
func BuildParentContextPrompt(nodeType, skeleton string, ancestorContexts []string) string {
	var prompt strings.Builder

	if len(ancestorContexts) > 0 {
		prompt.WriteString("Enclosing logic, outermost first:\n")
		for _, c := range ancestorContexts {
			prompt.WriteString("- " + c + "\n")
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("Describe this %s skeleton (inner blocks collapsed to '....'):\n", nodeType))
	prompt.WriteString("```sql\n")
	prompt.WriteString(skeleton)
	prompt.WriteString("\n```\n")

	return prompt.String()
}

// CondenseSystemPrompt instructs the model to merge block summaries into one
// procedure-level summary.
const CondenseSystemPrompt = `You are a technical writer documenting legacy database procedures. ` +
	`Merge the given block summaries into one coherent summary of what the routine does, ` +
	`under 120 words. Respond with plain text only.`

// BuildUnitCondensePrompt merges accumulated block summaries of one unit.
func BuildUnitCondensePrompt(unitName, unitType string, summaries []string) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Block summaries of %s %s, in source order:\n\n", unitType, unitName))
	for i, s := range summaries {
		prompt.WriteString(fmt.Sprintf("%d. %s\n", i+1, s))
	}
	prompt.WriteString("\nWrite the merged summary.\n")

	return prompt.String()
}

// TableEnrichmentColumn describes one column in an enrichment prompt.
type TableEnrichmentColumn struct {
	Name     string
	DType    string
	Nullable bool
}

// EnrichmentSystemPrompt instructs the model to describe a table and its
// columns from sample rows.
const EnrichmentSystemPrompt = `You are a data analyst documenting a database. ` +
	`Given a table's columns and sample rows, write a short description of the table ` +
	`and of each column. Respond with JSON only.`

// BuildTableEnrichmentPrompt asks for table and per-column descriptions.
// Response format: {"table_description":"...","columns":[{"name":"...","description":"..."}]}.
func BuildTableEnrichmentPrompt(schema, table string, columns []TableEnrichmentColumn, sampleRows []map[string]any) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("# Table %s.%s\n\nColumns:\n", schema, table))
	for _, col := range columns {
		nullable := "NOT NULL"
		if col.Nullable {
			nullable = "NULL"
		}
		prompt.WriteString(fmt.Sprintf("- %s %s %s\n", col.Name, col.DType, nullable))
	}

	prompt.WriteString(fmt.Sprintf("\nSample rows (%d):\n", len(sampleRows)))
	for _, row := range sampleRows {
		prompt.WriteString(fmt.Sprintf("%v\n", row))
	}

	prompt.WriteString("\nRespond with JSON:\n")
	prompt.WriteString(`{"table_description":"...","columns":[{"name":"...","description":"..."}]}`)
	prompt.WriteString("\n")

	return prompt.String()
}

// BuildTableAnalyzedDescriptionPrompt turns the summaries of DML statements
// touching a table into an analysed description of how the table is used.
func BuildTableAnalyzedDescriptionPrompt(schema, table string, dmlSummaries []string) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("Statements touching table %s.%s were summarized as:\n\n", schema, table))
	for i, s := range dmlSummaries {
		prompt.WriteString(fmt.Sprintf("%d. %s\n", i+1, s))
	}
	prompt.WriteString("\nWrite a short description of the table's role based on this usage. ")
	prompt.WriteString(`Respond with JSON: {"description":"...","detail_description":"..."}`)
	prompt.WriteString("\n")

	return prompt.String()
}
