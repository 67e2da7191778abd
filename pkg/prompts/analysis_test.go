package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildBlockAnalysisPrompt(t *testing.T) {
	prompt := BuildBlockAnalysisPrompt([]BlockContext{
		{Index: 1, NodeType: "SELECT", StartLine: 7, EndLine: 10, Code: "SELECT id FROM orders"},
		{Index: 2, NodeType: "UPDATE", StartLine: 12, EndLine: 18,
			Code: "UPDATE totals SET amount = 0", Context: "Inside a loop over open orders."},
	})

	assert.Contains(t, prompt, "## Block 1 (SELECT, lines 7-10)")
	assert.Contains(t, prompt, "## Block 2 (UPDATE, lines 12-18)")
	assert.Contains(t, prompt, "SELECT id FROM orders")
	assert.Contains(t, prompt, "Surrounding logic: Inside a loop over open orders.")
	// The JSON contract the analyzer parses against.
	assert.Contains(t, prompt, `"analysis"`)
	assert.Contains(t, prompt, `"db_links"`)

	// Context line only appears for blocks that have one.
	assert.Equal(t, 1, strings.Count(prompt, "Surrounding logic:"))
}

func TestBuildParentContextPrompt(t *testing.T) {
	prompt := BuildParentContextPrompt("IF", "IF x THEN\n....\nEND IF", []string{"outer loop", "branch on status"})

	assert.Contains(t, prompt, "Enclosing logic, outermost first:")
	assert.Contains(t, prompt, "- outer loop")
	assert.Contains(t, prompt, "- branch on status")
	assert.Contains(t, prompt, "Describe this IF skeleton")
	assert.Contains(t, prompt, "IF x THEN")

	// Root-level parents get no ancestor section.
	root := BuildParentContextPrompt("PROCEDURE", "BEGIN\n....\nEND", nil)
	assert.NotContains(t, root, "Enclosing logic")
}

func TestBuildUnitCondensePrompt(t *testing.T) {
	prompt := BuildUnitCondensePrompt("update_totals", "PROCEDURE", []string{"reads orders", "writes totals"})

	assert.Contains(t, prompt, "PROCEDURE update_totals")
	assert.Contains(t, prompt, "1. reads orders")
	assert.Contains(t, prompt, "2. writes totals")
}

func TestBuildTableEnrichmentPrompt(t *testing.T) {
	prompt := BuildTableEnrichmentPrompt("sales", "ORDERS",
		[]TableEnrichmentColumn{
			{Name: "ID", DType: "NUMBER"},
			{Name: "NOTE", DType: "VARCHAR2", Nullable: true},
		},
		[]map[string]any{{"ID": 1, "NOTE": "first"}})

	assert.Contains(t, prompt, "# Table sales.ORDERS")
	assert.Contains(t, prompt, "- ID NUMBER NOT NULL")
	assert.Contains(t, prompt, "- NOTE VARCHAR2 NULL")
	assert.Contains(t, prompt, "Sample rows (1):")
	assert.Contains(t, prompt, `"table_description"`)
}

func TestBuildTableAnalyzedDescriptionPrompt(t *testing.T) {
	prompt := BuildTableAnalyzedDescriptionPrompt("sales", "TOTALS", []string{"zeroed nightly"})

	assert.Contains(t, prompt, "table sales.TOTALS")
	assert.Contains(t, prompt, "1. zeroed nightly")
	assert.Contains(t, prompt, `"detail_description"`)
}
