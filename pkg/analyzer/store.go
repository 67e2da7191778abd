package analyzer

import (
	"sort"
	"strings"
	"sync"

	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

type summaryEntry struct {
	line int
	text string
}

// SummaryStore accumulates block summaries across concurrently executing
// batches: per unit for procedure-level condensation, and per table for the
// analysed-description enrichment.
type SummaryStore struct {
	mu     sync.Mutex
	units  map[string][]summaryEntry // unit key
	tables map[string][]summaryEntry // "schema.TABLE"
}

// NewSummaryStore returns an empty store.
func NewSummaryStore() *SummaryStore {
	return &SummaryStore{
		units:  make(map[string][]summaryEntry),
		tables: make(map[string][]summaryEntry),
	}
}

// UnitKeyFor derives the unit key of the procedure or function enclosing a
// node, or "" for file-level code.
func UnitKeyFor(node *models.StatementNode) string {
	for n := node; n != nil; n = n.Parent {
		if n.ProcedureName != "" {
			return n.Directory + "/" + n.FileName + "#" + strings.ToLower(n.ProcedureName)
		}
	}
	return ""
}

// AddUnit appends one block summary under its unit.
func (s *SummaryStore) AddUnit(unitKey string, line int, text string) {
	if unitKey == "" || text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[unitKey] = append(s.units[unitKey], summaryEntry{line: line, text: text})
}

// AddTable appends one DML summary under a table.
func (s *SummaryStore) AddTable(schema, table string, line int, text string) {
	if table == "" || text == "" {
		return
	}
	key := strings.ToLower(schema) + "." + strings.ToUpper(table)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[key] = append(s.tables[key], summaryEntry{line: line, text: text})
}

// UnitSummaries returns a unit's summaries in source order.
func (s *SummaryStore) UnitSummaries(unitKey string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTexts(s.units[unitKey])
}

// TableKeys returns every "schema.TABLE" with at least one summary, sorted.
func (s *SummaryStore) TableKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.tables))
	for k := range s.tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TableSummaries returns a table's DML summaries in source order.
func (s *SummaryStore) TableSummaries(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedTexts(s.tables[key])
}

func sortedTexts(entries []summaryEntry) []string {
	sorted := make([]summaryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].line < sorted[j].line })

	texts := make([]string, len(sorted))
	for i, e := range sorted {
		texts[i] = e.text
	}
	return texts
}
