// Package models holds the in-memory data the analysis pipeline owns: the
// flattened AST node tree, per-unit info, the DDL metadata cache and the
// row payloads for bulk graph writes.
package models

import "sync"

// Signal is a one-shot completion event. Fire is safe to call from any exit
// path and any number of times; waiters select on Done.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal creates an unfired signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Fire releases all current and future waiters. Idempotent.
func (s *Signal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal has fired.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has fired without blocking.
func (s *Signal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// StatementNode is one syntactic block of a source file: the file itself, a
// procedure, or a statement. Nodes live in the processor's flat ordered list;
// Parent is a non-owning back-pointer into that list.
type StatementNode struct {
	Directory string
	FileName  string

	NodeType  string // FILE, PROCEDURE, FUNCTION, TRIGGER, SELECT, IF, ...
	Name      string
	StartLine int
	EndLine   int

	Parent   *StatementNode
	Children []*StatementNode

	HasChildren bool
	Analyzable  bool

	// NodeCode is the verbatim source for leaves. SummarizedCode is the
	// parent skeleton with child regions replaced by placeholders.
	NodeCode       string
	SummarizedCode string

	// Context is the natural-language description of the surrounding
	// skeleton, generated top-down before LLM analysis.
	Context string
	Summary string

	Token int

	// Unit attributes, set on PROCEDURE/FUNCTION/TRIGGER nodes.
	ProcedureName string
	ProcedureType string
	SchemaName    string

	// OK is false once this node or any descendant failed analysis.
	OK bool

	// ContextReady fires when Context is set (or the node is skipped).
	// Completion fires exactly once after Summary is written or the node is
	// declared failed.
	ContextReady *Signal
	Completion   *Signal

	// DMLRanges tags statement sub-ranges by DML kind for strategies that
	// need them in the prompt.
	DMLRanges []DMLRange

	// TableRefs are the tables this statement touches, with access kind.
	TableRefs []TableRef

	// Variables used in this node, keyed for SCOPE edges.
	Variables []*Variable
}

// DMLRange tags a line range inside a statement with its DML kind.
type DMLRange struct {
	Kind      string `json:"kind"` // INSERT, UPDATE, DELETE, MERGE, SELECT
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// TableRef records a table touched by a statement and how it is accessed.
type TableRef struct {
	Schema  string
	Name    string
	DBLink  string   // non-empty for remote references
	Access  string   // "r" (FROM), "w" (WRITES), "x" (EXECUTE)
	Columns []string // columns referenced, if resolvable
}

// Key returns the per-file node key (directory, file, start line).
func (n *StatementNode) Key() NodeKey {
	return NodeKey{Directory: n.Directory, FileName: n.FileName, StartLine: n.StartLine}
}

// Depth returns the distance from the root along parent pointers.
func (n *StatementNode) Depth() int {
	d := 0
	for p := n.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// LineRange returns the node's start and end line as a pair.
func (n *StatementNode) LineRange() [2]int {
	return [2]int{n.StartLine, n.EndLine}
}

// NodeKey uniquely identifies a code unit node within a run.
type NodeKey struct {
	Directory string
	FileName  string
	StartLine int
}

// Variable is a procedure parameter or local, keyed by
// (directory, file_name, procedure_name, name).
type Variable struct {
	Directory     string
	FileName      string
	ProcedureName string
	Name          string

	Type          string
	ParameterType string // IN, OUT, IN_OUT, LOCAL
	Value         string
	Role          string
	Scope         string // Global or Local

	// UsedRanges become per-use marker properties "<start>_<end>": "Used".
	UsedRanges [][2]int
}

// UnitInfo describes one PROCEDURE/FUNCTION/TRIGGER, the granularity at which
// top-level summaries are produced.
type UnitInfo struct {
	UnitKey       string
	Name          string
	Type          string // PROCEDURE, FUNCTION, TRIGGER
	SchemaName    string
	StartLine     int
	EndLine       int
	Parameters    []*Variable
	ContainerNode *StatementNode
}
