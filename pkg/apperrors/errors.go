// Package apperrors defines the error kinds the analysis pipeline reports.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrPipelineStopped is returned when a phase observes the stop flag at a
	// batch boundary and unwinds.
	ErrPipelineStopped = errors.New("pipeline stopped")

	// ErrSamplerUnavailable is returned when the Text-to-SQL sampling endpoint
	// fails its health probe. It aborts the enrichment phase only.
	ErrSamplerUnavailable = errors.New("sampling endpoint unavailable")

	// ErrASTNotFound is returned when a source file has no pre-parsed AST JSON.
	ErrASTNotFound = errors.New("ast json not found")

	ErrNoDDLDirectory = errors.New("ddl directory not found")
)

// GraphWriteError wraps a graph store failure with the failing batch position.
// No partial rollback is attempted; the caller must retry the run.
type GraphWriteError struct {
	BatchIndex int
	QueryCount int
	Cause      error
}

func (e *GraphWriteError) Error() string {
	return fmt.Sprintf("graph write failed at batch %d (%d queries): %v", e.BatchIndex, e.QueryCount, e.Cause)
}

func (e *GraphWriteError) Unwrap() error { return e.Cause }

// ProcessorError reports an AST-processor invariant violation, such as an
// unexpected LLM result shape or an inconsistent unit summary store.
type ProcessorError struct {
	Directory string
	FileName  string
	Message   string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s/%s: %s", e.Directory, e.FileName, e.Message)
}

// BatchError identifies a failed LLM batch by the line ranges of its nodes so
// the final error event can point at the offending code.
type BatchError struct {
	NodeRanges [][2]int
	Cause      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("llm batch failed (ranges %v): %v", e.NodeRanges, e.Cause)
}

func (e *BatchError) Unwrap() error { return e.Cause }
