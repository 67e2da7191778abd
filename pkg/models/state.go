package models

// RunState is the pipeline controller's run state.
type RunState string

const (
	StateIdle            RunState = "IDLE"
	StateDDLProcessing   RunState = "DDL_PROCESSING"
	StateASTGeneration   RunState = "AST_GENERATION"
	StateLLMAnalysis     RunState = "LLM_ANALYSIS"
	StateTableEnrichment RunState = "TABLE_ENRICHMENT"
	StateVectorizing     RunState = "VECTORIZING"
	StateUserStory       RunState = "USER_STORY"
	StateCompleted       RunState = "COMPLETED"
	StateFailed          RunState = "FAILED"
	StateCancelled       RunState = "CANCELLED"
)

// FileStatus tracks a source file's progress through the phases.
type FileStatus string

const (
	FilePending  FileStatus = "PENDING"
	FilePh1Done  FileStatus = "PH1_DONE"
	FilePh1Fail  FileStatus = "PH1_FAIL"
	FilePh2Done  FileStatus = "PH2_DONE"
	FilePh2Fail  FileStatus = "PH2_FAIL"
	FileComplete FileStatus = "COMPLETE"
)

// SourceFile identifies one source file by directory and name.
type SourceFile struct {
	Directory string `json:"directory"`
	FileName  string `json:"file_name"`
}
