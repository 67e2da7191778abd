package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for codeatlas-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (API keys,
// database passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// ProjectDir is the analysis base directory. The pipeline reads
	// <project_dir>/src, <project_dir>/ddl and <project_dir>/analysis and
	// writes only an append-only audit log under <project_dir>/logs.
	ProjectDir string `yaml:"project_dir" env:"PROJECT_DIR" env-default:"."`

	Graph    GraphConfig    `yaml:"graph"`
	LLM      LLMConfig      `yaml:"llm"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// GraphConfig holds graph store (Neo4j bolt protocol) connection settings.
type GraphConfig struct {
	URI      string `yaml:"uri" env:"GRAPH_URI" env-default:"bolt://localhost:7687"`
	User     string `yaml:"user" env:"GRAPH_USER" env-default:"neo4j"`
	Password string `yaml:"-" env:"GRAPH_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"GRAPH_DATABASE" env-default:"neo4j"`
}

// LLMConfig holds chat and embedding model endpoints.
type LLMConfig struct {
	// Provider selects the chat backend: "openai" (any OpenAI-compatible
	// endpoint) or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	EmbeddingEndpoint string `yaml:"embedding_endpoint" env:"EMBEDDING_ENDPOINT" env-default:""`
	EmbeddingModel    string `yaml:"embedding_model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey   string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	EmbeddingDim      int    `yaml:"embedding_dim" env:"EMBEDDING_DIM" env-default:"1536"`
}

// EffectiveEmbeddingEndpoint falls back to the chat endpoint when no
// embedding-specific endpoint is configured.
func (c *LLMConfig) EffectiveEmbeddingEndpoint() string {
	if c.EmbeddingEndpoint != "" {
		return c.EmbeddingEndpoint
	}
	return c.Endpoint
}

// EffectiveEmbeddingAPIKey falls back to the chat API key.
func (c *LLMConfig) EffectiveEmbeddingAPIKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.APIKey
}

// SamplerConfig holds settings for fetching sample rows during enrichment.
// When Endpoint is set, rows come from the external Text-to-SQL service.
// Otherwise, when DSN is set, rows come from a direct database connection.
type SamplerConfig struct {
	Endpoint string `yaml:"endpoint" env:"SAMPLER_ENDPOINT" env-default:""`
	// Driver is used with DSN for direct sampling: "postgres" or "sqlserver".
	Driver string `yaml:"driver" env:"SAMPLER_DRIVER" env-default:"postgres"`
	DSN    string `yaml:"-" env:"SAMPLER_DSN"` // Contains credentials - not in YAML
}

// NameCase controls identifier normalization across DDL, AST and lineage.
type NameCase string

const (
	NameCaseOriginal  NameCase = "original"
	NameCaseUppercase NameCase = "uppercase"
	NameCaseLowercase NameCase = "lowercase"
)

// PipelineConfig holds concurrency bounds and batch sizes for an analysis run.
type PipelineConfig struct {
	// MaxFileWorkers bounds concurrent file processing in the static and
	// LLM phases.
	MaxFileWorkers int `yaml:"max_file_workers" env:"MAX_FILE_WORKERS" env-default:"5"`
	// MaxLLMWorkers bounds simultaneous LLM batches.
	MaxLLMWorkers int `yaml:"max_llm_workers" env:"MAX_LLM_WORKERS" env-default:"5"`
	// MaxBatchTokens is the token budget for one LLM analysis batch.
	MaxBatchTokens int `yaml:"max_batch_tokens" env:"MAX_BATCH_TOKENS" env-default:"3000"`

	// GraphQueryBatchSize is the sub-batch size for streamed graph writes.
	GraphQueryBatchSize int `yaml:"graph_query_batch_size" env:"GRAPH_QUERY_BATCH_SIZE" env-default:"100"`
	// DDLBatchSize is the UNWIND chunk size for the DDL bulk loader.
	DDLBatchSize int `yaml:"ddl_batch_size" env:"DDL_BATCH_SIZE" env-default:"500"`
	// VectorBatchSize is the embedding sub-batch size.
	VectorBatchSize int `yaml:"vector_batch_size" env:"VECTOR_BATCH_SIZE" env-default:"50"`

	// FKSampleSize is the row limit for enrichment sampling queries.
	FKSampleSize int `yaml:"fk_sample_size" env:"FK_SAMPLE_SIZE" env-default:"20"`
	// FKNameSimilarity is the minimum fuzzy name similarity for a cross-table
	// foreign key candidate (0.0-1.0).
	FKNameSimilarity float64 `yaml:"fk_name_similarity" env:"FK_NAME_SIMILARITY" env-default:"0.75"`
	// FKMatchRatio is the minimum value-overlap ratio to accept an inferred
	// foreign key (0.0-1.0).
	FKMatchRatio float64 `yaml:"fk_match_ratio" env:"FK_MATCH_RATIO" env-default:"0.6"`

	// NameCase normalizes identifiers: original, uppercase or lowercase.
	NameCase NameCase `yaml:"name_case" env:"NAME_CASE" env-default:"original"`

	// SourceDB is the logical database name stamped on Schema and Table
	// nodes (the `db` property).
	SourceDB string `yaml:"source_db" env:"SOURCE_DB" env-default:"postgres"`

	// QueueWaitTimeoutSec caps any single dependency wait (completion or
	// context_ready signal).
	QueueWaitTimeoutSec int `yaml:"queue_wait_timeout_sec" env:"QUEUE_WAIT_TIMEOUT_SEC" env-default:"300"`
	// FileLLMTimeoutSec caps the total LLM time for one file.
	FileLLMTimeoutSec int `yaml:"file_llm_timeout_sec" env:"FILE_LLM_TIMEOUT_SEC" env-default:"600"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time. When no
// config.yaml exists, configuration comes from the environment alone.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Pipeline.NameCase {
	case NameCaseOriginal, NameCaseUppercase, NameCaseLowercase:
	default:
		return fmt.Errorf("invalid name_case %q: must be original, uppercase or lowercase", c.Pipeline.NameCase)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid llm provider %q: must be openai or anthropic", c.LLM.Provider)
	}

	if c.Pipeline.MaxFileWorkers < 1 || c.Pipeline.MaxLLMWorkers < 1 {
		return fmt.Errorf("worker bounds must be at least 1")
	}
	return nil
}
