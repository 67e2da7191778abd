// Package enrichment implements the metadata enrichment phase: sample-driven
// LLM descriptions for undescribed tables and fuzzy foreign-key inference
// from column name similarity and value overlap.
package enrichment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/prompts"
	"github.com/codeatlas-io/codeatlas-engine/pkg/retry"
	"github.com/codeatlas-io/codeatlas-engine/pkg/sampling"
)

// Gate is the pipeline-control check called between tables.
type Gate interface {
	CheckContinue(ctx context.Context) bool
}

// Enricher runs the table description and FK inference passes.
type Enricher struct {
	client  llm.Client
	writer  *graph.Writer
	sampler sampling.Sampler
	emitter *events.Emitter
	gate    Gate
	cypher  *sync.Mutex
	cfg     *config.PipelineConfig
	logger  *zap.Logger
}

// NewEnricher creates the enrichment phase runner. sampler may be nil, in
// which case the phase is skipped.
func NewEnricher(
	client llm.Client,
	writer *graph.Writer,
	sampler sampling.Sampler,
	emitter *events.Emitter,
	gate Gate,
	cypher *sync.Mutex,
	cfg *config.PipelineConfig,
	logger *zap.Logger,
) *Enricher {
	return &Enricher{
		client:  client,
		writer:  writer,
		sampler: sampler,
		emitter: emitter,
		gate:    gate,
		cypher:  cypher,
		cfg:     cfg,
		logger:  logger.Named("enrichment"),
	}
}

// tableTarget is one table selected for enrichment.
type tableTarget struct {
	Schema string
	Name   string
}

type columnInfo struct {
	Name     string
	DType    string
	Nullable bool
	FQN      string
}

// Run enriches every table whose description is empty, then infers foreign
// keys. A single table failing is logged and skipped; an unreachable sampler
// aborts the phase with a message but never the run.
func (e *Enricher) Run(ctx context.Context) error {
	if e.sampler == nil {
		e.emitter.Message("no sampler configured; skipping metadata enrichment")
		return nil
	}

	if err := e.sampler.Ping(ctx); err != nil {
		e.logger.Warn("sampler unreachable, skipping enrichment", zap.Error(err))
		e.emitter.Message(fmt.Sprintf("sampling endpoint unreachable, enrichment skipped: %v", err))
		return nil
	}

	targets, err := e.undescribedTables(ctx)
	if err != nil {
		return err
	}
	e.logger.Info("enriching tables", zap.Int("count", len(targets)))

	for i, t := range targets {
		if !e.gate.CheckContinue(ctx) {
			return apperrors.ErrPipelineStopped
		}

		if err := e.enrichTable(ctx, t); err != nil {
			e.logger.Warn("table enrichment failed, continuing",
				zap.String("schema", t.Schema),
				zap.String("table", t.Name),
				zap.Error(err))
		}

		e.emitter.Phase("3.5", "enrichment", "running",
			float64(i+1)/float64(len(targets)),
			map[string]any{"schema": t.Schema, "table": t.Name})
	}

	return e.inferForeignKeys(ctx)
}

func (e *Enricher) undescribedTables(ctx context.Context) ([]tableTarget, error) {
	results, err := e.writer.Execute(ctx, []graph.Query{{
		Cypher: `MATCH (t:Table {db: $db})
WHERE t.description IS NULL OR t.description = ''
RETURN t.schema AS schema, t.name AS name
ORDER BY schema, name`,
		Params: map[string]any{"db": e.cfg.SourceDB},
	}})
	if err != nil {
		return nil, err
	}

	var targets []tableTarget
	for _, record := range results[0] {
		schema, _ := record.Get("schema")
		name, _ := record.Get("name")
		s, _ := schema.(string)
		n, _ := name.(string)
		if s != "" && n != "" {
			targets = append(targets, tableTarget{Schema: s, Name: n})
		}
	}
	return targets, nil
}

func (e *Enricher) tableColumns(ctx context.Context, t tableTarget) ([]columnInfo, error) {
	results, err := e.writer.Execute(ctx, []graph.Query{{
		Cypher: `MATCH (t:Table {db: $db, schema: $schema, name: $name})-[:HAS_COLUMN]->(c:Column)
RETURN c.name AS name, c.dtype AS dtype, c.nullable AS nullable, c.fqn AS fqn
ORDER BY name`,
		Params: map[string]any{"db": e.cfg.SourceDB, "schema": t.Schema, "name": t.Name},
	}})
	if err != nil {
		return nil, err
	}

	var cols []columnInfo
	for _, record := range results[0] {
		name, _ := record.Get("name")
		dtype, _ := record.Get("dtype")
		nullable, _ := record.Get("nullable")
		fqn, _ := record.Get("fqn")

		col := columnInfo{}
		col.Name, _ = name.(string)
		col.DType, _ = dtype.(string)
		col.Nullable, _ = nullable.(bool)
		col.FQN, _ = fqn.(string)
		if col.Name != "" {
			cols = append(cols, col)
		}
	}
	return cols, nil
}

// tableEnrichmentResponse is the JSON shape of the enrichment prompt.
type tableEnrichmentResponse struct {
	TableDescription string `json:"table_description"`
	Columns          []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"columns"`
}

func (e *Enricher) enrichTable(ctx context.Context, t tableTarget) error {
	rows, err := e.sampler.SampleRows(ctx, strings.ToLower(t.Schema), strings.ToLower(t.Name), e.cfg.FKSampleSize)
	if err != nil {
		return fmt.Errorf("sample %s.%s: %w", t.Schema, t.Name, err)
	}
	if len(rows) == 0 {
		e.logger.Debug("empty table, skipping", zap.String("table", t.Name))
		return nil
	}

	cols, err := e.tableColumns(ctx, t)
	if err != nil {
		return err
	}

	promptCols := make([]prompts.TableEnrichmentColumn, len(cols))
	for i, c := range cols {
		promptCols[i] = prompts.TableEnrichmentColumn{Name: c.Name, DType: c.DType, Nullable: c.Nullable}
	}

	prompt := prompts.BuildTableEnrichmentPrompt(t.Schema, t.Name, promptCols, rows)
	parsed, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (tableEnrichmentResponse, error) {
		result, err := e.client.GenerateResponse(ctx, prompt, prompts.EnrichmentSystemPrompt, 0.2)
		if err != nil {
			return tableEnrichmentResponse{}, err
		}
		return llm.ParseJSONResponse[tableEnrichmentResponse](result.Content)
	})
	if err != nil {
		return err
	}

	byName := make(map[string]string, len(parsed.Columns))
	for _, c := range parsed.Columns {
		byName[strings.ToLower(c.Name)] = c.Description
	}

	queries := []graph.Query{{
		Cypher: `MATCH (t:Table {db: $db, schema: $schema, name: $name})
SET t.description = $description, t.description_source = 'llm'
RETURN t`,
		Params: map[string]any{
			"db": e.cfg.SourceDB, "schema": t.Schema, "name": t.Name,
			"description": parsed.TableDescription,
		},
	}}

	for _, c := range cols {
		desc, ok := byName[strings.ToLower(c.Name)]
		if !ok || desc == "" {
			continue
		}
		queries = append(queries, graph.Query{
			Cypher: `MATCH (c:Column {fqn: $fqn})
WHERE c.description IS NULL OR c.description = ''
SET c.description = $description, c.description_source = 'llm'
RETURN c`,
			Params: map[string]any{"fqn": c.FQN, "description": desc},
		})
	}

	e.cypher.Lock()
	_, err = e.writer.Execute(ctx, queries)
	e.cypher.Unlock()
	return err
}
