package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/ast"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
	"github.com/codeatlas-io/codeatlas-engine/pkg/prompts"
	"github.com/codeatlas-io/codeatlas-engine/pkg/retry"
)

// CondenseUnits merges each unit's accumulated block summaries into one
// procedure-level summary and writes it onto the unit node. Summaries are
// chunked under the batch token budget; multi-chunk units get a second
// merge pass over the chunk summaries.
func (a *Analyzer) CondenseUnits(ctx context.Context, units map[string]*models.UnitInfo, store *SummaryStore) error {
	keys := make([]string, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		unit := units[key]
		summaries := store.UnitSummaries(key)
		if len(summaries) == 0 {
			continue
		}

		if !a.gate.CheckContinue(ctx) {
			return apperrors.ErrPipelineStopped
		}

		merged, err := a.condense(ctx, unit.Name, unit.Type, summaries)
		if err != nil {
			return fmt.Errorf("condense unit %s: %w", unit.Name, err)
		}

		unit.ContainerNode.Summary = merged
		if err := a.writeUnitSummary(ctx, unit, merged); err != nil {
			return err
		}

		a.logger.Debug("unit summary condensed",
			zap.String("unit", unit.Name),
			zap.Int("blocks", len(summaries)))
	}

	return nil
}

// condense chunk-summarizes and, when more than one chunk resulted, merges
// the chunk summaries with one more call.
func (a *Analyzer) condense(ctx context.Context, name, unitType string, summaries []string) (string, error) {
	chunks := chunkByTokens(summaries, a.cfg.MaxBatchTokens)

	chunkSummaries := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		s, err := a.condenseCall(ctx, name, unitType, chunk)
		if err != nil {
			return "", err
		}
		chunkSummaries = append(chunkSummaries, s)
	}

	if len(chunkSummaries) == 1 {
		return chunkSummaries[0], nil
	}
	return a.condenseCall(ctx, name, unitType, chunkSummaries)
}

func (a *Analyzer) condenseCall(ctx context.Context, name, unitType string, summaries []string) (string, error) {
	prompt := prompts.BuildUnitCondensePrompt(name, unitType, summaries)

	result, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*llm.GenerateResponseResult, error) {
		return a.client.GenerateResponse(ctx, prompt, prompts.CondenseSystemPrompt, 0.2)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Content), nil
}

// chunkByTokens splits texts into runs whose combined length estimate stays
// under the budget. Every chunk has at least one element.
func chunkByTokens(texts []string, maxTokens int) [][]string {
	var chunks [][]string
	var current []string
	tokens := 0

	for _, t := range texts {
		cost := len(t) / 4
		if len(current) > 0 && tokens+cost > maxTokens {
			chunks = append(chunks, current)
			current = nil
			tokens = 0
		}
		current = append(current, t)
		tokens += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (a *Analyzer) writeUnitSummary(ctx context.Context, unit *models.UnitInfo, summary string) error {
	node := unit.ContainerNode

	a.cypher.Lock()
	defer a.cypher.Unlock()

	_, err := a.writer.Execute(ctx, []graph.Query{{
		Cypher: fmt.Sprintf(
			"MATCH (n:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
				"SET n.summary = $summary\nRETURN n",
			ast.NodeLabel(node.NodeType)),
		Params: map[string]any{
			"directory":  node.Directory,
			"file_name":  node.FileName,
			"start_line": node.StartLine,
			"summary":    summary,
		},
	}})
	return err
}

// tableDescriptionResponse is the JSON shape of the analysed-description
// prompt.
type tableDescriptionResponse struct {
	Description       string `json:"description"`
	DetailDescription string `json:"detail_description"`
}

// EnrichAnalyzedDescriptions turns the DML summaries touching each table
// into an analysed description of the table's role, written alongside any
// DDL-sourced description.
func (a *Analyzer) EnrichAnalyzedDescriptions(ctx context.Context, store *SummaryStore) error {
	for _, key := range store.TableKeys() {
		if !a.gate.CheckContinue(ctx) {
			return apperrors.ErrPipelineStopped
		}

		schema, table, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		summaries := store.TableSummaries(key)
		if len(summaries) == 0 {
			continue
		}

		prompt := prompts.BuildTableAnalyzedDescriptionPrompt(schema, table, summaries)
		parsed, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (tableDescriptionResponse, error) {
			result, err := a.client.GenerateResponse(ctx, prompt, prompts.EnrichmentSystemPrompt, 0.2)
			if err != nil {
				return tableDescriptionResponse{}, err
			}
			return llm.ParseJSONResponse[tableDescriptionResponse](result.Content)
		})
		if err != nil {
			return fmt.Errorf("analysed description for %s: %w", key, err)
		}

		a.cypher.Lock()
		_, err = a.writer.Execute(ctx, []graph.Query{{
			Cypher: `MATCH (t:Table {db: $db, schema: $schema, name: $table})
SET t.analyzed_description = $description, t.detailDescription = $detail
RETURN t`,
			Params: map[string]any{
				"db":          a.cfg.SourceDB,
				"schema":      schema,
				"table":       table,
				"description": parsed.Description,
				"detail":      parsed.DetailDescription,
			},
		}})
		a.cypher.Unlock()
		if err != nil {
			return err
		}
	}

	return nil
}
