// Package vectorizer embeds table and column descriptions and writes the
// vectors back onto the graph nodes.
package vectorizer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/retry"
)

// Gate is the pipeline-control check called between sub-batches.
type Gate interface {
	CheckContinue(ctx context.Context) bool
}

// Vectorizer selects unembedded rows, formats them into short texts and
// writes embedding vectors back by element id. Any failure fails the run.
type Vectorizer struct {
	embedder llm.Embedder
	writer   *graph.Writer
	emitter  *events.Emitter
	gate     Gate
	cypher   *sync.Mutex
	cfg      *config.PipelineConfig
	logger   *zap.Logger
}

// New creates the vectoriser phase runner.
func New(
	embedder llm.Embedder,
	writer *graph.Writer,
	emitter *events.Emitter,
	gate Gate,
	cypher *sync.Mutex,
	cfg *config.PipelineConfig,
	logger *zap.Logger,
) *Vectorizer {
	return &Vectorizer{
		embedder: embedder,
		writer:   writer,
		emitter:  emitter,
		gate:     gate,
		cypher:   cypher,
		cfg:      cfg,
		logger:   logger.Named("vectorizer"),
	}
}

// row is one node selected for embedding.
type row struct {
	elementID string
	text      string
}

// Run embeds Tables first, then Columns.
func (v *Vectorizer) Run(ctx context.Context) error {
	if err := v.runLabel(ctx, "Table"); err != nil {
		return err
	}
	return v.runLabel(ctx, "Column")
}

func (v *Vectorizer) runLabel(ctx context.Context, label string) error {
	rows, err := v.selectRows(ctx, label)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		v.logger.Info("nothing to vectorize", zap.String("label", label))
		return nil
	}

	v.logger.Info("vectorizing", zap.String("label", label), zap.Int("rows", len(rows)))

	batchSize := v.cfg.VectorBatchSize
	if batchSize < 1 {
		batchSize = 50
	}
	totalBatches := (len(rows) + batchSize - 1) / batchSize

	for start := 0; start < len(rows); start += batchSize {
		if !v.gate.CheckContinue(ctx) {
			return apperrors.ErrPipelineStopped
		}

		end := min(start+batchSize, len(rows))
		batch := rows[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.text
		}

		embedStart := time.Now()
		vectors, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([][]float32, error) {
			return v.embedder.CreateEmbeddings(ctx, texts)
		})
		if err != nil {
			return fmt.Errorf("embed %s batch %d: %w", label, start/batchSize, err)
		}
		latency := time.Since(embedStart)

		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: %d vectors for %d rows", len(vectors), len(batch))
		}

		if err := v.writeVectors(ctx, batch, vectors); err != nil {
			return err
		}

		v.emitter.Phase("4", "vectorizer", "running",
			float64(start/batchSize+1)/float64(totalBatches),
			map[string]any{
				"label":      label,
				"batch":      start/batchSize + 1,
				"latency_ms": latency.Milliseconds(),
			})
	}

	return nil
}

// selectRows pulls every node of the label with no vector and at least one
// non-empty description, and renders its embedding text.
func (v *Vectorizer) selectRows(ctx context.Context, label string) ([]row, error) {
	var cypher string
	if label == "Table" {
		cypher = `MATCH (t:Table {db: $db})
WHERE (t.vector IS NULL OR size(t.vector) = 0)
  AND (coalesce(t.description, '') <> '' OR coalesce(t.analyzed_description, '') <> '')
RETURN elementId(t) AS id, t.name AS name, '' AS table_name, '' AS dtype,
       coalesce(t.description, '') AS description,
       coalesce(t.analyzed_description, '') AS analyzed
ORDER BY t.schema, t.name`
	} else {
		cypher = `MATCH (t:Table {db: $db})-[:HAS_COLUMN]->(c:Column)
WHERE (c.vector IS NULL OR size(c.vector) = 0)
  AND (coalesce(c.description, '') <> '' OR coalesce(c.analyzed_description, '') <> '')
RETURN elementId(c) AS id, c.name AS name, t.name AS table_name,
       coalesce(c.dtype, '') AS dtype,
       coalesce(c.description, '') AS description,
       coalesce(c.analyzed_description, '') AS analyzed
ORDER BY t.schema, t.name, c.name`
	}

	results, err := v.writer.Execute(ctx, []graph.Query{{
		Cypher: cypher,
		Params: map[string]any{"db": v.cfg.SourceDB},
	}})
	if err != nil {
		return nil, err
	}

	var rows []row
	for _, record := range results[0] {
		id, _ := record.Get("id")
		name, _ := record.Get("name")
		tableName, _ := record.Get("table_name")
		dtype, _ := record.Get("dtype")
		description, _ := record.Get("description")
		analyzed, _ := record.Get("analyzed")

		elementID, _ := id.(string)
		if elementID == "" {
			continue
		}

		rows = append(rows, row{
			elementID: elementID,
			text: embeddingText(label,
				asString(name), asString(tableName), asString(dtype),
				asString(description), asString(analyzed)),
		})
	}
	return rows, nil
}

// embeddingText renders the short text fed to the embedding model. The
// analysed description is appended with the AI-analysis marker when present.
func embeddingText(label, name, tableName, dtype, description, analyzed string) string {
	var sb strings.Builder

	if label == "Table" {
		sb.WriteString(fmt.Sprintf("Table: %s | Description: %s", name, description))
	} else {
		sb.WriteString(fmt.Sprintf("Column: %s.%s | Type: %s | Description: %s",
			tableName, name, dtype, description))
	}
	if analyzed != "" {
		sb.WriteString(" | AI 분석: " + analyzed)
	}
	return sb.String()
}

// writeVectors writes one sub-batch back with a single UNWIND keyed by
// element id.
func (v *Vectorizer) writeVectors(ctx context.Context, batch []row, vectors [][]float32) error {
	items := make([]map[string]any, len(batch))
	for i, r := range batch {
		items[i] = map[string]any{"id": r.elementID, "vector": vectors[i]}
	}

	v.cypher.Lock()
	defer v.cypher.Unlock()

	_, err := v.writer.Execute(ctx, []graph.Query{{
		Cypher: `UNWIND $items AS item
MATCH (n) WHERE elementId(n) = item.id
SET n.vector = item.vector
RETURN count(n)`,
		Params: map[string]any{"items": items},
	}})
	return err
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
