package lineage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
)

// Gate is the pipeline-control check called between files.
type Gate interface {
	CheckContinue(ctx context.Context) bool
}

// Runner walks the source tree and writes ETL markers and lineage edges for
// every file whose SQL moves data between tables.
type Runner struct {
	writer  *graph.Writer
	emitter *events.Emitter
	gate    Gate
	cypher  *sync.Mutex
	cfg     *config.PipelineConfig
	logger  *zap.Logger
}

// NewRunner creates the lineage phase runner.
func NewRunner(writer *graph.Writer, emitter *events.Emitter, gate Gate, cypher *sync.Mutex, cfg *config.PipelineConfig, logger *zap.Logger) *Runner {
	return &Runner{
		writer:  writer,
		emitter: emitter,
		gate:    gate,
		cypher:  cypher,
		cfg:     cfg,
		logger:  logger.Named("lineage"),
	}
}

// Run extracts lineage from every .sql file under srcDir.
func (r *Runner) Run(ctx context.Context, srcDir string) error {
	var files []string
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan source directory: %w", err)
	}

	etlCount := 0
	for i, path := range files {
		if !r.gate.CheckContinue(ctx) {
			return apperrors.ErrPipelineStopped
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		lin := Extract(string(content))
		if lin.IsETL() {
			etlCount++
			if err := r.writeLineage(ctx, srcDir, path, lin); err != nil {
				return err
			}
		}

		r.emitter.Phase("5", "lineage", "running",
			float64(i+1)/float64(len(files)),
			map[string]any{"file": filepath.Base(path), "is_etl": lin.IsETL()})
	}

	r.logger.Info("lineage extraction finished",
		zap.Int("files", len(files)),
		zap.Int("etl_files", etlCount))
	return nil
}

func (r *Runner) writeLineage(ctx context.Context, srcDir, path string, lin *FileLineage) error {
	fileName := filepath.Base(path)
	directory := filepath.ToSlash(filepath.Dir(relOrSelf(srcDir, path)))
	targets := lin.Targets()
	operation := strings.Join(lin.Operations(), ",")

	var queries []graph.Query

	// ETL markers on the file's procedure and function nodes.
	queries = append(queries, graph.Query{
		Cypher: `MATCH (p {directory: $directory, file_name: $file_name})
WHERE p.procedure_type IN ['PROCEDURE', 'FUNCTION', 'TRIGGER']
SET p.is_etl = true, p.etl_operation = $operation,
    p.etl_source_count = $source_count, p.etl_target_count = $target_count
RETURN p`,
		Params: map[string]any{
			"directory":    directory,
			"file_name":    fileName,
			"operation":    operation,
			"source_count": len(lin.Sources),
			"target_count": len(targets),
		},
	})

	procMatch := `MATCH (p {directory: $directory, file_name: $file_name})
WHERE p.procedure_type IN ['PROCEDURE', 'FUNCTION', 'TRIGGER']
`
	for _, src := range lin.Sources {
		queries = append(queries, graph.Query{
			Cypher: procMatch + `MATCH (t:Table) WHERE toLower(t.name) = $table
MERGE (p)-[r:ETL_READS]->(t)
RETURN p, r, t`,
			Params: map[string]any{
				"directory": directory,
				"file_name": fileName,
				"table":     strings.ToLower(src.Name),
			},
		})
	}
	for _, tgt := range targets {
		queries = append(queries, graph.Query{
			Cypher: procMatch + `MATCH (t:Table) WHERE toLower(t.name) = $table
MERGE (p)-[r:ETL_WRITES]->(t)
RETURN p, r, t`,
			Params: map[string]any{
				"directory": directory,
				"file_name": fileName,
				"table":     strings.ToLower(tgt.Name),
			},
		})
	}

	for _, src := range lin.Sources {
		for _, flow := range lin.Flows {
			if strings.EqualFold(src.Name, flow.Target.Name) {
				continue
			}
			queries = append(queries, graph.Query{
				Cypher: `MATCH (src:Table) WHERE toLower(src.name) = $src
MATCH (tgt:Table) WHERE toLower(tgt.name) = $tgt
MERGE (src)-[r:DATA_FLOWS_TO]->(tgt)
SET r.via_etl = true, r.operation = $operation, r.file_name = $file_name
RETURN src, r, tgt`,
				Params: map[string]any{
					"src":       strings.ToLower(src.Name),
					"tgt":       strings.ToLower(flow.Target.Name),
					"operation": flow.Operation,
					"file_name": fileName,
				},
			})
		}
	}

	r.cypher.Lock()
	defer r.cypher.Unlock()

	return r.writer.StreamGraph(ctx, queries, r.cfg.GraphQueryBatchSize,
		func() bool { return r.gate.CheckContinue(ctx) },
		func(sb graph.StreamBatch) error {
			r.emitter.Data(sb.Delta)
			return nil
		})
}

func relOrSelf(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
