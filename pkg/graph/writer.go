// Package graph is the single point through which all graph mutations pass.
// Callers serialize write paths with the orchestrator's cypher mutex; the
// writer itself only manages sessions, batching and delta capture.
package graph

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

// Query is one Cypher statement with parameters.
type Query struct {
	Cypher string
	Params map[string]any
}

// ContinueFunc is the pipeline-control gate checked between sub-batches.
// It returns false when the run has been stopped.
type ContinueFunc func() bool

// Writer executes Cypher against the graph store.
type Writer struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewWriter connects to the graph store.
func NewWriter(ctx context.Context, cfg *config.GraphConfig, logger *zap.Logger) (*Writer, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, &apperrors.GraphWriteError{BatchIndex: 0, QueryCount: 0, Cause: err}
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, &apperrors.GraphWriteError{BatchIndex: 0, QueryCount: 0, Cause: err}
	}

	return &Writer{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.Named("graph"),
	}, nil
}

// Close releases the underlying driver.
func (w *Writer) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}

// constraintStatements are run once per connection before any phase writes.
var constraintStatements = []string{
	`CREATE CONSTRAINT table_identity IF NOT EXISTS
	 FOR (t:Table) REQUIRE (t.db, t.schema, t.name) IS UNIQUE`,
	`CREATE CONSTRAINT column_fqn IF NOT EXISTS
	 FOR (c:Column) REQUIRE c.fqn IS UNIQUE`,
}

// EnsureConstraints creates the Table/Column uniqueness constraints.
// "Already exists" errors from stores without IF NOT EXISTS support are
// swallowed.
func (w *Writer) EnsureConstraints(ctx context.Context) error {
	session := w.session(ctx)
	defer session.Close(ctx)

	for _, stmt := range constraintStatements {
		result, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = result.Consume(ctx)
		}
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "already exists") {
				continue
			}
			return &apperrors.GraphWriteError{QueryCount: len(constraintStatements), Cause: err}
		}
	}

	w.logger.Debug("uniqueness constraints ensured")
	return nil
}

// Execute runs queries sequentially in auto-commit mode and returns each
// query's result rows. Used for reads and small CRUD.
func (w *Writer) Execute(ctx context.Context, queries []Query) ([][]*neo4j.Record, error) {
	session := w.session(ctx)
	defer session.Close(ctx)

	results := make([][]*neo4j.Record, 0, len(queries))
	for i, q := range queries {
		result, err := session.Run(ctx, q.Cypher, q.Params)
		if err != nil {
			return nil, &apperrors.GraphWriteError{BatchIndex: i, QueryCount: len(queries), Cause: err}
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, &apperrors.GraphWriteError{BatchIndex: i, QueryCount: len(queries), Cause: err}
		}
		results = append(results, records)
	}

	return results, nil
}

// StreamGraph executes queries sequentially in batches of batchSize; after
// each batch it calls emit with the deduplicated delta of touched nodes and
// relationships. The gate is checked between batches and iteration stops
// cleanly when the run is cancelled.
func (w *Writer) StreamGraph(
	ctx context.Context,
	queries []Query,
	batchSize int,
	gate ContinueFunc,
	emit func(StreamBatch) error,
) error {
	if len(queries) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = len(queries)
	}

	session := w.session(ctx)
	defer session.Close(ctx)

	totalBatches := (len(queries) + batchSize - 1) / batchSize

	for batch := 0; batch < totalBatches; batch++ {
		if gate != nil && !gate() {
			w.logger.Info("stream cancelled between batches",
				zap.Int("batch", batch),
				zap.Int("total_batches", totalBatches))
			return apperrors.ErrPipelineStopped
		}

		start := batch * batchSize
		end := min(start+batchSize, len(queries))

		collector := newDeltaCollector()
		for i, q := range queries[start:end] {
			result, err := session.Run(ctx, q.Cypher, q.Params)
			if err != nil {
				return &apperrors.GraphWriteError{BatchIndex: start + i, QueryCount: len(queries), Cause: err}
			}
			records, err := result.Collect(ctx)
			if err != nil {
				return &apperrors.GraphWriteError{BatchIndex: start + i, QueryCount: len(queries), Cause: err}
			}
			for _, record := range records {
				collector.addRecord(record)
			}
		}

		if emit != nil {
			if err := emit(StreamBatch{
				Delta:        collector.delta(),
				Batch:        batch + 1,
				TotalBatches: totalBatches,
			}); err != nil {
				return err
			}
		}
	}

	return nil
}

// BatchUnwind executes one parameterised UNWIND query per sub-batch of items
// and aggregates the touched nodes and relationships. The query must refer to
// the batch parameter as $items. Used by the DDL loader to collapse thousands
// of single-node MERGEs into a handful of calls.
func (w *Writer) BatchUnwind(ctx context.Context, cypher string, items []map[string]any, batchSize int) (Delta, error) {
	var delta Delta
	if len(items) == 0 {
		return delta, nil
	}
	if batchSize < 1 {
		batchSize = len(items)
	}

	session := w.session(ctx)
	defer session.Close(ctx)

	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))

		result, err := session.Run(ctx, cypher, map[string]any{"items": items[start:end]})
		if err != nil {
			return delta, &apperrors.GraphWriteError{BatchIndex: start / batchSize, QueryCount: len(items), Cause: err}
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return delta, &apperrors.GraphWriteError{BatchIndex: start / batchSize, QueryCount: len(items), Cause: err}
		}

		collector := newDeltaCollector()
		for _, record := range records {
			collector.addRecord(record)
		}
		delta.Merge(collector.delta())
	}

	return delta, nil
}

// CheckNodesExist probes whether every (directory, file_name) pair already
// has a FILE node, with a single UNWIND query.
func (w *Writer) CheckNodesExist(ctx context.Context, pairs []models.SourceFile) (bool, error) {
	if len(pairs) == 0 {
		return false, nil
	}

	items := make([]map[string]any, len(pairs))
	for i, p := range pairs {
		items[i] = map[string]any{"directory": p.Directory, "file_name": p.FileName}
	}

	results, err := w.Execute(ctx, []Query{{
		Cypher: `UNWIND $pairs AS p
		         MATCH (f:FILE {directory: p.directory, file_name: p.file_name})
		         RETURN count(f) AS found`,
		Params: map[string]any{"pairs": items},
	}})
	if err != nil {
		return false, err
	}

	if len(results) == 0 || len(results[0]) == 0 {
		return false, nil
	}
	found, _ := results[0][0].Get("found")
	count, ok := found.(int64)
	return ok && count == int64(len(pairs)), nil
}

func (w *Writer) session(ctx context.Context) neo4j.SessionWithContext {
	return w.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: w.database})
}
