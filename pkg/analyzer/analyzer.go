package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/ast"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
	"github.com/codeatlas-io/codeatlas-engine/pkg/prompts"
	"github.com/codeatlas-io/codeatlas-engine/pkg/retry"
)

// Gate is the pipeline-control check called at every batch boundary.
type Gate interface {
	CheckContinue(ctx context.Context) bool
}

// Analyzer executes planned LLM batches for one file: dependency waits,
// the LLM call, summary extraction and the resulting graph updates.
type Analyzer struct {
	client  llm.Client
	writer  *graph.Writer
	emitter *events.Emitter
	gate    Gate
	cypher  *sync.Mutex
	cfg     *config.PipelineConfig
	logger  *zap.Logger
}

// New creates the Phase 2 runner. The cypher mutex is the orchestrator's
// write-path lock shared across phases.
func New(
	client llm.Client,
	writer *graph.Writer,
	emitter *events.Emitter,
	gate Gate,
	cypher *sync.Mutex,
	cfg *config.PipelineConfig,
	logger *zap.Logger,
) *Analyzer {
	return &Analyzer{
		client:  client,
		writer:  writer,
		emitter: emitter,
		gate:    gate,
		cypher:  cypher,
		cfg:     cfg,
		logger:  logger.Named("analyzer"),
	}
}

// AnalyzeFile runs every planned batch for one file concurrently. Batches
// wait on the exact signals they need (parent context_ready, children
// completion) instead of a topological sort; the worker semaphore bounds
// only the LLM call section so a waiting parent never starves its children
// of a slot. Any batch failure fails the file.
func (a *Analyzer) AnalyzeFile(
	ctx context.Context,
	file models.SourceFile,
	nodes []*models.StatementNode,
	store *SummaryStore,
) error {
	batches := PlanBatches(nodes, a.cfg.MaxBatchTokens)
	if len(batches) == 0 {
		a.emitter.Message(fmt.Sprintf("no batches for %s/%s", file.Directory, file.FileName))
		return nil
	}

	a.logger.Info("analyzing file",
		zap.String("directory", file.Directory),
		zap.String("file", file.FileName),
		zap.Int("batches", len(batches)))

	sem := make(chan struct{}, a.cfg.MaxLLMWorkers)
	errs := make(chan error, len(batches))
	var wg sync.WaitGroup

	for _, b := range batches {
		wg.Add(1)
		go func(b *Batch) {
			defer wg.Done()
			if err := a.executeBatch(ctx, b, store, sem); err != nil {
				errs <- &apperrors.BatchError{NodeRanges: b.LineRanges(), Cause: err}
			}
		}(b)
	}
	wg.Wait()
	close(errs)

	var failed []error
	for err := range errs {
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		a.logger.Error("file analysis failed",
			zap.String("file", file.FileName),
			zap.Int("failed_batches", len(failed)),
			zap.Error(failed[0]))
		return fmt.Errorf("%d of %d batches failed for %s/%s: %w",
			len(failed), len(batches), file.Directory, file.FileName, failed[0])
	}

	a.emitter.FileComplete(file.Directory, file.FileName)
	return nil
}

// executeBatch runs one batch end to end. Completion fires on every node on
// every exit path; on failure all nodes are additionally marked not OK so
// parents observe the failure.
func (a *Analyzer) executeBatch(ctx context.Context, b *Batch, store *SummaryStore, sem chan struct{}) (err error) {
	defer func() {
		for _, n := range b.Nodes {
			if err != nil {
				n.OK = false
			}
			n.Completion.Fire()
		}
	}()

	// Dependency waits happen before a worker slot is held.
	for _, n := range b.Nodes {
		if n.Parent != nil {
			if err = awaitSignal(ctx, n.Parent.ContextReady, a.cfg.QueueWaitTimeoutSec, "parent context"); err != nil {
				return err
			}
		}
		if n.HasChildren {
			for _, child := range n.Children {
				if err = awaitSignal(ctx, child.Completion, a.cfg.QueueWaitTimeoutSec, "child completion"); err != nil {
					return err
				}
				if !child.OK {
					n.OK = false
				}
			}
		}
	}

	for _, n := range b.Nodes {
		if !n.OK {
			return fmt.Errorf("child of node at lines %d-%d failed, propagating", n.StartLine, n.EndLine)
		}
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if !a.gate.CheckContinue(ctx) {
		return apperrors.ErrPipelineStopped
	}

	resp, err := a.invoke(ctx, b)
	if err != nil {
		return err
	}

	queries, err := a.applyResponse(b, resp, store)
	if err != nil {
		return err
	}

	return a.stream(ctx, queries)
}

// analysisResponse is the JSON shape the analysis prompt requests.
type analysisResponse struct {
	Analysis []analysisItem `json:"analysis"`
}

type analysisItem struct {
	Index   int             `json:"index"`
	Summary string          `json:"summary"`
	Tables  []analysisTable `json:"tables"`
	Calls   []analysisCall  `json:"calls"`
	DBLinks []analysisLink  `json:"db_links"`
}

type analysisTable struct {
	Schema  string   `json:"schema"`
	Name    string   `json:"name"`
	Access  string   `json:"access"`
	Columns []string `json:"columns"`
}

type analysisCall struct {
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

type analysisLink struct {
	Table string `json:"table"`
	Link  string `json:"link"`
	Mode  string `json:"mode"`
}

func (a *Analyzer) invoke(ctx context.Context, b *Batch) (*analysisResponse, error) {
	blocks := make([]prompts.BlockContext, len(b.Nodes))
	for i, n := range b.Nodes {
		blocks[i] = prompts.BlockContext{
			Index:     i + 1,
			NodeType:  n.NodeType,
			StartLine: n.StartLine,
			EndLine:   n.EndLine,
			Code:      batchCode(n),
			Context:   strings.Join(ancestorContexts(n), " "),
		}
	}
	prompt := prompts.BuildBlockAnalysisPrompt(blocks)

	// Parsing happens inside the retry so a malformed response gets a fresh
	// attempt, not just transport failures.
	parsed, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (analysisResponse, error) {
		result, err := a.client.GenerateResponse(ctx, prompt, prompts.AnalysisSystemPrompt, 0.1)
		if err != nil {
			return analysisResponse{}, err
		}
		return llm.ParseJSONResponse[analysisResponse](result.Content)
	})
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// batchCode is the compact per-node code: raw for leaves, child summaries
// substituted into the skeleton for parents.
func batchCode(n *models.StatementNode) string {
	if !n.HasChildren {
		return n.NodeCode
	}

	code := n.SummarizedCode
	for _, child := range n.Children {
		placeholder := fmt.Sprintf("-- <block lines %d-%d>", child.StartLine, child.EndLine)
		summary := child.Summary
		if summary == "" {
			summary = "(no summary)"
		}
		code = strings.Replace(code, placeholder, "-- "+summary, 1)
	}
	return code
}

// applyResponse maps extracted summaries back onto nodes, feeds the summary
// store and builds the update queries.
func (a *Analyzer) applyResponse(b *Batch, resp *analysisResponse, store *SummaryStore) ([]graph.Query, error) {
	byIndex := make(map[int]analysisItem, len(resp.Analysis))
	for _, item := range resp.Analysis {
		byIndex[item.Index] = item
	}

	var queries []graph.Query

	for i, n := range b.Nodes {
		item, ok := byIndex[i+1]
		if !ok {
			return nil, llm.NewError(llm.ErrorTypeParse,
				fmt.Sprintf("response missing analysis for block %d (lines %d-%d)", i+1, n.StartLine, n.EndLine),
				false, nil)
		}

		n.Summary = item.Summary
		store.AddUnit(UnitKeyFor(n), n.StartLine, item.Summary)

		queries = append(queries, a.summaryQuery(n))
		queries = append(queries, a.tableEdgeQueries(n, item, store)...)
		queries = append(queries, a.callQueries(n, item.Calls)...)
		queries = append(queries, a.dbLinkQueries(n, item.DBLinks)...)
	}

	return queries, nil
}

func (a *Analyzer) summaryQuery(n *models.StatementNode) graph.Query {
	return graph.Query{
		Cypher: fmt.Sprintf(
			"MATCH (n:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
				"SET n.summary = $summary, n.context = $context\nRETURN n",
			ast.NodeLabel(n.NodeType)),
		Params: map[string]any{
			"directory":  n.Directory,
			"file_name":  n.FileName,
			"start_line": n.StartLine,
			"summary":    n.Summary,
			"context":    n.Context,
		},
	}
}

// tableEdgeQueries links the node to each table the LLM reported, MERGEs the
// reported columns and records DML summaries for the table enrichment pass.
func (a *Analyzer) tableEdgeQueries(n *models.StatementNode, item analysisItem, store *SummaryStore) []graph.Query {
	var queries []graph.Query
	accessRel := map[string]string{"r": "FROM", "w": "WRITES", "x": "EXECUTE"}

	for _, t := range item.Tables {
		schema := strings.ToLower(t.Schema)
		if schema == "" {
			schema = strings.ToLower(n.SchemaName)
		}
		if schema == "" {
			schema = "public"
		}
		table := strings.ToUpper(t.Name)
		if table == "" {
			continue
		}

		relType, ok := accessRel[t.Access]
		if !ok {
			relType = "FROM"
		}

		store.AddTable(schema, table, n.StartLine, n.Summary)

		queries = append(queries, graph.Query{
			Cypher: fmt.Sprintf(
				"MATCH (s:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
					"MERGE (t:Table {db: $db, schema: $schema, name: $table})\n"+
					"MERGE (s)-[r:%s]->(t)\nRETURN s, r, t",
				ast.NodeLabel(n.NodeType), relType),
			Params: map[string]any{
				"directory":  n.Directory,
				"file_name":  n.FileName,
				"start_line": n.StartLine,
				"db":         a.cfg.SourceDB,
				"schema":     schema,
				"table":      table,
			},
		})

		for _, col := range t.Columns {
			queries = append(queries, graph.Query{
				Cypher: "MERGE (t:Table {db: $db, schema: $schema, name: $table})\n" +
					"MERGE (c:Column {fqn: $fqn})\nSET c.name = $name\n" +
					"MERGE (t)-[r:HAS_COLUMN]->(c)\nRETURN t, r, c",
				Params: map[string]any{
					"db":     a.cfg.SourceDB,
					"schema": schema,
					"table":  table,
					"fqn":    models.ColumnFQN(schema, table, col),
					"name":   strings.ToUpper(col),
				},
			})
		}
	}

	return queries
}

// callQueries links the node to callee units by procedure name. Unresolvable
// callees simply match nothing.
func (a *Analyzer) callQueries(n *models.StatementNode, calls []analysisCall) []graph.Query {
	var queries []graph.Query
	for _, c := range calls {
		if c.Name == "" {
			continue
		}
		queries = append(queries, graph.Query{
			Cypher: fmt.Sprintf(
				"MATCH (s:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
					"MATCH (callee) WHERE toLower(callee.procedure_name) = $callee\n"+
					"MERGE (s)-[r:CALL {scope: $scope}]->(callee)\nRETURN s, r, callee",
				ast.NodeLabel(n.NodeType)),
			Params: map[string]any{
				"directory":  n.Directory,
				"file_name":  n.FileName,
				"start_line": n.StartLine,
				"callee":     strings.ToLower(c.Name),
				"scope":      c.Scope,
			},
		})
	}
	return queries
}

func (a *Analyzer) dbLinkQueries(n *models.StatementNode, links []analysisLink) []graph.Query {
	var queries []graph.Query
	for _, l := range links {
		if l.Table == "" || l.Link == "" {
			continue
		}
		queries = append(queries, graph.Query{
			Cypher: fmt.Sprintf(
				"MATCH (s:`%s` {directory: $directory, file_name: $file_name, start_line: $start_line})\n"+
					"MERGE (t:Table {db: $db, schema: $schema, name: $table})\n"+
					"MERGE (dbl:DBLink {name: $link})\n"+
					"MERGE (dbl)-[lc:CONTAINS]->(t)\n"+
					"MERGE (s)-[r:DB_LINK {mode: $mode}]->(t)\nRETURN s, r, t, dbl, lc",
				ast.NodeLabel(n.NodeType)),
			Params: map[string]any{
				"directory":  n.Directory,
				"file_name":  n.FileName,
				"start_line": n.StartLine,
				"db":         a.cfg.SourceDB,
				"schema":     strings.ToLower(n.SchemaName),
				"table":      strings.ToUpper(l.Table),
				"link":       l.Link,
				"mode":       l.Mode,
			},
		})
	}
	return queries
}

// stream writes queries in sub-batches under the cypher mutex, emitting a
// batch_progress event with the graph delta after each sub-batch.
func (a *Analyzer) stream(ctx context.Context, queries []graph.Query) error {
	if len(queries) == 0 {
		return nil
	}

	a.cypher.Lock()
	defer a.cypher.Unlock()

	return a.writer.StreamGraph(ctx, queries, a.cfg.GraphQueryBatchSize,
		func() bool { return a.gate.CheckContinue(ctx) },
		func(sb graph.StreamBatch) error {
			a.emitter.Data(sb.Delta)
			a.emitter.Phase("2", "llm_analyzer", "batch_progress",
				float64(sb.Batch)/float64(sb.TotalBatches),
				map[string]any{"batch": sb.Batch, "total_batches": sb.TotalBatches})
			return nil
		})
}
