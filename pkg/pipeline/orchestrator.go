package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/analyzer"
	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/ast"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/ddl"
	"github.com/codeatlas-io/codeatlas-engine/pkg/enrichment"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/lineage"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
	"github.com/codeatlas-io/codeatlas-engine/pkg/sampling"
	"github.com/codeatlas-io/codeatlas-engine/pkg/vectorizer"
)

// Orchestrator runs the analysis phases in order against one project
// directory, owning the single cypher mutex that serialises every graph
// write path.
type Orchestrator struct {
	cfg        *config.Config
	writer     *graph.Writer
	emitter    *events.Emitter
	controller *Controller
	client     llm.Client
	embedder   llm.Embedder
	sampler    sampling.Sampler
	logger     *zap.Logger

	cypher sync.Mutex
}

// NewOrchestrator wires the phase runners' shared dependencies. sampler may
// be nil when no sampling backend is configured.
func NewOrchestrator(
	cfg *config.Config,
	writer *graph.Writer,
	emitter *events.Emitter,
	controller *Controller,
	client llm.Client,
	embedder llm.Embedder,
	sampler sampling.Sampler,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		writer:     writer,
		emitter:    emitter,
		controller: controller,
		client:     client,
		embedder:   embedder,
		sampler:    sampler,
		logger:     logger.Named("orchestrator"),
	}
}

// fileWork carries one source file through the phases.
type fileWork struct {
	file   models.SourceFile
	path   string
	proc   *ast.Processor
	status models.FileStatus
}

// Run executes the full pipeline. The terminal event (complete or error,
// with a trace id) is always emitted before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	traceID := uuid.New().String()
	start := time.Now()

	audit, err := openAuditLog(o.cfg.ProjectDir)
	if err != nil {
		o.logger.Warn("audit log unavailable", zap.Error(err))
	}
	defer audit.close()
	audit.record(traceID, "run", "started")

	o.controller.Reset()

	runErr := o.run(ctx, traceID, audit)
	if runErr != nil {
		if errors.Is(runErr, apperrors.ErrPipelineStopped) {
			o.controller.SetState(models.StateCancelled)
		} else {
			o.controller.SetState(models.StateFailed)
		}
		audit.record(traceID, "run", "failed: "+runErr.Error())
		o.emitter.Error(classifyError(runErr), runErr.Error(), traceID)
		return runErr
	}

	o.controller.SetState(models.StateCompleted)
	audit.record(traceID, "run", "completed")
	o.emitter.Complete(map[string]any{
		"trace_id":    traceID,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

func (o *Orchestrator) run(ctx context.Context, traceID string, audit *auditLog) error {
	gate := func() bool { return o.controller.CheckContinue(ctx) }

	if err := o.writer.EnsureConstraints(ctx); err != nil {
		return err
	}

	// Phase 0 — DDL bulk load.
	o.controller.SetState(models.StateDDLProcessing)
	audit.record(traceID, "0", "ddl load started")
	o.emitter.Phase("0", "ddl_loader", "started", 0, nil)

	loader := ddl.NewLoader(o.writer, o.emitter, &o.cypher, &o.cfg.Pipeline, o.logger)
	ddlCache, err := loader.Run(ctx, filepath.Join(o.cfg.ProjectDir, "ddl"), gate)
	if err != nil {
		return err
	}
	o.emitter.Phase("0", "ddl_loader", "done", 1, nil)

	// Phase 1 — static graph per source file.
	o.controller.SetState(models.StateASTGeneration)
	files, err := o.scanSources()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		o.emitter.Message("no source files found")
		return nil
	}
	audit.record(traceID, "1", fmt.Sprintf("static graph for %d files", len(files)))

	if err := o.runStaticPhase(ctx, files, ddlCache); err != nil {
		return err
	}

	// Phases 1½ and 2 — parent context, then LLM batches per file.
	o.controller.SetState(models.StateLLMAnalysis)
	audit.record(traceID, "2", "llm analysis started")

	store := analyzer.NewSummaryStore()
	an := analyzer.New(o.client, o.writer, o.emitter, o.controller, &o.cypher, &o.cfg.Pipeline, o.logger)
	if err := o.runLLMPhase(ctx, files, an, store); err != nil {
		return err
	}

	allUnits := make(map[string]*models.UnitInfo)
	for _, fw := range files {
		for k, u := range fw.proc.Units() {
			allUnits[k] = u
		}
	}
	if err := an.CondenseUnits(ctx, allUnits, store); err != nil {
		return err
	}
	if err := an.EnrichAnalyzedDescriptions(ctx, store); err != nil {
		return err
	}

	// Phase 3.5 — metadata enrichment.
	o.controller.SetState(models.StateTableEnrichment)
	audit.record(traceID, "3.5", "enrichment started")
	enricher := enrichment.NewEnricher(o.client, o.writer, o.sampler, o.emitter,
		o.controller, &o.cypher, &o.cfg.Pipeline, o.logger)
	if err := enricher.Run(ctx); err != nil {
		return err
	}

	// Phase 4 — vectoriser.
	o.controller.SetState(models.StateVectorizing)
	audit.record(traceID, "4", "vectorizing started")
	vec := vectorizer.New(o.embedder, o.writer, o.emitter, o.controller,
		&o.cypher, &o.cfg.Pipeline, o.logger)
	if err := vec.Run(ctx); err != nil {
		return err
	}

	// Phase 5 — lineage.
	audit.record(traceID, "5", "lineage started")
	lin := lineage.NewRunner(o.writer, o.emitter, o.controller, &o.cypher, &o.cfg.Pipeline, o.logger)
	return lin.Run(ctx, filepath.Join(o.cfg.ProjectDir, "src"))
}

// scanSources lists every .sql file under <project>/src, keyed by its
// directory relative to the src root.
func (o *Orchestrator) scanSources() ([]*fileWork, error) {
	srcDir := filepath.Join(o.cfg.ProjectDir, "src")

	var files []*fileWork
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".sql") {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		files = append(files, &fileWork{
			file: models.SourceFile{
				Directory: filepath.ToSlash(filepath.Dir(rel)),
				FileName:  filepath.Base(path),
			},
			path:   path,
			status: models.FilePending,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan source directory: %w", err)
	}
	return files, nil
}

// astPath returns the pre-parsed AST JSON location for a source file:
// <project>/analysis/<directory>/<basename>.json.
func (o *Orchestrator) astPath(fw *fileWork) string {
	base := strings.TrimSuffix(fw.file.FileName, filepath.Ext(fw.file.FileName))
	return filepath.Join(o.cfg.ProjectDir, "analysis", filepath.FromSlash(fw.file.Directory), base+".json")
}

// runStaticPhase builds and streams the static graph for every file,
// bounded by the file worker semaphore. Any failure aborts the run.
func (o *Orchestrator) runStaticPhase(ctx context.Context, files []*fileWork, ddlCache *models.DDLCache) error {
	sem := make(chan struct{}, o.cfg.Pipeline.MaxFileWorkers)
	errs := make(chan error, len(files))
	var wg sync.WaitGroup

	for _, fw := range files {
		wg.Add(1)
		go func(fw *fileWork) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if !o.controller.CheckContinue(ctx) {
				errs <- apperrors.ErrPipelineStopped
				return
			}
			if err := o.processFile(ctx, fw, ddlCache); err != nil {
				fw.status = models.FilePh1Fail
				errs <- fmt.Errorf("%s/%s: %w", fw.file.Directory, fw.file.FileName, err)
				return
			}
			fw.status = models.FilePh1Done
		}(fw)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}

	pairs := make([]models.SourceFile, len(files))
	for i, fw := range files {
		pairs[i] = fw.file
	}
	ok, err := o.writer.CheckNodesExist(ctx, pairs)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("static graph incomplete: missing FILE nodes after phase 1")
	}
	return nil
}

func (o *Orchestrator) processFile(ctx context.Context, fw *fileWork, ddlCache *models.DDLCache) error {
	content, err := os.ReadFile(fw.path)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	root, err := ast.LoadAST(o.astPath(fw))
	if err != nil {
		return err
	}

	defaultSchema := ddl.ResolveDefaultSchema(fw.path, ddlCache)
	proc := ast.NewProcessor(
		fw.file.Directory, fw.file.FileName,
		strings.Split(string(content), "\n"),
		ddlCache, defaultSchema, o.cfg.Pipeline.SourceDB, o.logger)

	if err := proc.CollectNodes(root); err != nil {
		return err
	}
	fw.proc = proc

	queries := proc.BuildQueries()

	o.cypher.Lock()
	defer o.cypher.Unlock()

	return o.writer.StreamGraph(ctx, queries, o.cfg.Pipeline.GraphQueryBatchSize,
		func() bool { return o.controller.CheckContinue(ctx) },
		func(sb graph.StreamBatch) error {
			o.emitter.Data(sb.Delta)
			o.emitter.Phase("1", "static_graph", "batch_progress",
				float64(sb.Batch)/float64(sb.TotalBatches),
				map[string]any{
					"file":          fw.file.FileName,
					"batch":         sb.Batch,
					"total_batches": sb.TotalBatches,
				})
			return nil
		})
}

// runLLMPhase runs context generation and batch analysis per file, bounded
// by the file worker semaphore, each file under its own LLM timeout.
func (o *Orchestrator) runLLMPhase(ctx context.Context, files []*fileWork, an *analyzer.Analyzer, store *analyzer.SummaryStore) error {
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: o.cfg.Pipeline.MaxLLMWorkers}, o.logger)
	ctxGen := analyzer.NewContextGenerator(o.client, pool, &o.cfg.Pipeline, o.logger)

	fileTimeout := time.Duration(o.cfg.Pipeline.FileLLMTimeoutSec) * time.Second
	if fileTimeout <= 0 {
		fileTimeout = 10 * time.Minute
	}

	sem := make(chan struct{}, o.cfg.Pipeline.MaxFileWorkers)
	errs := make(chan error, len(files))
	var wg sync.WaitGroup

	for _, fw := range files {
		if fw.status != models.FilePh1Done {
			continue
		}
		wg.Add(1)
		go func(fw *fileWork) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fileCtx, cancel := context.WithTimeout(ctx, fileTimeout)
			defer cancel()

			nodes := fw.proc.Nodes()
			if err := ctxGen.Generate(fileCtx, nodes, fw.proc.ContextSkeleton); err != nil {
				fw.status = models.FilePh2Fail
				errs <- fmt.Errorf("%s/%s: %w", fw.file.Directory, fw.file.FileName, err)
				return
			}
			if err := an.AnalyzeFile(fileCtx, fw.file, nodes, store); err != nil {
				fw.status = models.FilePh2Fail
				errs <- err
				return
			}
			fw.status = models.FilePh2Done
		}(fw)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		return err
	}
	return nil
}

// classifyError maps an error to the event stream's error kinds.
func classifyError(err error) string {
	var llmErr *llm.Error
	var graphErr *apperrors.GraphWriteError
	var procErr *apperrors.ProcessorError
	var batchErr *apperrors.BatchError

	switch {
	case errors.Is(err, apperrors.ErrPipelineStopped), errors.Is(err, context.Canceled):
		return "pipeline_control"
	case errors.As(err, &graphErr):
		return "graph_write"
	case errors.As(err, &llmErr), errors.As(err, &batchErr):
		return "llm"
	case errors.As(err, &procErr), errors.Is(err, apperrors.ErrASTNotFound):
		return "ast_processor"
	case errors.Is(err, apperrors.ErrSamplerUnavailable):
		return "enrichment"
	case errors.Is(err, os.ErrNotExist):
		return "config_io"
	default:
		return "unknown"
	}
}
