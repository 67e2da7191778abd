package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/events"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/logging"
	"github.com/codeatlas-io/codeatlas-engine/pkg/pipeline"
	"github.com/codeatlas-io/codeatlas-engine/pkg/sampling"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("project_dir", cfg.ProjectDir),
		zap.String("graph_uri", cfg.Graph.URI),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer, err := graph.NewWriter(ctx, &cfg.Graph, logger)
	if err != nil {
		logger.Fatal("failed to connect to graph store", zap.Error(err))
	}
	defer writer.Close(ctx)

	client, err := llm.NewClientFromConfig(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to build llm client", zap.Error(err))
	}
	embedder, err := llm.NewEmbedderFromConfig(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to build embedder", zap.Error(err))
	}

	sampler, err := sampling.NewFromConfig(&cfg.Sampler, logger)
	if err != nil {
		if !errors.Is(err, apperrors.ErrSamplerUnavailable) {
			logger.Fatal("failed to build sampler", zap.Error(err))
		}
		logger.Info("no sampler configured; enrichment will be skipped")
		sampler = nil
	}
	if sampler != nil {
		defer sampler.Close(ctx)
	}

	emitter := events.NewEmitter(os.Stdout, logger)
	defer emitter.Close()

	controller := pipeline.NewController(logger)

	// First signal requests a clean stop at the next batch boundary; a
	// second one cancels outright.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("stop requested, finishing current batch")
		controller.Stop()
		<-sigCh
		cancel()
	}()

	orch := pipeline.NewOrchestrator(cfg, writer, emitter, controller, client, embedder, sampler, logger)
	if err := orch.Run(ctx); err != nil {
		logger.Error("analysis run failed", zap.Error(err))
		emitter.Close()
		os.Exit(1)
	}

	logger.Info("analysis run completed")
}
