package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
	"github.com/codeatlas-io/codeatlas-engine/pkg/prompts"
	"github.com/codeatlas-io/codeatlas-engine/pkg/retry"
)

// SkeletonFunc renders a parent node's code with child regions collapsed.
type SkeletonFunc func(*models.StatementNode) string

// ContextGenerator produces the natural-language context string for every
// parent node before batching. Contexts are threaded into child prompts so
// the LLM understands enclosing conditions without re-receiving the code.
type ContextGenerator struct {
	client llm.Client
	pool   *llm.WorkerPool
	cfg    *config.PipelineConfig
	logger *zap.Logger
}

// NewContextGenerator creates the parent-context phase runner.
func NewContextGenerator(client llm.Client, pool *llm.WorkerPool, cfg *config.PipelineConfig, logger *zap.Logger) *ContextGenerator {
	return &ContextGenerator{
		client: client,
		pool:   pool,
		cfg:    cfg,
		logger: logger.Named("context-gen"),
	}
}

// Generate walks parents top-down, one depth level at a time, levels
// processed in parallel under the worker pool. Every node's context_ready
// signal fires before Generate returns, participants and non-participants
// alike, so downstream waits can be uniform. A single failed context call
// fails the phase.
func (g *ContextGenerator) Generate(ctx context.Context, nodes []*models.StatementNode, skeleton SkeletonFunc) error {
	var participants []*models.StatementNode
	for _, n := range nodes {
		if n.HasChildren && n.Analyzable {
			participants = append(participants, n)
		} else {
			n.ContextReady.Fire()
		}
	}
	// Whatever happens below, nothing may stay parked on these signals.
	defer func() {
		for _, n := range participants {
			n.ContextReady.Fire()
		}
	}()

	if len(participants) == 0 {
		return nil
	}

	byDepth := make(map[int][]*models.StatementNode)
	var depths []int
	for _, n := range participants {
		d := n.Depth()
		if _, seen := byDepth[d]; !seen {
			depths = append(depths, d)
		}
		byDepth[d] = append(byDepth[d], n)
	}
	sort.Ints(depths)

	for _, depth := range depths {
		level := byDepth[depth]

		items := make([]llm.WorkItem[struct{}], len(level))
		for i, node := range level {
			node := node
			items[i] = llm.WorkItem[struct{}]{
				ID: fmt.Sprintf("%s:%d", node.FileName, node.StartLine),
				Execute: func(ctx context.Context) (struct{}, error) {
					return struct{}{}, g.generateOne(ctx, node, skeleton)
				},
			}
		}

		results := llm.Process(ctx, g.pool, items, nil)
		for _, r := range results {
			if r.Err != nil {
				return fmt.Errorf("parent context generation failed for %s: %w", r.ID, r.Err)
			}
		}
	}

	return nil
}

func (g *ContextGenerator) generateOne(ctx context.Context, node *models.StatementNode, skeleton SkeletonFunc) error {
	defer node.ContextReady.Fire()

	if node.Parent != nil {
		if err := awaitSignal(ctx, node.Parent.ContextReady, g.cfg.QueueWaitTimeoutSec,
			"parent context"); err != nil {
			return err
		}
	}

	prompt := prompts.BuildParentContextPrompt(node.NodeType, skeleton(node), ancestorContexts(node))

	result, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*llm.GenerateResponseResult, error) {
		return g.client.GenerateResponse(ctx, prompt, prompts.ContextSystemPrompt, 0.2)
	})
	if err != nil {
		return err
	}

	node.Context = result.Content
	g.logger.Debug("context generated",
		zap.String("file", node.FileName),
		zap.Int("start_line", node.StartLine),
		zap.Int("depth", node.Depth()))
	return nil
}

// ancestorContexts collects the context strings up the parent chain,
// outermost first.
func ancestorContexts(node *models.StatementNode) []string {
	var chain []string
	for p := node.Parent; p != nil; p = p.Parent {
		if p.Context != "" {
			chain = append([]string{p.Context}, chain...)
		}
	}
	return chain
}

// awaitSignal blocks on a signal with the configured queue-wait timeout.
func awaitSignal(ctx context.Context, sig *models.Signal, timeoutSec int, what string) error {
	if timeoutSec < 1 {
		timeoutSec = 300
	}
	timer := time.NewTimer(time.Duration(timeoutSec) * time.Second)
	defer timer.Stop()

	select {
	case <-sig.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %ds waiting for %s", timeoutSec, what)
	}
}
