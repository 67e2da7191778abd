package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
	"github.com/codeatlas-io/codeatlas-engine/pkg/llm"
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

func testPipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		MaxFileWorkers:      2,
		MaxLLMWorkers:       2,
		MaxBatchTokens:      3000,
		GraphQueryBatchSize: 100,
		QueueWaitTimeoutSec: 5,
		SourceDB:            "postgres",
	}
}

func newTestGenerator(client llm.Client) *ContextGenerator {
	logger := zap.NewNop()
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 2}, logger)
	return NewContextGenerator(client, pool, testPipelineConfig(), logger)
}

// buildTree wires FILE -> IF -> (nested IF -> SELECT, SELECT).
func buildTree() []*models.StatementNode {
	file := &models.StatementNode{NodeType: "FILE", StartLine: 1, EndLine: 30, OK: true,
		ContextReady: models.NewSignal(), Completion: models.NewSignal()}
	outer := parent(2)
	inner := parent(4)
	s1 := leaf(6, 10)
	s2 := leaf(15, 10)

	outer.Parent = file
	inner.Parent = outer
	s1.Parent = inner
	s2.Parent = outer
	file.Children = []*models.StatementNode{outer}
	outer.Children = []*models.StatementNode{inner, s2}
	inner.Children = []*models.StatementNode{s1}

	return []*models.StatementNode{file, outer, inner, s1, s2}
}

func staticSkeleton(*models.StatementNode) string { return "IF x THEN\n....\nEND IF" }

func TestGenerateSetsContextTopDown(t *testing.T) {
	client := &llm.MockClient{ResponseFunc: func(prompt, system string) (string, error) {
		return "loops over open orders", nil
	}}
	gen := newTestGenerator(client)

	nodes := buildTree()
	require.NoError(t, gen.Generate(context.Background(), nodes, staticSkeleton))

	outer, inner := nodes[1], nodes[2]
	assert.Equal(t, "loops over open orders", outer.Context)
	assert.Equal(t, "loops over open orders", inner.Context)
	assert.Equal(t, 2, client.CallCount())

	// Every node's signal fired, leaves and FILE included.
	for _, n := range nodes {
		assert.True(t, n.ContextReady.Fired(), "context_ready on %s:%d", n.NodeType, n.StartLine)
	}
}

func TestGenerateFiresSignalsOnNonParticipants(t *testing.T) {
	gen := newTestGenerator(&llm.MockClient{})

	file := &models.StatementNode{NodeType: "FILE", OK: true,
		ContextReady: models.NewSignal(), Completion: models.NewSignal()}
	s := leaf(2, 10)
	s.Parent = file
	file.Children = []*models.StatementNode{s}

	require.NoError(t, gen.Generate(context.Background(), []*models.StatementNode{file, s}, staticSkeleton))
	assert.True(t, file.ContextReady.Fired())
	assert.True(t, s.ContextReady.Fired())
}

func TestGenerateFailureIsFatalButFiresSignals(t *testing.T) {
	client := &llm.MockClient{Err: errors.New("model unavailable")}
	gen := newTestGenerator(client)

	nodes := buildTree()
	err := gen.Generate(context.Background(), nodes, staticSkeleton)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parent context generation failed")

	for _, n := range nodes {
		assert.True(t, n.ContextReady.Fired())
	}
}

func TestAncestorContextsOrder(t *testing.T) {
	nodes := buildTree()
	nodes[1].Context = "outer"
	nodes[2].Context = "inner"

	chain := ancestorContexts(nodes[3])
	assert.Equal(t, []string{"outer", "inner"}, chain)
}
