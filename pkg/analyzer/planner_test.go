package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

func leaf(start, tokens int) *models.StatementNode {
	return &models.StatementNode{
		NodeType: "SELECT", StartLine: start, EndLine: start + 1,
		Analyzable: true, Token: tokens, OK: true,
		ContextReady: models.NewSignal(), Completion: models.NewSignal(),
	}
}

func parent(start int) *models.StatementNode {
	return &models.StatementNode{
		NodeType: "IF", StartLine: start, EndLine: start + 10,
		Analyzable: true, HasChildren: true, Token: 10, OK: true,
		ContextReady: models.NewSignal(), Completion: models.NewSignal(),
	}
}

func excluded(nodeType string, start int) *models.StatementNode {
	return &models.StatementNode{
		NodeType: nodeType, StartLine: start, EndLine: start + 2, OK: true,
		ContextReady: models.NewSignal(), Completion: models.NewSignal(),
	}
}

func TestPlanBatchesAccumulatesLeavesUnderBudget(t *testing.T) {
	nodes := []*models.StatementNode{leaf(1, 100), leaf(3, 100), leaf(5, 100)}

	batches := PlanBatches(nodes, 1000)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Nodes, 3)
	assert.Equal(t, 300, batches[0].Tokens)
}

func TestPlanBatchesBudgetOverflowFlushes(t *testing.T) {
	nodes := []*models.StatementNode{leaf(1, 600), leaf(3, 600), leaf(5, 100)}

	batches := PlanBatches(nodes, 1000)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Nodes, 1)
	assert.Len(t, batches[1].Nodes, 2)
}

func TestPlanBatchesParentIsSingletonAfterLeaves(t *testing.T) {
	l1, l2 := leaf(5, 50), leaf(8, 50)
	p := parent(3)
	nodes := []*models.StatementNode{l1, l2, p, leaf(20, 50)}

	batches := PlanBatches(nodes, 1000)
	require.Len(t, batches, 3)
	assert.Equal(t, []*models.StatementNode{l1, l2}, batches[0].Nodes)
	assert.Equal(t, []*models.StatementNode{p}, batches[1].Nodes)
	assert.Len(t, batches[2].Nodes, 1)
}

func TestPlanBatchesSkipsNonAnalyzable(t *testing.T) {
	file := excluded("FILE", 1)
	nodes := []*models.StatementNode{file, leaf(2, 10)}

	batches := PlanBatches(nodes, 1000)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Nodes, 1)
}

func TestPlanBatchesReleasesUnplannedNodes(t *testing.T) {
	p := parent(1)
	spec := excluded("SPEC", 2)
	spec.Parent = p
	s := leaf(6, 10)
	s.Parent = p
	p.Children = []*models.StatementNode{spec, s}

	batches := PlanBatches([]*models.StatementNode{p, spec, s}, 1000)
	require.Len(t, batches, 2)

	// The parent waits on every child's completion; a child outside the
	// plan must already have fired or the parent would stall out.
	assert.True(t, spec.Completion.Fired())
	assert.True(t, spec.OK)
	assert.False(t, p.Completion.Fired())
	assert.False(t, s.Completion.Fired())
}

func TestPlanBatchesEmpty(t *testing.T) {
	assert.Empty(t, PlanBatches(nil, 1000))
	assert.Empty(t, PlanBatches([]*models.StatementNode{excluded("FILE", 1)}, 1000))
}

func TestPlanBatchesSingleLeafOverBudget(t *testing.T) {
	// A leaf larger than the budget still gets a batch of its own.
	nodes := []*models.StatementNode{leaf(1, 5000)}
	batches := PlanBatches(nodes, 1000)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Nodes, 1)
}

func TestBatchLineRanges(t *testing.T) {
	b := &Batch{}
	b.add(leaf(5, 10))
	b.add(leaf(9, 10))
	assert.Equal(t, [][2]int{{5, 6}, {9, 10}}, b.LineRanges())
}
