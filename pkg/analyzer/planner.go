// Package analyzer implements the LLM analysis phases: parent context
// generation, token-bounded batch planning, concurrent batch execution with
// child-before-parent ordering, and summary condensation.
package analyzer

import (
	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

// Batch is one LLM call's worth of nodes. Either a run of leaves under the
// token budget, or a single parent node.
type Batch struct {
	Nodes  []*models.StatementNode
	Tokens int

	// DMLRanges aggregates the DML-kind tags of the batch's nodes.
	DMLRanges []models.DMLRange
}

// LineRanges returns each node's (start, end) pair, used in failure reports.
func (b *Batch) LineRanges() [][2]int {
	ranges := make([][2]int, len(b.Nodes))
	for i, n := range b.Nodes {
		ranges[i] = n.LineRange()
	}
	return ranges
}

func (b *Batch) add(n *models.StatementNode) {
	b.Nodes = append(b.Nodes, n)
	b.Tokens += n.Token
	b.DMLRanges = append(b.DMLRanges, n.DMLRanges...)
}

// PlanBatches walks the flat node list in order and groups analysable nodes
// into batches. Leaves accumulate under the token budget; a parent flushes
// the accumulator and then forms a singleton batch of its own, so its batch
// appears after all its children's batches in the plan. Nodes excluded from
// the plan have their completion fired immediately, mirroring how context
// generation fires context_ready for non-participants.
func PlanBatches(nodes []*models.StatementNode, maxBatchTokens int) []*Batch {
	var batches []*Batch
	acc := &Batch{}

	flush := func() {
		if len(acc.Nodes) > 0 {
			batches = append(batches, acc)
			acc = &Batch{}
		}
	}

	for _, n := range nodes {
		if !n.Analyzable {
			// Parents wait on every child's completion, planned or not.
			n.Completion.Fire()
			continue
		}

		if n.HasChildren {
			flush()
			parent := &Batch{}
			parent.add(n)
			batches = append(batches, parent)
			continue
		}

		if len(acc.Nodes) > 0 && acc.Tokens+n.Token > maxBatchTokens {
			flush()
		}
		acc.add(n)
	}
	flush()

	return batches
}
