package enrichment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
)

// fakeSampler serves canned column samples keyed "schema.table.column".
type fakeSampler struct {
	columns map[string][]any
	err     error
}

func (f *fakeSampler) Ping(context.Context) error  { return nil }
func (f *fakeSampler) Close(context.Context) error { return nil }

func (f *fakeSampler) SampleRows(ctx context.Context, schema, table string, limit int) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeSampler) SampleColumn(ctx context.Context, schema, table, column string, limit int) ([]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.columns[schema+"."+table+"."+column], nil
}

func testEnricher(sampler *fakeSampler) *Enricher {
	cfg := &config.PipelineConfig{
		FKSampleSize:     20,
		FKNameSimilarity: 0.75,
		FKMatchRatio:     0.6,
		SourceDB:         "postgres",
	}
	return NewEnricher(nil, nil, sampler, nil, nil, &sync.Mutex{}, cfg, zap.NewNop())
}

func TestNameSimilarity(t *testing.T) {
	// customer_id against customers.id is the canonical FK shape.
	assert.Equal(t, 1.0, nameSimilarity("customer_id", "id", "customers"))
	assert.Equal(t, 1.0, nameSimilarity("CUSTOMER_ID", "ID", "CUSTOMERS"))
	assert.Equal(t, 1.0, nameSimilarity("order_id", "id", "order"))

	// Same non-id name on both sides.
	assert.Equal(t, 0.9, nameSimilarity("region_code", "region_code", "regions"))

	// Bare id-to-id must not score as a match.
	assert.Less(t, nameSimilarity("id", "id", "orders"), 0.75)

	// Unrelated names fall back to Dice, well under any threshold.
	assert.Less(t, nameSimilarity("amount", "zip", "addresses"), 0.3)
}

func TestDiceCoefficient(t *testing.T) {
	assert.Equal(t, 1.0, diceCoefficient("night", "night"))
	assert.InDelta(t, 0.25, diceCoefficient("night", "nacht"), 0.001)
	assert.Equal(t, 0.0, diceCoefficient("ab", "cd"))

	// Degenerate short inputs.
	assert.Equal(t, 1.0, diceCoefficient("a", "a"))
	assert.Equal(t, 0.0, diceCoefficient("a", "b"))
}

func TestCollectCandidates(t *testing.T) {
	e := testEnricher(nil)

	columns := map[tableTarget][]string{
		{Schema: "sales", Name: "ORDERS"}:    {"ID", "CUSTOMER_ID", "AMOUNT"},
		{Schema: "sales", Name: "CUSTOMERS"}: {"ID", "NAME"},
	}

	candidates := e.collectCandidates(columns)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "ORDERS", c.src.Name)
	assert.Equal(t, "CUSTOMER_ID", c.srcColumn)
	assert.Equal(t, "CUSTOMERS", c.tgt.Name)
	assert.Equal(t, "ID", c.tgtColumn)
	assert.Equal(t, 1.0, c.similarity)
}

func TestCollectCandidatesSkipsSelfTable(t *testing.T) {
	e := testEnricher(nil)
	columns := map[tableTarget][]string{
		{Schema: "s", Name: "ORDERS"}: {"ORDER_ID", "ID"},
	}
	assert.Empty(t, e.collectCandidates(columns))
}

func TestValueOverlap(t *testing.T) {
	sampler := &fakeSampler{columns: map[string][]any{
		"sales.orders.customer_id": {1, 2, 3, 99},
		"sales.customers.id":       {1, 2, 3, 4, 5},
	}}
	e := testEnricher(sampler)

	cand := fkCandidate{
		src: tableTarget{Schema: "SALES", Name: "ORDERS"}, srcColumn: "CUSTOMER_ID",
		tgt: tableTarget{Schema: "SALES", Name: "CUSTOMERS"}, tgtColumn: "ID",
	}

	ratio, err := e.valueOverlap(context.Background(), cand)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, ratio, 0.001)
}

func TestValueOverlapEmptySource(t *testing.T) {
	e := testEnricher(&fakeSampler{columns: map[string][]any{}})

	ratio, err := e.valueOverlap(context.Background(), fkCandidate{
		src: tableTarget{Schema: "s", Name: "a"}, srcColumn: "x",
		tgt: tableTarget{Schema: "s", Name: "b"}, tgtColumn: "y",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, ratio)
}

func TestSortTargets(t *testing.T) {
	targets := []tableTarget{
		{Schema: "z", Name: "A"},
		{Schema: "a", Name: "B"},
		{Schema: "a", Name: "A"},
	}
	sortTargets(targets)
	assert.Equal(t, []tableTarget{
		{Schema: "a", Name: "A"},
		{Schema: "a", Name: "B"},
		{Schema: "z", Name: "A"},
	}, targets)
}
