package enrichment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/graph"
)

// fkCandidate pairs two columns of different tables whose names look alike.
type fkCandidate struct {
	src        tableTarget
	srcColumn  string
	tgt        tableTarget
	tgtColumn  string
	similarity float64
}

// inferForeignKeys compares column names across tables; pairs above the name
// similarity threshold get a value-overlap check through the sampler, and
// sufficiently overlapping pairs become FK_TO_TABLE edges with
// source='inferred'.
func (e *Enricher) inferForeignKeys(ctx context.Context) error {
	columnsByTable, err := e.allColumns(ctx)
	if err != nil {
		return err
	}

	candidates := e.collectCandidates(columnsByTable)
	e.logger.Info("fk candidates from name similarity", zap.Int("count", len(candidates)))

	for _, cand := range candidates {
		if !e.gate.CheckContinue(ctx) {
			return apperrors.ErrPipelineStopped
		}

		ratio, err := e.valueOverlap(ctx, cand)
		if err != nil {
			e.logger.Warn("fk overlap check failed, skipping pair",
				zap.String("src", cand.src.Name+"."+cand.srcColumn),
				zap.String("tgt", cand.tgt.Name+"."+cand.tgtColumn),
				zap.Error(err))
			continue
		}
		if ratio < e.cfg.FKMatchRatio {
			continue
		}

		if err := e.writeInferredFK(ctx, cand, ratio); err != nil {
			return err
		}
		e.logger.Info("inferred foreign key",
			zap.String("src", fmt.Sprintf("%s.%s.%s", cand.src.Schema, cand.src.Name, cand.srcColumn)),
			zap.String("tgt", fmt.Sprintf("%s.%s.%s", cand.tgt.Schema, cand.tgt.Name, cand.tgtColumn)),
			zap.Float64("overlap", ratio))
	}

	return nil
}

func (e *Enricher) allColumns(ctx context.Context) (map[tableTarget][]string, error) {
	results, err := e.writer.Execute(ctx, []graph.Query{{
		Cypher: `MATCH (t:Table {db: $db})-[:HAS_COLUMN]->(c:Column)
RETURN t.schema AS schema, t.name AS table, c.name AS column
ORDER BY schema, table, column`,
		Params: map[string]any{"db": e.cfg.SourceDB},
	}})
	if err != nil {
		return nil, err
	}

	out := make(map[tableTarget][]string)
	for _, record := range results[0] {
		schema, _ := record.Get("schema")
		table, _ := record.Get("table")
		column, _ := record.Get("column")
		s, _ := schema.(string)
		t, _ := table.(string)
		c, _ := column.(string)
		if s == "" || t == "" || c == "" {
			continue
		}
		key := tableTarget{Schema: s, Name: t}
		out[key] = append(out[key], c)
	}
	return out, nil
}

// collectCandidates pairs columns of distinct tables by name similarity. A
// column pointing at its own table is never a candidate, and each
// (src, tgt) column pair is considered once in a stable order.
func (e *Enricher) collectCandidates(columnsByTable map[tableTarget][]string) []fkCandidate {
	tables := make([]tableTarget, 0, len(columnsByTable))
	for t := range columnsByTable {
		tables = append(tables, t)
	}
	sortTargets(tables)

	var candidates []fkCandidate
	for i, src := range tables {
		for j, tgt := range tables {
			if i == j {
				continue
			}
			for _, srcCol := range columnsByTable[src] {
				for _, tgtCol := range columnsByTable[tgt] {
					sim := nameSimilarity(srcCol, tgtCol, tgt.Name)
					if sim >= e.cfg.FKNameSimilarity {
						candidates = append(candidates, fkCandidate{
							src: src, srcColumn: srcCol,
							tgt: tgt, tgtColumn: tgtCol,
							similarity: sim,
						})
					}
				}
			}
		}
	}
	return candidates
}

// nameSimilarity scores how likely srcCol references tgtCol of tgtTable.
// Exact stem matches (customer_id vs customers.id) score 1.0; otherwise the
// bigram Dice coefficient of the two column names.
func nameSimilarity(srcCol, tgtCol, tgtTable string) float64 {
	src := strings.ToLower(srcCol)
	tgt := strings.ToLower(tgtCol)
	table := inflection.Singular(strings.ToLower(tgtTable))

	if stem, ok := strings.CutSuffix(src, "_"+tgt); ok {
		if inflection.Singular(stem) == table {
			return 1.0
		}
	}
	if src == tgt {
		// A bare id on both sides names nothing; every table has one.
		if src == "id" {
			return 0
		}
		return 0.9
	}

	return diceCoefficient(src, tgt)
}

// diceCoefficient is the bigram Dice similarity of two strings.
func diceCoefficient(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		if a == b {
			return 1.0
		}
		return 0
	}

	bigrams := func(s string) map[string]int {
		m := make(map[string]int)
		for i := 0; i+2 <= len(s); i++ {
			m[s[i:i+2]]++
		}
		return m
	}

	ba, bb := bigrams(a), bigrams(b)
	overlap := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			overlap += min(n, m)
		}
	}
	return 2 * float64(overlap) / float64(len(a)-1+len(b)-1)
}

// valueOverlap samples both columns and returns the share of source values
// present in the target sample.
func (e *Enricher) valueOverlap(ctx context.Context, cand fkCandidate) (float64, error) {
	srcValues, err := e.sampler.SampleColumn(ctx,
		strings.ToLower(cand.src.Schema), strings.ToLower(cand.src.Name),
		strings.ToLower(cand.srcColumn), e.cfg.FKSampleSize)
	if err != nil {
		return 0, err
	}
	if len(srcValues) == 0 {
		return 0, nil
	}

	tgtValues, err := e.sampler.SampleColumn(ctx,
		strings.ToLower(cand.tgt.Schema), strings.ToLower(cand.tgt.Name),
		strings.ToLower(cand.tgtColumn), e.cfg.FKSampleSize)
	if err != nil {
		return 0, err
	}

	tgtSet := make(map[string]struct{}, len(tgtValues))
	for _, v := range tgtValues {
		tgtSet[fmt.Sprint(v)] = struct{}{}
	}

	matched := 0
	for _, v := range srcValues {
		if _, ok := tgtSet[fmt.Sprint(v)]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(srcValues)), nil
}

func (e *Enricher) writeInferredFK(ctx context.Context, cand fkCandidate, ratio float64) error {
	e.cypher.Lock()
	defer e.cypher.Unlock()

	_, err := e.writer.Execute(ctx, []graph.Query{{
		Cypher: `MATCH (src:Table {db: $db, schema: $src_schema, name: $src_table})
MATCH (tgt:Table {db: $db, schema: $tgt_schema, name: $tgt_table})
MERGE (src)-[r:FK_TO_TABLE {sourceColumn: $src_column, targetColumn: $tgt_column}]->(tgt)
ON CREATE SET r.source = 'inferred', r.type = 'many_to_one'
SET r.match_ratio = $ratio, r.name_similarity = $similarity
RETURN src, r, tgt`,
		Params: map[string]any{
			"db":         e.cfg.SourceDB,
			"src_schema": cand.src.Schema,
			"src_table":  cand.src.Name,
			"tgt_schema": cand.tgt.Schema,
			"tgt_table":  cand.tgt.Name,
			"src_column": strings.ToUpper(cand.srcColumn),
			"tgt_column": strings.ToUpper(cand.tgtColumn),
			"ratio":      ratio,
			"similarity": cand.similarity,
		},
	}})
	return err
}

func sortTargets(targets []tableTarget) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Schema != targets[j].Schema {
			return targets[i].Schema < targets[j].Schema
		}
		return targets[i].Name < targets[j].Name
	})
}
