package neo4j

import (
	"context"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

const exportCypher = `
MERGE (r:Run {id: $run_id})
WITH r
UNWIND $molecules AS m
MERGE (mol:Molecule {key: m.key})
  ON CREATE SET mol.notation = m.notation, mol.fragments = m.size
MERGE (r)-[p:PRODUCED]->(mol)
SET p.step = m.step, p.log_reward = m.log_reward, p.validation = m.validation
WITH mol, m
UNWIND m.composition AS c
MERGE (f:Fragment {id: c.id})
  ON CREATE SET f.name = c.name
MERGE (mol)-[k:CONTAINS]->(f)
SET k.count = c.count`

const usageCypher = `
MATCH (:Run {id: $run_id})-[:PRODUCED]->(mol:Molecule)-[k:CONTAINS]->(f:Fragment)
RETURN f.id AS fragment, count(DISTINCT mol) AS molecules, sum(k.count) AS uses
ORDER BY molecules DESC, fragment ASC`

// TxRunner is the part of Driver the exporter uses.
type TxRunner interface {
	ExecuteRead(ctx context.Context, work func(Transaction) (any, error)) (any, error)
	ExecuteWrite(ctx context.Context, work func(Transaction) (any, error)) (any, error)
}

// FragmentUsage counts how often a fragment appears in a run's molecules.
type FragmentUsage struct {
	Fragment  int
	Molecules int64
	Uses      int64
}

// GraphExporter writes (:Run)-[:PRODUCED]->(:Molecule)-[:CONTAINS]->(:Fragment).
type GraphExporter struct {
	tx    TxRunner
	names func(int) string
}

// NewGraphExporter builds an exporter.  names may be nil; it labels fragment
// nodes the first time they are created.
func NewGraphExporter(tx TxRunner, names func(int) string) *GraphExporter {
	return &GraphExporter{tx: tx, names: names}
}

// ExportSamples writes one transaction per run present in samples.
func (g *GraphExporter) ExportSamples(ctx context.Context, samples []experiment.Sample) error {
	byRun := make(map[string][]map[string]any)
	var order []string
	for _, s := range samples {
		if s.Key == "" {
			continue
		}
		id := s.RunID.String()
		if _, ok := byRun[id]; !ok {
			order = append(order, id)
		}
		byRun[id] = append(byRun[id], g.moleculeParams(s))
	}
	for _, id := range order {
		params := map[string]any{"run_id": id, "molecules": byRun[id]}
		_, err := g.tx.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
			res, err := tx.Run(ctx, exportCypher, params)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return errors.Wrap(err, errors.CodeDatabaseError, "failed to export samples to graph").WithDetail(id)
		}
	}
	return nil
}

func (g *GraphExporter) moleculeParams(s experiment.Sample) map[string]any {
	counts := make(map[int]int64)
	for _, f := range s.Fragments {
		counts[f]++
	}
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	comp := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		name := ""
		if g.names != nil {
			name = g.names(id)
		}
		comp = append(comp, map[string]any{"id": int64(id), "name": name, "count": counts[id]})
	}
	return map[string]any{
		"key":         s.Key,
		"notation":    s.Notation,
		"size":        int64(len(s.Fragments)),
		"step":        int64(s.Step),
		"log_reward":  s.LogReward,
		"validation":  s.Validation,
		"composition": comp,
	}
}

// FragmentUsage reports per-fragment counts over molecules a run produced.
func (g *GraphExporter) FragmentUsage(ctx context.Context, runID string) ([]FragmentUsage, error) {
	out, err := g.tx.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, usageCypher, map[string]any{"run_id": runID})
		if err != nil {
			return nil, err
		}
		return CollectRecords(ctx, res, func(rec *neo4j.Record) (FragmentUsage, error) {
			var u FragmentUsage
			if len(rec.Values) < 3 {
				return u, errors.New(errors.CodeSerialization, "malformed fragment usage record")
			}
			id, ok1 := rec.Values[0].(int64)
			mols, ok2 := rec.Values[1].(int64)
			uses, ok3 := rec.Values[2].(int64)
			if !ok1 || !ok2 || !ok3 {
				return u, errors.New(errors.CodeSerialization, "malformed fragment usage record")
			}
			return FragmentUsage{Fragment: int(id), Molecules: mols, Uses: uses}, nil
		})
	})
	if err != nil {
		return nil, err
	}
	usage, _ := out.([]FragmentUsage)
	return usage, nil
}
