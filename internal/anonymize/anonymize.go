package anonymize

import (
	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/projection"
)

const textOID = 25 // PostgreSQL's builtin "text" type OID

// Engine runs the Mondrian partitioning + aggregation pipeline against one
// RecordBatch at a time, driven by a PolicyMap resolved from cfg against
// the query's projection trace. It satisfies internal/transform.Transformer.
type Engine struct {
	cfg *config.Config
}

// New returns an Engine bound to cfg's column policy and criteria.
func New(cfg *config.Config) *Engine {
	return &Engine{cfg: cfg}
}

// TransformSchema applies the schema-level half of spec.md §4.5: only
// columns aggregated to Range or randomized as identifiers change type, to
// string. The fast path (no identifiers/quasi-identifiers present) returns
// an unchanged copy of schema.
func (e *Engine) TransformSchema(schema batch.Schema, origins []projection.Origin) (batch.Schema, error) {
	policy := FromConfig(e.cfg, origins)
	if !policy.HasAnonymizationWork() {
		return schema.Clone(), nil
	}

	out := schema.Clone()
	for i := range out {
		if i >= len(origins) {
			break
		}
		// Kind is unknown at the schema stage (no data yet); Range and
		// identifier columns become text regardless of source Kind, which
		// covers every case outputKind would otherwise need data for.
		switch policy.roles[i] {
		case roleIdentifier:
			out[i].TypeOID = textOID
		case roleQuasiIdentifier:
			if policy.policies[i].EffectiveNumericAggregation() == config.NumericRange {
				out[i].TypeOID = textOID
			}
		}
	}
	return out, nil
}

// TransformRecords applies spec.md §4.5's full partition-and-aggregate
// pipeline to one RecordBatch. PartitionCount is returned alongside the
// result so callers can feed it to the anonymize_duration/partitions_total
// metrics.
func (e *Engine) TransformRecords(b *batch.RecordBatch, origins []projection.Origin) (*batch.RecordBatch, int, error) {
	policy := FromConfig(e.cfg, origins)
	if !policy.HasAnonymizationWork() {
		return b, 0, nil
	}

	partitions, dropped, err := partitionAll(b, policy)
	if err != nil {
		return nil, 0, err
	}

	out, err := assemble(b, policy, partitions, dropped)
	if err != nil {
		return nil, 0, err
	}
	return out, len(partitions), nil
}

// assemble builds the output RecordBatch partition-by-partition, then
// restores original row order via the original_index technique of
// spec.md §4.5. dropped marks quasi-identifier columns with no defined
// full-batch span (empty/all-null): such a column is excluded from Q
// (partition.go's quasiColumns) and must also skip aggregation and pass
// through unchanged, matching the original's all-null median producing
// None rather than a placeholder value.
func assemble(b *batch.RecordBatch, p *Policy, partitions [][]int, dropped map[int]bool) (*batch.RecordBatch, error) {
	outSchema := b.Schema.Clone()
	builders := make([]*batch.Column, len(b.Columns))
	for i, col := range b.Columns {
		kind := outputKind(p, i, col.Kind, dropped[i])
		builders[i] = batch.NewColumn(kind, b.NumRows)
		if kind == batch.KindString && col.Kind != batch.KindString {
			outSchema[i].TypeOID = textOID
		}
	}

	origIndex := make([]int, 0, b.NumRows)
	for _, part := range partitions {
		for i, col := range b.Columns {
			if err := appendAggregation(builders[i], col, part, p, i, dropped[i]); err != nil {
				return nil, err
			}
		}
		origIndex = append(origIndex, part...)
	}

	posOf := make([]int, b.NumRows)
	for pos, orig := range origIndex {
		posOf[orig] = pos
	}

	partitionOrder := &batch.RecordBatch{Schema: outSchema, Columns: builders, NumRows: b.NumRows}
	return partitionOrder.TakeRows(posOf), nil
}
