// Package transform composes the anonymization engine (and any future
// row-rewriting stage) into a single pipeline the resolver can apply to a
// query result. Each transformer carries forward the wire metadata of the
// fields it does not change; the pipeline itself copies none.
package transform

import (
	"fmt"

	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/projection"
)

// Transformer rewrites a RecordBatch's schema and rows given the projection
// trace of the query that produced them. Implementations that have no work
// to do for a given origin set MUST return the input unchanged.
type Transformer interface {
	TransformSchema(schema batch.Schema, origins []projection.Origin) (batch.Schema, error)
	TransformRecords(b *batch.RecordBatch, origins []projection.Origin) (*batch.RecordBatch, int, error)
}

// Pipeline applies a sequence of Transformers in registration order. Each
// stage receives the previous stage's output as is; no field metadata
// (TableOID, ColumnNumber, TypeLength, TypeModifier, Format) is copied
// between stages by the pipeline.
type Pipeline struct {
	stages []Transformer
}

// NewPipeline builds a Pipeline running stages in the given order.
func NewPipeline(stages ...Transformer) *Pipeline {
	return &Pipeline{stages: stages}
}

// ApplySchema runs every stage's TransformSchema in order. Each Transformer
// is responsible for preserving the metadata it doesn't change (it receives
// the prior stage's schema and typically clones it before editing).
func (p *Pipeline) ApplySchema(schema batch.Schema, origins []projection.Origin) (batch.Schema, error) {
	cur := schema
	for i, stage := range p.stages {
		next, err := stage.TransformSchema(cur, origins)
		if err != nil {
			return nil, fmt.Errorf("transform stage %d: %w", i, err)
		}
		cur = next
	}
	return cur, nil
}

// ApplyRecords runs every stage's TransformRecords in order, summing the
// partition counts each stage reports for metrics.
func (p *Pipeline) ApplyRecords(b *batch.RecordBatch, origins []projection.Origin) (*batch.RecordBatch, int, error) {
	cur := b
	total := 0
	for i, stage := range p.stages {
		next, n, err := stage.TransformRecords(cur, origins)
		if err != nil {
			return nil, 0, fmt.Errorf("transform stage %d: %w", i, err)
		}
		cur = next
		total += n
	}
	return cur, total, nil
}
