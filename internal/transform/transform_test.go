package transform

import (
	"errors"
	"testing"

	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/projection"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// addOneStage is a test Transformer that appends one null-valued int64
// column named "stage_N" and reports a fixed partition count, so Pipeline
// chaining and count-summing can be verified without internal/anonymize.
type addOneStage struct {
	name       string
	partitions int
	fail       bool
}

func (s addOneStage) TransformSchema(schema batch.Schema, _ []projection.Origin) (batch.Schema, error) {
	if s.fail {
		return nil, errors.New("boom")
	}
	out := schema.Clone()
	out = append(out, wire.Field{Name: s.name, TypeOID: 23})
	return out, nil
}

func (s addOneStage) TransformRecords(b *batch.RecordBatch, _ []projection.Origin) (*batch.RecordBatch, int, error) {
	if s.fail {
		return nil, 0, errors.New("boom")
	}
	col := batch.NewColumn(batch.KindInt64, b.NumRows)
	for i := 0; i < b.NumRows; i++ {
		col.AppendNull()
	}
	out := &batch.RecordBatch{
		Schema:  append(b.Schema.Clone(), wire.Field{Name: s.name, TypeOID: 23}),
		Columns: append(append([]*batch.Column{}, b.Columns...), col),
		NumRows: b.NumRows,
	}
	return out, s.partitions, nil
}

func TestPipelineChainsStagesInOrder(t *testing.T) {
	p := NewPipeline(addOneStage{name: "a", partitions: 1}, addOneStage{name: "b", partitions: 2})

	schema := batch.Schema{{Name: "id", TypeOID: 23}}
	outSchema, err := p.ApplySchema(schema, nil)
	if err != nil {
		t.Fatalf("ApplySchema: %v", err)
	}
	if len(outSchema) != 3 {
		t.Fatalf("expected 3 fields after two stages, got %d", len(outSchema))
	}
	if outSchema[1].Name != "a" || outSchema[2].Name != "b" {
		t.Fatalf("unexpected field order: %+v", outSchema)
	}

	b := &batch.RecordBatch{Schema: schema, Columns: []*batch.Column{batch.NewColumn(batch.KindInt64, 1)}, NumRows: 1}
	b.Columns[0].AppendInt64(1)
	outBatch, total, err := p.ApplyRecords(b, nil)
	if err != nil {
		t.Fatalf("ApplyRecords: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected summed partition count 3, got %d", total)
	}
	if len(outBatch.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(outBatch.Columns))
	}
}

func TestPipelineStopsOnStageError(t *testing.T) {
	p := NewPipeline(addOneStage{name: "a", partitions: 1}, addOneStage{fail: true})

	_, err := p.ApplySchema(batch.Schema{{Name: "id", TypeOID: 23}}, nil)
	if err == nil {
		t.Fatal("expected error from failing stage")
	}
}
