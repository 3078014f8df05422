package batch

import (
	"testing"

	"github.com/anonproxy/pganonproxy/internal/wire"
)

func TestFromWireToWireRoundTrip(t *testing.T) {
	fields := []wire.Field{
		{Name: "id", TypeOID: 23, Format: wire.FormatText},
		{Name: "name", TypeOID: 25, Format: wire.FormatText},
	}
	rows := []wire.DataRow{
		{Columns: [][]byte{[]byte("1"), []byte("Max")}},
		{Columns: [][]byte{[]byte("2"), nil}},
	}
	b, err := FromWire(fields, rows)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if b.NumRows != 2 {
		t.Fatalf("NumRows = %d, want 2", b.NumRows)
	}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	rd, outRows := ToWire(b)
	if len(rd.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(rd.Fields))
	}
	if string(outRows[0].Columns[1]) != "Max" {
		t.Errorf("name = %q, want Max", outRows[0].Columns[1])
	}
	if outRows[1].Columns[1] != nil {
		t.Errorf("expected NULL name in row 1, got %v", outRows[1].Columns[1])
	}
}

func TestColumnTake(t *testing.T) {
	c := NewColumn(KindInt64, 4)
	c.AppendInt64(10)
	c.AppendInt64(20)
	c.AppendNull()
	c.AppendInt64(40)

	out := c.Take([]int{3, 0})
	if out.Len() != 2 {
		t.Fatalf("len = %d, want 2", out.Len())
	}
	if out.Ints[0] != 40 || out.Ints[1] != 10 {
		t.Errorf("got %v, want [40 10]", out.Ints)
	}
}

func TestRecordBatchTakeRowsPreservesSchema(t *testing.T) {
	b := &RecordBatch{
		Schema:  Schema{{Name: "age", TypeOID: 23}},
		NumRows: 3,
	}
	c := NewColumn(KindInt64, 3)
	c.AppendInt64(18)
	c.AppendInt64(40)
	c.AppendInt64(22)
	b.Columns = []*Column{c}

	out := b.TakeRows([]int{1, 2})
	if out.NumRows != 2 {
		t.Fatalf("NumRows = %d", out.NumRows)
	}
	if out.Schema[0].Name != "age" {
		t.Errorf("schema not preserved: %+v", out.Schema)
	}
	if out.Columns[0].Ints[0] != 40 || out.Columns[0].Ints[1] != 22 {
		t.Errorf("got %v", out.Columns[0].Ints)
	}
}
