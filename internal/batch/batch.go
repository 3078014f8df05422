// Package batch implements the columnar RecordBatch representation that
// spec.md §9 leaves as "an implementation choice, not a contract": typed
// columns of equal length, schema metadata that round-trips through
// transformations, and row-index slicing for the anonymization engine.
package batch

import (
	"fmt"

	"github.com/anonproxy/pganonproxy/internal/wire"
)

// Kind identifies the Go-level representation backing a Column.
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindString
	KindBool
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Schema is an ordered list of Fields; it is the columnar analogue of a
// RowDescription and carries the same seven wire values per column.
type Schema []wire.Field

// Clone returns an independent copy (schemas cross the transformer boundary
// by value per spec.md §3).
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

// Column is a single typed, nullable vector of values.
type Column struct {
	Kind  Kind
	Valid []bool // Valid[i] == false means row i is NULL

	Ints    []int64
	Floats  []float64
	Strings []string
	Bools   []bool
	Bytes   [][]byte
}

// Len returns the number of rows in the column.
func (c *Column) Len() int { return len(c.Valid) }

// IsNull reports whether row i is NULL.
func (c *Column) IsNull(i int) bool { return !c.Valid[i] }

// NewColumn allocates an empty column of the given kind with capacity n.
func NewColumn(kind Kind, n int) *Column {
	c := &Column{Kind: kind, Valid: make([]bool, 0, n)}
	switch kind {
	case KindInt64:
		c.Ints = make([]int64, 0, n)
	case KindFloat64:
		c.Floats = make([]float64, 0, n)
	case KindString:
		c.Strings = make([]string, 0, n)
	case KindBool:
		c.Bools = make([]bool, 0, n)
	case KindBytes:
		c.Bytes = make([][]byte, 0, n)
	}
	return c
}

// AppendNull appends a NULL placeholder of the column's kind.
func (c *Column) AppendNull() {
	c.Valid = append(c.Valid, false)
	switch c.Kind {
	case KindInt64:
		c.Ints = append(c.Ints, 0)
	case KindFloat64:
		c.Floats = append(c.Floats, 0)
	case KindString:
		c.Strings = append(c.Strings, "")
	case KindBool:
		c.Bools = append(c.Bools, false)
	case KindBytes:
		c.Bytes = append(c.Bytes, nil)
	}
}

func (c *Column) AppendInt64(v int64) {
	c.Valid = append(c.Valid, true)
	c.Ints = append(c.Ints, v)
}

func (c *Column) AppendFloat64(v float64) {
	c.Valid = append(c.Valid, true)
	c.Floats = append(c.Floats, v)
}

func (c *Column) AppendString(v string) {
	c.Valid = append(c.Valid, true)
	c.Strings = append(c.Strings, v)
}

func (c *Column) AppendBool(v bool) {
	c.Valid = append(c.Valid, true)
	c.Bools = append(c.Bools, v)
}

func (c *Column) AppendBytes(v []byte) {
	c.Valid = append(c.Valid, true)
	c.Bytes = append(c.Bytes, v)
}

// Take returns a new column containing only the given row indices, in order.
func (c *Column) Take(indices []int) *Column {
	out := NewColumn(c.Kind, len(indices))
	for _, i := range indices {
		if !c.Valid[i] {
			out.AppendNull()
			continue
		}
		switch c.Kind {
		case KindInt64:
			out.AppendInt64(c.Ints[i])
		case KindFloat64:
			out.AppendFloat64(c.Floats[i])
		case KindString:
			out.AppendString(c.Strings[i])
		case KindBool:
			out.AppendBool(c.Bools[i])
		case KindBytes:
			out.AppendBytes(c.Bytes[i])
		}
	}
	return out
}

// RecordBatch is an ordered set of equal-length typed columns plus the
// schema describing them.
type RecordBatch struct {
	Schema  Schema
	Columns []*Column
	NumRows int
}

// Validate checks that every column has the declared row count and that the
// column count matches the schema length.
func (b *RecordBatch) Validate() error {
	if len(b.Columns) != len(b.Schema) {
		return fmt.Errorf("batch has %d columns but schema declares %d", len(b.Columns), len(b.Schema))
	}
	for i, c := range b.Columns {
		if c.Len() != b.NumRows {
			return fmt.Errorf("column %d (%s) has %d rows, want %d", i, b.Schema[i].Name, c.Len(), b.NumRows)
		}
	}
	return nil
}

// TakeRows returns a new RecordBatch containing only the given row indices,
// preserving column order and the schema.
func (b *RecordBatch) TakeRows(indices []int) *RecordBatch {
	out := &RecordBatch{Schema: b.Schema.Clone(), NumRows: len(indices)}
	out.Columns = make([]*Column, len(b.Columns))
	for i, c := range b.Columns {
		out.Columns[i] = c.Take(indices)
	}
	return out
}

// ColumnByName returns the index of the column whose field name matches, or
// -1 if none does.
func (b *RecordBatch) ColumnByName(name string) int {
	for i, f := range b.Schema {
		if f.Name == name {
			return i
		}
	}
	return -1
}
