package batch

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/anonproxy/pganonproxy/internal/wire"
)

// kindForOID maps a PostgreSQL type OID to the Go-level Kind that backs a
// Column, using pgtype's well-known OID table so the mapping tracks the
// upstream's actual catalog rather than a hand-maintained switch.
func kindForOID(oid int32) Kind {
	switch uint32(oid) {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID:
		return KindInt64
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return KindFloat64
	case pgtype.BoolOID:
		return KindBool
	case pgtype.ByteaOID:
		return KindBytes
	default:
		// text, varchar, name, bpchar, json, uuid, timestamps, etc. are all
		// carried as their text-format wire representation.
		return KindString
	}
}

// FromWire builds a RecordBatch from a decoded RowDescription and the
// DataRows that followed it on the wire, per spec.md §4.7's
// "construct a RecordBatch from fields + rows" contract. Values are decoded
// using each field's text-format representation; binary-format columns are
// kept as raw bytes (Kind=Bytes) since only the anonymization policy, not
// the SQL value, needs interpreting them.
func FromWire(fields []wire.Field, rows []wire.DataRow) (*RecordBatch, error) {
	schema := make(Schema, len(fields))
	copy(schema, fields)

	cols := make([]*Column, len(fields))
	for i, f := range fields {
		kind := KindString
		if f.Format == wire.FormatBinary {
			kind = KindBytes
		} else {
			kind = kindForOID(f.TypeOID)
		}
		cols[i] = NewColumn(kind, len(rows))
	}

	for _, row := range rows {
		for i, raw := range row.Columns {
			c := cols[i]
			if raw == nil {
				c.AppendNull()
				continue
			}
			switch c.Kind {
			case KindInt64:
				v, err := strconv.ParseInt(string(raw), 10, 64)
				if err != nil {
					// Fall back to raw text rather than failing the whole batch;
					// the upstream's catalog can disagree with our OID guess.
					c.Kind = KindString
					retypeToString(c)
					c.AppendString(string(raw))
					continue
				}
				c.AppendInt64(v)
			case KindFloat64:
				v, err := strconv.ParseFloat(string(raw), 64)
				if err != nil {
					c.Kind = KindString
					retypeToString(c)
					c.AppendString(string(raw))
					continue
				}
				c.AppendFloat64(v)
			case KindBool:
				c.AppendBool(string(raw) == "t" || string(raw) == "true")
			case KindBytes:
				c.AppendBytes(append([]byte(nil), raw...))
			default:
				c.AppendString(string(raw))
			}
		}
	}

	return &RecordBatch{Schema: schema, Columns: cols, NumRows: len(rows)}, nil
}

// retypeToString converts a column's already-appended rows into string
// representations, used when a value fails to parse as the guessed kind.
func retypeToString(c *Column) {
	n := len(c.Valid)
	strs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if !c.Valid[i] {
			strs = append(strs, "")
			continue
		}
		switch {
		case len(c.Ints) > i:
			strs = append(strs, strconv.FormatInt(c.Ints[i], 10))
		case len(c.Floats) > i:
			strs = append(strs, strconv.FormatFloat(c.Floats[i], 'g', -1, 64))
		default:
			strs = append(strs, "")
		}
	}
	c.Strings = strs
	c.Ints = nil
	c.Floats = nil
}

// ToWire renders a RecordBatch back into a RowDescription and DataRows,
// re-encoding every column as text-format wire bytes (NULL -> nil).
func ToWire(b *RecordBatch) (wire.RowDescription, []wire.DataRow) {
	rd := wire.RowDescription{Fields: append([]wire.Field(nil), b.Schema...)}
	rows := make([]wire.DataRow, b.NumRows)
	for r := 0; r < b.NumRows; r++ {
		cols := make([][]byte, len(b.Columns))
		for i, c := range b.Columns {
			if c.IsNull(r) {
				cols[i] = nil
				continue
			}
			switch c.Kind {
			case KindInt64:
				cols[i] = []byte(strconv.FormatInt(c.Ints[r], 10))
			case KindFloat64:
				cols[i] = []byte(strconv.FormatFloat(c.Floats[r], 'g', -1, 64))
			case KindString:
				cols[i] = []byte(c.Strings[r])
			case KindBool:
				if c.Bools[r] {
					cols[i] = []byte("t")
				} else {
					cols[i] = []byte("f")
				}
			case KindBytes:
				cols[i] = c.Bytes[r]
			}
		}
		rows[r] = wire.DataRow{Columns: cols}
	}
	return rd, rows
}
