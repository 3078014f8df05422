package anonymize

import (
	"errors"
	"strings"
	"testing"

	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/projection"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

func originsFor(names ...string) []projection.Origin {
	out := make([]projection.Origin, len(names))
	for i, n := range names {
		parts := strings.SplitN(n, ".", 2)
		out[i] = projection.Origin{Kind: projection.KindTableColumn, Table: parts[0], Column: parts[1]}
	}
	return out
}

func schemaFor(names ...string) batch.Schema {
	s := make(batch.Schema, len(names))
	for i, n := range names {
		s[i] = wire.Field{Name: n, TypeOID: 23, Format: wire.FormatText}
	}
	return s
}

func newBatch(schema batch.Schema, cols []*batch.Column, n int) *batch.RecordBatch {
	return &batch.RecordBatch{Schema: schema, Columns: cols, NumRows: n}
}

func intColumn(vals ...int64) *batch.Column {
	c := batch.NewColumn(batch.KindInt64, len(vals))
	for _, v := range vals {
		c.AppendInt64(v)
	}
	return c
}

func stringColumn(vals ...string) *batch.Column {
	c := batch.NewColumn(batch.KindString, len(vals))
	for _, v := range vals {
		c.AppendString(v)
	}
	return c
}

func baseConfig(k int) *config.Config {
	return &config.Config{K: k}
}

// TestFastPathNoPolicyWork verifies the §4.5 fast path: with no identifier
// or quasi-identifier columns, both schema and records pass through
// unchanged.
func TestFastPathNoPolicyWork(t *testing.T) {
	cfg := baseConfig(2)
	origins := originsFor("users.name")
	schema := schemaFor("name")
	e := New(cfg)

	outSchema, err := e.TransformSchema(schema, origins)
	if err != nil {
		t.Fatalf("TransformSchema: %v", err)
	}
	if &outSchema[0] == &schema[0] {
		t.Fatalf("expected cloned schema")
	}

	b := newBatch(schema, []*batch.Column{stringColumn("alice", "bob")}, 2)
	out, n, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 partitions on fast path, got %d", n)
	}
	if out != b {
		t.Fatalf("expected identical batch returned on fast path")
	}
}

// TestIdentifierColumnRandomized verifies identifier columns are replaced
// with fresh 30-character alphanumeric strings and the schema's TypeOID
// moves to text.
func TestIdentifierColumnRandomized(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{{Column: "users.ssn", Kind: "identifier"}}
	origins := originsFor("users.ssn", "users.age")
	schema := schemaFor("ssn", "age")
	e := New(cfg)

	outSchema, err := e.TransformSchema(schema, origins)
	if err != nil {
		t.Fatalf("TransformSchema: %v", err)
	}
	if outSchema[0].TypeOID != textOID {
		t.Fatalf("expected identifier column to become text, got OID %d", outSchema[0].TypeOID)
	}

	b := newBatch(schema, []*batch.Column{
		stringColumn("111-22-3333", "222-33-4444"),
		intColumn(30, 30),
	}, 2)
	out, _, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	for i := 0; i < 2; i++ {
		got := out.Columns[0].Strings[i]
		if len(got) != identifierLength {
			t.Fatalf("row %d: expected %d-char identifier, got %q", i, identifierLength, got)
		}
		if got == b.Columns[0].Strings[i] {
			t.Fatalf("row %d: identifier was not randomized", i)
		}
	}
	if out.Columns[0].Strings[0] == out.Columns[0].Strings[1] {
		t.Fatalf("expected independent draws per row, got identical identifiers")
	}
}

// TestNumericMedianAggregation exercises the k=2 scenario from spec.md §8:
// a quasi-identifier numeric column aggregates to the sum/len mean within
// each surviving partition, and original row order is restored.
func TestNumericMedianAggregation(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{{Column: "users.age", Kind: "pseudo_identifier"}}
	origins := originsFor("users.age")
	schema := schemaFor("age")
	e := New(cfg)

	b := newBatch(schema, []*batch.Column{intColumn(20, 22, 40, 44)}, 4)
	out, n, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 partitions, got %d", n)
	}
	if out.NumRows != 4 {
		t.Fatalf("expected 4 rows preserved, got %d", out.NumRows)
	}
	want := []int64{21, 21, 42, 42}
	for i, w := range want {
		if out.Columns[0].Ints[i] != w {
			t.Fatalf("row %d: got %d, want %d", i, out.Columns[0].Ints[i], w)
		}
	}
}

// TestNumericRangeAggregation checks the Range aggregation's "min - max"
// form: with k=2 the ages 30, 30, 20, 40 stay in one partition, so every row
// renders as "20 - 40".
func TestNumericRangeAggregation(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{{Column: "users.age", Kind: "pseudo_identifier", NumericAggregation: config.NumericRange}}
	origins := originsFor("users.age")
	schema := schemaFor("age")
	e := New(cfg)

	outSchema, err := e.TransformSchema(schema, origins)
	if err != nil {
		t.Fatalf("TransformSchema: %v", err)
	}
	if outSchema[0].TypeOID != textOID {
		t.Fatalf("expected Range column to become text in schema, got OID %d", outSchema[0].TypeOID)
	}

	b := newBatch(schema, []*batch.Column{intColumn(30, 30, 20, 40)}, 4)
	out, _, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	seen := make(map[string]bool)
	for i := 0; i < 4; i++ {
		seen[out.Columns[0].Strings[i]] = true
	}
	for s := range seen {
		if s != "30" && s != "20 - 40" {
			t.Fatalf("unexpected range rendering %q", s)
		}
	}
}

// TestStringJoinAggregation confirms Join renders the sorted distinct
// values of the partition, comma-separated, with "None" appended for NULLs.
func TestStringJoinAggregation(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{{Column: "users.city", Kind: "pseudo_identifier"}}
	origins := originsFor("users.city")
	schema := schemaFor("city")
	e := New(cfg)

	c := batch.NewColumn(batch.KindString, 2)
	c.AppendString("nyc")
	c.AppendString("sf")
	b := newBatch(schema, []*batch.Column{c}, 2)

	out, n, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected single partition (2 distinct strings can't satisfy k=2 split), got %d", n)
	}
	if out.Columns[0].Strings[0] != "nyc, sf" {
		t.Fatalf("got %q", out.Columns[0].Strings[0])
	}
}

// TestStringSubstringAggregation checks the common-prefix-plus-asterisk
// rendering.
func TestStringSubstringAggregation(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{{
		Column: "users.city", Kind: "pseudo_identifier",
		StringAggregation: config.StringSubstring,
	}}
	origins := originsFor("users.city")
	schema := schemaFor("city")
	e := New(cfg)

	b := newBatch(schema, []*batch.Column{stringColumn("springfield", "springdale")}, 2)
	out, _, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	if out.Columns[0].Strings[0] != "spring*" {
		t.Fatalf("got %q, want %q", out.Columns[0].Strings[0], "spring*")
	}
}

// TestLDiversityBlocksSplit verifies a candidate split is rejected when
// either resulting half would fail the ℓ-diversity criterion, even though
// it would satisfy k alone.
func TestLDiversityBlocksSplit(t *testing.T) {
	cfg := baseConfig(2)
	cfg.LDiversity = &config.LDiversity{L: 2, SensitiveColumn: "users.diagnosis"}
	cfg.Columns = []config.ColumnPolicy{{Column: "users.age", Kind: "pseudo_identifier"}}
	origins := originsFor("users.age", "users.diagnosis")
	schema := schemaFor("age", "diagnosis")
	e := New(cfg)

	b := newBatch(schema, []*batch.Column{
		intColumn(20, 22, 40, 44),
		stringColumn("flu", "flu", "flu", "flu"),
	}, 4)

	_, n, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the single-diagnosis batch to remain one partition, got %d", n)
	}
}

// TestAllNullQuasiColumnPassesThroughUnchanged matches spec.md §8 scenario
// 4: a quasi-identifier column with no non-null values anywhere in the
// batch has no defined span, so it never enters Q and is never split on.
// The original's median() over an all-null array is None, rendered as an
// unchanged all-NULL column rather than a placeholder or a hard error, so
// the column here must pass through untouched even under the default
// Median policy.
func TestAllNullQuasiColumnPassesThroughUnchanged(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{{Column: "users.age", Kind: "pseudo_identifier"}}
	origins := originsFor("users.age")
	schema := schemaFor("age")
	e := New(cfg)

	outSchema, err := e.TransformSchema(schema, origins)
	if err != nil {
		t.Fatalf("TransformSchema: %v", err)
	}
	_ = outSchema

	c := batch.NewColumn(batch.KindInt64, 2)
	c.AppendNull()
	c.AppendNull()
	b := newBatch(schema, []*batch.Column{c}, 2)

	out, n, err := e.TransformRecords(b, origins)
	if err != nil {
		t.Fatalf("TransformRecords: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a single partition (column has no span to split on), got %d", n)
	}
	if out.Columns[0].Kind != batch.KindInt64 {
		t.Fatalf("expected passthrough to preserve the original kind, got %v", out.Columns[0].Kind)
	}
	for i := 0; i < 2; i++ {
		if !out.Columns[0].IsNull(i) {
			t.Fatalf("row %d: expected null preserved, got non-null", i)
		}
	}
}

// TestErrNoMedianOnAllNullLeafPartition confirms ErrNoMedian still surfaces
// for the narrower case the column-drop fix above does not cover: a numeric
// quasi-identifier column WITH a defined full-batch span (so it stays in Q)
// that still ends up all-null within one particular leaf partition, because
// the split that produced that leaf was chosen along a different column.
func TestErrNoMedianOnAllNullLeafPartition(t *testing.T) {
	cfg := baseConfig(2)
	cfg.Columns = []config.ColumnPolicy{
		{Column: "users.age", Kind: "pseudo_identifier"},
		{Column: "users.height", Kind: "pseudo_identifier"},
	}
	origins := originsFor("users.age", "users.height")
	schema := schemaFor("age", "height")
	e := New(cfg)

	age := batch.NewColumn(batch.KindInt64, 4)
	age.AppendNull()
	age.AppendNull()
	age.AppendInt64(40)
	age.AppendInt64(44)

	height := intColumn(160, 162, 180, 184)

	b := newBatch(schema, []*batch.Column{age, height}, 4)

	_, _, err := e.TransformRecords(b, origins)
	if !errors.Is(err, ErrNoMedian) {
		t.Fatalf("expected ErrNoMedian, got %v", err)
	}
}
