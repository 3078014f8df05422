// Package projection traces each output column of a parsed SELECT back to
// its source (spec.md §4.4), grounded on riftdata-rift's
// internal/parser.Parse AST-walking pattern over pganalyze/pg_query_go/v6.
package projection

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/anonproxy/pganonproxy/internal/pgerror"
	"github.com/anonproxy/pganonproxy/internal/wire"
)

// Kind classifies the source of one output column.
type Kind int

const (
	// KindTableColumn is a direct reference to table.column.
	KindTableColumn Kind = iota
	// KindValue is a literal constant.
	KindValue
	// KindFunction is any other non-trivial expression (function calls,
	// arithmetic, CASE, casts, ...).
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindTableColumn:
		return "table_column"
	case KindValue:
		return "value"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// Origin is one entry of the per-column projection trace.
type Origin struct {
	Kind   Kind
	Table  string // set when Kind == KindTableColumn
	Column string // set when Kind == KindTableColumn
}

type tableRef struct {
	Name  string
	Alias string
}

func (t tableRef) matches(name string) bool {
	return t.Alias == name || (t.Alias == "" && t.Name == name)
}

// Trace parses sql and produces one Origin per field in fields, in order.
// fields is the RowDescription the backend actually returned for this
// query — its length must equal the number of origins produced or Trace
// errors.
func Trace(sql string, fields []wire.Field) ([]Origin, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, pgerror.CannotParse(err)
	}
	if len(tree.Stmts) == 0 || tree.Stmts[0].Stmt == nil {
		return nil, pgerror.CannotTrace(fmt.Errorf("empty parse tree"))
	}

	sel, ok := tree.Stmts[0].Stmt.Node.(*pg_query.Node_SelectStmt)
	if !ok {
		return nil, pgerror.CannotTrace(fmt.Errorf("not a SELECT statement"))
	}

	tables, err := collectFromTables(sel.SelectStmt)
	if err != nil {
		return nil, err
	}

	origins := make([]Origin, 0, len(fields))
	fieldIdx := 0

	for _, item := range sel.SelectStmt.TargetList {
		rt, ok := item.Node.(*pg_query.Node_ResTarget)
		if !ok || rt.ResTarget.Val == nil {
			return nil, pgerror.CannotTrace(fmt.Errorf("target list entry is not a value"))
		}

		produced, consumed, err := traceTarget(rt.ResTarget.Val, tables, fields, fieldIdx)
		if err != nil {
			return nil, err
		}
		origins = append(origins, produced...)
		fieldIdx = consumed
	}

	if fieldIdx != len(fields) {
		return nil, pgerror.CannotTrace(fmt.Errorf("traced %d fields, backend returned %d", fieldIdx, len(fields)))
	}

	return origins, nil
}

func traceTarget(val *pg_query.Node, tables []tableRef, fields []wire.Field, fieldIdx int) ([]Origin, int, error) {
	switch n := val.Node.(type) {
	case *pg_query.Node_ColumnRef:
		return traceColumnRef(n.ColumnRef, tables, fields, fieldIdx)

	case *pg_query.Node_AConst:
		if fieldIdx >= len(fields) {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("ran out of fields at literal projection"))
		}
		return []Origin{{Kind: KindValue}}, fieldIdx + 1, nil

	default:
		if fieldIdx >= len(fields) {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("ran out of fields at expression projection"))
		}
		return []Origin{{Kind: KindFunction}}, fieldIdx + 1, nil
	}
}

func traceColumnRef(cref *pg_query.ColumnRef, tables []tableRef, fields []wire.Field, fieldIdx int) ([]Origin, int, error) {
	switch len(cref.Fields) {
	case 1:
		if _, isStar := cref.Fields[0].Node.(*pg_query.Node_AStar); isStar {
			return expandBareStar(tables, fields, fieldIdx)
		}
		name, ok := cref.Fields[0].Node.(*pg_query.Node_String_)
		if !ok {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("unsupported column reference"))
		}
		if len(tables) != 1 {
			return nil, fieldIdx, pgerror.UnsupportedProjection("unqualified column with more than one FROM table")
		}
		if fieldIdx >= len(fields) {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("ran out of fields at column %q", name.String_.Sval))
		}
		return []Origin{{Kind: KindTableColumn, Table: tables[0].Name, Column: name.String_.Sval}}, fieldIdx + 1, nil

	case 2:
		qualifier, ok := cref.Fields[0].Node.(*pg_query.Node_String_)
		if !ok {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("unsupported qualified column reference"))
		}
		table, ok := resolveTable(tables, qualifier.String_.Sval)
		if !ok {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("unresolved table qualifier %q", qualifier.String_.Sval))
		}

		if _, isStar := cref.Fields[1].Node.(*pg_query.Node_AStar); isStar {
			return expandQualifiedStar(table, fields, fieldIdx)
		}

		col, ok := cref.Fields[1].Node.(*pg_query.Node_String_)
		if !ok {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("unsupported qualified column reference"))
		}
		if fieldIdx >= len(fields) {
			return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("ran out of fields at column %q", col.String_.Sval))
		}
		return []Origin{{Kind: KindTableColumn, Table: table.Name, Column: col.String_.Sval}}, fieldIdx + 1, nil

	default:
		return nil, fieldIdx, pgerror.UnsupportedProjection("column reference with unexpected qualifier depth")
	}
}

// expandBareStar assigns one run of consecutive equal-table_oid fields to
// each FROM table in order, per spec.md §4.4.
func expandBareStar(tables []tableRef, fields []wire.Field, fieldIdx int) ([]Origin, int, error) {
	var origins []Origin
	idx := fieldIdx
	for _, t := range tables {
		if idx >= len(fields) {
			return nil, idx, pgerror.CannotTrace(fmt.Errorf("ran out of fields expanding '*'"))
		}
		runOID := fields[idx].TableOID
		for idx < len(fields) && fields[idx].TableOID == runOID {
			origins = append(origins, Origin{Kind: KindTableColumn, Table: t.Name, Column: fields[idx].Name})
			idx++
		}
	}
	return origins, idx, nil
}

// expandQualifiedStar assigns the next run of consecutive equal-table_oid
// fields to table, for "t.*" projections.
func expandQualifiedStar(table tableRef, fields []wire.Field, fieldIdx int) ([]Origin, int, error) {
	if fieldIdx >= len(fields) {
		return nil, fieldIdx, pgerror.CannotTrace(fmt.Errorf("ran out of fields expanding '%s.*'", table.Name))
	}
	var origins []Origin
	idx := fieldIdx
	runOID := fields[idx].TableOID
	for idx < len(fields) && fields[idx].TableOID == runOID {
		origins = append(origins, Origin{Kind: KindTableColumn, Table: table.Name, Column: fields[idx].Name})
		idx++
	}
	return origins, idx, nil
}

func resolveTable(tables []tableRef, qualifier string) (tableRef, bool) {
	for _, t := range tables {
		if t.matches(qualifier) {
			return t, true
		}
	}
	return tableRef{}, false
}

// collectFromTables walks sel.FromClause, gathering tables in declaration
// order. Joins are flattened left-to-right; subselects are unsupported.
func collectFromTables(sel *pg_query.SelectStmt) ([]tableRef, error) {
	var tables []tableRef
	for _, from := range sel.FromClause {
		if err := collectFromNode(from, &tables); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func collectFromNode(node *pg_query.Node, tables *[]tableRef) error {
	if node == nil {
		return nil
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		*tables = append(*tables, tableRefFromRangeVar(n.RangeVar))
		return nil
	case *pg_query.Node_JoinExpr:
		if err := collectFromNode(n.JoinExpr.Larg, tables); err != nil {
			return err
		}
		return collectFromNode(n.JoinExpr.Rarg, tables)
	default:
		return pgerror.UnsupportedProjection("non-table FROM clause entry (subquery or function)")
	}
}

func tableRefFromRangeVar(rv *pg_query.RangeVar) tableRef {
	t := tableRef{Name: rv.Relname}
	if rv.Alias != nil {
		t.Alias = rv.Alias.Aliasname
	}
	return t
}
