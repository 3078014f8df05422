package anonymize

import (
	"errors"
	"sort"

	"github.com/anonproxy/pganonproxy/internal/batch"
)

// ErrNoMedian is returned when a numeric quasi-identifier column selected
// for aggregation has no non-null value in its final partition — spec.md
// §4.5's explicit error condition.
var ErrNoMedian = errors.New("partition has no non-null numeric value to compute median")

// fullSpans holds the precomputed whole-batch span per quasi-identifier
// column index, used to scale partition-local spans (spec.md §4.5 step 2).
type fullSpans map[int]int64

// quasiColumns returns quasi-identifier column indices in declaration
// order, alongside their precomputed full-batch spans. Columns whose
// full-batch span is undefined (empty/all-null) are dropped from Q per
// spec.md §4.5, and reported back in dropped so the caller can also route
// them to passthrough aggregation: an undefined span means there is
// nothing to partition on *or* aggregate, and the column must pass
// through unchanged (the original's all-null sum/len median is None,
// leaving such a column untouched rather than emitting a placeholder).
func quasiColumns(b *batch.RecordBatch, p *Policy) (cols []int, full fullSpans, dropped map[int]bool) {
	full = make(fullSpans)
	dropped = make(map[int]bool)
	allRows := sequentialRows(b.NumRows)
	for i := range b.Schema {
		if !p.isQuasiIdentifier(i) {
			continue
		}
		s := computeSpan(b.Columns[i], allRows)
		if !s.defined {
			dropped[i] = true
			continue
		}
		cols = append(cols, i)
		full[i] = s.value
	}
	return cols, full, dropped
}

func sequentialRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

// criteriaSatisfied reports whether partition part meets every configured
// criterion (spec.md §4.5).
func criteriaSatisfied(b *batch.RecordBatch, p *Policy, part []int) bool {
	if len(part) < p.K {
		return false
	}
	if p.LDiversity != nil && p.LDiversityColIdx >= 0 {
		if distinctValueCount(b.Columns[p.LDiversityColIdx], part) < p.LDiversity.L {
			return false
		}
	}
	return true
}

type scaledCandidate struct {
	col    int
	scaled int64
}

// partitionAll runs the Mondrian recursive partitioning loop over b,
// returning the final disjoint cover of [0, b.NumRows) as a list of
// partitions (each a slice of original row indices) in production order,
// plus the set of quasi-identifier columns dropped from partitioning for
// want of a defined full-batch span.
func partitionAll(b *batch.RecordBatch, p *Policy) ([][]int, map[int]bool, error) {
	qCols, full, dropped := quasiColumns(b, p)

	queue := [][]int{sequentialRows(b.NumRows)}
	var final [][]int

	for len(queue) > 0 {
		part := queue[0]
		queue = queue[1:]

		if len(qCols) == 0 {
			final = append(final, part)
			continue
		}

		candidates := make([]scaledCandidate, 0, len(qCols))
		for _, col := range qCols {
			s := computeSpan(b.Columns[col], part)
			if !s.defined {
				continue
			}
			candidates = append(candidates, scaledCandidate{col: col, scaled: s.value / full[col]})
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].scaled > candidates[j].scaled
		})

		split := false
		for _, cand := range candidates {
			left, right, ok, err := trySplit(b.Columns[cand.col], part)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			if criteriaSatisfied(b, p, left) && criteriaSatisfied(b, p, right) {
				queue = append(queue, left, right)
				split = true
				break
			}
		}
		if !split {
			final = append(final, part)
		}
	}

	return final, dropped, nil
}

// trySplit attempts to divide part into two halves along column c. ok is
// false if the column cannot meaningfully split this partition (e.g. a
// single distinct string value).
func trySplit(c *batch.Column, part []int) (left, right []int, ok bool, err error) {
	switch c.Kind {
	case batch.KindInt64, batch.KindFloat64:
		return trySplitNumeric(c, part)
	case batch.KindString:
		return trySplitString(c, part)
	default:
		return nil, nil, false, nil
	}
}

func trySplitNumeric(c *batch.Column, part []int) (left, right []int, ok bool, err error) {
	median, defined := computeMedian(c, part)
	if !defined {
		return nil, nil, false, ErrNoMedian
	}
	for _, r := range part {
		if !c.IsNull(r) && numericValue(c, r) <= median {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return nil, nil, false, nil
	}
	return left, right, true, nil
}

func trySplitString(c *batch.Column, part []int) (left, right []int, ok bool, err error) {
	distinct := orderedDistinctStringKeys(c, part)
	if len(distinct) < 2 {
		return nil, nil, false, nil
	}
	mid := len(distinct) / 2
	leftSet := make(map[stringKey]struct{}, mid)
	for _, v := range distinct[:mid] {
		leftSet[v] = struct{}{}
	}
	for _, r := range part {
		if _, inLeft := leftSet[keyOf(c, r)]; inLeft {
			left = append(left, r)
			continue
		}
		right = append(right, r)
	}
	if len(left) == 0 || len(right) == 0 {
		return nil, nil, false, nil
	}
	return left, right, true, nil
}
