package anonymize

import (
	"fmt"
	"sort"

	"github.com/anonproxy/pganonproxy/internal/batch"
)

// span is the scalar "width" of a column restricted to a set of rows:
// max-min for numeric columns, distinct-value count for string columns.
// defined is false for empty-or-all-null data, per spec.md §4.5.
type span struct {
	defined bool
	value   int64
}

func numericValue(c *batch.Column, i int) int64 {
	if c.Kind == batch.KindFloat64 {
		return int64(c.Floats[i])
	}
	return c.Ints[i]
}

// computeSpan returns the span of column c restricted to rows.
func computeSpan(c *batch.Column, rows []int) span {
	switch c.Kind {
	case batch.KindInt64, batch.KindFloat64:
		return computeNumericSpan(c, rows)
	case batch.KindString:
		return computeStringSpan(c, rows)
	default:
		return span{defined: false}
	}
}

func computeNumericSpan(c *batch.Column, rows []int) span {
	var min, max int64
	found := false
	for _, r := range rows {
		if c.IsNull(r) {
			continue
		}
		v := numericValue(c, r)
		if !found {
			min, max = v, v
			found = true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if !found {
		return span{defined: false}
	}
	width := max - min
	if width == 0 {
		width = 1
	}
	return span{defined: true, value: width}
}

func computeStringSpan(c *batch.Column, rows []int) span {
	seen := make(map[string]struct{})
	for _, r := range rows {
		if c.IsNull(r) {
			continue
		}
		seen[c.Strings[r]] = struct{}{}
	}
	if len(seen) == 0 {
		return span{defined: false}
	}
	return span{defined: true, value: int64(len(seen))}
}

// computeMedian returns the sum/len integer mean of the non-null values of
// c restricted to rows — spec.md's adopted "median" semantics (§9).
func computeMedian(c *batch.Column, rows []int) (int64, bool) {
	var sum, count int64
	for _, r := range rows {
		if c.IsNull(r) {
			continue
		}
		sum += numericValue(c, r)
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / count, true
}

// computeMinMax returns the numeric min/max over the non-null values of c
// restricted to rows.
func computeMinMax(c *batch.Column, rows []int) (min, max int64, ok bool) {
	found := false
	for _, r := range rows {
		if c.IsNull(r) {
			continue
		}
		v := numericValue(c, r)
		if !found {
			min, max = v, v
			found = true
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, found
}

// stringKey identifies one distinct value considered by a string column
// split: either a non-null string or the NULL sentinel. The original
// (algorithm.rs's split, over Option<&str>) treats NULL as a distinct
// value competing for the left/right halves like any other, rather than
// always routing it to one side.
type stringKey struct {
	isNull bool
	value  string
}

func keyOf(c *batch.Column, r int) stringKey {
	if c.IsNull(r) {
		return stringKey{isNull: true}
	}
	return stringKey{value: c.Strings[r]}
}

// orderedDistinctStringKeys returns the distinct values of c restricted to
// rows, including NULL as its own entry, in first-encounter order.
func orderedDistinctStringKeys(c *batch.Column, rows []int) []stringKey {
	seen := make(map[stringKey]struct{})
	var out []stringKey
	for _, r := range rows {
		k := keyOf(c, r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// sortedDistinctStrings returns the distinct non-null string values of c
// restricted to rows, sorted lexicographically, plus whether any row was
// NULL.
func sortedDistinctStrings(c *batch.Column, rows []int) (values []string, hasNull bool) {
	seen := make(map[string]struct{})
	for _, r := range rows {
		if c.IsNull(r) {
			hasNull = true
			continue
		}
		seen[c.Strings[r]] = struct{}{}
	}
	values = make([]string, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, hasNull
}

// longestCommonPrefix returns the longest common prefix of the non-null
// string values of c restricted to rows.
func longestCommonPrefix(c *batch.Column, rows []int) string {
	prefix := ""
	first := true
	for _, r := range rows {
		if c.IsNull(r) {
			continue
		}
		v := c.Strings[r]
		if first {
			prefix = v
			first = false
			continue
		}
		prefix = commonPrefix(prefix, v)
		if prefix == "" {
			break
		}
	}
	return prefix
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// distinctValueCount counts distinct values of c over rows, for any Kind,
// treating NULL as one additional distinct bucket when present — used for
// the ℓ-diversity criterion (spec.md §4.5), which may reference a
// sensitive column of any type.
func distinctValueCount(c *batch.Column, rows []int) int {
	seen := make(map[string]struct{})
	hasNull := false
	for _, r := range rows {
		if c.IsNull(r) {
			hasNull = true
			continue
		}
		seen[valueKey(c, r)] = struct{}{}
	}
	n := len(seen)
	if hasNull {
		n++
	}
	return n
}

func valueKey(c *batch.Column, i int) string {
	switch c.Kind {
	case batch.KindInt64:
		return fmt.Sprintf("i:%d", c.Ints[i])
	case batch.KindFloat64:
		return fmt.Sprintf("f:%v", c.Floats[i])
	case batch.KindString:
		return "s:" + c.Strings[i]
	case batch.KindBool:
		return fmt.Sprintf("b:%v", c.Bools[i])
	case batch.KindBytes:
		return "y:" + string(c.Bytes[i])
	default:
		return ""
	}
}
