package anonymize

import (
	"fmt"
	"strings"

	"github.com/anonproxy/pganonproxy/internal/batch"
)

// outputKind returns the batch.Kind column i will have after aggregation,
// given its source Kind — spec.md §4.5's schema transformation: Range and
// identifier randomization both produce strings, everything else preserves
// the input type. A dropped quasi-identifier (undefined full-batch span)
// always keeps its source kind: it is passed through, never aggregated.
func outputKind(p *Policy, i int, srcKind batch.Kind, dropped bool) batch.Kind {
	if dropped {
		return srcKind
	}
	switch p.resolveAggregation(i, srcKind) {
	case aggIdentifier, aggNumericRange, aggStringJoin, aggStringSubstring:
		return batch.KindString
	default:
		return srcKind
	}
}

func appendAggregation(dst, src *batch.Column, part []int, p *Policy, colIdx int, dropped bool) error {
	if dropped {
		appendPassthrough(dst, src, part)
		return nil
	}
	switch p.resolveAggregation(colIdx, src.Kind) {
	case aggPassthrough:
		appendPassthrough(dst, src, part)
		return nil
	case aggIdentifier:
		return appendIdentifier(dst, src, part)
	case aggNumericMedian:
		return appendNumericMedian(dst, src, part)
	case aggNumericRange:
		appendNumericRange(dst, src, part)
		return nil
	case aggStringJoin:
		appendStringJoin(dst, src, part)
		return nil
	case aggStringSubstring:
		appendStringSubstring(dst, src, part)
		return nil
	default:
		appendPassthrough(dst, src, part)
		return nil
	}
}

func appendPassthrough(dst, src *batch.Column, part []int) {
	for _, r := range part {
		if src.IsNull(r) {
			dst.AppendNull()
			continue
		}
		switch src.Kind {
		case batch.KindInt64:
			dst.AppendInt64(src.Ints[r])
		case batch.KindFloat64:
			dst.AppendFloat64(src.Floats[r])
		case batch.KindString:
			dst.AppendString(src.Strings[r])
		case batch.KindBool:
			dst.AppendBool(src.Bools[r])
		case batch.KindBytes:
			dst.AppendBytes(src.Bytes[r])
		}
	}
}

func appendIdentifier(dst, src *batch.Column, part []int) error {
	for _, r := range part {
		if src.IsNull(r) {
			dst.AppendNull()
			continue
		}
		id, err := randomIdentifier()
		if err != nil {
			return fmt.Errorf("generating identifier: %w", err)
		}
		dst.AppendString(id)
	}
	return nil
}

func appendNumericMedian(dst, src *batch.Column, part []int) error {
	median, ok := computeMedian(src, part)
	if !ok {
		return ErrNoMedian
	}
	for _, r := range part {
		if src.IsNull(r) {
			dst.AppendNull()
			continue
		}
		if src.Kind == batch.KindFloat64 {
			dst.AppendFloat64(float64(median))
		} else {
			dst.AppendInt64(median)
		}
	}
	return nil
}

func appendNumericRange(dst, src *batch.Column, part []int) {
	min, max, ok := computeMinMax(src, part)
	var s string
	switch {
	case !ok:
		s = "null"
	case min == max:
		s = fmt.Sprintf("%d", min)
	default:
		s = fmt.Sprintf("%d - %d", min, max)
	}
	for range part {
		dst.AppendString(s)
	}
}

func appendStringJoin(dst, src *batch.Column, part []int) {
	values, hasNull := sortedDistinctStrings(src, part)
	if hasNull {
		values = append(values, "None")
	}
	s := strings.Join(values, ", ")
	for range part {
		dst.AppendString(s)
	}
}

func appendStringSubstring(dst, src *batch.Column, part []int) {
	s := longestCommonPrefix(src, part) + "*"
	for range part {
		dst.AppendString(s)
	}
}
