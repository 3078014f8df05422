// Package anonymize implements the Mondrian-style k-anonymity/ℓ-diversity
// engine of spec.md §4.5: recursive quasi-identifier partitioning followed
// by per-column aggregation and identifier randomization.
package anonymize

import (
	"github.com/anonproxy/pganonproxy/internal/batch"
	"github.com/anonproxy/pganonproxy/internal/config"
	"github.com/anonproxy/pganonproxy/internal/projection"
)

// role classifies how one output column is treated by the engine.
type role int

const (
	rolePassthrough role = iota
	roleIdentifier
	roleQuasiIdentifier
)

// Policy is the resolved anonymization configuration: the criteria to
// satisfy and, per column index, how that column is transformed.
type Policy struct {
	K                int
	LDiversity       *config.LDiversity
	LDiversityColIdx int // -1 if no ℓ-diversity criterion, or its column is absent from this batch

	roles    []role
	policies []config.ColumnPolicy // valid where roles[i] == roleQuasiIdentifier
}

// FromConfig builds a Policy by matching each projected origin against
// cfg's column policy map ("table.column" keys, spec.md §6).
func FromConfig(cfg *config.Config, origins []projection.Origin) *Policy {
	identifiers := make(map[string]bool)
	quasi := make(map[string]config.ColumnPolicy)
	for _, c := range cfg.Columns {
		if c.IsIdentifier() {
			identifiers[c.Column] = true
		} else if c.IsPseudoIdentifier() {
			quasi[c.Column] = c
		}
	}

	p := &Policy{
		K:                cfg.K,
		LDiversity:       cfg.LDiversity,
		LDiversityColIdx: -1,
		roles:            make([]role, len(origins)),
		policies:         make([]config.ColumnPolicy, len(origins)),
	}

	for i, o := range origins {
		key := originKey(o)
		if key == "" {
			continue
		}
		if identifiers[key] {
			p.roles[i] = roleIdentifier
			continue
		}
		if cp, ok := quasi[key]; ok {
			p.roles[i] = roleQuasiIdentifier
			p.policies[i] = cp
			continue
		}
		if cfg.LDiversity != nil && key == cfg.LDiversity.SensitiveColumn {
			p.LDiversityColIdx = i
		}
	}

	return p
}

func originKey(o projection.Origin) string {
	if o.Kind != projection.KindTableColumn {
		return ""
	}
	return o.Table + "." + o.Column
}

// HasAnonymizationWork reports whether any column in this batch is an
// identifier or quasi-identifier — the fast path of spec.md §4.5.
func (p *Policy) HasAnonymizationWork() bool {
	for _, r := range p.roles {
		if r != rolePassthrough {
			return true
		}
	}
	return false
}

// aggregationKind is the concrete per-column aggregation selected once the
// column's runtime batch.Kind is known.
type aggregationKind int

const (
	aggPassthrough aggregationKind = iota
	aggIdentifier
	aggNumericMedian
	aggNumericRange
	aggStringJoin
	aggStringSubstring
)

// resolveAggregation picks the concrete aggregation for column i given its
// runtime Kind: a quasi-identifier's numeric_aggregation applies over
// numeric columns, falling back to string_aggregation otherwise.
func (p *Policy) resolveAggregation(i int, kind batch.Kind) aggregationKind {
	switch p.roles[i] {
	case roleIdentifier:
		return aggIdentifier
	case roleQuasiIdentifier:
		numeric := kind == batch.KindInt64 || kind == batch.KindFloat64
		cp := p.policies[i]
		if numeric {
			if cp.EffectiveNumericAggregation() == config.NumericRange {
				return aggNumericRange
			}
			return aggNumericMedian
		}
		if cp.EffectiveStringAggregation() == config.StringSubstring {
			return aggStringSubstring
		}
		return aggStringJoin
	default:
		return aggPassthrough
	}
}

// isQuasiIdentifier reports whether column i participates in partitioning.
func (p *Policy) isQuasiIdentifier(i int) bool {
	return p.roles[i] == roleQuasiIdentifier
}
