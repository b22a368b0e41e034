package classify

import (
	"fmt"

	"github.com/srg/bleep/internal/store"
)

// decide applies §4.10's decision rule over the full evidence set on record
// for a device (not just what this pass collected). Priority when more than
// one clause matches is dual, then classic, then le, then unknown; the spec
// names dual and classic as independent OR clauses but doesn't resolve the
// overlap where classic is conclusive and LE is strong-only-never-dual — see
// DESIGN.md's Open Question entry for this package.
func decide(evidence []store.Evidence) (classification string, reasoning []string) {
	var classicConclusive, leConclusive, leStrong []store.Evidence

	for _, e := range evidence {
		meta, ok := typeMeta[e.EvidenceType]
		if !ok || meta.category == categoryNone {
			continue
		}
		switch {
		case meta.category == categoryClassic && e.Weight == store.WeightConclusive:
			classicConclusive = append(classicConclusive, e)
		case meta.category == categoryLE && e.Weight == store.WeightConclusive:
			leConclusive = append(leConclusive, e)
		case meta.category == categoryLE && e.Weight == store.WeightStrong:
			leStrong = append(leStrong, e)
		}
	}

	isClassic := len(classicConclusive) > 0
	isDual := isClassic && len(leConclusive) > 0
	isLE := len(leConclusive) > 0 || len(leStrong) >= 2

	switch {
	case isDual:
		return ClassDual, citeAll(classicConclusive, leConclusive)
	case isClassic:
		return ClassClassic, citeAll(classicConclusive)
	case isLE:
		if len(leConclusive) > 0 {
			return ClassLE, citeAll(leConclusive)
		}
		return ClassLE, citeAll(leStrong)
	default:
		return ClassUnknown, nil
	}
}

func citeAll(groups ...[]store.Evidence) []string {
	var out []string
	for _, g := range groups {
		for _, e := range g {
			out = append(out, fmt.Sprintf("%s (%s) via %s", e.EvidenceType, e.Weight, e.Source))
		}
	}
	return out
}
