package validator

import (
	"strings"

	"github.com/teranos/factwire/fact"
	"github.com/teranos/factwire/internal/util"
)

// ScoreImportance ranks a transition of field from previous to value.
// Categories are matched as substrings of the lower-cased field name,
// first match wins:
//
//	tier        MAJOR (8)
//	pa_required HIGH (7)
//	shortage    URGENT (10)
//	warning     CRITICAL (9)
//	copay       SIGNIFICANT (6) for |Δ| >= 20, MODERATE (4) for |Δ| >= 5, else LOW (2)
//	otherwise   MODERATE (4)
//
// A missing or non-numeric copay side counts as 0.
func ScoreImportance(field string, previous, value any) fact.Importance {
	name := strings.ToLower(field)
	switch {
	case strings.Contains(name, "tier"):
		return fact.Major
	case strings.Contains(name, "pa_required"):
		return fact.High
	case strings.Contains(name, "shortage"):
		return fact.Urgent
	case strings.Contains(name, "warning"):
		return fact.Critical
	case strings.Contains(name, "copay"):
		delta := util.AbsFloat64(numberOrZero(value) - numberOrZero(previous))
		switch {
		case delta >= 20:
			return fact.Significant
		case delta >= 5:
			return fact.Moderate
		default:
			return fact.Low
		}
	}
	return fact.Moderate
}

func numberOrZero(v any) float64 {
	f, ok := fact.ToFloat64(v)
	if !ok {
		return 0
	}
	return f
}
