package validator

import (
	"strings"

	"github.com/teranos/factwire/errors"
	"github.com/teranos/factwire/fact"
)

const (
	// RuleConfidence is the sanity-rule confidence for an ordinary value
	RuleConfidence = 0.9
	// OutlierRuleConfidence applies to price-like values above OutlierPrice
	OutlierRuleConfidence = 0.7
	// OutlierPrice is the threshold above which a price is suspicious
	OutlierPrice = 100000
)

var priceFields = []string{"price", "copay", "awp", "nadac", "cost"}

// IsPriceLike reports whether the fact carries a monetary amount
func IsPriceLike(entityType, field string) bool {
	if strings.EqualFold(entityType, "price") {
		return true
	}
	name := strings.ToLower(field)
	for _, p := range priceFields {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// checkRules applies the sanity rules and returns the rule confidence.
// Negative amounts on price-like facts are rejected with ErrInvalidValue.
func checkRules(f *fact.Fact) (float64, error) {
	if !IsPriceLike(f.EntityType, f.Field) {
		return RuleConfidence, nil
	}
	amount, ok := fact.ToFloat64(f.Value)
	if !ok {
		return RuleConfidence, nil
	}
	if amount < 0 {
		return 0, errors.NewInvalidValueError("%s %s: negative amount %v", f.EntityRef(), f.Field, f.Value)
	}
	if amount > OutlierPrice {
		return OutlierRuleConfidence, nil
	}
	return RuleConfidence, nil
}
