package pricing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"cafepos/internal/catalog"
)

func propertyItem(fixed, marginBasisPoints, rounding int) catalog.SellableItem {
	return catalog.SellableItem{
		ID:           "prop",
		Kind:         catalog.PreparedBeverage,
		FixedCost:    decimal.NewFromInt(int64(fixed)),
		ProfitMargin: decimal.New(int64(marginBasisPoints), -4),
		RoundingUnit: decimal.NewFromInt(int64(rounding)),
	}
}

// Property: the price is a multiple of the rounding unit and never below cost*(1+margin).
func TestRoundingInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("unit price is a covering multiple of the rounding unit", prop.ForAll(
		func(fixed, ingredient, marginBP, rounding int) bool {
			item := propertyItem(fixed, marginBP, rounding)
			variant := catalog.IngredientVariant{VariantID: "v", UnitIngredientCost: decimal.NewFromInt(int64(ingredient))}

			p, err := ResolveBeverageVariant(item, variant)
			if err != nil {
				return false
			}

			raw := p.UnitCost.Mul(decimal.NewFromInt(1).Add(item.ProfitMargin))
			if !p.UnitPrice.Mod(item.RoundingUnit).IsZero() {
				return false
			}
			if p.UnitPrice.LessThan(raw) {
				return false
			}
			// and it is the smallest such multiple
			return p.UnitPrice.Sub(item.RoundingUnit).LessThan(raw)
		},
		gen.IntRange(0, 250000),
		gen.IntRange(0, 100000),
		gen.IntRange(-5000, 30000),
		gen.IntRange(1, 10000),
	))

	properties.TestingRun(t)
}

// Property: resolving twice yields identical results.
func TestResolverIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("resolution is deterministic", prop.ForAll(
		func(fixed, marginBP, rounding int) bool {
			item := propertyItem(fixed, marginBP, rounding)

			p1, err1 := ResolveBeverageVariant(item, NoVariant)
			p2, err2 := ResolveBeverageVariant(item, NoVariant)
			if err1 != nil || err2 != nil {
				return false
			}
			return p1.UnitPrice.String() == p2.UnitPrice.String() &&
				p1.UnitCost.String() == p2.UnitCost.String()
		},
		gen.IntRange(0, 250000),
		gen.IntRange(-5000, 30000),
		gen.IntRange(1, 10000),
	))

	properties.TestingRun(t)
}
