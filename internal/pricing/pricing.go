// Package pricing turns catalog economics into a unit sell price and a unit
// cost of goods (HPP). Every function here is pure.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"cafepos/internal/catalog"
)

// ErrInvalidCatalogData is the sentinel wrapped by InvalidCatalogDataError.
var ErrInvalidCatalogData = errors.New("invalid catalog data")

// InvalidCatalogDataError names the item and field that made resolution impossible.
// It indicates a configuration bug and is never defaulted away.
type InvalidCatalogDataError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *InvalidCatalogDataError) Error() string {
	return fmt.Sprintf("invalid catalog data for item %s: %s %s", e.ItemID, e.Field, e.Reason)
}

func (e *InvalidCatalogDataError) Unwrap() error { return ErrInvalidCatalogData }

func invalid(item catalog.SellableItem, field, reason string) error {
	return &InvalidCatalogDataError{ItemID: item.ID, Field: field, Reason: reason}
}

// NoVariant is the implicit entry used for beverages without an ingredient recipe.
var NoVariant = catalog.IngredientVariant{VariantName: "Non-Coffee", UnitIngredientCost: decimal.Zero}

// Price is a resolved unit price and unit cost.
type Price struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

// Margin is the per-unit profit.
func (p Price) Margin() decimal.Decimal {
	return p.UnitPrice.Sub(p.UnitCost)
}

// VariantPrice is one row of the variant picker.
type VariantPrice struct {
	VariantID   string          `json:"variant_id,omitempty"`
	VariantName string          `json:"variant_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// ResolveStockedGood returns the stored prices of a stocked good.
func ResolveStockedGood(item catalog.SellableItem) (Price, error) {
	if item.Kind != catalog.StockedGood {
		return Price{}, invalid(item, "kind", "is not StockedGood")
	}
	if item.SellingPrice.IsNegative() {
		return Price{}, invalid(item, "selling_price", "is negative")
	}
	if item.PurchasePrice.IsNegative() {
		return Price{}, invalid(item, "purchase_price", "is negative")
	}
	return Price{UnitPrice: item.SellingPrice, UnitCost: item.PurchasePrice}, nil
}

// ResolveBeverageVariant prices one recipe choice of a beverage:
//
//	unitCost  = fixedCost + unitIngredientCost
//	unitPrice = ceil(unitCost * (1 + profitMargin) / roundingUnit) * roundingUnit
//
// Rounding is always up so the realized margin never drops below the configured one.
// A negative margin is accepted as-is.
func ResolveBeverageVariant(item catalog.SellableItem, variant catalog.IngredientVariant) (Price, error) {
	if item.Kind != catalog.PreparedBeverage {
		return Price{}, invalid(item, "kind", "is not PreparedBeverage")
	}
	if !item.RoundingUnit.IsPositive() {
		return Price{}, invalid(item, "rounding_unit", "must be positive")
	}
	if item.FixedCost.IsNegative() {
		return Price{}, invalid(item, "fixed_cost", "is negative")
	}
	if variant.UnitIngredientCost.IsNegative() {
		return Price{}, invalid(item, "unit_ingredient_cost", "is negative for variant "+variant.VariantID)
	}

	unitCost := item.FixedCost.Add(variant.UnitIngredientCost)
	raw := unitCost.Mul(decimal.NewFromInt(1).Add(item.ProfitMargin))
	steps := raw.Div(item.RoundingUnit).Ceil()

	// Div rounds to DivisionPrecision digits, so the quotient can land one step
	// off an exact boundary. Multiplication is exact; settle the step count with it.
	one := decimal.NewFromInt(1)
	for steps.Mul(item.RoundingUnit).LessThan(raw) {
		steps = steps.Add(one)
	}
	for steps.Sub(one).Mul(item.RoundingUnit).GreaterThanOrEqual(raw) {
		steps = steps.Sub(one)
	}

	return Price{
		UnitPrice: steps.Mul(item.RoundingUnit),
		UnitCost:  unitCost,
	}, nil
}

// ListVariantPrices resolves every ingredient variant in catalog order, or a
// single NoVariant entry when the beverage has no recipe options.
func ListVariantPrices(item catalog.SellableItem) ([]VariantPrice, error) {
	if item.Kind == catalog.StockedGood {
		p, err := ResolveStockedGood(item)
		if err != nil {
			return nil, err
		}
		return []VariantPrice{{VariantName: item.DisplayName(), UnitPrice: p.UnitPrice, UnitCost: p.UnitCost}}, nil
	}

	variants := item.IngredientVariants
	if len(variants) == 0 {
		variants = []catalog.IngredientVariant{NoVariant}
	}

	out := make([]VariantPrice, 0, len(variants))
	for _, v := range variants {
		p, err := ResolveBeverageVariant(item, v)
		if err != nil {
			return nil, err
		}
		out = append(out, VariantPrice{
			VariantID:   v.VariantID,
			VariantName: v.VariantName,
			UnitPrice:   p.UnitPrice,
			UnitCost:    p.UnitCost,
		})
	}
	return out, nil
}

// Resolve dispatches on item kind. variantID is ignored for stocked goods and
// may be empty for beverages without variants.
func Resolve(item catalog.SellableItem, variantID string) (Price, error) {
	switch item.Kind {
	case catalog.StockedGood:
		return ResolveStockedGood(item)
	case catalog.PreparedBeverage:
		if len(item.IngredientVariants) == 0 {
			if variantID != "" {
				return Price{}, invalid(item, "variant", fmt.Sprintf("%q does not exist", variantID))
			}
			return ResolveBeverageVariant(item, NoVariant)
		}
		v, ok := item.Variant(variantID)
		if !ok {
			return Price{}, invalid(item, "variant", fmt.Sprintf("%q does not exist", variantID))
		}
		return ResolveBeverageVariant(item, v)
	default:
		return Price{}, invalid(item, "kind", "is unknown")
	}
}
