package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrIngredientNotFound = errors.New("ingredient not found")
	// ErrIngredientInUse is returned when deleting an ingredient a recipe still references.
	ErrIngredientInUse = errors.New("ingredient is used by a recipe")
)

// Ingredient is a raw material bought in packs, e.g. a bag of beans. Recipes
// that reference it derive their ingredient cost from its pack price.
type Ingredient struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PackSizeGrams int             `json:"pack_size_grams"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (in Ingredient) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return newValidationError("ingredient name is required")
	}
	if in.PurchasePrice.IsNegative() {
		return newValidationError("ingredient purchase price cannot be negative")
	}
	if in.PackSizeGrams <= 0 {
		return newValidationError("pack size must be a positive number of grams")
	}
	return nil
}

// CostOf is the cost of using grams of the ingredient, to two decimal places.
func (in Ingredient) CostOf(grams decimal.Decimal) decimal.Decimal {
	if in.PackSizeGrams <= 0 {
		return decimal.Zero
	}
	return in.PurchasePrice.Mul(grams).Div(decimal.NewFromInt(int64(in.PackSizeGrams))).Round(2)
}

// UsesIngredient reports whether any variant of the item is made from ingredientID.
func (it SellableItem) UsesIngredient(ingredientID string) bool {
	for _, v := range it.IngredientVariants {
		if v.IngredientID == ingredientID {
			return true
		}
	}
	return false
}

// ApplyIngredientCosts derives UnitIngredientCost for every variant that
// references an ingredient. Missing variant ids and names default to the
// ingredient's. Variants without a reference keep their stored cost.
func ApplyIngredientCosts(item SellableItem, ingredients map[string]Ingredient) (SellableItem, error) {
	out := item.Clone()
	for i, v := range out.IngredientVariants {
		if v.IngredientID == "" {
			continue
		}
		ing, ok := ingredients[v.IngredientID]
		if !ok {
			return item, newValidationError(fmt.Sprintf("variant %s references unknown ingredient %s", v.VariantID, v.IngredientID))
		}
		if !v.QuantityGrams.IsPositive() {
			return item, newValidationError(fmt.Sprintf("variant %s needs a positive quantity of %s", v.VariantID, ing.Name))
		}
		if strings.TrimSpace(v.VariantID) == "" {
			v.VariantID = ing.ID
		}
		if strings.TrimSpace(v.VariantName) == "" {
			v.VariantName = ing.Name
		}
		v.UnitIngredientCost = ing.CostOf(v.QuantityGrams)
		out.IngredientVariants[i] = v
	}
	return out, nil
}

// IngredientStore persists ingredients.
type IngredientStore interface {
	GetIngredient(ctx context.Context, id string) (*Ingredient, error)
	ListIngredients(ctx context.Context) ([]Ingredient, error)
	CreateIngredient(ctx context.Context, in Ingredient) (*Ingredient, error)
	UpdateIngredient(ctx context.Context, in Ingredient) (*Ingredient, error)
	DeleteIngredient(ctx context.Context, id string) error
}
