package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an item id is unknown so handlers can respond with 404.
var ErrNotFound = errors.New("sellable item not found")

// Kind tags what sort of catalog entry an item is.
type Kind int

const (
	PreparedBeverage Kind = iota + 1
	StockedGood
)

func (k Kind) String() string {
	switch k {
	case PreparedBeverage:
		return "PreparedBeverage"
	case StockedGood:
		return "StockedGood"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the canonical names plus the MENU/BOOK labels the cashier screen uses.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "preparedbeverage", "prepared_beverage", "beverage", "menu":
		return PreparedBeverage, nil
	case "stockedgood", "stocked_good", "good", "book":
		return StockedGood, nil
	default:
		return 0, fmt.Errorf("unknown item kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if k != PreparedBeverage && k != StockedGood {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IngredientVariant is one recipe choice for a beverage, e.g. a bean type.
// When IngredientID is set, UnitIngredientCost is derived from that
// ingredient's pack price and QuantityGrams whenever either changes.
type IngredientVariant struct {
	VariantID          string          `json:"variant_id"`
	VariantName        string          `json:"variant_name"`
	UnitIngredientCost decimal.Decimal `json:"unit_ingredient_cost"`
	IngredientID       string          `json:"ingredient_id,omitempty"`
	QuantityGrams      decimal.Decimal `json:"quantity_grams"`
}

// SellableItem is a catalog entry. Beverage fields and stocked-good fields are
// mutually exclusive; Kind says which set is meaningful.
type SellableItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Author string `json:"author,omitempty"`
	Kind   Kind   `json:"kind"`

	FixedCost          decimal.Decimal     `json:"fixed_cost"`
	ProfitMargin       decimal.Decimal     `json:"profit_margin"`
	RoundingUnit       decimal.Decimal     `json:"rounding_unit"`
	IngredientVariants []IngredientVariant `json:"ingredient_variants"`

	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	StockQuantity int             `json:"stock_quantity"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayName is the label shown on the cashier screen: "Title - Author" for books.
func (it SellableItem) DisplayName() string {
	if it.Kind == StockedGood && strings.TrimSpace(it.Author) != "" {
		return it.Name + " - " + it.Author
	}
	return it.Name
}

// Variant looks up an ingredient variant by id.
func (it SellableItem) Variant(variantID string) (IngredientVariant, bool) {
	for _, v := range it.IngredientVariants {
		if v.VariantID == variantID {
			return v, true
		}
	}
	return IngredientVariant{}, false
}

// Clone returns a copy that shares no slices with the receiver.
func (it SellableItem) Clone() SellableItem {
	out := it
	if it.IngredientVariants != nil {
		out.IngredientVariants = append([]IngredientVariant(nil), it.IngredientVariants...)
	}
	return out
}

// Validate checks the rules catalog management enforces before saving.
func (it SellableItem) Validate() error {
	if strings.TrimSpace(it.Name) == "" {
		return newValidationError("name is required")
	}

	switch it.Kind {
	case PreparedBeverage:
		if it.FixedCost.IsNegative() {
			return newValidationError("fixed cost cannot be negative")
		}
		if !it.RoundingUnit.IsPositive() {
			return newValidationError("rounding unit must be positive")
		}
		seen := make(map[string]bool, len(it.IngredientVariants))
		for _, v := range it.IngredientVariants {
			if strings.TrimSpace(v.VariantID) == "" {
				return newValidationError("variant id is required")
			}
			if seen[v.VariantID] {
				return newValidationError(fmt.Sprintf("duplicate variant id %s", v.VariantID))
			}
			seen[v.VariantID] = true
			if strings.TrimSpace(v.VariantName) == "" {
				return newValidationError(fmt.Sprintf("variant %s needs a name", v.VariantID))
			}
			if v.UnitIngredientCost.IsNegative() {
				return newValidationError(fmt.Sprintf("variant %s has a negative ingredient cost", v.VariantID))
			}
			if v.QuantityGrams.IsNegative() {
				return newValidationError(fmt.Sprintf("variant %s has a negative quantity", v.VariantID))
			}
		}
	case StockedGood:
		if it.PurchasePrice.IsNegative() || it.SellingPrice.IsNegative() {
			return newValidationError("prices cannot be negative")
		}
		if it.StockQuantity < 0 {
			return newValidationError("stock quantity cannot be negative")
		}
		if len(it.IngredientVariants) > 0 {
			return newValidationError("stocked goods have no ingredient variants")
		}
	default:
		return newValidationError("kind must be PreparedBeverage or StockedGood")
	}
	return nil
}

// validationError communicates rule violations back to HTTP handlers.
type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

func newValidationError(msg string) error {
	return validationError{message: msg}
}

// IsValidation distinguishes business-rule failures from infrastructure failures.
func IsValidation(err error) bool {
	var v validationError
	return errors.As(err, &v)
}

// Store is the read side the settlement workflow and price views need.
type Store interface {
	GetSellableItem(ctx context.Context, id string) (*SellableItem, error)
	ListSellableItems(ctx context.Context) ([]SellableItem, error)
}

// Writer is used by catalog management.
type Writer interface {
	CreateSellableItem(ctx context.Context, item SellableItem) (*SellableItem, error)
	UpdateSellableItem(ctx context.Context, item SellableItem) (*SellableItem, error)
	DeleteSellableItem(ctx context.Context, id string) error
}
