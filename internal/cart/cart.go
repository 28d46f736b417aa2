// Package cart holds the transient, cashier-side list of lines being rung up.
// Prices are resolved once, when a line is added, and frozen from then on.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"cafepos/internal/catalog"
	"cafepos/internal/pricing"
)

// ErrInvalidQuantity is returned for quantities below one.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Line is one cart entry with its price captured at add time.
type Line struct {
	ItemID      string          `json:"item_id"`
	ItemName    string          `json:"item_name"`
	Kind        catalog.Kind    `json:"kind"`
	VariantID   string          `json:"variant_id,omitempty"`
	VariantName string          `json:"variant_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Key identifies a line by item and variant.
func (l Line) Key() string {
	return l.ItemID + "\x00" + l.VariantID
}

// LineTotal is UnitPrice * Quantity.
func (l Line) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineProfit is (UnitPrice - UnitCost) * Quantity.
func (l Line) LineProfit() decimal.Decimal {
	return l.UnitPrice.Sub(l.UnitCost).Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// NewLine resolves the item's price for variantID and freezes it into a line.
func NewLine(item catalog.SellableItem, variantID string, quantity int) (Line, error) {
	if quantity < 1 {
		return Line{}, ErrInvalidQuantity
	}

	price, err := pricing.Resolve(item, variantID)
	if err != nil {
		return Line{}, err
	}

	line := Line{
		ItemID:    item.ID,
		ItemName:  item.DisplayName(),
		Kind:      item.Kind,
		Quantity:  quantity,
		UnitPrice: price.UnitPrice,
		UnitCost:  price.UnitCost,
	}

	if item.Kind == catalog.PreparedBeverage {
		line.VariantID = variantID
		if v, ok := item.Variant(variantID); ok {
			line.VariantName = v.VariantName
			line.ItemName = fmt.Sprintf("%s (%s)", item.Name, v.VariantName)
		}
	}
	return line, nil
}

// Cart is safe for concurrent use.
type Cart struct {
	mu    sync.Mutex
	lines []Line
}

func New() *Cart {
	return &Cart{}
}

// Add puts one unit of item/variant in the cart. A repeat add bumps the
// quantity of the existing line and keeps its original price.
func (c *Cart) Add(item catalog.SellableItem, variantID string) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := item.ID + "\x00" + variantID
	if item.Kind == catalog.StockedGood {
		key = item.ID + "\x00"
	}
	for i := range c.lines {
		if c.lines[i].Key() == key {
			c.lines[i].Quantity++
			return c.lines[i], nil
		}
	}

	line, err := NewLine(item, variantID, 1)
	if err != nil {
		return Line{}, err
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// Remove takes one unit off a line and drops the line when it reaches zero.
// It reports whether a line was found.
func (c *Cart) Remove(itemID, variantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := itemID + "\x00" + variantID
	for i := range c.lines {
		if c.lines[i].Key() != key {
			continue
		}
		if c.lines[i].Quantity > 1 {
			c.lines[i].Quantity--
		} else {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
		}
		return true
	}
	return false
}

// Lines returns a copy of the current lines in insertion order.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Line(nil), c.lines...)
}

// Len is the number of distinct lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Total sums line totals.
func (c *Cart) Total() decimal.Decimal {
	return Totals(c.Lines()).Amount
}

// Clear empties the cart, typically after a successful settlement.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// Summary is the aggregate of a set of lines.
type Summary struct {
	Amount decimal.Decimal `json:"total_amount"`
	Profit decimal.Decimal `json:"total_profit"`
	Items  int             `json:"item_count"`
}

// Totals computes Σ(unitPrice*qty) and Σ((unitPrice-unitCost)*qty) from the frozen prices.
func Totals(lines []Line) Summary {
	s := Summary{Amount: decimal.Zero, Profit: decimal.Zero}
	for _, l := range lines {
		s.Amount = s.Amount.Add(l.LineTotal())
		s.Profit = s.Profit.Add(l.LineProfit())
		s.Items += l.Quantity
	}
	return s
}
