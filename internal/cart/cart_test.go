package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/catalog"
	"cafepos/internal/pricing"
)

func kopiSusu() catalog.SellableItem {
	return catalog.SellableItem{
		ID:           "kopi-susu",
		Name:         "Kopi Susu",
		Kind:         catalog.PreparedBeverage,
		FixedCost:    decimal.NewFromInt(1600),
		ProfitMargin: decimal.RequireFromString("0.5"),
		RoundingUnit: decimal.NewFromInt(500),
	}
}

func book() catalog.SellableItem {
	return catalog.SellableItem{
		ID:            "book-1",
		Name:          "Laskar Pelangi",
		Author:        "Andrea Hirata",
		Kind:          catalog.StockedGood,
		PurchasePrice: decimal.NewFromInt(20000),
		SellingPrice:  decimal.NewFromInt(35000),
		StockQuantity: 5,
	}
}

func TestNewLine(t *testing.T) {
	line, err := NewLine(book(), "", 2)
	require.NoError(t, err)
	assert.Equal(t, "Laskar Pelangi - Andrea Hirata", line.ItemName)
	assert.Equal(t, "70000", line.LineTotal().String())
	assert.Equal(t, "30000", line.LineProfit().String())

	_, err = NewLine(book(), "", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	bad := kopiSusu()
	bad.RoundingUnit = decimal.Zero
	_, err = NewLine(bad, "", 1)
	assert.ErrorIs(t, err, pricing.ErrInvalidCatalogData)
}

func TestNewLineNamesVariant(t *testing.T) {
	item := kopiSusu()
	item.IngredientVariants = []catalog.IngredientVariant{
		{VariantID: "gayo", VariantName: "Gayo", UnitIngredientCost: decimal.NewFromInt(1000)},
	}
	line, err := NewLine(item, "gayo", 1)
	require.NoError(t, err)
	assert.Equal(t, "Kopi Susu (Gayo)", line.ItemName)
	assert.Equal(t, "Gayo", line.VariantName)
	assert.Equal(t, "4000", line.UnitPrice.String())
}

func TestAddMergesAndFreezesPrice(t *testing.T) {
	c := New()
	item := kopiSusu()

	_, err := c.Add(item, "")
	require.NoError(t, err)

	// A price change in the catalog after the line exists must not reprice it.
	item.FixedCost = decimal.NewFromInt(9000)
	line, err := c.Add(item, "")
	require.NoError(t, err)

	assert.Equal(t, 2, line.Quantity)
	assert.Equal(t, "2500", line.UnitPrice.String())
	assert.Equal(t, "1600", line.UnitCost.String())
	assert.Equal(t, 1, c.Len())
}

func TestRemove(t *testing.T) {
	c := New()
	_, _ = c.Add(book(), "")
	_, _ = c.Add(book(), "")

	assert.True(t, c.Remove("book-1", ""))
	require.Len(t, c.Lines(), 1)
	assert.Equal(t, 1, c.Lines()[0].Quantity)

	assert.True(t, c.Remove("book-1", ""))
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Remove("book-1", ""))
}

func TestTotalsMatchScenario(t *testing.T) {
	bev, err := NewLine(kopiSusu(), "", 2)
	require.NoError(t, err)
	b, err := NewLine(book(), "", 1)
	require.NoError(t, err)

	s := Totals([]Line{bev, b})
	assert.Equal(t, "40000", s.Amount.String())
	assert.Equal(t, "16800", s.Profit.String())
	assert.Equal(t, 3, s.Items)

	c := New()
	_, _ = c.Add(book(), "")
	assert.Equal(t, "35000", c.Total().String())
	c.Clear()
	assert.True(t, c.Total().IsZero())
}
