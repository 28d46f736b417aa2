package testing

import "cafepos/internal/catalog"

// Seed catalog item ids
const (
	KopiSusu      = "kopi-susu"
	KopiTubruk    = "kopi-tubruk"
	LaskarPelangi = "laskar-pelangi"
	BumiManusia   = "bumi-manusia"
)

// testCatalog is the seed every suite starts from. Kopi Susu and Laskar
// Pelangi give the classic 40.000 / 16.800 receipt for two coffees and a book.
func testCatalog() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"id": KopiSusu, "name": "Kopi Susu", "kind": "menu",
			"fixed_cost": "1600", "profit_margin": "0.5", "rounding_unit": "500",
		},
		{
			"id": KopiTubruk, "name": "Kopi Tubruk", "kind": "menu",
			"fixed_cost": "1000", "profit_margin": "0.4", "rounding_unit": "1000",
			"ingredient_variants": []map[string]interface{}{
				{"variant_id": "gayo", "variant_name": "Gayo", "unit_ingredient_cost": "4000"},
				{"variant_id": "toraja", "variant_name": "Toraja", "unit_ingredient_cost": "5500"},
			},
		},
		{
			"id": LaskarPelangi, "name": "Laskar Pelangi", "author": "Andrea Hirata", "kind": "book",
			"purchase_price": "20000", "selling_price": "35000", "stock_quantity": 5,
		},
		{
			"id": BumiManusia, "name": "Bumi Manusia", "author": "Pramoedya Ananta Toer", "kind": "book",
			"purchase_price": "60000", "selling_price": "95000", "stock_quantity": 3,
		},
	}
}

// CartLine is one line of a checkout request body.
func CartLine(itemID string, quantity int) map[string]interface{} {
	return map[string]interface{}{"item_id": itemID, "quantity": quantity}
}

// VariantLine is a beverage line with a chosen ingredient variant.
func VariantLine(itemID, variantID string, quantity int) map[string]interface{} {
	return map[string]interface{}{"item_id": itemID, "variant_id": variantID, "quantity": quantity}
}

// Checkout builds a checkout request body.
func Checkout(lines ...map[string]interface{}) map[string]interface{} {
	if lines == nil {
		lines = []map[string]interface{}{}
	}
	return map[string]interface{}{"lines": lines}
}

// ScenarioCart is two Kopi Susu and one Laskar Pelangi.
func ScenarioCart() map[string]interface{} {
	return Checkout(CartLine(KopiSusu, 2), CartLine(LaskarPelangi, 1))
}

// saleOf is the stock decrement a settlement records for an order.
func saleOf(itemID string, quantity int, orderID string) catalog.StockAdjustment {
	return catalog.StockAdjustment{
		ItemID:        itemID,
		Delta:         -quantity,
		ReferenceType: catalog.ReferenceSale,
		ReferenceID:   orderID,
	}
}
