package testing

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/catalog"
	"cafepos/internal/data"
)

func TestDatabaseSeed(t *testing.T) {
	suite := NewTestSuite(t)
	ctx := context.Background()

	items, err := suite.Catalog.ListSellableItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 4)

	// Beverages list before goods.
	assert.Equal(t, catalog.PreparedBeverage, items[0].Kind)
	assert.Equal(t, catalog.PreparedBeverage, items[1].Kind)
	assert.Equal(t, catalog.StockedGood, items[2].Kind)

	tubruk, err := suite.Catalog.GetSellableItem(ctx, KopiTubruk)
	require.NoError(t, err)
	require.Len(t, tubruk.IngredientVariants, 2)
	assert.Equal(t, "gayo", tubruk.IngredientVariants[0].VariantID)
	assert.Equal(t, "5500", tubruk.IngredientVariants[1].UnitIngredientCost.String())

	assert.Equal(t, 5, suite.StockOf(t, LaskarPelangi))
	assert.Equal(t, 3, suite.StockOf(t, BumiManusia))

	// A second load leaves a populated catalog alone.
	n, err := suite.Inventory.LoadSeed(ctx, suite.Config.SeedPath)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 4, suite.CountRows(t, "sellable_items"))
}

func TestDatabaseMigratesLegacyOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	require.NoError(t, data.InitDB(path))
	t.Cleanup(func() { data.CloseDB() })

	db, err := data.GetDB()
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		total_profit TEXT NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO orders (id, code, created_at, total_amount, total_profit)
		VALUES ('legacy-1', 'TRX-20240101-AAAAAA', '2024-01-01T03:00:00Z', '40000', '16800')`)
	require.NoError(t, err)

	require.NoError(t, data.CreateTables())
	// Running the migration twice is harmless.
	require.NoError(t, data.CreateTables())

	for _, col := range []string{"operator_id", "idempotency_key"} {
		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('orders') WHERE name = ?`, col).Scan(&count))
		assert.Equal(t, 1, count, col)
	}

	var operator string
	require.NoError(t, db.QueryRow(`SELECT operator_id FROM orders WHERE id = 'legacy-1'`).Scan(&operator))
	assert.Empty(t, operator)
}

func TestDatabaseCloseIsIdempotent(t *testing.T) {
	require.NoError(t, data.InitDB(filepath.Join(t.TempDir(), "close.db")))
	require.NoError(t, data.CloseDB())
	require.NoError(t, data.CloseDB())

	_, err := data.GetDB()
	assert.Error(t, err)
}
