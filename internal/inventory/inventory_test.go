package inventory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/catalog"
	"cafepos/internal/notify"
)

type memStore struct {
	mu    sync.Mutex
	items []catalog.SellableItem
	seq   int
}

func (m *memStore) GetSellableItem(ctx context.Context, id string) (*catalog.SellableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.items {
		if it.ID == id {
			c := it.Clone()
			return &c, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (m *memStore) ListSellableItems(ctx context.Context) ([]catalog.SellableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.SellableItem(nil), m.items...), nil
}

func (m *memStore) CreateSellableItem(ctx context.Context, item catalog.SellableItem) (*catalog.SellableItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == "" {
		m.seq++
		item.ID = "item-" + string(rune('0'+m.seq))
	}
	m.items = append(m.items, item)
	return &item, nil
}

func (m *memStore) UpdateSellableItem(ctx context.Context, item catalog.SellableItem) (*catalog.SellableItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == item.ID {
			item.StockQuantity = m.items[i].StockQuantity
			m.items[i] = item
			return &item, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (m *memStore) DeleteSellableItem(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return catalog.ErrNotFound
}

func (m *memStore) AdjustStockQuantity(ctx context.Context, adj catalog.StockAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == adj.ItemID {
			if m.items[i].StockQuantity+adj.Delta < 0 {
				return catalog.ErrStockExhausted
			}
			m.items[i].StockQuantity += adj.Delta
			return nil
		}
	}
	return catalog.ErrNotFound
}

func beverage(id string) catalog.SellableItem {
	return catalog.SellableItem{
		ID:           id,
		Name:         "Kopi Susu",
		Kind:         catalog.PreparedBeverage,
		FixedCost:    decimal.NewFromInt(1600),
		ProfitMargin: decimal.RequireFromString("0.5"),
		RoundingUnit: decimal.NewFromInt(500),
	}
}

func good(id string, stock int, price int64) catalog.SellableItem {
	return catalog.SellableItem{
		ID:            id,
		Name:          "Book " + id,
		Kind:          catalog.StockedGood,
		PurchasePrice: decimal.NewFromInt(price / 2),
		SellingPrice:  decimal.NewFromInt(price),
		StockQuantity: stock,
	}
}

func newService(t *testing.T, items ...catalog.SellableItem) (*Service, *memStore) {
	t.Helper()
	store := &memStore{items: items}
	svc := NewService(store, store, Options{LowStockThreshold: 5})
	require.NoError(t, svc.Refresh(context.Background()))
	return svc, store
}

func TestSellableNowHidesEmptyGoods(t *testing.T) {
	svc, _ := newService(t, beverage("kopi"), good("b1", 0, 30000), good("b2", 3, 30000))

	ids := []string{}
	for _, it := range svc.SellableNow() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"kopi", "b2"}, ids)
	assert.Len(t, svc.Items(), 3)
}

func TestMenuSkipsUnpriceableItems(t *testing.T) {
	broken := beverage("broken")
	broken.RoundingUnit = decimal.Zero
	svc, _ := newService(t, beverage("kopi"), broken)

	menu := svc.Menu()
	require.Len(t, menu, 1)
	assert.Equal(t, "kopi", menu[0].Item.ID)
	require.Len(t, menu[0].Prices, 1)
	assert.Equal(t, "Non-Coffee", menu[0].Prices[0].VariantName)
	assert.Equal(t, "2500", menu[0].Prices[0].UnitPrice.String())
}

func TestGetStats(t *testing.T) {
	svc, _ := newService(t, beverage("kopi"), good("b1", 2, 30000), good("b2", 10, 50000))

	st := svc.GetStats()
	assert.Equal(t, 3, st.TotalItems)
	assert.Equal(t, 1, st.Beverages)
	assert.Equal(t, 2, st.Goods)
	assert.Equal(t, 12, st.TotalStock)
	assert.Equal(t, "560000", st.TotalValue.String())
	assert.Equal(t, 1, st.LowStockCount)
	assert.Equal(t, []string{"b1"}, st.LowStockItems)
}

func TestRestockPublishesAndRefreshes(t *testing.T) {
	store := &memStore{items: []catalog.SellableItem{beverage("kopi"), good("b1", 0, 30000)}}
	hub := notify.NewHub()
	svc := NewService(store, store, Options{Publisher: hub})
	require.NoError(t, svc.Refresh(context.Background()))

	updates, cancel := hub.Subscribe(context.Background())
	defer cancel()

	require.NoError(t, svc.Restock(context.Background(), "b1", 4, "admin", "supplier delivery"))

	it, ok := svc.Item("b1")
	require.True(t, ok)
	assert.Equal(t, 4, it.StockQuantity)

	select {
	case u := <-updates:
		assert.Equal(t, "b1", u.ItemID)
		assert.Equal(t, notify.ActionStock, u.Action)
	case <-time.After(time.Second):
		t.Fatal("no price update published")
	}

	assert.ErrorIs(t, svc.Restock(context.Background(), "b1", 0, "admin", ""), ErrInvalidRestock)
	assert.ErrorIs(t, svc.Restock(context.Background(), "kopi", 1, "admin", ""), ErrInvalidRestock)
}

func TestSaveAndDeleteItem(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.SaveItem(ctx, good("", 1, 20000))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	created.SellingPrice = decimal.NewFromInt(25000)
	updated, err := svc.SaveItem(ctx, *created)
	require.NoError(t, err)
	assert.Equal(t, "25000", updated.SellingPrice.String())
	assert.Len(t, svc.Items(), 1)

	_, err = svc.SaveItem(ctx, catalog.SellableItem{Kind: catalog.StockedGood})
	assert.True(t, catalog.IsValidation(err))

	require.NoError(t, svc.DeleteItem(ctx, created.ID))
	assert.Empty(t, svc.Items())
	assert.ErrorIs(t, svc.DeleteItem(ctx, created.ID), catalog.ErrNotFound)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	seed := `[
		{"id": "laskar", "name": "Laskar Pelangi", "author": "Andrea Hirata", "kind": "book",
		 "purchase_price": "20000", "selling_price": "35000", "stock_quantity": 5},
		{"id": "kopi-susu", "name": "Kopi Susu", "kind": "menu",
		 "fixed_cost": "1600", "profit_margin": "0.5", "rounding_unit": "500",
		 "ingredient_variants": [{"variant_id": "gayo", "variant_name": "Gayo", "unit_ingredient_cost": "1000"}]}
	]`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	svc, _ := newService(t)
	n, err := svc.LoadSeed(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items := svc.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "kopi-susu", items[0].ID, "beverages are imported first")

	// A second start leaves the populated catalog alone.
	n, err = svc.LoadSeed(context.Background(), path)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAfterSaleRefreshesAndPublishes(t *testing.T) {
	store := &memStore{items: []catalog.SellableItem{good("b1", 3, 30000)}}
	hub := notify.NewHub()
	svc := NewService(store, store, Options{Publisher: hub})
	require.NoError(t, svc.Refresh(context.Background()))

	updates, cancel := hub.Subscribe(context.Background())
	defer cancel()

	require.NoError(t, store.AdjustStockQuantity(context.Background(), catalog.StockAdjustment{ItemID: "b1", Delta: -2}))
	svc.AfterSale(context.Background(), []string{"b1"})

	it, _ := svc.Item("b1")
	assert.Equal(t, 1, it.StockQuantity)

	select {
	case u := <-updates:
		assert.Equal(t, notify.ActionStock, u.Action)
	case <-time.After(time.Second):
		t.Fatal("no stock update published")
	}
}
