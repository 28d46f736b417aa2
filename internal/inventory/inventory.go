package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cafepos/internal/catalog"
	"cafepos/internal/logger"
	"cafepos/internal/notify"
	"cafepos/internal/pricing"
)

// Store is the catalog persistence the service caches.
type Store interface {
	catalog.Store
	catalog.Writer
}

// StockAdjuster applies stock movements.
type StockAdjuster interface {
	AdjustStockQuantity(ctx context.Context, adj catalog.StockAdjustment) error
}

// Options tune a Service.
type Options struct {
	// LowStockThreshold is the quantity at or below which a good counts as low.
	LowStockThreshold int

	// Publisher receives price and availability changes. Optional.
	Publisher notify.Broker

	// Ingredients prices recipe variants that reference an ingredient. Optional.
	Ingredients catalog.IngredientStore
}

// Service keeps an in-memory copy of the catalog for menu rendering and
// manages catalog writes. Settlement never reads stock from this cache.
type Service struct {
	store       Store
	stock       StockAdjuster
	publisher   notify.Broker
	ingredients catalog.IngredientStore
	lowStock    int

	items      map[string]catalog.SellableItem
	order      []string
	lastLoaded time.Time
	mutex      sync.RWMutex
}

func NewService(store Store, stock StockAdjuster, opts Options) *Service {
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = 5
	}
	return &Service{
		store:       store,
		stock:       stock,
		publisher:   opts.Publisher,
		ingredients: opts.Ingredients,
		lowStock:    opts.LowStockThreshold,
		items:       make(map[string]catalog.SellableItem),
	}
}

// Refresh reloads the cache from the store.
func (s *Service) Refresh(ctx context.Context) error {
	items, err := s.store.ListSellableItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.items = make(map[string]catalog.SellableItem, len(items))
	s.order = s.order[:0]
	for _, it := range items {
		s.items[it.ID] = it
		s.order = append(s.order, it.ID)
	}
	s.lastLoaded = time.Now()

	logger.LogDebug("Catalog cache refreshed: %d items", len(items))
	return nil
}

// IsStale reports whether the cache is older than maxAge.
func (s *Service) IsStale(maxAge time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastLoaded) > maxAge
}

// CacheAge is the time since the last refresh.
func (s *Service) CacheAge() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastLoaded)
}

// Items returns copies of every cached item in store order.
func (s *Service) Items() []catalog.SellableItem {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := make([]catalog.SellableItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// Item looks up a cached item.
func (s *Service) Item(id string) (catalog.SellableItem, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return catalog.SellableItem{}, false
	}
	return it.Clone(), true
}

// SellableNow lists every beverage plus the goods with stock on hand.
func (s *Service) SellableNow() []catalog.SellableItem {
	all := s.Items()
	out := all[:0]
	for _, it := range all {
		if it.Kind == catalog.StockedGood && it.StockQuantity <= 0 {
			continue
		}
		out = append(out, it)
	}
	return out
}

// MenuEntry is one item on the cashier screen with its price options.
type MenuEntry struct {
	Item   catalog.SellableItem   `json:"item"`
	Prices []pricing.VariantPrice `json:"prices"`
}

// Menu resolves prices for everything sellable now. Items whose catalog data
// cannot be priced are left off and logged.
func (s *Service) Menu() []MenuEntry {
	items := s.SellableNow()
	out := make([]MenuEntry, 0, len(items))
	for _, it := range items {
		prices, err := pricing.ListVariantPrices(it)
		if err != nil {
			logger.LogError("Leaving %s off the menu: %v", it.ID, err)
			continue
		}
		out = append(out, MenuEntry{Item: it, Prices: prices})
	}
	return out
}

// Stats summarizes the cached catalog.
type Stats struct {
	TotalItems    int             `json:"total_items"`
	Beverages     int             `json:"beverages"`
	Goods         int             `json:"goods"`
	TotalStock    int             `json:"total_stock"`
	TotalValue    decimal.Decimal `json:"total_value"`
	LowStockCount int             `json:"low_stock_count"`
	LowStockItems []string        `json:"low_stock_items"`
	LowStockLimit int             `json:"low_stock_threshold"`
	LastLoaded    time.Time       `json:"last_loaded"`
	CacheAge      string          `json:"cache_age"`
}

// GetStats returns catalog and stock statistics. TotalValue is stock valued at
// selling price.
func (s *Service) GetStats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	st := Stats{
		TotalItems:    len(s.items),
		TotalValue:    decimal.Zero,
		LowStockItems: []string{},
		LowStockLimit: s.lowStock,
		LastLoaded:    s.lastLoaded,
		CacheAge:      time.Since(s.lastLoaded).Round(time.Second).String(),
	}
	for _, id := range s.order {
		it := s.items[id]
		switch it.Kind {
		case catalog.PreparedBeverage:
			st.Beverages++
		case catalog.StockedGood:
			st.Goods++
			st.TotalStock += it.StockQuantity
			st.TotalValue = st.TotalValue.Add(it.SellingPrice.Mul(decimal.NewFromInt(int64(it.StockQuantity))))
			if it.StockQuantity <= s.lowStock {
				st.LowStockCount++
				st.LowStockItems = append(st.LowStockItems, it.ID)
			}
		}
	}
	return st
}

// ErrInvalidRestock is returned for non-positive restock quantities or non-goods.
var ErrInvalidRestock = errors.New("invalid restock")

// Restock adds qty units of a stocked good and records who did it.
func (s *Service) Restock(ctx context.Context, itemID string, qty int, operatorID, notes string) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidRestock)
	}
	if it, ok := s.Item(itemID); ok && it.Kind != catalog.StockedGood {
		return fmt.Errorf("%w: %s is not a stocked good", ErrInvalidRestock, itemID)
	}

	err := s.stock.AdjustStockQuantity(ctx, catalog.StockAdjustment{
		ItemID:        itemID,
		Delta:         qty,
		ReferenceType: catalog.ReferenceAdjustment,
		OperatorID:    operatorID,
		Notes:         strings.TrimSpace(notes),
	})
	if err != nil {
		return err
	}
	logger.LogInfo("Restocked %s by %d (operator=%q)", itemID, qty, operatorID)

	s.afterWrite(ctx, itemID, notify.ActionStock)
	return nil
}

// SaveItem creates item when it has no id or an unknown one, and updates it
// otherwise. Variants that reference an ingredient are costed from it first.
func (s *Service) SaveItem(ctx context.Context, item catalog.SellableItem) (*catalog.SellableItem, error) {
	action := notify.ActionUpdated
	var saved *catalog.SellableItem

	item, err := s.priceIngredients(ctx, item)
	if err != nil {
		return nil, err
	}

	if _, known := s.Item(item.ID); item.ID == "" || !known {
		action = notify.ActionCreated
		saved, err = s.store.CreateSellableItem(ctx, item)
	} else {
		saved, err = s.store.UpdateSellableItem(ctx, item)
	}
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, saved.ID, action)
	return saved, nil
}

// DeleteItem removes an item from the catalog.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	it, _ := s.Item(id)
	if err := s.store.DeleteSellableItem(ctx, id); err != nil {
		return err
	}

	if err := s.Refresh(ctx); err != nil {
		logger.LogWarn("Catalog refresh after delete failed: %v", err)
	}
	s.publish(ctx, notify.PriceUpdate{ItemID: id, Name: it.Name, Kind: it.Kind, Action: notify.ActionDeleted, At: time.Now()})
	return nil
}

// AfterSale reloads the cache once a settlement has moved stock and tells
// subscribers which goods changed.
func (s *Service) AfterSale(ctx context.Context, itemIDs []string) {
	if len(itemIDs) == 0 {
		return
	}
	if err := s.Refresh(ctx); err != nil {
		logger.LogWarn("Catalog refresh after sale failed: %v", err)
	}
	for _, id := range itemIDs {
		it, _ := s.Item(id)
		s.publish(ctx, notify.PriceUpdate{ItemID: id, Name: it.Name, Kind: it.Kind, Action: notify.ActionStock, At: time.Now()})
	}
}

func (s *Service) afterWrite(ctx context.Context, itemID, action string) {
	if err := s.Refresh(ctx); err != nil {
		logger.LogWarn("Catalog refresh after write failed: %v", err)
	}
	it, _ := s.Item(itemID)
	s.publish(ctx, notify.PriceUpdate{ItemID: itemID, Name: it.Name, Kind: it.Kind, Action: action, At: time.Now()})
}

func (s *Service) publish(ctx context.Context, u notify.PriceUpdate) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, u); err != nil {
		logger.LogWarn("Failed to publish price update for %s: %v", u.ItemID, err)
	}
}

// LoadSeed imports a catalog seed when the catalog is empty. The file is
// either a JSON array of items or an object with "ingredients" and "items".
// It returns how many items were imported.
func (s *Service) LoadSeed(ctx context.Context, path string) (int, error) {
	existing, err := s.store.ListSellableItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to check catalog: %w", err)
	}
	if len(existing) > 0 {
		logger.LogInfo("Catalog already has %d items, skipping seed %s", len(existing), path)
		return 0, s.Refresh(ctx)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog seed: %w", err)
	}

	seed, err := parseSeed(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse catalog seed: %w", err)
	}

	if len(seed.Ingredients) > 0 {
		if s.ingredients == nil {
			return 0, errors.New("catalog seed has ingredients but no ingredient store is configured")
		}
		for _, in := range seed.Ingredients {
			if in.ID != "" {
				if _, err := s.ingredients.GetIngredient(ctx, in.ID); err == nil {
					continue
				}
			}
			if _, err := s.ingredients.CreateIngredient(ctx, in); err != nil {
				return 0, fmt.Errorf("failed to import seed ingredient %q: %w", in.Name, err)
			}
		}
	}

	items := seed.Items
	sort.SliceStable(items, func(i, j int) bool { return items[i].Kind < items[j].Kind })
	for i, it := range items {
		priced, err := s.priceIngredients(ctx, it)
		if err != nil {
			return i, fmt.Errorf("failed to price seed item %q: %w", it.Name, err)
		}
		if _, err := s.store.CreateSellableItem(ctx, priced); err != nil {
			return i, fmt.Errorf("failed to import seed item %q: %w", it.Name, err)
		}
	}

	logger.LogInfo("Imported %d catalog items from %s", len(items), path)
	return len(items), s.Refresh(ctx)
}

type catalogSeed struct {
	Ingredients []catalog.Ingredient   `json:"ingredients"`
	Items       []catalog.SellableItem `json:"items"`
}

func parseSeed(raw []byte) (catalogSeed, error) {
	var seed catalogSeed
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		err := json.Unmarshal(raw, &seed.Items)
		return seed, err
	}
	err := json.Unmarshal(raw, &seed)
	return seed, err
}
