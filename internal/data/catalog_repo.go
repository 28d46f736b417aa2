package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cafepos/internal/catalog"
)

// =============================================================================
// CATALOG REPOSITORY
// =============================================================================

// CatalogRepository stores sellable items and their ingredient variants.
type CatalogRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewCatalogRepository(conn *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: conn, now: time.Now}
}

const selectItemColumns = `
	SELECT id, kind, name, author, fixed_cost, profit_margin, rounding_unit,
		purchase_price, selling_price, stock_quantity, created_at, updated_at
	FROM sellable_items`

// =============================================================================
// READS
// =============================================================================

func (r *CatalogRepository) GetSellableItem(ctx context.Context, id string) (*catalog.SellableItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, selectItemColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sellable item %s: %w", id, err)
	}

	variants, err := r.variantsFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	item.IngredientVariants = variants[id]
	return item, nil
}

// ListSellableItems returns every item, beverages first, then by name.
func (r *CatalogRepository) ListSellableItems(ctx context.Context) ([]catalog.SellableItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectItemColumns+` ORDER BY kind, name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sellable items: %w", err)
	}
	defer rows.Close()

	var items []catalog.SellableItem
	var ids []string
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sellable item: %w", err)
		}
		items = append(items, *item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sellable items: %w", err)
	}

	if len(ids) == 0 {
		return items, nil
	}
	variants, err := r.variantsFor(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].IngredientVariants = variants[items[i].ID]
	}
	return items, nil
}

// variantsFor loads variants keyed by item id. A nil ids slice loads all of them.
func (r *CatalogRepository) variantsFor(ctx context.Context, ids []string) (map[string][]catalog.IngredientVariant, error) {
	query := `SELECT item_id, variant_id, variant_name, unit_ingredient_cost, ingredient_id, quantity_grams FROM ingredient_variants`
	var args []any
	if ids != nil {
		query += ` WHERE item_id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY item_id, position`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingredient variants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]catalog.IngredientVariant)
	for rows.Next() {
		var itemID string
		var v catalog.IngredientVariant
		if err := rows.Scan(&itemID, &v.VariantID, &v.VariantName, &v.UnitIngredientCost, &v.IngredientID, &v.QuantityGrams); err != nil {
			return nil, fmt.Errorf("failed to scan ingredient variant: %w", err)
		}
		out[itemID] = append(out[itemID], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingredient variants: %w", err)
	}
	return out, nil
}

func scanItem(row scanner) (*catalog.SellableItem, error) {
	var (
		item               catalog.SellableItem
		kind               string
		createdAt, updated string
	)
	err := row.Scan(&item.ID, &kind, &item.Name, &item.Author,
		&item.FixedCost, &item.ProfitMargin, &item.RoundingUnit,
		&item.PurchasePrice, &item.SellingPrice, &item.StockQuantity,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if item.Kind, err = catalog.ParseKind(kind); err != nil {
		return nil, err
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &item, nil
}

// =============================================================================
// WRITES
// =============================================================================

// CreateSellableItem validates and inserts item with its variants. An empty id
// is assigned a UUID.
func (r *CatalogRepository) CreateSellableItem(ctx context.Context, item catalog.SellableItem) (*catalog.SellableItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}
	item = item.Clone()
	if strings.TrimSpace(item.ID) == "" {
		item.ID = uuid.NewString()
	}
	now := r.now().UTC().Truncate(time.Microsecond)
	item.CreatedAt, item.UpdatedAt = now, now

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		const stmt = `
			INSERT INTO sellable_items (
				id, kind, name, author, fixed_cost, profit_margin, rounding_unit,
				purchase_price, selling_price, stock_quantity, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := tx.ExecContext(ctx, stmt,
			item.ID, item.Kind.String(), item.Name, item.Author,
			item.FixedCost, item.ProfitMargin, item.RoundingUnit,
			item.PurchasePrice, item.SellingPrice, item.StockQuantity,
			formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert sellable item: %w", err)
		}
		return insertVariants(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateSellableItem replaces an item's catalog data and variants. Stock
// quantity is left alone; it only moves through inventory adjustments.
func (r *CatalogRepository) UpdateSellableItem(ctx context.Context, item catalog.SellableItem) (*catalog.SellableItem, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	item = item.Clone()
	item.UpdatedAt = r.now().UTC().Truncate(time.Microsecond)

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		const stmt = `
			UPDATE sellable_items SET
				kind = ?, name = ?, author = ?, fixed_cost = ?, profit_margin = ?, rounding_unit = ?,
				purchase_price = ?, selling_price = ?, updated_at = ?
			WHERE id = ?`

		res, err := tx.ExecContext(ctx, stmt,
			item.Kind.String(), item.Name, item.Author,
			item.FixedCost, item.ProfitMargin, item.RoundingUnit,
			item.PurchasePrice, item.SellingPrice, formatTime(item.UpdatedAt),
			item.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update sellable item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", catalog.ErrNotFound, item.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM ingredient_variants WHERE item_id = ?`, item.ID); err != nil {
			return fmt.Errorf("failed to clear ingredient variants: %w", err)
		}
		return insertVariants(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}

	return r.GetSellableItem(ctx, item.ID)
}

func (r *CatalogRepository) DeleteSellableItem(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM sellable_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sellable item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return nil
}

func insertVariants(ctx context.Context, tx *sql.Tx, item catalog.SellableItem) error {
	const stmt = `
		INSERT INTO ingredient_variants (
			item_id, variant_id, variant_name, unit_ingredient_cost, ingredient_id, quantity_grams, position
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	for i, v := range item.IngredientVariants {
		_, err := tx.ExecContext(ctx, stmt, item.ID, v.VariantID, v.VariantName, v.UnitIngredientCost,
			v.IngredientID, v.QuantityGrams, i)
		if err != nil {
			return fmt.Errorf("failed to insert variant %s: %w", v.VariantID, err)
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
