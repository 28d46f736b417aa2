package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cafepos/internal/catalog"
)

// =============================================================================
// INVENTORY REPOSITORY
// =============================================================================

// InventoryRepository reads and moves stock of stocked goods. Every change is
// paired with a stock_movements row in the same transaction.
type InventoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewInventoryRepository(conn *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: conn, now: time.Now}
}

func (r *InventoryRepository) GetStockQuantity(ctx context.Context, itemID string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var qty int
	err := r.db.QueryRowContext(ctx,
		`SELECT stock_quantity FROM sellable_items WHERE id = ? AND kind = ?`,
		itemID, catalog.StockedGood.String(),
	).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", catalog.ErrNotFound, itemID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock for %s: %w", itemID, err)
	}
	return qty, nil
}

// AdjustStockQuantity applies adj.Delta. The update is conditional so two
// concurrent decrements can never take stock below zero; the loser gets
// catalog.ErrStockExhausted.
func (r *InventoryRepository) AdjustStockQuantity(ctx context.Context, adj catalog.StockAdjustment) error {
	if adj.Delta == 0 {
		return fmt.Errorf("stock adjustment for %s has zero delta", adj.ItemID)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := formatTime(r.now())

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sellable_items
			SET stock_quantity = stock_quantity + ?, updated_at = ?
			WHERE id = ? AND kind = ? AND stock_quantity + ? >= 0`,
			adj.Delta, now, adj.ItemID, catalog.StockedGood.String(), adj.Delta,
		)
		if err != nil {
			return fmt.Errorf("failed to adjust stock for %s: %w", adj.ItemID, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM sellable_items WHERE id = ? AND kind = ?`,
				adj.ItemID, catalog.StockedGood.String(),
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("failed to check item %s: %w", adj.ItemID, err)
			}
			if exists == 0 {
				return fmt.Errorf("%w: %s", catalog.ErrNotFound, adj.ItemID)
			}
			return fmt.Errorf("%w: %s by %d", catalog.ErrStockExhausted, adj.ItemID, adj.Delta)
		}

		qty := adj.Delta
		if qty < 0 {
			qty = -qty
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (
				id, item_id, movement_type, quantity, reference_type, reference_id, operator_id, notes, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), adj.ItemID, adj.MovementType(), qty,
			adj.ReferenceType, adj.ReferenceID, adj.OperatorID, adj.Notes, now,
		)
		if err != nil {
			return fmt.Errorf("failed to record stock movement: %w", err)
		}
		return nil
	})
}

// HasMovement reports whether a movement with this reference was recorded for itemID.
func (r *InventoryRepository) HasMovement(ctx context.Context, itemID, referenceType, referenceID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stock_movements
		WHERE item_id = ? AND reference_type = ? AND reference_id = ?`,
		itemID, referenceType, referenceID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up stock movement: %w", err)
	}
	return n > 0, nil
}

// ListMovements returns the newest movements for an item, or for all items
// when itemID is empty.
func (r *InventoryRepository) ListMovements(ctx context.Context, itemID string, limit int) ([]catalog.StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, item_id, movement_type, quantity, reference_type, reference_id, operator_id, notes, created_at
		FROM stock_movements`
	args := []any{}
	if itemID != "" {
		query += ` WHERE item_id = ?`
		args = append(args, itemID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var out []catalog.StockMovement
	for rows.Next() {
		var m catalog.StockMovement
		var created string
		if err := rows.Scan(&m.ID, &m.ItemID, &m.MovementType, &m.Quantity,
			&m.ReferenceType, &m.ReferenceID, &m.OperatorID, &m.Notes, &created); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stock movements: %w", err)
	}
	return out, nil
}
