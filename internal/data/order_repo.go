package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cafepos/internal/catalog"
	"cafepos/internal/history"
	"cafepos/internal/settlement"
)

// =============================================================================
// ORDER REPOSITORY
// =============================================================================

// OrderRepository persists settled orders. An order and its lines are written
// in one transaction; a failure anywhere leaves no trace.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(conn *sql.DB) *OrderRepository {
	return &OrderRepository{db: conn}
}

// CreateOrder inserts order and its lines atomically. An existing id yields
// settlement.ErrDuplicateOrder and writes nothing.
func (r *OrderRepository) CreateOrder(ctx context.Context, order settlement.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, code, created_at, operator_id, idempotency_key, total_amount, total_profit)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			order.ID, order.Code, formatTime(order.CreatedAt), order.OperatorID,
			order.IdempotencyKey, order.TotalAmount, order.TotalProfit,
		)
		if err != nil {
			return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: %s", settlement.ErrDuplicateOrder, order.ID)
		}

		const lineStmt = `
			INSERT INTO order_lines (
				order_id, line_no, item_id, item_name, kind, variant_id, variant_name,
				quantity, unit_price, unit_cost, line_total
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		for i, l := range order.Lines {
			_, err := tx.ExecContext(ctx, lineStmt,
				order.ID, i+1, l.ItemID, l.ItemName, l.Kind.String(), l.VariantID, l.VariantName,
				l.Quantity, l.UnitPrice, l.UnitCost, l.LineTotal,
			)
			if err != nil {
				return fmt.Errorf("failed to insert line %d of order %s: %w", i+1, order.ID, err)
			}
		}
		return nil
	})
}

const selectOrderColumns = `
	SELECT id, code, created_at, operator_id, idempotency_key, total_amount, total_profit
	FROM orders`

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*settlement.Order, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

func (r *OrderRepository) GetOrderByCode(ctx context.Context, code string) (*settlement.Order, error) {
	return r.getOne(ctx, `WHERE code = ?`, code)
}

func (r *OrderRepository) getOne(ctx context.Context, where string, arg string) (*settlement.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, selectOrderColumns+" "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", settlement.ErrOrderNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", arg, err)
	}

	lines, err := r.linesWhere(ctx, `WHERE order_id = ?`, order.ID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines[order.ID]
	return order, nil
}

// ListOrders returns orders created in [from, to), newest first, with lines.
func (r *OrderRepository) ListOrders(ctx context.Context, from, to time.Time) ([]settlement.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		selectOrderColumns+` WHERE created_at >= ? AND created_at < ? ORDER BY created_at DESC, id`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []settlement.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	lines, err := r.linesWhere(ctx,
		`WHERE order_id IN (SELECT id FROM orders WHERE created_at >= ? AND created_at < ?)`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, nil
}

// OrderTotals sums order totals in [from, to). Amounts are TEXT decimals, so
// the sum happens here rather than in SQL.
func (r *OrderRepository) OrderTotals(ctx context.Context, from, to time.Time) (history.Totals, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	totals := history.Totals{TotalAmount: decimal.Zero, TotalProfit: decimal.Zero}
	rows, err := r.db.QueryContext(ctx,
		`SELECT total_amount, total_profit FROM orders WHERE created_at >= ? AND created_at < ?`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return totals, fmt.Errorf("failed to query order totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var amount, profit decimal.Decimal
		if err := rows.Scan(&amount, &profit); err != nil {
			return totals, fmt.Errorf("failed to scan order totals: %w", err)
		}
		totals.Orders++
		totals.TotalAmount = totals.TotalAmount.Add(amount)
		totals.TotalProfit = totals.TotalProfit.Add(profit)
	}
	if err := rows.Err(); err != nil {
		return totals, fmt.Errorf("error iterating order totals: %w", err)
	}
	return totals, nil
}

func (r *OrderRepository) linesWhere(ctx context.Context, where string, args ...any) (map[string][]settlement.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, item_id, item_name, kind, variant_id, variant_name,
			quantity, unit_price, unit_cost, line_total
		FROM order_lines `+where+` ORDER BY order_id, line_no`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]settlement.OrderLine)
	for rows.Next() {
		var l settlement.OrderLine
		var kind string
		if err := rows.Scan(&l.OrderID, &l.ItemID, &l.ItemName, &kind, &l.VariantID, &l.VariantName,
			&l.Quantity, &l.UnitPrice, &l.UnitCost, &l.LineTotal); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		if l.Kind, err = catalog.ParseKind(kind); err != nil {
			return nil, err
		}
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order lines: %w", err)
	}
	return out, nil
}

func scanOrder(row scanner) (*settlement.Order, error) {
	var o settlement.Order
	var created string
	if err := row.Scan(&o.ID, &o.Code, &created, &o.OperatorID, &o.IdempotencyKey, &o.TotalAmount, &o.TotalProfit); err != nil {
		return nil, err
	}
	var err error
	if o.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &o, nil
}
