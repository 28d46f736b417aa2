package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cafepos/internal/history"
)

// =============================================================================
// EXPENSE REPOSITORY
// =============================================================================

type ExpenseRepository struct {
	db *sql.DB
}

func NewExpenseRepository(conn *sql.DB) *ExpenseRepository {
	return &ExpenseRepository{db: conn}
}

func (r *ExpenseRepository) InsertExpense(ctx context.Context, e history.Expense) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (id, description, amount, operator_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Description, e.Amount, e.OperatorID, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	return nil
}

// ListExpenses returns expenses in [from, to), newest first.
func (r *ExpenseRepository) ListExpenses(ctx context.Context, from, to time.Time) ([]history.Expense, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, description, amount, operator_id, created_at
		FROM expenses
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at DESC, id`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var out []history.Expense
	for rows.Next() {
		var e history.Expense
		var created string
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &e.OperatorID, &created); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}
	return out, nil
}

func (r *ExpenseRepository) ExpenseTotal(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	expenses, err := r.ListExpenses(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total, nil
}
