package history

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/catalog"
	"cafepos/internal/settlement"
)

type memOrders struct {
	orders []settlement.Order
}

func (m *memOrders) ListOrders(ctx context.Context, from, to time.Time) ([]settlement.Order, error) {
	var out []settlement.Order
	for _, o := range m.orders {
		if !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memOrders) OrderTotals(ctx context.Context, from, to time.Time) (Totals, error) {
	orders, _ := m.ListOrders(ctx, from, to)
	t := Totals{TotalAmount: decimal.Zero, TotalProfit: decimal.Zero}
	for _, o := range orders {
		t.Orders++
		t.TotalAmount = t.TotalAmount.Add(o.TotalAmount)
		t.TotalProfit = t.TotalProfit.Add(o.TotalProfit)
	}
	return t, nil
}

type memExpenses struct {
	expenses []Expense
}

func (m *memExpenses) InsertExpense(ctx context.Context, e Expense) error {
	m.expenses = append(m.expenses, e)
	return nil
}

func (m *memExpenses) ListExpenses(ctx context.Context, from, to time.Time) ([]Expense, error) {
	return m.expenses, nil
}

func (m *memExpenses) ExpenseTotal(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, e := range m.expenses {
		total = total.Add(e.Amount)
	}
	return total, nil
}

func order(id string, at time.Time, amount, profit int64, lines ...settlement.OrderLine) settlement.Order {
	return settlement.Order{
		ID:          id,
		Code:        "TRX-" + id,
		CreatedAt:   at,
		TotalAmount: decimal.NewFromInt(amount),
		TotalProfit: decimal.NewFromInt(profit),
		Lines:       lines,
	}
}

func line(name string, qty int, total int64) settlement.OrderLine {
	return settlement.OrderLine{ItemID: name, ItemName: name, Kind: catalog.PreparedBeverage, Quantity: qty, LineTotal: decimal.NewFromInt(total)}
}

func TestDailyGroupsByLocalDay(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 18:00 UTC on the 1st is 01:00 on the 2nd in Jakarta.
	orders := &memOrders{orders: []settlement.Order{
		order("a", time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC), 5000, 1800, line("Kopi Susu", 2, 5000)),
		order("b", time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC), 40000, 16800, line("Kopi Susu", 2, 5000), line("Buku", 1, 35000)),
		order("c", time.Date(2026, 5, 2, 2, 0, 0, 0, time.UTC), 2500, 900, line("Kopi Susu", 1, 2500)),
	}}
	svc := NewService(orders, &memExpenses{}, jakarta)

	days, err := svc.Daily(context.Background(), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "2026-05-02", days[0].Date)
	assert.Equal(t, 2, days[0].Orders)
	assert.Equal(t, "42500", days[0].TotalAmount.String())
	assert.Equal(t, "17700", days[0].TotalProfit.String())
	require.Len(t, days[0].Items, 2)
	assert.Equal(t, "Kopi Susu", days[0].Items[0].ItemName)
	assert.Equal(t, 3, days[0].Items[0].Quantity)
	assert.Equal(t, "7500", days[0].Items[0].Amount.String())

	assert.Equal(t, "2026-05-01", days[1].Date)
	assert.Equal(t, 1, days[1].Orders)
}

func TestBalance(t *testing.T) {
	orders := &memOrders{orders: []settlement.Order{
		order("a", time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC), 40000, 16800),
	}}
	expenses := &memExpenses{}
	svc := NewService(orders, expenses, time.UTC)

	_, err := svc.RecordExpense(context.Background(), Expense{Description: "Susu UHT", Amount: decimal.NewFromInt(15000), OperatorID: "kasir-1"})
	require.NoError(t, err)

	b, err := svc.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "40000", b.Income.String())
	assert.Equal(t, "15000", b.Expenses.String())
	assert.Equal(t, "25000", b.Balance.String())
	assert.Equal(t, "16800", b.Profit.String())
}

func TestRecordExpenseValidation(t *testing.T) {
	svc := NewService(&memOrders{}, &memExpenses{}, time.UTC)

	_, err := svc.RecordExpense(context.Background(), Expense{Description: "  ", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrInvalidExpense)

	_, err = svc.RecordExpense(context.Background(), Expense{Description: "Gula", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrInvalidExpense)

	e, err := svc.RecordExpense(context.Background(), Expense{Description: " Gula ", Amount: decimal.NewFromInt(12000)})
	require.NoError(t, err)
	assert.Equal(t, "Gula", e.Description)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestTodayWithoutOrders(t *testing.T) {
	svc := NewService(&memOrders{}, &memExpenses{}, time.UTC)
	svc.now = func() time.Time { return time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC) }

	day, err := svc.Today(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-07-04", day.Date)
	assert.Zero(t, day.Orders)
	assert.True(t, day.TotalAmount.IsZero())
}
