// Package history reports on settled orders and recorded expenses.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cafepos/internal/logger"
	"cafepos/internal/money"
	"cafepos/internal/settlement"
)

// Expense is money paid out of the till.
type Expense struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	OperatorID  string          `json:"operator_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OrderSource lists stored orders.
type OrderSource interface {
	ListOrders(ctx context.Context, from, to time.Time) ([]settlement.Order, error)
	// OrderTotals sums amount and profit over [from, to) without loading lines.
	OrderTotals(ctx context.Context, from, to time.Time) (Totals, error)
}

// ExpenseStore persists expenses.
type ExpenseStore interface {
	InsertExpense(ctx context.Context, e Expense) error
	ListExpenses(ctx context.Context, from, to time.Time) ([]Expense, error)
	ExpenseTotal(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
}

// Totals is an aggregate over a set of orders.
type Totals struct {
	Orders      int             `json:"orders"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

// ItemTally is how many of one item sold on a day.
type ItemTally struct {
	ItemID   string          `json:"item_id"`
	ItemName string          `json:"item_name"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// DaySummary groups one local calendar day of orders.
type DaySummary struct {
	Date        string             `json:"date"`
	Orders      int                `json:"orders"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	TotalProfit decimal.Decimal    `json:"total_profit"`
	Items       []ItemTally        `json:"items"`
	Receipts    []settlement.Order `json:"receipts"`
}

// Balance is income minus expenses.
type Balance struct {
	Income   decimal.Decimal `json:"income"`
	Profit   decimal.Decimal `json:"profit"`
	Expenses decimal.Decimal `json:"expenses"`
	Balance  decimal.Decimal `json:"balance"`
}

// ErrInvalidExpense is returned for expenses that fail validation.
var ErrInvalidExpense = errors.New("invalid expense")

// epoch and horizon bound the all-time balance query.
var (
	epoch   = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	horizon = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

type Service struct {
	orders   OrderSource
	expenses ExpenseStore
	loc      *time.Location
	now      func() time.Time
}

func NewService(orders OrderSource, expenses ExpenseStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{orders: orders, expenses: expenses, loc: loc, now: time.Now}
}

// Daily groups orders created in [from, to) by local day, newest day first.
func (s *Service) Daily(ctx context.Context, from, to time.Time) ([]DaySummary, error) {
	orders, err := s.orders.ListOrders(ctx, from, to)
	if err != nil {
		return nil, err
	}

	days := make(map[string]*DaySummary)
	tallies := make(map[string]map[string]*ItemTally)
	for _, o := range orders {
		key := o.CreatedAt.In(s.loc).Format(time.DateOnly)
		day, ok := days[key]
		if !ok {
			day = &DaySummary{Date: key, TotalAmount: decimal.Zero, TotalProfit: decimal.Zero}
			days[key] = day
			tallies[key] = make(map[string]*ItemTally)
		}
		day.Orders++
		day.TotalAmount = day.TotalAmount.Add(o.TotalAmount)
		day.TotalProfit = day.TotalProfit.Add(o.TotalProfit)
		day.Receipts = append(day.Receipts, o)

		for _, l := range o.Lines {
			t, ok := tallies[key][l.ItemName]
			if !ok {
				t = &ItemTally{ItemID: l.ItemID, ItemName: l.ItemName, Amount: decimal.Zero}
				tallies[key][l.ItemName] = t
			}
			t.Quantity += l.Quantity
			t.Amount = t.Amount.Add(l.LineTotal)
		}
	}

	out := make([]DaySummary, 0, len(days))
	for key, day := range days {
		for _, t := range tallies[key] {
			day.Items = append(day.Items, *t)
		}
		sort.Slice(day.Items, func(i, j int) bool {
			if day.Items[i].Quantity != day.Items[j].Quantity {
				return day.Items[i].Quantity > day.Items[j].Quantity
			}
			return day.Items[i].ItemName < day.Items[j].ItemName
		})
		out = append(out, *day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}

// DayRange returns the bounds of the local day containing t.
func (s *Service) DayRange(t time.Time) (time.Time, time.Time) {
	local := t.In(s.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

// Today summarizes the current local day.
func (s *Service) Today(ctx context.Context) (DaySummary, error) {
	from, to := s.DayRange(s.now())
	days, err := s.Daily(ctx, from, to)
	if err != nil {
		return DaySummary{}, err
	}
	if len(days) == 0 {
		return DaySummary{Date: from.Format(time.DateOnly), TotalAmount: decimal.Zero, TotalProfit: decimal.Zero}, nil
	}
	return days[0], nil
}

// Balance is all-time income minus all-time expenses.
func (s *Service) Balance(ctx context.Context) (Balance, error) {
	totals, err := s.orders.OrderTotals(ctx, epoch, horizon)
	if err != nil {
		return Balance{}, err
	}
	spent, err := s.expenses.ExpenseTotal(ctx, epoch, horizon)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Income:   totals.TotalAmount,
		Profit:   totals.TotalProfit,
		Expenses: spent,
		Balance:  totals.TotalAmount.Sub(spent),
	}, nil
}

// RecordExpense validates and stores e, filling in id and timestamp.
func (s *Service) RecordExpense(ctx context.Context, e Expense) (Expense, error) {
	e.Description = strings.TrimSpace(e.Description)
	if e.Description == "" {
		return Expense{}, fmt.Errorf("%w: description is required", ErrInvalidExpense)
	}
	if !e.Amount.IsPositive() {
		return Expense{}, fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	if err := s.expenses.InsertExpense(ctx, e); err != nil {
		return Expense{}, err
	}
	logger.LogInfo("Expense recorded: %s %s by %q", e.Description, money.Format(e.Amount), e.OperatorID)
	return e, nil
}

// Expenses lists expenses in [from, to).
func (s *Service) Expenses(ctx context.Context, from, to time.Time) ([]Expense, error) {
	return s.expenses.ListExpenses(ctx, from, to)
}
