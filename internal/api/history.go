package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"cafepos/internal/history"
	"cafepos/internal/middleware"
	"cafepos/internal/settlement"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r, 1)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	orders, err := h.Orders.ListOrders(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []settlement.Order{}
	}
	middleware.WriteAPISuccess(w, r, orders)
}

// getOrder accepts either the order id or its TRX- receipt code.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.PathValue("ref"))

	var order *settlement.Order
	var err error
	if strings.HasPrefix(strings.ToUpper(ref), "TRX-") {
		order, err = h.Orders.GetOrderByCode(r.Context(), strings.ToUpper(ref))
	} else {
		order, err = h.Orders.GetOrder(r.Context(), ref)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, order)
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r, 7)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	days, err := h.History.Daily(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if days == nil {
		days = []history.DaySummary{}
	}
	middleware.WriteAPISuccess(w, r, days)
}

func (h *Handler) today(w http.ResponseWriter, r *http.Request) {
	day, err := h.History.Today(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, day)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	b, err := h.History.Balance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, b)
}

type expenseRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.dateRange(r, 30)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	expenses, err := h.History.Expenses(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if expenses == nil {
		expenses = []history.Expense{}
	}
	middleware.WriteAPISuccess(w, r, expenses)
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	e, err := h.History.RecordExpense(r.Context(), history.Expense{
		Description: req.Description,
		Amount:      req.Amount,
		OperatorID:  operatorID(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPIResponse(w, r, http.StatusCreated, e, "")
}
