// Package api exposes the till over HTTP: catalog management, price
// quotes, checkout, order lookup and the daily books.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cafepos/internal/catalog"
	"cafepos/internal/data"
	"cafepos/internal/history"
	"cafepos/internal/identity"
	"cafepos/internal/inventory"
	"cafepos/internal/logger"
	"cafepos/internal/middleware"
	"cafepos/internal/notify"
	"cafepos/internal/pricing"
	"cafepos/internal/reconcile"
	"cafepos/internal/settlement"
)

// Settler settles a checkout.
type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (settlement.Result, error)
}

// OrderReader looks up stored orders.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*settlement.Order, error)
	GetOrderByCode(ctx context.Context, code string) (*settlement.Order, error)
	ListOrders(ctx context.Context, from, to time.Time) ([]settlement.Order, error)
}

// MovementLister reads the stock ledger.
type MovementLister interface {
	ListMovements(ctx context.Context, itemID string, limit int) ([]catalog.StockMovement, error)
}

// PendingLister reads the reconciliation queue.
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]data.PendingAdjustment, error)
	ListAbandoned(ctx context.Context, limit int) ([]data.PendingAdjustment, error)
}

// Reconciler runs one reconciliation pass on demand.
type Reconciler interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

// Deps are the services the handlers call. Broker, Pending and Reconciler
// are optional; their endpoints answer 503 without them.
type Deps struct {
	Inventory  *inventory.Service
	Settlement Settler
	Orders     OrderReader
	Movements  MovementLister
	History    *history.Service
	Pending    PendingLister
	Reconciler Reconciler
	Broker     notify.Broker
	Location   *time.Location
}

type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Handler{Deps: deps, now: time.Now}
}

// Register mounts every endpoint on mux. limiter may be nil.
func (h *Handler) Register(mux *http.ServeMux, auth *middleware.Authenticator, limiter *middleware.RateLimiter) {
	api := func(next http.HandlerFunc) http.HandlerFunc {
		return middleware.APIMiddleware(auth.Authenticate(next))
	}
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return api(auth.RequireRole(identity.RoleAdmin, next))
	}
	limited := func(next http.HandlerFunc) http.HandlerFunc {
		if limiter == nil {
			return next
		}
		return limiter.Limit(next)
	}

	// Catalog
	mux.HandleFunc("GET /api/menu", api(h.menu))
	mux.HandleFunc("GET /api/catalog", api(h.listCatalog))
	mux.HandleFunc("POST /api/catalog", admin(h.createItem))
	mux.HandleFunc("GET /api/catalog/{id}", api(h.getItem))
	mux.HandleFunc("PUT /api/catalog/{id}", admin(h.updateItem))
	mux.HandleFunc("DELETE /api/catalog/{id}", admin(h.deleteItem))
	mux.HandleFunc("GET /api/catalog/{id}/prices", api(h.variantPrices))
	mux.HandleFunc("POST /api/catalog/{id}/restock", admin(h.restock))
	mux.HandleFunc("GET /api/catalog/{id}/movements", api(h.movements))

	// Ingredients
	mux.HandleFunc("GET /api/ingredients", api(h.listIngredients))
	mux.HandleFunc("POST /api/ingredients", admin(h.createIngredient))
	mux.HandleFunc("GET /api/ingredients/{id}", api(h.getIngredient))
	mux.HandleFunc("PUT /api/ingredients/{id}", admin(h.updateIngredient))
	mux.HandleFunc("DELETE /api/ingredients/{id}", admin(h.deleteIngredient))

	// Inventory
	mux.HandleFunc("GET /api/inventory/stats", api(h.stats))
	mux.HandleFunc("GET /api/inventory/pending", admin(h.pending))
	mux.HandleFunc("POST /api/inventory/reconcile", admin(h.reconcile))

	// Checkout
	mux.HandleFunc("POST /api/cart/quote", api(h.quote))
	mux.HandleFunc("POST /api/checkout", api(limited(h.checkout)))

	// Orders and books
	mux.HandleFunc("GET /api/orders", api(h.listOrders))
	mux.HandleFunc("GET /api/orders/{ref}", api(h.getOrder))
	mux.HandleFunc("GET /api/history/daily", api(h.daily))
	mux.HandleFunc("GET /api/history/today", api(h.today))
	mux.HandleFunc("GET /api/balance", admin(h.balance))
	mux.HandleFunc("GET /api/expenses", api(h.listExpenses))
	mux.HandleFunc("POST /api/expenses", api(h.createExpense))

	// Live price updates
	mux.HandleFunc("GET /api/price-updates", middleware.RequestID(auth.Authenticate(h.priceUpdates)))
}

// writeError maps store and validation errors onto the API envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *pricing.InvalidCatalogDataError
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, catalog.ErrIngredientNotFound),
		errors.Is(err, settlement.ErrOrderNotFound):
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found", err.Error(), nil)
	case catalog.IsValidation(err),
		errors.Is(err, inventory.ErrInvalidRestock),
		errors.Is(err, history.ErrInvalidExpense):
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, "validation_error", err.Error(), nil)
	case errors.As(err, &invalid):
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, "invalid_catalog_data", err.Error(),
			map[string]string{"item_id": invalid.ItemID, "field": invalid.Field})
	case errors.Is(err, catalog.ErrStockExhausted):
		middleware.WriteAPIError(w, r, http.StatusConflict, "stock_exhausted", err.Error(), nil)
	case errors.Is(err, catalog.ErrIngredientInUse):
		middleware.WriteAPIError(w, r, http.StatusConflict, "ingredient_in_use", err.Error(), nil)
	case errors.Is(err, inventory.ErrIngredientsUnavailable):
		unavailable(w, r, "ingredient store")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, "request_cancelled",
			"The request was cancelled before it finished", nil)
	default:
		logger.LogError("Request %s failed: %v", middleware.GetRequestID(r.Context()), err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "internal_error",
			"An internal error occurred", nil)
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", err.Error(), nil)
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, "unavailable", what+" is not configured", nil)
}

func operatorID(r *http.Request) string {
	op, _ := identity.FromContext(r.Context())
	return op.ID
}

// dateRange reads ?from=YYYY-MM-DD&to=YYYY-MM-DD as local days. to is
// inclusive. Missing bounds default to the last `days` days ending today.
func (h *Handler) dateRange(r *http.Request, days int) (time.Time, time.Time, error) {
	today := h.now().In(h.Location)
	todayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, h.Location)

	to := todayStart.AddDate(0, 0, 1)
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, h.Location)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date %q", raw)
		}
		to = d.AddDate(0, 0, 1)
	}

	from := to.AddDate(0, 0, -days)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		d, err := time.ParseInLocation(time.DateOnly, raw, h.Location)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date %q", raw)
		}
		from = d
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must not be after to")
	}
	return from, to, nil
}

func queryLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, 1000)
}
