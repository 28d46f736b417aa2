package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"cafepos/internal/cart"
	"cafepos/internal/catalog"
	"cafepos/internal/logger"
	"cafepos/internal/middleware"
	"cafepos/internal/settlement"
)

// lineRequest names an item to sell. UnitPrice and UnitCost carry a price
// frozen by an earlier quote; when absent the current price is resolved.
type lineRequest struct {
	ItemID    string           `json:"item_id"`
	VariantID string           `json:"variant_id,omitempty"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"`
}

type quoteRequest struct {
	Lines []lineRequest `json:"lines"`
}

type quoteResponse struct {
	Lines  []cart.Line  `json:"lines"`
	Totals cart.Summary `json:"totals"`
}

type checkoutRequest struct {
	Lines          []lineRequest `json:"lines"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

type checkoutResponse struct {
	Outcome string `json:"outcome"`
	settlement.Receipt
	FailedAdjustments []settlement.FailedAdjustment `json:"failed_adjustments,omitempty"`
}

var errUnknownItem = errors.New("unknown item")

// buildLines turns request lines into cart lines. A line with a frozen price
// keeps it and only needs its item to still exist; other lines are resolved
// against the cached catalog.
func (h *Handler) buildLines(reqs []lineRequest) ([]cart.Line, error) {
	lines := make([]cart.Line, 0, len(reqs))
	for i, lr := range reqs {
		item, ok := h.Inventory.Item(strings.TrimSpace(lr.ItemID))
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %q", errUnknownItem, i, lr.ItemID)
		}

		if (lr.UnitPrice == nil) != (lr.UnitCost == nil) {
			return nil, fmt.Errorf("%w: line %d (%s) must carry both unit_price and unit_cost", settlement.ErrMalformedCart, i, lr.ItemID)
		}

		var line cart.Line
		var err error
		if lr.UnitPrice != nil {
			line, err = frozenLine(item, lr)
		} else {
			line, err = cart.NewLine(item, lr.VariantID, lr.Quantity)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d (%s): %w", i, lr.ItemID, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// frozenLine rebuilds a quoted line without re-resolving its price, so a
// variant removed since the quote does not void it.
func frozenLine(item catalog.SellableItem, lr lineRequest) (cart.Line, error) {
	if lr.Quantity < 1 {
		return cart.Line{}, cart.ErrInvalidQuantity
	}
	if lr.UnitPrice.IsNegative() || lr.UnitCost.IsNegative() {
		return cart.Line{}, fmt.Errorf("%w: frozen price and cost cannot be negative", settlement.ErrMalformedCart)
	}

	line := cart.Line{
		ItemID:    item.ID,
		ItemName:  item.DisplayName(),
		Kind:      item.Kind,
		Quantity:  lr.Quantity,
		UnitPrice: *lr.UnitPrice,
		UnitCost:  *lr.UnitCost,
	}
	if item.Kind == catalog.PreparedBeverage && lr.VariantID != "" {
		line.VariantID = lr.VariantID
		line.VariantName = lr.VariantID
		if v, ok := item.Variant(lr.VariantID); ok {
			line.VariantName = v.VariantName
		}
		line.ItemName = fmt.Sprintf("%s (%s)", item.Name, line.VariantName)
	}
	return line, nil
}

func writeLineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errUnknownItem):
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, "unknown_item", err.Error(), nil)
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, settlement.ErrMalformedCart):
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "malformed_cart", err.Error(), nil)
	default:
		writeError(w, r, err)
	}
}

// quote freezes prices for the given lines so the till can show a running total.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	lines, err := h.buildLines(req.Lines)
	if err != nil {
		writeLineError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, quoteResponse{Lines: lines, Totals: cart.Totals(lines)})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	lines, err := h.buildLines(req.Lines)
	if err != nil {
		writeLineError(w, r, err)
		return
	}

	result, err := h.Settlement.Settle(r.Context(), settlement.Request{Lines: lines, IdempotencyKey: key})
	if err != nil {
		writeLineError(w, r, err)
		return
	}

	switch res := result.(type) {
	case settlement.Settled:
		if !res.Replayed {
			h.afterSale(r.Context(), lines)
		}
		status := http.StatusCreated
		if res.Replayed {
			status = http.StatusOK
		}
		middleware.WriteAPIResponse(w, r, status, checkoutResponse{Outcome: res.Outcome(), Receipt: res.Receipt}, "")

	case settlement.SettledWithWarning:
		h.afterSale(r.Context(), lines)
		warning := fmt.Sprintf("Order %s was saved but stock for %s was not updated; it will be reconciled",
			res.Code, strings.Join(res.FailedItemIDs(), ", "))
		middleware.WriteAPIResponse(w, r, http.StatusCreated, checkoutResponse{
			Outcome:           res.Outcome(),
			Receipt:           res.Receipt,
			FailedAdjustments: res.FailedAdjustments,
		}, warning)

	case settlement.Rejected:
		writeRejection(w, r, res.Reason)

	case settlement.Failed:
		middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, res.Reason.Code(), res.Reason.Message(),
			map[string]string{"order_id": res.Reason.OrderID})

	default:
		writeError(w, r, fmt.Errorf("unexpected settlement result %T", result))
	}
}

func writeRejection(w http.ResponseWriter, r *http.Request, reason settlement.RejectReason) {
	switch reason := reason.(type) {
	case settlement.EmptyCart:
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, reason.Code(), reason.Message(), nil)
	case settlement.InsufficientStock:
		middleware.WriteAPIError(w, r, http.StatusConflict, reason.Code(), reason.Message(), reason.Shortfalls)
	case settlement.Unauthenticated:
		middleware.WriteAPIError(w, r, http.StatusUnauthorized, reason.Code(), reason.Message(), nil)
	case settlement.IdempotencyConflict:
		middleware.WriteAPIError(w, r, http.StatusConflict, reason.Code(), reason.Message(),
			map[string]string{"order_id": reason.OrderID, "order_code": reason.OrderCode})
	case settlement.StockCheckUnavailable:
		middleware.WriteAPIError(w, r, http.StatusServiceUnavailable, reason.Code(), reason.Message(),
			map[string][]string{"item_ids": reason.ItemIDs})
	default:
		middleware.WriteAPIError(w, r, http.StatusUnprocessableEntity, reason.Code(), reason.Message(), nil)
	}
}

func (h *Handler) afterSale(ctx context.Context, lines []cart.Line) {
	seen := make(map[string]bool)
	var ids []string
	for _, l := range lines {
		if l.Kind == catalog.StockedGood && !seen[l.ItemID] {
			seen[l.ItemID] = true
			ids = append(ids, l.ItemID)
		}
	}
	if len(ids) > 0 {
		logger.LogDebug("Refreshing stock for %d sold goods", len(ids))
	}
	h.Inventory.AfterSale(context.WithoutCancel(ctx), ids)
}
