package api

import (
	"fmt"
	"net/http"
	"strings"

	"cafepos/internal/catalog"
	"cafepos/internal/middleware"
	"cafepos/internal/pricing"
)

// menu lists everything sellable now with resolved prices.
func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, h.Inventory.Menu())
}

func (h *Handler) listCatalog(w http.ResponseWriter, r *http.Request) {
	items := h.Inventory.Items()
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		kind, err := catalog.ParseKind(raw)
		if err != nil {
			badRequest(w, r, err)
			return
		}
		filtered := items[:0]
		for _, it := range items {
			if it.Kind == kind {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	middleware.WriteAPISuccess(w, r, items)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	it, ok := h.Inventory.Item(r.PathValue("id"))
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrNotFound, r.PathValue("id")))
		return
	}
	middleware.WriteAPISuccess(w, r, it)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var item catalog.SellableItem
	if err := middleware.ParseJSONRequest(w, r, &item); err != nil {
		badRequest(w, r, err)
		return
	}
	if _, exists := h.Inventory.Item(item.ID); item.ID != "" && exists {
		middleware.WriteAPIError(w, r, http.StatusConflict, "already_exists",
			fmt.Sprintf("item %s already exists", item.ID), nil)
		return
	}

	saved, err := h.Inventory.SaveItem(r.Context(), item)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPIResponse(w, r, http.StatusCreated, saved, "")
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.Inventory.Item(id); !ok {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrNotFound, id))
		return
	}

	var item catalog.SellableItem
	if err := middleware.ParseJSONRequest(w, r, &item); err != nil {
		badRequest(w, r, err)
		return
	}
	if item.ID != "" && item.ID != id {
		badRequest(w, r, fmt.Errorf("body id %q does not match path id %q", item.ID, id))
		return
	}
	item.ID = id

	saved, err := h.Inventory.SaveItem(r.Context(), item)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, saved)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Inventory.DeleteItem(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// variantPrices is the beverage variant picker: one resolved price per
// ingredient variant, or a single default entry.
func (h *Handler) variantPrices(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	it, ok := h.Inventory.Item(id)
	if !ok {
		writeError(w, r, fmt.Errorf("%w: %s", catalog.ErrNotFound, id))
		return
	}

	prices, err := pricing.ListVariantPrices(it)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, prices)
}

type restockRequest struct {
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes"`
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req restockRequest
	if err := middleware.ParseJSONRequest(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	if err := h.Inventory.Restock(r.Context(), id, req.Quantity, operatorID(r), req.Notes); err != nil {
		writeError(w, r, err)
		return
	}

	it, _ := h.Inventory.Item(id)
	middleware.WriteAPISuccess(w, r, it)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	if h.Movements == nil {
		unavailable(w, r, "stock ledger")
		return
	}
	moves, err := h.Movements.ListMovements(r.Context(), r.PathValue("id"), queryLimit(r, 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if moves == nil {
		moves = []catalog.StockMovement{}
	}
	middleware.WriteAPISuccess(w, r, moves)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, h.Inventory.GetStats())
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	if h.Pending == nil {
		unavailable(w, r, "reconciliation queue")
		return
	}

	list := h.Pending.ListPending
	if strings.EqualFold(r.URL.Query().Get("status"), "abandoned") {
		list = h.Pending.ListAbandoned
	}
	items, err := list(r.Context(), queryLimit(r, 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, items)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	if h.Reconciler == nil {
		unavailable(w, r, "reconciliation")
		return
	}
	report, err := h.Reconciler.RunOnce(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if report.Resolved > 0 {
		if err := h.Inventory.Refresh(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	middleware.WriteAPISuccess(w, r, report)
}
