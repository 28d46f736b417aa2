package api

import (
	"errors"
	"fmt"
	"net/http"

	"cafepos/internal/catalog"
	"cafepos/internal/middleware"
)

func (h *Handler) listIngredients(w http.ResponseWriter, r *http.Request) {
	list, err := h.Inventory.Ingredients(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, list)
}

func (h *Handler) getIngredient(w http.ResponseWriter, r *http.Request) {
	in, err := h.Inventory.Ingredient(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, in)
}

func (h *Handler) createIngredient(w http.ResponseWriter, r *http.Request) {
	var in catalog.Ingredient
	if err := middleware.ParseJSONRequest(w, r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	if in.ID != "" {
		_, err := h.Inventory.Ingredient(r.Context(), in.ID)
		if err == nil {
			middleware.WriteAPIError(w, r, http.StatusConflict, "already_exists",
				fmt.Sprintf("ingredient %s already exists", in.ID), nil)
			return
		}
		if !errors.Is(err, catalog.ErrIngredientNotFound) {
			writeError(w, r, err)
			return
		}
	}

	saved, err := h.Inventory.SaveIngredient(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPIResponse(w, r, http.StatusCreated, saved, "")
}

// updateIngredient saves the new pack price and re-costs every beverage made
// from the ingredient.
func (h *Handler) updateIngredient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Inventory.Ingredient(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	var in catalog.Ingredient
	if err := middleware.ParseJSONRequest(w, r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	if in.ID != "" && in.ID != id {
		badRequest(w, r, fmt.Errorf("body id %q does not match path id %q", in.ID, id))
		return
	}
	in.ID = id

	saved, err := h.Inventory.SaveIngredient(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	middleware.WriteAPISuccess(w, r, saved)
}

func (h *Handler) deleteIngredient(w http.ResponseWriter, r *http.Request) {
	if err := h.Inventory.DeleteIngredient(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
