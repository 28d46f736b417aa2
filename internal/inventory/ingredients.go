package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cafepos/internal/catalog"
	"cafepos/internal/logger"
	"cafepos/internal/notify"
)

// ErrIngredientsUnavailable is returned when a recipe references an
// ingredient but the service has no ingredient store.
var ErrIngredientsUnavailable = errors.New("ingredient store is not configured")

// Ingredients lists every ingredient.
func (s *Service) Ingredients(ctx context.Context) ([]catalog.Ingredient, error) {
	if s.ingredients == nil {
		return nil, ErrIngredientsUnavailable
	}
	return s.ingredients.ListIngredients(ctx)
}

func (s *Service) Ingredient(ctx context.Context, id string) (*catalog.Ingredient, error) {
	if s.ingredients == nil {
		return nil, ErrIngredientsUnavailable
	}
	return s.ingredients.GetIngredient(ctx, id)
}

// SaveIngredient creates in when its id is empty or unknown and updates it
// otherwise. After an update every beverage made from it is re-costed and a
// price update is published for each one.
func (s *Service) SaveIngredient(ctx context.Context, in catalog.Ingredient) (*catalog.Ingredient, error) {
	if s.ingredients == nil {
		return nil, ErrIngredientsUnavailable
	}

	create := strings.TrimSpace(in.ID) == ""
	if !create {
		_, err := s.ingredients.GetIngredient(ctx, in.ID)
		switch {
		case errors.Is(err, catalog.ErrIngredientNotFound):
			create = true
		case err != nil:
			return nil, err
		}
	}

	if create {
		saved, err := s.ingredients.CreateIngredient(ctx, in)
		if err != nil {
			return nil, err
		}
		logger.LogInfo("Created ingredient %s (%s)", saved.Name, saved.ID)
		return saved, nil
	}

	saved, err := s.ingredients.UpdateIngredient(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.repriceUsersOf(ctx, saved.ID); err != nil {
		return saved, err
	}
	return saved, nil
}

// DeleteIngredient removes an ingredient no recipe uses.
func (s *Service) DeleteIngredient(ctx context.Context, id string) error {
	if s.ingredients == nil {
		return ErrIngredientsUnavailable
	}
	if err := s.ingredients.DeleteIngredient(ctx, id); err != nil {
		return err
	}
	logger.LogInfo("Deleted ingredient %s", id)
	return nil
}

// repriceUsersOf rewrites the derived ingredient cost of every beverage that
// uses ingredientID. Items are read from the store, not the cache.
func (s *Service) repriceUsersOf(ctx context.Context, ingredientID string) error {
	items, err := s.store.ListSellableItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog for repricing: %w", err)
	}
	byID, err := s.ingredientMap(ctx)
	if err != nil {
		return err
	}

	var repriced []catalog.SellableItem
	var failures []error
	for _, it := range items {
		if !it.UsesIngredient(ingredientID) {
			continue
		}
		priced, err := catalog.ApplyIngredientCosts(it, byID)
		if err == nil {
			_, err = s.store.UpdateSellableItem(ctx, priced)
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("failed to reprice %s: %w", it.ID, err))
			continue
		}
		repriced = append(repriced, priced)
	}

	if len(repriced) > 0 {
		if err := s.Refresh(ctx); err != nil {
			logger.LogWarn("Catalog refresh after ingredient change failed: %v", err)
		}
		for _, it := range repriced {
			s.publish(ctx, notify.PriceUpdate{ItemID: it.ID, Name: it.Name, Kind: it.Kind, Action: notify.ActionUpdated, At: time.Now()})
		}
		logger.LogInfo("Ingredient %s changed, repriced %d items", ingredientID, len(repriced))
	}
	return errors.Join(failures...)
}

// priceIngredients derives variant costs for item from the ingredients it
// references. Items with no references are returned unchanged.
func (s *Service) priceIngredients(ctx context.Context, item catalog.SellableItem) (catalog.SellableItem, error) {
	refs := false
	for _, v := range item.IngredientVariants {
		if v.IngredientID != "" {
			refs = true
			break
		}
	}
	if !refs {
		return item, nil
	}
	if s.ingredients == nil {
		return item, ErrIngredientsUnavailable
	}

	byID, err := s.ingredientMap(ctx)
	if err != nil {
		return item, err
	}
	return catalog.ApplyIngredientCosts(item, byID)
}

func (s *Service) ingredientMap(ctx context.Context) (map[string]catalog.Ingredient, error) {
	list, err := s.ingredients.ListIngredients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ingredients: %w", err)
	}
	byID := make(map[string]catalog.Ingredient, len(list))
	for _, in := range list {
		byID[in.ID] = in
	}
	return byID, nil
}
