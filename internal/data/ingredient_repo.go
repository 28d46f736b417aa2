package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cafepos/internal/catalog"
)

// =============================================================================
// INGREDIENT REPOSITORY
// =============================================================================

// IngredientRepository stores the raw materials recipes are costed from.
type IngredientRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewIngredientRepository(conn *sql.DB) *IngredientRepository {
	return &IngredientRepository{db: conn, now: time.Now}
}

const selectIngredientColumns = `
	SELECT id, name, purchase_price, pack_size_grams, created_at, updated_at
	FROM ingredients`

func (r *IngredientRepository) GetIngredient(ctx context.Context, id string) (*catalog.Ingredient, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	in, err := scanIngredient(r.db.QueryRowContext(ctx, selectIngredientColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrIngredientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ingredient %s: %w", id, err)
	}
	return in, nil
}

// ListIngredients returns every ingredient by name.
func (r *IngredientRepository) ListIngredients(ctx context.Context) ([]catalog.Ingredient, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, selectIngredientColumns+` ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingredients: %w", err)
	}
	defer rows.Close()

	out := []catalog.Ingredient{}
	for rows.Next() {
		in, err := scanIngredient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingredient: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ingredients: %w", err)
	}
	return out, nil
}

// CreateIngredient validates and inserts in. An empty id is assigned a UUID.
func (r *IngredientRepository) CreateIngredient(ctx context.Context, in catalog.Ingredient) (*catalog.Ingredient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ID) == "" {
		in.ID = uuid.NewString()
	}
	now := r.now().UTC().Truncate(time.Microsecond)
	in.CreatedAt, in.UpdatedAt = now, now

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const stmt = `
		INSERT INTO ingredients (id, name, purchase_price, pack_size_grams, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, stmt, in.ID, strings.TrimSpace(in.Name), in.PurchasePrice,
		in.PackSizeGrams, formatTime(in.CreatedAt), formatTime(in.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert ingredient: %w", err)
	}
	in.Name = strings.TrimSpace(in.Name)
	return &in, nil
}

func (r *IngredientRepository) UpdateIngredient(ctx context.Context, in catalog.Ingredient) (*catalog.Ingredient, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	const stmt = `
		UPDATE ingredients SET name = ?, purchase_price = ?, pack_size_grams = ?, updated_at = ?
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, stmt, strings.TrimSpace(in.Name), in.PurchasePrice, in.PackSizeGrams,
		formatTime(r.now().UTC().Truncate(time.Microsecond)), in.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update ingredient %s: %w", in.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", catalog.ErrIngredientNotFound, in.ID)
	}
	return r.GetIngredient(ctx, in.ID)
}

// DeleteIngredient refuses to remove an ingredient a recipe still uses.
func (r *IngredientRepository) DeleteIngredient(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var uses int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingredient_variants WHERE ingredient_id = ?`, id).Scan(&uses)
		if err != nil {
			return fmt.Errorf("failed to check ingredient usage: %w", err)
		}
		if uses > 0 {
			return fmt.Errorf("%w: %s is used by %d variants", catalog.ErrIngredientInUse, id, uses)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM ingredients WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete ingredient %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", catalog.ErrIngredientNotFound, id)
		}
		return nil
	})
}

func scanIngredient(row scanner) (*catalog.Ingredient, error) {
	var (
		in                 catalog.Ingredient
		createdAt, updated string
	)
	if err := row.Scan(&in.ID, &in.Name, &in.PurchasePrice, &in.PackSizeGrams, &createdAt, &updated); err != nil {
		return nil, err
	}

	var err error
	if in.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if in.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &in, nil
}
