package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (p *PostgresClient) SaveRecipe(ctx context.Context, rec *RecipeRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err := p.pool.QueryRow(ctx, `
		INSERT INTO recipes (id, name, recipe_text)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, rec.ID, rec.Name, rec.Text).Scan(&rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert recipe: %w", err)
	}
	return nil
}

// GetLatestRecipe returns the most recently stored recipe, or ErrNotFound
// wrapped when none exists.
func (p *PostgresClient) GetLatestRecipe(ctx context.Context) (*RecipeRecord, error) {
	var rec RecipeRecord
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, recipe_text, created_at
		FROM recipes
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&rec.ID, &rec.Name, &rec.Text, &rec.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no recipe stored: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return &rec, nil
}

func (p *PostgresClient) ListRecipes(ctx context.Context, limit int) ([]RecipeRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, name, recipe_text, created_at
		FROM recipes
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipes: %w", err)
	}
	defer rows.Close()

	records := make([]RecipeRecord, 0)
	for rows.Next() {
		var rec RecipeRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
