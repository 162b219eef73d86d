package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for result and recipe history operations.
type Store interface {
	SaveResult(ctx context.Context, result *Result) error
	CurrentResult(ctx context.Context) (*Result, error)
	ClearResult(ctx context.Context) error
	GetRecipe(ctx context.Context, imageHash string) (*StoredRecipe, error)
	ListRecipes(ctx context.Context, cuisine, difficulty string) ([]*StoredRecipe, error)
}

// SQLStore implements Store on top of Postgres or SQLite.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore. The schema must already be migrated.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// SaveResult replaces the current result and, for food outcomes, upserts the
// recipe history in the same transaction.
func (s *SQLStore) SaveResult(ctx context.Context, result *Result) error {
	if result == nil || result.Outcome == nil {
		return fmt.Errorf("result has no outcome")
	}
	outcomeJSON, err := json.Marshal(result.Outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO analysis_results (slot, operation_id, outcome, image_data_url, image_hash, created_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET
			operation_id = excluded.operation_id,
			outcome = excluded.outcome,
			image_data_url = excluded.image_data_url,
			image_hash = excluded.image_hash,
			created_at = excluded.created_at`),
		result.OperationID,
		string(outcomeJSON),
		result.ImageDataURL,
		result.ImageHash,
		result.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	if result.Outcome.IsFood() {
		if err := s.saveRecipe(ctx, tx, result.ImageHash, result.Outcome.Record, result.CreatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

func (s *SQLStore) saveRecipe(ctx context.Context, tx *sqlx.Tx, imageHash string, r *Record, createdAt time.Time) error {
	ingredientsJSON, err := json.Marshal(r.Ingredients)
	if err != nil {
		return fmt.Errorf("failed to marshal ingredients: %w", err)
	}
	stepsJSON, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO recipes (image_hash, food_name, ingredients, steps, cooking_time, difficulty, cuisine, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (image_hash) DO UPDATE SET
			food_name = excluded.food_name,
			ingredients = excluded.ingredients,
			steps = excluded.steps,
			cooking_time = excluded.cooking_time,
			difficulty = excluded.difficulty,
			cuisine = excluded.cuisine,
			created_at = excluded.created_at`),
		imageHash,
		r.FoodName,
		string(ingredientsJSON),
		string(stepsJSON),
		r.CookingTime,
		r.Difficulty,
		r.Cuisine,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe: %w", err)
	}
	return nil
}

// CurrentResult returns the latest saved result, or nil if there is none.
func (s *SQLStore) CurrentResult(ctx context.Context) (*Result, error) {
	var (
		res         Result
		outcomeJSON []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT operation_id, outcome, image_data_url, image_hash, created_at FROM analysis_results WHERE slot = 1",
	).Scan(&res.OperationID, &outcomeJSON, &res.ImageDataURL, &res.ImageHash, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No result yet
		}
		return nil, fmt.Errorf("failed to get current result: %w", err)
	}

	if err := json.Unmarshal(outcomeJSON, &res.Outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return &res, nil
}

// ClearResult removes the current result. Recipe history is kept.
func (s *SQLStore) ClearResult(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM analysis_results WHERE slot = 1"); err != nil {
		return fmt.Errorf("failed to clear result: %w", err)
	}
	return nil
}

const recipeColumns = "image_hash, food_name, ingredients, steps, cooking_time, difficulty, cuisine, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*StoredRecipe, error) {
	var (
		sr                         StoredRecipe
		r                          Record
		ingredientsJSON, stepsJSON []byte
	)
	err := row.Scan(
		&sr.ImageHash,
		&r.FoodName,
		&ingredientsJSON,
		&stepsJSON,
		&r.CookingTime,
		&r.Difficulty,
		&r.Cuisine,
		&sr.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(ingredientsJSON, &r.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
	}
	if err := json.Unmarshal(stepsJSON, &r.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
	}
	r.IsFood = true
	sr.Record = &r
	return &sr, nil
}

// GetRecipe retrieves a stored recipe by its image hash.
func (s *SQLStore) GetRecipe(ctx context.Context, imageHash string) (*StoredRecipe, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind("SELECT "+recipeColumns+" FROM recipes WHERE image_hash = ?"), imageHash)
	sr, err := scanRecipe(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Recipe not found
		}
		return nil, fmt.Errorf("failed to get recipe by hash: %w", err)
	}
	return sr, nil
}

// ListRecipes retrieves stored recipes, optionally filtered by cuisine and
// difficulty, newest first.
func (s *SQLStore) ListRecipes(ctx context.Context, cuisine, difficulty string) ([]*StoredRecipe, error) {
	var args []any
	query := "SELECT " + recipeColumns + " FROM recipes WHERE 1=1"

	if cuisine != "" {
		query += " AND LOWER(cuisine) = ?"
		args = append(args, strings.ToLower(cuisine))
	}
	if difficulty != "" {
		query += " AND LOWER(difficulty) = ?"
		args = append(args, strings.ToLower(difficulty))
	}
	query += " ORDER BY created_at DESC, image_hash"

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipes: %w", err)
	}
	defer rows.Close()

	recipes := make([]*StoredRecipe, 0)
	for rows.Next() {
		sr, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipe row: %w", err)
		}
		recipes = append(recipes, sr)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return recipes, nil
}
