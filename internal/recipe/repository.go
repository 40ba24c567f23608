package recipe

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SearchRecord is a persisted search result set.
type SearchRecord struct {
	Fingerprint string
	Results     []Summary
	FetchedAt   time.Time
}

// Repository is the durable, sqlite-backed recipe store. Rows are keyed by
// the external catalog id and never deleted here.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

const recipeColumns = `external_id, name, description, image_url, prep_minutes, cook_minutes, servings, tags, ingredients, instructions, nutrition, fetched_at`

// Upsert inserts a recipe or refreshes the content of an existing one. The
// external id is the conflict key, so it never changes.
func (r *Repository) Upsert(ctx context.Context, rec Recipe) error {
	if rec.ID == "" {
		return fmt.Errorf("cannot save recipe without an id")
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}

	tags, err := json.Marshal(nonNil(rec.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal recipe tags: %w", err)
	}
	ingredients, err := json.Marshal(nonNil(rec.Ingredients))
	if err != nil {
		return fmt.Errorf("failed to marshal recipe ingredients: %w", err)
	}
	instructions, err := json.Marshal(nonNil(rec.Instructions))
	if err != nil {
		return fmt.Errorf("failed to marshal recipe instructions: %w", err)
	}
	var nutrition sql.NullString
	if rec.Nutrition != nil {
		raw, err := json.Marshal(rec.Nutrition)
		if err != nil {
			return fmt.Errorf("failed to marshal recipe nutrition: %w", err)
		}
		nutrition = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recipes (`+recipeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			image_url = excluded.image_url,
			prep_minutes = excluded.prep_minutes,
			cook_minutes = excluded.cook_minutes,
			servings = excluded.servings,
			tags = excluded.tags,
			ingredients = excluded.ingredients,
			instructions = excluded.instructions,
			nutrition = excluded.nutrition,
			fetched_at = excluded.fetched_at`,
		rec.ID, rec.Name, rec.Description, rec.ImageURL, rec.PrepMinutes, rec.CookMinutes, rec.Servings,
		string(tags), string(ingredients), string(instructions), nutrition, rec.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert recipe %s: %w", rec.ID, err)
	}
	return nil
}

// Get retrieves a recipe by its ID.
func (r *Repository) Get(ctx context.Context, id string) (*Recipe, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE external_id = ?`, id)
	rec, err := scanRecipe(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Recipe not found
		}
		return nil, fmt.Errorf("failed to get recipe by ID: %w", err)
	}
	return rec, nil
}

// Count returns the number of recipes in the database.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return count, nil
}

// SaveSearch stores the results of a catalog search under its fingerprint.
func (r *Repository) SaveSearch(ctx context.Context, rec SearchRecord) error {
	results, err := json.Marshal(nonNil(rec.Results))
	if err != nil {
		return fmt.Errorf("failed to marshal search results: %w", err)
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recipe_searches (fingerprint, results, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET results = excluded.results, fetched_at = excluded.fetched_at`,
		rec.Fingerprint, string(results), rec.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save search %s: %w", rec.Fingerprint, err)
	}
	return nil
}

// GetSearch returns the stored results for a fingerprint, or nil if none.
func (r *Repository) GetSearch(ctx context.Context, fingerprint string) (*SearchRecord, error) {
	var (
		raw       string
		fetchedAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `SELECT results, fetched_at FROM recipe_searches WHERE fingerprint = ?`, fingerprint).Scan(&raw, &fetchedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get search %s: %w", fingerprint, err)
	}

	var results []Summary
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search results: %w", err)
	}
	return &SearchRecord{Fingerprint: fingerprint, Results: results, FetchedAt: fetchedAt}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (*Recipe, error) {
	var rec Recipe
	var tags, ingredients, instructions string
	var nutrition sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.Name, &rec.Description, &rec.ImageURL, &rec.PrepMinutes, &rec.CookMinutes, &rec.Servings,
		&tags, &ingredients, &instructions, &nutrition, &rec.FetchedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(ingredients), &rec.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingredients for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(instructions), &rec.Instructions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instructions for %s: %w", rec.ID, err)
	}
	if nutrition.Valid {
		rec.Nutrition = &Nutrition{}
		if err := json.Unmarshal([]byte(nutrition.String), rec.Nutrition); err != nil {
			return nil, fmt.Errorf("failed to unmarshal nutrition for %s: %w", rec.ID, err)
		}
	}
	rec.FetchedAt = rec.FetchedAt.UTC()
	return &rec, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
