package planner

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meal-planner/internal/database"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PlanRepository is a database-backed repository for meal plans and meals.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *sql.DB) *PlanRepository {
	return &PlanRepository{db: d}
}

const (
	planColumns = `id, user_id, start_date, end_date, version, created_at`
	mealColumns = `m.id, m.meal_plan_id, m.recipe_id, m.meal_type, m.date, m.position, m.updated_at`
	mealOrder   = `m.date, m.position, CASE m.meal_type WHEN 'breakfast' THEN 0 WHEN 'lunch' THEN 1 ELSE 2 END, m.id`
)

// GetOrCreate returns the plan for (userID, start, end), inserting it first
// if it does not exist yet.
func (r *PlanRepository) GetOrCreate(ctx context.Context, userID string, start, end time.Time) (*MealPlan, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meal_plans (id, user_id, start_date, end_date, version, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (user_id, start_date, end_date) DO NOTHING`,
		uuid.NewString(), userID, start.Format(DateLayout), end.Format(DateLayout), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert meal plan: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM meal_plans WHERE user_id = ? AND start_date = ? AND end_date = ?`,
		userID, start.Format(DateLayout), end.Format(DateLayout))
	plan, err := scanPlan(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load meal plan: %w", err)
	}
	return plan, nil
}

// GetPlan retrieves a plan by ID.
func (r *PlanRepository) GetPlan(ctx context.Context, id string) (*MealPlan, error) {
	return getPlan(ctx, r.db, id)
}

func getPlan(ctx context.Context, q querier, id string) (*MealPlan, error) {
	plan, err := scanPlan(q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM meal_plans WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Plan not found
		}
		return nil, fmt.Errorf("failed to get meal plan by ID: %w", err)
	}
	return plan, nil
}

// ListByUserID returns a user's plans, most recent range first.
func (r *PlanRepository) ListByUserID(ctx context.Context, userID string) ([]MealPlan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+planColumns+` FROM meal_plans WHERE user_id = ? ORDER BY start_date DESC, end_date DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list meal plans for user %s: %w", userID, err)
	}
	defer rows.Close()

	var plans []MealPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// GetMeal retrieves a meal by ID.
func (r *PlanRepository) GetMeal(ctx context.Context, id string) (*Meal, error) {
	return getMeal(ctx, r.db, id)
}

func getMeal(ctx context.Context, q querier, id string) (*Meal, error) {
	meal, err := scanMeal(q.QueryRowContext(ctx, `SELECT `+mealColumns+` FROM meals m WHERE m.id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Meal not found
		}
		return nil, fmt.Errorf("failed to get meal by ID: %w", err)
	}
	return meal, nil
}

// Snapshot reads a plan together with its meals in one transaction, so the
// version always describes exactly the returned meal set.
func (r *PlanRepository) Snapshot(ctx context.Context, planID string) (*MealPlan, []Meal, error) {
	var (
		plan  *MealPlan
		meals []Meal
	)
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if plan, err = getPlan(ctx, tx, planID); err != nil || plan == nil {
			return err
		}
		meals, err = listMeals(ctx, tx, `WHERE m.meal_plan_id = ?`, planID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return plan, meals, nil
}

// ListMealsForUser returns the meals of all of a user's plans dated within
// [start, end], ordered by date then position.
func (r *PlanRepository) ListMealsForUser(ctx context.Context, userID string, start, end time.Time) ([]Meal, error) {
	return listMeals(ctx, r.db, `JOIN meal_plans p ON p.id = m.meal_plan_id WHERE p.user_id = ? AND m.date BETWEEN ? AND ?`,
		userID, start.Format(DateLayout), end.Format(DateLayout))
}

func listMeals(ctx context.Context, q querier, where string, args ...any) ([]Meal, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+mealColumns+` FROM meals m `+where+` ORDER BY `+mealOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}
	defer rows.Close()

	var meals []Meal
	for rows.Next() {
		meal, err := scanMeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan meal: %w", err)
		}
		meals = append(meals, *meal)
	}
	return meals, rows.Err()
}

// InsertMeal appends a meal at the next free position for its (date, type)
// slot and bumps the plan version in the same transaction.
func (r *PlanRepository) InsertMeal(ctx context.Context, meal Meal) (*Meal, error) {
	meal.ID = uuid.NewString()
	meal.UpdatedAt = time.Now().UTC()

	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0) FROM meals
			WHERE meal_plan_id = ? AND date = ? AND meal_type = ?`,
			meal.MealPlanID, meal.Date.Format(DateLayout), string(meal.MealType),
		).Scan(&meal.Position)
		if err != nil {
			return fmt.Errorf("failed to compute meal position: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO meals (id, meal_plan_id, recipe_id, meal_type, date, position, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			meal.ID, meal.MealPlanID, meal.RecipeID, string(meal.MealType), meal.Date.Format(DateLayout), meal.Position, meal.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert meal: %w", err)
		}
		return bumpVersion(ctx, tx, meal.MealPlanID)
	})
	if err != nil {
		return nil, err
	}
	return &meal, nil
}

// UpdateMealRecipe points a meal at a new recipe and bumps the plan version
// in the same transaction. It returns nil if the meal no longer exists.
func (r *PlanRepository) UpdateMealRecipe(ctx context.Context, mealID, recipeID string) (*Meal, error) {
	var meal *Meal
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE meals SET recipe_id = ?, updated_at = ? WHERE id = ?`, recipeID, time.Now().UTC(), mealID)
		if err != nil {
			return fmt.Errorf("failed to update meal recipe: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if meal, err = getMeal(ctx, tx, mealID); err != nil || meal == nil {
			return err
		}
		return bumpVersion(ctx, tx, meal.MealPlanID)
	})
	if err != nil {
		return nil, err
	}
	return meal, nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx, planID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE meal_plans SET version = version + 1 WHERE id = ?`, planID); err != nil {
		return fmt.Errorf("failed to bump meal plan version: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*MealPlan, error) {
	var p MealPlan
	var start, end string
	if err := row.Scan(&p.ID, &p.UserID, &start, &end, &p.Version, &p.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.StartDate, err = time.Parse(DateLayout, start); err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if p.EndDate, err = time.Parse(DateLayout, end); err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	return &p, nil
}

func scanMeal(row rowScanner) (*Meal, error) {
	var m Meal
	var mealType, date string
	if err := row.Scan(&m.ID, &m.MealPlanID, &m.RecipeID, &mealType, &date, &m.Position, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.MealType = MealType(mealType)
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid meal date %q: %w", date, err)
	}
	m.Date = d
	return &m, nil
}
