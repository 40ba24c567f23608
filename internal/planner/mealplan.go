package planner

import (
	"fmt"
	"strings"
	"time"

	"meal-planner/internal/recipe"
)

// DateLayout is the calendar date format used for plans and meals.
const DateLayout = "2006-01-02"

// MealType is the slot of the day a meal fills.
type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
)

// ParseMealType accepts breakfast, lunch or dinner in any case.
func ParseMealType(s string) (MealType, error) {
	switch t := MealType(strings.ToLower(strings.TrimSpace(s))); t {
	case Breakfast, Lunch, Dinner:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown meal type %q", ErrInvalidMeal, s)
	}
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MealPlan is a user's plan for an inclusive date range. Version increases
// every time the plan's meal set changes.
type MealPlan struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Contains reports whether date falls inside the plan's range.
func (p MealPlan) Contains(date time.Time) bool {
	d := Day(date)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// Meal places one recipe in a plan. Position tells apart several meals of
// the same type on the same date.
type Meal struct {
	ID         string    `json:"id"`
	MealPlanID string    `json:"meal_plan_id"`
	RecipeID   string    `json:"recipe_id"`
	MealType   MealType  `json:"meal_type"`
	Date       time.Time `json:"date"`
	Position   int       `json:"position"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MealWithRecipe is a meal joined with its resolved recipe. Recipe is nil
// when resolution failed, in which case RecipeErr says why.
type MealWithRecipe struct {
	Meal
	Recipe    *recipe.Recipe `json:"recipe,omitempty"`
	Stale     bool           `json:"stale,omitempty"`
	RecipeErr error          `json:"-"`
}
