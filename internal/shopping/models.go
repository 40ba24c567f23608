package shopping

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("shopping: not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid shopping list item")
)

// Category is a store section. The set is closed.
type Category string

const (
	Produce Category = "produce"
	Dairy   Category = "dairy"
	Meat    Category = "meat"
	Seafood Category = "seafood"
	Bakery  Category = "bakery"
	Pantry  Category = "pantry"
	Frozen  Category = "frozen"
	Other   Category = "other"
)

// Categories lists every category in store-walk order.
var Categories = []Category{Produce, Dairy, Meat, Seafood, Bakery, Pantry, Frozen, Other}

func (c Category) rank() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return len(Categories) - 1
}

// ParseCategory returns the category named s, or Other for unknown names.
func ParseCategory(s string) Category {
	c := Category(s)
	if c.rank() == len(Categories)-1 {
		return Other
	}
	return c
}

// Item is one line of a shopping list. Manual items are user-entered and
// survive regeneration; the rest are derived from the plan's recipes.
type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Quantity float64  `json:"quantity"`
	Unit     string   `json:"unit"`
	Category Category `json:"category"`
	Checked  bool     `json:"checked"`
	Manual   bool     `json:"manual"`
}

// ShoppingList is the list derived from one meal plan. GeneratedVersion is
// the plan version the derived items were computed from.
type ShoppingList struct {
	ID               string    `json:"id"`
	MealPlanID       string    `json:"meal_plan_id"`
	GeneratedVersion int64     `json:"generated_version"`
	GeneratedAt      time.Time `json:"generated_at"`
	Items            []Item    `json:"items"`

	// Stale is set when some recipes came from an out-of-date stored copy.
	Stale bool `json:"stale,omitempty"`
	// MissingRecipes lists recipe ids that could not be resolved. Their
	// ingredients are absent and the list will be regenerated on next read.
	MissingRecipes []string `json:"missing_recipes,omitempty"`
}
