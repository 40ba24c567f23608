package shopping

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"meal-planner/internal/logger"
	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
)

// PlanSource provides ownership-checked access to meal plans.
type PlanSource interface {
	GetPlan(ctx context.Context, userID, planID string) (*planner.MealPlan, error)
	PlanMeals(ctx context.Context, userID, planID string) (*planner.MealPlan, []planner.MealWithRecipe, error)
}

// Aggregator derives shopping lists from meal plans. A list is regenerated
// lazily: reading it after the plan's version moved on rebuilds the derived
// items first.
type Aggregator struct {
	plans PlanSource
	repo  *Repository
	log   *logger.Logger
}

// NewAggregator creates a new Aggregator.
func NewAggregator(plans PlanSource, repo *Repository, log *logger.Logger) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{plans: plans, repo: repo, log: log.With("component", "shopping")}
}

// ShoppingList returns the plan's current list, regenerating it when the
// plan changed since the list was last built.
func (a *Aggregator) ShoppingList(ctx context.Context, userID, planID string) (*ShoppingList, error) {
	plan, err := a.checkPlan(ctx, userID, planID)
	if err != nil {
		return nil, err
	}

	list, err := a.repo.GetByMealPlanID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if list != nil && list.GeneratedVersion == plan.Version {
		return list, nil
	}
	return a.Generate(ctx, userID, planID)
}

// Generate rebuilds the derived items of a plan's list from its current
// meals. Manual items and their checked state are kept as they are.
func (a *Aggregator) Generate(ctx context.Context, userID, planID string) (*ShoppingList, error) {
	plan, meals, err := a.plans.PlanMeals(ctx, userID, planID)
	if err != nil {
		return nil, mapPlanError(err)
	}

	var (
		recipes []recipe.Recipe
		missing []string
		stale   bool
	)
	for _, m := range meals {
		if m.Recipe == nil {
			missing = append(missing, m.RecipeID)
			continue
		}
		recipes = append(recipes, *m.Recipe)
		stale = stale || m.Stale
	}

	recorded := plan.Version
	if len(missing) > 0 {
		// Leave the list marked out of date so the next read retries.
		recorded = -1
	}

	list, err := a.repo.ReplaceDerived(ctx, planID, plan.Version, recorded, stale, Aggregate(recipes))
	if err != nil {
		return nil, fmt.Errorf("failed to save shopping list: %w", err)
	}
	list.MissingRecipes = missing

	if len(missing) > 0 {
		a.log.Warn("shopping list built without some recipes", "plan_id", planID, "missing", missing)
	} else {
		a.log.Info("shopping list generated", "plan_id", planID, "version", plan.Version, "items", len(list.Items))
	}
	return list, nil
}

// AddManualItem adds a user-entered item to a plan's list.
func (a *Aggregator) AddManualItem(ctx context.Context, userID, planID, name string, quantity float64, unit string) (*Item, error) {
	if _, err := a.checkPlan(ctx, userID, planID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if quantity < 0 || math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return nil, fmt.Errorf("%w: quantity must be a non-negative number", ErrInvalid)
	}
	u, _ := recipe.NormalizeUnit(unit)

	return a.repo.AddManualItem(ctx, planID, Item{
		Name:     name,
		Quantity: quantity,
		Unit:     u,
		Category: Categorize(name),
	})
}

// SetChecked ticks or unticks an item. Checks on derived items last until
// the next regeneration.
func (a *Aggregator) SetChecked(ctx context.Context, userID, planID, itemID string, checked bool) error {
	if _, err := a.checkPlan(ctx, userID, planID); err != nil {
		return err
	}
	return a.repo.SetChecked(ctx, planID, itemID, checked)
}

// RemoveManualItem deletes a user-entered item.
func (a *Aggregator) RemoveManualItem(ctx context.Context, userID, planID, itemID string) error {
	if _, err := a.checkPlan(ctx, userID, planID); err != nil {
		return err
	}
	return a.repo.DeleteManualItem(ctx, planID, itemID)
}

func (a *Aggregator) checkPlan(ctx context.Context, userID, planID string) (*planner.MealPlan, error) {
	plan, err := a.plans.GetPlan(ctx, userID, planID)
	if err != nil {
		return nil, mapPlanError(err)
	}
	return plan, nil
}

func mapPlanError(err error) error {
	switch {
	case errors.Is(err, planner.ErrForbidden):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case errors.Is(err, planner.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}
