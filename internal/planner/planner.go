package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meal-planner/internal/logger"
	"meal-planner/internal/resolver"
)

var (
	ErrInvalidRange      = errors.New("end date is before start date")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrRecipeUnavailable = errors.New("recipe unavailable")
	ErrInvalidMeal       = errors.New("invalid meal")
	// ErrSuperseded is returned to a swap that lost to a later-started swap
	// of the same meal. Its recipe change was discarded.
	ErrSuperseded = errors.New("swap superseded by a later swap")
)

// RecipeResolver is the part of the resolver the planner needs.
type RecipeResolver interface {
	Resolve(ctx context.Context, id string) (resolver.Result, error)
	ResolveMany(ctx context.Context, ids []string) (map[string]resolver.Resolution, error)
}

// Planner owns meal plans and their meals. Every call takes the acting
// user's id explicitly and checks plan ownership against it.
type Planner struct {
	repo    *PlanRepository
	recipes RecipeResolver
	swaps   *swapTickets
	log     *logger.Logger
}

// NewPlanner creates a new Planner instance.
func NewPlanner(repo *PlanRepository, recipes RecipeResolver, log *logger.Logger) *Planner {
	if log == nil {
		log = logger.Nop()
	}
	return &Planner{
		repo:    repo,
		recipes: recipes,
		swaps:   newSwapTickets(),
		log:     log.With("component", "planner"),
	}
}

// CreatePlan returns the user's plan for [start, end], creating it on first
// use. Repeated calls with the same arguments return the same plan.
func (p *Planner) CreatePlan(ctx context.Context, userID string, start, end time.Time) (*MealPlan, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil, ErrInvalidRange
	}

	plan, err := p.repo.GetOrCreate(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to create meal plan: %w", err)
	}
	p.log.Info("meal plan ready", "user_id", userID, "plan_id", plan.ID, "start", start.Format(DateLayout), "end", end.Format(DateLayout))
	return plan, nil
}

// GetPlan returns a plan owned by userID.
func (p *Planner) GetPlan(ctx context.Context, userID, planID string) (*MealPlan, error) {
	plan, err := p.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: meal plan %s", ErrNotFound, planID)
	}
	if plan.UserID != userID {
		return nil, fmt.Errorf("%w: meal plan %s belongs to another user", ErrForbidden, planID)
	}
	return plan, nil
}

// ListPlans returns all plans of a user.
func (p *Planner) ListPlans(ctx context.Context, userID string) ([]MealPlan, error) {
	return p.repo.ListByUserID(ctx, userID)
}

// AddMeal places a recipe in a plan at the next free position of the
// (date, mealType) slot. The recipe must resolve first.
func (p *Planner) AddMeal(ctx context.Context, userID, planID string, date time.Time, mealType MealType, recipeID string) (*MealWithRecipe, error) {
	mealType, err := ParseMealType(string(mealType))
	if err != nil {
		return nil, err
	}
	plan, err := p.GetPlan(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	date = Day(date)
	if !plan.Contains(date) {
		return nil, fmt.Errorf("%w: %s is outside the plan range %s..%s", ErrInvalidMeal,
			date.Format(DateLayout), plan.StartDate.Format(DateLayout), plan.EndDate.Format(DateLayout))
	}

	res, err := p.resolve(ctx, recipeID)
	if err != nil {
		return nil, err
	}

	meal, err := p.repo.InsertMeal(ctx, Meal{MealPlanID: plan.ID, RecipeID: recipeID, MealType: mealType, Date: date})
	if err != nil {
		return nil, err
	}
	p.log.Info("meal added", "user_id", userID, "plan_id", plan.ID, "meal_id", meal.ID, "recipe_id", recipeID)
	return withRecipe(*meal, res), nil
}

// SwapMeal replaces the recipe of a meal. Concurrent swaps of the same meal
// are ordered by start: the swap that started last wins, and an earlier one
// that finishes after it fails with ErrSuperseded.
func (p *Planner) SwapMeal(ctx context.Context, userID, mealID, newRecipeID string) (*MealWithRecipe, error) {
	meal, err := p.repo.GetMeal(ctx, mealID)
	if err != nil {
		return nil, err
	}
	if meal == nil {
		return nil, fmt.Errorf("%w: meal %s", ErrNotFound, mealID)
	}
	if _, err := p.GetPlan(ctx, userID, meal.MealPlanID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: meal %s", ErrNotFound, mealID)
		}
		return nil, err
	}

	t := p.swaps.acquire(mealID)
	defer p.swaps.release(mealID, t)

	res, err := p.resolve(ctx, newRecipeID)
	if err != nil {
		return nil, err
	}

	var updated *Meal
	err = t.commit(func() error {
		var err error
		updated, err = p.repo.UpdateMealRecipe(ctx, mealID, newRecipeID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			p.log.Info("swap superseded", "meal_id", mealID, "recipe_id", newRecipeID)
		}
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: meal %s", ErrNotFound, mealID)
	}

	p.log.Info("meal swapped", "user_id", userID, "meal_id", mealID, "from_recipe", meal.RecipeID, "to_recipe", newRecipeID)
	return withRecipe(*updated, res), nil
}

// GetMeals returns the user's meals on one date.
func (p *Planner) GetMeals(ctx context.Context, userID string, date time.Time) ([]MealWithRecipe, error) {
	return p.GetMealsBetween(ctx, userID, date, date)
}

// GetMealsBetween returns the user's meals dated within [start, end],
// ordered by date then position, each joined with its recipe. Recipes are
// resolved once per distinct id.
func (p *Planner) GetMealsBetween(ctx context.Context, userID string, start, end time.Time) ([]MealWithRecipe, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	meals, err := p.repo.ListMealsForUser(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	return p.attachRecipes(ctx, meals)
}

// PlanMeals returns a plan and its meals with resolved recipes. The plan
// version matches the returned meal set.
func (p *Planner) PlanMeals(ctx context.Context, userID, planID string) (*MealPlan, []MealWithRecipe, error) {
	plan, meals, err := p.repo.Snapshot(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if plan == nil {
		return nil, nil, fmt.Errorf("%w: meal plan %s", ErrNotFound, planID)
	}
	if plan.UserID != userID {
		return nil, nil, fmt.Errorf("%w: meal plan %s belongs to another user", ErrForbidden, planID)
	}

	joined, err := p.attachRecipes(ctx, meals)
	if err != nil {
		return nil, nil, err
	}
	return plan, joined, nil
}

func (p *Planner) attachRecipes(ctx context.Context, meals []Meal) ([]MealWithRecipe, error) {
	if len(meals) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(meals))
	for _, m := range meals {
		ids = append(ids, m.RecipeID)
	}
	resolved, err := p.recipes.ResolveMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]MealWithRecipe, 0, len(meals))
	for _, m := range meals {
		r := resolved[m.RecipeID]
		if r.Err != nil {
			p.log.Warn("meal recipe unresolved", "meal_id", m.ID, "recipe_id", m.RecipeID, "error", r.Err)
			out = append(out, MealWithRecipe{Meal: m, RecipeErr: r.Err})
			continue
		}
		out = append(out, *withRecipe(m, r.Result))
	}
	return out, nil
}

func (p *Planner) resolve(ctx context.Context, recipeID string) (resolver.Result, error) {
	res, err := p.recipes.Resolve(ctx, recipeID)
	if err != nil {
		if ctx.Err() != nil {
			return resolver.Result{}, ctx.Err()
		}
		return resolver.Result{}, fmt.Errorf("%w: %s: %w", ErrRecipeUnavailable, recipeID, err)
	}
	return res, nil
}

func withRecipe(m Meal, res resolver.Result) *MealWithRecipe {
	rec := res.Recipe
	return &MealWithRecipe{Meal: m, Recipe: &rec, Stale: res.Stale}
}

// swapTickets orders concurrent swaps per meal id. Each swap draws a ticket
// when it starts; a commit is refused once a higher ticket has committed.
type swapTickets struct {
	mu    sync.Mutex
	meals map[string]*mealTicket
}

type mealTicket struct {
	mu        sync.Mutex
	issued    uint64
	committed uint64
	inFlight  int
}

type ticket struct {
	meal *mealTicket
	n    uint64
}

func newSwapTickets() *swapTickets {
	return &swapTickets{meals: make(map[string]*mealTicket)}
}

func (s *swapTickets) acquire(mealID string) ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	mt, ok := s.meals[mealID]
	if !ok {
		mt = &mealTicket{}
		s.meals[mealID] = mt
	}
	mt.issued++
	mt.inFlight++
	return ticket{meal: mt, n: mt.issued}
}

func (s *swapTickets) release(mealID string, t ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.meal.inFlight--
	if t.meal.inFlight == 0 {
		delete(s.meals, mealID)
	}
}

// commit runs fn unless a later ticket already committed. Commits for one
// meal never overlap.
func (t ticket) commit(fn func() error) error {
	t.meal.mu.Lock()
	defer t.meal.mu.Unlock()

	if t.meal.committed > t.n {
		return ErrSuperseded
	}
	if err := fn(); err != nil {
		return err
	}
	t.meal.committed = t.n
	return nil
}
