package shopping

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"meal-planner/internal/database"
	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
	"meal-planner/internal/resolver"
)

type mockResolver struct {
	mu      sync.Mutex
	recipes map[string]recipe.Recipe
	stale   map[string]bool
}

func (m *mockResolver) Resolve(ctx context.Context, id string) (resolver.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recipes[id]
	if !ok {
		return resolver.Result{}, resolver.ErrNotFound
	}
	return resolver.Result{Recipe: rec, Stale: m.stale[id]}, nil
}

func (m *mockResolver) ResolveMany(ctx context.Context, ids []string) (map[string]resolver.Resolution, error) {
	out := make(map[string]resolver.Resolution)
	for _, id := range ids {
		res, err := m.Resolve(ctx, id)
		out[id] = resolver.Resolution{Result: res, Err: err}
	}
	return out, nil
}

type fixture struct {
	plans   *planner.Planner
	agg     *Aggregator
	recipes *mockResolver
	plan    *planner.MealPlan
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "shopping.db"))
	if err != nil {
		t.Fatalf("Failed to create DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	recipes := &mockResolver{recipes: map[string]recipe.Recipe{
		"rice-2": {ID: "rice-2", Name: "Big Rice", Ingredients: []recipe.Ingredient{
			{Name: "rice", Quantity: 2, Unit: "cups"},
			{Name: "onion", Quantity: 1},
		}},
		"rice-1": {ID: "rice-1", Name: "Small Rice", Ingredients: []recipe.Ingredient{
			{Name: "Rice", Quantity: 1, Unit: "cup"},
			{Name: "soy sauce", Quantity: 1, Unit: "tbsp"},
		}},
		"salad": {ID: "salad", Name: "Salad", Ingredients: []recipe.Ingredient{
			{Name: "lettuce", Quantity: 1, Unit: "bunch"},
		}},
	}}

	plans := planner.NewPlanner(planner.NewPlanRepository(db.SQL), recipes, nil)
	agg := NewAggregator(plans, NewRepository(db.SQL), nil)

	ctx := context.Background()
	start, _ := planner.ParseDate("2024-03-04")
	end, _ := planner.ParseDate("2024-03-10")
	plan, err := plans.CreatePlan(ctx, "alice", start, end)
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	return fixture{plans: plans, agg: agg, recipes: recipes, plan: plan}
}

func (f fixture) addDinner(t *testing.T, day, recipeID string) *planner.MealWithRecipe {
	t.Helper()
	d, _ := planner.ParseDate(day)
	meal, err := f.plans.AddMeal(context.Background(), "alice", f.plan.ID, d, planner.Dinner, recipeID)
	if err != nil {
		t.Fatalf("AddMeal failed: %v", err)
	}
	return meal
}

func findItem(list *ShoppingList, name, unit string) *Item {
	for i := range list.Items {
		if list.Items[i].Name == name && list.Items[i].Unit == unit {
			return &list.Items[i]
		}
	}
	return nil
}

func derived(list *ShoppingList) []Item {
	var out []Item
	for _, it := range list.Items {
		if !it.Manual {
			out = append(out, it)
		}
	}
	return out
}

func TestShoppingList(t *testing.T) {
	ctx := context.Background()

	t.Run("TwoDinnersShareRice", func(t *testing.T) {
		f := setup(t)
		f.addDinner(t, "2024-03-05", "rice-2")
		f.addDinner(t, "2024-03-06", "rice-1")

		list, err := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("ShoppingList failed: %v", err)
		}
		rice := findItem(list, "rice", "cup")
		if rice == nil || rice.Quantity != 3 || rice.Category != Pantry {
			t.Fatalf("Expected 3 cup rice in pantry, got %+v", rice)
		}
		if list.Items[0].Category != Produce {
			t.Errorf("Expected produce first, got %+v", list.Items[0])
		}
		if list.GeneratedVersion != 2 {
			t.Errorf("Expected generated version 2, got %d", list.GeneratedVersion)
		}
	})

	t.Run("RegenerationIsIdempotent", func(t *testing.T) {
		f := setup(t)
		f.addDinner(t, "2024-03-05", "rice-2")

		first, err := f.agg.Generate(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		second, err := f.agg.Generate(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		a, b := derived(first), derived(second)
		if len(a) != len(b) {
			t.Fatalf("Expected same derived items, got %d and %d", len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Errorf("Item %d differs: %+v vs %+v", i, a[i], b[i])
			}
		}
	})

	t.Run("ManualItemsSurviveSwap", func(t *testing.T) {
		f := setup(t)
		meal := f.addDinner(t, "2024-03-05", "rice-2")

		if _, err := f.agg.ShoppingList(ctx, "alice", f.plan.ID); err != nil {
			t.Fatalf("ShoppingList failed: %v", err)
		}
		manual, err := f.agg.AddManualItem(ctx, "alice", f.plan.ID, "Paper towels", 2, "")
		if err != nil {
			t.Fatalf("AddManualItem failed: %v", err)
		}
		if err := f.agg.SetChecked(ctx, "alice", f.plan.ID, manual.ID, true); err != nil {
			t.Fatalf("SetChecked failed: %v", err)
		}

		if _, err := f.plans.SwapMeal(ctx, "alice", meal.ID, "salad"); err != nil {
			t.Fatalf("SwapMeal failed: %v", err)
		}

		list, err := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("ShoppingList failed: %v", err)
		}
		if findItem(list, "rice", "cup") != nil {
			t.Errorf("Expected rice to disappear after swap, got %+v", list.Items)
		}
		if findItem(list, "lettuce", "bunch") == nil {
			t.Errorf("Expected lettuce after swap, got %+v", list.Items)
		}
		kept := findItem(list, "Paper towels", "")
		if kept == nil || !kept.Manual || !kept.Checked || kept.Quantity != 2 || kept.ID != manual.ID {
			t.Errorf("Expected manual item preserved with checked state, got %+v", kept)
		}
		if list.Items[len(list.Items)-1].Name != "Paper towels" {
			t.Errorf("Expected uncategorized manual item last, got %+v", list.Items)
		}
	})

	t.Run("LazyRegenerationSkipsUnchangedPlan", func(t *testing.T) {
		f := setup(t)
		f.addDinner(t, "2024-03-05", "rice-2")

		first, _ := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		rice := findItem(first, "rice", "cup")
		if err := f.agg.SetChecked(ctx, "alice", f.plan.ID, rice.ID, true); err != nil {
			t.Fatalf("SetChecked failed: %v", err)
		}

		second, _ := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if got := findItem(second, "rice", "cup"); got == nil || !got.Checked {
			t.Errorf("Expected derived check to persist while the plan is unchanged, got %+v", got)
		}
	})

	t.Run("MissingRecipeForcesRetry", func(t *testing.T) {
		f := setup(t)
		f.addDinner(t, "2024-03-05", "rice-2")
		f.addDinner(t, "2024-03-06", "salad")

		f.recipes.mu.Lock()
		delete(f.recipes.recipes, "salad")
		f.recipes.mu.Unlock()

		list, err := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("ShoppingList failed: %v", err)
		}
		if len(list.MissingRecipes) != 1 || list.MissingRecipes[0] != "salad" {
			t.Errorf("Expected salad to be reported missing, got %v", list.MissingRecipes)
		}
		if list.GeneratedVersion != -1 {
			t.Errorf("Expected list to stay out of date, got version %d", list.GeneratedVersion)
		}
	})

	t.Run("StaleFlagPersists", func(t *testing.T) {
		f := setup(t)
		f.recipes.stale = map[string]bool{"rice-2": true}
		f.addDinner(t, "2024-03-05", "rice-2")

		generated, err := f.agg.Generate(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if !generated.Stale {
			t.Errorf("Expected generated list to be stale")
		}

		reread, err := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("ShoppingList failed: %v", err)
		}
		if reread.GeneratedVersion != generated.GeneratedVersion {
			t.Fatalf("Expected the stored list to be reused, got version %d and %d", generated.GeneratedVersion, reread.GeneratedVersion)
		}
		if !reread.Stale {
			t.Errorf("Expected stored list to stay stale on reread")
		}

		f.recipes.mu.Lock()
		f.recipes.stale = nil
		f.recipes.mu.Unlock()
		f.addDinner(t, "2024-03-06", "salad")

		fresh, err := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if err != nil {
			t.Fatalf("ShoppingList failed: %v", err)
		}
		if fresh.Stale {
			t.Errorf("Expected list rebuilt from fresh recipes not to be stale")
		}
	})

	t.Run("Ownership", func(t *testing.T) {
		f := setup(t)
		if _, err := f.agg.ShoppingList(ctx, "bob", f.plan.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got %v", err)
		}
		if _, err := f.agg.ShoppingList(ctx, "alice", "no-such-plan"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := f.agg.AddManualItem(ctx, "bob", f.plan.ID, "milk", 1, ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected ErrForbidden, got %v", err)
		}
	})

	t.Run("ManualItemOperations", func(t *testing.T) {
		f := setup(t)
		f.addDinner(t, "2024-03-05", "rice-2")

		if _, err := f.agg.AddManualItem(ctx, "alice", f.plan.ID, "  ", 1, ""); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid for empty name, got %v", err)
		}
		if _, err := f.agg.AddManualItem(ctx, "alice", f.plan.ID, "bread", math.NaN(), ""); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid for NaN quantity, got %v", err)
		}

		item, err := f.agg.AddManualItem(ctx, "alice", f.plan.ID, "Milk", 1, "liters")
		if err != nil {
			t.Fatalf("AddManualItem failed: %v", err)
		}
		if item.Category != Dairy || item.Unit != "l" {
			t.Errorf("Expected dairy item in l, got %+v", item)
		}

		list, _ := f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		onion := findItem(list, "onion", "")
		if err := f.agg.RemoveManualItem(ctx, "alice", f.plan.ID, onion.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected derived items not to be removable, got %v", err)
		}
		if err := f.agg.RemoveManualItem(ctx, "alice", f.plan.ID, item.ID); err != nil {
			t.Fatalf("RemoveManualItem failed: %v", err)
		}
		list, _ = f.agg.ShoppingList(ctx, "alice", f.plan.ID)
		if findItem(list, "Milk", "l") != nil {
			t.Errorf("Expected manual item to be removed")
		}
		if err := f.agg.SetChecked(ctx, "alice", f.plan.ID, "missing", true); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}

func TestEmptyPlan(t *testing.T) {
	f := setup(t)
	list, err := f.agg.ShoppingList(context.Background(), "alice", f.plan.ID)
	if err != nil {
		t.Fatalf("ShoppingList failed: %v", err)
	}
	if len(list.Items) != 0 || list.GeneratedVersion != 0 {
		t.Errorf("Expected empty list at version 0, got %+v", list)
	}
}
