package telegram

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"meal-planner/internal/app"
	"meal-planner/internal/catalog"
	"meal-planner/internal/metrics"
	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
	"meal-planner/internal/resolver"
	"meal-planner/internal/shopping"
)

type mockService struct {
	calls  []string
	meals  []planner.MealWithRecipe
	list   *shopping.ShoppingList
	search []recipe.Summary
	err    error
}

func (m *mockService) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *mockService) CreatePlan(ctx context.Context, userID, start, end string) (*planner.MealPlan, error) {
	m.record("CreatePlan %s %s %s", userID, start, end)
	if m.err != nil {
		return nil, m.err
	}
	s, _ := planner.ParseDate(start)
	e, _ := planner.ParseDate(end)
	return &planner.MealPlan{ID: "p1", UserID: userID, StartDate: s, EndDate: e}, nil
}

func (m *mockService) Plans(ctx context.Context, userID string) ([]planner.MealPlan, error) {
	m.record("Plans %s", userID)
	return nil, m.err
}

func (m *mockService) AddMeal(ctx context.Context, userID, planID, date, mealType, recipeID string) (*planner.MealWithRecipe, error) {
	m.record("AddMeal %s %s %s %s %s", userID, planID, date, mealType, recipeID)
	if m.err != nil {
		return nil, m.err
	}
	d, _ := planner.ParseDate(date)
	return &planner.MealWithRecipe{
		Meal:   planner.Meal{ID: "m1", MealPlanID: planID, RecipeID: recipeID, MealType: planner.MealType(mealType), Date: d},
		Recipe: &recipe.Recipe{ID: recipeID, Name: "Rice_Bowl", PrepMinutes: 5, CookMinutes: 20},
	}, nil
}

func (m *mockService) Meals(ctx context.Context, userID, start, end string) ([]planner.MealWithRecipe, error) {
	m.record("Meals %s %s %s", userID, start, end)
	return m.meals, m.err
}

func (m *mockService) SwapMeal(ctx context.Context, userID, mealID, recipeID string) (*planner.MealWithRecipe, error) {
	m.record("SwapMeal %s %s %s", userID, mealID, recipeID)
	if m.err != nil {
		return nil, m.err
	}
	return &planner.MealWithRecipe{Meal: planner.Meal{ID: mealID, RecipeID: recipeID, MealType: planner.Dinner}}, nil
}

func (m *mockService) ShoppingList(ctx context.Context, userID, planID string, regenerate bool) (*shopping.ShoppingList, error) {
	m.record("ShoppingList %s %s %v", userID, planID, regenerate)
	if m.err != nil {
		return nil, m.err
	}
	return m.list, nil
}

func (m *mockService) CheckItem(ctx context.Context, userID, planID, itemID string, checked bool) error {
	m.record("CheckItem %s %s %s %v", userID, planID, itemID, checked)
	return m.err
}

func (m *mockService) Search(ctx context.Context, query string, filters recipe.Filters) (resolver.SearchResult, error) {
	m.record("Search %s", query)
	return resolver.SearchResult{Summaries: m.search}, m.err
}

func (m *mockService) Usage(ctx context.Context, days int) (*app.Usage, error) {
	m.record("Usage %d", days)
	return &app.Usage{
		Days:            []metrics.DailyUsage{{Date: "2026-10-15", Calls: 4, Failures: 1, AvgLatencyMS: 120}},
		BudgetLimit:     150,
		BudgetRemaining: 146,
	}, m.err
}

func newTestBot(svc Service) *Bot {
	b := newBot(nil, svc, []int64{42}, nil)
	b.now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	return b
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatePlanSingleDay", func(t *testing.T) {
		svc := &mockService{}
		r := newTestBot(svc).handleCommand(ctx, "42", "/plan 2026-10-19")
		if len(svc.calls) != 1 || svc.calls[0] != "CreatePlan 42 2026-10-19 2026-10-19" {
			t.Errorf("Unexpected calls %v", svc.calls)
		}
		if !strings.Contains(r.text, "`p1`") {
			t.Errorf("Expected plan id in reply, got %q", r.text)
		}
	})

	t.Run("AddMealEscapesName", func(t *testing.T) {
		svc := &mockService{}
		r := newTestBot(svc).handleCommand(ctx, "42", "/add p1 2026-10-19 dinner r1")
		if svc.calls[0] != "AddMeal 42 p1 2026-10-19 dinner r1" {
			t.Errorf("Unexpected call %q", svc.calls[0])
		}
		if !strings.Contains(r.text, `Rice\_Bowl (25 min)`) {
			t.Errorf("Expected escaped recipe name, got %q", r.text)
		}
	})

	t.Run("AddMealUsage", func(t *testing.T) {
		svc := &mockService{}
		r := newTestBot(svc).handleCommand(ctx, "42", "/add p1")
		if len(svc.calls) != 0 {
			t.Errorf("Expected no service call, got %v", svc.calls)
		}
		if !strings.HasPrefix(r.text, "Usage:") {
			t.Errorf("Expected usage hint, got %q", r.text)
		}
	})

	t.Run("MealsDefaultsToNextWeek", func(t *testing.T) {
		svc := &mockService{}
		r := newTestBot(svc).handleCommand(ctx, "42", "/meals")
		if svc.calls[0] != "Meals 42 2026-10-15 2026-10-21" {
			t.Errorf("Unexpected call %q", svc.calls[0])
		}
		if !strings.Contains(r.text, "No meals planned") {
			t.Errorf("Unexpected reply %q", r.text)
		}
	})

	t.Run("ListHasRegenerateButton", func(t *testing.T) {
		svc := &mockService{list: &shopping.ShoppingList{MealPlanID: "p1", Items: []shopping.Item{
			{ID: "i1", Name: "rice", Quantity: 3, Unit: "cup", Category: shopping.Pantry},
		}}}
		r := newTestBot(svc).handleCommand(ctx, "42", "/list p1")
		if !strings.Contains(r.text, "☐ 3 cup rice `i1`") {
			t.Errorf("Unexpected reply %q", r.text)
		}
		if r.keyboard == nil {
			t.Fatal("Expected an inline keyboard")
		}
		data := r.keyboard.InlineKeyboard[0][0].CallbackData
		if data == nil || *data != "regen|p1" {
			t.Errorf("Unexpected callback data %v", data)
		}
	})

	t.Run("CheckShowsList", func(t *testing.T) {
		svc := &mockService{list: &shopping.ShoppingList{MealPlanID: "p1"}}
		newTestBot(svc).handleCommand(ctx, "42", "/check p1 i1")
		if len(svc.calls) != 2 || svc.calls[0] != "CheckItem 42 p1 i1 true" || svc.calls[1] != "ShoppingList 42 p1 false" {
			t.Errorf("Unexpected calls %v", svc.calls)
		}
	})

	t.Run("BotMention", func(t *testing.T) {
		svc := &mockService{}
		newTestBot(svc).handleCommand(ctx, "42", "/usage@meal_bot")
		if len(svc.calls) != 1 || svc.calls[0] != "Usage 7" {
			t.Errorf("Unexpected calls %v", svc.calls)
		}
	})

	t.Run("UnknownCommandShowsHelp", func(t *testing.T) {
		r := newTestBot(&mockService{}).handleCommand(ctx, "42", "hello")
		if r.text != helpText {
			t.Errorf("Expected help text, got %q", r.text)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	svc := &mockService{list: &shopping.ShoppingList{MealPlanID: "p1"}}
	newTestBot(svc).handleCallback(context.Background(), "42", "regen|p1")
	if len(svc.calls) != 1 || svc.calls[0] != "ShoppingList 42 p1 true" {
		t.Errorf("Unexpected calls %v", svc.calls)
	}
}

func TestErrorReply(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"Forbidden", fmt.Errorf("%w: meal plan p1", planner.ErrForbidden), "another user"},
		{"NotFound", shopping.ErrNotFound, "Not found"},
		{"Budget", fmt.Errorf("%w: r1: %w", planner.ErrRecipeUnavailable, catalog.ErrBudgetExhausted), "budget"},
		{"Unavailable", fmt.Errorf("%w: r1: %w", planner.ErrRecipeUnavailable, resolver.ErrNotFound), "could not be loaded"},
		{"Superseded", planner.ErrSuperseded, "Another swap"},
		{"Other", fmt.Errorf("disk `full`"), "disk 'full'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{err: tt.err}
			r := newTestBot(svc).handleCommand(context.Background(), "42", "/swap m1 r2")
			if !strings.Contains(r.text, tt.want) {
				t.Errorf("Expected reply to contain %q, got %q", tt.want, r.text)
			}
		})
	}
}

func TestFormatShoppingListMarkdown(t *testing.T) {
	list := &shopping.ShoppingList{
		Items: []shopping.Item{
			{ID: "i1", Name: "onion", Quantity: 2, Category: shopping.Produce, Checked: true},
			{ID: "i2", Name: "salt", Category: shopping.Pantry},
			{ID: "i3", Name: "candles", Quantity: 4, Category: shopping.Other, Manual: true},
		},
		Stale:          true,
		MissingRecipes: []string{"r9"},
	}

	out := formatShoppingListMarkdown(list)

	for _, want := range []string{
		"🛒 *Shopping List*",
		"*PRODUCE*\n☑ 2 onion `i1`",
		"☐ salt `i2`",
		"☐ 4 candles ✍️ `i3`",
		"out-of-date",
		"1 recipe(s) could not be loaded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestFormatUsageMarkdown(t *testing.T) {
	out := formatUsageMarkdown(&app.Usage{
		Days:            []metrics.DailyUsage{{Date: "2026-10-15", Calls: 4, Failures: 1, AvgLatencyMS: 120}},
		BudgetLimit:     150,
		BudgetRemaining: 146,
		Health:          metrics.SysHealth{HeapMB: 3, SysMB: 10, Goroutines: 7, DataDiskSize: "1.2 MB"},
	})

	for _, want := range []string{"146 / 150 left", "*2026-10-15*: 4 calls (1 failed, avg 120ms)", "Goroutines: 7", "Disk Data: 1.2 MB"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}
