package app

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
	"meal-planner/internal/shopping"
)

// WritePlan prints a plan header.
func WritePlan(w io.Writer, p *planner.MealPlan) {
	fmt.Fprintf(w, "Plan %s  %s .. %s  (version %d)\n", p.ID, p.StartDate.Format(planner.DateLayout), p.EndDate.Format(planner.DateLayout), p.Version)
}

// WriteMeals prints meals grouped by date in the order given.
func WriteMeals(w io.Writer, meals []planner.MealWithRecipe) {
	if len(meals) == 0 {
		fmt.Fprintln(w, "No meals planned.")
		return
	}
	var day string
	for _, m := range meals {
		if d := m.Date.Format(planner.DateLayout); d != day {
			if day != "" {
				fmt.Fprintln(w)
			}
			day = d
			fmt.Fprintf(w, "%s (%s)\n", d, m.Date.Weekday())
		}
		fmt.Fprintf(w, "  %-9s %s  [%s]\n", m.MealType, mealTitle(m), m.ID)
	}
}

// WriteMeal prints a single meal line.
func WriteMeal(w io.Writer, m *planner.MealWithRecipe) {
	fmt.Fprintf(w, "%s %s: %s  [%s]\n", m.Date.Format(planner.DateLayout), m.MealType, mealTitle(*m), m.ID)
}

func mealTitle(m planner.MealWithRecipe) string {
	switch {
	case m.Recipe == nil:
		return fmt.Sprintf("recipe %s (unavailable)", m.RecipeID)
	case m.Stale:
		return m.Recipe.Name + " (stale)"
	default:
		return m.Recipe.Name
	}
}

// WriteShoppingList prints the list grouped by category.
func WriteShoppingList(w io.Writer, list *shopping.ShoppingList) {
	fmt.Fprintf(w, "Shopping list for plan %s (plan version %d)\n", list.MealPlanID, list.GeneratedVersion)
	if list.Stale {
		fmt.Fprintln(w, "Some recipes could not be refreshed; quantities may be out of date.")
	}
	if len(list.MissingRecipes) > 0 {
		fmt.Fprintf(w, "Missing recipes: %s\n", strings.Join(list.MissingRecipes, ", "))
	}
	if len(list.Items) == 0 {
		fmt.Fprintln(w, "Nothing to buy.")
		return
	}

	var cat shopping.Category
	for _, item := range list.Items {
		if item.Category != cat {
			cat = item.Category
			fmt.Fprintf(w, "\n%s\n", strings.ToUpper(string(cat)))
		}
		box := "[ ]"
		if item.Checked {
			box = "[x]"
		}
		line := fmt.Sprintf("  %s %s", box, formatQuantity(item.Quantity, item.Unit, item.Name))
		if item.Manual {
			line += " (manual)"
		}
		fmt.Fprintf(w, "%s  [%s]\n", line, item.ID)
	}
}

// WriteSummaries prints search results.
func WriteSummaries(w io.Writer, summaries []recipe.Summary, stale bool) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No recipes found.")
		return
	}
	if stale {
		fmt.Fprintln(w, "Catalog unavailable, showing saved results.")
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %s", s.ID, s.Name)
		if s.TotalMinutes > 0 {
			fmt.Fprintf(w, " (%d min)", s.TotalMinutes)
		}
		if len(s.Tags) > 0 {
			fmt.Fprintf(w, " #%s", strings.Join(s.Tags, " #"))
		}
		fmt.Fprintln(w)
	}
}

// WriteRecipe prints a full recipe.
func WriteRecipe(w io.Writer, r recipe.Recipe, stale bool) {
	fmt.Fprintf(w, "%s  [%s]\n", r.Name, r.ID)
	if stale {
		fmt.Fprintf(w, "(stale copy fetched %s)\n", r.FetchedAt.Format("2006-01-02 15:04"))
	}
	if r.Description != "" {
		fmt.Fprintln(w, r.Description)
	}
	fmt.Fprintf(w, "Prep %d min | Cook %d min | Serves %d\n", r.PrepMinutes, r.CookMinutes, r.Servings)

	fmt.Fprintln(w, "\nIngredients")
	for _, ing := range r.Ingredients {
		fmt.Fprintf(w, "  - %s\n", formatQuantity(ing.Quantity, ing.Unit, ing.Name))
	}
	fmt.Fprintln(w, "\nInstructions")
	for i, step := range r.Instructions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, step)
	}
	if n := r.Nutrition; n != nil {
		fmt.Fprintf(w, "\nNutrition: %d kcal, %.0fg protein, %.0fg carbs, %.0fg fat\n", n.Calories, n.ProteinG, n.CarbsG, n.FatG)
	}
}

// WriteUsage prints catalog usage and system health.
func WriteUsage(w io.Writer, u *Usage) {
	fmt.Fprintf(w, "Catalog budget: %d of %d calls left", u.BudgetRemaining, u.BudgetLimit)
	if !u.BudgetResetsAt.IsZero() {
		fmt.Fprintf(w, ", resets %s", u.BudgetResetsAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Recipes stored locally: %d\n", u.StoredRecipes)

	fmt.Fprintln(w, "\nCatalog calls")
	if len(u.Days) == 0 {
		fmt.Fprintln(w, "  no data yet")
	}
	for _, d := range u.Days {
		fmt.Fprintf(w, "  %s: %d calls, %d failed, avg %dms\n", d.Date, d.Calls, d.Failures, d.AvgLatencyMS)
	}

	h := u.Health
	fmt.Fprintln(w, "\nSystem")
	fmt.Fprintf(w, "  RAM: %dMB (heap) / %dMB (sys)\n", h.HeapMB, h.SysMB)
	fmt.Fprintf(w, "  Goroutines: %d\n", h.Goroutines)
	fmt.Fprintf(w, "  Data on disk: %s\n", h.DataDiskSize)
}

// formatQuantity renders "2 cup rice", "3 egg" or just "salt".
func formatQuantity(qty float64, unit, name string) string {
	if qty == 0 {
		return name
	}
	parts := []string{strconv.FormatFloat(qty, 'f', -1, 64)}
	if unit != "" {
		parts = append(parts, unit)
	}
	return strings.Join(append(parts, name), " ")
}
