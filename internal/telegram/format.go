package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meal-planner/internal/app"
	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
	"meal-planner/internal/shopping"
)

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func formatPlansMarkdown(plans []planner.MealPlan) string {
	if len(plans) == 0 {
		return "🗓️ No plans yet. Create one with `/plan <start> <end>`."
	}
	var sb strings.Builder
	sb.WriteString("🗓️ *Meal Plans*\n\n")
	for _, p := range plans {
		sb.WriteString(fmt.Sprintf("*%s* → *%s*\n`%s`\n", p.StartDate.Format(planner.DateLayout), p.EndDate.Format(planner.DateLayout), p.ID))
	}
	return sb.String()
}

func formatMealLine(m planner.MealWithRecipe) string {
	title := "_recipe unavailable_"
	if m.Recipe != nil {
		title = escape(m.Recipe.Name)
		if t := m.Recipe.TotalMinutes(); t > 0 {
			title += fmt.Sprintf(" (%d min)", t)
		}
		if m.Stale {
			title += " ⚠️"
		}
	}
	return fmt.Sprintf("%s *%s*: %s\n`%s`\n", mealIcon(m.MealType), mealLabel(m.MealType), title, m.ID)
}

func mealLabel(t planner.MealType) string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

func mealIcon(t planner.MealType) string {
	switch t {
	case planner.Breakfast:
		return "🥣"
	case planner.Lunch:
		return "🥪"
	default:
		return "🍲"
	}
}

func formatMealsMarkdown(meals []planner.MealWithRecipe) string {
	if len(meals) == 0 {
		return "📅 No meals planned for these days."
	}
	var sb strings.Builder
	sb.WriteString("📅 *Meals*\n")
	var day string
	stale := false
	for _, m := range meals {
		if d := m.Date.Format(planner.DateLayout); d != day {
			day = d
			sb.WriteString(fmt.Sprintf("\n*%s %s*\n", m.Date.Weekday(), d))
		}
		sb.WriteString(formatMealLine(m))
		stale = stale || m.Stale
	}
	if stale {
		sb.WriteString("\n⚠️ _Some recipes could not be refreshed from the catalog._")
	}
	return sb.String()
}

func formatShoppingListMarkdown(list *shopping.ShoppingList) string {
	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n")

	var cat shopping.Category
	for _, item := range list.Items {
		if item.Category != cat {
			cat = item.Category
			sb.WriteString(fmt.Sprintf("\n*%s*\n", strings.ToUpper(string(cat))))
		}
		box := "☐"
		if item.Checked {
			box = "☑"
		}
		sb.WriteString(fmt.Sprintf("%s %s", box, escape(itemText(item))))
		if item.Manual {
			sb.WriteString(" ✍️")
		}
		sb.WriteString(fmt.Sprintf(" `%s`\n", item.ID))
	}
	if len(list.Items) == 0 {
		sb.WriteString("\n_Nothing to buy._\n")
	}

	if list.Stale {
		sb.WriteString("\n⚠️ _Some quantities come from out-of-date recipes._")
	}
	if n := len(list.MissingRecipes); n > 0 {
		sb.WriteString(fmt.Sprintf("\n❗ %d recipe(s) could not be loaded; their ingredients are missing.", n))
	}
	return sb.String()
}

func itemText(item shopping.Item) string {
	if item.Quantity == 0 {
		return item.Name
	}
	qty := strconv.FormatFloat(item.Quantity, 'f', -1, 64)
	if item.Unit == "" {
		return qty + " " + item.Name
	}
	return qty + " " + item.Unit + " " + item.Name
}

func formatSummariesMarkdown(summaries []recipe.Summary, stale bool) string {
	if len(summaries) == 0 {
		return "🔍 No recipes found."
	}
	var sb strings.Builder
	sb.WriteString("🔍 *Recipes*\n\n")
	for _, s := range summaries {
		sb.WriteString("• " + escape(s.Name))
		if s.TotalMinutes > 0 {
			sb.WriteString(fmt.Sprintf(" (%d min)", s.TotalMinutes))
		}
		sb.WriteString(fmt.Sprintf("\n`%s`\n", s.ID))
	}
	if stale {
		sb.WriteString("\n⚠️ _Catalog unavailable, showing saved results._")
	}
	return sb.String()
}

func formatUsageMarkdown(u *app.Usage) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString(fmt.Sprintf("📚 *Catalog budget:* %d / %d left\n", u.BudgetRemaining, u.BudgetLimit))
	sb.WriteString(fmt.Sprintf("🗄 *Recipes stored:* %d\n\n", u.StoredRecipes))

	sb.WriteString("🗓 *Recent Catalog Calls*\n")
	if len(u.Days) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range u.Days {
		sb.WriteString(fmt.Sprintf("• *%s*: %d calls (%d failed, avg %dms)\n", d.Date, d.Calls, d.Failures, d.AvgLatencyMS))
	}

	h := u.Health
	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Heap) / %dMB (Sys)\n", h.HeapMB, h.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", h.Goroutines))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", h.DataDiskSize))
	return sb.String()
}
