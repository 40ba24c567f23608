package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"meal-planner/internal/app"
	"meal-planner/internal/config"
	"meal-planner/internal/logger"
	"meal-planner/internal/recipe"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	err = run(ctx, application, cfg.UserID, os.Args[1], os.Args[2:])
	application.Close()
	lg.Sync()
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func run(ctx context.Context, a *app.App, userID, cmd string, args []string) error {
	out := os.Stdout

	switch cmd {
	case "plan":
		fs := flag.NewFlagSet("plan", flag.ExitOnError)
		start := fs.String("start", "", "First day of the plan (YYYY-MM-DD)")
		end := fs.String("end", "", "Last day of the plan (YYYY-MM-DD)")
		fs.Parse(args)

		if *start == "" {
			plans, err := a.Plans(ctx, userID)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Fprintln(out, "No plans yet.")
			}
			for i := range plans {
				app.WritePlan(out, &plans[i])
			}
			return nil
		}
		if *end == "" {
			*end = *start
		}
		plan, err := a.CreatePlan(ctx, userID, *start, *end)
		if err != nil {
			return err
		}
		app.WritePlan(out, plan)

	case "add-meal":
		fs := flag.NewFlagSet("add-meal", flag.ExitOnError)
		planID := fs.String("plan", "", "Plan ID")
		date := fs.String("date", "", "Date of the meal (YYYY-MM-DD)")
		mealType := fs.String("type", "dinner", "breakfast, lunch or dinner")
		recipeID := fs.String("recipe", "", "Catalog recipe ID")
		fs.Parse(args)

		meal, err := a.AddMeal(ctx, userID, *planID, *date, *mealType, *recipeID)
		if err != nil {
			return err
		}
		app.WriteMeal(out, meal)

	case "meals":
		fs := flag.NewFlagSet("meals", flag.ExitOnError)
		start := fs.String("start", "", "First day (YYYY-MM-DD)")
		end := fs.String("end", "", "Last day (YYYY-MM-DD), defaults to start")
		fs.Parse(args)

		meals, err := a.Meals(ctx, userID, *start, *end)
		if err != nil {
			return err
		}
		app.WriteMeals(out, meals)

	case "swap":
		fs := flag.NewFlagSet("swap", flag.ExitOnError)
		mealID := fs.String("meal", "", "Meal ID")
		recipeID := fs.String("recipe", "", "New catalog recipe ID")
		fs.Parse(args)

		meal, err := a.SwapMeal(ctx, userID, *mealID, *recipeID)
		if err != nil {
			return err
		}
		app.WriteMeal(out, meal)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		planID := fs.String("plan", "", "Plan ID")
		regenerate := fs.Bool("regenerate", false, "Rebuild the list even if the plan has not changed")
		fs.Parse(args)

		list, err := a.ShoppingList(ctx, userID, *planID, *regenerate)
		if err != nil {
			return err
		}
		app.WriteShoppingList(out, list)

	case "check", "uncheck":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		planID := fs.String("plan", "", "Plan ID")
		itemID := fs.String("item", "", "Shopping list item ID")
		fs.Parse(args)

		if err := a.CheckItem(ctx, userID, *planID, *itemID, cmd == "check"); err != nil {
			return err
		}
		fmt.Fprintf(out, "Item %s %sed.\n", *itemID, cmd)

	case "add-item":
		fs := flag.NewFlagSet("add-item", flag.ExitOnError)
		planID := fs.String("plan", "", "Plan ID")
		qty := fs.Float64("qty", 0, "Quantity")
		unit := fs.String("unit", "", "Unit")
		fs.Parse(args)

		name := strings.Join(fs.Args(), " ")
		item, err := a.AddItem(ctx, userID, *planID, name, *qty, *unit)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %s to %s  [%s]\n", item.Name, item.Category, item.ID)

	case "remove-item":
		fs := flag.NewFlagSet("remove-item", flag.ExitOnError)
		planID := fs.String("plan", "", "Plan ID")
		itemID := fs.String("item", "", "Manual item ID")
		fs.Parse(args)

		if err := a.RemoveItem(ctx, userID, *planID, *itemID); err != nil {
			return err
		}
		fmt.Fprintf(out, "Item %s removed.\n", *itemID)

	case "search", "ingest":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		tags := fs.String("tags", "", "Comma separated tags every result must carry")
		maxMinutes := fs.Int("max-minutes", 0, "Maximum prep plus cook time")
		limit := fs.Int("limit", 0, "Maximum number of results")
		fs.Parse(args)

		query := strings.Join(fs.Args(), " ")
		filters := recipe.Filters{Tags: splitTags(*tags), MaxTotalMinutes: *maxMinutes, Limit: *limit}
		if cmd == "ingest" {
			n, err := a.Ingest(ctx, query, filters)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Stored %d recipes.\n", n)
			return nil
		}
		res, err := a.Search(ctx, query, filters)
		if err != nil {
			return err
		}
		app.WriteSummaries(out, res.Summaries, res.Stale)

	case "recipe":
		fs := flag.NewFlagSet("recipe", flag.ExitOnError)
		refresh := fs.Bool("refresh", false, "Drop the cached copy first")
		fs.Parse(args)

		if fs.NArg() != 1 {
			return fmt.Errorf("expected one recipe ID")
		}
		res, err := a.Recipe(ctx, fs.Arg(0), *refresh)
		if err != nil {
			return err
		}
		app.WriteRecipe(out, res.Recipe, res.Stale)

	case "usage":
		fs := flag.NewFlagSet("usage", flag.ExitOnError)
		days := fs.Int("days", 7, "Number of days to report")
		fs.Parse(args)

		u, err := a.Usage(ctx, *days)
		if err != nil {
			return err
		}
		app.WriteUsage(out, u)

	case "metrics-cleanup":
		fs := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := fs.Int("days", 30, "Keep records for the last N days")
		fs.Parse(args)

		affected, err := a.CleanupMetrics(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Successfully removed %d old catalog call records.\n", affected)

	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func printUsage() {
	fmt.Println("Usage: meal-planner <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  plan [-start D -end D]          Create a plan, or list plans without -start")
	fmt.Println("  add-meal -plan P -date D -type T -recipe R")
	fmt.Println("                                  Add a recipe to a plan")
	fmt.Println("  meals -start D [-end D]         Show meals in a date range")
	fmt.Println("  swap -meal M -recipe R          Replace the recipe of a meal")
	fmt.Println("  list -plan P [-regenerate]      Show the shopping list of a plan")
	fmt.Println("  check|uncheck -plan P -item I   Tick or untick a shopping list item")
	fmt.Println("  add-item -plan P [-qty N -unit U] NAME")
	fmt.Println("                                  Add a manual shopping list item")
	fmt.Println("  remove-item -plan P -item I     Remove a manual shopping list item")
	fmt.Println("  search [-tags a,b -max-minutes N -limit N] QUERY")
	fmt.Println("                                  Search the recipe catalog")
	fmt.Println("  ingest [search flags] QUERY     Store every recipe a search returns")
	fmt.Println("  recipe [-refresh] ID            Show one recipe")
	fmt.Println("  usage [-days N]                 Catalog usage and system health")
	fmt.Println("  metrics-cleanup [-days N]       Remove old catalog call records")
}
