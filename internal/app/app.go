package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"meal-planner/internal/cache"
	"meal-planner/internal/catalog"
	"meal-planner/internal/config"
	"meal-planner/internal/database"
	"meal-planner/internal/logger"
	"meal-planner/internal/metrics"
	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
	"meal-planner/internal/resolver"
	"meal-planner/internal/shopping"
)

// App holds the application's dependencies.
type App struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	cache    cache.Cache
	redis    *cache.RedisCache
	catalog  *catalog.GhostClient
	metrics  *metrics.Store
	recipes  *recipe.Repository
	resolver *resolver.Resolver
	planner  *planner.Planner
	shopping *shopping.Aggregator
}

// New opens the database, picks a cache backend and wires the catalog,
// resolver, planner and shopping list aggregator together.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		db:      db,
		metrics: metrics.NewStore(db.SQL),
	}

	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info("using redis recipe cache", "addr", cfg.RedisAddr)
		a.redis = rc
		a.cache = rc
	} else {
		a.cache = cache.NewMemoryCache(nil)
	}

	catalogOpts := catalog.OptionsFromConfig(cfg)
	catalogOpts.Logger = log
	catalogOpts.Recorder = a.metrics
	a.catalog = catalog.NewGhostClient(catalogOpts)
	a.restoreBudget(ctx)

	resolverOpts := resolver.OptionsFromConfig(cfg)
	resolverOpts.Logger = log
	a.recipes = recipe.NewRepository(db.SQL)
	a.resolver = resolver.New(a.cache, a.recipes, a.catalog, resolverOpts)

	a.planner = planner.NewPlanner(planner.NewPlanRepository(db.SQL), a.resolver, log)
	a.shopping = shopping.NewAggregator(a.planner, shopping.NewRepository(db.SQL), log)

	return a, nil
}

// restoreBudget replays the logged catalog calls into the budget so the
// current window survives a restart. The whole log is read since window
// anchors depend on every earlier call.
func (a *App) restoreBudget(ctx context.Context) {
	calls, err := a.metrics.CallTimes(ctx, time.Time{})
	if err != nil {
		a.log.Warn("failed to restore catalog budget", "error", err)
		return
	}
	budget := a.catalog.Budget()
	budget.Replay(calls)
	a.log.Info("catalog budget restored", "logged_calls", len(calls), "remaining", budget.Remaining())
}

// Close releases the cache and database connections.
func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis cache", "error", err)
		}
	}
	return a.db.Close()
}

// CreatePlan returns the user's plan for the given dates, creating it on
// first use. Dates use the YYYY-MM-DD layout.
func (a *App) CreatePlan(ctx context.Context, userID, start, end string) (*planner.MealPlan, error) {
	s, e, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	return a.planner.CreatePlan(ctx, userID, s, e)
}

// Plans lists the user's plans.
func (a *App) Plans(ctx context.Context, userID string) ([]planner.MealPlan, error) {
	return a.planner.ListPlans(ctx, userID)
}

// AddMeal places a recipe in a plan.
func (a *App) AddMeal(ctx context.Context, userID, planID, date, mealType, recipeID string) (*planner.MealWithRecipe, error) {
	d, err := planner.ParseDate(date)
	if err != nil {
		return nil, err
	}
	return a.planner.AddMeal(ctx, userID, planID, d, planner.MealType(mealType), recipeID)
}

// Meals returns the user's meals dated within [start, end].
func (a *App) Meals(ctx context.Context, userID, start, end string) ([]planner.MealWithRecipe, error) {
	s, e, err := parseRange(start, end)
	if err != nil {
		return nil, err
	}
	return a.planner.GetMealsBetween(ctx, userID, s, e)
}

// SwapMeal points a meal at another recipe.
func (a *App) SwapMeal(ctx context.Context, userID, mealID, recipeID string) (*planner.MealWithRecipe, error) {
	return a.planner.SwapMeal(ctx, userID, mealID, recipeID)
}

// ShoppingList returns the plan's list, regenerating it when the plan has
// changed since it was built. With regenerate set it is always rebuilt.
func (a *App) ShoppingList(ctx context.Context, userID, planID string, regenerate bool) (*shopping.ShoppingList, error) {
	if regenerate {
		return a.shopping.Generate(ctx, userID, planID)
	}
	return a.shopping.ShoppingList(ctx, userID, planID)
}

// CheckItem ticks or unticks a shopping list item.
func (a *App) CheckItem(ctx context.Context, userID, planID, itemID string, checked bool) error {
	return a.shopping.SetChecked(ctx, userID, planID, itemID, checked)
}

// AddItem adds a manual item to a plan's shopping list.
func (a *App) AddItem(ctx context.Context, userID, planID, name string, quantity float64, unit string) (*shopping.Item, error) {
	return a.shopping.AddManualItem(ctx, userID, planID, name, quantity, unit)
}

// RemoveItem deletes a manual item from a plan's shopping list.
func (a *App) RemoveItem(ctx context.Context, userID, planID, itemID string) error {
	return a.shopping.RemoveManualItem(ctx, userID, planID, itemID)
}

// Search looks recipes up in the catalog.
func (a *App) Search(ctx context.Context, query string, filters recipe.Filters) (resolver.SearchResult, error) {
	return a.resolver.Search(ctx, query, filters)
}

// Recipe resolves one recipe. With refresh set the cached copy is dropped
// first.
func (a *App) Recipe(ctx context.Context, id string, refresh bool) (resolver.Result, error) {
	if refresh {
		if err := a.resolver.Invalidate(ctx, id); err != nil {
			return resolver.Result{}, err
		}
	}
	return a.resolver.Resolve(ctx, id)
}

// Ingest searches the catalog and resolves every hit so the recipes are
// stored locally. It returns how many recipes were stored.
func (a *App) Ingest(ctx context.Context, query string, filters recipe.Filters) (int, error) {
	found, err := a.resolver.Search(ctx, query, filters)
	if err != nil {
		return 0, fmt.Errorf("failed to search catalog: %w", err)
	}

	ids := make([]string, 0, len(found.Summaries))
	for _, s := range found.Summaries {
		ids = append(ids, s.ID)
	}
	resolved, err := a.resolver.ResolveMany(ctx, ids)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, id := range ids {
		if r := resolved[id]; r.Err != nil {
			a.log.Warn("failed to ingest recipe", "recipe_id", id, "error", r.Err)
			continue
		}
		stored++
	}
	a.log.Info("ingestion finished", "query", query, "found", len(ids), "stored", stored)
	return stored, nil
}

// Usage is a snapshot of catalog consumption and process health.
type Usage struct {
	Days            []metrics.DailyUsage
	BudgetLimit     int
	BudgetRemaining int
	BudgetResetsAt  time.Time
	StoredRecipes   int
	Health          metrics.SysHealth
}

// Usage reports catalog calls for the last days and the live budget.
func (a *App) Usage(ctx context.Context, days int) (*Usage, error) {
	daily, err := a.metrics.GetDailyUsage(ctx, days)
	if err != nil {
		return nil, err
	}
	stored, err := a.recipes.Count(ctx)
	if err != nil {
		return nil, err
	}
	budget := a.catalog.Budget()
	return &Usage{
		Days:            daily,
		BudgetLimit:     a.cfg.CatalogBudget,
		BudgetRemaining: budget.Remaining(),
		BudgetResetsAt:  budget.ResetsAt(),
		StoredRecipes:   stored,
		Health:          metrics.GetSysHealth(filepath.Dir(a.cfg.DatabasePath)),
	}, nil
}

// CleanupMetrics removes catalog call records older than days.
func (a *App) CleanupMetrics(ctx context.Context, days int) (int64, error) {
	return a.metrics.Cleanup(ctx, days)
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := planner.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end == "" {
		return s, s, nil
	}
	e, err := planner.ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return s, e, nil
}
