package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"meal-planner/internal/cache"
	"meal-planner/internal/catalog"
	"meal-planner/internal/config"
	"meal-planner/internal/logger"
	"meal-planner/internal/recipe"
)

var (
	// ErrNotFound means the catalog confirmed the recipe does not exist.
	ErrNotFound = errors.New("recipe not found")
	// ErrUnavailable means no copy of the recipe could be obtained. The
	// underlying catalog error stays in the chain, so catalog.ErrBudgetExhausted
	// can still be told apart.
	ErrUnavailable = errors.New("recipe unavailable")
)

// Store is the durable recipe storage the resolver falls back to.
type Store interface {
	Get(ctx context.Context, id string) (*recipe.Recipe, error)
	Upsert(ctx context.Context, rec recipe.Recipe) error
	GetSearch(ctx context.Context, fingerprint string) (*recipe.SearchRecord, error)
	SaveSearch(ctx context.Context, rec recipe.SearchRecord) error
}

// Result is a resolved recipe. Stale is set when the catalog could not be
// reached and an out-of-date stored copy was returned instead.
type Result struct {
	Recipe recipe.Recipe
	Stale  bool
}

// SearchResult is a resolved search. Stale has the same meaning as in Result.
type SearchResult struct {
	Summaries []recipe.Summary
	Stale     bool
}

// Resolution is the per-id outcome of ResolveMany.
type Resolution struct {
	Result
	Err error
}

// Options tunes cache lifetimes and the staleness bound.
type Options struct {
	RecipeTTL      time.Duration
	NegativeTTL    time.Duration
	SearchTTL      time.Duration
	StaleAfter     time.Duration
	FetchTimeout   time.Duration
	MaxConcurrency int
	Logger         *logger.Logger
	Now            func() time.Time
}

// OptionsFromConfig maps application configuration onto resolver options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RecipeTTL:    cfg.RecipeTTL,
		NegativeTTL:  cfg.NegativeTTL,
		SearchTTL:    cfg.SearchTTL,
		StaleAfter:   cfg.StaleAfter,
		FetchTimeout: time.Duration(cfg.CatalogAttempts+1) * cfg.CatalogTimeout,
	}
}

// Resolver reads recipes through the cache, then the store, then the
// catalog. Concurrent misses on one key share a single lookup.
type Resolver struct {
	cache   cache.Cache
	store   Store
	catalog catalog.Client
	group   singleflight.Group
	opts    Options
	log     *logger.Logger
	now     func() time.Time
}

// New creates a Resolver. Zero options fall back to 1h recipe TTL, 5m
// negative TTL, 15m search TTL and a 7 day staleness bound.
func New(c cache.Cache, store Store, client catalog.Client, opts Options) *Resolver {
	if opts.RecipeTTL <= 0 {
		opts.RecipeTTL = time.Hour
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 5 * time.Minute
	}
	if opts.SearchTTL <= 0 {
		opts.SearchTTL = 15 * time.Minute
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 7 * 24 * time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Minute
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Resolver{
		cache:   c,
		store:   store,
		catalog: client,
		opts:    opts,
		log:     opts.Logger.With("component", "resolver"),
		now:     opts.Now,
	}
}

// Resolve returns the recipe with the given catalog id.
func (r *Resolver) Resolve(ctx context.Context, id string) (Result, error) {
	key := cache.RecipeKey(id)
	if res, ok, err := r.fromCache(ctx, key); ok {
		return res, err
	}

	v, err := r.shared(ctx, key, func(fctx context.Context) (any, error) {
		// A flight that finished just before this one started has already
		// filled the cache.
		if res, ok, err := r.fromCache(fctx, key); ok {
			return res, err
		}
		return r.resolveMiss(fctx, id)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// fromCache reports ok when the cache settles the lookup, either with a
// recipe or with ErrNotFound from a negative entry.
func (r *Resolver) fromCache(ctx context.Context, key string) (Result, bool, error) {
	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("cache read failed", "cache_key", key, "error", err)
		return Result{}, false, nil
	}
	if !ok {
		r.log.Debug("cache miss", "cache_key", key)
		return Result{}, false, nil
	}
	if entry.Negative {
		r.log.Debug("negative cache hit", "cache_key", key)
		return Result{}, true, ErrNotFound
	}
	if entry.Recipe == nil {
		return Result{}, false, nil
	}
	r.log.Debug("cache hit", "cache_key", key)
	return Result{Recipe: *entry.Recipe}, true, nil
}

func (r *Resolver) resolveMiss(ctx context.Context, id string) (Result, error) {
	key := cache.RecipeKey(id)

	stored, err := r.store.Get(ctx, id)
	if err != nil {
		r.log.Error("store read failed", "recipe_id", id, "error", err)
		stored = nil
	}
	if stored != nil && r.now().Sub(stored.FetchedAt) <= r.opts.StaleAfter {
		r.setCache(ctx, key, cache.Entry{Recipe: stored}, r.opts.RecipeTTL)
		return Result{Recipe: *stored}, nil
	}

	fetched, err := r.catalog.Fetch(ctx, id)
	switch {
	case err == nil:
		if err := r.store.Upsert(ctx, fetched); err != nil {
			r.log.Error("failed to persist fetched recipe", "recipe_id", id, "error", err)
		}
		r.setCache(ctx, key, cache.Entry{Recipe: &fetched}, r.opts.RecipeTTL)
		return Result{Recipe: fetched}, nil
	case errors.Is(err, catalog.ErrNotFound):
		r.setCache(ctx, key, cache.Entry{Negative: true}, r.opts.NegativeTTL)
		return Result{}, ErrNotFound
	case stored != nil:
		r.log.Warn("catalog unavailable, serving stale recipe", "recipe_id", id, "fetched_at", stored.FetchedAt, "error", err)
		return Result{Recipe: *stored, Stale: true}, nil
	default:
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}

// Search returns recipe summaries matching query and filters. Results are
// keyed by recipe.Fingerprint, so equivalent queries share cache entries.
func (r *Resolver) Search(ctx context.Context, query string, filters recipe.Filters) (SearchResult, error) {
	fp := recipe.Fingerprint(query, filters)
	key := cache.SearchKey(fp)

	if res, ok := r.searchFromCache(ctx, key); ok {
		return res, nil
	}

	v, err := r.shared(ctx, key, func(fctx context.Context) (any, error) {
		if res, ok := r.searchFromCache(fctx, key); ok {
			return res, nil
		}
		return r.searchMiss(fctx, fp, query, filters)
	})
	if err != nil {
		return SearchResult{}, err
	}
	return v.(SearchResult), nil
}

func (r *Resolver) searchFromCache(ctx context.Context, key string) (SearchResult, bool) {
	entry, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("cache read failed", "cache_key", key, "error", err)
		return SearchResult{}, false
	}
	if !ok {
		return SearchResult{}, false
	}
	return SearchResult{Summaries: entry.Summaries}, true
}

func (r *Resolver) searchMiss(ctx context.Context, fp, query string, filters recipe.Filters) (SearchResult, error) {
	key := cache.SearchKey(fp)

	stored, err := r.store.GetSearch(ctx, fp)
	if err != nil {
		r.log.Error("store search read failed", "fingerprint", fp, "error", err)
		stored = nil
	}
	if stored != nil {
		if age := r.now().Sub(stored.FetchedAt); age < r.opts.SearchTTL {
			r.setCache(ctx, key, cache.Entry{Summaries: stored.Results}, r.opts.SearchTTL-age)
			return SearchResult{Summaries: stored.Results}, nil
		}
	}

	summaries, err := r.catalog.Search(ctx, query, filters)
	if err != nil {
		if stored != nil {
			r.log.Warn("catalog unavailable, serving stale search", "fingerprint", fp, "error", err)
			return SearchResult{Summaries: stored.Results, Stale: true}, nil
		}
		return SearchResult{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	rec := recipe.SearchRecord{Fingerprint: fp, Results: summaries, FetchedAt: r.now().UTC()}
	if err := r.store.SaveSearch(ctx, rec); err != nil {
		r.log.Error("failed to persist search results", "fingerprint", fp, "error", err)
	}
	r.setCache(ctx, key, cache.Entry{Summaries: summaries}, r.opts.SearchTTL)
	return SearchResult{Summaries: summaries}, nil
}

// ResolveMany resolves each distinct id once, a few at a time. Per-id
// failures are reported in the map; the error is only set when ctx ends.
func (r *Resolver) ResolveMany(ctx context.Context, ids []string) (map[string]Resolution, error) {
	out := make(map[string]Resolution, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrency)

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		g.Go(func() error {
			res, err := r.Resolve(gctx, id)
			mu.Lock()
			out[id] = Resolution{Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops any cached entry for id, positive or negative.
func (r *Resolver) Invalidate(ctx context.Context, id string) error {
	if err := r.cache.Delete(ctx, cache.RecipeKey(id)); err != nil {
		return fmt.Errorf("failed to invalidate recipe %s: %w", id, err)
	}
	return nil
}

// shared runs fn at most once per key at a time. The shared work is detached
// from the first caller's cancellation and bounded by FetchTimeout instead,
// so a caller that gives up neither aborts the lookup for other waiters nor
// leaves the key stuck.
func (r *Resolver) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := r.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FetchTimeout)
		defer cancel()
		return fn(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.log.Debug("joined in-flight lookup", "cache_key", key)
		}
		return res.Val, res.Err
	}
}

func (r *Resolver) setCache(ctx context.Context, key string, entry cache.Entry, ttl time.Duration) {
	if err := r.cache.Set(ctx, key, entry, ttl); err != nil {
		r.log.Warn("cache write failed", "cache_key", key, "error", err)
	}
}
