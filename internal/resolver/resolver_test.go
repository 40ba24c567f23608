package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meal-planner/internal/cache"
	"meal-planner/internal/catalog"
	"meal-planner/internal/recipe"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type mockCatalog struct {
	mu       sync.Mutex
	recipes  map[string]recipe.Recipe
	results  []recipe.Summary
	err      error
	fetches  int
	searches int
	started  chan struct{}
	release  chan struct{}
}

func newMockCatalog(recipes ...recipe.Recipe) *mockCatalog {
	m := &mockCatalog{recipes: make(map[string]recipe.Recipe)}
	for _, r := range recipes {
		m.recipes[r.ID] = r
	}
	return m
}

func (m *mockCatalog) Fetch(ctx context.Context, id string) (recipe.Recipe, error) {
	m.mu.Lock()
	m.fetches++
	started, release, err := m.started, m.release, m.err
	rec, ok := m.recipes[id]
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return recipe.Recipe{}, err
	}
	if !ok {
		return recipe.Recipe{}, catalog.ErrNotFound
	}
	return rec, nil
}

func (m *mockCatalog) Search(ctx context.Context, query string, filters recipe.Filters) ([]recipe.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches++
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func (m *mockCatalog) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockCatalog) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

type mockStore struct {
	mu       sync.Mutex
	recipes  map[string]recipe.Recipe
	searches map[string]recipe.SearchRecord
	reads    int
	upserts  int
}

func newMockStore() *mockStore {
	return &mockStore{recipes: make(map[string]recipe.Recipe), searches: make(map[string]recipe.SearchRecord)}
}

func (m *mockStore) Get(ctx context.Context, id string) (*recipe.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	rec, ok := m.recipes[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockStore) Upsert(ctx context.Context, rec recipe.Recipe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	m.recipes[rec.ID] = rec
	return nil
}

func (m *mockStore) GetSearch(ctx context.Context, fingerprint string) (*recipe.SearchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.searches[fingerprint]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockStore) SaveSearch(ctx context.Context, rec recipe.SearchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches[rec.Fingerprint] = rec
	return nil
}

func (m *mockStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func setup(cat *mockCatalog) (*Resolver, *mockStore, *fakeClock) {
	clock := &fakeClock{t: baseTime}
	store := newMockStore()
	r := New(cache.NewMemoryCache(clock.Now), store, cat, Options{Now: clock.Now})
	return r, store, clock
}

func riceBowl(fetchedAt time.Time) recipe.Recipe {
	return recipe.Recipe{
		ID:          "r1",
		Name:        "Rice Bowl",
		Ingredients: []recipe.Ingredient{{Name: "rice", Quantity: 2, Unit: "cup"}},
		FetchedAt:   fetchedAt,
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("CacheHitWithoutIO", func(t *testing.T) {
		cat := newMockCatalog(riceBowl(baseTime))
		r, store, clock := setup(cat)

		if _, err := r.Resolve(ctx, "r1"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		reads, fetches := store.readCount(), cat.fetchCount()

		clock.Advance(59 * time.Minute)
		res, err := r.Resolve(ctx, "r1")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if res.Recipe.Name != "Rice Bowl" || res.Stale {
			t.Errorf("Unexpected result %+v", res)
		}
		if store.readCount() != reads || cat.fetchCount() != fetches {
			t.Errorf("Expected no store or catalog I/O on cache hit")
		}
	})

	t.Run("FetchWritesThrough", func(t *testing.T) {
		cat := newMockCatalog(riceBowl(baseTime))
		r, store, _ := setup(cat)

		if _, err := r.Resolve(ctx, "r1"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if store.upserts != 1 {
			t.Errorf("Expected fetched recipe to be stored, got %d upserts", store.upserts)
		}
	})

	t.Run("FreshStoreCopy", func(t *testing.T) {
		cat := newMockCatalog()
		r, store, _ := setup(cat)
		store.recipes["r1"] = riceBowl(baseTime.Add(-6 * 24 * time.Hour))

		res, err := r.Resolve(ctx, "r1")
		if err != nil || res.Stale {
			t.Fatalf("Expected fresh stored copy, got %+v err=%v", res, err)
		}
		if cat.fetchCount() != 0 {
			t.Errorf("Expected no catalog call, got %d", cat.fetchCount())
		}

		reads := store.readCount()
		if _, err := r.Resolve(ctx, "r1"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if store.readCount() != reads {
			t.Errorf("Expected stored copy to be written back to the cache")
		}
	})

	t.Run("OldStoreCopyRefreshed", func(t *testing.T) {
		updated := riceBowl(baseTime)
		updated.Name = "Rice Bowl v2"
		cat := newMockCatalog(updated)
		r, store, _ := setup(cat)
		store.recipes["r1"] = riceBowl(baseTime.Add(-8 * 24 * time.Hour))

		res, err := r.Resolve(ctx, "r1")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if res.Stale || res.Recipe.Name != "Rice Bowl v2" {
			t.Errorf("Expected refreshed recipe, got %+v", res)
		}
		if store.recipes["r1"].Name != "Rice Bowl v2" {
			t.Errorf("Expected store to hold the refreshed recipe")
		}
	})

	t.Run("StaleFallback", func(t *testing.T) {
		cat := newMockCatalog()
		cat.setErr(catalog.ErrBudgetExhausted)
		r, store, _ := setup(cat)
		store.recipes["r1"] = riceBowl(baseTime.Add(-30 * 24 * time.Hour))

		res, err := r.Resolve(ctx, "r1")
		if err != nil {
			t.Fatalf("Expected stale fallback, got %v", err)
		}
		if !res.Stale || res.Recipe.Name != "Rice Bowl" {
			t.Errorf("Expected stale Rice Bowl, got %+v", res)
		}

		cat.setErr(nil)
		cat.recipes["r1"] = riceBowl(baseTime)
		res, err = r.Resolve(ctx, "r1")
		if err != nil || res.Stale {
			t.Errorf("Expected stale copy not to be cached, got %+v err=%v", res, err)
		}
	})

	t.Run("UnavailableWithoutFallback", func(t *testing.T) {
		cat := newMockCatalog()
		cat.setErr(catalog.ErrBudgetExhausted)
		r, _, _ := setup(cat)

		_, err := r.Resolve(ctx, "r1")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("Expected ErrUnavailable, got %v", err)
		}
		if !errors.Is(err, catalog.ErrBudgetExhausted) {
			t.Errorf("Expected budget exhaustion to remain visible, got %v", err)
		}
	})

	t.Run("NegativeCache", func(t *testing.T) {
		cat := newMockCatalog()
		r, _, clock := setup(cat)

		for i := 0; i < 3; i++ {
			if _, err := r.Resolve(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Expected ErrNotFound, got %v", err)
			}
		}
		if cat.fetchCount() != 1 {
			t.Errorf("Expected a single catalog call, got %d", cat.fetchCount())
		}

		clock.Advance(5 * time.Minute)
		_, _ = r.Resolve(ctx, "ghost")
		if cat.fetchCount() != 2 {
			t.Errorf("Expected negative entry to expire after 5 minutes, got %d calls", cat.fetchCount())
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		cat := newMockCatalog()
		r, _, _ := setup(cat)

		_, _ = r.Resolve(ctx, "r1")
		cat.mu.Lock()
		cat.recipes["r1"] = riceBowl(baseTime)
		cat.mu.Unlock()

		if err := r.Invalidate(ctx, "r1"); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if _, err := r.Resolve(ctx, "r1"); err != nil {
			t.Errorf("Expected recipe after invalidation, got %v", err)
		}
	})
}

func TestResolveStampede(t *testing.T) {
	cat := newMockCatalog(riceBowl(baseTime))
	cat.started = make(chan struct{}, 1)
	cat.release = make(chan struct{})
	r, _, _ := setup(cat)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), "r1")
			if err == nil && res.Recipe.Name != "Rice Bowl" {
				err = errors.New("unexpected recipe " + res.Recipe.Name)
			}
			errs <- err
		}()
	}

	<-cat.started
	close(cat.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Resolve failed: %v", err)
		}
	}
	if cat.fetchCount() != 1 {
		t.Errorf("Expected 1 catalog call for %d concurrent callers, got %d", callers, cat.fetchCount())
	}
}

func TestResolveCancellation(t *testing.T) {
	cat := newMockCatalog(riceBowl(baseTime))
	cat.started = make(chan struct{}, 1)
	cat.release = make(chan struct{})
	r, _, _ := setup(cat)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, "r1")
		done <- err
	}()

	<-cat.started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected canceled caller to return promptly")
	}

	close(cat.release)

	// The detached lookup still completes and fills the cache for later callers.
	res, err := r.Resolve(context.Background(), "r1")
	if err != nil || res.Recipe.Name != "Rice Bowl" {
		t.Fatalf("Resolve after cancellation failed: %+v err=%v", res, err)
	}
	if cat.fetchCount() != 1 {
		t.Errorf("Expected the canceled lookup's result to be reused, got %d catalog calls", cat.fetchCount())
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	cat := newMockCatalog()
	cat.results = []recipe.Summary{{ID: "r1", Name: "Rice Bowl"}}
	r, store, clock := setup(cat)

	res, err := r.Search(ctx, "Rice", recipe.Filters{Tags: []string{"Dinner"}})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Summaries) != 1 || res.Stale {
		t.Errorf("Unexpected search result %+v", res)
	}

	if _, err := r.Search(ctx, "  rice ", recipe.Filters{Tags: []string{"dinner"}}); err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if cat.searches != 1 {
		t.Errorf("Expected equivalent query to hit the cache, got %d catalog searches", cat.searches)
	}
	if len(store.searches) != 1 {
		t.Errorf("Expected search to be persisted, got %d records", len(store.searches))
	}

	clock.Advance(16 * time.Minute)
	cat.setErr(catalog.ErrUnavailable)
	res, err = r.Search(ctx, "rice", recipe.Filters{Tags: []string{"dinner"}})
	if err != nil {
		t.Fatalf("Expected stale search fallback, got %v", err)
	}
	if !res.Stale || len(res.Summaries) != 1 {
		t.Errorf("Expected stale results, got %+v", res)
	}
	if cat.searches != 2 {
		t.Errorf("Expected expired search to reach the catalog, got %d", cat.searches)
	}
}

func TestResolveMany(t *testing.T) {
	ctx := context.Background()
	other := riceBowl(baseTime)
	other.ID = "r2"
	cat := newMockCatalog(riceBowl(baseTime), other)
	r, _, _ := setup(cat)

	got, err := r.ResolveMany(ctx, []string{"r1", "r2", "r1", "missing", "r2"})
	if err != nil {
		t.Fatalf("ResolveMany failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 distinct ids, got %d", len(got))
	}
	if got["r1"].Err != nil || got["r2"].Recipe.ID != "r2" {
		t.Errorf("Unexpected resolutions %+v", got)
	}
	if !errors.Is(got["missing"].Err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing id, got %v", got["missing"].Err)
	}
	if cat.fetchCount() != 3 {
		t.Errorf("Expected one catalog call per distinct id, got %d", cat.fetchCount())
	}
}
